// Package wire implements the logline frame protocol: one ASCII header line,
// a JSON metadata block, and an optional raw payload.
//
// # Frame grammar
//
//	<command> <meta_len>\n               -- command with metadata only
//	<command> <meta_len> <data_len>\n    -- command with metadata and payload
//	<status>\n                           -- reply, no JSON body
//	<status> <reply_len>\n               -- reply, with JSON body
//
// Commands sent by the client: HeaderCommand (once), DataCommand (repeated).
// Reply statuses are exactly "ok" and "error"; any other token is a
// [errs.Protocol] error and fatal to the session.
//
// All sizes are decimal integers with no leading zeros, as spec.md §6
// requires; writeFrame never emits one, and readFrame rejects one on input.
package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/messa/logline/internal/errs"
)

const (
	// HeaderCommand is the literal command token for the agent's initial
	// handshake frame.
	HeaderCommand = "logline-agent-v1"
	// DataCommand is the literal command token for an appended-bytes frame.
	DataCommand = "data"

	// StatusOK and StatusError are the only two valid reply statuses.
	StatusOK    = "ok"
	StatusError = "error"
)

// maxLineLength is the longest header line readFrame accepts. A longer line
// is rejected as a protocol error, but only after it has been read in full up
// to its '\n'; the read itself is not bounded.
const maxLineLength = 4096

// maxMetaLength bounds the JSON metadata block. Metadata is small structured
// data (a path, a hostname, an offset) -- never the log payload itself.
const maxMetaLength = 1 << 20 // 1 MiB

// Frame is one decoded protocol frame: a command/status token, its raw JSON
// metadata, and any payload bytes.
type Frame struct {
	Token string // command or status token
	Meta  []byte // raw JSON metadata, possibly empty
	Data  []byte // raw payload, possibly empty
}

// WriteCommand writes a command frame (command + metadata + optional data)
// to w. meta is marshaled to JSON; data may be nil.
func WriteCommand(w io.Writer, command string, meta any, data []byte) error {
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("wire: marshal metadata: %w", err)
	}
	return writeFrame(w, command, metaBytes, data, true)
}

// WriteReply writes a reply frame (status + optional JSON body, no data
// length field) to w.
func WriteReply(w io.Writer, status string, body any) error {
	var metaBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("wire: marshal reply body: %w", err)
		}
		metaBytes = b
	}
	return writeFrame(w, status, metaBytes, nil, false)
}

func writeFrame(w io.Writer, token string, meta []byte, data []byte, withDataLen bool) error {
	var line string
	if withDataLen {
		line = fmt.Sprintf("%s %d %d\n", token, len(meta), len(data))
	} else if len(meta) > 0 {
		line = fmt.Sprintf("%s %d\n", token, len(meta))
	} else {
		line = token + "\n"
	}
	buf := make([]byte, 0, len(line)+len(meta)+len(data))
	buf = append(buf, line...)
	buf = append(buf, meta...)
	buf = append(buf, data...)
	_, err := w.Write(buf)
	if err != nil {
		return errs.New(errs.Transient, "write frame", err)
	}
	return nil
}

// ReadCommand reads one command frame (command + metadata + optional data)
// from r. It is used by the server, which always expects a data-length
// field on the header line.
func ReadCommand(r *bufio.Reader) (*Frame, error) {
	return readFrame(r, true)
}

// ReadReply reads one reply frame (status + optional JSON body, no data
// field) from r. It is used by the client.
func ReadReply(r *bufio.Reader) (*Frame, error) {
	return readFrame(r, false)
}

func readFrame(r *bufio.Reader, expectDataLen bool) (*Frame, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, errs.New(errs.Transient, "read header line", err)
	}
	if len(line) > maxLineLength {
		return nil, errs.New(errs.Protocol, "read header line", fmt.Errorf("line too long (%d bytes)", len(line)))
	}
	fields := strings.Fields(strings.TrimRight(line, "\n"))

	var token string
	var metaLen, dataLen int
	switch {
	case expectDataLen && len(fields) == 3:
		token = fields[0]
		metaLen, err = parseSize(fields[1])
		if err != nil {
			return nil, errs.New(errs.Protocol, "parse meta_len", err)
		}
		dataLen, err = parseSize(fields[2])
		if err != nil {
			return nil, errs.New(errs.Protocol, "parse data_len", err)
		}
	case !expectDataLen && len(fields) == 2:
		token = fields[0]
		metaLen, err = parseSize(fields[1])
		if err != nil {
			return nil, errs.New(errs.Protocol, "parse reply_len", err)
		}
	case !expectDataLen && len(fields) == 1:
		token = fields[0]
	default:
		return nil, errs.New(errs.Protocol, "parse header line", fmt.Errorf("malformed header line: %q", line))
	}

	if metaLen < 0 || metaLen > maxMetaLength {
		return nil, errs.New(errs.Protocol, "validate meta_len", fmt.Errorf("metadata length out of range: %d", metaLen))
	}
	if dataLen < 0 {
		return nil, errs.New(errs.Protocol, "validate data_len", fmt.Errorf("negative data length: %d", dataLen))
	}

	var meta []byte
	if metaLen > 0 {
		meta = make([]byte, metaLen)
		if _, err := io.ReadFull(r, meta); err != nil {
			return nil, errs.New(errs.Transient, "read metadata", err)
		}
	}

	var data []byte
	if dataLen > 0 {
		data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errs.New(errs.Transient, "read payload", err)
		}
	}

	return &Frame{Token: token, Meta: meta, Data: data}, nil
}

// parseSize parses a decimal non-negative integer with no leading zeros, as
// spec.md §6 requires ("All sizes are decimal integers with no leading
// zeros").
func parseSize(s string) (int, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty size field")
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, fmt.Errorf("size field has a leading zero: %q", s)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("size field is not a decimal integer: %q", s)
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return n, nil
}
