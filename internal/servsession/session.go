package servsession

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/messa/logline/internal/audit"
	"github.com/messa/logline/internal/auth"
	"github.com/messa/logline/internal/compress"
	"github.com/messa/logline/internal/destfile"
	"github.com/messa/logline/internal/errs"
	"github.com/messa/logline/internal/wire"
)

// Session handles one accepted connection from handshake to termination,
// implementing spec.md §4.6.
type Session struct {
	conn         net.Conn
	peerAddr     string
	destRoot     string
	verifier     *auth.Verifier
	frameTimeout time.Duration
	logger       *slog.Logger
	audit        *audit.Logger

	onDataFrame func(peerAddr, hostname, sourcePath, destPath string, offset int64, n int)
	onRotation  func(peerAddr, hostname, sourcePath, destPath string)

	file *destfile.File

	hostname   string
	sourcePath string
	destPath   string
}

// Run drives the session to completion. It returns the client-reported
// hostname and source path, the destination path it wrote to (all empty if
// the session never got that far), the number of bytes appended, whether
// opening the destination rotated a previous file aside, and any error, for
// the caller's observability hooks.
func (s *Session) Run(ctx context.Context) (hostname, sourcePath, destPath string, bytesWritten int64, rotated bool, err error) {
	defer func() {
		if s.file != nil {
			s.file.Close()
		}
	}()

	r := bufio.NewReader(s.conn)

	header, err := s.readHandshake(ctx, r)
	if err != nil {
		return "", "", "", 0, false, err
	}
	hostname, sourcePath = header.Hostname, header.Path
	s.hostname, s.sourcePath = hostname, sourcePath

	if err := s.authenticate(ctx, header); err != nil {
		return hostname, sourcePath, "", 0, false, err
	}

	destPath = destfile.Resolve(s.destRoot, header.Hostname, header.Path)
	s.destPath = destPath

	f, err := destfile.Open(s.destRoot, header.Hostname, header.Path, header.Prefix.Length, header.Prefix.SHA1, time.Now())
	if err != nil {
		s.replyError(ctx, "internal error resolving destination")
		return hostname, sourcePath, destPath, 0, false, errs.New(errs.Transient, "open destination", err)
	}
	s.file = f
	rotated = f.Rotated
	if rotated && s.onRotation != nil {
		s.onRotation(s.peerAddr, hostname, sourcePath, destPath)
	}

	if err := s.withDeadline(ctx, func() error {
		return wire.WriteReply(s.conn, wire.StatusOK, wire.LengthReply{Length: uint64(f.Length)})
	}); err != nil {
		return hostname, sourcePath, destPath, 0, rotated, errs.New(errs.Transient, "send length reply", err)
	}

	written, err := s.appendLoop(ctx, r)
	return hostname, sourcePath, destPath, written, rotated, err
}

// readHandshake implements spec.md §4.6 step 1.
func (s *Session) readHandshake(ctx context.Context, r *bufio.Reader) (wire.HeaderMeta, error) {
	var frame *wire.Frame
	err := s.withDeadline(ctx, func() error {
		var err error
		frame, err = wire.ReadCommand(r)
		return err
	})
	if err != nil {
		return wire.HeaderMeta{}, errs.New(errs.Transient, "read handshake", err)
	}
	if frame.Token != wire.HeaderCommand {
		s.replyError(ctx, fmt.Sprintf("unexpected command %q", frame.Token))
		return wire.HeaderMeta{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("expected %q, got %q", wire.HeaderCommand, frame.Token))
	}
	if len(frame.Data) != 0 {
		s.replyError(ctx, "handshake must not carry payload bytes")
		return wire.HeaderMeta{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("handshake frame carried %d payload bytes", len(frame.Data)))
	}

	var header wire.HeaderMeta
	if err := unmarshalMeta(frame.Meta, &header); err != nil {
		s.replyError(ctx, "malformed handshake metadata")
		return wire.HeaderMeta{}, errs.New(errs.Protocol, "handshake", err)
	}
	if header.Hostname == "" || header.Path == "" || header.Prefix.SHA1 == "" {
		s.replyError(ctx, "handshake missing required fields")
		return wire.HeaderMeta{}, errs.New(errs.Protocol, "handshake", fmt.Errorf("missing hostname, path, or prefix"))
	}
	return header, nil
}

// authenticate implements spec.md §4.6 step 2.
func (s *Session) authenticate(ctx context.Context, header wire.HeaderMeta) error {
	token := ""
	if header.Auth != nil {
		token = header.Auth.ClientToken
	}
	if !s.verifier.Accept(token) {
		s.replyError(ctx, "unauthorized")
		s.recordAuthFailure(header)
		return errs.New(errs.Auth, "authenticate", fmt.Errorf("unknown or missing client token"))
	}
	return nil
}

// recordAuthFailure appends a tamper-evident audit entry for a rejected
// client token, when an audit logger is configured. Failures to record the
// entry are swallowed: a broken audit chain must never take the listener
// down or mask the original rejection.
func (s *Session) recordAuthFailure(header wire.HeaderMeta) {
	if s.audit == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Event    string `json:"event"`
		PeerAddr string `json:"peer_addr"`
		Hostname string `json:"hostname"`
		Path     string `json:"path"`
	}{
		Event:    "auth_rejected",
		PeerAddr: s.peerAddr,
		Hostname: header.Hostname,
		Path:     header.Path,
	})
	if err != nil {
		return
	}
	if _, err := s.audit.Append(payload); err != nil && s.logger != nil {
		s.logger.Warn("servsession: failed to append audit entry", slog.Any("error", err))
	}
}

// appendLoop implements spec.md §4.6 step 6.
func (s *Session) appendLoop(ctx context.Context, r *bufio.Reader) (int64, error) {
	var written int64
	for {
		var frame *wire.Frame
		err := s.withDeadline(ctx, func() error {
			var err error
			frame, err = wire.ReadCommand(r)
			return err
		})
		if err != nil {
			if isCleanEOF(err) {
				return written, nil
			}
			return written, errs.New(errs.Transient, "read data frame", err)
		}
		if frame.Token != wire.DataCommand {
			s.replyError(ctx, fmt.Sprintf("unexpected command %q", frame.Token))
			return written, errs.New(errs.Protocol, "append loop", fmt.Errorf("expected %q, got %q", wire.DataCommand, frame.Token))
		}

		var meta wire.DataMeta
		if err := unmarshalMeta(frame.Meta, &meta); err != nil {
			s.replyError(ctx, "malformed data metadata")
			return written, errs.New(errs.Protocol, "append loop", err)
		}

		payload, err := compress.Decompress(meta.Compression, frame.Data)
		if err != nil {
			s.replyError(ctx, fmt.Sprintf("unsupported compression: %v", err))
			return written, errs.New(errs.Protocol, "decompress payload", err)
		}

		if int64(meta.Offset) != s.file.Length {
			s.replyError(ctx, "offset does not match current file length")
			return written, errs.New(errs.Protocol, "append loop", fmt.Errorf("offset %d != file length %d", meta.Offset, s.file.Length))
		}

		if err := s.file.Append(int64(meta.Offset), payload); err != nil {
			return written, errs.New(errs.Transient, "append", err)
		}
		written += int64(len(payload))

		if s.onDataFrame != nil {
			s.onDataFrame(s.peerAddr, s.hostname, s.sourcePath, s.destPath, int64(meta.Offset), len(payload))
		}

		if err := s.withDeadline(ctx, func() error {
			return wire.WriteReply(s.conn, wire.StatusOK, nil)
		}); err != nil {
			return written, errs.New(errs.Transient, "send data reply", err)
		}
	}
}

func (s *Session) replyError(ctx context.Context, message string) {
	_ = s.withDeadline(ctx, func() error {
		return wire.WriteReply(s.conn, wire.StatusError, wire.ErrorReply{Error: message})
	})
}

func (s *Session) withDeadline(ctx context.Context, fn func() error) error {
	timeout := s.frameTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if err := s.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer s.conn.SetDeadline(time.Time{})
	return fn()
}

func unmarshalMeta(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty metadata")
	}
	return json.Unmarshal(raw, v)
}

// isCleanEOF reports whether err represents the peer simply closing the
// connection once it has no more files to stream, per spec.md §4.6 step 7
// ("graceful close on peer EOF").
func isCleanEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
