// Package adminws is a hand-rolled RFC 6455 WebSocket broadcaster that pushes
// one JSON event per accepted data frame, per detected rotation, and per
// closed server session to connected admin clients (SPEC_FULL.md §11.4). It
// deliberately does not import a WebSocket library: the teacher codebase
// hand-rolls its own handshake with crypto/sha1 and encoding/binary rather
// than depending on one, and this stays consistent with that choice.
package adminws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event is the JSON envelope pushed to connected admin clients. Type is one
// of "data_frame", "rotation", or "session_end"; fields irrelevant to a
// given Type are left zero.
type Event struct {
	Type         string `json:"type"`
	PeerAddr     string `json:"peer_addr"`
	Hostname     string `json:"hostname"`
	SourcePath   string `json:"source_path"`
	DestPath     string `json:"dest_path"`
	Offset       int64  `json:"offset,omitempty"`
	BytesWritten int64  `json:"bytes_written"`
	Error        string `json:"error,omitempty"`
	EndedAt      string `json:"ended_at,omitempty"`
}

// Client is a single connected admin WebSocket client.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.id }

// Send returns the channel the write loop drains for outgoing frames. It is
// closed when the client is unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans data_frame, rotation and session_end events out to every
// connected admin client without ever blocking the caller (a servsession
// session goroutine), via non-blocking per-client sends, grounded on the
// teacher's Broadcaster.
type Broadcaster struct {
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64
	bufSize   int
	logger    *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster builds a Broadcaster with the given per-client buffer
// depth (0 defaults to 64).
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{bufSize: bufSize, logger: logger}
}

// Register creates and stores a new Client under id.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, b.bufSize)}
	if b.closed.Load() {
		close(c.send)
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes and closes the client identified by id. A no-op for an
// unknown id.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.clients.LoadAndDelete(id); loaded {
		close(v.(*Client).send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of currently registered clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// PublishSessionEnd builds a "session_end" Event from a closed
// servsession.Session and fans it out to every connected client. Slow
// clients have the event dropped rather than applying back-pressure to the
// accept loop.
func (b *Broadcaster) PublishSessionEnd(peerAddr, hostname, sourcePath, destPath string, bytesWritten int64, sessionErr error) {
	evt := Event{
		Type:         "session_end",
		PeerAddr:     peerAddr,
		Hostname:     hostname,
		SourcePath:   sourcePath,
		DestPath:     destPath,
		BytesWritten: bytesWritten,
		EndedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	if sessionErr != nil {
		evt.Error = sessionErr.Error()
	}
	b.publish(evt)
}

// PublishDataFrame fans out a "data_frame" Event each time a session appends
// n bytes at offset to its destination file.
func (b *Broadcaster) PublishDataFrame(peerAddr, hostname, sourcePath, destPath string, offset int64, n int) {
	b.publish(Event{
		Type:         "data_frame",
		PeerAddr:     peerAddr,
		Hostname:     hostname,
		SourcePath:   sourcePath,
		DestPath:     destPath,
		Offset:       offset,
		BytesWritten: int64(n),
	})
}

// PublishRotation fans out a "rotation" Event each time a session's
// destination file is rotated aside in favor of a fresh one.
func (b *Broadcaster) PublishRotation(peerAddr, hostname, sourcePath, destPath string) {
	b.publish(Event{
		Type:       "rotation",
		PeerAddr:   peerAddr,
		Hostname:   hostname,
		SourcePath: sourcePath,
		DestPath:   destPath,
	})
}

// publish marshals evt and fans it out to every connected client via a
// non-blocking send, dropping it for any client whose buffer is full.
func (b *Broadcaster) publish(evt Event) {
	if b.closed.Load() {
		return
	}

	raw, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("adminws: marshal event failed", slog.Any("error", err))
		return
	}

	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.logger.Warn("adminws: client buffer full, dropping event", slog.String("client_id", c.id))
		}
		return true
	})
}

// Close unregisters and closes every connected client. Publish calls after
// Close are no-ops.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.clients.Range(func(key, value any) bool {
			b.clients.Delete(key)
			close(value.(*Client).send)
			b.clientCnt.Add(-1)
			return true
		})
	})
}
