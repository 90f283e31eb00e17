// Package servsession implements the server side of the wire protocol:
// Listener binds and optionally TLS-wraps the socket (spec.md §4.5), and
// Session handles one accepted connection end to end (spec.md §4.6).
package servsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/messa/logline/internal/audit"
	"github.com/messa/logline/internal/auth"
)

// TLSConfig carries the server's certificate material, loaded and decrypted
// by the caller (certificate/key loading from disk is explicitly out of
// this package's scope, per spec.md §1).
type TLSConfig struct {
	Cert tls.Certificate
}

// Config carries everything a Listener needs beyond the bind address.
type Config struct {
	BindHost string
	BindPort int
	TLS      *TLSConfig

	DestRoot     string
	Verifier     *auth.Verifier
	FrameTimeout time.Duration

	Logger *slog.Logger

	// Audit records authentication failures into a tamper-evident hash
	// chain (internal/audit). Nil disables audit recording; every call
	// site in this package goes through Audit.Append only when non-nil.
	Audit *audit.Logger

	// OnSessionEnd is called (if non-nil) after every session handler
	// returns, with the handled (hostname, source path, destination path),
	// whether opening the destination rotated a previous file aside, and
	// any error; used by the optional catalog and admin live feed without
	// servsession depending on either directly.
	OnSessionEnd func(peerAddr, hostname, sourcePath, destPath string, bytesWritten int64, rotated bool, err error)

	// OnSessionStart is called (if non-nil) right after a connection is
	// accepted, before its handshake is read; used by the admin registry to
	// track currently-open sessions without servsession depending on it.
	OnSessionStart func(peerAddr string)

	// OnDataFrame is called (if non-nil) after each accepted data frame is
	// durably appended, with the offset and byte count of that frame; used
	// by the admin live feed to push one event per frame.
	OnDataFrame func(peerAddr, hostname, sourcePath, destPath string, offset int64, n int)

	// OnRotation is called (if non-nil) once per session, right after
	// opening the destination file, when that open rotated a previous file
	// aside; used by the admin live feed to push one event per rotation.
	OnRotation func(peerAddr, hostname, sourcePath, destPath string)
}

// Listener accepts connections and spawns one Session per connection.
type Listener struct {
	cfg Config
	ln  net.Listener
}

// Listen binds the configured address, wrapping it in TLS if cfg.TLS is set.
func Listen(cfg Config) (*Listener, error) {
	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)
	var ln net.Listener
	var err error
	if cfg.TLS != nil {
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cfg.TLS.Cert}})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("servsession: listen on %s: %w", addr, err)
	}
	return &Listener{cfg: cfg, ln: ln}, nil
}

// Addr returns the bound network address, useful when BindPort was 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, handling each on its own goroutine. A per-connection failure
// never brings down the listener (spec.md §7: "session-scoped errors never
// kill the process").
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("servsession: accept: %w", err)
		}
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	peerAddr := conn.RemoteAddr().String()

	if l.cfg.OnSessionStart != nil {
		l.cfg.OnSessionStart(peerAddr)
	}

	sess := &Session{
		conn:         conn,
		peerAddr:     peerAddr,
		destRoot:     l.cfg.DestRoot,
		verifier:     l.cfg.Verifier,
		frameTimeout: l.cfg.FrameTimeout,
		logger:       l.cfg.Logger,
		audit:        l.cfg.Audit,
		onDataFrame:  l.cfg.OnDataFrame,
		onRotation:   l.cfg.OnRotation,
	}
	hostname, sourcePath, destPath, written, rotated, err := sess.Run(ctx)
	if err != nil {
		l.cfg.Logger.Warn("servsession: session ended with error", slog.String("peer", peerAddr), slog.Any("error", err))
	}
	if l.cfg.OnSessionEnd != nil {
		l.cfg.OnSessionEnd(peerAddr, hostname, sourcePath, destPath, written, rotated, err)
	}
}
