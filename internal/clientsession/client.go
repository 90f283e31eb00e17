// Package clientsession is the agent-side protocol client (spec.md §4.4):
// it owns one TCP (optionally TLS) connection, sends the header and data
// frames through internal/wire, and awaits a reply before the next command
// is allowed onto the wire -- request/reply, no pipelining.
package clientsession

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/messa/logline/internal/errs"
	"github.com/messa/logline/internal/wire"
)

// Config carries what a Client needs to dial and authenticate.
type Config struct {
	Addr        string // host:port
	UseTLS      bool
	TLSCertPath string // PEM certificate to trust, if UseTLS
	ClientToken string
	FrameTimeout time.Duration
	Metrics     *Metrics
}

// Client implements tail.SessionTransport over one connection.
type Client struct {
	cfg  Config
	conn net.Conn
	r    *bufio.Reader
}

// Dial opens a new connection and returns a ready-to-use Client. One Client
// is good for exactly one follower session; reconnects build a fresh one.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Metrics != nil {
		cfg.Metrics.ConnectionAttempts.Add(1)
	}

	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if cfg.UseTLS {
		tlsConfig, tlsErr := buildTLSConfig(cfg.TLSCertPath)
		if tlsErr != nil {
			return nil, tlsErr
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", cfg.Addr, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		if cfg.Metrics != nil {
			cfg.Metrics.ConnectionErrors.Add(1)
		}
		return nil, fmt.Errorf("clientsession: dial: %w", err)
	}
	if cfg.Metrics != nil {
		cfg.Metrics.Connected.Store(1)
	}

	return &Client{cfg: cfg, conn: conn, r: bufio.NewReader(conn)}, nil
}

// NewForTesting builds a Client around an already-established connection,
// bypassing Dial. Used by tests that drive the protocol over a net.Pipe.
func NewForTesting(cfg Config, conn net.Conn) *Client {
	return &Client{cfg: cfg, conn: conn, r: bufio.NewReader(conn)}
}

func buildTLSConfig(certPath string) (*tls.Config, error) {
	if certPath == "" {
		return &tls.Config{}, nil
	}
	pool, err := loadCertPool(certPath)
	if err != nil {
		return nil, fmt.Errorf("clientsession: load TLS cert: %w", err)
	}
	return &tls.Config{RootCAs: pool}, nil
}

// Open sends the header command and returns the server-reported length for
// the described file, per spec.md §4.3 phase 2.
func (c *Client) Open(ctx context.Context, hostname, path string, prefixLen int, prefixSHA1 string) (uint64, error) {
	meta := wire.HeaderMeta{
		Hostname: hostname,
		Path:     path,
		Prefix:   wire.Prefix{Length: prefixLen, SHA1: prefixSHA1},
	}
	if c.cfg.ClientToken != "" {
		meta.Auth = &wire.AuthMeta{ClientToken: c.cfg.ClientToken}
	}

	if err := c.withDeadline(func() error {
		return wire.WriteCommand(c.conn, wire.HeaderCommand, meta, nil)
	}); err != nil {
		return 0, fmt.Errorf("clientsession: send header: %w", err)
	}

	var reply *wire.Frame
	if err := c.withDeadline(func() error {
		var err error
		reply, err = wire.ReadReply(c.r)
		return err
	}); err != nil {
		return 0, fmt.Errorf("clientsession: read header reply: %w", err)
	}

	return parseLengthReply(reply)
}

// SendData sends one data frame and waits for its reply, per spec.md §4.4
// "the client awaits exactly one reply per command".
func (c *Client) SendData(ctx context.Context, offset uint64, codec string, payload []byte) error {
	meta := wire.DataMeta{Offset: offset, Compression: codec}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.DataFramesSent.Add(1)
	}

	if err := c.withDeadline(func() error {
		return wire.WriteCommand(c.conn, wire.DataCommand, meta, payload)
	}); err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.SendErrors.Add(1)
		}
		return fmt.Errorf("clientsession: send data: %w", err)
	}

	var reply *wire.Frame
	if err := c.withDeadline(func() error {
		var err error
		reply, err = wire.ReadReply(c.r)
		return err
	}); err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RecvErrors.Add(1)
		}
		return fmt.Errorf("clientsession: read data reply: %w", err)
	}

	switch reply.Token {
	case wire.StatusOK:
		return nil
	case wire.StatusError:
		var errBody wire.ErrorReply
		_ = decodeMeta(reply.Meta, &errBody)
		return fmt.Errorf("clientsession: server rejected data frame: %s", errBody.Error)
	default:
		return errs.New(errs.Protocol, "read data reply", fmt.Errorf("unexpected reply status %q", reply.Token))
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connected.Store(0)
	}
	return c.conn.Close()
}

// withDeadline applies the configured per-operation deadline (spec.md §4.4:
// "per-frame timeout on drain/read, default 300s") around fn.
func (c *Client) withDeadline(fn func() error) error {
	timeout := c.cfg.FrameTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if err := c.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer c.conn.SetDeadline(time.Time{})
	return fn()
}

func parseLengthReply(reply *wire.Frame) (uint64, error) {
	switch reply.Token {
	case wire.StatusOK:
		var lengthReply wire.LengthReply
		if err := decodeMeta(reply.Meta, &lengthReply); err != nil {
			return 0, fmt.Errorf("clientsession: malformed length reply: %w", err)
		}
		return lengthReply.Length, nil
	case wire.StatusError:
		var errBody wire.ErrorReply
		_ = decodeMeta(reply.Meta, &errBody)
		return 0, fmt.Errorf("clientsession: server rejected header: %s", errBody.Error)
	default:
		return 0, errs.New(errs.Protocol, "read header reply", fmt.Errorf("unexpected reply status %q", reply.Token))
	}
}
