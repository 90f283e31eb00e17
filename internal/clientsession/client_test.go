package clientsession_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/messa/logline/internal/clientsession"
	"github.com/messa/logline/internal/wire"
)

// fakeServer speaks just enough of the protocol over a net.Conn to exercise
// Client without a real TCP listener.
func fakeServer(t *testing.T, conn net.Conn, length uint64) {
	t.Helper()
	r := bufio.NewReader(conn)

	header, err := wire.ReadCommand(r)
	if err != nil {
		t.Errorf("fakeServer: read header: %v", err)
		return
	}
	if header.Token != wire.HeaderCommand {
		t.Errorf("fakeServer: got command %q, want %q", header.Token, wire.HeaderCommand)
	}
	if err := wire.WriteReply(conn, wire.StatusOK, wire.LengthReply{Length: length}); err != nil {
		t.Errorf("fakeServer: write header reply: %v", err)
		return
	}

	for {
		frame, err := wire.ReadCommand(r)
		if err != nil {
			return
		}
		if frame.Token != wire.DataCommand {
			t.Errorf("fakeServer: got command %q, want %q", frame.Token, wire.DataCommand)
			return
		}
		if err := wire.WriteReply(conn, wire.StatusOK, nil); err != nil {
			return
		}
	}
}

func pipeClient(t *testing.T) (*clientsession.Client, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	c := clientsession.NewForTesting(clientsession.Config{FrameTimeout: 2 * time.Second}, clientConn)
	return c, serverConn
}

func TestClientOpenReturnsServerLength(t *testing.T) {
	c, serverConn := pipeClient(t)
	defer c.Close()
	go fakeServer(t, serverConn, 42)

	length, err := c.Open(context.Background(), "host1", "/var/log/a.log", 10, "deadbeef")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if length != 42 {
		t.Fatalf("length = %d, want 42", length)
	}
}

func TestClientSendDataAwaitsReply(t *testing.T) {
	c, serverConn := pipeClient(t)
	defer c.Close()
	go fakeServer(t, serverConn, 0)

	if _, err := c.Open(context.Background(), "host1", "/var/log/a.log", 10, "deadbeef"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.SendData(context.Background(), 0, "", []byte("hello\n")); err != nil {
		t.Fatalf("SendData: %v", err)
	}
}

func TestClientOpenPropagatesErrorReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	c := clientsession.NewForTesting(clientsession.Config{FrameTimeout: 2 * time.Second}, clientConn)
	defer c.Close()

	go func() {
		r := bufio.NewReader(serverConn)
		if _, err := wire.ReadCommand(r); err != nil {
			return
		}
		_ = wire.WriteReply(serverConn, wire.StatusError, wire.ErrorReply{Error: "unauthorized"})
	}()

	_, err := c.Open(context.Background(), "host1", "/var/log/a.log", 10, "deadbeef")
	if err == nil {
		t.Fatal("expected error for rejected header")
	}
}

func TestClientOpenRejectsUnknownReplyStatus(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	c := clientsession.NewForTesting(clientsession.Config{FrameTimeout: 2 * time.Second}, clientConn)
	defer c.Close()

	go func() {
		r := bufio.NewReader(serverConn)
		if _, err := wire.ReadCommand(r); err != nil {
			return
		}
		// Neither "ok" nor "error" -- corruption or an unknown future status.
		_ = wire.WriteReply(serverConn, "maybe", nil)
	}()

	_, err := c.Open(context.Background(), "host1", "/var/log/a.log", 10, "deadbeef")
	if err == nil {
		t.Fatal("expected error for unrecognized reply status")
	}
}

func TestClientSendDataRejectsUnknownReplyStatus(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	c := clientsession.NewForTesting(clientsession.Config{FrameTimeout: 2 * time.Second}, clientConn)
	defer c.Close()

	go func() {
		r := bufio.NewReader(serverConn)
		if _, err := wire.ReadCommand(r); err != nil {
			return
		}
		_ = wire.WriteReply(serverConn, wire.StatusOK, wire.LengthReply{Length: 0})
		if _, err := wire.ReadCommand(r); err != nil {
			return
		}
		_ = wire.WriteReply(serverConn, "partial", nil)
	}()

	if _, err := c.Open(context.Background(), "host1", "/var/log/a.log", 10, "deadbeef"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.SendData(context.Background(), 0, "", []byte("hello\n")); err == nil {
		t.Fatal("expected error for unrecognized reply status")
	}
}
