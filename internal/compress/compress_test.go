package compress_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/messa/logline/internal/compress"
)

func TestGzipRoundTrip(t *testing.T) {
	raw := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 50))
	compressed, err := compress.CompressGzip(raw)
	if err != nil {
		t.Fatalf("CompressGzip: %v", err)
	}
	got, err := compress.Decompress(compress.Gzip, compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressIdentity(t *testing.T) {
	raw := []byte("raw bytes, no codec")
	got, err := compress.Decompress(compress.None, raw)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("identity mismatch")
	}
}

func TestDecompressUnknownCodec(t *testing.T) {
	if _, err := compress.Decompress("lz4", []byte("x")); err == nil {
		t.Fatal("expected error for unknown codec")
	}
}

func TestChooseGzipPrefersRawWhenIncompressible(t *testing.T) {
	// A few random-ish bytes won't compress smaller than themselves once
	// gzip framing overhead is included.
	raw := []byte{0x01}
	payload, codec, err := compress.ChooseGzip(raw)
	if err != nil {
		t.Fatalf("ChooseGzip: %v", err)
	}
	if codec != compress.None {
		t.Fatalf("codec = %q, want empty (raw smaller)", codec)
	}
	if !bytes.Equal(payload, raw) {
		t.Fatalf("payload mismatch")
	}
}

func TestChooseGzipPicksGzipWhenSmaller(t *testing.T) {
	raw := []byte(strings.Repeat("a", 10000))
	payload, codec, err := compress.ChooseGzip(raw)
	if err != nil {
		t.Fatalf("ChooseGzip: %v", err)
	}
	if codec != compress.Gzip {
		t.Fatalf("codec = %q, want gzip", codec)
	}
	if len(payload) >= len(raw) {
		t.Fatalf("compressed payload (%d) not smaller than raw (%d)", len(payload), len(raw))
	}
}

func TestPoolChooseGzipMatchesDirectCall(t *testing.T) {
	raw := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 50))
	wantPayload, wantCodec, err := compress.ChooseGzip(raw)
	if err != nil {
		t.Fatalf("ChooseGzip: %v", err)
	}

	pool := compress.NewPool(2)
	defer pool.Stop()

	gotPayload, gotCodec, err := pool.ChooseGzip(context.Background(), raw)
	if err != nil {
		t.Fatalf("Pool.ChooseGzip: %v", err)
	}
	if gotCodec != wantCodec {
		t.Fatalf("codec = %q, want %q", gotCodec, wantCodec)
	}
	if !bytes.Equal(gotPayload, wantPayload) {
		t.Fatalf("payload mismatch")
	}
}

func TestPoolChooseGzipRespectsContextCancellation(t *testing.T) {
	pool := compress.NewPool(1)
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, _, err := pool.ChooseGzip(ctx, []byte("x")); err == nil {
		t.Fatal("expected error for already-cancelled context")
	}
}

func TestPoolChooseGzipErrorsAfterStop(t *testing.T) {
	pool := compress.NewPool(1)
	pool.Stop()

	_, _, err := pool.ChooseGzip(context.Background(), []byte("x"))
	if err == nil {
		t.Fatal("expected error after Stop")
	}
}

func TestPoolHandlesConcurrentCallers(t *testing.T) {
	pool := compress.NewPool(4)
	defer pool.Stop()

	raw := []byte(strings.Repeat("b", 5000))
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, _, err := pool.ChooseGzip(context.Background(), raw)
			done <- err
		}()
	}

	deadline := time.After(2 * time.Second)
	for i := 0; i < 8; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("ChooseGzip: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for concurrent ChooseGzip calls")
		}
	}
}
