// Package compress implements the three wire compression codecs spec.md
// §4.3/§4.6 name -- gzip, lzma, and zst -- as plain byte-to-byte functions,
// plus the follower's "compress only if it helps" policy from spec.md §4.3
// phase 5 and Invariant 5.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Codec names as they appear on the wire in DataMeta.Compression.
const (
	None  = ""
	Gzip  = "gzip"
	Lzma  = "lzma"
	Zstd  = "zst"
)

// Decompress expands data according to codec. An empty codec means the
// payload is already raw. An unrecognized codec is a protocol error and is
// the caller's responsibility to reject (spec.md §4.6 step 6: "unknown
// codec -> error reply and close").
func Decompress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("compress: gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case Zstd:
		r, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case Lzma:
		r, err := lzma.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("compress: lzma reader: %w", err)
		}
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("compress: unsupported codec %q", codec)
	}
}

// CompressGzip gzips raw. It is the one codec the follower ever produces on
// the send side (spec.md §4.3 phase 5 only mentions attempting gzip); lzma
// and zst are accepted codecs the server must still be able to decode, e.g.
// from an agent built against a later protocol revision.
func CompressGzip(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("compress: gzip writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// ChooseGzip implements spec.md §4.3 phase 5 and Invariant 5: gzip is
// selected only when it is strictly smaller than the raw payload; otherwise
// the raw bytes are sent uncompressed. It returns the bytes to put on the
// wire and the codec name to declare for them.
func ChooseGzip(raw []byte) (payload []byte, codec string, err error) {
	compressed, err := CompressGzip(raw)
	if err != nil {
		return nil, "", err
	}
	if len(compressed) < len(raw) {
		return compressed, Gzip, nil
	}
	return raw, None, nil
}

// chooseGzipResult is the outcome of a ChooseGzip call run on a Pool worker.
type chooseGzipResult struct {
	payload []byte
	codec   string
	err     error
}

// job pairs an input buffer with the channel its result is delivered on.
type job struct {
	raw    []byte
	result chan chooseGzipResult
}

// Pool runs ChooseGzip on a small fixed set of worker goroutines so that
// compression never runs on the follower's read loop, per spec.md §5
// ("compression... must be executed on a worker-thread pool"). Create one
// with NewPool; call Stop when done.
type Pool struct {
	jobs chan job
	done chan struct{}
}

// NewPool starts a Pool with workers goroutines. workers <= 0 defaults to
// runtime.GOMAXPROCS(0).
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		jobs: make(chan job),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for {
		select {
		case j := <-p.jobs:
			payload, codec, err := ChooseGzip(j.raw)
			j.result <- chooseGzipResult{payload: payload, codec: codec, err: err}
		case <-p.done:
			return
		}
	}
}

// ChooseGzip submits raw to the pool and blocks until a worker processes it
// or ctx is cancelled.
func (p *Pool) ChooseGzip(ctx context.Context, raw []byte) (payload []byte, codec string, err error) {
	result := make(chan chooseGzipResult, 1)
	select {
	case p.jobs <- job{raw: raw, result: result}:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-p.done:
		return nil, "", fmt.Errorf("compress: pool stopped")
	}
	select {
	case r := <-result:
		return r.payload, r.codec, r.err
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

// Stop terminates every worker goroutine. Safe to call once.
func (p *Pool) Stop() {
	close(p.done)
}
