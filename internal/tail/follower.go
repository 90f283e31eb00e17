// Package tail implements the agent side of the log-shipping pipeline:
// Watcher binds to a path and detects inode changes (spec.md §4.2), and
// Follower owns one opened inode and streams its appended bytes to the
// server through a SessionTransport (spec.md §4.3).
package tail

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/messa/logline/internal/compress"
)

// FollowerFailureBackoff is the sleep before phase 1 restarts after any
// session error, per spec.md §4.3 "Failure handling".
const FollowerFailureBackoff = 10 * time.Second

// StreamChunkSize is the maximum number of bytes read per stream iteration
// (spec.md §4.3 phase 4).
const StreamChunkSize = 1 << 20

// errRotatedIdle is returned internally when the follower's source file has
// rotated and gone quiet long enough to stop following it; Run treats this
// as a clean, non-erroring exit.
var errRotatedIdle = errors.New("tail: rotated and idle")

// StatsSink receives observational ingestion counters as the follower makes
// progress, and as the watcher detects a rotation. A nil sink is always safe
// to call through; it never influences resume behavior (SPEC_FULL.md §11.5 —
// resume offset always comes from the server's length reply, never from this
// sink).
type StatsSink interface {
	RecordAppend(ctx context.Context, path string, inode uint64, offset int64, n int) error
	RecordRotation(ctx context.Context, path string, inode uint64, at time.Time) error
}

// SessionTransport is the agent-side protocol client a Follower streams
// through. Its implementation (internal/clientsession) owns the TCP/TLS
// connection, wire framing, and reply waiting; Follower only knows about
// opening a logical session and sending data frames.
type SessionTransport interface {
	// Open sends the header frame and returns the server's reported length
	// for the file identified by (hostname, path, prefix).
	Open(ctx context.Context, hostname, path string, prefixLen int, prefixSHA1 string) (length uint64, err error)
	// SendData sends a data frame at offset with the given payload and
	// compression codec, and waits for the server's reply.
	SendData(ctx context.Context, offset uint64, codec string, payload []byte) error
	// Close releases the underlying connection.
	Close() error
}

// TransportDialer opens a new SessionTransport, one per follower session
// (reconnects get a fresh transport rather than reusing a broken one).
type TransportDialer func(ctx context.Context) (SessionTransport, error)

// FollowerConfig carries the tunables spec.md §4.3 names.
type FollowerConfig struct {
	PrefixLength                    int
	MinPrefixLength                 int
	TailReadInterval                time.Duration
	RotatedFilesInactivityThreshold time.Duration
	SelfLogThrottle                 time.Duration
}

// FollowerWorker owns one opened file descriptor pinned to a specific inode.
type FollowerWorker struct {
	path   string
	file   *os.File
	inode  uint64
	cfg    FollowerConfig
	dial   TransportDialer
	logger *slog.Logger

	hostname     string
	currentInode func() (uint64, bool)
	isSelfLog    bool
	stats        StatsSink
	compressPool *compress.Pool
}

// NewFollower builds a FollowerWorker for an already-opened file pinned to inode.
// currentInode re-stats the source path on demand, used by the rotated-idle
// check; hostname is the FQDN reported in the header frame. stats may be
// nil. compressPool runs ChooseGzip off this goroutine (spec.md §5); a nil
// pool falls back to running ChooseGzip inline.
func NewFollower(path string, file *os.File, inode uint64, hostname string, cfg FollowerConfig, dial TransportDialer, currentInode func() (uint64, bool), selfLogs *SelfLogSet, logger *slog.Logger, stats StatsSink, compressPool *compress.Pool) *FollowerWorker {
	return &FollowerWorker{
		path:         path,
		file:         file,
		inode:        inode,
		cfg:          cfg,
		dial:         dial,
		logger:       logger,
		hostname:     hostname,
		currentInode: currentInode,
		isSelfLog:    selfLogs.Contains(path),
		stats:        stats,
		compressPool: compressPool,
	}
}

// Run drives the follower until the file is rotated and idle, or ctx is
// cancelled. Any session-scoped error is logged, backed off, and restarts
// from phase 1 (prefix acquisition); it never propagates to the caller.
func (fl *FollowerWorker) Run(ctx context.Context) error {
	defer fl.file.Close()

	lastDataTS := time.Now()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := fl.runSession(ctx, &lastDataTS)
		if err == nil {
			return nil
		}
		if errors.Is(err, errRotatedIdle) {
			fl.logger.Debug("tail: follower closing, rotated and idle", slog.String("path", fl.path))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fl.logger.Error("tail: follower session failed, restarting", slog.String("path", fl.path), slog.Any("error", err))
		if !sleepCtx(ctx, FollowerFailureBackoff) {
			return ctx.Err()
		}
	}
}

// runSession performs one full pass: prefix acquisition, session open,
// resume, and streaming until rotated-idle or an error forces a restart.
func (fl *FollowerWorker) runSession(ctx context.Context, lastDataTS *time.Time) error {
	prefix, err := fl.acquirePrefix(ctx, lastDataTS)
	if err != nil {
		return err
	}

	transport, err := fl.dial(ctx)
	if err != nil {
		return err
	}
	defer transport.Close()

	sum := sha1.Sum(prefix)
	prefixSHA1 := base64.StdEncoding.EncodeToString(sum[:])
	length, err := transport.Open(ctx, fl.hostname, fl.path, len(prefix), prefixSHA1)
	if err != nil {
		return err
	}

	pos, err := fl.file.Seek(int64(length), io.SeekStart)
	if err != nil {
		return err
	}
	if pos != int64(length) {
		return errors.New("tail: resume seek landed at unexpected offset")
	}

	return fl.stream(ctx, transport, uint64(pos), lastDataTS)
}

// acquirePrefix implements spec.md §4.3 phase 1.
func (fl *FollowerWorker) acquirePrefix(ctx context.Context, lastDataTS *time.Time) ([]byte, error) {
	buf := make([]byte, fl.cfg.PrefixLength)
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, err := fl.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		n, err := io.ReadFull(fl.file, buf)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n >= fl.cfg.MinPrefixLength {
			return buf[:n], nil
		}
		if fl.rotatedAndIdle(*lastDataTS) {
			return nil, errRotatedIdle
		}
		if !sleepCtx(ctx, fl.cfg.TailReadInterval) {
			return nil, ctx.Err()
		}
	}
}

// stream implements spec.md §4.3 phases 4-6.
func (fl *FollowerWorker) stream(ctx context.Context, transport SessionTransport, offset uint64, lastDataTS *time.Time) error {
	buf := make([]byte, StreamChunkSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pos := offset
		n, err := fl.file.Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if n == 0 {
			if fl.rotatedAndIdle(*lastDataTS) {
				return errRotatedIdle
			}
			if !sleepCtx(ctx, fl.cfg.TailReadInterval) {
				return ctx.Err()
			}
			continue
		}

		var payload []byte
		var codec string
		if fl.compressPool != nil {
			payload, codec, err = fl.compressPool.ChooseGzip(ctx, buf[:n])
		} else {
			payload, codec, err = compress.ChooseGzip(buf[:n])
		}
		if err != nil {
			return err
		}
		if err := transport.SendData(ctx, pos, codec, payload); err != nil {
			return err
		}

		offset = pos + uint64(n)
		*lastDataTS = time.Now()

		if fl.stats != nil {
			if err := fl.stats.RecordAppend(ctx, fl.path, fl.inode, int64(offset), n); err != nil {
				fl.logger.Warn("tail: failed to record ingestion stats", slog.String("path", fl.path), slog.Any("error", err))
			}
		}

		if fl.isSelfLog {
			if !sleepCtx(ctx, fl.selfLogThrottle()) {
				return ctx.Err()
			}
		}
	}
}

func (fl *FollowerWorker) selfLogThrottle() time.Duration {
	if fl.cfg.SelfLogThrottle > 0 {
		return fl.cfg.SelfLogThrottle
	}
	return 60 * time.Second
}

func (fl *FollowerWorker) rotatedAndIdle(lastDataTS time.Time) bool {
	cur, ok := fl.currentInode()
	if !ok || cur == fl.inode {
		return false
	}
	return time.Since(lastDataTS) > fl.cfg.RotatedFilesInactivityThreshold
}
