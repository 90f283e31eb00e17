package tail

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Follower is the subset of *FollowerWorker a Watcher depends on, so tests
// can substitute a fake.
type Follower interface {
	Run(ctx context.Context) error
}

// FollowerFactory builds a Follower bound to an opened file at a known
// inode, one per rotation.
type FollowerFactory func(path string, file *os.File, inode uint64) Follower

// Watcher implements spec.md §4.2: it monitors one path's inode and spawns
// a Follower each time the path resolves to a new physical file.
type Watcher struct {
	path             string
	tailReadInterval time.Duration
	newFollower      FollowerFactory
	logger           *slog.Logger
	stats            StatsSink
}

// NewWatcher builds a Watcher for path. newFollower is called once per
// detected rotation, from within Run's own goroutine tree. stats may be
// nil; when set, its RecordRotation method is called each time Run detects
// that path now resolves to a different inode than the one it last bound.
func NewWatcher(path string, tailReadInterval time.Duration, newFollower FollowerFactory, logger *slog.Logger, stats StatsSink) *Watcher {
	return &Watcher{
		path:             path,
		tailReadInterval: tailReadInterval,
		newFollower:      newFollower,
		logger:           logger,
		stats:            stats,
	}
}

// followerHandle tracks one spawned follower's completion.
type followerHandle struct {
	inode uint64
	done  chan error
}

// Run drives the watcher state machine until ctx is cancelled. Multiple
// followers for one path can be active briefly while an old rotated file is
// still draining; Run only waits on the most recently spawned one to detect
// that it died unexpectedly, per spec.md §4.2's "surface its failure as a
// restartable error" requirement.
func (w *Watcher) Run(ctx context.Context) {
	var lastInode uint64
	var hasInode bool
	var lastErrRepr string
	var active *followerHandle

	for {
		if ctx.Err() != nil {
			return
		}

		if active != nil {
			select {
			case err := <-active.done:
				if err != nil {
					w.logger.Error("tail: watcher detected dead follower, will respawn on next inode change",
						slog.String("path", w.path), slog.Uint64("inode", active.inode), slog.Any("error", err))
				}
				active = nil
			default:
			}
		}

		info, err := os.Stat(w.path)
		if err != nil {
			repr := err.Error()
			if repr != lastErrRepr {
				w.logger.Warn("tail: watcher stat failed", slog.String("path", w.path), slog.Any("error", err))
				lastErrRepr = repr
			}
			if !sleepCtx(ctx, w.tailReadInterval) {
				return
			}
			continue
		}
		lastErrRepr = ""

		currentInode, ok := inodeOf(info)
		if !ok {
			w.logger.Error("tail: cannot determine inode, platform unsupported", slog.String("path", w.path))
			if !sleepCtx(ctx, w.tailReadInterval) {
				return
			}
			continue
		}

		if hasInode && currentInode == lastInode {
			if !sleepCtx(ctx, w.tailReadInterval) {
				return
			}
			continue
		}

		f, err := os.Open(w.path)
		if err != nil {
			w.logger.Warn("tail: watcher open failed", slog.String("path", w.path), slog.Any("error", err))
			if !sleepCtx(ctx, w.tailReadInterval) {
				return
			}
			continue
		}

		fi, err := f.Stat()
		if err != nil {
			f.Close()
			w.logger.Warn("tail: watcher fstat failed", slog.String("path", w.path), slog.Any("error", err))
			if !sleepCtx(ctx, w.tailReadInterval) {
				return
			}
			continue
		}

		fInode, ok := inodeOf(fi)
		if !ok {
			f.Close()
			if !sleepCtx(ctx, w.tailReadInterval) {
				return
			}
			continue
		}

		if hasInode && fInode == lastInode {
			// Race: stat observed a new inode but the open descriptor is
			// still bound to the old one. Close and retry without binding a
			// follower to a file we've already followed.
			f.Close()
			continue
		}

		if hasInode && w.stats != nil {
			if err := w.stats.RecordRotation(ctx, w.path, fInode, time.Now()); err != nil {
				w.logger.Warn("tail: failed to record rotation stats", slog.String("path", w.path), slog.Any("error", err))
			}
		}

		lastInode = fInode
		hasInode = true

		follower := w.newFollower(w.path, f, fInode)
		handle := &followerHandle{inode: fInode, done: make(chan error, 1)}
		go func() {
			handle.done <- follower.Run(ctx)
		}()
		active = handle

		if !sleepCtx(ctx, w.tailReadInterval) {
			return
		}
	}
}
