// Package scanner implements the agent's periodic glob evaluation (spec.md
// §4.1): it expands configured patterns, canonicalizes and deduplicates the
// matches, and reports the current set of paths that should have a watcher.
package scanner

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Scanner periodically evaluates a fixed set of include/exclude glob
// patterns and publishes the current canonical path set on Paths.
type Scanner struct {
	includes []string
	excludes []string
	interval time.Duration
	logger   *slog.Logger

	Paths chan []string
}

// New builds a Scanner. includes and excludes are doublestar patterns
// (recursive "**" supported); excludes resolve the Open Question left by
// spec.md §9: a path matching any exclude pattern is never reported, even if
// it also matches an include pattern.
func New(includes, excludes []string, interval time.Duration, logger *slog.Logger) *Scanner {
	return &Scanner{
		includes: includes,
		excludes: excludes,
		interval: interval,
		logger:   logger,
		Paths:    make(chan []string, 1),
	}
}

// Run evaluates the patterns every interval until ctx is cancelled, sending
// the deduplicated canonical path list to Paths after each pass. Send is
// non-blocking: a pass whose result nobody has consumed yet is dropped in
// favor of the freshest scan, since Paths only ever needs the latest set.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.publish(s.Scan())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish(s.Scan())
		}
	}
}

func (s *Scanner) publish(paths []string) {
	select {
	case s.Paths <- paths:
	default:
		select {
		case <-s.Paths:
		default:
		}
		s.Paths <- paths
	}
}

// Scan runs one pass over the configured glob patterns and returns the
// deduplicated, canonicalized, non-excluded matches. Glob evaluation is
// best-effort: a single pattern that errors out (e.g. permission denied
// partway through a directory tree) is logged and skipped, never fatal.
func (s *Scanner) Scan() []string {
	seen := make(map[string]struct{})
	var result []string

	for _, pattern := range s.includes {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			s.logger.Warn("scanner: glob evaluation failed", slog.String("pattern", pattern), slog.Any("error", err))
			continue
		}
		for _, m := range matches {
			canon, err := canonicalize(m)
			if err != nil {
				s.logger.Warn("scanner: failed to canonicalize path", slog.String("path", m), slog.Any("error", err))
				continue
			}
			if s.excluded(canon) {
				continue
			}
			if _, ok := seen[canon]; ok {
				continue
			}
			seen[canon] = struct{}{}
			result = append(result, canon)
		}
	}
	return result
}

func (s *Scanner) excluded(path string) bool {
	for _, pattern := range s.excludes {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if base := filepath.Base(path); ok2, _ := doublestar.Match(pattern, base); ok2 {
			return true
		}
	}
	return false
}

func canonicalize(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The path may have disappeared between glob match and resolution;
		// fall back to the absolute, non-resolved form rather than dropping
		// a file the scanner just found.
		return abs, nil
	}
	return resolved, nil
}
