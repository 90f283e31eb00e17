// Package adminrest serves a small read-only HTTP API over the server's
// in-memory session registry and optional ingestion catalog, grounded on
// the teacher codebase's chi-based rest.Server (SPEC_FULL.md §11.4). None
// of it sits on the append-loop critical path: servsession never blocks on
// anything in this package.
package adminrest

import (
	"sync"
	"time"
)

// SessionInfo describes one closed server session, as reported through
// servsession.Config.OnSessionEnd.
type SessionInfo struct {
	PeerAddr     string    `json:"peer_addr"`
	Hostname     string    `json:"hostname"`
	SourcePath   string    `json:"source_path"`
	DestPath     string    `json:"dest_path"`
	BytesWritten int64     `json:"bytes_written"`
	EndedAt      time.Time `json:"ended_at"`
	Error        string    `json:"error,omitempty"`
}

// OpenSessionInfo describes one server session whose connection has been
// accepted but has not yet closed (its handshake may still be in progress).
type OpenSessionInfo struct {
	PeerAddr  string    `json:"peer_addr"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks open and recently closed sessions for the admin API to
// read from. It is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	recent   []SessionInfo
	open     map[string]OpenSessionInfo
	maxKept  int
	total    int64
	totalErr int64
}

// NewRegistry builds a Registry that keeps at most maxKept recent sessions.
func NewRegistry(maxKept int) *Registry {
	if maxKept <= 0 {
		maxKept = 100
	}
	return &Registry{maxKept: maxKept, open: make(map[string]OpenSessionInfo)}
}

// RegisterStart records peerAddr as an open session as of startedAt. Called
// from servsession.Config.OnSessionStart right after the connection is
// accepted, before the handshake is read.
func (r *Registry) RegisterStart(peerAddr string, startedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[peerAddr] = OpenSessionInfo{PeerAddr: peerAddr, StartedAt: startedAt}
}

// MarkEnded removes peerAddr from the open-session set. A no-op if peerAddr
// was never registered or was already removed.
func (r *Registry) MarkEnded(peerAddr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, peerAddr)
}

// OpenSessions returns a copy of the currently-open sessions, in no
// particular order.
func (r *Registry) OpenSessions() []OpenSessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OpenSessionInfo, 0, len(r.open))
	for _, info := range r.open {
		out = append(out, info)
	}
	return out
}

// Record appends info to the recent-sessions ring, trimming the oldest
// entry once maxKept is exceeded, and marks peerAddr no longer open.
func (r *Registry) Record(info SessionInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, info.PeerAddr)
	r.recent = append(r.recent, info)
	if len(r.recent) > r.maxKept {
		r.recent = r.recent[len(r.recent)-r.maxKept:]
	}
	r.total++
	if info.Error != "" {
		r.totalErr++
	}
}

// Recent returns a copy of the currently-kept sessions, newest last.
func (r *Registry) Recent() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SessionInfo, len(r.recent))
	copy(out, r.recent)
	return out
}

// Status is the aggregate counters shown by /api/v1/status.
type Status struct {
	TotalSessions  int64 `json:"total_sessions"`
	ErroredSessions int64 `json:"errored_sessions"`
	KeptRecent     int   `json:"kept_recent"`
}

// StatusSnapshot returns the current aggregate counters.
func (r *Registry) StatusSnapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		TotalSessions:   r.total,
		ErroredSessions: r.totalErr,
		KeptRecent:      len(r.recent),
	}
}
