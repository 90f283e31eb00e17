package adminrest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/messa/logline/internal/audit"
	"github.com/messa/logline/internal/catalog"
)

// writeError writes a JSON error response with the given HTTP status code.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// Server holds the dependencies needed by the admin HTTP handlers. Catalog
// may be nil, in which case handleGetCatalog reports an empty list.
type Server struct {
	registry     *Registry
	catalog      *catalog.Store
	auditLogPath string
}

// NewServer builds a Server backed by registry and, optionally, a catalog
// store (nil disables /api/v1/catalog's DB-backed results without an error).
func NewServer(registry *Registry, cat *catalog.Store) *Server {
	return &Server{registry: registry, catalog: cat}
}

// WithAuditLog returns s configured to serve /api/v1/audit from the
// tamper-evident log at path. An empty path leaves /api/v1/audit reporting
// an empty chain.
func (s *Server) WithAuditLog(path string) *Server {
	s.auditLogPath = path
	return s
}

// handleHealthz responds to GET /healthz with a liveness confirmation; it
// never depends on the registry or catalog so it stays correct even if
// either is misbehaving.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleGetStatus responds to GET /api/v1/status with aggregate session
// counters.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.registry.StatusSnapshot())
}

// handleGetSessions responds to GET /api/v1/sessions with the most recently
// closed server sessions.
func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.registry.Recent())
}

// handleGetOpenSessions responds to GET /api/v1/sessions/open with the
// server sessions that have been accepted but not yet closed.
func (s *Server) handleGetOpenSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	open := s.registry.OpenSessions()
	if open == nil {
		open = []OpenSessionInfo{}
	}
	_ = json.NewEncoder(w).Encode(open)
}

// handleGetCatalog responds to GET /api/v1/catalog with the current
// ingestion catalog, or an empty array when no catalog is configured.
func (s *Server) handleGetCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.catalog.All(context.Background())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if entries == nil {
		entries = []catalog.Entry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}

// handleGetAudit responds to GET /api/v1/audit with the verified chain of
// authentication-failure entries, or an empty array when no audit log is
// configured. A broken chain is reported as a 500 rather than silently
// returning a truncated or falsified history.
func (s *Server) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.auditLogPath == "" {
		_ = json.NewEncoder(w).Encode([]audit.Entry{})
		return
	}
	entries, err := audit.Verify(s.auditLogPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	_ = json.NewEncoder(w).Encode(entries)
}
