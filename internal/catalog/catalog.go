// Package catalog is an optional, read-side index of server ingestion
// state: which (hostname, source path) pairs have been seen, their current
// destination length, and their last rotation time. It never replaces the
// filesystem as the source of truth (SPEC_FULL.md §11.3) — a nil *Store is
// always safe to call through, so the server runs uncatalogued whenever
// --catalog-dsn is not configured.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a pgx-backed index of ingestion state, grounded on the teacher
// codebase's pgxpool-based storage layer.
type Store struct {
	pool *pgxpool.Pool
}

const ddl = `
CREATE TABLE IF NOT EXISTS ingestion_catalog (
    hostname      TEXT        NOT NULL,
    source_path   TEXT        NOT NULL,
    dest_path     TEXT        NOT NULL,
    length        BIGINT      NOT NULL DEFAULT 0,
    last_rotation TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (hostname, source_path)
);
`

// Open connects to connStr, pings the database, and applies the schema.
func Open(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Touch upserts the current length for (hostname, sourcePath). rotatedAt is
// non-nil only on the call immediately following a detected rotation. A nil
// Store turns every call into a no-op, so callers never need a separate
// "is the catalog enabled" branch.
func (s *Store) Touch(ctx context.Context, hostname, sourcePath, destPath string, length int64, rotatedAt *time.Time) error {
	if s == nil {
		return nil
	}
	if rotatedAt != nil {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ingestion_catalog (hostname, source_path, dest_path, length, last_rotation, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (hostname, source_path) DO UPDATE SET
				dest_path = excluded.dest_path,
				length = excluded.length,
				last_rotation = excluded.last_rotation,
				updated_at = now()
		`, hostname, sourcePath, destPath, length, *rotatedAt)
		if err != nil {
			return fmt.Errorf("catalog: touch with rotation: %w", err)
		}
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_catalog (hostname, source_path, dest_path, length, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (hostname, source_path) DO UPDATE SET
			dest_path = excluded.dest_path,
			length = excluded.length,
			updated_at = now()
	`, hostname, sourcePath, destPath, length)
	if err != nil {
		return fmt.Errorf("catalog: touch: %w", err)
	}
	return nil
}

// Entry is one row of the ingestion catalog.
type Entry struct {
	Hostname     string     `json:"hostname"`
	SourcePath   string     `json:"source_path"`
	DestPath     string     `json:"dest_path"`
	Length       int64      `json:"length"`
	LastRotation *time.Time `json:"last_rotation,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// All returns every tracked (hostname, source path) pair, for the admin
// status endpoint. A nil Store returns an empty slice.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT hostname, source_path, dest_path, length, last_rotation, updated_at
		FROM ingestion_catalog ORDER BY hostname, source_path
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: query all: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Hostname, &e.SourcePath, &e.DestPath, &e.Length, &e.LastRotation, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: rows: %w", err)
	}
	return out, nil
}

// Close releases the connection pool. A nil Store is a no-op.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}
