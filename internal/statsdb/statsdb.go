// Package statsdb persists the agent's per-path ingestion stats in a
// WAL-mode SQLite database, so an operator can inspect what has been
// shipped across restarts. It is purely observational (SPEC_FULL.md §11.5):
// the follower never reads it back to decide a resume offset, that number
// always comes from the server's length reply.
package statsdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// DB is a WAL-mode SQLite-backed store of per-path ingestion counters. It is
// safe for concurrent use.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory
// database is used.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statsdb: open %q: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statsdb: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statsdb: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("statsdb: apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS path_stats (
    path               TEXT    PRIMARY KEY,
    inode              INTEGER NOT NULL,
    last_offset        INTEGER NOT NULL DEFAULT 0,
    bytes_shipped      INTEGER NOT NULL DEFAULT 0,
    last_rotation_time TEXT,
    updated_at         TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);
`

// RecordAppend upserts the row for path after a data frame of n bytes has
// been acknowledged by the server, landing the file at inode/offset.
func (d *DB) RecordAppend(ctx context.Context, path string, inode uint64, offset int64, n int) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO path_stats (path, inode, last_offset, bytes_shipped, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			inode = excluded.inode,
			last_offset = excluded.last_offset,
			bytes_shipped = path_stats.bytes_shipped + excluded.bytes_shipped,
			updated_at = excluded.updated_at
	`, path, inode, offset, n, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("statsdb: record append: %w", err)
	}
	return nil
}

// RecordRotation updates path's row to reflect a new inode after a rotation
// was detected, and stamps last_rotation_time.
func (d *DB) RecordRotation(ctx context.Context, path string, inode uint64, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO path_stats (path, inode, last_rotation_time, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			inode = excluded.inode,
			last_rotation_time = excluded.last_rotation_time,
			updated_at = excluded.updated_at
	`, path, inode, at.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("statsdb: record rotation: %w", err)
	}
	return nil
}

// PathStat is one path's current ingestion counters.
type PathStat struct {
	Path             string
	Inode            uint64
	LastOffset       int64
	BytesShipped     int64
	LastRotationTime *time.Time
}

// All returns the current stats for every tracked path, ordered by path.
func (d *DB) All(ctx context.Context) ([]PathStat, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT path, inode, last_offset, bytes_shipped, last_rotation_time
		FROM path_stats ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("statsdb: query all: %w", err)
	}
	defer rows.Close()

	var out []PathStat
	for rows.Next() {
		var st PathStat
		var rotated sql.NullString
		if err := rows.Scan(&st.Path, &st.Inode, &st.LastOffset, &st.BytesShipped, &rotated); err != nil {
			return nil, fmt.Errorf("statsdb: scan: %w", err)
		}
		if rotated.Valid {
			if t, err := time.Parse(time.RFC3339Nano, rotated.String); err == nil {
				st.LastRotationTime = &t
			}
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statsdb: rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
