package render

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// index mirrors the in-memory descriptor table into render_dir/.index.db so
// list_renders and get_render_stats can be served from a durable, queryable
// store, and so a crash-restart can rebuild state instead of trusting
// whatever the directory listing happens to show.
type index struct {
	db *sql.DB
}

func openIndex(path string) (*index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("render: open index: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	token      TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	mime_type  TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("render: create schema: %w", err)
	}
	return &index{db: db}, nil
}

func (idx *index) insert(a Artifact) error {
	_, err := idx.db.Exec(
		`INSERT OR REPLACE INTO artifacts (token, path, mime_type, size_bytes, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Token, a.Path, a.MimeType, a.SizeBytes, a.CreatedAt.UnixMilli(), a.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("render: index insert: %w", err)
	}
	return nil
}

func (idx *index) delete(token string) error {
	if _, err := idx.db.Exec(`DELETE FROM artifacts WHERE token = ?`, token); err != nil {
		return fmt.Errorf("render: index delete: %w", err)
	}
	return nil
}

func (idx *index) loadAll() ([]Artifact, error) {
	rows, err := idx.db.Query(`SELECT token, path, mime_type, size_bytes, created_at, expires_at FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("render: index scan: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var createdMs, expiresMs int64
		if err := rows.Scan(&a.Token, &a.Path, &a.MimeType, &a.SizeBytes, &createdMs, &expiresMs); err != nil {
			return nil, fmt.Errorf("render: index scan row: %w", err)
		}
		a.CreatedAt = time.UnixMilli(createdMs)
		a.ExpiresAt = time.UnixMilli(expiresMs)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (idx *index) close() error {
	return idx.db.Close()
}
