// Package sqlite is a vectorstore.Backend persisted in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/creastat/llmkit/pkg/types"
	"github.com/creastat/llmkit/pkg/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	id       TEXT NOT NULL UNIQUE,
	text     TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	vector   BLOB NOT NULL
)`

// Backend stores records in one SQLite table. Vectors are little-endian
// float32 blobs; seq fixes insertion order and survives replacement.
type Backend struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema
func Open(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", types.ErrBackend, err)
	}

	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", types.ErrBackend, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", types.ErrBackend, err)
	}

	return &Backend{db: db}, nil
}

// Upsert implements vectorstore.Backend. The whole batch is one transaction.
func (b *Backend) Upsert(ctx context.Context, records []vectorstore.Record) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", types.ErrBackend, err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO records (id, text, metadata, vector)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text     = excluded.text,
			metadata = excluded.metadata,
			vector   = excluded.vector
	`
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", types.ErrBackend, err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", types.ErrBackend, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Text, string(meta), vectorstore.EncodeVector(r.Vector)); err != nil {
			return fmt.Errorf("%w: upsert %s: %v", types.ErrBackend, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", types.ErrBackend, err)
	}
	return nil
}

// Delete implements vectorstore.Backend
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", types.ErrBackend, err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
			return fmt.Errorf("%w: delete %s: %v", types.ErrBackend, id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", types.ErrBackend, err)
	}
	return nil
}

// Scan implements vectorstore.Backend. Rows are read fully before fn runs
// so fn may call back into the backend on the single connection.
func (b *Backend) Scan(ctx context.Context, fn func(vectorstore.Record) bool) error {
	rows, err := b.db.QueryContext(ctx, `SELECT seq, id, text, metadata, vector FROM records ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("%w: query: %v", types.ErrBackend, err)
	}

	var records []vectorstore.Record
	for rows.Next() {
		var (
			r    vectorstore.Record
			meta string
			blob []byte
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.Text, &meta, &blob); err != nil {
			rows.Close()
			return fmt.Errorf("%w: scan: %v", types.ErrBackend, err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			rows.Close()
			return fmt.Errorf("%w: metadata of %s: %v", types.ErrBackend, r.ID, err)
		}
		r.Vector = vectorstore.DecodeVector(blob)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("%w: rows: %v", types.ErrBackend, err)
	}
	rows.Close()

	for _, r := range records {
		if !fn(r) {
			return nil
		}
	}
	return nil
}

// Close closes the underlying database connection
func (b *Backend) Close() error {
	return b.db.Close()
}

var _ vectorstore.Backend = (*Backend)(nil)
