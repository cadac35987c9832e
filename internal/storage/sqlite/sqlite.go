// Package sqlite implements storage.Store on SQLite, for local and
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"chmap/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return New(ctx, cfg.DSN)
	})
}

// Store persists pipeline mappings in a local SQLite database.
type Store struct {
	db *sql.DB
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS pipeline_mappings (
	pipeline_id  TEXT    NOT NULL,
	position     INTEGER NOT NULL,
	column_name  TEXT    NOT NULL,
	column_type  TEXT    NOT NULL,
	field_name   TEXT    NOT NULL DEFAULT '',
	json_type    TEXT    NOT NULL DEFAULT '',
	source_topic TEXT    NOT NULL DEFAULT '',
	updated_at   TEXT    NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (pipeline_id, position)
)`

// New opens (and creates if needed) the database at dsn and ensures the
// mapping table exists. The dsn is a file path or ":memory:".
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock errors.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveMapping implements storage.Store.
func (s *Store) SaveMapping(ctx context.Context, pipelineID string, recs []storage.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, deleteSQL(), pipelineID); err != nil {
		return fmt.Errorf("sqlite: clear mapping: %w", err)
	}
	for _, r := range recs {
		if _, err := tx.ExecContext(ctx, insertSQL(),
			pipelineID, r.Position, r.ColumnName, r.ColumnType,
			r.FieldName, r.JSONType, r.SourceTopic); err != nil {
			return fmt.Errorf("sqlite: insert mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// LoadMapping implements storage.Store.
func (s *Store) LoadMapping(ctx context.Context, pipelineID string) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL(), pipelineID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load mapping: %w", err)
	}
	defer rows.Close()

	var recs []storage.Record
	for rows.Next() {
		var r storage.Record
		if err := rows.Scan(&r.Position, &r.ColumnName, &r.ColumnType,
			&r.FieldName, &r.JSONType, &r.SourceTopic); err != nil {
			return nil, fmt.Errorf("sqlite: scan mapping row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read mapping rows: %w", err)
	}
	return recs, nil
}

// DeleteMapping implements storage.Store.
func (s *Store) DeleteMapping(ctx context.Context, pipelineID string) error {
	if _, err := s.db.ExecContext(ctx, deleteSQL(), pipelineID); err != nil {
		return fmt.Errorf("sqlite: delete mapping: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() {
	_ = s.db.Close()
}

func deleteSQL() string {
	return `DELETE FROM pipeline_mappings WHERE pipeline_id = ?`
}

func insertSQL() string {
	return `INSERT INTO pipeline_mappings
	(pipeline_id, position, column_name, column_type, field_name, json_type, source_topic)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
}

func selectSQL() string {
	return `SELECT position, column_name, column_type, field_name, json_type, source_topic
	FROM pipeline_mappings WHERE pipeline_id = ? ORDER BY position`
}

var _ storage.Store = (*Store)(nil)
