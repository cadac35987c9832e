// Package postgres implements storage.Store on PostgreSQL via pgxpool.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chmap/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return New(ctx, cfg.DSN)
	})
}

// Store persists pipeline mappings in a single table. Saving replaces the
// previous mapping transactionally, so readers never observe a mix of old
// and new rows.
type Store struct {
	pool *pgxpool.Pool
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
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (pipeline_id, position)
)`

// New connects to PostgreSQL and ensures the mapping table exists.
//
// Errors:
//   - Returns an error if the DSN is invalid, the server is unreachable,
//     or the schema cannot be created.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// SaveMapping implements storage.Store.
func (s *Store) SaveMapping(ctx context.Context, pipelineID string, recs []storage.Record) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, deleteSQL(), pipelineID); err != nil {
		return fmt.Errorf("postgres: clear mapping: %w", err)
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(insertSQL(),
			pipelineID, r.Position, r.ColumnName, r.ColumnType,
			r.FieldName, r.JSONType, r.SourceTopic)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: insert mapping: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// LoadMapping implements storage.Store.
func (s *Store) LoadMapping(ctx context.Context, pipelineID string) ([]storage.Record, error) {
	rows, err := s.pool.Query(ctx, selectSQL(), pipelineID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load mapping: %w", err)
	}
	defer rows.Close()

	var recs []storage.Record
	for rows.Next() {
		var r storage.Record
		if err := rows.Scan(&r.Position, &r.ColumnName, &r.ColumnType,
			&r.FieldName, &r.JSONType, &r.SourceTopic); err != nil {
			return nil, fmt.Errorf("postgres: scan mapping row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read mapping rows: %w", err)
	}
	return recs, nil
}

// DeleteMapping implements storage.Store.
func (s *Store) DeleteMapping(ctx context.Context, pipelineID string) error {
	if _, err := s.pool.Exec(ctx, deleteSQL(), pipelineID); err != nil {
		return fmt.Errorf("postgres: delete mapping: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() {
	s.pool.Close()
}

// SQL builders are split out so the statements stay testable without a
// live server.

func deleteSQL() string {
	return `DELETE FROM pipeline_mappings WHERE pipeline_id = $1`
}

func insertSQL() string {
	return `INSERT INTO pipeline_mappings
	(pipeline_id, position, column_name, column_type, field_name, json_type, source_topic)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`
}

func selectSQL() string {
	return `SELECT position, column_name, column_type, field_name, json_type, source_topic
	FROM pipeline_mappings WHERE pipeline_id = $1 ORDER BY position`
}

var _ storage.Store = (*Store)(nil)
