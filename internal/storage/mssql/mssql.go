// Package mssql implements storage.Store on SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"chmap/internal/storage"
)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return New(ctx, cfg.DSN)
	})
}

// Store persists pipeline mappings in SQL Server.
type Store struct {
	db *sql.DB
}

// IF NOT EXISTS has no DDL form on SQL Server; guard via sys.tables.
const schemaDDL = `
IF NOT EXISTS (SELECT 1 FROM sys.tables WHERE name = 'pipeline_mappings')
CREATE TABLE pipeline_mappings (
	pipeline_id  NVARCHAR(256) NOT NULL,
	position     INT           NOT NULL,
	column_name  NVARCHAR(256) NOT NULL,
	column_type  NVARCHAR(256) NOT NULL,
	field_name   NVARCHAR(512) NOT NULL DEFAULT '',
	json_type    NVARCHAR(64)  NOT NULL DEFAULT '',
	source_topic NVARCHAR(256) NOT NULL DEFAULT '',
	updated_at   DATETIME2     NOT NULL DEFAULT SYSUTCDATETIME(),
	PRIMARY KEY (pipeline_id, position)
)`

// New connects to SQL Server and ensures the mapping table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveMapping implements storage.Store.
func (s *Store) SaveMapping(ctx context.Context, pipelineID string, recs []storage.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mssql: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, deleteSQL(), sql.Named("pipeline_id", pipelineID)); err != nil {
		return fmt.Errorf("mssql: clear mapping: %w", err)
	}
	for _, r := range recs {
		if _, err := tx.ExecContext(ctx, insertSQL(),
			sql.Named("pipeline_id", pipelineID),
			sql.Named("position", r.Position),
			sql.Named("column_name", r.ColumnName),
			sql.Named("column_type", r.ColumnType),
			sql.Named("field_name", r.FieldName),
			sql.Named("json_type", r.JSONType),
			sql.Named("source_topic", r.SourceTopic)); err != nil {
			return fmt.Errorf("mssql: insert mapping: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mssql: commit: %w", err)
	}
	return nil
}

// LoadMapping implements storage.Store.
func (s *Store) LoadMapping(ctx context.Context, pipelineID string) ([]storage.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectSQL(), sql.Named("pipeline_id", pipelineID))
	if err != nil {
		return nil, fmt.Errorf("mssql: load mapping: %w", err)
	}
	defer rows.Close()

	var recs []storage.Record
	for rows.Next() {
		var r storage.Record
		if err := rows.Scan(&r.Position, &r.ColumnName, &r.ColumnType,
			&r.FieldName, &r.JSONType, &r.SourceTopic); err != nil {
			return nil, fmt.Errorf("mssql: scan mapping row: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mssql: read mapping rows: %w", err)
	}
	return recs, nil
}

// DeleteMapping implements storage.Store.
func (s *Store) DeleteMapping(ctx context.Context, pipelineID string) error {
	if _, err := s.db.ExecContext(ctx, deleteSQL(), sql.Named("pipeline_id", pipelineID)); err != nil {
		return fmt.Errorf("mssql: delete mapping: %w", err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() {
	_ = s.db.Close()
}

func deleteSQL() string {
	return `DELETE FROM pipeline_mappings WHERE pipeline_id = @pipeline_id`
}

func insertSQL() string {
	return `INSERT INTO pipeline_mappings
	(pipeline_id, position, column_name, column_type, field_name, json_type, source_topic)
	VALUES (@pipeline_id, @position, @column_name, @column_type, @field_name, @json_type, @source_topic)`
}

func selectSQL() string {
	return `SELECT position, column_name, column_type, field_name, json_type, source_topic
	FROM pipeline_mappings WHERE pipeline_id = @pipeline_id ORDER BY position`
}

var _ storage.Store = (*Store)(nil)
