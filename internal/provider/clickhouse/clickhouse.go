// Package clickhouse supplies destination table schemas from a live
// ClickHouse server.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/avast/retry-go"

	"chmap/internal/mapping"
)

// Options configures the ClickHouse connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool

	// MaxRetries bounds schema query retries. If <= 0, defaults to 3.
	MaxRetries uint
}

// Provider reads table schemas over the native protocol.
type Provider struct {
	conn       driver.Conn
	maxRetries uint
}

// New connects to ClickHouse and verifies the connection with a ping.
func New(ctx context.Context, opts Options) (*Provider, error) {
	chOpts := &clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 10 * time.Second,
	}
	if opts.Secure {
		chOpts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Provider{conn: conn, maxRetries: maxRetries}, nil
}

const columnsQuery = `
SELECT name, type, default_kind, is_in_primary_key
FROM system.columns
WHERE database = ? AND table = ?
ORDER BY position`

// Columns returns the destination columns of a table in declaration
// order, including ALIAS/MATERIALIZED columns; the mapping layer decides
// what is mappable. An unknown table returns an empty slice.
func (p *Provider) Columns(ctx context.Context, database, table string) ([]mapping.DestinationColumn, error) {
	var cols []mapping.DestinationColumn

	err := retry.Do(
		func() error {
			rows, err := p.conn.Query(ctx, columnsQuery, database, table)
			if err != nil {
				return fmt.Errorf("query system.columns: %w", err)
			}
			defer rows.Close()

			cols = cols[:0]
			for rows.Next() {
				var (
					name, typ, defaultKind string
					inPrimaryKey           uint8
				)
				if err := rows.Scan(&name, &typ, &defaultKind, &inPrimaryKey); err != nil {
					return fmt.Errorf("scan system.columns row: %w", err)
				}
				cols = append(cols, columnFromRow(name, typ, defaultKind, inPrimaryKey != 0))
			}
			return rows.Err()
		},
		retry.Context(ctx),
		retry.Attempts(p.maxRetries),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: columns of %s.%s: %w", database, table, err)
	}
	return cols, nil
}

// Databases lists databases visible to the configured user, system
// databases excluded.
func (p *Provider) Databases(ctx context.Context) ([]string, error) {
	return p.listNames(ctx, `
		SELECT name FROM system.databases
		WHERE name NOT IN ('system', 'information_schema', 'INFORMATION_SCHEMA')
		ORDER BY name`)
}

// Tables lists tables of a database.
func (p *Provider) Tables(ctx context.Context, database string) ([]string, error) {
	return p.listNames(ctx, `SELECT name FROM system.tables WHERE database = ? ORDER BY name`, database)
}

func (p *Provider) listNames(ctx context.Context, query string, args ...any) ([]string, error) {
	var names []string
	err := retry.Do(
		func() error {
			rows, err := p.conn.Query(ctx, query, args...)
			if err != nil {
				return err
			}
			defer rows.Close()

			names = names[:0]
			for rows.Next() {
				var n string
				if err := rows.Scan(&n); err != nil {
					return err
				}
				names = append(names, n)
			}
			return rows.Err()
		},
		retry.Context(ctx),
		retry.Attempts(p.maxRetries),
		retry.Delay(200*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: list names: %w", err)
	}
	return names, nil
}

// Close releases the connection.
func (p *Provider) Close() error {
	return p.conn.Close()
}

// columnFromRow converts one system.columns row. Nullability is carried
// by the type string; the flag is derived here so callers have both.
func columnFromRow(name, typ, defaultKind string, inPrimaryKey bool) mapping.DestinationColumn {
	return mapping.DestinationColumn{
		Name:        name,
		Type:        typ,
		Nullable:    strings.HasPrefix(typ, "Nullable("),
		DefaultKind: defaultKind,
		IsKey:       inPrimaryKey,
	}
}

// QuoteIdentifier wraps a database, table, or column name in backticks
// for safe interpolation into DDL, escaping embedded backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}
