// Package storage persists pipeline mapping configurations. The package
// defines a backend-agnostic Store interface plus a registry; concrete
// backends live in subpackages and register themselves from init().
package storage

import (
	"context"
	"fmt"
	"sync"

	"chmap/internal/mapping"
)

// Config is the minimal configuration needed to create a Store.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Record is one persisted column binding of a pipeline mapping. The
// column_name/field_name/column_type triple is what the ingestion runtime
// consumes; json_type and source_topic let the wizard restore its state.
type Record struct {
	ColumnName  string `json:"column_name"`
	ColumnType  string `json:"column_type"`
	FieldName   string `json:"field_name,omitempty"`
	JSONType    string `json:"json_type,omitempty"`
	SourceTopic string `json:"source_topic,omitempty"`
	Position    int    `json:"position"`
}

// Store is a backend-agnostic persistence surface for pipeline mappings.
//
// IMPORTANT: the interface is intentionally minimal. Each backend
// implements the save-replaces-previous semantics in its own idiomatic
// way (transactional delete+insert, upserts, etc).
type Store interface {
	// SaveMapping replaces the stored mapping for a pipeline with recs.
	// Saving an empty slice clears the mapping.
	SaveMapping(ctx context.Context, pipelineID string, recs []Record) error

	// LoadMapping returns the stored mapping in position order. A pipeline
	// with no stored mapping returns an empty slice, not an error.
	LoadMapping(ctx context.Context, pipelineID string) ([]Record, error)

	// DeleteMapping removes the stored mapping. Deleting a pipeline that
	// was never saved is a no-op.
	DeleteMapping(ctx context.Context, pipelineID string) error

	// Close releases backend resources. Treat as "call once".
	Close()
}

// RecordsFromSet converts an in-memory mapping set to its persisted form.
// Unmapped columns are persisted too, so a reload restores the full
// column list in order.
func RecordsFromSet(set mapping.Set) []Record {
	recs := make([]Record, 0, len(set))
	for i, m := range set {
		recs = append(recs, Record{
			ColumnName:  m.Column.Name,
			ColumnType:  m.Column.Type,
			FieldName:   m.EventField,
			JSONType:    string(m.JSONType),
			SourceTopic: m.SourceTopic,
			Position:    i,
		})
	}
	return recs
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered. Failing fast avoids ambiguous
//     backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Store using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with Register; New takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("storage: unsupported kind %q", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, for diagnostics.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
