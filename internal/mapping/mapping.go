// Package mapping builds and maintains the column-to-field mapping
// between a ClickHouse destination table and sampled Kafka events.
//
// All operations are pure functions: they take the current mapping set
// and return a new one, never mutating their inputs. The host owns the
// authoritative set and must serialize calls per pipeline.
package mapping

import (
	"chmap/internal/event"
	"chmap/internal/match"
)

// DestinationColumn describes one column of the destination table.
type DestinationColumn struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Nullable    bool   `json:"nullable"`
	DefaultKind string `json:"default_kind,omitempty"`
	IsKey       bool   `json:"is_key,omitempty"`
}

// Mappable reports whether the column can receive ingested data.
// ALIAS and MATERIALIZED columns are computed by the server and are
// excluded from mapping entirely.
func (c DestinationColumn) Mappable() bool {
	return c.DefaultKind != "ALIAS" && c.DefaultKind != "MATERIALIZED"
}

// HasDefault reports whether the server fills the column when it is
// absent from an insert.
func (c DestinationColumn) HasDefault() bool {
	return c.DefaultKind != ""
}

// ColumnMapping binds one destination column to a source event field.
// An empty EventField means the column is unmapped.
type ColumnMapping struct {
	Column      DestinationColumn `json:"column"`
	EventField  string            `json:"event_field,omitempty"`
	SourceTopic string            `json:"source_topic,omitempty"`
	JSONType    event.Type        `json:"json_type,omitempty"`
}

// Mapped reports whether the column has a source field bound.
func (m ColumnMapping) Mapped() bool { return m.EventField != "" }

// Set is the full ordered mapping for one destination table, indexed by
// column position.
type Set []ColumnMapping

// Clone returns a deep copy. ColumnMapping holds no reference types, so
// copying the slice is enough.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}

// MappedCount returns the number of columns with a field bound.
func (s Set) MappedCount() int {
	n := 0
	for _, m := range s {
		if m.Mapped() {
			n++
		}
	}
	return n
}

// Source is one sampled topic feeding the mapping. VerifiedTypes carries
// per-path types from an upstream schema-verification step; when present
// they are preferred over inference from the sampled event.
type Source struct {
	Topic         string
	Event         []byte
	VerifiedTypes map[string]event.Type
}

// Paths returns the mappable field paths of the sampled event.
func (s Source) Paths() []string {
	return event.Flatten(s.Event)
}

// TypeOf resolves the semantic type for a field path, preferring a
// verified type over inference.
func (s Source) TypeOf(path string) event.Type {
	if t, ok := s.VerifiedTypes[path]; ok {
		return t
	}
	return event.Infer(event.Lookup(s.Event, path))
}

// InitFromSchema creates an empty mapping set from a destination schema,
// one entry per mappable column, in schema order.
func InitFromSchema(columns []DestinationColumn) Set {
	var set Set
	for _, c := range columns {
		if !c.Mappable() {
			continue
		}
		set = append(set, ColumnMapping{Column: c})
	}
	return set
}

// RefreshSchema rebuilds the set against a changed destination schema.
// A column that kept its name keeps its mapping, wherever it moved in the
// column order; columns new to the schema start unmapped. Refreshing never
// drops a user-made mapping for a column whose name is unchanged, and
// refreshing with an identical schema is byte-identical to the input.
func RefreshSchema(columns []DestinationColumn, current Set) Set {
	byName := make(map[string]ColumnMapping, len(current))
	for _, m := range current {
		if m.Mapped() {
			byName[m.Column.Name] = m
		}
	}

	var set Set
	for _, c := range columns {
		if !c.Mappable() {
			continue
		}
		next := ColumnMapping{Column: c}
		if prev, ok := byName[c.Name]; ok {
			next.EventField = prev.EventField
			next.SourceTopic = prev.SourceTopic
			next.JSONType = prev.JSONType
		}
		set = append(set, next)
	}
	return set
}

// AutoMap fills every unmapped column by fuzzy-matching its name against
// the flattened field paths of the sources. Sources are tried in order
// and the first source with a match wins, so in dual-topic mode the
// primary (left) topic takes precedence over the secondary. SourceTopic
// is tagged only when more than one source is in play. Columns that are
// already mapped are left untouched. Returns the new set and whether any
// column changed.
func AutoMap(current Set, sources []Source) (Set, bool) {
	type sourcePaths struct {
		src   Source
		paths []string
	}
	flat := make([]sourcePaths, 0, len(sources))
	for _, s := range sources {
		flat = append(flat, sourcePaths{src: s, paths: s.Paths()})
	}

	set := current.Clone()
	changed := false
	for i, m := range set {
		if m.Mapped() {
			continue
		}
		for _, sp := range flat {
			path, ok := match.BestMatch(m.Column.Name, sp.paths)
			if !ok {
				continue
			}
			set[i].EventField = path
			set[i].JSONType = sp.src.TypeOf(path)
			if len(sources) > 1 {
				set[i].SourceTopic = sp.src.Topic
			}
			changed = true
			break
		}
	}
	return set, changed
}

// ManualMap binds a user-chosen field path to the column at index. An
// empty path explicitly unmaps the column. The semantic type is resolved
// from the source whose topic matches the tag, defaulting to the first
// source. An out-of-range index is a no-op.
func ManualMap(current Set, index int, fieldPath string, sources []Source, topic string) Set {
	set := current.Clone()
	if index < 0 || index >= len(set) {
		return set
	}
	if fieldPath == "" {
		set[index].EventField = ""
		set[index].SourceTopic = ""
		set[index].JSONType = ""
		return set
	}

	src := sourceByTopic(sources, topic)
	set[index].EventField = fieldPath
	set[index].JSONType = src.TypeOf(fieldPath)
	if len(sources) > 1 {
		set[index].SourceTopic = src.Topic
	} else {
		set[index].SourceTopic = ""
	}
	return set
}

// ResetAndAutoMap clears every binding and re-runs AutoMap, for an
// explicit user retry after destination or topic changes.
func ResetAndAutoMap(current Set, sources []Source) (Set, bool) {
	set := current.Clone()
	for i := range set {
		set[i].EventField = ""
		set[i].SourceTopic = ""
		set[i].JSONType = ""
	}
	return AutoMap(set, sources)
}

func sourceByTopic(sources []Source, topic string) Source {
	if topic != "" {
		for _, s := range sources {
			if s.Topic == topic {
				return s
			}
		}
	}
	if len(sources) > 0 {
		return sources[0]
	}
	return Source{}
}
