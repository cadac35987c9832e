// Package validate classifies mapping problems and reduces them to a
// single verdict that gates saving a pipeline.
package validate

import (
	"chmap/internal/chtype"
	"chmap/internal/event"
	"chmap/internal/mapping"
)

// Category names one class of mapping issue.
type Category string

const (
	// Blocking categories. A save must be refused while any of these hold.
	CategoryIncompatibleType    Category = "incompatible-type"
	CategoryMissingType         Category = "missing-type"
	CategoryNonNullableUnmapped Category = "non-nullable-unmapped"

	// Warning categories. A save may proceed after explicit confirmation.
	CategoryDefaultUnmapped  Category = "default-unmapped"
	CategoryNullableUnmapped Category = "nullable-unmapped"
	CategoryExtraSource      Category = "extra-source-fields"

	CategoryNone Category = "none"
)

// Blocking reports whether the category must halt a save.
func (c Category) Blocking() bool {
	switch c {
	case CategoryIncompatibleType, CategoryMissingType, CategoryNonNullableUnmapped:
		return true
	}
	return false
}

// Verdict is the single surfaced outcome of a validation run, selected by
// strict priority among the non-empty categories.
type Verdict struct {
	Category      Category `json:"category"`
	Blocking      bool     `json:"blocking"`
	AffectedNames []string `json:"affected_names,omitempty"`
}

// Report carries the verdict plus every computed category, for diagnostic
// display. Only the verdict gates the save.
type Report struct {
	Verdict Verdict               `json:"verdict"`
	Issues  map[Category][]string `json:"issues,omitempty"`
}

// priority is the triage order: correctness-breaking issues first, then
// advisory ones. The first non-empty category becomes the verdict.
var priority = []Category{
	CategoryIncompatibleType,
	CategoryMissingType,
	CategoryNonNullableUnmapped,
	CategoryDefaultUnmapped,
	CategoryNullableUnmapped,
	CategoryExtraSource,
}

// Validate walks the mapping set and the flattened source field paths and
// classifies every problem it finds. sourcePaths is the union of field
// paths across all sampled sources.
//
// The nullable-unmapped category only becomes the verdict when the set
// additionally has fewer mapped columns than total columns, which is
// always true when it is non-empty, so the extra guard is a cheap
// consistency check rather than a separate rule.
func Validate(set mapping.Set, sourcePaths []string) Report {
	issues := make(map[Category][]string)
	add := func(c Category, name string) {
		issues[c] = append(issues[c], name)
	}

	mappedBy := make(map[string]bool, len(set))
	for _, m := range set {
		if !m.Mapped() {
			col := m.Column
			switch {
			case col.HasDefault():
				add(CategoryDefaultUnmapped, col.Name)
			case col.Nullable || isNullableType(col.Type):
				add(CategoryNullableUnmapped, col.Name)
			default:
				add(CategoryNonNullableUnmapped, col.Name)
			}
			continue
		}

		mappedBy[m.EventField] = true
		if m.JSONType == "" || m.JSONType == event.TypeUndefined {
			add(CategoryMissingType, m.Column.Name)
			continue
		}
		if !chtype.Compatible(m.JSONType, m.Column.Type) {
			add(CategoryIncompatibleType, m.Column.Name)
		}
	}

	for _, p := range sourcePaths {
		if !mappedBy[p] {
			add(CategoryExtraSource, p)
		}
	}

	return Report{Verdict: selectVerdict(set, issues), Issues: issues}
}

func selectVerdict(set mapping.Set, issues map[Category][]string) Verdict {
	for _, c := range priority {
		names := issues[c]
		if len(names) == 0 {
			continue
		}
		if c == CategoryNullableUnmapped && set.MappedCount() >= len(set) {
			continue
		}
		return Verdict{Category: c, Blocking: c.Blocking(), AffectedNames: names}
	}
	return Verdict{Category: CategoryNone}
}

func isNullableType(t string) bool {
	return len(t) > 9 && t[:9] == "Nullable("
}
