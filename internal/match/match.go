// Package match pairs destination column names with source field paths
// using progressively looser name comparison.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after canonical decomposition, so
// accented column names compare equal to their ASCII field counterparts.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize folds a column or field name for comparison: diacritics
// stripped, lowercased, underscores and dots removed. "User_ID" and
// "user.id" normalize to the same string.
func Normalize(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if r == '_' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizePath normalizes every segment of a field path while keeping
// the dots that separate them. Path structure stays significant, so a
// nested "user.id" never collides with a flat "user_id".
func NormalizePath(path string) string {
	segs := strings.Split(path, ".")
	for i, s := range segs {
		segs[i] = Normalize(s)
	}
	return strings.Join(segs, ".")
}

// lastSegment returns the path portion after the final dot.
func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// BestMatch finds the candidate field path that best fits a column name.
// Three stages, strictly ordered, first hit wins; within a stage the
// candidates are scanned in order and the first match is taken:
//
//  1. normalized full path (dots significant) equals the normalized
//     column name
//  2. normalized last path segment equals the normalized column name
//  3. substring containment in either direction between normalized last
//     segment and normalized column name
//
// Returns the matched path and true, or "" and false when nothing fits.
func BestMatch(column string, candidates []string) (string, bool) {
	target := Normalize(column)
	if target == "" {
		return "", false
	}

	pathTarget := NormalizePath(column)
	for _, c := range candidates {
		if NormalizePath(c) == pathTarget {
			return c, true
		}
	}
	for _, c := range candidates {
		if Normalize(lastSegment(c)) == target {
			return c, true
		}
	}
	for _, c := range candidates {
		seg := Normalize(lastSegment(c))
		if seg == "" {
			continue
		}
		if strings.Contains(target, seg) || strings.Contains(seg, target) {
			return c, true
		}
	}
	return "", false
}
