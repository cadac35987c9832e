// Package chtype decides whether a semantic source type can feed a
// ClickHouse destination column type.
package chtype

import (
	"strings"

	"chmap/internal/event"
)

// compatTable maps each semantic type to the destination type name
// fragments it may target. A source type is compatible when any fragment
// is a substring of the destination type string.
//
// The table is deliberately asymmetric and permissive toward string:
// string-encoded values can be parsed into most column types on insert,
// while the reverse is not true. Integer types accept DateTime columns
// because epoch integers are a common timestamp encoding. These
// tolerances are part of the contract and must not be tightened.
var compatTable = map[event.Type][]string{
	event.TypeInt8:  {"Int8", "Int16", "Int32", "Int64"},
	event.TypeInt16: {"Int16", "Int32", "Int64"},
	event.TypeInt32: {"Int32", "Int64", "DateTime"},
	event.TypeInt64: {"Int64", "DateTime"},

	event.TypeUint8:  {"UInt8", "UInt16", "UInt32", "UInt64", "Int16", "Int32", "Int64"},
	event.TypeUint16: {"UInt16", "UInt32", "UInt64", "Int32", "Int64"},
	event.TypeUint32: {"UInt32", "UInt64", "Int64", "DateTime"},
	event.TypeUint64: {"UInt64", "DateTime"},

	event.TypeFloat32: {"Float32", "Float64"},
	event.TypeFloat64: {"Float64", "DateTime"},

	event.TypeBool: {"Bool"},

	event.TypeString: {
		"String", "FixedString", "UUID",
		"Enum8", "Enum16",
		"Date", "DateTime",
		"Int8", "Int16", "Int32", "Int64",
		"UInt8", "UInt16", "UInt32", "UInt64",
		"Float32", "Float64",
		"Bool", "Decimal",
		"IPv4", "IPv6",
	},

	// object and array have no fragment entries: containers are decided by
	// the wrapper and container rules before the table lookup.
	event.TypeObject: nil,
	event.TypeArray:  nil,
}

// Compatible reports whether a source semantic type may feed a destination
// column of the given ClickHouse type.
//
// Wrapper types unwrap recursively: Nullable(X) and LowCardinality(X)
// defer to X; Array(X) accepts an array source outright, or any source
// compatible with X (single values are wrapped into one-element arrays on
// insert). Map, Tuple, Object and JSON destinations take only object
// sources. TypeNull and TypeUndefined are compatible with nothing.
func Compatible(src event.Type, dest string) bool {
	dest = strings.TrimSpace(dest)

	if inner, ok := unwrap(dest, "Nullable("); ok {
		return Compatible(src, inner)
	}
	if inner, ok := unwrap(dest, "LowCardinality("); ok {
		return Compatible(src, inner)
	}
	if inner, ok := unwrap(dest, "Array("); ok {
		if src == event.TypeArray {
			return true
		}
		return Compatible(src, inner)
	}

	// Container types carry their element types in the parameter list, so
	// a fragment match inside the parameters must not count: only an
	// object source can feed them.
	if isContainer(dest) {
		return src == event.TypeObject
	}

	fragments, ok := compatTable[event.Type(strings.ToLower(string(src)))]
	if !ok {
		return false
	}
	for _, frag := range fragments {
		if strings.Contains(dest, frag) {
			return true
		}
	}
	return false
}

// isContainer reports whether the destination base type is a key-value or
// tuple container.
func isContainer(dest string) bool {
	return strings.HasPrefix(dest, "Map(") ||
		strings.HasPrefix(dest, "Tuple(") ||
		strings.HasPrefix(dest, "Object(") ||
		dest == "JSON" || strings.HasPrefix(dest, "JSON(")
}

// unwrap strips a single wrapper prefix, returning the inner type string.
func unwrap(dest, prefix string) (string, bool) {
	if !strings.HasPrefix(dest, prefix) || !strings.HasSuffix(dest, ")") {
		return "", false
	}
	return strings.TrimSpace(dest[len(prefix) : len(dest)-1]), true
}
