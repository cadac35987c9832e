// Package event implements sampling-side analysis of Kafka event bodies:
// flattening a JSON document into dotted leaf paths and inferring a semantic
// type tag per leaf value.
//
// The package is responsible for:
//   - Walking a sampled JSON event and producing the list of mappable
//     field paths (reserved metadata keys excluded, arrays kept as leaves)
//   - Inferring the narrowest semantic type for a leaf value
//   - Resolving a field path back to its value inside the event
//
// Design constraints:
//   - All functions are pure and total: malformed or missing input degrades
//     to an empty result or the string type, never an error.
//   - Path order must be deterministic and follow document key order, which
//     is why the package operates on raw JSON bytes via gjson rather than
//     on map[string]any (Go maps do not preserve order).
package event

// Type is the semantic type tag shared across the JSON, Kafka, and
// ClickHouse type systems. Values match the field-type names the pipeline
// runtime persists, so a Type can be stored as-is in a mapping config.
type Type string

const (
	TypeInt8    Type = "int8"
	TypeInt16   Type = "int16"
	TypeInt32   Type = "int32"
	TypeInt64   Type = "int64"
	TypeUint8   Type = "uint8"
	TypeUint16  Type = "uint16"
	TypeUint32  Type = "uint32"
	TypeUint64  Type = "uint64"
	TypeFloat32 Type = "float32"
	TypeFloat64 Type = "float64"
	TypeBool    Type = "bool"
	TypeString  Type = "string"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
	TypeNull    Type = "null"

	// TypeUndefined marks a value that is absent from the event entirely.
	// It is distinct from TypeNull (an explicit JSON null).
	TypeUndefined Type = "undefined"
)

// ReservedMetadataPrefix is the key namespace the ingestion runtime injects
// into sampled events. Fields under it are never user-mappable and are
// excluded from flattening by construction.
const ReservedMetadataPrefix = "_metadata"
