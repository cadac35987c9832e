package chtype

import (
	"testing"

	"chmap/internal/event"
)

func TestCompatible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  event.Type
		dest string
		want bool
	}{
		{"int64 to Int64", event.TypeInt64, "Int64", true},
		{"int64 to DateTime via nullable", event.TypeInt64, "Nullable(DateTime)", true},
		{"int64 to DateTime64", event.TypeInt64, "DateTime64(3)", true},
		{"int64 to Int32 narrows", event.TypeInt64, "Int32", false},
		{"int8 widens to Int64", event.TypeInt8, "Int64", true},
		{"int8 fragment matches inside UInt8", event.TypeInt8, "UInt8", true},
		{"int32 to DateTime", event.TypeInt32, "DateTime", true},
		{"uint8 to UInt16", event.TypeUint8, "UInt16", true},
		{"uint8 to signed Int16", event.TypeUint8, "Int16", true},
		{"uint64 to Int64", event.TypeUint64, "Int64", false},
		{"float32 to Float64", event.TypeFloat32, "Float64", true},
		{"float64 to Float32 narrows", event.TypeFloat64, "Float32", false},
		{"float64 epoch to DateTime", event.TypeFloat64, "DateTime64(6)", true},
		{"bool to Bool", event.TypeBool, "Bool", true},
		{"bool to String", event.TypeBool, "String", false},

		{"string to String", event.TypeString, "String", true},
		{"string to UUID", event.TypeString, "UUID", true},
		{"string to numeric", event.TypeString, "Int32", true},
		{"string to DateTime", event.TypeString, "DateTime", true},
		{"string to Decimal", event.TypeString, "Decimal(10,2)", true},
		{"string to Enum8", event.TypeString, "Enum8('a'=1)", true},
		{"string to IPv6", event.TypeString, "IPv6", true},
		{"string to FixedString", event.TypeString, "FixedString(16)", true},
		{"string to Map", event.TypeString, "Map(String, String)", false},
		{"string to Tuple", event.TypeString, "Tuple(String, Int8)", false},
		{"string to nullable Map", event.TypeString, "Nullable(Map(String, String))", false},

		{"array to Array", event.TypeArray, "Array(String)", true},
		{"array to Array of ints", event.TypeArray, "Array(UInt32)", true},
		{"array to scalar", event.TypeArray, "String", false},
		{"scalar into Array element", event.TypeInt8, "Array(Int64)", true},
		{"scalar into Array element mismatch", event.TypeBool, "Array(Int64)", false},

		{"object to Map", event.TypeObject, "Map(String, Int64)", true},
		{"object to JSON", event.TypeObject, "JSON", true},
		{"object to Tuple", event.TypeObject, "Tuple(id Int64, name String)", true},
		{"object to String", event.TypeObject, "String", false},
		{"uint64 fragment inside Map parameters", event.TypeUint64, "Map(String, UInt64)", false},

		{"null never compatible", event.TypeNull, "Nullable(String)", false},
		{"undefined never compatible", event.TypeUndefined, "String", false},
		{"unknown source type", event.Type("decimal"), "Decimal(10,2)", false},

		{"nested wrappers", event.TypeString, "Nullable(LowCardinality(String))", true},
		{"lowcardinality unwraps", event.TypeString, "LowCardinality(String)", true},
		{"array of nullable", event.TypeInt16, "Array(Nullable(Int32))", true},
		{"case-insensitive source lookup", event.Type("INT64"), "Int64", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Compatible(tt.src, tt.dest); got != tt.want {
				t.Errorf("Compatible(%q, %q) = %v, want %v", tt.src, tt.dest, got, tt.want)
			}
		})
	}
}
