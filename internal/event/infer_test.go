package event

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestInfer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		doc   string
		path  string
		want  Type
	}{
		{"small positive int", `{"v":42}`, "v", TypeInt8},
		{"uint8 when int8 overflows", `{"v":200}`, "v", TypeUint8},
		{"int16 for small negative beyond int8", `{"v":-200}`, "v", TypeInt16},
		{"int8 boundary", `{"v":127}`, "v", TypeInt8},
		{"uint8 boundary", `{"v":255}`, "v", TypeUint8},
		{"int16 after uint8", `{"v":256}`, "v", TypeInt16},
		{"int32", `{"v":70000}`, "v", TypeInt32},
		{"uint32", `{"v":4000000000}`, "v", TypeUint32},
		{"int64", `{"v":5000000000}`, "v", TypeInt64},
		{"negative int64", `{"v":-5000000000}`, "v", TypeInt64},
		{"uint64 beyond int64", `{"v":10000000000000000000}`, "v", TypeUint64},
		{"beyond uint64 keeps text", `{"v":100000000000000000000}`, "v", TypeString},
		{"float in float32 window", `{"v":3.14}`, "v", TypeFloat32},
		{"tiny float widens", `{"v":1.5e-40}`, "v", TypeFloat64},
		{"integral float buckets as integer", `{"v":0.0}`, "v", TypeInt8},
		{"integral exponent form", `{"v":2.56e2}`, "v", TypeInt16},
		{"bool true", `{"v":true}`, "v", TypeBool},
		{"bool false", `{"v":false}`, "v", TypeBool},
		{"string", `{"v":"abc"}`, "v", TypeString},
		{"numeric string stays string", `{"v":"42"}`, "v", TypeString},
		{"null", `{"v":null}`, "v", TypeNull},
		{"array", `{"v":[1,2]}`, "v", TypeArray},
		{"object", `{"v":{"a":1}}`, "v", TypeObject},
		{"missing field", `{"v":1}`, "w", TypeUndefined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Infer(gjson.Get(tt.doc, tt.path))
			if got != tt.want {
				t.Errorf("Infer(%s @ %s) = %v, want %v", tt.doc, tt.path, got, tt.want)
			}
		})
	}
}

func TestInferNumberText(t *testing.T) {
	t.Parallel()

	// Numbers too large for float64 arrive as raw text and must not fail.
	if got := inferNumber("1e999"); got != TypeString {
		t.Errorf("inferNumber(1e999) = %v, want %v", got, TypeString)
	}
}

func TestSniffString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want StringFormat
	}{
		{"550e8400-e29b-41d4-a716-446655440000", FormatUUID},
		{"2024-06-01T12:00:00Z", FormatDateTime},
		{"2024-06-01", FormatDate},
		{"3.14", FormatNumberish},
		{"hello", FormatPlain},
		{"", FormatPlain},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			if got := SniffString(tt.in); got != tt.want {
				t.Errorf("SniffString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
