package event

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Float32 has a normal range of about ±3.4e38 with the smallest normal
// magnitude near 1.2e-38. A float only qualifies as float32 when its
// absolute value sits strictly inside that window; zero and out-of-window
// values widen to float64.
const (
	float32MinNormal = 1.2e-38
	float32MaxNormal = 3.4e38
)

// Infer returns the narrowest semantic type for a JSON value.
//
// Integers are bucketed by the smallest width that can hold them, trying
// signed before unsigned at each width: 200 infers as uint8 (int8 cannot
// hold it), -200 as int16. Numbers that fit no 64-bit integer and no
// float64 infer as string, preserving the textual form. Infer is total;
// anything unrecognized falls back to string.
func Infer(v gjson.Result) Type {
	if !v.Exists() {
		return TypeUndefined
	}
	switch v.Type {
	case gjson.Null:
		return TypeNull
	case gjson.True, gjson.False:
		return TypeBool
	case gjson.Number:
		return inferNumber(v.Raw)
	case gjson.String:
		return TypeString
	case gjson.JSON:
		if v.IsArray() {
			return TypeArray
		}
		return TypeObject
	}
	return TypeString
}

func inferNumber(raw string) Type {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return intBucket(i)
	}
	if _, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return TypeUint64
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(f, 0) {
		// Beyond every numeric type we can represent; keep the text.
		return TypeString
	}
	if f == math.Trunc(f) {
		// Integral value written in non-integer notation, or out of
		// 64-bit range. Out-of-range integrals keep their text form.
		// MaxInt64 rounds up to 2^63 as a float, so the boundary itself
		// must take the unsigned path.
		if f >= math.MinInt64 && f < math.MaxInt64 {
			return intBucket(int64(f))
		}
		if f >= 0 && f < math.MaxUint64 {
			return TypeUint64
		}
		return TypeString
	}
	return floatBucket(f)
}

func intBucket(i int64) Type {
	type bucket struct {
		signed   Type
		unsigned Type
		min, max int64
		umax     uint64
	}
	buckets := []bucket{
		{TypeInt8, TypeUint8, math.MinInt8, math.MaxInt8, math.MaxUint8},
		{TypeInt16, TypeUint16, math.MinInt16, math.MaxInt16, math.MaxUint16},
		{TypeInt32, TypeUint32, math.MinInt32, math.MaxInt32, math.MaxUint32},
		{TypeInt64, TypeUint64, math.MinInt64, math.MaxInt64, math.MaxUint64},
	}
	for _, b := range buckets {
		if i >= b.min && i <= b.max {
			return b.signed
		}
		if i >= 0 && uint64(i) <= b.umax {
			return b.unsigned
		}
	}
	return TypeInt64
}

func floatBucket(f float64) Type {
	abs := math.Abs(f)
	if abs > float32MinNormal && abs < float32MaxNormal {
		return TypeFloat32
	}
	return TypeFloat64
}

// StringFormat classifies the content of a string value. It is purely
// informational: string values always infer as TypeString, but knowing a
// value parses as a UUID or timestamp helps column matching heuristics
// and diagnostics.
type StringFormat string

const (
	FormatPlain     StringFormat = "plain"
	FormatUUID      StringFormat = "uuid"
	FormatDateTime  StringFormat = "datetime"
	FormatDate      StringFormat = "date"
	FormatNumberish StringFormat = "number"
)

// SniffString reports the apparent format of a string value.
func SniffString(s string) StringFormat {
	if s == "" {
		return FormatPlain
	}
	if _, err := uuid.Parse(s); err == nil {
		return FormatUUID
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return FormatDateTime
	}
	if _, err := time.Parse(time.DateOnly, s); err == nil {
		return FormatDate
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return FormatNumberish
	}
	return FormatPlain
}
