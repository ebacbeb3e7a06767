package influx

import (
	"encoding/json"
	"strconv"
	"time"
)

// FieldType is the collapsed InfluxDB field type used by the configuration
// filters: float and integer both map to numeric.
type FieldType string

const (
	TypeNumeric FieldType = "numeric"
	TypeString  FieldType = "string"
	TypeBoolean FieldType = "boolean"
)

// NativeType is the concrete field type as reported by SHOW FIELD KEYS. It is
// carried alongside the collapsed type because the line-protocol rendering of
// a value depends on it: a float field must stay float on the destination
// even when a value happens to be whole.
type NativeType string

const (
	NativeFloat   NativeType = "float"
	NativeInteger NativeType = "integer"
	NativeString  NativeType = "string"
	NativeBoolean NativeType = "boolean"
)

// Collapsed maps a native type to the filter-level FieldType.
func (n NativeType) Collapsed() FieldType {
	switch n {
	case NativeFloat, NativeInteger:
		return TypeNumeric
	case NativeBoolean:
		return TypeBoolean
	default:
		return TypeString
	}
}

// ValueKind discriminates the scalar variants a field value can take.
type ValueKind int

const (
	KindFloat ValueKind = iota
	KindInt
	KindString
	KindBool
)

// Value is a tagged scalar carried through the pipeline and rendered with the
// correct line-protocol suffix at encode time.
type Value struct {
	Kind ValueKind

	Float float64
	Int   int64
	Str   string
	Bool  bool
}

func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

// valueFromJSON converts a decoded JSON cell into a Value, coercing numbers
// by the field's declared type rather than by JSON shape: a float field whose
// value is whole still decodes as JSON 23, and inferring int from that would
// flip the destination field to integer on first write. Returns false for
// null cells.
func valueFromJSON(raw interface{}, native NativeType) (Value, bool) {
	switch v := raw.(type) {
	case nil:
		return Value{}, false
	case bool:
		return BoolValue(v), true
	case string:
		return StringValue(v), true
	case json.Number:
		if native == NativeInteger {
			if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
				return IntValue(i), true
			}
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, false
		}
		return FloatValue(f), true
	case float64:
		if native == NativeInteger {
			return IntValue(int64(v)), true
		}
		return FloatValue(v), true
	default:
		return Value{}, false
	}
}

// Point is one row returned by a single-field query: a nanosecond timestamp,
// the row's tag set, and the field value.
type Point struct {
	Timestamp int64
	Tags      map[string]string
	Field     string
	Value     Value
}

// Time returns the point timestamp as a time.Time.
func (p Point) Time() time.Time {
	return time.Unix(0, p.Timestamp).UTC()
}

// FieldKey is one entry of SHOW FIELD KEYS: the field name, its concrete
// type, and the collapsed type the filters operate on.
type FieldKey struct {
	Field  string
	Type   FieldType
	Native NativeType
}

// Window is a half-open time interval [Start, End) in nanoseconds. When
// StartExclusive is set the lower bound is strict (time > Start), which is
// how incremental jobs resume immediately after the destination's last
// written point without +1ns arithmetic.
type Window struct {
	Start          int64
	End            int64
	StartExclusive bool
}
