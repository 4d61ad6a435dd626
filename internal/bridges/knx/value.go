package knx

import (
	"fmt"
	"strconv"
)

// Kind identifies which variant of a Value is populated.
type Kind uint8

// Value kinds.
const (
	// KindUnrepresentable marks a payload that could not be interpreted.
	// It is the zero Kind so an uninitialised Value never reads as 0 or "".
	KindUnrepresentable Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindText
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	default:
		return "unrepresentable"
	}
}

// Value is a decoded datapoint value: exactly one of Boolean, Integer,
// Float or Text, or Unrepresentable.
//
// Fields are unexported; use the constructors and the typed accessors,
// which report false when the requested variant is not the populated one.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// BoolValue returns a Boolean value.
func BoolValue(v bool) Value { return Value{kind: KindBoolean, b: v} }

// IntValue returns an Integer value.
func IntValue(v int64) Value { return Value{kind: KindInteger, i: v} }

// FloatValue returns a Float value.
func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

// TextValue returns a Text value.
func TextValue(v string) Value { return Value{kind: KindText, s: v} }

// Unrepresentable returns the Unrepresentable value.
func Unrepresentable() Value { return Value{} }

// Kind returns the populated variant.
func (v Value) Kind() Kind { return v.kind }

// Valid reports whether the value carries data.
func (v Value) Valid() bool { return v.kind != KindUnrepresentable }

// IsNumeric reports whether the value is an Integer or a Float.
func (v Value) IsNumeric() bool { return v.kind == KindInteger || v.kind == KindFloat }

// Bool returns the Boolean variant.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == KindBoolean }

// Int returns the Integer variant.
func (v Value) Int() (int64, bool) { return v.i, v.kind == KindInteger }

// Float returns the Float variant.
func (v Value) Float() (float64, bool) { return v.f, v.kind == KindFloat }

// Text returns the Text variant.
func (v Value) Text() (string, bool) { return v.s, v.kind == KindText }

// Any returns the populated variant as an interface value suitable for
// database/sql parameters and JSON encoding, or nil for Unrepresentable.
func (v Value) Any() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	default:
		return nil
	}
}

// String renders the value for storage and logs. Integers use decimal,
// floats the shortest representation that round-trips, booleans
// "true"/"false". Unrepresentable renders as the empty string; callers
// that persist values must check Valid first.
func (v Value) String() string {
	switch v.kind {
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	default:
		return ""
	}
}

// GoString implements fmt.GoStringer for test failure output.
func (v Value) GoString() string {
	if !v.Valid() {
		return "knx.Unrepresentable()"
	}
	return fmt.Sprintf("knx.Value{%s: %q}", v.kind, v.String())
}
