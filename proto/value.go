package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ValueType is the discriminant of a Value. It doubles as the data_type of a
// signal Config.
type ValueType uint8

const (
	TypeUnspecified ValueType = iota
	TypeBool
	TypeInt32
	TypeUint32
	TypeFloat
	TypeString
)

var valueTypeNames = map[ValueType]string{
	TypeUnspecified: "unspecified",
	TypeBool:        "bool",
	TypeInt32:       "int32",
	TypeUint32:      "uint32",
	TypeFloat:       "float",
	TypeString:      "string",
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

func (t ValueType) Valid() bool {
	return t >= TypeBool && t <= TypeString
}

func (t ValueType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal value type %s", t)
	}
	return json.Marshal(t.String())
}

func (t *ValueType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("value type must be a string: %w", err)
	}
	parsed, err := ParseValueType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseValueType resolves a data type name ("bool", "int32", "uint32",
// "float", "string").
func ParseValueType(name string) (ValueType, error) {
	for t, n := range valueTypeNames {
		if n == name && t.Valid() {
			return t, nil
		}
	}
	return TypeUnspecified, fmt.Errorf("unknown value type %q", name)
}

// Value is a closed tagged union. Exactly one variant is populated; callers
// switch on Type() rather than inspecting fields.
type Value struct {
	typ ValueType
	b   bool
	i   int32
	u   uint32
	f   float32
	s   string
}

func BoolValue(v bool) Value     { return Value{typ: TypeBool, b: v} }
func Int32Value(v int32) Value   { return Value{typ: TypeInt32, i: v} }
func Uint32Value(v uint32) Value { return Value{typ: TypeUint32, u: v} }
func FloatValue(v float32) Value { return Value{typ: TypeFloat, f: v} }
func StringValue(v string) Value { return Value{typ: TypeString, s: v} }

// ZeroValue returns the zero value of the given variant.
func ZeroValue(t ValueType) (Value, error) {
	if !t.Valid() {
		return Value{}, fmt.Errorf("no zero value for %s", t)
	}
	return Value{typ: t}, nil
}

// ParseValue reads the text form of a value of type t, as typed on a command
// line.
func ParseValue(t ValueType, text string) (Value, error) {
	switch t {
	case TypeBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q", text)
		}
		return BoolValue(b), nil
	case TypeInt32:
		i, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid int32 %q: %w", text, err)
		}
		return Int32Value(int32(i)), nil
	case TypeUint32:
		u, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid uint32 %q: %w", text, err)
		}
		return Uint32Value(uint32(u)), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid float %q: %w", text, err)
		}
		return FloatValue(float32(f)), nil
	case TypeString:
		return StringValue(text), nil
	default:
		return Value{}, fmt.Errorf("cannot parse a value of type %s", t)
	}
}

func (v Value) Type() ValueType { return v.typ }
func (v Value) IsSet() bool     { return v.typ.Valid() }

func (v Value) Bool() (bool, bool)     { return v.b, v.typ == TypeBool }
func (v Value) Int32() (int32, bool)   { return v.i, v.typ == TypeInt32 }
func (v Value) Uint32() (uint32, bool) { return v.u, v.typ == TypeUint32 }
func (v Value) Float() (float32, bool) { return v.f, v.typ == TypeFloat }
func (v Value) Str() (string, bool)    { return v.s, v.typ == TypeString }

// Interface returns the populated variant as a plain Go value, or nil when the
// value is unset.
func (v Value) Interface() any {
	switch v.typ {
	case TypeBool:
		return v.b
	case TypeInt32:
		return v.i
	case TypeUint32:
		return v.u
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeBool, TypeInt32, TypeUint32, TypeFloat:
		return fmt.Sprintf("%v", v.Interface())
	case TypeString:
		return fmt.Sprintf("%q", v.s)
	default:
		return "<unset>"
	}
}

const (
	keyBool   = "bool_value"
	keyInt32  = "int32_value"
	keyUint32 = "uint32_value"
	keyFloat  = "float_value"
	keyString = "string_value"
)

var ErrAmbiguousValue = errors.New("value must carry exactly one of bool_value, int32_value, uint32_value, float_value, string_value")

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeBool:
		return json.Marshal(map[string]bool{keyBool: v.b})
	case TypeInt32:
		return json.Marshal(map[string]int32{keyInt32: v.i})
	case TypeUint32:
		return json.Marshal(map[string]uint32{keyUint32: v.u})
	case TypeFloat:
		return json.Marshal(map[string]float32{keyFloat: v.f})
	case TypeString:
		return json.Marshal(map[string]string{keyString: v.s})
	default:
		return nil, errors.New("cannot marshal unset value")
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("value must be an object: %w", err)
	}
	if fields == nil || len(fields) != 1 {
		return ErrAmbiguousValue
	}

	for key, raw := range fields {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return fmt.Errorf("%s must not be null", key)
		}
		switch key {
		case keyBool:
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*v = BoolValue(b)
		case keyInt32:
			var i int32
			if err := json.Unmarshal(raw, &i); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*v = Int32Value(i)
		case keyUint32:
			var u uint32
			if err := json.Unmarshal(raw, &u); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*v = Uint32Value(u)
		case keyFloat:
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if math.Abs(f) > math.MaxFloat32 {
				return fmt.Errorf("%s: %v overflows float32", key, f)
			}
			*v = FloatValue(float32(f))
		case keyString:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*v = StringValue(s)
		default:
			return fmt.Errorf("unknown value variant %q", key)
		}
	}
	return nil
}
