package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind tags the representation held by a Value.
type ValueKind uint8

const (
	// ValueNull is the zero Value.
	ValueNull ValueKind = iota
	// ValueString holds a string.
	ValueString
	// ValueInt holds a signed 64-bit integer.
	ValueInt
	// ValueFloat holds a finite float64.
	ValueFloat
	// ValueBool holds a boolean.
	ValueBool
	// ValueMap holds nested ordered fields.
	ValueMap
)

// Value is one tagged scalar or nested mapping stored in an event field.
// Params: constructed with String, Int, Float, Bool, or Nested.
// Returns: immutable field value.
type Value struct {
	kind ValueKind
	str  string
	num  int64
	flt  float64
	flag bool
	sub  *Fields
}

// String wraps a string value.
func String(value string) Value { return Value{kind: ValueString, str: value} }

// Int wraps an integer value.
func Int(value int64) Value { return Value{kind: ValueInt, num: value} }

// Float wraps a float value; callers validate finiteness before encoding.
func Float(value float64) Value { return Value{kind: ValueFloat, flt: value} }

// Bool wraps a boolean value.
func Bool(value bool) Value { return Value{kind: ValueBool, flag: value} }

// Nested wraps a copy of fields as a nested mapping value.
// Params: fields nested ordered mapping.
// Returns: map value.
func Nested(fields Fields) Value {
	cloned := fields.clone()
	return Value{kind: ValueMap, sub: &cloned}
}

// Kind returns the value tag.
func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == ValueString }

// Number returns the numeric payload as float64 for int and float values.
// Params: none.
// Returns: numeric value and true when value is numeric.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case ValueInt:
		return float64(v.num), true
	case ValueFloat:
		return v.flt, true
	default:
		return 0, false
	}
}

// Fields returns the nested mapping for map values.
// Params: none.
// Returns: copy of nested fields and true for map values.
func (v Value) Fields() (Fields, bool) {
	if v.kind != ValueMap || v.sub == nil {
		return Fields{}, false
	}
	return v.sub.clone(), true
}

// Interface converts the value to plain Go types.
// Params: none.
// Returns: string, int64, float64, bool, map[string]any, or nil.
func (v Value) Interface() any {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueInt:
		return v.num
	case ValueFloat:
		return v.flt
	case ValueBool:
		return v.flag
	case ValueMap:
		out := make(map[string]any, v.sub.Len())
		for _, key := range v.sub.keys {
			out[key] = v.sub.values[key].Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal compares two values; integers and floats compare numerically.
// Params: other value.
// Returns: true when both values carry the same content.
func (v Value) Equal(other Value) bool {
	if left, ok := v.Number(); ok {
		right, rightOK := other.Number()
		return rightOK && left == right
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case ValueString:
		return v.str == other.str
	case ValueBool:
		return v.flag == other.flag
	case ValueMap:
		return v.sub.Equal(*other.sub)
	default:
		return true
	}
}

// MarshalJSON encodes the value as its plain JSON form.
// Params: none.
// Returns: JSON bytes or error for non-finite floats.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueString:
		return json.Marshal(v.str)
	case ValueInt:
		return strconv.AppendInt(nil, v.num, 10), nil
	case ValueFloat:
		if math.IsNaN(v.flt) || math.IsInf(v.flt, 0) {
			return nil, fmt.Errorf("non-finite float value")
		}
		return json.Marshal(v.flt)
	case ValueBool:
		return strconv.AppendBool(nil, v.flag), nil
	case ValueMap:
		return v.sub.MarshalJSON()
	default:
		return []byte("null"), nil
	}
}

// decodeValue reads one JSON value from the decoder.
// Params: dec decoder configured with UseNumber.
// Returns: decoded value or error; arrays are rejected.
func decodeValue(dec *json.Decoder) (Value, error) {
	token, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch typed := token.(type) {
	case nil:
		return Value{}, nil
	case string:
		return String(typed), nil
	case bool:
		return Bool(typed), nil
	case json.Number:
		return numberValue(typed)
	case json.Delim:
		if typed != '{' {
			return Value{}, fmt.Errorf("unsupported JSON delimiter %q", typed)
		}
		fields, err := decodeObjectBody(dec)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: ValueMap, sub: &fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON token %T", token)
	}
}

// numberValue maps a JSON number to Int when integral, Float otherwise.
// Params: number raw JSON number.
// Returns: numeric value or parse error.
func numberValue(number json.Number) (Value, error) {
	if !bytes.ContainsAny([]byte(number), ".eE") {
		if parsed, err := number.Int64(); err == nil {
			return Int(parsed), nil
		}
	}
	parsed, err := number.Float64()
	if err != nil {
		return Value{}, fmt.Errorf("parse number %q: %w", number, err)
	}
	return Float(parsed), nil
}

// Fields is an insertion-ordered mapping from field name to Value.
// Params: zero value is an empty mapping ready for Set.
// Returns: ordered mapping.
type Fields struct {
	keys   []string
	values map[string]Value
}

// Set stores value under key, keeping the original position on replace.
// Params: key field name; value field value.
// Returns: none.
func (f *Fields) Set(key string, value Value) {
	if f.values == nil {
		f.values = make(map[string]Value)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Get returns the value for key.
func (f Fields) Get(key string) (Value, bool) {
	value, ok := f.values[key]
	return value, ok
}

// Keys returns field names in insertion order.
func (f Fields) Keys() []string {
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of fields.
func (f Fields) Len() int { return len(f.keys) }

// Equal compares fields as a set of key/value pairs; order is not significant.
// Params: other fields.
// Returns: true when both hold the same pairs.
func (f Fields) Equal(other Fields) bool {
	if f.Len() != other.Len() {
		return false
	}
	for key, value := range f.values {
		otherValue, ok := other.values[key]
		if !ok || !value.Equal(otherValue) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes fields as a JSON object in insertion order.
// Params: none.
// Returns: JSON bytes or value encode error.
func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := f.appendJSON(&buf, false); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// appendJSON writes comma-separated members without braces.
// Params: buf destination; leadingComma prefixes the first member with a comma.
// Returns: encode error.
func (f Fields) appendJSON(buf *bytes.Buffer, leadingComma bool) error {
	for idx, key := range f.keys {
		if idx > 0 || leadingComma {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("encode key %q: %w", key, err)
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		encoded, err := f.values[key].MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode field %q: %w", key, err)
		}
		buf.Write(encoded)
	}
	return nil
}

func (f Fields) clone() Fields {
	out := Fields{
		keys:   make([]string, len(f.keys)),
		values: make(map[string]Value, len(f.values)),
	}
	copy(out.keys, f.keys)
	for key, value := range f.values {
		out.values[key] = value
	}
	return out
}

// decodeObjectBody reads object members after the opening brace.
// Params: dec decoder positioned after '{'.
// Returns: ordered fields or decode error.
func decodeObjectBody(dec *json.Decoder) (Fields, error) {
	var fields Fields
	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return Fields{}, err
		}
		key, ok := keyToken.(string)
		if !ok {
			return Fields{}, fmt.Errorf("unexpected object key token %T", keyToken)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return Fields{}, fmt.Errorf("decode field %q: %w", key, err)
		}
		fields.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return Fields{}, err
	}
	return fields, nil
}
