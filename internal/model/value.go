package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies which variant a Value holds.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

// String returns the variant name.
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a tagged union used for item attributes and profile stats.
// Values are immutable once built; Clone is only needed when a caller
// wants to edit a list or map it received.
type Value struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// String builds a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int builds an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float builds a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool builds a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List builds a list value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Map builds a map value.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Strings builds a list of string values.
func Strings(items ...string) Value {
	list := make([]Value, len(items))
	for i, s := range items {
		list[i] = String(s)
	}
	return List(list...)
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsInt returns the numeric payload as an integer. Floats are truncated.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	}
	return 0, false
}

// AsFloat returns the numeric payload as a float.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsList returns the list payload.
func (v Value) AsList() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// AsMap returns the map payload.
func (v Value) AsMap() (map[string]Value, bool) {
	return v.m, v.kind == KindMap
}

// StringOr returns the string payload or def.
func (v Value) StringOr(def string) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return def
}

// IntOr returns the numeric payload or def.
func (v Value) IntOr(def int64) int64 {
	if i, ok := v.AsInt(); ok {
		return i
	}
	return def
}

// BoolOr returns the boolean payload or def.
func (v Value) BoolOr(def bool) bool {
	if b, ok := v.AsBool(); ok {
		return b
	}
	return def
}

// Get returns the entry for key when v is a map, or null.
func (v Value) Get(key string) Value {
	if v.kind != KindMap {
		return Null()
	}
	return v.m[key]
}

// Len returns the number of list or map entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.m)
	}
	return 0
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		list := make([]Value, len(v.list))
		for i, item := range v.list {
			list[i] = item.Clone()
		}
		return Value{kind: KindList, list: list}
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, item := range v.m {
			m[k] = item.Clone()
		}
		return Value{kind: KindMap, m: m}
	}
	return v
}

// Equal reports deep equality. Ints and floats compare by numeric value.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		a, aok := v.AsFloat()
		b, bok := other.AsFloat()
		return aok && bok && a == b
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == other.s
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindBool:
		return v.b == other.b
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, item := range v.m {
			o, ok := other.m[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler. Map keys are emitted in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		b, err := json.Marshal(v.f)
		if err != nil {
			return fmt.Errorf("encode float: %w", err)
		}
		buf.Write(b)
		// Integral floats keep a decimal point so they decode as floats again.
		if !bytes.ContainsAny(b, ".eE") {
			buf.WriteString(".0")
		}
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := v.m[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown value kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromInterface converts a decoded JSON tree (or plain Go scalars) into a Value.
func FromInterface(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := t.Int64(); err == nil {
				return Int(i), nil
			}
		}
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", s, err)
		}
		return Float(f), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t)), nil
		}
		return Float(t), nil
	case []interface{}:
		list := make([]Value, len(t))
		for i, item := range t {
			parsed, err := FromInterface(item)
			if err != nil {
				return Null(), err
			}
			list[i] = parsed
		}
		return List(list...), nil
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			parsed, err := FromInterface(item)
			if err != nil {
				return Null(), err
			}
			m[k] = parsed
		}
		return Map(m), nil
	case Value:
		return t, nil
	}
	return Null(), fmt.Errorf("unsupported value type %T", raw)
}

// Interface converts v back into plain Go types (for BSON and other encoders).
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, item := range v.m {
			out[k] = item.Interface()
		}
		return out
	}
	return nil
}

// Attributes is a string-keyed bag of values.
type Attributes map[string]Value

// Clone returns a deep copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}
