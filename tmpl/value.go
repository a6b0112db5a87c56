package tmpl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "null"
	}
}

// Value is a context value: string, number, bool, null, array or map.
// Values are treated as immutable once built.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  *Map
}

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a float.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Int wraps an int as a Number.
func Int(n int) Value { return Number(float64(n)) }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array builds an array value. A nil list yields an empty array.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Object wraps a map. A nil map yields an empty map.
func Object(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, obj: m}
}

// FromAny converts plain Go data (as produced by encoding/json or written in
// tests) into a Value. Keys of map[string]any are sorted since Go maps carry
// no order; use *Map when order matters.
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case *Map:
		return Object(v)
	case string:
		return String(v)
	case bool:
		return Bool(v)
	case int:
		return Int(v)
	case int64:
		return Number(float64(v))
	case float32:
		return Number(float64(v))
	case float64:
		return Number(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(v.String())
		}
		return Number(f)
	case []Value:
		return Array(v...)
	case []string:
		items := make([]Value, len(v))
		for i, s := range v {
			items[i] = String(s)
		}
		return Array(items...)
	case []any:
		items := make([]Value, len(v))
		for i, e := range v {
			items[i] = FromAny(e)
		}
		return Array(items...)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, FromAny(v[k]))
		}
		return Object(m)
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewMap()
		for _, k := range keys {
			m.Set(k, String(v[k]))
		}
		return Object(m)
	default:
		return String(fmt.Sprint(v))
	}
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Items() []Value { return v.arr }

// Map returns the wrapped map, or nil when v is not a map.
func (v Value) Map() *Map { return v.obj }

// Str returns the raw string for string values.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// IsScalar reports whether v is a string, number or bool.
func (v Value) IsScalar() bool {
	return v.kind == KindString || v.kind == KindNumber || v.kind == KindBool
}

// String returns the canonical string form: strings verbatim, numbers in
// shortest decimal form, arrays and maps as compact JSON in insertion order.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatFloat(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindArray, KindMap:
		var buf bytes.Buffer
		v.writeJSON(&buf)
		return buf.String()
	default:
		return "null"
	}
}

// Truthy follows the condition rules: empty strings, zero, NaN, false and
// null are falsy; arrays are truthy only when non-empty; maps are truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindString:
		return v.str != ""
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindBool:
		return v.b
	case KindArray:
		return len(v.arr) > 0
	case KindMap:
		return true
	default:
		return false
	}
}

// Float coerces v to a number. Anything that is not numeric yields NaN.
func (v Value) Float() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindString:
		return parseNumber(v.str)
	default:
		return math.NaN()
	}
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (v Value) writeJSON(buf *bytes.Buffer) {
	switch v.kind {
	case KindString:
		buf.WriteString(quoteJSON(v.str))
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			buf.WriteString("null")
			return
		}
		buf.WriteString(formatFloat(v.num))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.writeJSON(buf)
		}
		buf.WriteByte(']')
	case KindMap:
		v.obj.writeJSON(buf)
	default:
		buf.WriteString("null")
	}
}

// quoteJSON encodes s as a JSON string without HTML escaping.
func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.writeJSON(&buf)
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping object key order.
func (v *Value) UnmarshalJSON(b []byte) error {
	parsed, err := ParseJSON(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseJSON decodes a JSON document into a Value, preserving object key order.
func ParseJSON(s string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Null(), err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Null(), errors.New("tmpl: trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null(), err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := NewMap()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Null(), err
				}
				key, ok := kt.(string)
				if !ok {
					return Null(), fmt.Errorf("tmpl: unexpected object key %v", kt)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				m.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return Object(m), nil
		case '[':
			items := []Value{}
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Null(), err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Null(), err
			}
			return Array(items...), nil
		}
		return Null(), fmt.Errorf("tmpl: unexpected delimiter %v", t)
	case string:
		return String(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), err
		}
		return Number(f), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return Null(), fmt.Errorf("tmpl: unexpected token %v", tok)
}

// Map is an insertion-ordered string-keyed map of Values. Re-setting an
// existing key keeps its original position.
type Map struct {
	keys []string
	vals map[string]Value
}

// NewMap returns an empty map.
func NewMap() *Map {
	return &Map{vals: make(map[string]Value)}
}

// MapOf builds a map from alternating key/value arguments. Values go through
// FromAny. It panics on an odd argument count or a non-string key.
func MapOf(kv ...any) *Map {
	if len(kv)%2 != 0 {
		panic("tmpl.MapOf: odd number of arguments")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("tmpl.MapOf: key %v is not a string", kv[i]))
		}
		m.Set(k, FromAny(kv[i+1]))
	}
	return m
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return Null(), false
	}
	v, ok := m.vals[key]
	return v, ok
}

func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// GetString returns the canonical string of key, or "" when absent or null.
func (m *Map) GetString(key string) string {
	v, ok := m.Get(key)
	if !ok || v.IsNull() {
		return ""
	}
	return v.String()
}

func (m *Map) Set(key string, v Value) *Map {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
	return m
}

func (m *Map) SetString(key, s string) *Map { return m.Set(key, String(s)) }

func (m *Map) Delete(key string) {
	if _, ok := m.vals[key]; !ok {
		return
	}
	delete(m.vals, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Range calls fn for every entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.vals[k]) {
			return
		}
	}
}

// Clone returns a shallow copy.
func (m *Map) Clone() *Map {
	out := &Map{
		keys: make([]string, 0, m.Len()),
		vals: make(map[string]Value, m.Len()),
	}
	m.Range(func(k string, v Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}

// Overlay returns a new map holding m's entries overridden by other's.
// Neither input is modified.
func (m *Map) Overlay(other *Map) *Map {
	out := m.Clone()
	other.Range(func(k string, v Value) bool {
		out.Set(k, v)
		return true
	})
	return out
}

func (m *Map) writeJSON(buf *bytes.Buffer) {
	buf.WriteByte('{')
	i := 0
	m.Range(func(k string, v Value) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quoteJSON(k))
		buf.WriteByte(':')
		v.writeJSON(buf)
		i++
		return true
	})
	buf.WriteByte('}')
}

// String returns the compact JSON form.
func (m *Map) String() string {
	var buf bytes.Buffer
	m.writeJSON(&buf)
	return buf.String()
}

// MarshalJSON implements json.Marshaler.
func (m *Map) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	m.writeJSON(&buf)
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler. The document must be an object.
func (m *Map) UnmarshalJSON(b []byte) error {
	v, err := ParseJSON(string(b))
	if err != nil {
		return err
	}
	switch v.Kind() {
	case KindNull:
		*m = *NewMap()
		return nil
	case KindMap:
		*m = *v.Map()
		return nil
	}
	return fmt.Errorf("tmpl: cannot decode %s into a map", v.Kind())
}

// Lookup resolves a dot-separated path against ctx. Numeric segments index
// arrays and "length" yields an array's size. Any missing or null segment
// makes the whole lookup fail.
func Lookup(ctx *Map, path string) (Value, bool) {
	if ctx == nil || path == "" {
		return Null(), false
	}
	cur := Object(ctx)
	for _, seg := range strings.Split(path, ".") {
		switch cur.kind {
		case KindMap:
			v, ok := cur.obj.Get(seg)
			if !ok {
				return Null(), false
			}
			cur = v
		case KindArray:
			if seg == "length" {
				cur = Int(len(cur.arr))
				continue
			}
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.arr) {
				return Null(), false
			}
			cur = cur.arr[idx]
		default:
			return Null(), false
		}
		if cur.kind == KindNull {
			return Null(), false
		}
	}
	return cur, true
}
