package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Kind tags the variant held by a Value
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindDecimal
	KindString
	KindTimestamp
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindDecimal:
		return "decimal"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a document value: null, bool, number, decimal, string,
// timestamp, array or object. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	d    *apd.Decimal
	s    string
	t    time.Time
	arr  []Value
	obj  map[string]Value
}

// Null is the null Value
var Null = Value{}

// Bool wraps a boolean
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64
func Number(f float64) Value { return Value{kind: KindNumber, n: f} }

// Decimal wraps an arbitrary-precision decimal; nil yields null
func Decimal(d *apd.Decimal) Value {
	if d == nil {
		return Null
	}
	return Value{kind: KindDecimal, d: d}
}

// String wraps a string
func String(s string) Value { return Value{kind: KindString, s: s} }

// Timestamp wraps an instant, normalized to UTC
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t.UTC()} }

// Array wraps a list of values
func Array(items []Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Object wraps a map of values
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsPrimitive reports whether v is a bare string, boolean or number
func (v Value) IsPrimitive() bool {
	switch v.kind {
	case KindBool, KindNumber, KindDecimal, KindString:
		return true
	}
	return false
}

// IsComposite reports whether v is an array or object
func (v Value) IsComposite() bool {
	return v.kind == KindArray || v.kind == KindObject
}

// BoolValue returns the boolean held by v
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// NumberValue returns the float64 held by v
func (v Value) NumberValue() (float64, bool) { return v.n, v.kind == KindNumber }

// DecimalValue returns the decimal held by v
func (v Value) DecimalValue() (*apd.Decimal, bool) { return v.d, v.kind == KindDecimal }

// StringValue returns the string held by v
func (v Value) StringValue() (string, bool) { return v.s, v.kind == KindString }

// TimeValue returns the instant held by v
func (v Value) TimeValue() (time.Time, bool) { return v.t, v.kind == KindTimestamp }

// Items returns the elements of an array value, or nil
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Fields returns the members of an object value, or nil
func (v Value) Fields() map[string]Value {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Get returns a direct member of an object value
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Null, false
	}
	member, ok := v.obj[key]
	return member, ok
}

// With returns a shallow copy of an object value with key set. Non-object
// values are treated as an empty object.
func (v Value) With(key string, member Value) Value {
	fields := make(map[string]Value, len(v.obj)+1)
	for k, f := range v.obj {
		fields[k] = f
	}
	fields[key] = member
	return Object(fields)
}

// Lookup follows an accessor path through objects and, for numeric
// segments, arrays
func (v Value) Lookup(path *FieldPath) (Value, bool) {
	current := v
	for _, segment := range path.segments {
		switch current.kind {
		case KindObject:
			next, ok := current.obj[segment]
			if !ok {
				return Null, false
			}
			current = next
		case KindArray:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(current.arr) {
				return Null, false
			}
			current = current.arr[idx]
		default:
			return Null, false
		}
	}
	return current, true
}

// Truthy applies document-language truthiness: null, false, 0, NaN and ""
// are falsy; everything else, including empty arrays and objects, is truthy
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0 && !math.IsNaN(v.n)
	case KindDecimal:
		return !v.d.IsZero() && v.d.Form != apd.NaN && v.d.Form != apd.NaNSignaling
	case KindString:
		return v.s != ""
	default:
		return true
	}
}

// Equal reports deep equality
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindDecimal:
		return v.d.Cmp(o.d) == 0
	case KindString:
		return v.s == o.s
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, member := range v.obj {
			other, ok := o.obj[k]
			if !ok || !member.Equal(other) {
				return false
			}
		}
		return true
	}
	return false
}

// Interface converts v into plain Go values: nil, bool, float64, string,
// time.Time, []interface{} and map[string]interface{}. Decimals become their
// exact decimal string.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindDecimal:
		return v.d.Text('f')
	case KindString:
		return v.s
	case KindTimestamp:
		return v.t
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, member := range v.obj {
			out[k] = member.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts decoded JSON/BSON-style Go values into a Value.
// Unsupported types become null.
func FromInterface(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null
	case Value:
		return t
	case *Value:
		if t == nil {
			return Null
		}
		return *t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		return fromJSONNumber(t)
	case *apd.Decimal:
		return Decimal(t)
	case time.Time:
		return Timestamp(t)
	case *time.Time:
		if t == nil {
			return Null
		}
		return Timestamp(*t)
	case []Value:
		return Array(t)
	case map[string]Value:
		return Object(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromInterface(item)
		}
		return Array(items)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, member := range t {
			fields[k] = FromInterface(member)
		}
		return Object(fields)
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null
		}
		items := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = FromInterface(rv.Index(i).Interface())
		}
		return Array(items)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Null
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = FromInterface(iter.Value().Interface())
		}
		return Object(fields)
	case reflect.Ptr:
		if rv.IsNil() {
			return Null
		}
		return FromInterface(rv.Elem().Interface())
	}
	return Null
}

// InstantLayout is the ISO-8601 instant format used for timestamp columns
const InstantLayout = "2006-01-02T15:04:05.000Z"

// MarshalJSON encodes v. Timestamps use InstantLayout, decimals are emitted
// as exact JSON numbers and non-finite numbers as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.n)
	case KindDecimal:
		if v.d.Form != apd.Finite {
			return []byte("null"), nil
		}
		return []byte(v.d.Text('f')), nil
	case KindString:
		return json.Marshal(v.s)
	case KindTimestamp:
		return json.Marshal(v.t.UTC().Format(InstantLayout))
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(encoded)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			encoded, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(encoded)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("cannot marshal value of kind %s", v.kind)
}

// fromJSONNumber keeps numbers that float64 cannot hold exactly as decimals
func fromJSONNumber(n json.Number) Value {
	f, ferr := n.Float64()
	d, _, err := apd.NewFromString(n.String())
	if err != nil {
		if ferr != nil {
			return Null
		}
		return Number(f)
	}
	if ferr == nil {
		exact := new(apd.Decimal)
		if _, err := exact.SetFloat64(f); err == nil && exact.Cmp(d) == 0 {
			return Number(f)
		}
	}
	return Decimal(d)
}

// UnmarshalJSON decodes any JSON document into v
func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var raw interface{}
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	*v = FromInterface(raw)
	return nil
}

// String renders v as JSON for logs and debugging
func (v Value) String() string {
	encoded, err := v.MarshalJSON()
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(encoded)
}
