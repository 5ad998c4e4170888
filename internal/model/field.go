package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FieldKind enumerates the scalar types a custom field may hold.
type FieldKind uint8

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldBool
)

func (k FieldKind) String() string {
	switch k {
	case FieldString:
		return "string"
	case FieldNumber:
		return "number"
	case FieldBool:
		return "bool"
	}
	return fmt.Sprintf("FieldKind(%d)", uint8(k))
}

// FieldValue is the value of a custom field: text, number or boolean.
//
// The zero value is the empty string.
type FieldValue struct {
	kind FieldKind
	str  string
	num  float64
	b    bool
}

func StringField(s string) FieldValue  { return FieldValue{kind: FieldString, str: s} }
func NumberField(f float64) FieldValue { return FieldValue{kind: FieldNumber, num: f} }
func BoolField(b bool) FieldValue      { return FieldValue{kind: FieldBool, b: b} }

func (v FieldValue) Kind() FieldKind { return v.kind }

// String renders the value the way it appears in exported documents:
// text verbatim, numbers in shortest form without trailing zeros, booleans
// as true/false.
func (v FieldValue) String() string {
	switch v.kind {
	case FieldNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case FieldBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// Any returns the value as a plain Go scalar (string, float64 or bool),
// which is what the document and SQL drivers expect.
func (v FieldValue) Any() any {
	switch v.kind {
	case FieldNumber:
		return v.num
	case FieldBool:
		return v.b
	default:
		return v.str
	}
}

// FieldValueOf converts a decoded driver value back into a FieldValue.
// Integer types are accepted because document stores may narrow numbers.
func FieldValueOf(x any) (FieldValue, error) {
	switch t := x.(type) {
	case string:
		return StringField(t), nil
	case bool:
		return BoolField(t), nil
	case float64:
		return NumberField(t), nil
	case float32:
		return NumberField(float64(t)), nil
	case int:
		return NumberField(float64(t)), nil
	case int32:
		return NumberField(float64(t)), nil
	case int64:
		return NumberField(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return FieldValue{}, fmt.Errorf("model: custom field number %q: %w", t, err)
		}
		return NumberField(f), nil
	}
	return FieldValue{}, fmt.Errorf("model: unsupported custom field type %T", x)
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("model: empty custom field value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringField(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolField(b)
	case 'n', '[', '{':
		return fmt.Errorf("model: custom field values must be a string, number or boolean")
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*v = NumberField(f)
	}
	return nil
}

// CustomFields maps caller-defined keys to scalar values.
type CustomFields map[string]FieldValue

// Keys returns the field names in sorted order, which is the iteration order
// used wherever fields are rendered.
func (c CustomFields) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Plain converts the fields to map[string]any for storage drivers.
func (c CustomFields) Plain() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v.Any()
	}
	return out
}

// CustomFieldsFrom is the inverse of Plain.
func CustomFieldsFrom(m map[string]any) (CustomFields, error) {
	out := make(CustomFields, len(m))
	for k, x := range m {
		v, err := FieldValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
