package features

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
)

// Vector is the ordered numeric input fed to the model.
// Position i corresponds to Schema.Names()[i].
type Vector []float64

// Payload is a decoded scoring request: feature name → raw JSON value.
// Numbers are held as json.Number so no precision is lost before coercion.
type Payload map[string]any

// Decode parses raw as a JSON object. Anything other than a single object
// (empty body, invalid JSON, null, array, scalar, trailing data) is a
// *MissingPayloadError.
func Decode(raw []byte) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &MissingPayloadError{Reason: "request body is empty"}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MissingPayloadError{Reason: "malformed JSON"}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &MissingPayloadError{Reason: "unexpected data after JSON object"}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &MissingPayloadError{Reason: "body must be a JSON object"}
	}
	return Payload(obj), nil
}

// Validate decodes raw and builds its feature vector against schema.
func Validate(raw []byte, schema *Schema) (Vector, error) {
	p, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return ValidateMap(p, schema)
}

// ValidateMap builds the feature vector by walking schema in order and
// pulling each value from p. Keys not in the schema are ignored. The first
// missing feature in schema order is reported.
func ValidateMap(p Payload, schema *Schema) (Vector, error) {
	if p == nil {
		return nil, &MissingPayloadError{Reason: "body must be a JSON object"}
	}
	vec := make(Vector, schema.Len())
	for i, name := range schema.names {
		raw, ok := p[name]
		if !ok {
			return nil, &MissingFeatureError{Name: name}
		}
		f, ok := toFloat64(raw)
		if !ok {
			return nil, &InvalidTypeError{Name: name, Value: raw}
		}
		vec[i] = f
	}
	return vec, nil
}

// toFloat64 coerces a decoded JSON value to a finite float64.
// Booleans, null, objects, arrays and non-numeric strings are rejected.
func toFloat64(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		t := strings.TrimSpace(n)
		if !isDecimal(t) {
			return 0, false
		}
		x, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// isDecimal reports whether s is a plain decimal number: optional sign,
// digits with an optional fraction, optional exponent. Hex floats, digit
// separators, "Inf" and "NaN" are not.
func isDecimal(s string) bool {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for ; i < len(s) && isDigit(s[i]); i++ {
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for ; i < len(s) && isDigit(s[i]); i++ {
			digits++
		}
	}
	if digits == 0 {
		return false
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		i++
		if i < len(s) && (s[i] == '+' || s[i] == '-') {
			i++
		}
		exp := 0
		for ; i < len(s) && isDigit(s[i]); i++ {
			exp++
		}
		if exp == 0 {
			return false
		}
	}
	return i == len(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Validator binds Validate to a fixed schema.
type Validator struct {
	schema *Schema
}

// NewValidator creates a Validator for schema.
func NewValidator(schema *Schema) *Validator {
	return &Validator{schema: schema}
}

// Validate decodes raw and returns both the decoded payload and its vector.
func (v *Validator) Validate(raw []byte) (Payload, Vector, error) {
	p, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	vec, err := ValidateMap(p, v.schema)
	if err != nil {
		return nil, nil, err
	}
	return p, vec, nil
}
