package features

import (
	"errors"
	"fmt"
)

// ErrValidation is matched (via errors.Is) by every payload validation error.
var ErrValidation = errors.New("invalid payload")

// SchemaLoadError is returned when the feature schema cannot be loaded.
type SchemaLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *SchemaLoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load schema %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("load schema %s: %s", e.Path, e.Reason)
}

func (e *SchemaLoadError) Unwrap() error { return e.Err }

// MissingPayloadError means the body was absent or not a JSON object.
type MissingPayloadError struct {
	Reason string
}

func (e *MissingPayloadError) Error() string {
	if e.Reason == "" {
		return "Invalid JSON"
	}
	return "Invalid JSON: " + e.Reason
}

func (e *MissingPayloadError) Is(target error) bool { return target == ErrValidation }

// MissingFeatureError names the first schema feature absent from the payload.
type MissingFeatureError struct {
	Name string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("Missing feature: %s", e.Name)
}

func (e *MissingFeatureError) Is(target error) bool { return target == ErrValidation }

// InvalidTypeError reports a feature whose value cannot be coerced to a number.
type InvalidTypeError struct {
	Name  string
	Value any
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("Invalid value for feature %s: %s is not numeric", e.Name, describe(e.Value))
}

func (e *InvalidTypeError) Is(target error) bool { return target == ErrValidation }

func describe(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%v", x)
	}
}
