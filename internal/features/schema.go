// Package features holds the model's feature schema and turns inbound
// payloads into ordered feature vectors.
package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Schema is the ordered list of feature names a model version expects.
// It is immutable once loaded and safe for concurrent reads.
type Schema struct {
	names []string
	index map[string]int
}

// descriptor is the on-disk schema file format.
type descriptor struct {
	Features []string `json:"features"`
}

// LoadSchema reads a schema descriptor of the form {"features": [...]}.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "read failed"
		if errors.Is(err, os.ErrNotExist) {
			reason = "file not found"
		}
		return nil, &SchemaLoadError{Path: path, Reason: reason, Err: err}
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, &SchemaLoadError{Path: path, Reason: "malformed descriptor", Err: err}
	}
	s, err := NewSchema(d.Features)
	if err != nil {
		var le *SchemaLoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return s, nil
}

// NewSchema builds a Schema from names in model order.
func NewSchema(names []string) (*Schema, error) {
	if len(names) == 0 {
		return nil, &SchemaLoadError{Reason: "feature list is empty"}
	}
	s := &Schema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		if strings.TrimSpace(n) == "" {
			return nil, &SchemaLoadError{Reason: fmt.Sprintf("feature name at position %d is blank", i)}
		}
		if _, dup := s.index[n]; dup {
			return nil, &SchemaLoadError{Reason: "duplicate feature " + n}
		}
		s.names[i] = n
		s.index[n] = i
	}
	return s, nil
}

// Names returns a copy of the feature names in model order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of features.
func (s *Schema) Len() int { return len(s.names) }

// Equal reports whether other lists the same features in the same order.
func (s *Schema) Equal(other []string) bool {
	if len(other) != len(s.names) {
		return false
	}
	for i, n := range s.names {
		if other[i] != n {
			return false
		}
	}
	return true
}
