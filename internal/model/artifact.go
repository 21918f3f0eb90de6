// Package model loads the frozen fraud classifier and serves inference.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// SupportedFormatMajor is the artifact format major version this build can run.
// Artifacts exported by an incompatible toolchain carry a different major.
const SupportedFormatMajor = 1

// Step types understood by Build.
const (
	StepStandardScaler     = "standard_scaler"
	StepLogisticRegression = "logistic_regression"
)

// ModelLoadError is returned when the artifact is missing or unusable.
// It is always fatal at startup.
type ModelLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ModelLoadError) Error() string {
	msg := "load model"
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// Artifact is the exported, frozen form of a trained pipeline.
type Artifact struct {
	FormatVersion string   `json:"format_version"`
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Features      []string `json:"features,omitempty"`
	Steps         []Step   `json:"steps"`

	// Shims lists the compatibility fix-ups NormalizeLoadedModel applied.
	Shims []string `json:"-"`
}

// Step is one stage of the exported pipeline. Fields are populated
// according to Type.
type Step struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// standard_scaler
	Mean     []float64 `json:"mean,omitempty"`
	Scale    []float64 `json:"scale,omitempty"`
	WithMean *bool     `json:"with_mean,omitempty"`
	WithStd  *bool     `json:"with_std,omitempty"`

	// logistic_regression
	Coef       []float64 `json:"coef,omitempty"`
	Intercept  float64   `json:"intercept,omitempty"`
	Classes    []int     `json:"classes,omitempty"`
	MultiClass string    `json:"multi_class,omitempty"`
}

// LoadArtifact reads and decodes an artifact, rejecting formats this build
// cannot run. It does not normalize or compile the artifact.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		reason := "read failed"
		if errors.Is(err, os.ErrNotExist) {
			reason = "artifact not found"
		}
		return nil, &ModelLoadError{Path: path, Reason: reason, Err: err}
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &ModelLoadError{Path: path, Reason: "malformed artifact", Err: err}
	}
	if err := checkFormat(a.FormatVersion); err != nil {
		return nil, &ModelLoadError{Path: path, Reason: "incompatible artifact", Err: err}
	}
	if len(a.Steps) == 0 {
		return nil, &ModelLoadError{Path: path, Reason: "artifact has no pipeline steps"}
	}
	return &a, nil
}

func checkFormat(v string) error {
	if v == "" {
		return fmt.Errorf("format_version is missing")
	}
	majorStr, _, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return fmt.Errorf("format_version %q is not a version", v)
	}
	if major != SupportedFormatMajor {
		return fmt.Errorf("format_version %s, runtime supports %d.x", v, SupportedFormatMajor)
	}
	return nil
}

// NormalizeLoadedModel applies the one-time compatibility fix-ups an older
// exporter's artifact needs before it can be compiled. The input is not
// modified; the returned copy records every shim in Shims.
//
//   - logistic_regression without multi_class gets "auto" (older exporters
//     omitted the attribute the inference path reads).
//   - standard_scaler without with_mean / with_std gets true for each.
func NormalizeLoadedModel(a *Artifact) *Artifact {
	out := *a
	out.Steps = make([]Step, len(a.Steps))
	copy(out.Steps, a.Steps)
	out.Shims = append([]string(nil), a.Shims...)

	for i := range out.Steps {
		st := &out.Steps[i]
		switch st.Type {
		case StepLogisticRegression:
			if st.MultiClass == "" {
				st.MultiClass = "auto"
				out.Shims = append(out.Shims, fmt.Sprintf("%s.multi_class=auto", stepLabel(st, i)))
			}
		case StepStandardScaler:
			if st.WithMean == nil {
				st.WithMean = boolPtr(true)
				out.Shims = append(out.Shims, fmt.Sprintf("%s.with_mean=true", stepLabel(st, i)))
			}
			if st.WithStd == nil {
				st.WithStd = boolPtr(true)
				out.Shims = append(out.Shims, fmt.Sprintf("%s.with_std=true", stepLabel(st, i)))
			}
		}
	}
	for _, s := range out.Shims[len(a.Shims):] {
		slog.Warn("patched model artifact", "model", out.Name, "shim", s)
	}
	return &out
}

func stepLabel(st *Step, i int) string {
	if st.Name != "" {
		return st.Name
	}
	return fmt.Sprintf("steps[%d]", i)
}

func boolPtr(b bool) *bool { return &b }
