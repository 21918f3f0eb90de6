package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/merchant-shield/internal/features"
)

// Classifier returns the positive (fraud) class probability for x.
type Classifier interface {
	PredictProba(x []float64) (float64, error)
}

// concurrencySafe is implemented by classifiers that may be called from many
// goroutines at once without external locking.
type concurrencySafe interface {
	ConcurrentSafe() bool
}

// Pipeline is a compiled standard-scaler → logistic-regression model.
// All fields are fixed at Build time, so PredictProba is safe for concurrent use.
type Pipeline struct {
	name       string
	version    string
	n          int
	mean       []float64 // nil when centring is disabled
	scale      []float64 // nil when scaling is disabled
	coef       []float64
	intercept  float64
	multiClass string
}

// Load reads, normalizes and compiles the artifact at path against schema.
func Load(path string, schema *features.Schema) (*Pipeline, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	p, err := Build(NormalizeLoadedModel(a), schema)
	if err != nil {
		var le *ModelLoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return p, nil
}

// Build compiles a normalized artifact. The artifact must end in a
// logistic_regression step sized to the schema, optionally preceded by a
// standard_scaler of the same width.
func Build(a *Artifact, schema *features.Schema) (*Pipeline, error) {
	n := schema.Len()
	if len(a.Features) > 0 && !schema.Equal(a.Features) {
		return nil, &ModelLoadError{Reason: fmt.Sprintf("artifact features %v do not match schema order %v", a.Features, schema.Names())}
	}

	p := &Pipeline{name: a.Name, version: a.Version, n: n}
	last := len(a.Steps) - 1
	for i, st := range a.Steps {
		switch st.Type {
		case StepStandardScaler:
			if i == last {
				return nil, &ModelLoadError{Reason: "pipeline must end with a classifier"}
			}
			if err := p.setScaler(st); err != nil {
				return nil, err
			}
		case StepLogisticRegression:
			if i != last {
				return nil, &ModelLoadError{Reason: "classifier must be the last pipeline step"}
			}
			if err := p.setClassifier(st); err != nil {
				return nil, err
			}
		default:
			return nil, &ModelLoadError{Reason: fmt.Sprintf("unsupported step type %q", st.Type)}
		}
	}
	if p.coef == nil {
		return nil, &ModelLoadError{Reason: "pipeline has no classifier"}
	}
	return p, nil
}

func (p *Pipeline) setScaler(st Step) error {
	if st.WithMean == nil || st.WithStd == nil {
		return &ModelLoadError{Reason: fmt.Sprintf("step %s is not normalized", st.Name)}
	}
	if *st.WithMean {
		if len(st.Mean) != p.n {
			return &ModelLoadError{Reason: fmt.Sprintf("scaler mean has %d values, schema has %d features", len(st.Mean), p.n)}
		}
		p.mean = append([]float64(nil), st.Mean...)
	}
	if *st.WithStd {
		if len(st.Scale) != p.n {
			return &ModelLoadError{Reason: fmt.Sprintf("scaler scale has %d values, schema has %d features", len(st.Scale), p.n)}
		}
		p.scale = make([]float64, p.n)
		for i, s := range st.Scale {
			// A zero-variance feature is left unscaled.
			if s == 0 {
				s = 1
			}
			p.scale[i] = s
		}
	}
	return nil
}

func (p *Pipeline) setClassifier(st Step) error {
	if len(st.Coef) != p.n {
		return &ModelLoadError{Reason: fmt.Sprintf("classifier has %d coefficients, schema has %d features", len(st.Coef), p.n)}
	}
	if len(st.Classes) != 0 && len(st.Classes) != 2 {
		return &ModelLoadError{Reason: fmt.Sprintf("classifier has %d classes, want a binary model", len(st.Classes))}
	}
	switch st.MultiClass {
	case "auto", "ovr", "multinomial":
	case "":
		return &ModelLoadError{Reason: fmt.Sprintf("step %s is not normalized", st.Name)}
	default:
		return &ModelLoadError{Reason: fmt.Sprintf("unsupported multi_class %q", st.MultiClass)}
	}
	p.coef = append([]float64(nil), st.Coef...)
	p.intercept = st.Intercept
	p.multiClass = st.MultiClass
	return nil
}

// PredictProba implements Classifier.
func (p *Pipeline) PredictProba(x []float64) (float64, error) {
	if len(x) != p.n {
		return 0, fmt.Errorf("model expects %d features, got %d", p.n, len(x))
	}
	z := p.intercept
	for i, v := range x {
		if p.mean != nil {
			v -= p.mean[i]
		}
		if p.scale != nil {
			v /= p.scale[i]
		}
		z += p.coef[i] * v
	}
	// A binary multinomial model applies softmax over [-z, z].
	if p.multiClass == "multinomial" {
		z *= 2
	}
	return sigmoid(z), nil
}

// ConcurrentSafe reports that a compiled Pipeline holds no mutable state.
func (p *Pipeline) ConcurrentSafe() bool { return true }

// Name returns the artifact name and version.
func (p *Pipeline) Name() string {
	if p.version == "" {
		return p.name
	}
	return p.name + "@" + p.version
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
