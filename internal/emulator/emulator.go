// Package emulator answers queries against built artifacts. An
// Emulator pairs a decoded model with the spec that declared it, so
// callers work in parameter names and axis coordinates rather than
// flattened vectors; a Loader resolves names through the local store
// and, when configured, a remote hub.
package emulator

import (
	"fmt"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/evaluate"
	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/model"
	"github.com/emuforge/emuforge/internal/spec"
)

// NotFoundError reports a name with no emulator behind it, locally or
// on the hub.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no emulator named %q", e.Name)
}

// Emulator is a loaded artifact ready to answer queries.
type Emulator struct {
	Digest fingerprint.Digest
	Spec   *spec.Spec
	Report *evaluate.Report

	fn model.Function
}

// FromArtifact decodes the artifact's weights once and wraps them for
// querying.
func FromArtifact(a *artifact.Artifact) (*Emulator, error) {
	fn, err := a.Model()
	if err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	return &Emulator{Digest: a.Digest, Spec: a.Spec, Report: a.Report, fn: fn}, nil
}

// Point assembles the domain-order parameter vector from a name-keyed
// map. Every declared parameter must be present and inside its trained
// interval; the emulator certifies nothing outside it.
func (e *Emulator) Point(params map[string]float64) ([]float64, error) {
	for name := range params {
		if e.Spec.Parameters.Index(name) < 0 {
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}
	point := make([]float64, len(e.Spec.Parameters))
	for i, p := range e.Spec.Parameters {
		v, ok := params[p.Name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q", p.Name)
		}
		if !p.Contains(v) {
			return nil, fmt.Errorf("parameter %s = %g outside trained range [%g, %g]",
				p.Name, v, p.Min, p.Max)
		}
		point[i] = v
	}
	return point, nil
}

// Output resolves an output name. An empty name selects the sole
// declared output, a convenience for single-quantity emulators.
func (e *Emulator) Output(name string) (*spec.Output, error) {
	if name == "" {
		if len(e.Spec.Outputs) == 1 {
			return &e.Spec.Outputs[0], nil
		}
		return nil, fmt.Errorf("emulator %s has %d outputs, name one of %v",
			e.Spec.Name, len(e.Spec.Outputs), e.Spec.OutputNames())
	}
	out := e.Spec.Output(name)
	if out == nil {
		return nil, fmt.Errorf("unknown output %q, have %v", name, e.Spec.OutputNames())
	}
	return out, nil
}

// Evaluate returns the named output's tensor over its declared grid.
func (e *Emulator) Evaluate(params map[string]float64, output string) ([]float64, error) {
	point, err := e.Point(params)
	if err != nil {
		return nil, err
	}
	out, err := e.Output(output)
	if err != nil {
		return nil, err
	}
	return e.fn.Evaluate(point, out.Name)
}

// EvaluateAt evaluates the named output at arbitrary axis coordinates,
// one per axis in axis order, interpolating between grid points.
func (e *Emulator) EvaluateAt(params map[string]float64, output string, coords []float64) (float64, error) {
	point, err := e.Point(params)
	if err != nil {
		return 0, err
	}
	out, err := e.Output(output)
	if err != nil {
		return 0, err
	}
	return model.EvaluateAt(e.fn, *out, point, coords)
}

// Gradient returns the derivative of every grid element with respect
// to every parameter, indexed [grid element][parameter] with parameters
// in domain order.
func (e *Emulator) Gradient(params map[string]float64, output string) ([][]float64, error) {
	point, err := e.Point(params)
	if err != nil {
		return nil, err
	}
	out, err := e.Output(output)
	if err != nil {
		return nil, err
	}
	return e.fn.Gradient(point, out.Name)
}

// GradientAt returns the parameter gradient of the interpolated value
// at the given axis coordinates.
func (e *Emulator) GradientAt(params map[string]float64, output string, coords []float64) ([]float64, error) {
	point, err := e.Point(params)
	if err != nil {
		return nil, err
	}
	out, err := e.Output(output)
	if err != nil {
		return nil, err
	}
	return model.GradientAt(e.fn, *out, point, coords)
}

// MaxRelError reports the certified worst-case relative error from the
// build's held-out evaluation.
func (e *Emulator) MaxRelError() float64 {
	if e.Report == nil {
		return 0
	}
	return e.Report.MaxRelError
}
