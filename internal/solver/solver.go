// Package solver defines the execution environment adapter: the boundary
// through which the pipeline invokes an external numerical solver for one
// parameter point at a time. Adapters classify every failure as either
// transient (worth retrying) or permanent (the point itself is rejected),
// and identify the environment they run so cached results can be scoped
// to it.
package solver

import (
	"context"
	"fmt"

	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/spec"
)

// Request describes a single solver invocation: one point of the
// parameter domain and the output grids the solver must fill.
type Request struct {
	// Container is the execution environment reference from the spec.
	// Adapters that pin their own environment may ignore it.
	Container string `json:"container"`

	// Config is the solver configuration, passed through verbatim.
	Config map[string]string `json:"config,omitempty"`

	// Names and Point carry the parameter vector in domain order.
	Names []string  `json:"names"`
	Point []float64 `json:"point"`

	// Outputs are the quantities to compute, with their grid axes.
	Outputs []spec.Output `json:"outputs"`
}

// Result holds one output tensor per requested quantity. Tensors are
// flattened over the output's grid in row-major axis order.
type Result struct {
	Values map[string][]float64 `json:"values"`
}

// Validate checks that the result covers every requested output with a
// tensor of the declared grid size.
func (r *Result) Validate(outputs []spec.Output) error {
	for _, out := range outputs {
		vals, ok := r.Values[out.Name]
		if !ok {
			return fmt.Errorf("solver result missing output %q", out.Name)
		}
		if len(vals) != out.GridSize() {
			return fmt.Errorf("output %q has %d values, want %d", out.Name, len(vals), out.GridSize())
		}
	}
	return nil
}

// Adapter runs a solver for single parameter points.
//
// Run returns the computed tensors, a *PermanentError if the solver
// rejects the point, or a *TransientError for any failure that a retry
// might clear. Implementations must honor ctx cancellation.
type Adapter interface {
	// Fingerprint identifies the environment the adapter executes in.
	// Results cached under one fingerprint are never reused under
	// another.
	Fingerprint() fingerprint.Digest

	Run(ctx context.Context, req Request) (*Result, error)
}
