// Package spec defines the emulator specification: the single immutable
// record that fully determines a build. Two builds from an identical
// spec against an identical solver environment are reproducible up to
// seeded stochastic equivalence, so everything downstream (cache keys,
// artifact identity) is derived from the canonical form of this model.
package spec

import (
	"fmt"
	"math"
	"sort"
)

// Interval is a closed parameter range [Min, Max].
type Interval struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Width returns Max - Min.
func (iv Interval) Width() float64 { return iv.Max - iv.Min }

// Contains reports whether v lies inside the interval.
func (iv Interval) Contains(v float64) bool { return v >= iv.Min && v <= iv.Max }

// Parameter is one named dimension of the input domain.
type Parameter struct {
	Name string `json:"name"`
	Interval
}

// Domain is the full input domain, sorted by parameter name. The sort
// order is load-bearing: sample vectors, normalization and gradients
// all index parameters by this order.
type Domain []Parameter

// Names returns the parameter names in domain order.
func (d Domain) Names() []string {
	names := make([]string, len(d))
	for i, p := range d {
		names[i] = p.Name
	}
	return names
}

// Index returns the position of name in the domain, or -1.
func (d Domain) Index(name string) int {
	for i, p := range d {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Normalize maps a point in the domain to the unit cube.
func (d Domain) Normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, p := range d {
		out[i] = (values[i] - p.Min) / p.Width()
	}
	return out
}

// Spacing selects how grid points are placed along an axis.
type Spacing string

const (
	SpacingLinear Spacing = "linear"
	SpacingLog    Spacing = "log"
)

// Axis is one independent variable of an output quantity, declared as
// a continuous range sampled on a fixed grid.
type Axis struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Points  int     `json:"points"`
	Spacing Spacing `json:"spacing"`
}

// Grid materializes the axis sample points.
func (a Axis) Grid() []float64 {
	pts := make([]float64, a.Points)
	if a.Points == 1 {
		pts[0] = a.Min
		return pts
	}
	switch a.Spacing {
	case SpacingLog:
		lo, hi := math.Log(a.Min), math.Log(a.Max)
		step := (hi - lo) / float64(a.Points-1)
		for i := range pts {
			pts[i] = math.Exp(lo + float64(i)*step)
		}
		// Guard the endpoints against exp/log round-trip error.
		pts[0], pts[a.Points-1] = a.Min, a.Max
	default:
		step := (a.Max - a.Min) / float64(a.Points-1)
		for i := range pts {
			pts[i] = a.Min + float64(i)*step
		}
		pts[a.Points-1] = a.Max
	}
	return pts
}

// Coordinate maps a value on the axis into the spacing's natural
// coordinate (identity for linear, log for log axes). Interpolation
// happens in this coordinate.
func (a Axis) Coordinate(v float64) float64 {
	if a.Spacing == SpacingLog {
		return math.Log(v)
	}
	return v
}

// Output is one emulated quantity on a tensor-product grid. Axes are
// sorted by name; tensors are row-major in that order.
type Output struct {
	Name string `json:"name"`
	Axes []Axis `json:"axes"`
}

// GridSize is the flattened tensor length.
func (o Output) GridSize() int {
	n := 1
	for _, a := range o.Axes {
		n *= a.Points
	}
	return n
}

// Axis returns the named axis, or nil.
func (o Output) Axis(name string) *Axis {
	for i := range o.Axes {
		if o.Axes[i].Name == name {
			return &o.Axes[i]
		}
	}
	return nil
}

// Declaration is a tagged variant: a declared component type plus its
// free-form hyperparameters. The owning component (model registry,
// trainer) decodes Params into its typed configuration exactly once,
// at build start.
type Declaration struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params"`
}

// Float reads a numeric hyperparameter with a default.
func (d Declaration) Float(key string, def float64) float64 {
	v, ok := d.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return def
}

// Int reads an integer hyperparameter with a default.
func (d Declaration) Int(key string, def int) int {
	return int(d.Float(key, float64(def)))
}

// String reads a string hyperparameter with a default.
func (d Declaration) String(key string, def string) string {
	if v, ok := d.Params[key].(string); ok {
		return v
	}
	return def
}

// Ints reads a list-of-integers hyperparameter.
func (d Declaration) Ints(key string) []int {
	raw, ok := d.Params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, v := range raw {
		switch n := v.(type) {
		case int:
			out = append(out, n)
		case int64:
			out = append(out, int(n))
		case float64:
			out = append(out, int(n))
		}
	}
	return out
}

// Sampling declares how the parameter domain is covered.
type Sampling struct {
	Count   int     `json:"count" yaml:"count"`
	Seed    uint64  `json:"seed" yaml:"seed"`
	Holdout float64 `json:"holdout" yaml:"holdout"`
}

// Accuracy declares the certification gate for the built emulator.
type Accuracy struct {
	MaxRelativeError float64 `json:"max_relative_error" yaml:"max_relative_error"`
}

// Spec is the immutable emulator specification.
type Spec struct {
	Name       string            `json:"name"`
	Author     string            `json:"author,omitempty"`
	Container  string            `json:"container"`
	Config     map[string]string `json:"config,omitempty"`
	EmulatorFn Declaration       `json:"emulator_fn"`
	Training   Declaration       `json:"training"`
	Parameters Domain            `json:"parameters"`
	Outputs    []Output          `json:"outputs"`
	Sampling   Sampling          `json:"sampling"`
	Accuracy   Accuracy          `json:"accuracy"`
}

// Output returns the named output declaration, or nil.
func (s *Spec) Output(name string) *Output {
	for i := range s.Outputs {
		if s.Outputs[i].Name == name {
			return &s.Outputs[i]
		}
	}
	return nil
}

// OutputNames returns the declared output names in canonical order.
func (s *Spec) OutputNames() []string {
	names := make([]string, len(s.Outputs))
	for i, o := range s.Outputs {
		names[i] = o.Name
	}
	return names
}

// normalize sorts every name-keyed collection so that the in-memory
// representation, and therefore the canonical bytes, do not depend on
// YAML map iteration order.
func (s *Spec) normalize() {
	sort.Slice(s.Parameters, func(i, j int) bool { return s.Parameters[i].Name < s.Parameters[j].Name })
	sort.Slice(s.Outputs, func(i, j int) bool { return s.Outputs[i].Name < s.Outputs[j].Name })
	for i := range s.Outputs {
		axes := s.Outputs[i].Axes
		sort.Slice(axes, func(a, b int) bool { return axes[a].Name < axes[b].Name })
	}
	if s.EmulatorFn.Params == nil {
		s.EmulatorFn.Params = map[string]any{}
	}
	if s.Training.Params == nil {
		s.Training.Params = map[string]any{}
	}
}

func (s *Spec) String() string {
	return fmt.Sprintf("%s (%d params, %d outputs, %d samples)",
		s.Name, len(s.Parameters), len(s.Outputs), s.Sampling.Count)
}
