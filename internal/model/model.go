// Package model holds the emulator function families. A trained model
// is a pure function from a parameter point to output tensors on the
// spec's grids, differentiable with respect to the parameters; the
// gradient is part of the contract, not instrumentation.
package model

import (
	"fmt"

	"github.com/emuforge/emuforge/internal/spec"
)

// Function is a trained emulator function.
//
// Evaluate returns the output tensor over the declared grid. Gradient
// returns the derivative of every tensor element with respect to every
// input parameter, indexed [grid element][parameter]. Both take the
// parameter point in domain order.
type Function interface {
	Family() string
	Outputs() []string
	Evaluate(params []float64, output string) ([]float64, error)
	Gradient(params []float64, output string) ([][]float64, error)
}

// New builds an untrained model from the spec's emulator_fn
// declaration. The returned Function is not usable until a trainer has
// fit it.
func New(s *spec.Spec) (Function, error) {
	switch s.EmulatorFn.Type {
	case "polynomial":
		return NewPolynomial(s)
	case "mlp":
		return NewMLP(s)
	default:
		return nil, &spec.InvalidDomainError{
			Field:  "emulator_fn.type",
			Reason: fmt.Sprintf("unknown model family %q", s.EmulatorFn.Type),
		}
	}
}

// checkParams validates a parameter point against the domain.
func checkParams(d spec.Domain, params []float64) error {
	if len(params) != len(d) {
		return fmt.Errorf("got %d parameters, want %d", len(params), len(d))
	}
	return nil
}

// EvaluateAt evaluates fn at arbitrary coordinates along the output's
// axes, one coordinate per axis in axis order. Values between grid
// points are multilinearly interpolated in each axis's natural
// coordinate, which is what makes a declared continuous range usable
// off the training grid.
func EvaluateAt(fn Function, out spec.Output, params []float64, coords []float64) (float64, error) {
	if len(coords) != len(out.Axes) {
		return 0, fmt.Errorf("got %d coordinates, want %d", len(coords), len(out.Axes))
	}

	tensor, err := fn.Evaluate(params, out.Name)
	if err != nil {
		return 0, err
	}
	return interpolate(out, tensor, coords)
}

// GradientAt is EvaluateAt's derivative with respect to the parameter
// point: the interpolation weights are constant in the parameters, so
// the gradient interpolates the same way the value does.
func GradientAt(fn Function, out spec.Output, params []float64, coords []float64) ([]float64, error) {
	if len(coords) != len(out.Axes) {
		return nil, fmt.Errorf("got %d coordinates, want %d", len(coords), len(out.Axes))
	}

	grad, err := fn.Gradient(params, out.Name)
	if err != nil {
		return nil, err
	}

	result := make([]float64, len(params))
	for j := range params {
		col := make([]float64, len(grad))
		for g := range grad {
			col[g] = grad[g][j]
		}
		v, err := interpolate(out, col, coords)
		if err != nil {
			return nil, err
		}
		result[j] = v
	}
	return result, nil
}

// interpolate performs multilinear interpolation of a flattened
// row-major tensor at the given axis coordinates.
func interpolate(out spec.Output, tensor []float64, coords []float64) (float64, error) {
	n := len(out.Axes)
	lo := make([]int, n)
	w := make([]float64, n)

	for d, ax := range out.Axes {
		v := coords[d]
		if v < ax.Min || v > ax.Max {
			return 0, fmt.Errorf("coordinate %g outside axis %s range [%g, %g]",
				v, ax.Name, ax.Min, ax.Max)
		}
		if ax.Points == 1 {
			lo[d], w[d] = 0, 0
			continue
		}
		grid := ax.Grid()
		// Bracket v in the axis's natural coordinate.
		c := ax.Coordinate(v)
		c0, c1 := ax.Coordinate(grid[0]), ax.Coordinate(grid[ax.Points-1])
		t := (c - c0) / (c1 - c0) * float64(ax.Points-1)
		i := int(t)
		if i >= ax.Points-1 {
			i = ax.Points - 2
		}
		lo[d] = i
		// Weight from the exact bracketing cells, not the uniform step,
		// to stay correct at the guarded endpoints.
		ga, gb := ax.Coordinate(grid[i]), ax.Coordinate(grid[i+1])
		w[d] = (c - ga) / (gb - ga)
		if w[d] < 0 {
			w[d] = 0
		}
		if w[d] > 1 {
			w[d] = 1
		}
	}

	// Strides for the row-major flattened tensor.
	strides := make([]int, n)
	stride := 1
	for d := n - 1; d >= 0; d-- {
		strides[d] = stride
		stride *= out.Axes[d].Points
	}

	var acc float64
	for corner := 0; corner < 1<<n; corner++ {
		weight := 1.0
		flat := 0
		for d := 0; d < n; d++ {
			if corner&(1<<d) != 0 {
				weight *= w[d]
				flat += (lo[d] + 1) * strides[d]
			} else {
				weight *= 1 - w[d]
				flat += lo[d] * strides[d]
			}
		}
		if weight == 0 {
			continue
		}
		acc += tensor[flat] * weight
	}
	return acc, nil
}
