// Package evaluate scores a trained model against the held-out subset
// of a training set and produces the accuracy report the packaging
// gate acts on.
package evaluate

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/model"
	"github.com/emuforge/emuforge/internal/spec"
)

const (
	// DefaultZeroThreshold marks truth values too close to zero for a
	// relative error to mean anything. Such grid values are skipped
	// and counted instead of dividing by them.
	DefaultZeroThreshold = 1e-12

	// DefaultSlack widens the adjacent-grid-value envelope that
	// off-grid evaluations must stay inside, as a fraction of the
	// envelope's own width.
	DefaultSlack = 0.5

	// maxProbePoints bounds how many held-out points the off-grid and
	// gradient checks use. They are spot-checks, not a second pass
	// over the whole subset.
	maxProbePoints = 4
)

// Evaluator computes per-output relative-error statistics. The zero
// value is ready to use.
type Evaluator struct {
	// ZeroThreshold overrides DefaultZeroThreshold when positive.
	ZeroThreshold float64
	// Slack overrides DefaultSlack when positive.
	Slack float64
	// GradientProbes enables the finite-difference gradient
	// spot-check on up to that many held-out points per output.
	GradientProbes int

	Logger *slog.Logger
}

// Evaluate scores fn on the set's held-out subset. The model must
// also hold up between grid points: every axis declares a continuous
// range, so midpoint evaluations are checked for finiteness and for
// staying near the adjacent grid values.
func (e *Evaluator) Evaluate(fn model.Function, s *spec.Spec, set *dataset.Set) (*Report, error) {
	start := time.Now()

	held := set.HeldOut()
	if len(held) == 0 {
		return nil, fmt.Errorf("no held-out examples to evaluate (holdout %g of %d samples)",
			s.Sampling.Holdout, len(set.Examples))
	}
	specFP, err := s.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint spec: %w", err)
	}

	report := &Report{
		SpecName: s.Name,
		SpecFP:   specFP,
		EnvFP:    set.EnvFP,
		Examples: len(held),
		Failures: set.FailureCount(),
		Outputs:  make(map[string]OutputStats, len(s.Outputs)),
	}

	for _, out := range s.Outputs {
		stats, err := e.scoreOutput(fn, s.Parameters, out, held)
		if err != nil {
			return nil, fmt.Errorf("evaluating output %q: %w", out.Name, err)
		}
		report.Outputs[out.Name] = stats
		if stats.MaxRelError > report.MaxRelError {
			report.MaxRelError = stats.MaxRelError
		}
	}

	report.EvaluatedAt = start.UTC()
	report.Elapsed = time.Since(start)

	if e.Logger != nil {
		e.Logger.Info("model evaluated",
			"spec", s.Name,
			"held_out", report.Examples,
			"max_rel_error", report.MaxRelError,
			"elapsed", report.Elapsed,
		)
	}
	return report, nil
}

func (e *Evaluator) scoreOutput(fn model.Function, domain spec.Domain, out spec.Output, held []dataset.Example) (OutputStats, error) {
	var stats OutputStats
	zero := e.zeroThreshold()
	var sum float64

	for _, ex := range held {
		truth, ok := ex.Values[out.Name]
		if !ok {
			return stats, fmt.Errorf("held-out example %d has no values", ex.Index)
		}
		pred, err := fn.Evaluate(ex.Point, out.Name)
		if err != nil {
			return stats, err
		}
		if len(pred) != len(truth) {
			return stats, fmt.Errorf("model returned %d values, truth has %d", len(pred), len(truth))
		}
		for i := range truth {
			if math.Abs(truth[i]) <= zero {
				stats.SkippedZero++
				continue
			}
			rel := math.Abs(pred[i]-truth[i]) / math.Abs(truth[i])
			if math.IsNaN(rel) || math.IsInf(rel, 0) {
				return stats, fmt.Errorf("non-finite prediction at grid value %d of example %d", i, ex.Index)
			}
			if rel > stats.MaxRelError {
				stats.MaxRelError = rel
			}
			sum += rel
			stats.Compared++
		}
	}
	if stats.Compared > 0 {
		stats.MeanRelError = sum / float64(stats.Compared)
	}

	probes := held
	if len(probes) > maxProbePoints {
		probes = probes[:maxProbePoints]
	}
	for _, ex := range probes {
		n, err := e.checkOffGrid(fn, out, ex.Point)
		if err != nil {
			return stats, err
		}
		stats.OffGridProbes += n
	}

	if e.GradientProbes > 0 {
		grads := probes
		if len(grads) > e.GradientProbes {
			grads = grads[:e.GradientProbes]
		}
		for _, ex := range grads {
			d, err := gradDiscrepancy(fn, domain, out, ex.Point)
			if err != nil {
				return stats, err
			}
			if d > stats.MaxGradDiscrepancy {
				stats.MaxGradDiscrepancy = d
			}
		}
	}
	return stats, nil
}

// checkOffGrid evaluates the model at the midpoint of every adjacent
// grid pair along each axis, holding the other axes at their first
// grid value. Midpoint values must be finite and stay within the
// slack-widened envelope of the two bracketing grid values.
func (e *Evaluator) checkOffGrid(fn model.Function, out spec.Output, params []float64) (int, error) {
	slack := e.slack()
	probes := 0

	base := make([]float64, len(out.Axes))
	for i, ax := range out.Axes {
		base[i] = ax.Grid()[0]
	}

	for axIdx, ax := range out.Axes {
		if ax.Points < 2 {
			continue
		}
		grid := ax.Grid()
		for i := 0; i+1 < len(grid); i++ {
			coords := make([]float64, len(base))
			copy(coords, base)

			coords[axIdx] = grid[i]
			va, err := model.EvaluateAt(fn, out, params, coords)
			if err != nil {
				return probes, err
			}
			coords[axIdx] = grid[i+1]
			vb, err := model.EvaluateAt(fn, out, params, coords)
			if err != nil {
				return probes, err
			}

			coords[axIdx] = midpoint(ax, grid[i], grid[i+1])
			mid, err := model.EvaluateAt(fn, out, params, coords)
			if err != nil {
				return probes, err
			}
			probes++

			if math.IsNaN(mid) || math.IsInf(mid, 0) {
				return probes, fmt.Errorf("non-finite value at %s=%g between grid points %d and %d",
					ax.Name, coords[axIdx], i, i+1)
			}
			lo, hi := math.Min(va, vb), math.Max(va, vb)
			pad := slack*(hi-lo) + 1e-12*(math.Abs(lo)+math.Abs(hi)+1)
			if mid < lo-pad || mid > hi+pad {
				return probes, fmt.Errorf("value %g at %s=%g escapes the envelope [%g, %g] of its bracketing grid values",
					mid, ax.Name, coords[axIdx], lo, hi)
			}
		}
	}
	return probes, nil
}

// gradDiscrepancy compares the model gradient against central finite
// differences at one parameter point, returning the worst relative
// disagreement across parameters and grid values.
func gradDiscrepancy(fn model.Function, domain spec.Domain, out spec.Output, params []float64) (float64, error) {
	grad, err := fn.Gradient(params, out.Name)
	if err != nil {
		return 0, err
	}

	var worst float64
	for j := range domain {
		h := 1e-6 * domain[j].Width()
		hi := make([]float64, len(params))
		lo := make([]float64, len(params))
		copy(hi, params)
		copy(lo, params)
		hi[j] += h
		lo[j] -= h

		up, err := fn.Evaluate(hi, out.Name)
		if err != nil {
			return 0, err
		}
		down, err := fn.Evaluate(lo, out.Name)
		if err != nil {
			return 0, err
		}
		for gi := range up {
			fd := (up[gi] - down[gi]) / (2 * h)
			d := math.Abs(grad[gi][j]-fd) / (math.Abs(fd) + 1)
			if d > worst {
				worst = d
			}
		}
	}
	return worst, nil
}

// midpoint halves the bracket in the axis's natural coordinate, so a
// log axis probes the geometric midpoint.
func midpoint(ax spec.Axis, a, b float64) float64 {
	if ax.Spacing == spec.SpacingLog {
		return math.Sqrt(a * b)
	}
	return (a + b) / 2
}

func (e *Evaluator) zeroThreshold() float64 {
	if e.ZeroThreshold > 0 {
		return e.ZeroThreshold
	}
	return DefaultZeroThreshold
}

func (e *Evaluator) slack() float64 {
	if e.Slack > 0 {
		return e.Slack
	}
	return DefaultSlack
}
