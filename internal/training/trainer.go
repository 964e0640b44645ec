// Package training fits a declared model family to a training set's
// fit subset under a declared procedure. Only the final model leaves
// this package; intermediate state is not observable.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/model"
	"github.com/emuforge/emuforge/internal/spec"
)

// relFloor guards relative-error objectives against division by
// numerically zero truth values.
const relFloor = 1e-12

// Stats summarizes a finished training run for logs and progress
// reporting. It never enters the artifact.
type Stats struct {
	Family    string
	Procedure string
	Objective string
	Examples  int
	Epochs    int
	FinalLoss float64
}

// Options carries the trainer's collaborators.
type Options struct {
	Logger  *slog.Logger
	OnEpoch func(epoch int, loss float64)
}

// leastSquaresModel is the capability the least_squares procedure
// needs from a model family.
type leastSquaresModel interface {
	model.Function
	MinExamples() int
	FitLeastSquares(fit []dataset.Example, scale func(truth float64) float64) error
}

// gradientModel is the capability iterative procedures need.
type gradientModel interface {
	model.Function
	MinExamples() int
	InitWeights(seed uint64)
	Prepare(fit []dataset.Example)
	Weights() []float64
	SetWeights(ws []float64)
	LossAndGrad(batch []dataset.Example, scale func(truth float64) float64) (float64, []float64)
}

// Train builds the declared model family and fits it to the set's fit
// subset with the declared procedure. Objectives: mse_rel (default)
// weights residuals by 1/|truth|, mse does not.
func Train(ctx context.Context, s *spec.Spec, set *dataset.Set, opts Options) (model.Function, *Stats, error) {
	fn, err := model.New(s)
	if err != nil {
		return nil, nil, err
	}

	objective := s.Training.String("objective", "mse_rel")
	var scale func(float64) float64
	switch objective {
	case "mse_rel":
		scale = func(truth float64) float64 { return 1 / math.Max(math.Abs(truth), relFloor) }
	case "mse":
		scale = nil
	default:
		return nil, nil, &spec.InvalidDomainError{
			Field:  "training.params.objective",
			Reason: fmt.Sprintf("unknown objective %q", objective),
		}
	}

	fit := set.Fit()
	stats := &Stats{
		Family:    s.EmulatorFn.Type,
		Procedure: s.Training.Type,
		Objective: objective,
		Examples:  len(fit),
	}

	switch s.Training.Type {
	case "least_squares":
		m, ok := fn.(leastSquaresModel)
		if !ok {
			return nil, nil, &spec.InvalidDomainError{
				Field:  "training.type",
				Reason: fmt.Sprintf("least_squares cannot fit model family %q", s.EmulatorFn.Type),
			}
		}
		if err := checkSize(s, len(fit), m.MinExamples()); err != nil {
			return nil, nil, err
		}
		if err := m.FitLeastSquares(fit, scale); err != nil {
			return nil, nil, &DivergedError{Epoch: 0, Reason: err.Error()}
		}
		stats.FinalLoss = meanLoss(m, s.Outputs, fit, scale)
		logTrained(opts.Logger, stats)
		return m, stats, nil

	case "adam":
		m, ok := fn.(gradientModel)
		if !ok {
			return nil, nil, &spec.InvalidDomainError{
				Field:  "training.type",
				Reason: fmt.Sprintf("adam cannot fit model family %q", s.EmulatorFn.Type),
			}
		}
		if err := checkSize(s, len(fit), m.MinExamples()); err != nil {
			return nil, nil, err
		}
		epochs, loss, err := fitAdam(ctx, m, s, fit, scale, opts)
		if err != nil {
			return nil, nil, err
		}
		stats.Epochs = epochs
		stats.FinalLoss = loss
		logTrained(opts.Logger, stats)
		return m, stats, nil

	default:
		return nil, nil, &spec.InvalidDomainError{
			Field:  "training.type",
			Reason: fmt.Sprintf("unknown training procedure %q", s.Training.Type),
		}
	}
}

func checkSize(s *spec.Spec, got, familyMin int) error {
	min := s.Training.Int("min_examples", familyMin)
	if got < min {
		return &TooSmallError{Got: got, Min: min}
	}
	return nil
}

// meanLoss scores a fitted model on examples under the objective, for
// reporting.
func meanLoss(fn model.Function, outputs []spec.Output, exs []dataset.Example, scale func(float64) float64) float64 {
	var sum float64
	var count int
	for _, ex := range exs {
		for _, out := range outputs {
			pred, err := fn.Evaluate(ex.Point, out.Name)
			if err != nil {
				return math.NaN()
			}
			truth := ex.Values[out.Name]
			for gi := range pred {
				s := 1.0
				if scale != nil {
					s = scale(truth[gi])
				}
				r := (pred[gi] - truth[gi]) * s
				sum += r * r
				count++
			}
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

func logTrained(logger *slog.Logger, stats *Stats) {
	if logger == nil {
		return
	}
	logger.Info("model trained",
		"family", stats.Family,
		"procedure", stats.Procedure,
		"objective", stats.Objective,
		"examples", stats.Examples,
		"epochs", stats.Epochs,
		"loss", stats.FinalLoss,
	)
}
