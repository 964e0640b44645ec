package training

import (
	"context"
	"fmt"
	"math"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/spec"
)

// Adam hyperparameter defaults. All are overridable through
// training.params in the spec.
const (
	defaultEpochs   = 2000
	defaultLearning = 1e-3
	defaultBeta1    = 0.9
	defaultBeta2    = 0.999
	defaultEpsilon  = 1e-8
	defaultPatience = 200
	defaultSeed     = 1
)

// fitAdam runs full-batch Adam over the fit examples. The run is
// deterministic for a given spec and fit subset: initialization is
// seeded and every epoch sees the whole batch in order. Returns the
// number of epochs run and the best loss seen; the model holds the
// weights of that best epoch on return.
func fitAdam(ctx context.Context, m gradientModel, s *spec.Spec, fit []dataset.Example, scale func(float64) float64, opts Options) (int, float64, error) {
	epochs := s.Training.Int("epochs", defaultEpochs)
	lr := s.Training.Float("learning_rate", defaultLearning)
	beta1 := s.Training.Float("beta1", defaultBeta1)
	beta2 := s.Training.Float("beta2", defaultBeta2)
	eps := s.Training.Float("epsilon", defaultEpsilon)
	patience := s.Training.Int("patience", defaultPatience)
	tol := s.Training.Float("tolerance", 0)
	seed := uint64(s.Training.Int("seed", defaultSeed))

	if epochs < 1 {
		return 0, 0, &spec.InvalidDomainError{
			Field:  "training.params.epochs",
			Reason: fmt.Sprintf("must be at least 1, got %d", epochs),
		}
	}

	m.InitWeights(seed)
	m.Prepare(fit)

	ws := m.Weights()
	mom := make([]float64, len(ws))
	vel := make([]float64, len(ws))
	best := make([]float64, len(ws))
	copy(best, ws)
	bestLoss := math.Inf(1)
	sinceBest := 0

	epoch := 0
	for epoch = 1; epoch <= epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return epoch - 1, bestLoss, err
		}

		loss, grad := m.LossAndGrad(fit, scale)
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return epoch, loss, &DivergedError{Epoch: epoch, Reason: "loss is not finite"}
		}
		if opts.OnEpoch != nil {
			opts.OnEpoch(epoch, loss)
		}

		if loss < bestLoss {
			bestLoss = loss
			copy(best, ws)
			sinceBest = 0
		} else {
			sinceBest++
			if patience > 0 && sinceBest >= patience {
				return epoch, bestLoss, &DivergedError{
					Epoch:  epoch,
					Reason: fmt.Sprintf("no improvement in %d epochs", patience),
				}
			}
		}
		if tol > 0 && loss <= tol {
			break
		}

		// Bias-corrected Adam step.
		c1 := 1 - math.Pow(beta1, float64(epoch))
		c2 := 1 - math.Pow(beta2, float64(epoch))
		for i := range ws {
			mom[i] = beta1*mom[i] + (1-beta1)*grad[i]
			vel[i] = beta2*vel[i] + (1-beta2)*grad[i]*grad[i]
			mhat := mom[i] / c1
			vhat := vel[i] / c2
			ws[i] -= lr * mhat / (math.Sqrt(vhat) + eps)
		}
		m.SetWeights(ws)
	}
	if epoch > epochs {
		epoch = epochs
	}

	// The last Adam step may have moved past the optimum; ship the
	// best weights seen.
	m.SetWeights(best)
	return epoch, bestLoss, nil
}
