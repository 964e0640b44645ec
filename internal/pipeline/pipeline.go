// Package pipeline drives a spec through the build stages: sample the
// parameter domain, build the training set against the execution
// environment, train the declared model, evaluate it on the held-out
// subset, and package the artifact. The orchestrator owns all global
// state; every stage is a pure function of its inputs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/cache"
	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/evaluate"
	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/sampler"
	"github.com/emuforge/emuforge/internal/solver"
	"github.com/emuforge/emuforge/internal/spec"
	"github.com/emuforge/emuforge/internal/training"
)

// Pipeline holds a run's collaborators and tuning. Adapter and Cache
// are required; everything else has working defaults.
type Pipeline struct {
	Adapter solver.Adapter
	Cache   cache.Store

	// OutDir receives the packaged artifact.
	OutDir string

	// Builder tuning, passed through to dataset.Builder.
	Workers        int
	MaxRetries     int
	Backoff        time.Duration
	MaxFailureRate float64

	// Evaluator tuning. ZeroThreshold zero means the evaluator default;
	// GradientProbes enables the gradient spot-check.
	ZeroThreshold  float64
	GradientProbes int

	Sink   EventSink
	Logger *slog.Logger
}

// Result is a completed build.
type Result struct {
	RunID    string
	Digest   fingerprint.Digest
	Path     string
	Artifact *artifact.Artifact
	Report   *evaluate.Report
	Stats    *training.Stats

	// Set is the labeled training set the model was fit on, kept for
	// callers that export it.
	Set *dataset.Set

	// Training-set composition for this run.
	Examples int
	Cached   int
	Failures int

	Elapsed time.Duration
}

// Run builds the spec end to end. It returns a Result when the run
// reaches Done, and a *StageError naming the failed stage otherwise.
// Cancellation is honored between stages, per sample while building
// and per epoch while training.
func (p *Pipeline) Run(ctx context.Context, s *spec.Spec) (*Result, error) {
	start := time.Now()
	r := &run{id: uuid.NewString(), state: StageInitialized, sink: p.Sink, logger: p.log()}
	r.logger.Info("build started", "run_id", r.id, "spec", s.Name, "samples", s.Sampling.Count)

	if err := r.advance(ctx, StageSamplingParameters); err != nil {
		return nil, err
	}
	smp, err := sampler.New(s.Parameters, s.Sampling.Seed)
	if err != nil {
		return nil, r.fail(err)
	}
	points := smp.Sample(s.Sampling.Count)
	r.leave()

	if err := r.advance(ctx, StageBuildingTrainingSet); err != nil {
		return nil, err
	}
	builder := &dataset.Builder{
		Adapter:        p.Adapter,
		Cache:          p.Cache,
		Workers:        p.Workers,
		MaxRetries:     p.MaxRetries,
		Backoff:        p.Backoff,
		MaxFailureRate: p.MaxFailureRate,
		Logger:         p.Logger,
		OnProgress: func(pr dataset.Progress) {
			r.emit(Event{
				Kind:   EventSample,
				Stage:  StageBuildingTrainingSet,
				Sample: pr.Index,
				Done:   pr.Done,
				Total:  pr.Total,
				Cached: pr.Cached,
				Failed: pr.Failed,
			})
		},
	}
	set, err := builder.Build(ctx, s, points)
	if err != nil {
		return nil, r.fail(err)
	}
	r.leave()

	if err := r.advance(ctx, StageTraining); err != nil {
		return nil, err
	}
	fn, stats, err := training.Train(ctx, s, set, training.Options{
		Logger: p.Logger,
		OnEpoch: func(epoch int, loss float64) {
			r.emit(Event{Kind: EventEpoch, Stage: StageTraining, Epoch: epoch, Loss: loss})
		},
	})
	if err != nil {
		return nil, r.fail(err)
	}
	r.leave()

	if err := r.advance(ctx, StageEvaluating); err != nil {
		return nil, err
	}
	ev := evaluate.Evaluator{
		ZeroThreshold:  p.ZeroThreshold,
		GradientProbes: p.GradientProbes,
		Logger:         p.Logger,
	}
	report, err := ev.Evaluate(fn, s, set)
	if err != nil {
		return nil, r.fail(err)
	}
	r.leave()

	// Packaging only happens inside the declared accuracy bound; a
	// model that misses it fails here instead of shipping.
	if err := r.advance(ctx, StagePackaging); err != nil {
		return nil, err
	}
	if err := report.Check(s.Accuracy.MaxRelativeError); err != nil {
		return nil, r.fail(err)
	}
	art, err := artifact.Pack(s, fn, report)
	if err != nil {
		return nil, r.fail(err)
	}
	path, err := art.WriteFile(p.OutDir)
	if err != nil {
		return nil, r.fail(err)
	}
	r.leave()

	r.transition(StageDone)
	r.emit(Event{Kind: EventDone, Stage: StageDone, Message: string(art.Digest)})

	elapsed := time.Since(start)
	r.logger.Info("build finished",
		"run_id", r.id,
		"spec", s.Name,
		"digest", art.Digest.Short(),
		"max_rel_error", report.MaxRelError,
		"elapsed", elapsed,
	)
	return &Result{
		RunID:    r.id,
		Digest:   art.Digest,
		Path:     path,
		Artifact: art,
		Report:   report,
		Stats:    stats,
		Set:      set,
		Examples: set.Len(),
		Cached:   set.CachedCount(),
		Failures: set.FailureCount(),
		Elapsed:  elapsed,
	}, nil
}

func (p *Pipeline) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// run tracks one build's state machine and event stream.
type run struct {
	id     string
	state  Stage
	sink   EventSink
	logger *slog.Logger
}

// advance transitions into the next working stage and emits its enter
// event. A context already cancelled at the boundary fails the run in
// the new stage.
func (r *run) advance(ctx context.Context, to Stage) error {
	r.transition(to)
	r.emit(Event{Kind: EventStageEnter, Stage: to})
	r.logger.Debug("stage entered", "run_id", r.id, "stage", to)
	if err := ctx.Err(); err != nil {
		return r.fail(err)
	}
	return nil
}

func (r *run) transition(to Stage) {
	if !isAllowedTransition(r.state, to) {
		panic(fmt.Sprintf("pipeline: transition %s -> %s", r.state, to))
	}
	r.state = to
}

func (r *run) leave() {
	r.emit(Event{Kind: EventStageLeave, Stage: r.state})
}

// fail moves the run to Failed and returns the StageError blaming the
// stage that was active.
func (r *run) fail(cause error) error {
	at := r.state
	r.transition(StageFailed)
	err := &StageError{Stage: at, Cause: cause}
	r.emit(Event{Kind: EventFailed, Stage: at, Message: cause.Error()})
	r.logger.Error("build failed", "run_id", r.id, "stage", at, "error", cause)
	return err
}

func (r *run) emit(ev Event) {
	if r.sink == nil {
		return
	}
	ev.RunID = r.id
	ev.Time = time.Now().UTC()
	r.sink.Emit(ev)
}
