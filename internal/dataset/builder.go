package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/emuforge/emuforge/internal/cache"
	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/sampler"
	"github.com/emuforge/emuforge/internal/solver"
	"github.com/emuforge/emuforge/internal/spec"
)

// Builder defaults. Retry counts and backoff are configuration with
// documented defaults rather than fixed policy.
const (
	DefaultWorkers        = 4
	DefaultMaxRetries     = 3
	DefaultBackoff        = 500 * time.Millisecond
	DefaultMaxFailureRate = 0.1

	maxBackoff = 30 * time.Second
)

// Progress reports one finished sample to an observer.
type Progress struct {
	Index  int
	Done   int
	Total  int
	Cached bool
	Failed bool
}

// Builder turns sampled points into a Set by calling the solver once
// per point, through the result store. Samples run concurrently under
// a worker limit; the resulting Set is ordered by index no matter how
// completion interleaves.
type Builder struct {
	Adapter solver.Adapter
	Cache   cache.Store

	// Workers bounds concurrent solver invocations.
	Workers int

	// MaxRetries bounds re-attempts after transient failures. Zero
	// means the default; negative disables retries.
	MaxRetries int

	// Backoff is the first retry delay; it doubles per attempt.
	Backoff time.Duration

	// MaxFailureRate aborts the build when exceeded.
	MaxFailureRate float64

	Logger     *slog.Logger
	OnProgress func(Progress)

	group singleflight.Group
}

// Build evaluates every point and assembles the training set. It
// returns a *DegradedError when too many samples fail permanently, or
// the first infrastructure error (cache IO, cancellation) encountered.
func (b *Builder) Build(ctx context.Context, s *spec.Spec, points []sampler.Point) (*Set, error) {
	specFP, err := s.SolverFingerprint()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint spec: %w", err)
	}
	envFP := b.Adapter.Fingerprint()

	total := len(points)
	if total == 0 {
		return nil, fmt.Errorf("no sample points to evaluate")
	}
	maxFailures := int64(b.maxFailureRate() * float64(total))

	examples := make([]Example, total)
	var done, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())
	for i, pt := range points {
		g.Go(func() error {
			entry, cached, err := b.fill(gctx, s, specFP, envFP, i, pt)
			if err != nil {
				return err
			}

			ex := Example{
				Index:   i,
				Point:   pt,
				HeldOut: InHoldout(specFP, i, s.Sampling.Holdout),
				Cached:  cached,
			}
			if entry.Failed {
				ex.Failed = true
				ex.Reason = entry.Reason
			} else {
				var values map[string][]float64
				if err := json.Unmarshal(entry.Payload, &values); err != nil {
					return fmt.Errorf("cache entry for sample %d is corrupt: %w", i, err)
				}
				res := solver.Result{Values: values}
				if err := res.Validate(s.Outputs); err != nil {
					return fmt.Errorf("cache entry for sample %d is invalid: %w", i, err)
				}
				ex.Values = values
			}
			examples[i] = ex

			b.report(Progress{
				Index:  i,
				Done:   int(done.Add(1)),
				Total:  total,
				Cached: cached,
				Failed: ex.Failed,
			})

			if ex.Failed {
				if n := failed.Add(1); n > maxFailures {
					return &DegradedError{Failed: int(n), Total: total, Threshold: b.maxFailureRate()}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if n := int(failed.Load()); float64(n) > b.maxFailureRate()*float64(total) {
		return nil, &DegradedError{Failed: n, Total: total, Threshold: b.maxFailureRate()}
	}

	return &Set{SpecFP: specFP, EnvFP: envFP, Examples: examples}, nil
}

type fillResult struct {
	entry  *cache.Entry
	cached bool
}

// fill resolves one sample through the store. Concurrent requests for
// the same key share a single solver invocation.
func (b *Builder) fill(ctx context.Context, s *spec.Spec, specFP, envFP fingerprint.Digest, index int, pt sampler.Point) (*cache.Entry, bool, error) {
	key := cache.Key{SpecFP: specFP, Index: index, EnvFP: envFP}

	if e, err := b.Cache.Get(ctx, key); err != nil {
		return nil, false, fmt.Errorf("failed to read cache for sample %d: %w", index, err)
	} else if e != nil {
		return e, true, nil
	}

	v, err, _ := b.group.Do(key.String(), func() (any, error) {
		// A concurrent build may have filled the key since our miss.
		if e, err := b.Cache.Get(ctx, key); err != nil {
			return nil, fmt.Errorf("failed to read cache for sample %d: %w", index, err)
		} else if e != nil {
			return &fillResult{entry: e, cached: true}, nil
		}

		entry, persist, err := b.solve(ctx, s, index, pt)
		if err != nil {
			return nil, err
		}
		if persist {
			if err := b.Cache.Put(ctx, key, *entry); err != nil {
				return nil, fmt.Errorf("failed to write cache for sample %d: %w", index, err)
			}
		}
		return &fillResult{entry: entry}, nil
	})
	if err != nil {
		return nil, false, err
	}
	fr := v.(*fillResult)
	return fr.entry, fr.cached, nil
}

// solve runs the adapter with bounded retries. It returns the outcome
// as a cache entry plus whether that entry should be persisted:
// successes and permanent rejections are durable facts, exhausted
// retries are not, since a later run may succeed.
func (b *Builder) solve(ctx context.Context, s *spec.Spec, index int, pt sampler.Point) (*cache.Entry, bool, error) {
	req := solver.Request{
		Container: s.Container,
		Config:    s.Config,
		Names:     s.Parameters.Names(),
		Point:     pt,
		Outputs:   s.Outputs,
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries(); attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if attempt > 0 {
			b.log().Debug("retrying solver invocation",
				"sample", index, "attempt", attempt, "error", lastErr)
			if err := sleepCtx(ctx, b.backoffFor(attempt)); err != nil {
				return nil, false, err
			}
		}

		res, err := b.Adapter.Run(ctx, req)
		if err == nil {
			if verr := res.Validate(s.Outputs); verr != nil {
				lastErr = verr
				continue
			}
			payload, merr := json.Marshal(res.Values)
			if merr != nil {
				return nil, false, fmt.Errorf("failed to encode result for sample %d: %w", index, merr)
			}
			return &cache.Entry{Payload: payload}, true, nil
		}

		var perr *solver.PermanentError
		if errors.As(err, &perr) {
			b.log().Debug("solver rejected point", "sample", index, "reason", perr.Reason)
			return &cache.Entry{Failed: true, Reason: perr.Reason}, true, nil
		}
		lastErr = err
	}

	b.log().Warn("solver retries exhausted", "sample", index, "error", lastErr)
	return &cache.Entry{
		Failed: true,
		Reason: fmt.Sprintf("retries exhausted: %v", lastErr),
	}, false, nil
}

func (b *Builder) workers() int {
	if b.Workers > 0 {
		return b.Workers
	}
	return DefaultWorkers
}

func (b *Builder) maxRetries() int {
	if b.MaxRetries < 0 {
		return 0
	}
	if b.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	return b.MaxRetries
}

func (b *Builder) maxFailureRate() float64 {
	if b.MaxFailureRate > 0 {
		return b.MaxFailureRate
	}
	return DefaultMaxFailureRate
}

func (b *Builder) backoffFor(attempt int) time.Duration {
	base := b.Backoff
	if base <= 0 {
		base = DefaultBackoff
	}
	d := base << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (b *Builder) log() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Builder) report(p Progress) {
	if b.OnProgress != nil {
		b.OnProgress(p)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
