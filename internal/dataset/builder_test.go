package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emuforge/emuforge/internal/cache"
	"github.com/emuforge/emuforge/internal/sampler"
	"github.com/emuforge/emuforge/internal/solver"
	"github.com/emuforge/emuforge/internal/spec"
)

func testSpec(t *testing.T, count int) *spec.Spec {
	t.Helper()
	y := fmt.Sprintf(`
name: pk_demo
container: mock:1
emulator_fn: {type: polynomial, params: {degree: 1}}
training: {type: least_squares}
parameters:
  Omega_b: [0.01, 0.05]
outputs:
  pk:
    k: {min: 0.1, max: 10.0, points: 8}
sampling: {count: %d, seed: 3, holdout: 0.25}
`, count)
	s, err := spec.Parse([]byte(y))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func testPoints(t *testing.T, s *spec.Spec) []sampler.Point {
	t.Helper()
	smp, err := sampler.New(s.Parameters, s.Sampling.Seed)
	if err != nil {
		t.Fatalf("sampler.New: %v", err)
	}
	return smp.Sample(s.Sampling.Count)
}

// productAdapter computes pk(Omega_b, k) = Omega_b * k and counts its
// invocations.
func productAdapter(calls *atomic.Int64) *solver.Func {
	return &solver.Func{
		ID: "product",
		Fn: func(_ context.Context, req solver.Request) (*solver.Result, error) {
			calls.Add(1)
			vals := make(map[string][]float64, len(req.Outputs))
			for _, out := range req.Outputs {
				grid := out.Axes[0].Grid()
				tensor := make([]float64, len(grid))
				for i, k := range grid {
					tensor[i] = req.Point[0] * k
				}
				vals[out.Name] = tensor
			}
			return &solver.Result{Values: vals}, nil
		},
	}
}

func TestBuild(t *testing.T) {
	s := testSpec(t, 16)
	points := testPoints(t, s)
	var calls atomic.Int64

	b := &Builder{Adapter: productAdapter(&calls), Cache: cache.NewMemoryStore(), Workers: 4}
	set, err := b.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if set.Len() != 16 {
		t.Fatalf("Len = %d, want 16", set.Len())
	}
	if calls.Load() != 16 {
		t.Errorf("solver calls = %d, want 16", calls.Load())
	}
	if set.FailureCount() != 0 {
		t.Errorf("failures = %d", set.FailureCount())
	}

	grid := s.Output("pk").Axes[0].Grid()
	for i, ex := range set.Examples {
		if ex.Index != i {
			t.Fatalf("example %d has index %d", i, ex.Index)
		}
		if ex.Point[0] != points[i][0] {
			t.Errorf("example %d point mismatch", i)
		}
		for j, k := range grid {
			want := points[i][0] * k
			if ex.Values["pk"][j] != want {
				t.Errorf("example %d value[%d] = %g, want %g", i, j, ex.Values["pk"][j], want)
			}
		}
	}

	fp, err := s.SolverFingerprint()
	if err != nil {
		t.Fatal(err)
	}
	wantHeld := 0
	for i := 0; i < 16; i++ {
		if InHoldout(fp, i, s.Sampling.Holdout) {
			wantHeld++
		}
	}
	if nf, nh := len(set.Fit()), len(set.HeldOut()); nf+nh != 16 || nh != wantHeld {
		t.Errorf("partition fit=%d held-out=%d, want held-out=%d", nf, nh, wantHeld)
	}
}

func TestBuild_CacheIdempotence(t *testing.T) {
	s := testSpec(t, 16)
	points := testPoints(t, s)
	store := cache.NewMemoryStore()
	var calls atomic.Int64

	b := &Builder{Adapter: productAdapter(&calls), Cache: store}
	first, err := b.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	if calls.Load() != 16 {
		t.Fatalf("first run calls = %d", calls.Load())
	}

	b2 := &Builder{Adapter: productAdapter(&calls), Cache: store}
	second, err := b2.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if calls.Load() != 16 {
		t.Errorf("second run issued %d extra solver calls", calls.Load()-16)
	}
	if second.CachedCount() != 16 {
		t.Errorf("CachedCount = %d, want 16", second.CachedCount())
	}

	for i := range first.Examples {
		a, b := first.Examples[i], second.Examples[i]
		if a.HeldOut != b.HeldOut {
			t.Errorf("example %d changed partition across runs", i)
		}
		for j := range a.Values["pk"] {
			if a.Values["pk"][j] != b.Values["pk"][j] {
				t.Errorf("example %d value %d changed across runs", i, j)
			}
		}
	}
}

func TestBuild_PermanentFailureMarkers(t *testing.T) {
	s := testSpec(t, 16)
	points := testPoints(t, s)
	store := cache.NewMemoryStore()
	var calls atomic.Int64

	// Reject exactly one point, high in the domain.
	cut := 0.047
	ok := productAdapter(&calls)
	reject := &solver.Func{
		ID: "rejecting",
		Fn: func(ctx context.Context, req solver.Request) (*solver.Result, error) {
			if req.Point[0] > cut {
				calls.Add(1)
				return nil, solver.Permanentf("Omega_b %g beyond physical regime", req.Point[0])
			}
			return ok.Fn(ctx, req)
		},
	}
	var rejected int
	for _, pt := range points {
		if pt[0] > cut {
			rejected++
		}
	}
	if rejected == 0 || rejected > 1 {
		t.Fatalf("test domain cut rejects %d points, want 1", rejected)
	}

	b := &Builder{Adapter: reject, Cache: store, MaxRetries: 2, Backoff: time.Millisecond}
	set, err := b.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.FailureCount() != 1 {
		t.Fatalf("failures = %d, want 1", set.FailureCount())
	}
	if calls.Load() != 16 {
		t.Errorf("calls = %d, want 16: permanent failures must not be retried", calls.Load())
	}

	// The marker is durable: a rebuild consults the cache, not the solver.
	b2 := &Builder{Adapter: reject, Cache: store}
	set2, err := b2.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if calls.Load() != 16 {
		t.Errorf("rebuild re-invoked the solver for a marked point")
	}
	if set2.FailureCount() != 1 {
		t.Errorf("marker lost on rebuild")
	}
}

func TestBuild_TransientRetry(t *testing.T) {
	s := testSpec(t, 4)
	points := testPoints(t, s)
	var calls, flaky atomic.Int64

	// The first two attempts fail transiently, then the solver recovers.
	ok := productAdapter(&calls)
	adapter := &solver.Func{
		ID: "flaky",
		Fn: func(ctx context.Context, req solver.Request) (*solver.Result, error) {
			if flaky.Add(1) <= 2 {
				return nil, solver.Transient(errors.New("container start timed out"))
			}
			return ok.Fn(ctx, req)
		},
	}

	b := &Builder{
		Adapter: adapter, Cache: cache.NewMemoryStore(),
		Workers: 1, MaxRetries: 3, Backoff: time.Millisecond,
	}
	set, err := b.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.FailureCount() != 0 {
		t.Errorf("failures = %d after retries", set.FailureCount())
	}
}

func TestBuild_RetriesExhausted(t *testing.T) {
	s := testSpec(t, 4)
	points := testPoints(t, s)
	store := cache.NewMemoryStore()

	down := &solver.Func{
		ID: "down",
		Fn: func(context.Context, solver.Request) (*solver.Result, error) {
			return nil, solver.Transient(errors.New("no route to host"))
		},
	}

	b := &Builder{Adapter: down, Cache: store, MaxRetries: 1, Backoff: time.Millisecond}
	_, err := b.Build(context.Background(), s, points)
	var derr *DegradedError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want DegradedError", err)
	}

	// Exhausted retries are not durable facts: nothing may be cached.
	n, _ := store.Count(context.Background())
	if n != 0 {
		t.Errorf("cache holds %d entries after transient-only failures", n)
	}
}

func TestBuild_DegradedThreshold(t *testing.T) {
	s := testSpec(t, 16)
	points := testPoints(t, s)

	// Reject the lower half of the domain: far past any threshold.
	ok := productAdapter(new(atomic.Int64))
	reject := &solver.Func{
		ID: "half",
		Fn: func(ctx context.Context, req solver.Request) (*solver.Result, error) {
			if req.Point[0] < 0.03 {
				return nil, solver.Permanentf("unphysical")
			}
			return ok.Fn(ctx, req)
		},
	}

	b := &Builder{Adapter: reject, Cache: cache.NewMemoryStore(), MaxFailureRate: 0.25}
	_, err := b.Build(context.Background(), s, points)
	var derr *DegradedError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want DegradedError", err)
	}
	if derr.Threshold != 0.25 {
		t.Errorf("threshold = %g", derr.Threshold)
	}
}

func TestBuild_FailuresUnderThreshold(t *testing.T) {
	s := testSpec(t, 16)
	points := testPoints(t, s)
	var calls atomic.Int64

	// A single rejection out of sixteen stays under a 20% threshold.
	one := points[3][0]
	ok := productAdapter(&calls)
	reject := &solver.Func{
		ID: "one",
		Fn: func(ctx context.Context, req solver.Request) (*solver.Result, error) {
			if req.Point[0] == one {
				return nil, solver.Permanentf("unphysical")
			}
			return ok.Fn(ctx, req)
		},
	}

	b := &Builder{Adapter: reject, Cache: cache.NewMemoryStore(), MaxFailureRate: 0.2}
	set, err := b.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.FailureCount() != 1 {
		t.Errorf("failures = %d, want 1", set.FailureCount())
	}
	if set.Examples[3].Reason == "" || !set.Examples[3].Failed {
		t.Errorf("example 3 = %+v, want failure marker", set.Examples[3])
	}
}

func TestBuild_Cancellation(t *testing.T) {
	s := testSpec(t, 32)
	points := testPoints(t, s)
	var started atomic.Int64

	blocking := &solver.Func{
		ID: "blocking",
		Fn: func(ctx context.Context, req solver.Request) (*solver.Result, error) {
			started.Add(1)
			<-ctx.Done()
			return nil, solver.Transient(ctx.Err())
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Builder{Adapter: blocking, Cache: cache.NewMemoryStore(), Workers: 2}

	done := make(chan error, 1)
	go func() {
		_, err := b.Build(ctx, s, points)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Build returned nil after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Build did not return after cancellation")
	}

	// With two workers, no more than two invocations were dispatched.
	if n := started.Load(); n > 2 {
		t.Errorf("%d invocations dispatched, want at most 2", n)
	}
}

func TestBuild_ProgressEvents(t *testing.T) {
	s := testSpec(t, 8)
	points := testPoints(t, s)
	var calls atomic.Int64
	var events atomic.Int64

	b := &Builder{
		Adapter: productAdapter(&calls),
		Cache:   cache.NewMemoryStore(),
		OnProgress: func(p Progress) {
			events.Add(1)
			if p.Total != 8 {
				t.Errorf("progress total = %d", p.Total)
			}
		},
	}
	if _, err := b.Build(context.Background(), s, points); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if events.Load() != 8 {
		t.Errorf("progress events = %d, want 8", events.Load())
	}
}

func TestInHoldout(t *testing.T) {
	s := testSpec(t, 16)
	fp, err := s.SolverFingerprint()
	if err != nil {
		t.Fatal(err)
	}

	// Deterministic.
	for i := 0; i < 32; i++ {
		if InHoldout(fp, i, 0.25) != InHoldout(fp, i, 0.25) {
			t.Fatalf("membership for index %d is unstable", i)
		}
	}

	// Roughly proportional.
	n := 0
	for i := 0; i < 1000; i++ {
		if InHoldout(fp, i, 0.25) {
			n++
		}
	}
	if n < 180 || n > 320 {
		t.Errorf("held-out count = %d of 1000 at fraction 0.25", n)
	}

	// Degenerate fractions.
	if InHoldout(fp, 0, 0) {
		t.Error("fraction 0 put an example in the held-out set")
	}
	if !InHoldout(fp, 0, 1) {
		t.Error("fraction 1 left an example out of the held-out set")
	}
}

func TestBuild_PartitionStableUnderGrowth(t *testing.T) {
	small := testSpec(t, 16)
	big := testSpec(t, 64)
	store := cache.NewMemoryStore()
	var calls atomic.Int64

	b := &Builder{Adapter: productAdapter(&calls), Cache: store}
	setSmall, err := b.Build(context.Background(), small, testPoints(t, small))
	if err != nil {
		t.Fatal(err)
	}

	afterSmall := calls.Load()
	b2 := &Builder{Adapter: productAdapter(&calls), Cache: store}
	setBig, err := b2.Build(context.Background(), big, testPoints(t, big))
	if err != nil {
		t.Fatal(err)
	}

	// Growing the set only paid for the new points.
	if grew := calls.Load() - afterSmall; grew != 48 {
		t.Errorf("growth issued %d solver calls, want 48", grew)
	}

	// And never reshuffled the existing partition.
	for i := 0; i < 16; i++ {
		if setSmall.Examples[i].HeldOut != setBig.Examples[i].HeldOut {
			t.Errorf("example %d migrated between subsets", i)
		}
	}
}
