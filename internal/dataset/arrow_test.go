package dataset

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/emuforge/emuforge/internal/cache"
	"github.com/emuforge/emuforge/internal/solver"
)

func TestArrowRoundTrip(t *testing.T) {
	s := testSpec(t, 8)
	points := testPoints(t, s)
	var calls atomic.Int64

	// One failure marker among the examples.
	one := points[5][0]
	ok := productAdapter(&calls)
	adapter := &solver.Func{
		ID: "one-reject",
		Fn: func(ctx context.Context, req solver.Request) (*solver.Result, error) {
			if req.Point[0] == one {
				return nil, solver.Permanentf("unphysical")
			}
			return ok.Fn(ctx, req)
		},
	}

	b := &Builder{Adapter: adapter, Cache: cache.NewMemoryStore(), MaxFailureRate: 0.2}
	set, err := b.Build(context.Background(), s, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteArrow(&buf, s, set); err != nil {
		t.Fatalf("WriteArrow: %v", err)
	}

	back, err := ReadArrow(&buf)
	if err != nil {
		t.Fatalf("ReadArrow: %v", err)
	}

	if back.SpecFP != set.SpecFP || back.EnvFP != set.EnvFP {
		t.Errorf("fingerprints lost: %s/%s", back.SpecFP.Short(), back.EnvFP.Short())
	}
	if len(back.Examples) != len(set.Examples) {
		t.Fatalf("examples = %d, want %d", len(back.Examples), len(set.Examples))
	}

	for i, want := range set.Examples {
		got := back.Examples[i]
		if got.Index != want.Index || got.HeldOut != want.HeldOut || got.Failed != want.Failed {
			t.Errorf("example %d flags differ: %+v vs %+v", i, got, want)
		}
		if got.Reason != want.Reason {
			t.Errorf("example %d reason = %q, want %q", i, got.Reason, want.Reason)
		}
		for d := range want.Point {
			if got.Point[d] != want.Point[d] {
				t.Errorf("example %d point dim %d differs", i, d)
			}
		}
		if want.Failed {
			continue
		}
		for j := range want.Values["pk"] {
			if got.Values["pk"][j] != want.Values["pk"][j] {
				t.Errorf("example %d tensor value %d differs", i, j)
			}
		}
	}
}
