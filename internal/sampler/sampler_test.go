package sampler

import (
	"errors"
	"math"
	"testing"

	"github.com/emuforge/emuforge/internal/spec"
)

func testDomain() spec.Domain {
	return spec.Domain{
		{Name: "Omega_b", Interval: spec.Interval{Min: 0.01, Max: 0.05}},
		{Name: "h", Interval: spec.Interval{Min: 0.6, Max: 0.8}},
	}
}

func TestNew_InvalidDomain(t *testing.T) {
	tests := []struct {
		name   string
		domain spec.Domain
	}{
		{"empty domain", spec.Domain{}},
		{"inverted interval", spec.Domain{{Name: "x", Interval: spec.Interval{Min: 1, Max: 0}}}},
		{"empty interval", spec.Domain{{Name: "x", Interval: spec.Interval{Min: 0.5, Max: 0.5}}}},
		{"nan bound", spec.Domain{{Name: "x", Interval: spec.Interval{Min: math.NaN(), Max: 1}}}},
		{"infinite bound", spec.Domain{{Name: "x", Interval: spec.Interval{Min: 0, Max: math.Inf(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.domain, 0)
			var derr *spec.InvalidDomainError
			if !errors.As(err, &derr) {
				t.Fatalf("error = %v, want InvalidDomainError", err)
			}
		})
	}
}

func TestSample_KnownSequence(t *testing.T) {
	s, err := New(spec.Domain{{Name: "x", Interval: spec.Interval{Min: 0, Max: 1}}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.5, 0.25, 0.75, 0.125, 0.625, 0.375, 0.875}
	for i, w := range want {
		got := s.At(i)[0]
		if math.Abs(got-w) > 1e-15 {
			t.Errorf("At(%d) = %g, want %g", i, got, w)
		}
	}
}

func TestSample_PrefixProperty(t *testing.T) {
	s, err := New(testDomain(), 7)
	if err != nil {
		t.Fatal(err)
	}
	short := s.Sample(8)
	long := s.Sample(20)
	for i := range short {
		for d := range short[i] {
			if short[i][d] != long[i][d] {
				t.Fatalf("point %d dim %d: %g != %g", i, d, short[i][d], long[i][d])
			}
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	a, _ := New(testDomain(), 3)
	b, _ := New(testDomain(), 3)
	pa := a.Sample(16)
	pb := b.Sample(16)
	for i := range pa {
		for d := range pa[i] {
			if pa[i][d] != pb[i][d] {
				t.Fatalf("same seed diverged at point %d dim %d", i, d)
			}
		}
	}

	c, _ := New(testDomain(), 4)
	pc := c.Sample(16)
	same := true
	for i := range pa {
		for d := range pa[i] {
			if pa[i][d] != pc[i][d] {
				same = false
			}
		}
	}
	if same {
		t.Error("different seeds produced identical point sets")
	}
}

func TestSeed_OffsetsSequence(t *testing.T) {
	base, _ := New(testDomain(), 0)
	ahead, _ := New(testDomain(), 5)
	for i := 0; i < 10; i++ {
		a := base.At(i + 5)
		b := ahead.At(i)
		for d := range a {
			if a[d] != b[d] {
				t.Fatalf("seed offset broken at index %d dim %d", i, d)
			}
		}
	}
}

func TestSample_WithinBounds(t *testing.T) {
	dom := testDomain()
	s, _ := New(dom, 11)
	for i, pt := range s.Sample(256) {
		if len(pt) != len(dom) {
			t.Fatalf("point %d has %d dims, want %d", i, len(pt), len(dom))
		}
		for d, v := range pt {
			if !dom[d].Contains(v) {
				t.Errorf("point %d dim %s = %g outside [%g, %g]",
					i, dom[d].Name, v, dom[d].Min, dom[d].Max)
			}
		}
	}
}

// Halton points equidistribute: over 64 points every eighth of the
// interval must be visited.
func TestSample_CoversDomain(t *testing.T) {
	s, _ := New(spec.Domain{{Name: "x", Interval: spec.Interval{Min: 2, Max: 10}}}, 0)
	var bins [8]int
	for _, pt := range s.Sample(64) {
		b := int((pt[0] - 2) / 8 * 8)
		if b == 8 {
			b = 7
		}
		bins[b]++
	}
	for b, n := range bins {
		if n == 0 {
			t.Errorf("bin %d received no samples", b)
		}
	}
}
