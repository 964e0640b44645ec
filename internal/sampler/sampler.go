// Package sampler draws low-discrepancy points from a bounded parameter
// domain. Points come from a Halton sequence with one prime base per
// dimension, so a sample set can be grown without disturbing the points
// already drawn: the first N points of a longer run are always identical
// to a shorter run with the same seed.
package sampler

import (
	"fmt"
	"math"

	"github.com/jbarham/primegen"

	"github.com/emuforge/emuforge/internal/spec"
)

// Point is a single parameter vector, ordered like the domain's Names().
type Point []float64

// Sampler generates points over a fixed domain. The zero value is not
// usable; construct with New.
type Sampler struct {
	domain spec.Domain
	bases  []uint64
	seed   uint64
}

// New validates the domain and returns a sampler over it. The seed
// offsets the underlying sequence, so distinct seeds produce distinct
// point sets while identical seeds reproduce points exactly.
func New(domain spec.Domain, seed uint64) (*Sampler, error) {
	if len(domain) == 0 {
		return nil, &spec.InvalidDomainError{Field: "parameters", Reason: "no parameters declared"}
	}
	for _, p := range domain {
		if err := checkInterval(p); err != nil {
			return nil, err
		}
	}

	bases := make([]uint64, len(domain))
	gen := primegen.New()
	for i := range bases {
		bases[i] = gen.Next()
	}

	return &Sampler{domain: domain, bases: bases, seed: seed}, nil
}

func checkInterval(p spec.Parameter) error {
	field := fmt.Sprintf("parameters.%s", p.Name)
	if math.IsNaN(p.Interval.Min) || math.IsNaN(p.Interval.Max) {
		return &spec.InvalidDomainError{Field: field, Reason: "bound is NaN"}
	}
	if math.IsInf(p.Interval.Min, 0) || math.IsInf(p.Interval.Max, 0) {
		return &spec.InvalidDomainError{Field: field, Reason: "bound is infinite"}
	}
	if p.Interval.Min >= p.Interval.Max {
		return &spec.InvalidDomainError{
			Field:  field,
			Reason: fmt.Sprintf("interval [%g, %g] is empty or inverted", p.Interval.Min, p.Interval.Max),
		}
	}
	return nil
}

// Dim returns the number of parameters in the domain.
func (s *Sampler) Dim() int { return len(s.domain) }

// Seed returns the seed the sampler was constructed with.
func (s *Sampler) Seed() uint64 { return s.seed }

// At returns point i of the sequence, scaled into the domain. Points are
// index-addressable: At(i) is the same value whether or not any other
// index has been requested.
func (s *Sampler) At(i int) Point {
	if i < 0 {
		panic(fmt.Sprintf("sampler: negative sample index %d", i))
	}
	// Index 0 of a Halton sequence is the origin of the unit cube, which
	// collides with the domain corner for every seed. Skip it.
	n := s.seed + uint64(i) + 1
	pt := make(Point, len(s.domain))
	for d, p := range s.domain {
		u := radicalInverse(s.bases[d], n)
		pt[d] = p.Interval.Min + u*(p.Interval.Max-p.Interval.Min)
	}
	return pt
}

// Sample returns the first n points of the sequence.
func (s *Sampler) Sample(n int) []Point {
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = s.At(i)
	}
	return pts
}

// radicalInverse reflects the base-b digits of n about the radix point,
// mapping the integers onto a low-discrepancy cover of [0, 1).
func radicalInverse(base, n uint64) float64 {
	inv := 1.0 / float64(base)
	var r float64
	f := inv
	for n > 0 {
		r += float64(n%base) * f
		n /= base
		f *= inv
	}
	return r
}
