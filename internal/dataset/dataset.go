// Package dataset builds labeled training sets by driving a solver
// across sampled parameter points. It owns the expensive middle of a
// build: result caching, bounded retries with backoff, the permanent
// failure policy, and the fit/held-out partition.
package dataset

import (
	"fmt"
	"math"
	"strconv"

	"github.com/emuforge/emuforge/internal/fingerprint"
)

// Example is one labeled pair: a parameter point and the solver's
// output tensors, or a failure marker when the solver rejected the
// point or retries ran out.
type Example struct {
	Index  int                  `json:"index"`
	Point  []float64            `json:"point"`
	Values map[string][]float64 `json:"values,omitempty"`

	Failed bool   `json:"failed,omitempty"`
	Reason string `json:"reason,omitempty"`

	// HeldOut marks membership in the evaluation subset. Fixed per
	// index before any solver call, never recomputed.
	HeldOut bool `json:"held_out"`

	// Cached reports whether the value came from the result store
	// rather than a fresh solver invocation.
	Cached bool `json:"-"`
}

// Set is an ordered training set. Examples are sorted by sample index
// regardless of the order solver invocations completed in.
type Set struct {
	SpecFP   fingerprint.Digest
	EnvFP    fingerprint.Digest
	Examples []Example
}

// Len returns the total number of examples, including failures.
func (s *Set) Len() int { return len(s.Examples) }

// Fit returns the successful examples used for fitting.
func (s *Set) Fit() []Example {
	return s.subset(false)
}

// HeldOut returns the successful examples reserved for evaluation.
func (s *Set) HeldOut() []Example {
	return s.subset(true)
}

func (s *Set) subset(heldOut bool) []Example {
	var out []Example
	for _, ex := range s.Examples {
		if !ex.Failed && ex.HeldOut == heldOut {
			out = append(out, ex)
		}
	}
	return out
}

// FailureCount returns the number of failure markers in the set.
func (s *Set) FailureCount() int {
	n := 0
	for _, ex := range s.Examples {
		if ex.Failed {
			n++
		}
	}
	return n
}

// CachedCount returns how many examples were served from the store.
func (s *Set) CachedCount() int {
	n := 0
	for _, ex := range s.Examples {
		if ex.Cached {
			n++
		}
	}
	return n
}

// InHoldout reports whether the sample at index belongs to the held-out
// subset. Membership hashes (spec fingerprint, index) against the
// fraction, so it is stable across reruns and unchanged when the sample
// set grows: an example never migrates between subsets.
func InHoldout(specFP fingerprint.Digest, index int, fraction float64) bool {
	if fraction <= 0 {
		return false
	}
	if fraction >= 1 {
		return true
	}
	h := fingerprint.New()
	h.WriteString(string(specFP))
	h.WriteInt(int64(index))
	d := string(h.Sum())
	u, err := strconv.ParseUint(d[:16], 16, 64)
	if err != nil {
		panic(fmt.Sprintf("dataset: malformed digest %q", d))
	}
	return float64(u)/float64(math.MaxUint64) < fraction
}

// DegradedError reports a build whose permanent-failure rate crossed
// the configured threshold. Training on such a set would silently bias
// the fit toward the surviving region of the domain.
type DegradedError struct {
	Failed    int
	Total     int
	Threshold float64
}

func (e *DegradedError) Error() string {
	return fmt.Sprintf("training set degraded: %d of %d samples failed (threshold %.0f%%)",
		e.Failed, e.Total, e.Threshold*100)
}
