package evaluate

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/emuforge/emuforge/internal/fingerprint"
)

// OutputStats holds relative-error statistics for one declared output
// over the held-out subset.
type OutputStats struct {
	// MaxRelError and MeanRelError cover every held-out grid value
	// whose truth is numerically nonzero.
	MaxRelError  float64 `json:"max_rel_error"`
	MeanRelError float64 `json:"mean_rel_error"`
	// Compared counts the scored grid values, SkippedZero the ones
	// excluded because |truth| was below the zero threshold.
	Compared    int `json:"compared"`
	SkippedZero int `json:"skipped_zero"`
	// OffGridProbes counts midpoint evaluations made along axes that
	// declare a continuous range.
	OffGridProbes int `json:"off_grid_probes"`
	// MaxGradDiscrepancy is the worst relative disagreement between
	// the model gradient and central finite differences, when the
	// gradient spot-check is enabled.
	MaxGradDiscrepancy float64 `json:"max_grad_discrepancy,omitempty"`
}

// Report is the accuracy evaluation result. Its canonical JSON form is
// packaged into the artifact, so every field that varies between
// otherwise identical builds is excluded from serialization.
type Report struct {
	SpecName string             `json:"spec_name"`
	SpecFP   fingerprint.Digest `json:"spec_fingerprint"`
	EnvFP    fingerprint.Digest `json:"env_fingerprint"`

	// Examples is the held-out subset size, Failures the failure
	// marker count across the whole training set.
	Examples int `json:"held_out_examples"`
	Failures int `json:"training_set_failures"`

	Outputs map[string]OutputStats `json:"outputs"`

	// MaxRelError is the worst max_rel_error across outputs. The
	// packaging gate compares it against the spec's declared bound.
	MaxRelError float64 `json:"max_rel_error"`

	// Wall-clock facts about this particular run. Not serialized.
	EvaluatedAt time.Time     `json:"-"`
	Elapsed     time.Duration `json:"-"`
}

// CanonicalJSON renders the report deterministically: sorted keys,
// two-space indent, trailing newline. Byte-identical inputs produce
// byte-identical reports.
func (r *Report) CanonicalJSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}
	return append(data, '\n'), nil
}

// FromCanonicalJSON decodes a report serialized by CanonicalJSON.
func FromCanonicalJSON(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report: %w", err)
	}
	return &r, nil
}

// Check gates the report against the declared accuracy bound.
func (r *Report) Check(bound float64) error {
	if r.MaxRelError <= bound {
		return nil
	}
	worst := ""
	for _, name := range slices.Sorted(maps.Keys(r.Outputs)) {
		if r.Outputs[name].MaxRelError == r.MaxRelError {
			worst = name
			break
		}
	}
	return &AccuracyError{Output: worst, Worst: r.MaxRelError, Bound: bound}
}

// AccuracyError reports a model whose worst-case relative error
// exceeds the spec's declared bound. No artifact is produced when this
// is returned.
type AccuracyError struct {
	Output string
	Worst  float64
	Bound  float64
}

func (e *AccuracyError) Error() string {
	return fmt.Sprintf("accuracy below threshold: output %q worst relative error %.3g exceeds bound %.3g",
		e.Output, e.Worst, e.Bound)
}
