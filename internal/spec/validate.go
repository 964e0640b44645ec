package spec

import (
	"fmt"
	"math"
)

// InvalidDomainError reports a malformed spec: an empty or inverted
// interval, a bad grid declaration, or a missing required field.
type InvalidDomainError struct {
	Field  string
	Reason string
}

func (e *InvalidDomainError) Error() string {
	return fmt.Sprintf("invalid domain: %s: %s", e.Field, e.Reason)
}

func invalidf(field, format string, args ...any) error {
	return &InvalidDomainError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the structural invariants of the spec. It runs once
// at load time; downstream components trust a validated spec.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return invalidf("name", "required")
	}
	if s.Container == "" {
		return invalidf("container", "required")
	}
	if s.EmulatorFn.Type == "" {
		return invalidf("emulator_fn.type", "required")
	}
	if s.Training.Type == "" {
		return invalidf("training.type", "required")
	}

	if len(s.Parameters) == 0 {
		return invalidf("parameters", "at least one parameter required")
	}
	seen := make(map[string]bool, len(s.Parameters))
	for _, p := range s.Parameters {
		field := "parameters." + p.Name
		if p.Name == "" {
			return invalidf("parameters", "empty parameter name")
		}
		if seen[p.Name] {
			return invalidf(field, "duplicate parameter")
		}
		seen[p.Name] = true
		if err := validateInterval(field, p.Interval); err != nil {
			return err
		}
	}

	if len(s.Outputs) == 0 {
		return invalidf("outputs", "at least one output required")
	}
	for _, o := range s.Outputs {
		if o.Name == "" {
			return invalidf("outputs", "empty output name")
		}
		if len(o.Axes) == 0 {
			return invalidf("outputs."+o.Name, "at least one axis required")
		}
		for _, a := range o.Axes {
			field := fmt.Sprintf("outputs.%s.%s", o.Name, a.Name)
			if err := validateInterval(field, Interval{Min: a.Min, Max: a.Max}); err != nil {
				return err
			}
			if a.Points < 2 {
				return invalidf(field, "points must be >= 2, got %d", a.Points)
			}
			switch a.Spacing {
			case SpacingLinear:
			case SpacingLog:
				if a.Min <= 0 {
					return invalidf(field, "log spacing requires min > 0, got %g", a.Min)
				}
			default:
				return invalidf(field, "unknown spacing %q", a.Spacing)
			}
		}
	}

	if s.Sampling.Count <= 0 {
		return invalidf("sampling.count", "must be > 0, got %d", s.Sampling.Count)
	}
	if s.Sampling.Holdout <= 0 || s.Sampling.Holdout >= 1 {
		return invalidf("sampling.holdout", "must be in (0, 1), got %g", s.Sampling.Holdout)
	}
	if s.Accuracy.MaxRelativeError <= 0 {
		return invalidf("accuracy.max_relative_error", "must be > 0, got %g", s.Accuracy.MaxRelativeError)
	}
	return nil
}

func validateInterval(field string, iv Interval) error {
	if math.IsNaN(iv.Min) || math.IsNaN(iv.Max) ||
		math.IsInf(iv.Min, 0) || math.IsInf(iv.Max, 0) {
		return invalidf(field, "bounds must be finite")
	}
	if iv.Min >= iv.Max {
		return invalidf(field, "empty or inverted interval [%g, %g]", iv.Min, iv.Max)
	}
	return nil
}
