package spec

import (
	"encoding/json"
	"fmt"

	"github.com/emuforge/emuforge/internal/fingerprint"
)

// CanonicalJSON renders the spec in its canonical byte form: fixed
// field order, name-sorted collections (normalize ran at load), and
// encoding/json's sorted map keys. These exact bytes are what the
// artifact stores and what the spec fingerprint hashes.
func (s *Spec) CanonicalJSON() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("canonicalizing spec: %w", err)
	}
	return append(data, '\n'), nil
}

// Fingerprint identifies the whole spec. It keys artifact identity and
// reproducibility: any change to any declared field changes it.
func (s *Spec) Fingerprint() (fingerprint.Digest, error) {
	data, err := s.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return fingerprint.OfBytes(data), nil
}

// solverScope is the subset of the spec that determines solver output
// for a given sample index: the environment, its configuration, the
// domain (with the sampling seed, which fixes index → point), and the
// requested output grids. Model and training declarations are
// deliberately excluded so that re-tuning them re-uses cached solves.
type solverScope struct {
	Container  string            `json:"container"`
	Config     map[string]string `json:"config,omitempty"`
	Parameters Domain            `json:"parameters"`
	Outputs    []Output          `json:"outputs"`
	Seed       uint64            `json:"seed"`
}

// SolverFingerprint identifies what is being solved, independent of
// how the result will be fit. It is one third of the training-example
// cache key.
func (s *Spec) SolverFingerprint() (fingerprint.Digest, error) {
	scope := solverScope{
		Container:  s.Container,
		Config:     s.Config,
		Parameters: s.Parameters,
		Outputs:    s.Outputs,
		Seed:       s.Sampling.Seed,
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return "", fmt.Errorf("canonicalizing solver scope: %w", err)
	}
	return fingerprint.OfBytes(data), nil
}

// FromCanonicalJSON parses spec bytes as stored in an artifact and
// re-validates them.
func FromCanonicalJSON(data []byte) (*Spec, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding canonical spec: %w", err)
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
