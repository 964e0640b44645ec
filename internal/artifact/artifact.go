// Package artifact packages a built emulator into a single
// content-addressed bundle: a deterministic tar.gz holding the
// canonical spec, the model weights and the accuracy report. Identity
// is the SHA-256 of the archive bytes, so equal builds are equal
// files and a digest names exactly one artifact forever.
package artifact

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/emuforge/emuforge/internal/evaluate"
	"github.com/emuforge/emuforge/internal/fingerprint"
	"github.com/emuforge/emuforge/internal/model"
	"github.com/emuforge/emuforge/internal/spec"
)

// Archive member names, in their fixed order.
const (
	MemberSpec    = "spec.json"
	MemberWeights = "weights.bin"
	MemberReport  = "report.json"
)

// Ext is the artifact file extension.
const Ext = ".emu.tar.gz"

// Artifact is a packaged emulator. The archive bytes are the source of
// truth; the parsed members are views into them.
type Artifact struct {
	Digest fingerprint.Digest
	Spec   *spec.Spec
	Report *evaluate.Report

	weights []byte
	data    []byte
}

// Pack bundles the spec, the trained model and the accuracy report.
// Packing the same inputs always yields byte-identical archives: the
// members serialize canonically and every tar and gzip header field
// that could vary between runs is pinned.
func Pack(s *spec.Spec, fn model.Function, report *evaluate.Report) (*Artifact, error) {
	specJSON, err := s.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("packaging spec: %w", err)
	}
	weights, err := model.Encode(fn)
	if err != nil {
		return nil, fmt.Errorf("packaging weights: %w", err)
	}
	reportJSON, err := report.CanonicalJSON()
	if err != nil {
		return nil, fmt.Errorf("packaging report: %w", err)
	}

	data, err := buildArchive([]member{
		{MemberSpec, specJSON},
		{MemberWeights, weights},
		{MemberReport, reportJSON},
	})
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Digest:  fingerprint.OfBytes(data),
		Spec:    s,
		Report:  report,
		weights: weights,
		data:    data,
	}, nil
}

type member struct {
	name string
	data []byte
}

func buildArchive(members []member) ([]byte, error) {
	var buf bytes.Buffer

	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("packaging archive: %w", err)
	}
	gz.ModTime = time.Time{}

	tw := tar.NewWriter(gz)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Mode:     0o644,
			Size:     int64(len(m.data)),
			ModTime:  time.Unix(0, 0).UTC(),
			Uid:      0,
			Gid:      0,
			Typeflag: tar.TypeReg,
			Format:   tar.FormatUSTAR,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("packaging %s: %w", m.name, err)
		}
		if _, err := tw.Write(m.data); err != nil {
			return nil, fmt.Errorf("packaging %s: %w", m.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("packaging archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("packaging archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse reads an artifact from its archive bytes. The member layout is
// part of the format: exactly the three canonical members, in order.
func Parse(data []byte) (*Artifact, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	defer gz.Close()

	want := []string{MemberSpec, MemberWeights, MemberReport}
	found := make(map[string][]byte, len(want))

	tr := tar.NewReader(gz)
	for i := 0; ; i++ {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading artifact: %w", err)
		}
		if i >= len(want) || hdr.Name != want[i] {
			return nil, fmt.Errorf("reading artifact: unexpected member %q", hdr.Name)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading artifact member %s: %w", hdr.Name, err)
		}
		found[hdr.Name] = body
	}
	for _, name := range want {
		if _, ok := found[name]; !ok {
			return nil, fmt.Errorf("reading artifact: missing member %s", name)
		}
	}

	s, err := spec.FromCanonicalJSON(found[MemberSpec])
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}
	report, err := evaluate.FromCanonicalJSON(found[MemberReport])
	if err != nil {
		return nil, fmt.Errorf("reading artifact: %w", err)
	}

	return &Artifact{
		Digest:  fingerprint.OfBytes(data),
		Spec:    s,
		Report:  report,
		weights: found[MemberWeights],
		data:    data,
	}, nil
}

// Open reads and parses an artifact file.
func Open(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "open", Path: path, Err: err}
	}
	a, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Verify checks that the artifact's content still hashes to the
// expected digest.
func (a *Artifact) Verify(expected fingerprint.Digest) error {
	got := fingerprint.OfBytes(a.data)
	if got != expected {
		return fmt.Errorf("artifact digest mismatch: have %s, want %s", got.Short(), expected.Short())
	}
	return nil
}

// Bytes returns the archive bytes. Callers must not modify them.
func (a *Artifact) Bytes() []byte {
	return a.data
}

// Model decodes the packaged weights against the packaged spec.
func (a *Artifact) Model() (model.Function, error) {
	return model.Decode(a.Spec, a.weights)
}

// Filename returns the content-addressed file name for the artifact.
func (a *Artifact) Filename() string {
	return string(a.Digest) + Ext
}

// WriteFile writes the artifact into dir under its content-addressed
// name, atomically: the bytes land in a temp file in the same
// directory, reach disk, and are renamed into place. A crash can leave
// a stale temp file but never a partial artifact.
func (a *Artifact) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	final := filepath.Join(dir, a.Filename())

	tmp, err := os.CreateTemp(dir, ".emu-*")
	if err != nil {
		return "", &IOError{Op: "create", Path: dir, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.data); err != nil {
		tmp.Close()
		return "", &IOError{Op: "write", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", &IOError{Op: "sync", Path: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &IOError{Op: "close", Path: tmp.Name(), Err: err}
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", &IOError{Op: "rename", Path: final, Err: err}
	}
	return final, nil
}

// IOError wraps a filesystem failure during packaging or reading.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("artifact %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
