package artifact

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/evaluate"
	"github.com/emuforge/emuforge/internal/model"
	"github.com/emuforge/emuforge/internal/spec"
)

func testSpec(t *testing.T) *spec.Spec {
	t.Helper()
	s, err := spec.Parse([]byte(`
name: pk_pack
container: mock:1
emulator_fn: {type: polynomial, params: {degree: 1}}
training: {type: least_squares}
parameters:
  Omega_b: [0.01, 0.05]
outputs:
  pk:
    k: {min: 1.0, max: 9.0, points: 5}
sampling: {count: 16, seed: 1}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

// built returns a packable trio: spec, exact-fit model, report.
func built(t *testing.T) (*spec.Spec, model.Function, *evaluate.Report) {
	t.Helper()
	s := testSpec(t)
	grid := s.Output("pk").Axes[0].Grid()

	examples := func(points []float64, heldOut bool) []dataset.Example {
		var exs []dataset.Example
		for i, omega := range points {
			vals := make([]float64, len(grid))
			for j, k := range grid {
				vals[j] = omega * k
			}
			exs = append(exs, dataset.Example{
				Index: i, Point: []float64{omega},
				Values:  map[string][]float64{"pk": vals},
				HeldOut: heldOut,
			})
		}
		return exs
	}

	p, err := model.NewPolynomial(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.FitLeastSquares(examples([]float64{0.012, 0.02, 0.033, 0.049}, false), nil); err != nil {
		t.Fatalf("FitLeastSquares: %v", err)
	}

	set := &dataset.Set{SpecFP: "specfp", EnvFP: "envfp", Examples: examples([]float64{0.018, 0.04}, true)}
	var e evaluate.Evaluator
	report, err := e.Evaluate(p, s, set)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	return s, p, report
}

func TestPack_Deterministic(t *testing.T) {
	s, fn, report := built(t)

	a, err := Pack(s, fn, report)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	b, err := Pack(s, fn, report)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("identical inputs packed to different bytes")
	}
	if a.Digest != b.Digest {
		t.Errorf("digests differ: %s vs %s", a.Digest, b.Digest)
	}
	if a.Digest == "" {
		t.Error("empty digest")
	}
}

func TestPack_DigestTracksContent(t *testing.T) {
	s, fn, report := built(t)

	a, err := Pack(s, fn, report)
	if err != nil {
		t.Fatal(err)
	}

	changed := *report
	changed.MaxRelError = 0.5
	b, err := Pack(s, fn, &changed)
	if err != nil {
		t.Fatal(err)
	}
	if a.Digest == b.Digest {
		t.Error("different reports packed to the same digest")
	}
}

func TestWriteFileAndOpen(t *testing.T) {
	s, fn, report := built(t)
	a, err := Pack(s, fn, report)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path, err := a.WriteFile(dir)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if filepath.Base(path) != string(a.Digest)+Ext {
		t.Errorf("path = %s, want content-addressed name", path)
	}

	// No temp droppings after a clean write.
	leftovers, err := filepath.Glob(filepath.Join(dir, ".emu-*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}

	back, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if back.Digest != a.Digest {
		t.Errorf("digest changed on disk: %s vs %s", back.Digest, a.Digest)
	}
	if back.Spec.Name != s.Name {
		t.Errorf("spec name = %q, want %q", back.Spec.Name, s.Name)
	}
	if back.Report.MaxRelError != report.MaxRelError {
		t.Errorf("report max = %g, want %g", back.Report.MaxRelError, report.MaxRelError)
	}
	if err := back.Verify(a.Digest); err != nil {
		t.Errorf("Verify: %v", err)
	}

	// The packaged model evaluates identically to the original.
	fn2, err := back.Model()
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	want, err := fn.Evaluate([]float64{0.03}, "pk")
	if err != nil {
		t.Fatal(err)
	}
	got, err := fn2.Evaluate([]float64{0.03}, "pk")
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-15 {
			t.Fatalf("restored model diverges at %d: %g vs %g", i, got[i], want[i])
		}
	}

	// Re-writing the same artifact lands on the same path.
	again, err := a.WriteFile(dir)
	if err != nil {
		t.Fatalf("second WriteFile: %v", err)
	}
	if again != path {
		t.Errorf("second write path = %s, want %s", again, path)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	s, fn, report := built(t)
	a, err := Pack(s, fn, report)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Verify("deadbeef"); err == nil {
		t.Error("Verify accepted a wrong digest")
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := Parse([]byte("not an archive")); err == nil {
		t.Error("Parse accepted garbage")
	}
}

func TestParse_WrongLayout(t *testing.T) {
	tests := []struct {
		name    string
		members []member
	}{
		{"wrong order", []member{
			{MemberWeights, []byte("w")},
			{MemberSpec, []byte("{}")},
			{MemberReport, []byte("{}")},
		}},
		{"missing member", []member{
			{MemberSpec, []byte("{}")},
			{MemberWeights, []byte("w")},
		}},
		{"extra member", []member{
			{MemberSpec, []byte("{}")},
			{MemberWeights, []byte("w")},
			{MemberReport, []byte("{}")},
			{"notes.txt", []byte("hello")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := buildArchive(tt.members)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := Parse(data); err == nil {
				t.Error("Parse accepted a malformed layout")
			}
		})
	}
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"+Ext))
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("err = %v, want IOError", err)
	}
	if ioErr.Op != "open" {
		t.Errorf("Op = %q, want open", ioErr.Op)
	}
	if !errors.Is(ioErr.Err, os.ErrNotExist) {
		t.Errorf("Err = %v, want not-exist", ioErr.Err)
	}
}
