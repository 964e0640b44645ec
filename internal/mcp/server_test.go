package mcp

import (
	"context"
	"fmt"
	"math"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emuforge/emuforge/internal/artifact"
	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/evaluate"
	"github.com/emuforge/emuforge/internal/hub"
	"github.com/emuforge/emuforge/internal/model"
	"github.com/emuforge/emuforge/internal/spec"
)

// buildArtifact packs an exact-fit emulator of Omega_b * k on a linear
// k grid of 1, 3, 5, 7, 9.
func buildArtifact(t *testing.T, specName string) *artifact.Artifact {
	t.Helper()
	s, err := spec.Parse([]byte(fmt.Sprintf(`
name: %s
container: mock:1
emulator_fn: {type: polynomial, params: {degree: 1}}
training: {type: least_squares}
parameters:
  Omega_b: [0.01, 0.05]
outputs:
  pk:
    k: {min: 1.0, max: 9.0, points: 5}
sampling: {count: 16, seed: 1}
`, specName)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
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
	a, err := artifact.Pack(s, p, report)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	return a
}

// testServer creates a server over a temp store seeded with one
// emulator named "demo".
func testServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(&Config{
		Name:     "test-server",
		Version:  "v0.0.0",
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { server.Close() })

	if err := server.store.Put(context.Background(), "demo", buildArtifact(t, "pk_demo")); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return server
}

func TestNewServer(t *testing.T) {
	server, err := NewServer(&Config{
		Name:     "test-server",
		Version:  "v1.0.0",
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if server.server == nil {
		t.Error("Server.server is nil")
	}
	if server.store == nil {
		t.Error("Server.store is nil")
	}
	if server.loader == nil || server.loader.Store != server.store {
		t.Error("loader not wired to the store")
	}
	if server.loader.Hub != nil {
		t.Error("hub client configured without a URL")
	}
}

func TestNewServer_HubURL(t *testing.T) {
	server, err := NewServer(&Config{
		Name:     "test-server",
		Version:  "v1.0.0",
		StoreDir: t.TempDir(),
		HubURL:   "http://hub.local:8080",
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer server.Close()

	if server.loader.Hub == nil || server.loader.Hub.BaseURL != "http://hub.local:8080" {
		t.Error("hub client not configured from the URL")
	}
}

func TestHandleEmulatorList(t *testing.T) {
	server := testServer(t)
	ctx := context.Background()

	_, out, err := server.handleEmulatorList(ctx, nil, EmulatorListInput{})
	if err != nil {
		t.Fatalf("emulator_list failed: %v", err)
	}
	if out.Count != 1 || len(out.Emulators) != 1 {
		t.Fatalf("count = %d, emulators = %v", out.Count, out.Emulators)
	}
	item := out.Emulators[0]
	if item.Name != "demo" {
		t.Errorf("name = %q", item.Name)
	}
	if item.Digest == "" {
		t.Error("digest missing from list item")
	}
	if item.MaxRelError > 1e-9 {
		t.Errorf("max rel error = %g for an exact fit", item.MaxRelError)
	}
}

func TestHandleEmulatorList_MergesHub(t *testing.T) {
	remote, err := hub.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer remote.Close()
	if err := remote.Put(context.Background(), "remote_only", buildArtifact(t, "pk_remote")); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(hub.NewServer(remote, nil))
	defer ts.Close()

	server := testServer(t)
	server.loader.Hub = &hub.Client{BaseURL: ts.URL}

	_, out, err := server.handleEmulatorList(context.Background(), nil, EmulatorListInput{})
	if err != nil {
		t.Fatalf("emulator_list failed: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("count = %d, want local + remote", out.Count)
	}
	// Merged list stays name-sorted.
	if out.Emulators[0].Name != "demo" || out.Emulators[1].Name != "remote_only" {
		t.Errorf("merged order = %q, %q", out.Emulators[0].Name, out.Emulators[1].Name)
	}
}

func TestHandleEmulatorInspect(t *testing.T) {
	server := testServer(t)

	_, out, err := server.handleEmulatorInspect(context.Background(), nil, EmulatorInspectInput{Name: "demo"})
	if err != nil {
		t.Fatalf("emulator_inspect failed: %v", err)
	}

	if out.Name != "demo" || out.ModelFamily != "polynomial" || out.Container != "mock:1" {
		t.Errorf("header = %+v", out)
	}
	if len(out.Parameters) != 1 || out.Parameters[0].Name != "Omega_b" ||
		out.Parameters[0].Min != 0.01 || out.Parameters[0].Max != 0.05 {
		t.Errorf("parameters = %+v", out.Parameters)
	}
	if len(out.Outputs) != 1 || out.Outputs[0].Name != "pk" || out.Outputs[0].GridSize != 5 {
		t.Errorf("outputs = %+v", out.Outputs)
	}
	if len(out.Outputs[0].Axes) != 1 || out.Outputs[0].Axes[0].Points != 5 {
		t.Errorf("axes = %+v", out.Outputs[0].Axes)
	}
	if out.Examples != 2 {
		t.Errorf("examples = %d, want 2 held out", out.Examples)
	}
}

func TestHandleEmulatorInspect_Errors(t *testing.T) {
	server := testServer(t)
	ctx := context.Background()

	if _, _, err := server.handleEmulatorInspect(ctx, nil, EmulatorInspectInput{}); err == nil {
		t.Error("expected error for missing name")
	}
	_, _, err := server.handleEmulatorInspect(ctx, nil, EmulatorInspectInput{Name: "ghost"})
	if err == nil || !strings.Contains(err.Error(), `no emulator named "ghost"`) {
		t.Errorf("unknown name error = %v", err)
	}
}

func TestHandleEmulatorEvaluate(t *testing.T) {
	server := testServer(t)
	ctx := context.Background()

	// Full grid; output name may be omitted for a single-output emulator.
	_, out, err := server.handleEmulatorEvaluate(ctx, nil, EmulatorEvaluateInput{
		Name:   "demo",
		Params: map[string]float64{"Omega_b": 0.03},
	})
	if err != nil {
		t.Fatalf("emulator_evaluate failed: %v", err)
	}
	if out.Output != "pk" || out.Count != 5 || len(out.Values) != 5 {
		t.Fatalf("output = %+v", out)
	}
	// Grid is 1, 3, 5, 7, 9; the truth is Omega_b * k.
	if math.Abs(out.Values[2]-0.03*5) > 1e-12 {
		t.Errorf("values[2] = %g, want %g", out.Values[2], 0.03*5)
	}

	// Interpolated single value.
	_, at, err := server.handleEmulatorEvaluate(ctx, nil, EmulatorEvaluateInput{
		Name:   "demo",
		Params: map[string]float64{"Omega_b": 0.03},
		Output: "pk",
		Coords: []float64{4.5},
	})
	if err != nil {
		t.Fatalf("emulator_evaluate with coords failed: %v", err)
	}
	if at.Count != 1 || len(at.Values) != 1 {
		t.Fatalf("interpolated output = %+v", at)
	}
	if math.Abs(at.Values[0]-0.03*4.5) > 1e-12 {
		t.Errorf("interpolated = %g, want %g", at.Values[0], 0.03*4.5)
	}
}

func TestHandleEmulatorEvaluate_Errors(t *testing.T) {
	server := testServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		args    EmulatorEvaluateInput
		wantSub string
	}{
		{"missing name", EmulatorEvaluateInput{Params: map[string]float64{"Omega_b": 0.03}}, "name is required"},
		{"missing params", EmulatorEvaluateInput{Name: "demo"}, "params are required"},
		{"unknown output", EmulatorEvaluateInput{Name: "demo", Params: map[string]float64{"Omega_b": 0.03}, Output: "cl"}, "unknown output"},
		{"out of range", EmulatorEvaluateInput{Name: "demo", Params: map[string]float64{"Omega_b": 0.5}}, "outside trained range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := server.handleEmulatorEvaluate(ctx, nil, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestHandleEmulatorGradient(t *testing.T) {
	server := testServer(t)
	ctx := context.Background()

	_, out, err := server.handleEmulatorGradient(ctx, nil, EmulatorGradientInput{
		Name:   "demo",
		Params: map[string]float64{"Omega_b": 0.03},
	})
	if err != nil {
		t.Fatalf("emulator_gradient failed: %v", err)
	}
	if len(out.Parameters) != 1 || out.Parameters[0] != "Omega_b" {
		t.Errorf("parameters = %v", out.Parameters)
	}
	if len(out.Gradients) != 5 {
		t.Fatalf("gradient rows = %d, want one per grid value", len(out.Gradients))
	}
	// d(Omega_b * k) / d Omega_b = k.
	if math.Abs(out.Gradients[2][0]-5) > 1e-9 {
		t.Errorf("gradient at k=5 is %g, want 5", out.Gradients[2][0])
	}

	_, at, err := server.handleEmulatorGradient(ctx, nil, EmulatorGradientInput{
		Name:   "demo",
		Params: map[string]float64{"Omega_b": 0.03},
		Coords: []float64{4.5},
	})
	if err != nil {
		t.Fatalf("emulator_gradient with coords failed: %v", err)
	}
	if len(at.Gradients) != 1 || math.Abs(at.Gradients[0][0]-4.5) > 1e-9 {
		t.Errorf("interpolated gradient = %+v, want 4.5", at.Gradients)
	}
}

func TestLoad_CachesByDigest(t *testing.T) {
	server := testServer(t)
	ctx := context.Background()

	first, err := server.load(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	second, err := server.load(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("second load did not reuse the decoded emulator")
	}

	// Repointing the name invalidates the cached entry.
	other := buildArtifact(t, "pk_v2")
	if err := server.store.Put(ctx, "demo", other); err != nil {
		t.Fatal(err)
	}
	third, err := server.load(ctx, "demo")
	if err != nil {
		t.Fatal(err)
	}
	if third == first {
		t.Error("load returned the stale emulator after repoint")
	}
	if third.Digest != other.Digest {
		t.Errorf("digest = %s, want %s", third.Digest, other.Digest)
	}
}

func TestHandleEmulatorsResource(t *testing.T) {
	server := testServer(t)

	res, err := server.handleEmulatorsResource(context.Background(), nil)
	if err != nil {
		t.Fatalf("resource read failed: %v", err)
	}
	if len(res.Contents) != 1 {
		t.Fatalf("contents = %d", len(res.Contents))
	}
	text := res.Contents[0].Text
	if !strings.Contains(text, "# Emulators") || !strings.Contains(text, "**demo**") {
		t.Errorf("resource text missing entries: %q", text)
	}
	if res.Contents[0].URI != emulatorsResourceURI {
		t.Errorf("URI = %q", res.Contents[0].URI)
	}
}

func TestHandleEmulatorsResource_Empty(t *testing.T) {
	server, err := NewServer(&Config{Name: "t", Version: "v", StoreDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()

	res, err := server.handleEmulatorsResource(context.Background(), nil)
	if err != nil {
		t.Fatalf("resource read failed: %v", err)
	}
	if !strings.Contains(res.Contents[0].Text, "No emulators built yet") {
		t.Errorf("empty store text = %q", res.Contents[0].Text)
	}
}
