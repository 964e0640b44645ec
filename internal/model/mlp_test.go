package model

import (
	"math"
	"testing"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/spec"
)

func mlpSpec(t *testing.T) *spec.Spec {
	t.Helper()
	s, err := spec.Parse([]byte(`
name: pk_mlp
container: mock:1
emulator_fn: {type: mlp, params: {layers: [4]}}
training: {type: adam}
parameters:
  Omega_b: [0.01, 0.05]
  h: [0.6, 0.8]
outputs:
  pk:
    k: {min: 1.0, max: 9.0, points: 3}
sampling: {count: 16, seed: 1}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

func TestMLP_InitDeterminism(t *testing.T) {
	s := mlpSpec(t)
	a, err := NewMLP(s)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := NewMLP(s)

	a.InitWeights(42)
	b.InitWeights(42)
	wa, wb := a.Weights(), b.Weights()
	if len(wa) == 0 || len(wa) != len(wb) {
		t.Fatalf("weight lengths %d, %d", len(wa), len(wb))
	}
	for i := range wa {
		if wa[i] != wb[i] {
			t.Fatalf("same seed diverged at weight %d", i)
		}
	}

	b.InitWeights(43)
	same := true
	for i, v := range b.Weights() {
		if wa[i] != v {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical weights")
	}
}

func TestMLP_WeightsRoundTrip(t *testing.T) {
	s := mlpSpec(t)
	m, _ := NewMLP(s)
	m.InitWeights(7)

	ws := m.Weights()
	for i := range ws {
		ws[i] += 0.5
	}
	m.SetWeights(ws)
	got := m.Weights()
	for i := range ws {
		if got[i] != ws[i] {
			t.Fatalf("weight %d = %g, want %g", i, got[i], ws[i])
		}
	}
}

func TestMLP_Evaluate(t *testing.T) {
	s := mlpSpec(t)
	m, _ := NewMLP(s)
	m.InitWeights(7)

	out, err := m.Evaluate([]float64{0.03, 0.7}, "pk")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	for i, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("out[%d] = %g", i, v)
		}
	}

	if _, err := m.Evaluate([]float64{0.03}, "pk"); err == nil {
		t.Error("wrong parameter count accepted")
	}
	if _, err := m.Evaluate([]float64{0.03, 0.7}, "qk"); err == nil {
		t.Error("unknown output accepted")
	}
}

func TestMLP_GradientMatchesFiniteDifference(t *testing.T) {
	s := mlpSpec(t)
	m, _ := NewMLP(s)
	m.InitWeights(11)

	point := []float64{0.027, 0.71}
	grad, err := m.Gradient(point, "pk")
	if err != nil {
		t.Fatalf("Gradient: %v", err)
	}

	h := 1e-7
	for j := range point {
		up := append([]float64(nil), point...)
		dn := append([]float64(nil), point...)
		up[j] += h
		dn[j] -= h
		vu, _ := m.Evaluate(up, "pk")
		vd, _ := m.Evaluate(dn, "pk")
		for gi := range grad {
			fd := (vu[gi] - vd[gi]) / (2 * h)
			if diff := math.Abs(grad[gi][j] - fd); diff > 1e-5*(math.Abs(fd)+1) {
				t.Errorf("d pk[%d] / d p[%d]: gradient %g, finite difference %g", gi, j, grad[gi][j], fd)
			}
		}
	}
}

func TestMLP_LossGradMatchesFiniteDifference(t *testing.T) {
	s := mlpSpec(t)
	m, _ := NewMLP(s)
	m.InitWeights(13)

	batch := productExamples2D(s, [][]float64{
		{0.015, 0.65}, {0.03, 0.7}, {0.045, 0.75},
	})
	m.Prepare(batch)

	scale := func(truth float64) float64 { return 1 / math.Max(math.Abs(truth), 1e-12) }
	_, grad := m.LossAndGrad(batch, scale)
	ws := m.Weights()
	if len(grad) != len(ws) {
		t.Fatalf("gradient length %d, weights %d", len(grad), len(ws))
	}

	h := 1e-6
	// Probe a spread of weight indices rather than the full vector.
	for _, wi := range []int{0, 1, len(ws) / 2, len(ws) - 2, len(ws) - 1} {
		up := append([]float64(nil), ws...)
		dn := append([]float64(nil), ws...)
		up[wi] += h
		dn[wi] -= h

		m.SetWeights(up)
		lu, _ := m.LossAndGrad(batch, scale)
		m.SetWeights(dn)
		ld, _ := m.LossAndGrad(batch, scale)
		m.SetWeights(ws)

		fd := (lu - ld) / (2 * h)
		if diff := math.Abs(grad[wi] - fd); diff > 1e-4*(math.Abs(fd)+1) {
			t.Errorf("weight %d: backprop %g, finite difference %g", wi, grad[wi], fd)
		}
	}
}

// productExamples2D labels 2-parameter points with pk = Omega_b * h * k.
func productExamples2D(s *spec.Spec, points [][]float64) []dataset.Example {
	grid := s.Output("pk").Axes[0].Grid()
	exs := make([]dataset.Example, len(points))
	for i, p := range points {
		vals := make([]float64, len(grid))
		for j, k := range grid {
			vals[j] = p[0] * p[1] * k
		}
		exs[i] = dataset.Example{Index: i, Point: append([]float64(nil), p...), Values: map[string][]float64{"pk": vals}}
	}
	return exs
}

func TestMLP_EncodeDecode(t *testing.T) {
	s := mlpSpec(t)
	m, _ := NewMLP(s)
	m.InitWeights(3)
	m.Prepare(productExamples2D(s, [][]float64{{0.02, 0.65}, {0.04, 0.75}}))

	data, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(s, data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	want, _ := m.Evaluate([]float64{0.03, 0.7}, "pk")
	got, err := back.Evaluate([]float64{0.03, 0.7}, "pk")
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("decoded model differs at %d", i)
		}
	}
}
