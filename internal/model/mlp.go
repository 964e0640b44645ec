package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/spec"
)

// MLP models each output with a small dense network: normalized
// parameters in, tanh hidden layers, one linear unit per grid point
// out. Targets are standardized per grid point so outputs spanning
// decades train on comparable scales. Fitting happens in the trainer
// through the weight-vector interface below.
type MLP struct {
	domain  spec.Domain
	outputs []spec.Output
	hidden  []int
	nets    map[string]*net
}

// net is one output's network plus its target standardization.
type net struct {
	sizes []int // input, hidden..., grid
	w     [][]float64
	b     [][]float64
	shift []float64
	scale []float64
}

// NewMLP builds an unfit network model from the spec's emulator_fn
// declaration. Hyperparameters: layers (hidden sizes, default [32]).
func NewMLP(s *spec.Spec) (*MLP, error) {
	hidden := s.EmulatorFn.Ints("layers")
	if len(hidden) == 0 {
		hidden = []int{32}
	}
	for _, h := range hidden {
		if h < 1 || h > 4096 {
			return nil, &spec.InvalidDomainError{
				Field:  "emulator_fn.params.layers",
				Reason: fmt.Sprintf("layer size %d outside [1, 4096]", h),
			}
		}
	}

	m := &MLP{
		domain:  s.Parameters,
		outputs: s.Outputs,
		hidden:  hidden,
		nets:    make(map[string]*net, len(s.Outputs)),
	}
	for _, out := range s.Outputs {
		sizes := append([]int{len(s.Parameters)}, hidden...)
		sizes = append(sizes, out.GridSize())
		n := &net{sizes: sizes}
		for l := 0; l+1 < len(sizes); l++ {
			n.w = append(n.w, make([]float64, sizes[l+1]*sizes[l]))
			n.b = append(n.b, make([]float64, sizes[l+1]))
		}
		n.shift = make([]float64, out.GridSize())
		n.scale = make([]float64, out.GridSize())
		for i := range n.scale {
			n.scale[i] = 1
		}
		m.nets[out.Name] = n
	}
	return m, nil
}

func (m *MLP) Family() string { return "mlp" }

func (m *MLP) Outputs() []string {
	names := make([]string, len(m.outputs))
	for i, out := range m.outputs {
		names[i] = out.Name
	}
	return names
}

// MinExamples scales with the weight count: each example contributes
// one equation per grid point.
func (m *MLP) MinExamples() int {
	weights, grid := 0, 0
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		for l := range n.w {
			weights += len(n.w[l]) + len(n.b[l])
		}
		grid += out.GridSize()
	}
	min := (weights + grid - 1) / grid
	if min < 4 {
		min = 4
	}
	return min
}

// InitWeights seeds the weights. The same seed always produces the
// same initialization, which is what makes seeded training runs
// byte-reproducible.
func (m *MLP) InitWeights(seed uint64) {
	rng := rand.New(rand.NewPCG(seed, 0x6d6c70))
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		for l := range n.w {
			fanIn, fanOut := n.sizes[l], n.sizes[l+1]
			sd := math.Sqrt(2 / float64(fanIn+fanOut))
			for i := range n.w[l] {
				n.w[l][i] = rng.NormFloat64() * sd
			}
			for i := range n.b[l] {
				n.b[l][i] = 0
			}
		}
	}
}

// Prepare computes per-grid-point target standardization from the fit
// subset. Must run once before training.
func (m *MLP) Prepare(fit []dataset.Example) {
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		g := out.GridSize()
		mean := make([]float64, g)
		for _, ex := range fit {
			for gi, v := range ex.Values[out.Name] {
				mean[gi] += v
			}
		}
		for gi := range mean {
			mean[gi] /= float64(len(fit))
		}
		sd := make([]float64, g)
		for _, ex := range fit {
			for gi, v := range ex.Values[out.Name] {
				d := v - mean[gi]
				sd[gi] += d * d
			}
		}
		for gi := range sd {
			sd[gi] = math.Sqrt(sd[gi] / float64(len(fit)))
			if sd[gi] < 1e-12 {
				sd[gi] = 1
			}
		}
		n.shift, n.scale = mean, sd
	}
}

// Weights returns a flat copy of every weight and bias, in a fixed
// order shared with SetWeights and LossAndGrad's gradient.
func (m *MLP) Weights() []float64 {
	var ws []float64
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		for l := range n.w {
			ws = append(ws, n.w[l]...)
			ws = append(ws, n.b[l]...)
		}
	}
	return ws
}

// SetWeights installs a flat weight vector produced by Weights.
func (m *MLP) SetWeights(ws []float64) {
	i := 0
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		for l := range n.w {
			i += copy(n.w[l], ws[i:])
			i += copy(n.b[l], ws[i:])
		}
	}
}

// input maps a parameter point to the network input: unit cube scaled
// to [-1, 1].
func (m *MLP) input(params []float64) []float64 {
	z := m.domain.Normalize(params)
	for i := range z {
		z[i] = 2*z[i] - 1
	}
	return z
}

// forward runs one net, returning the activations of every layer.
// acts[0] is the input; the last entry is the linear output in
// standardized target space.
func (n *net) forward(x []float64) [][]float64 {
	acts := make([][]float64, len(n.sizes))
	acts[0] = x
	for l := 0; l+1 < len(n.sizes); l++ {
		in, out := n.sizes[l], n.sizes[l+1]
		a := make([]float64, out)
		for i := 0; i < out; i++ {
			sum := n.b[l][i]
			row := n.w[l][i*in : (i+1)*in]
			for j, v := range acts[l] {
				sum += row[j] * v
			}
			a[i] = sum
		}
		if l+2 < len(n.sizes) {
			for i := range a {
				a[i] = math.Tanh(a[i])
			}
		}
		acts[l+1] = a
	}
	return acts
}

func (m *MLP) Evaluate(params []float64, output string) ([]float64, error) {
	if err := checkParams(m.domain, params); err != nil {
		return nil, err
	}
	n, ok := m.nets[output]
	if !ok {
		return nil, fmt.Errorf("unknown output %q", output)
	}
	acts := n.forward(m.input(params))
	raw := acts[len(acts)-1]
	out := make([]float64, len(raw))
	for gi, v := range raw {
		out[gi] = v*n.scale[gi] + n.shift[gi]
	}
	return out, nil
}

// Gradient propagates tangents forward: the input Jacobian is diagonal
// in the parameters, and each layer maps tangents through its own
// linearization.
func (m *MLP) Gradient(params []float64, output string) ([][]float64, error) {
	if err := checkParams(m.domain, params); err != nil {
		return nil, err
	}
	n, ok := m.nets[output]
	if !ok {
		return nil, fmt.Errorf("unknown output %q", output)
	}

	p := len(m.domain)
	x := m.input(params)

	// jac[i][j] = d a_i / d param_j for the current layer.
	jac := make([][]float64, len(x))
	for i := range jac {
		jac[i] = make([]float64, p)
		jac[i][i] = 2 / m.domain[i].Width()
	}

	a := x
	for l := 0; l+1 < len(n.sizes); l++ {
		in, out := n.sizes[l], n.sizes[l+1]
		next := make([]float64, out)
		nextJac := make([][]float64, out)
		for i := 0; i < out; i++ {
			row := n.w[l][i*in : (i+1)*in]
			sum := n.b[l][i]
			nj := make([]float64, p)
			for j, v := range a {
				sum += row[j] * v
				for k := 0; k < p; k++ {
					nj[k] += row[j] * jac[j][k]
				}
			}
			if l+2 < len(n.sizes) {
				t := math.Tanh(sum)
				d := 1 - t*t
				for k := 0; k < p; k++ {
					nj[k] *= d
				}
				sum = t
			}
			next[i] = sum
			nextJac[i] = nj
		}
		a, jac = next, nextJac
	}

	for gi := range jac {
		for k := 0; k < p; k++ {
			jac[gi][k] *= n.scale[gi]
		}
	}
	return jac, nil
}

// LossAndGrad computes the mean squared residual over the batch and its
// gradient with respect to the flat weight vector. Residuals are taken
// in real target space and weighted by scale(truth); a nil scale means
// plain squared error.
func (m *MLP) LossAndGrad(batch []dataset.Example, scale func(truth float64) float64) (float64, []float64) {
	grads := make(map[string][][]float64, len(m.outputs))
	gradsB := make(map[string][][]float64, len(m.outputs))
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		gw := make([][]float64, len(n.w))
		gb := make([][]float64, len(n.b))
		for l := range n.w {
			gw[l] = make([]float64, len(n.w[l]))
			gb[l] = make([]float64, len(n.b[l]))
		}
		grads[out.Name] = gw
		gradsB[out.Name] = gb
	}

	var loss float64
	var count int
	for _, ex := range batch {
		x := m.input(ex.Point)
		for _, out := range m.outputs {
			n := m.nets[out.Name]
			acts := n.forward(x)
			raw := acts[len(acts)-1]
			truth := ex.Values[out.Name]

			// delta starts as dLoss/d(raw output).
			delta := make([]float64, len(raw))
			for gi := range raw {
				pred := raw[gi]*n.scale[gi] + n.shift[gi]
				s := 1.0
				if scale != nil {
					s = scale(truth[gi])
				}
				r := (pred - truth[gi]) * s
				loss += r * r
				delta[gi] = 2 * r * s * n.scale[gi]
				count++
			}

			gw, gb := grads[out.Name], gradsB[out.Name]
			for l := len(n.w) - 1; l >= 0; l-- {
				in := n.sizes[l]
				prev := acts[l]
				for i, d := range delta {
					gb[l][i] += d
					row := gw[l][i*in : (i+1)*in]
					for j, v := range prev {
						row[j] += d * v
					}
				}
				if l == 0 {
					break
				}
				nextDelta := make([]float64, in)
				for j := range nextDelta {
					var sum float64
					for i, d := range delta {
						sum += n.w[l][i*in+j] * d
					}
					// prev is a tanh activation for every hidden layer.
					nextDelta[j] = sum * (1 - prev[j]*prev[j])
				}
				delta = nextDelta
			}
		}
	}

	inv := 1 / float64(count)
	flat := make([]float64, 0)
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		gw, gb := grads[out.Name], gradsB[out.Name]
		for l := range n.w {
			for _, v := range gw[l] {
				flat = append(flat, v*inv)
			}
			for _, v := range gb[l] {
				flat = append(flat, v*inv)
			}
		}
	}
	return loss * inv, flat
}

func (m *MLP) encodePayload(e *encoder) {
	e.u32(uint32(len(m.hidden)))
	for _, h := range m.hidden {
		e.u32(uint32(h))
	}
	e.u32(uint32(len(m.outputs)))
	for _, out := range m.outputs {
		n := m.nets[out.Name]
		e.str(out.Name)
		for l := range n.w {
			e.f64s(n.w[l])
			e.f64s(n.b[l])
		}
		e.f64s(n.shift)
		e.f64s(n.scale)
	}
}

func (m *MLP) decodePayload(d *decoder) error {
	nHidden, err := d.u32()
	if err != nil {
		return err
	}
	if int(nHidden) != len(m.hidden) {
		return fmt.Errorf("weights have %d hidden layers, spec declares %d", nHidden, len(m.hidden))
	}
	for _, want := range m.hidden {
		h, err := d.u32()
		if err != nil {
			return err
		}
		if int(h) != want {
			return fmt.Errorf("weights hidden size %d does not match spec %d", h, want)
		}
	}
	nOutputs, err := d.u32()
	if err != nil {
		return err
	}
	if int(nOutputs) != len(m.outputs) {
		return fmt.Errorf("weights carry %d outputs, spec declares %d", nOutputs, len(m.outputs))
	}

	for _, out := range m.outputs {
		n := m.nets[out.Name]
		name, err := d.str()
		if err != nil {
			return err
		}
		if name != out.Name {
			return fmt.Errorf("weights output %q does not match spec output %q", name, out.Name)
		}
		for l := range n.w {
			w, err := d.f64s()
			if err != nil {
				return err
			}
			if len(w) != len(n.w[l]) {
				return fmt.Errorf("output %q layer %d has %d weights, want %d", name, l, len(w), len(n.w[l]))
			}
			n.w[l] = w
			b, err := d.f64s()
			if err != nil {
				return err
			}
			if len(b) != len(n.b[l]) {
				return fmt.Errorf("output %q layer %d has %d biases, want %d", name, l, len(b), len(n.b[l]))
			}
			n.b[l] = b
		}
		if n.shift, err = d.f64s(); err != nil {
			return err
		}
		if n.scale, err = d.f64s(); err != nil {
			return err
		}
		if len(n.shift) != out.GridSize() || len(n.scale) != out.GridSize() {
			return fmt.Errorf("output %q standardization does not cover the grid", name)
		}
	}
	return nil
}
