package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/emuforge/emuforge/internal/dataset"
	"github.com/emuforge/emuforge/internal/spec"
)

// Polynomial models each output grid point as a multivariate polynomial
// in the normalized parameters, fit by least squares. It is the family
// of choice when the solver output varies smoothly (or exactly
// polynomially) with the parameters: the fit is closed-form, fully
// deterministic, and exact when the truth lies in the basis.
type Polynomial struct {
	domain  spec.Domain
	outputs []spec.Output
	degree  int
	terms   [][]int
	coef    map[string]*mat.Dense // per output: terms x grid
}

// NewPolynomial builds an unfit polynomial model from the spec's
// emulator_fn declaration. Hyperparameters: degree (default 2).
func NewPolynomial(s *spec.Spec) (*Polynomial, error) {
	degree := s.EmulatorFn.Int("degree", 2)
	if degree < 1 || degree > 16 {
		return nil, &spec.InvalidDomainError{
			Field:  "emulator_fn.params.degree",
			Reason: fmt.Sprintf("degree %d outside [1, 16]", degree),
		}
	}
	return &Polynomial{
		domain:  s.Parameters,
		outputs: s.Outputs,
		degree:  degree,
		terms:   monomials(len(s.Parameters), degree),
	}, nil
}

// monomials enumerates exponent multi-indices with total degree at most
// degree, in a fixed order shared by fit, evaluate and decode.
func monomials(dim, degree int) [][]int {
	var terms [][]int
	cur := make([]int, dim)
	var rec func(d, remaining int)
	rec = func(d, remaining int) {
		if d == dim {
			terms = append(terms, append([]int(nil), cur...))
			return
		}
		for e := 0; e <= remaining; e++ {
			cur[d] = e
			rec(d+1, remaining-e)
		}
		cur[d] = 0
	}
	rec(0, degree)
	return terms
}

func (p *Polynomial) Family() string { return "polynomial" }

func (p *Polynomial) Outputs() []string {
	names := make([]string, len(p.outputs))
	for i, out := range p.outputs {
		names[i] = out.Name
	}
	return names
}

// MinExamples is the smallest fit set that determines the coefficients.
func (p *Polynomial) MinExamples() int { return len(p.terms) }

// FitLeastSquares solves for the coefficients over the fit subset.
// A nil scale minimizes plain squared error in one multi-column solve;
// otherwise each grid column is solved separately with rows weighted by
// scale(truth), which realizes a relative-error objective.
func (p *Polynomial) FitLeastSquares(fit []dataset.Example, scale func(truth float64) float64) error {
	n, m := len(fit), len(p.terms)
	if n < m {
		return fmt.Errorf("%d examples cannot determine %d coefficients", n, m)
	}

	phi := mat.NewDense(n, m, nil)
	for i, ex := range fit {
		z := p.domain.Normalize(ex.Point)
		for mi, alpha := range p.terms {
			phi.Set(i, mi, monomial(z, alpha))
		}
	}

	p.coef = make(map[string]*mat.Dense, len(p.outputs))
	for _, out := range p.outputs {
		g := out.GridSize()
		c := mat.NewDense(m, g, nil)

		if scale == nil {
			y := mat.NewDense(n, g, nil)
			for i, ex := range fit {
				vals := ex.Values[out.Name]
				for gi := 0; gi < g; gi++ {
					y.Set(i, gi, vals[gi])
				}
			}
			if err := c.Solve(phi, y); err != nil {
				return fmt.Errorf("least squares solve failed for output %s: %w", out.Name, err)
			}
		} else {
			wphi := mat.NewDense(n, m, nil)
			y := mat.NewVecDense(n, nil)
			col := mat.NewVecDense(m, nil)
			for gi := 0; gi < g; gi++ {
				for i, ex := range fit {
					truth := ex.Values[out.Name][gi]
					s := scale(truth)
					for mi := 0; mi < m; mi++ {
						wphi.Set(i, mi, phi.At(i, mi)*s)
					}
					y.SetVec(i, truth*s)
				}
				if err := col.SolveVec(wphi, y); err != nil {
					return fmt.Errorf("least squares solve failed for output %s[%d]: %w", out.Name, gi, err)
				}
				for mi := 0; mi < m; mi++ {
					c.Set(mi, gi, col.AtVec(mi))
				}
			}
		}
		p.coef[out.Name] = c
	}
	return nil
}

func (p *Polynomial) Evaluate(params []float64, output string) ([]float64, error) {
	if err := checkParams(p.domain, params); err != nil {
		return nil, err
	}
	c := p.coef[output]
	if c == nil {
		return nil, fmt.Errorf("no coefficients for output %q", output)
	}

	z := p.domain.Normalize(params)
	phi := mat.NewVecDense(len(p.terms), p.basis(z))

	var y mat.VecDense
	y.MulVec(c.T(), phi)

	out := make([]float64, y.Len())
	for i := range out {
		out[i] = y.AtVec(i)
	}
	return out, nil
}

func (p *Polynomial) Gradient(params []float64, output string) ([][]float64, error) {
	if err := checkParams(p.domain, params); err != nil {
		return nil, err
	}
	c := p.coef[output]
	if c == nil {
		return nil, fmt.Errorf("no coefficients for output %q", output)
	}

	z := p.domain.Normalize(params)
	_, g := c.Dims()
	grad := make([][]float64, g)
	for gi := range grad {
		grad[gi] = make([]float64, len(p.domain))
	}

	var y mat.VecDense
	for j := range p.domain {
		dphi := mat.NewVecDense(len(p.terms), p.basisDeriv(z, j))
		y.MulVec(c.T(), dphi)
		// Chain rule through normalization.
		inv := 1 / p.domain[j].Width()
		for gi := 0; gi < g; gi++ {
			grad[gi][j] = y.AtVec(gi) * inv
		}
	}
	return grad, nil
}

func (p *Polynomial) basis(z []float64) []float64 {
	phi := make([]float64, len(p.terms))
	for mi, alpha := range p.terms {
		phi[mi] = monomial(z, alpha)
	}
	return phi
}

func (p *Polynomial) basisDeriv(z []float64, j int) []float64 {
	dphi := make([]float64, len(p.terms))
	for mi, alpha := range p.terms {
		if alpha[j] == 0 {
			continue
		}
		v := float64(alpha[j]) * math.Pow(z[j], float64(alpha[j]-1))
		for jj, e := range alpha {
			if jj == j {
				continue
			}
			v *= math.Pow(z[jj], float64(e))
		}
		dphi[mi] = v
	}
	return dphi
}

func monomial(z []float64, alpha []int) float64 {
	v := 1.0
	for j, e := range alpha {
		if e != 0 {
			v *= math.Pow(z[j], float64(e))
		}
	}
	return v
}

func (p *Polynomial) encodePayload(e *encoder) {
	e.u32(uint32(p.degree))
	e.u32(uint32(len(p.outputs)))
	for _, out := range p.outputs {
		e.str(out.Name)
		c := p.coef[out.Name]
		m, g := c.Dims()
		flat := make([]float64, 0, m*g)
		for mi := 0; mi < m; mi++ {
			for gi := 0; gi < g; gi++ {
				flat = append(flat, c.At(mi, gi))
			}
		}
		e.f64s(flat)
	}
}

func (p *Polynomial) decodePayload(d *decoder) error {
	degree, err := d.u32()
	if err != nil {
		return err
	}
	if int(degree) != p.degree {
		return fmt.Errorf("weights fit degree %d, spec declares %d", degree, p.degree)
	}
	nOutputs, err := d.u32()
	if err != nil {
		return err
	}
	if int(nOutputs) != len(p.outputs) {
		return fmt.Errorf("weights carry %d outputs, spec declares %d", nOutputs, len(p.outputs))
	}

	m := len(p.terms)
	p.coef = make(map[string]*mat.Dense, nOutputs)
	for _, out := range p.outputs {
		name, err := d.str()
		if err != nil {
			return err
		}
		if name != out.Name {
			return fmt.Errorf("weights output %q does not match spec output %q", name, out.Name)
		}
		flat, err := d.f64s()
		if err != nil {
			return err
		}
		g := out.GridSize()
		if len(flat) != m*g {
			return fmt.Errorf("output %q has %d coefficients, want %d", name, len(flat), m*g)
		}
		p.coef[out.Name] = mat.NewDense(m, g, flat)
	}
	return nil
}
