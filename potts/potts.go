// Package potts provides categorical test energies for the anneal
// package: the general pairwise-coupled Potts model, its two-category
// Ising specialization, an independent-slot field model with a
// closed-form partition function, and a constant energy. All models
// expose analytic gradients and accept relaxed configuration batches,
// so they compose with both the analytic and the finite-difference
// paths of the sampler.
package potts

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dAIS-Sampler/anneal"
)

// Potts is an unnormalized log-probability over P slots of K categories
//
//	logp(x) = Σ_{p<q} x_pᵀ J_{pq} x_q + Σ_p h_p · x_p
//
// with one K×K coupling matrix J_{pq} per unordered slot pair and one
// K-vector field h_p per slot. On one-hot rows this reduces to the
// classic Potts energy Σ J_{pq}[c_p, c_q] + Σ h_p[c_p].
type Potts struct {
	p, k      int
	couplings []*mat.Dense
	fields    []float64
}

// New builds a Potts model from explicit parameters. couplings lists the
// K×K matrices of the pairs (0,1), (0,2), …, (0,P−1), (1,2), … in row
// order; a nil fields slice means zero fields.
func New(p, k int, couplings []*mat.Dense, fields []float64) (*Potts, error) {
	if p <= 0 || k <= 0 {
		return nil, fmt.Errorf("potts: dims must be positive, got P=%d K=%d", p, k)
	}
	if want := p * (p - 1) / 2; len(couplings) != want {
		return nil, fmt.Errorf("potts: got %d coupling matrices, want %d", len(couplings), want)
	}
	for i, J := range couplings {
		if J == nil {
			return nil, fmt.Errorf("potts: coupling %d is nil", i)
		}
		if r, c := J.Dims(); r != k || c != k {
			return nil, fmt.Errorf("potts: coupling %d is %dx%d, want %dx%d", i, r, c, k, k)
		}
	}
	if fields == nil {
		fields = make([]float64, p*k)
	}
	if len(fields) != p*k {
		return nil, fmt.Errorf("potts: fields have %d entries, want %d", len(fields), p*k)
	}
	return &Potts{p: p, k: k, couplings: couplings, fields: fields}, nil
}

// Slots returns P, the number of categorical variables.
func (m *Potts) Slots() int { return m.p }

// Categories returns K, the number of categories per slot.
func (m *Potts) Categories() int { return m.k }

// pair maps an ordered slot pair p < q to its index in the coupling
// list.
func (m *Potts) pair(p, q int) int {
	return p*(2*m.p-p-1)/2 + q - p - 1
}

// Coupling returns the coupling matrix of the pair (p, q) with p < q.
func (m *Potts) Coupling(p, q int) *mat.Dense { return m.couplings[m.pair(p, q)] }

// Field returns the length-K field vector of slot p, aliasing the model
// storage.
func (m *Potts) Field(p int) []float64 { return m.fields[p*m.k : (p+1)*m.k] }

// LogProb evaluates the model on a batch. The bilinear form is defined
// on relaxed rows as well, which keeps numeric differentiation valid.
func (m *Potts) LogProb(x *anneal.OneHot) []float64 {
	out := make([]float64, x.B)
	for b := 0; b < x.B; b++ {
		var e float64
		for p := 0; p < m.p; p++ {
			row := x.Row(b, p)
			e += floats.Dot(m.Field(p), row)
			xp := mat.NewVecDense(m.k, row)
			for q := p + 1; q < m.p; q++ {
				xq := mat.NewVecDense(m.k, x.Row(b, q))
				e += mat.Inner(xp, m.couplings[m.pair(p, q)], xq)
			}
		}
		out[b] = e
	}
	return out
}

// Grad returns dLogProb/dx with the batch layout of x:
//
//	g_p = h_p + Σ_{q>p} J_{pq} x_q + Σ_{q<p} J_{qp}ᵀ x_q
func (m *Potts) Grad(x *anneal.OneHot) []float64 {
	stride := m.p * m.k
	grad := make([]float64, x.B*stride)
	var jv mat.VecDense
	for b := 0; b < x.B; b++ {
		g := grad[b*stride : (b+1)*stride]
		copy(g, m.fields)
		for p := 0; p < m.p; p++ {
			xp := mat.NewVecDense(m.k, x.Row(b, p))
			for q := p + 1; q < m.p; q++ {
				J := m.couplings[m.pair(p, q)]
				xq := mat.NewVecDense(m.k, x.Row(b, q))

				jv.MulVec(J, xq)
				addVec(g[p*m.k:(p+1)*m.k], &jv)
				jv.MulVec(J.T(), xp)
				addVec(g[q*m.k:(q+1)*m.k], &jv)
			}
		}
	}
	return grad
}

func addVec(dst []float64, v *mat.VecDense) {
	for i := range dst {
		dst[i] += v.AtVec(i)
	}
}

// Constant is a flat energy: every configuration has log-probability C
// and a zero gradient. Useful for exercising the sampler's acceptance
// path, which reduces to the proposal correction alone.
type Constant struct {
	C float64
}

func (c Constant) LogProb(x *anneal.OneHot) []float64 {
	out := make([]float64, x.B)
	for b := range out {
		out[b] = c.C
	}
	return out
}

func (c Constant) Grad(x *anneal.OneHot) []float64 {
	return make([]float64, x.B*x.P*x.K)
}

// Field is an independent-slot model logp(x) = Σ_p h_p · x_p. Its
// partition function factorizes, so LogZ is closed form and the model
// doubles as a ground truth for the annealed estimator.
type Field struct {
	p, k int
	h    []float64
}

// NewField builds a field model from a flat P×K coefficient slice.
func NewField(p, k int, h []float64) (*Field, error) {
	if p <= 0 || k <= 0 {
		return nil, fmt.Errorf("potts: dims must be positive, got P=%d K=%d", p, k)
	}
	if len(h) != p*k {
		return nil, fmt.Errorf("potts: field has %d entries, want %d", len(h), p*k)
	}
	return &Field{p: p, k: k, h: h}, nil
}

// Slots returns P, the number of categorical variables.
func (f *Field) Slots() int { return f.p }

// Categories returns K, the number of categories per slot.
func (f *Field) Categories() int { return f.k }

func (f *Field) LogProb(x *anneal.OneHot) []float64 {
	out := make([]float64, x.B)
	for b := 0; b < x.B; b++ {
		var e float64
		for p := 0; p < f.p; p++ {
			e += floats.Dot(f.h[p*f.k:(p+1)*f.k], x.Row(b, p))
		}
		out[b] = e
	}
	return out
}

func (f *Field) Grad(x *anneal.OneHot) []float64 {
	stride := f.p * f.k
	grad := make([]float64, x.B*stride)
	for b := 0; b < x.B; b++ {
		copy(grad[b*stride:(b+1)*stride], f.h)
	}
	return grad
}

// LogZ returns the exact log-partition function Σ_p ln Σ_k exp(h_p[k]).
func (f *Field) LogZ() float64 {
	var z float64
	for p := 0; p < f.p; p++ {
		z += floats.LogSumExp(f.h[p*f.k : (p+1)*f.k])
	}
	return z
}

// Compile-time checks that every model satisfies the sampler contracts.
var (
	_ anneal.Energy  = (*Potts)(nil)
	_ anneal.Energy  = (*Field)(nil)
	_ anneal.Energy  = Constant{}
	_ anneal.Gradder = (*Potts)(nil)
	_ anneal.Gradder = (*Field)(nil)
	_ anneal.Gradder = Constant{}
)
