package potts

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewRandom draws a dense Potts instance with couplings sampled i.i.d.
// from N(0, sigmaJ²) and fields from N(0, sigmaH²). A sigmaH of zero
// gives a couplings-only model. A fixed source gives a reproducible
// instance for validation runs.
func NewRandom(p, k int, sigmaJ, sigmaH float64, src rand.Source) (*Potts, error) {
	if p <= 0 || k <= 0 {
		return nil, fmt.Errorf("potts: dims must be positive, got P=%d K=%d", p, k)
	}
	if sigmaJ <= 0 {
		return nil, fmt.Errorf("potts: coupling sigma must be positive, got %v", sigmaJ)
	}
	if sigmaH < 0 {
		return nil, fmt.Errorf("potts: field sigma must be non-negative, got %v", sigmaH)
	}
	if src == nil {
		return nil, errors.New("potts: nil random source")
	}
	normalJ := distuv.Normal{Mu: 0, Sigma: sigmaJ, Src: src}
	couplings := make([]*mat.Dense, p*(p-1)/2)
	for i := range couplings {
		data := make([]float64, k*k)
		for j := range data {
			data[j] = normalJ.Rand()
		}
		couplings[i] = mat.NewDense(k, k, data)
	}
	fields := make([]float64, p*k)
	if sigmaH > 0 {
		normalH := distuv.Normal{Mu: 0, Sigma: sigmaH, Src: src}
		for i := range fields {
			fields[i] = normalH.Rand()
		}
	}
	return New(p, k, couplings, fields)
}

// NewRandomField draws an independent-slot field model with entries
// sampled i.i.d. from N(0, sigma²).
func NewRandomField(p, k int, sigma float64, src rand.Source) (*Field, error) {
	if p <= 0 || k <= 0 {
		return nil, fmt.Errorf("potts: dims must be positive, got P=%d K=%d", p, k)
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("potts: field sigma must be positive, got %v", sigma)
	}
	if src == nil {
		return nil, errors.New("potts: nil random source")
	}
	normal := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	h := make([]float64, p*k)
	for i := range h {
		h[i] = normal.Rand()
	}
	return NewField(p, k, h)
}

// spin maps the two Ising categories to +1 and -1.
var spin = [2]float64{1, -1}

// NewIsing builds a nearest-neighbor Ising chain as a K=2 Potts model,
//
//	logp(s) = coupling * Σ_p s_p s_{p+1} + field * Σ_p s_p
//
// where category 0 carries spin +1 and category 1 spin -1. Pairs beyond
// chain neighbors keep zero couplings.
func NewIsing(p int, coupling, field float64) (*Potts, error) {
	if p <= 0 {
		return nil, fmt.Errorf("potts: slot count must be positive, got %d", p)
	}
	const k = 2
	couplings := make([]*mat.Dense, p*(p-1)/2)
	for i := range couplings {
		couplings[i] = mat.NewDense(k, k, nil)
	}
	m, err := New(p, k, couplings, nil)
	if err != nil {
		return nil, err
	}
	for q := 0; q+1 < p; q++ {
		J := m.Coupling(q, q+1)
		for a := 0; a < k; a++ {
			for b := 0; b < k; b++ {
				J.Set(a, b, coupling*spin[a]*spin[b])
			}
		}
	}
	for q := 0; q < p; q++ {
		h := m.Field(q)
		for a := 0; a < k; a++ {
			h[a] = field * spin[a]
		}
	}
	return m, nil
}
