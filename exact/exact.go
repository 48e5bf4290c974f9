// Package exact validates the sampler on small state spaces by brute
// force: it enumerates all K^P configurations of an energy, computes
// the exact log-partition function and marginals, and scores empirical
// sample counts against the exact distribution.
package exact

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/combin"

	"dAIS-Sampler/anneal"
)

// MaxConfigurations caps the enumeration size. State spaces with more
// than 2^20 configurations are refused rather than enumerated.
const MaxConfigurations = 1 << 20

// ErrTooLarge reports a state space beyond MaxConfigurations.
var ErrTooLarge = errors.New("exact: state space too large to enumerate")

// Size returns K^P, or ErrTooLarge when it exceeds MaxConfigurations.
func Size(p, k int) (int, error) {
	if p <= 0 || k <= 0 {
		return 0, fmt.Errorf("exact: dims must be positive, got P=%d K=%d", p, k)
	}
	n := 1
	for i := 0; i < p; i++ {
		if n > MaxConfigurations/k {
			return 0, fmt.Errorf("%w: K^P with P=%d K=%d exceeds %d", ErrTooLarge, p, k, MaxConfigurations)
		}
		n *= k
	}
	return n, nil
}

// Index maps a category assignment to its enumeration index, treating
// slot 0 as the most significant base-K digit.
func Index(cats []int, k int) int {
	idx := 0
	for _, c := range cats {
		idx = idx*k + c
	}
	return idx
}

// Categories decodes an enumeration index into per-slot categories.
func Categories(idx, p, k int) []int {
	cats := make([]int, p)
	for s := p - 1; s >= 0; s-- {
		cats[s] = idx % k
		idx /= k
	}
	return cats
}

// Enumerate returns the whole state space as one batch whose sample b
// is the configuration with enumeration index b.
func Enumerate(p, k int) (*anneal.OneHot, error) {
	n, err := Size(p, k)
	if err != nil {
		return nil, err
	}
	x, err := anneal.NewOneHot(n, p, k)
	if err != nil {
		return nil, err
	}
	lens := make([]int, p)
	for i := range lens {
		lens[i] = k
	}
	gen := combin.NewCartesianGenerator(lens)
	cats := make([]int, p)
	for gen.Next() {
		gen.Product(cats)
		b := Index(cats, k)
		for s, c := range cats {
			x.Set(b, s, c)
		}
	}
	return x, nil
}

// logProbs evaluates the energy once over the enumerated state space.
func logProbs(e anneal.Energy, p, k int) ([]float64, error) {
	if e == nil {
		return nil, errors.New("exact: nil energy")
	}
	x, err := Enumerate(p, k)
	if err != nil {
		return nil, err
	}
	logp := e.LogProb(x)
	if len(logp) != x.B {
		return nil, fmt.Errorf("exact: energy returned %d log-probabilities for %d configurations", len(logp), x.B)
	}
	return logp, nil
}

// LogZ computes the exact log-partition function of e by enumeration.
func LogZ(e anneal.Energy, p, k int) (float64, error) {
	logp, err := logProbs(e, p, k)
	if err != nil {
		return 0, err
	}
	return floats.LogSumExp(logp), nil
}

// Probs returns the exact normalized probability of every configuration,
// indexed like Enumerate.
func Probs(e anneal.Energy, p, k int) ([]float64, error) {
	logp, err := logProbs(e, p, k)
	if err != nil {
		return nil, err
	}
	logZ := floats.LogSumExp(logp)
	probs := make([]float64, len(logp))
	for i, lp := range logp {
		probs[i] = math.Exp(lp - logZ)
	}
	return probs, nil
}

// Marginals folds configuration probabilities into per-slot category
// marginals, returned as a flat P×K slice.
func Marginals(probs []float64, p, k int) ([]float64, error) {
	n, err := Size(p, k)
	if err != nil {
		return nil, err
	}
	if len(probs) != n {
		return nil, fmt.Errorf("exact: got %d probabilities, want %d", len(probs), n)
	}
	marg := make([]float64, p*k)
	for idx, pr := range probs {
		rest := idx
		for s := p - 1; s >= 0; s-- {
			marg[s*k+rest%k] += pr
			rest /= k
		}
	}
	return marg, nil
}

// Counts histograms a sample batch over the enumeration cells.
func Counts(x *anneal.OneHot) ([]float64, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	n, err := Size(x.P, x.K)
	if err != nil {
		return nil, err
	}
	counts := make([]float64, n)
	cats := make([]int, x.P)
	for b := 0; b < x.B; b++ {
		for p := 0; p < x.P; p++ {
			cats[p] = x.Category(b, p)
		}
		counts[Index(cats, x.K)]++
	}
	return counts, nil
}
