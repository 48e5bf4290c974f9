package exact

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// SampleEfficiency scores empirical counts against exact configuration
// probabilities with the chi-squared style statistic
//
//	efficiency = 1 / (Σ_c (counts_c − total·probs_c)² / total)
//
// where total = Σ counts. For i.i.d. draws from the exact distribution
// the statistic hovers near 1; a biased sampler drives it toward 0 as
// the sample grows. The total count must exceed the total probability
// mass, which for normalized probs means at least one sample. A perfect
// cell-by-cell match returns +Inf.
func SampleEfficiency(counts, probs []float64) (float64, error) {
	if len(counts) != len(probs) {
		return 0, fmt.Errorf("exact: got %d counts for %d probabilities", len(counts), len(probs))
	}
	total := floats.Sum(counts)
	if total <= floats.Sum(probs) {
		return 0, errors.New("exact: need more samples than total probability mass")
	}
	var chi2 float64
	for c := range counts {
		d := counts[c] - total*probs[c]
		chi2 += d * d
	}
	chi2 /= total
	if chi2 == 0 {
		return math.Inf(1), nil
	}
	return 1 / chi2, nil
}
