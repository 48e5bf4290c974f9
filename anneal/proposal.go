package anneal

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// maxLogit caps β-weighted scores before exponentiation so the stay
// bonus never overflows: exp(maxLogit) = 1e6 per category.
var maxLogit = math.Log(1e6)

// ProposalLogits builds normalized per-slot log-proposal weights from
// β-weighted neighborhood scores. For every (sample, slot) row it
//  1. clamps the weighted scores at ln(1e6),
//  2. adds ln(max(1, Σ_k exp(score_k) − 1)) at the occupied category,
//     boosting the stay option by the total mass of the alternatives,
//  3. subtracts the log-sum-exp over the K categories.
// The result has the batch layout of x; each row is a proper
// log-probability vector and rows are independent across slots.
func ProposalLogits(x *OneHot, scores []float64, beta float64) ([]float64, error) {
	if err := x.Validate(); err != nil {
		return nil, err
	}
	if len(scores) != len(x.Data) {
		return nil, fmt.Errorf("%w: scores have %d entries for a %d-entry batch", ErrShapeMismatch, len(scores), len(x.Data))
	}
	if beta <= 0 || beta > 1 {
		return nil, fmt.Errorf("anneal: inverse temperature %v outside (0, 1]", beta)
	}
	logits := make([]float64, len(x.Data))
	for b := 0; b < x.B; b++ {
		for p := 0; p < x.P; p++ {
			off := (b*x.P + p) * x.K
			w := logits[off : off+x.K]
			var sumExp float64
			for k, s := range scores[off : off+x.K] {
				v := beta * s
				if v > maxLogit {
					v = maxLogit
				}
				w[k] = v
				sumExp += math.Exp(v)
			}
			// The occupied category scores 0 before the bonus, so
			// sumExp-1 is exactly the mass of the alternatives.
			w[x.Category(b, p)] += math.Log(math.Max(1, sumExp-1))
			lse := floats.LogSumExp(w)
			for k := range w {
				w[k] -= lse
			}
		}
	}
	return logits, nil
}

// DrawProposal samples a candidate batch from per-slot categorical
// distributions given by normalized logits, one independent draw per
// (sample, slot) via CDF inversion.
func DrawProposal(x *OneHot, logits []float64, rng *rand.Rand) *OneHot {
	cand := x.Clone()
	for b := 0; b < x.B; b++ {
		for p := 0; p < x.P; p++ {
			off := (b*x.P + p) * x.K
			u := rng.Float64()
			var cdf float64
			pick := x.K - 1 // fallback for rounding at the tail
			for k, lq := range logits[off : off+x.K] {
				cdf += math.Exp(lq)
				if u < cdf {
					pick = k
					break
				}
			}
			cand.Set(b, p, pick)
		}
	}
	return cand
}

// LogQ returns, per sample, the log-probability the per-slot proposal
// defined by logits assigns to configuration y: the sum over slots of
// the logit at y's active category. Callers composing their own
// transition kernel need it for the reverse and forward terms of the
// acceptance ratio.
func LogQ(logits []float64, y *OneHot) []float64 {
	out := make([]float64, y.B)
	for b := 0; b < y.B; b++ {
		var sum float64
		for p := 0; p < y.P; p++ {
			off := (b*y.P + p) * y.K
			sum += logits[off+y.Category(b, p)]
		}
		out[b] = sum
	}
	return out
}
