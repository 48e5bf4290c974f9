package anneal

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/diff/fd"
)

// Energy is an unnormalized log-probability over configuration batches.
// Implementations must treat the input as read-only and return one value
// per sample. Inputs may carry relaxed (non-one-hot) coordinates while
// the energy is being differentiated numerically, so LogProb must be
// defined on the continuous relaxation, not only on exact one-hots.
type Energy interface {
	LogProb(x *OneHot) []float64
}

// Gradder is the optional analytic-gradient extension of Energy. Grad
// returns dLogProb/dx with the batch layout of x, treating the one-hot
// entries as free continuous coordinates. Energies without it are
// differentiated with central finite differences.
type Gradder interface {
	Grad(x *OneHot) []float64
}

// Neighborhood evaluates the energy and its locally-informed
// neighborhood scores at x. The score of (sample, slot, category)
// estimates half the log-probability change from moving the slot to
// that category:
//
//	score[b,p,k] = 0.5 * (grad[b,p,k] - dot(grad[b,p,·], x[b,p,·]))
//
// so the occupied category always scores 0. The input batch is left
// untouched and the returned slices are freshly allocated.
func Neighborhood(e Energy, x *OneHot) (logp, scores []float64, err error) {
	if e == nil {
		return nil, nil, errors.New("anneal: nil energy")
	}
	if err := x.Validate(); err != nil {
		return nil, nil, err
	}
	logp = e.LogProb(x)
	if len(logp) != x.B {
		return nil, nil, fmt.Errorf("anneal: energy returned %d log-probabilities for %d samples", len(logp), x.B)
	}
	grad, err := gradient(e, x)
	if err != nil {
		return nil, nil, err
	}
	scores = make([]float64, len(x.Data))
	for b := 0; b < x.B; b++ {
		for p := 0; p < x.P; p++ {
			off := (b*x.P + p) * x.K
			row := x.Data[off : off+x.K]
			g := grad[off : off+x.K]
			var cur float64
			for k := range row {
				cur += row[k] * g[k]
			}
			s := scores[off : off+x.K]
			for k := range s {
				s[k] = 0.5 * (g[k] - cur)
			}
		}
	}
	return logp, scores, nil
}

// gradient returns dLogProb/dx for every batch entry, preferring the
// analytic Gradder path.
func gradient(e Energy, x *OneHot) ([]float64, error) {
	if g, ok := e.(Gradder); ok {
		grad := g.Grad(x)
		if len(grad) != len(x.Data) {
			return nil, fmt.Errorf("anneal: gradient has %d entries, want %d", len(grad), len(x.Data))
		}
		return grad, nil
	}
	return numericGradient(e, x), nil
}

// numericGradient estimates the gradient sample by sample with central
// differences on single-sample scratch batches, so the caller's batch
// is never perturbed.
func numericGradient(e Energy, x *OneHot) []float64 {
	stride := x.P * x.K
	grad := make([]float64, len(x.Data))
	scratch := &OneHot{B: 1, P: x.P, K: x.K, Data: make([]float64, stride)}
	f := func(v []float64) float64 {
		copy(scratch.Data, v)
		return e.LogProb(scratch)[0]
	}
	settings := &fd.Settings{Formula: fd.Central}
	pt := make([]float64, stride)
	for b := 0; b < x.B; b++ {
		copy(pt, x.Sample(b))
		fd.Gradient(grad[b*stride:(b+1)*stride], f, pt, settings)
	}
	return grad
}
