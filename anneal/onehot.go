package anneal

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
)

// ErrNotOneHot reports a configuration row that does not contain exactly
// one entry equal to 1 with all remaining entries equal to 0.
var ErrNotOneHot = errors.New("anneal: configuration row is not one-hot")

// ErrShapeMismatch reports two batches whose (B, P, K) dims differ.
var ErrShapeMismatch = errors.New("anneal: batch shapes differ")

// OneHot is a batch of one-hot encoded categorical configurations of
// shape (B, P, K), stored row-major in a flat slice: sample b, slot p,
// category k lives at Data[(b*P+p)*K+k]. Each (sample, slot) row holds
// exactly one 1 between annealing steps. Entries are float64 so the
// batch doubles as the relaxed input of energy gradients.
type OneHot struct {
	B, P, K int
	Data    []float64
}

// NewOneHot allocates a batch of b samples with p slots of k categories,
// every slot initialised to category 0.
func NewOneHot(b, p, k int) (*OneHot, error) {
	if b <= 0 || p <= 0 || k <= 0 {
		return nil, fmt.Errorf("anneal: dims must be positive, got (%d,%d,%d)", b, p, k)
	}
	x := &OneHot{B: b, P: p, K: k, Data: make([]float64, b*p*k)}
	for bi := 0; bi < b; bi++ {
		for pi := 0; pi < p; pi++ {
			x.Data[(bi*p+pi)*k] = 1
		}
	}
	return x, nil
}

// NewUniformOneHot allocates a batch with every slot drawn independently
// and uniformly over the k categories using src.
func NewUniformOneHot(b, p, k int, src rand.Source) (*OneHot, error) {
	if src == nil {
		return nil, errors.New("anneal: nil random source")
	}
	x, err := NewOneHot(b, p, k)
	if err != nil {
		return nil, err
	}
	rng := rand.New(src)
	for bi := 0; bi < b; bi++ {
		for pi := 0; pi < p; pi++ {
			x.Set(bi, pi, rng.Intn(k))
		}
	}
	return x, nil
}

// Row returns the k-length category row of sample b, slot p. The slice
// aliases the batch storage.
func (x *OneHot) Row(b, p int) []float64 {
	off := (b*x.P + p) * x.K
	return x.Data[off : off+x.K]
}

// Sample returns the P*K block of sample b. The slice aliases the batch
// storage.
func (x *OneHot) Sample(b int) []float64 {
	off := b * x.P * x.K
	return x.Data[off : off+x.P*x.K]
}

// Category returns the active category of sample b, slot p. The row must
// be one-hot; Category returns -1 if no entry equals 1.
func (x *OneHot) Category(b, p int) int {
	row := x.Row(b, p)
	for k, v := range row {
		if v == 1 {
			return k
		}
	}
	return -1
}

// Set makes k the active category of sample b, slot p, clearing the rest
// of the row. The one-hot invariant is preserved by construction.
func (x *OneHot) Set(b, p, k int) {
	row := x.Row(b, p)
	for i := range row {
		row[i] = 0
	}
	row[k] = 1
}

// Clone returns a deep copy of the batch.
func (x *OneHot) Clone() *OneHot {
	cp := &OneHot{B: x.B, P: x.P, K: x.K, Data: make([]float64, len(x.Data))}
	copy(cp.Data, x.Data)
	return cp
}

// SameShape reports whether y has identical (B, P, K) dims.
func (x *OneHot) SameShape(y *OneHot) bool {
	return y != nil && x.B == y.B && x.P == y.P && x.K == y.K
}

// SampleEqual reports whether sample b is bit-identical in x and y.
// Stored entries are exactly 0 or 1, so float comparison is exact.
func (x *OneHot) SampleEqual(y *OneHot, b int) bool {
	xs, ys := x.Sample(b), y.Sample(b)
	for i := range xs {
		if xs[i] != ys[i] {
			return false
		}
	}
	return true
}

// CopySample overwrites sample b of x with sample b of y.
func (x *OneHot) CopySample(y *OneHot, b int) {
	copy(x.Sample(b), y.Sample(b))
}

// Validate checks the dims, the backing length and the one-hot invariant
// of every row, returning a descriptive error on the first violation.
func (x *OneHot) Validate() error {
	if x == nil {
		return errors.New("anneal: nil batch")
	}
	if x.B <= 0 || x.P <= 0 || x.K <= 0 {
		return fmt.Errorf("anneal: dims must be positive, got (%d,%d,%d)", x.B, x.P, x.K)
	}
	if len(x.Data) != x.B*x.P*x.K {
		return fmt.Errorf("anneal: backing slice has %d entries, want %d", len(x.Data), x.B*x.P*x.K)
	}
	for b := 0; b < x.B; b++ {
		for p := 0; p < x.P; p++ {
			ones := 0
			for _, v := range x.Row(b, p) {
				switch v {
				case 0:
				case 1:
					ones++
				default:
					return fmt.Errorf("%w: sample %d slot %d holds %v", ErrNotOneHot, b, p, v)
				}
			}
			if ones != 1 {
				return fmt.Errorf("%w: sample %d slot %d has %d active categories", ErrNotOneHot, b, p, ones)
			}
		}
	}
	return nil
}
