package anneal

import "fmt"

// Schedule is a strictly increasing sequence of inverse temperatures
// ending at exactly 1. The annealer visits every value in order and
// integrates log-probabilities over the increments, which telescope to
// the full unit interval.
type Schedule struct {
	betas []float64
}

// NewSchedule returns the evenly spaced schedule t/steps for t = 1..steps.
func NewSchedule(steps int) (Schedule, error) {
	if steps < 1 {
		return Schedule{}, fmt.Errorf("anneal: schedule needs at least 1 step, got %d", steps)
	}
	betas := make([]float64, steps)
	for t := range betas {
		betas[t] = float64(t+1) / float64(steps)
	}
	return Schedule{betas: betas}, nil
}

// Len returns the number of steps.
func (s Schedule) Len() int { return len(s.betas) }

// Beta returns the inverse temperature of step t (0-based).
func (s Schedule) Beta(t int) float64 { return s.betas[t] }

// Betas returns a copy of the full schedule.
func (s Schedule) Betas() []float64 {
	out := make([]float64, len(s.betas))
	copy(out, s.betas)
	return out
}
