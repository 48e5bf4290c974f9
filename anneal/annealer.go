package anneal

import (
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"

	"dAIS-Sampler/prof"
)

// Defaults used when Options fields are left zero.
const (
	DefaultSteps   = 1000
	DefaultSamples = 100
)

// Options configures an annealing run.
type Options struct {
	Steps   int         // inverse-temperature steps; DefaultSteps when 0
	Samples int         // independent chains in the batch; DefaultSamples when 0
	Src     rand.Source // randomness for every draw; required
	Trace   bool        // record one StepStat per step in the Result
}

// ApplyDefaults fills unset numeric fields with the package defaults.
func (o *Options) ApplyDefaults() {
	if o.Steps <= 0 {
		o.Steps = DefaultSteps
	}
	if o.Samples <= 0 {
		o.Samples = DefaultSamples
	}
}

// StepStat captures the diagnostics of one annealing step.
type StepStat struct {
	Beta       float64 // inverse temperature the step moved to
	AcceptRate float64 // fraction of samples accepted, fast-path included
	MeanLogp   float64 // mean pre-transition log-probability
	FastPath   bool    // whole batch reproduced; energy evaluation skipped
}

// Result is the outcome of one annealing run.
type Result struct {
	Final       *OneHot    // configuration batch after the β = 1 step
	LogZ        []float64  // per-sample log-partition estimates
	AcceptRate  float64    // mean acceptance over all steps and samples
	EnergyEvals int        // batched energy evaluations performed
	Trace       []StepStat // one entry per step when Options.Trace
}

// LogZMean returns the mean of the per-sample log-partition estimates.
func (r *Result) LogZMean() float64 { return stat.Mean(r.LogZ, nil) }

// LogZStd returns the standard deviation of the per-sample estimates.
func (r *Result) LogZStd() float64 { return stat.StdDev(r.LogZ, nil) }

// LogZStdErr returns the standard error of the batch-mean estimate.
func (r *Result) LogZStdErr() float64 {
	return stat.StdDev(r.LogZ, nil) / math.Sqrt(float64(len(r.LogZ)))
}

// Annealer draws approximate samples from an Energy over one-hot
// configurations and estimates its log-partition function by annealed
// importance sampling with locally-informed mean-field proposals.
type Annealer struct {
	Energy Energy
	P, K   int
	Opts   Options
}

// New returns an Annealer for an energy over p slots of k categories.
func New(e Energy, p, k int, opts Options) (*Annealer, error) {
	if e == nil {
		return nil, errors.New("anneal: nil energy")
	}
	if p <= 0 || k <= 0 {
		return nil, fmt.Errorf("anneal: dims must be positive, got P=%d K=%d", p, k)
	}
	if opts.Src == nil {
		return nil, errors.New("anneal: options need a random source")
	}
	opts.ApplyDefaults()
	return &Annealer{Energy: e, P: p, K: k, Opts: opts}, nil
}

// Run anneals a fresh uniform batch from β = 0 to β = 1.
//
// Per step t with β moving from βold to βnew it
//   - accumulates logZ[b] += (βnew−βold)·logp[b] with pre-transition logp,
//   - draws a candidate batch from the mean-field proposal at βnew,
//   - accepts unchanged candidates outright without re-evaluating the
//     energy, evaluating only the sub-batch of samples that moved,
//   - accepts moved samples with probability
//     min(1, exp(βnew·(logpCand−logpCur) + reverseLogq − forwardLogq))
//     and blends accepted sample/logp/score state per sample.
func (a *Annealer) Run() (*Result, error) {
	defer prof.Track(time.Now(), "Anneal.Run")

	sched, err := NewSchedule(a.Opts.Steps)
	if err != nil {
		return nil, err
	}
	rng := rand.New(a.Opts.Src)

	cur, err := NewUniformOneHot(a.Opts.Samples, a.P, a.K, a.Opts.Src)
	if err != nil {
		return nil, err
	}
	res := &Result{LogZ: make([]float64, a.Opts.Samples)}
	logZ0 := float64(a.P) * math.Log(float64(a.K))
	for b := range res.LogZ {
		res.LogZ[b] = logZ0
	}
	if a.Opts.Trace {
		res.Trace = make([]StepStat, 0, sched.Len())
	}

	logp, scores, err := a.neighborhood(cur, res)
	if err != nil {
		return nil, err
	}

	stride := a.P * a.K
	var accepted, proposed uint64
	betaOld := 0.0
	for t := 0; t < sched.Len(); t++ {
		beta := sched.Beta(t)

		// Thermodynamic integration increment, pre-transition logp.
		for b := range res.LogZ {
			res.LogZ[b] += (beta - betaOld) * logp[b]
		}
		var meanLogp float64
		if a.Opts.Trace {
			meanLogp = stat.Mean(logp, nil)
		}

		propStart := time.Now()
		curLogits, err := ProposalLogits(cur, scores, beta)
		if err != nil {
			return nil, err
		}
		cand := DrawProposal(cur, curLogits, rng)
		prof.Track(propStart, "Anneal.Proposal")

		changed := changedSamples(cur, cand)
		stepAccepted := a.Opts.Samples - len(changed)
		if len(changed) > 0 {
			sub := gatherSamples(cand, changed)
			subLogp, subScores, err := a.neighborhood(sub, res)
			if err != nil {
				return nil, err
			}
			subLogits, err := ProposalLogits(sub, subScores, beta)
			if err != nil {
				return nil, err
			}
			reverse := LogQ(subLogits, gatherSamples(cur, changed))
			forward := LogQ(curLogits, cand)
			for i, b := range changed {
				ratio := math.Exp(beta*(subLogp[i]-logp[b]) + reverse[i] - forward[b])
				if ratio > rng.Float64() {
					cur.CopySample(cand, b)
					logp[b] = subLogp[i]
					copy(scores[b*stride:(b+1)*stride], subScores[i*stride:(i+1)*stride])
					stepAccepted++
				}
			}
		}

		accepted += uint64(stepAccepted)
		proposed += uint64(a.Opts.Samples)
		if a.Opts.Trace {
			res.Trace = append(res.Trace, StepStat{
				Beta:       beta,
				AcceptRate: float64(stepAccepted) / float64(a.Opts.Samples),
				MeanLogp:   meanLogp,
				FastPath:   len(changed) == 0,
			})
		}
		betaOld = beta
	}

	res.Final = cur
	res.AcceptRate = float64(accepted) / float64(proposed)
	return res, nil
}

// neighborhood evaluates energy and scores, counting batched energy
// evaluations for the run diagnostics.
func (a *Annealer) neighborhood(x *OneHot, res *Result) ([]float64, []float64, error) {
	defer prof.Track(time.Now(), "Anneal.Neighborhood")
	res.EnergyEvals++
	return Neighborhood(a.Energy, x)
}

// changedSamples lists the batch indices where cand differs from cur.
func changedSamples(cur, cand *OneHot) []int {
	var idx []int
	for b := 0; b < cur.B; b++ {
		if !cur.SampleEqual(cand, b) {
			idx = append(idx, b)
		}
	}
	return idx
}

// gatherSamples copies the listed samples of x into a compact sub-batch.
func gatherSamples(x *OneHot, idx []int) *OneHot {
	stride := x.P * x.K
	sub := &OneHot{B: len(idx), P: x.P, K: x.K, Data: make([]float64, len(idx)*stride)}
	for i, b := range idx {
		copy(sub.Data[i*stride:(i+1)*stride], x.Sample(b))
	}
	return sub
}
