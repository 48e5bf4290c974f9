package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/stat"

	"dAIS-Sampler/anneal"
	"dAIS-Sampler/exact"
	"dAIS-Sampler/internal/xofrand"
	"dAIS-Sampler/potts"
	"dAIS-Sampler/prof"
)

// Separate PRNG labels keep the model draw and the annealing run on
// independent streams of the same seed.
const (
	modelLabel = "dais/model"
	runLabel   = "dais/run"
)

func usage() {
	fmt.Println(`usage: dais <run|exact|check|gen> [options]

Subcommands:
  run      Anneal a model and report the log-partition estimate
           Flags:
             -model    <potts|ising|field>  energy family (default: potts)
             -params   <path>    load a model JSON instead of drawing one
                                 (overrides -model/-p/-k and the family flags)
             -p        <int>     slots (default: 3)
             -k        <int>     categories per slot (default: 3; ising forces 2)
             -sigma-j  <float>   stddev of random couplings (default: 0.4)
             -sigma-h  <float>   stddev of random fields (default: 0.2)
             -coupling <float>   ising chain coupling (default: 0.5)
             -field    <float>   ising chain field (default: 0.1)
             -steps    <int>     annealing steps (default: 1000)
             -samples  <int>     independent chains in the batch (default: 100)
             -seed     <uint>    PRNG seed (default: 1)
             -exact              compare against brute-force enumeration
             -trace              print an evenly spaced per-step trace
             -json     <path>    write a JSON summary
             -timing             print aggregated phase timings

  exact    Enumerate a small model: exact log Z and per-slot marginals
           Flags: -model -params -p -k -sigma-j -sigma-h -coupling -field
                  -seed -json

  check    Validation harness: log-Z error, pooled sample efficiency and
           marginal deviation against enumeration over repeated runs
           Flags: -model -params -p -k -sigma-j -sigma-h -coupling -field
                  -steps -samples -seed -runs (default: 8) -json

  gen      Draw a potts or ising model and write its parameters to JSON,
           so later runs can reuse the exact same instance via -params
           Flags: -model -p -k -sigma-j -sigma-h -coupling -field -seed
                  -out (default: models/potts.json)`)
	os.Exit(1)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "exact":
		runExact(os.Args[2:])
	case "check":
		runCheck(os.Args[2:])
	case "gen":
		runGen(os.Args[2:])
	default:
		usage()
	}
}

type modelFlags struct {
	model    *string
	params   *string
	p, k     *int
	sigmaJ   *float64
	sigmaH   *float64
	coupling *float64
	field    *float64
}

func addModelFlags(fs *flag.FlagSet) modelFlags {
	return modelFlags{
		model:    fs.String("model", "potts", "energy family: potts|ising|field"),
		params:   fs.String("params", "", "load a model JSON instead of drawing one"),
		p:        fs.Int("p", 3, "number of categorical slots"),
		k:        fs.Int("k", 3, "categories per slot"),
		sigmaJ:   fs.Float64("sigma-j", 0.4, "stddev of random couplings"),
		sigmaH:   fs.Float64("sigma-h", 0.2, "stddev of random fields"),
		coupling: fs.Float64("coupling", 0.5, "ising chain coupling"),
		field:    fs.Float64("field", 0.1, "ising chain field"),
	}
}

// build constructs the requested energy. With -params the instance comes
// verbatim from the file; otherwise the model stream is derived from the
// seed under its own label, so run randomness never shifts the instance.
func (mf modelFlags) build(seed uint64) (anneal.Energy, int, int, error) {
	if *mf.params != "" {
		m, err := potts.Load(*mf.params)
		if err != nil {
			return nil, 0, 0, err
		}
		return m, m.Slots(), m.Categories(), nil
	}
	p, k := *mf.p, *mf.k
	src := xofrand.NewSourceWithLabel(modelLabel, seed)
	switch *mf.model {
	case "potts":
		m, err := potts.NewRandom(p, k, *mf.sigmaJ, *mf.sigmaH, src)
		return m, p, k, err
	case "ising":
		m, err := potts.NewIsing(p, *mf.coupling, *mf.field)
		return m, p, 2, err
	case "field":
		m, err := potts.NewRandomField(p, k, *mf.sigmaH, src)
		return m, p, k, err
	default:
		return nil, 0, 0, fmt.Errorf("unknown model %q", *mf.model)
	}
}

// name reports where the model came from, for summaries and logs.
func (mf modelFlags) name() string {
	if *mf.params != "" {
		return "file:" + *mf.params
	}
	return *mf.model
}

type runSummary struct {
	Model       string   `json:"model"`
	P           int      `json:"p"`
	K           int      `json:"k"`
	Steps       int      `json:"steps"`
	Samples     int      `json:"samples"`
	Seed        uint64   `json:"seed"`
	LogZMean    float64  `json:"logz_mean"`
	LogZStd     float64  `json:"logz_std"`
	LogZStdErr  float64  `json:"logz_stderr"`
	AcceptRate  float64  `json:"accept_rate"`
	EnergyEvals int      `json:"energy_evals"`
	ElapsedMS   float64  `json:"elapsed_ms"`
	ExactLogZ   *float64 `json:"exact_logz,omitempty"`
	AbsError    *float64 `json:"abs_error,omitempty"`
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	mf := addModelFlags(fs)
	steps := fs.Int("steps", anneal.DefaultSteps, "annealing steps")
	samples := fs.Int("samples", anneal.DefaultSamples, "independent chains in the batch")
	seed := fs.Uint64("seed", 1, "PRNG seed")
	compare := fs.Bool("exact", false, "compare against brute-force enumeration")
	trace := fs.Bool("trace", false, "print an evenly spaced per-step trace")
	jsonPath := fs.String("json", "", "write a JSON summary to this path")
	timing := fs.Bool("timing", false, "print aggregated phase timings")
	fs.Parse(args)

	e, p, k, err := mf.build(*seed)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	a, err := anneal.New(e, p, k, anneal.Options{
		Steps:   *steps,
		Samples: *samples,
		Src:     xofrand.NewSourceWithLabel(runLabel, *seed),
		Trace:   *trace,
	})
	if err != nil {
		log.Fatalf("annealer: %v", err)
	}
	start := time.Now()
	res, err := a.Run()
	if err != nil {
		log.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)

	sum := runSummary{
		Model:       mf.name(),
		P:           p,
		K:           k,
		Steps:       a.Opts.Steps,
		Samples:     a.Opts.Samples,
		Seed:        *seed,
		LogZMean:    res.LogZMean(),
		LogZStd:     res.LogZStd(),
		LogZStdErr:  res.LogZStdErr(),
		AcceptRate:  res.AcceptRate,
		EnergyEvals: res.EnergyEvals,
		ElapsedMS:   float64(elapsed.Microseconds()) / 1e3,
	}
	fmt.Printf("model=%s P=%d K=%d steps=%d samples=%d seed=%d\n",
		sum.Model, p, k, sum.Steps, sum.Samples, sum.Seed)
	fmt.Printf("log Z estimate: %.4f ± %.4f (per-sample std %.4f)\n",
		sum.LogZMean, sum.LogZStdErr, sum.LogZStd)
	fmt.Printf("acceptance rate: %.4f   energy evaluations: %d   elapsed: %s\n",
		sum.AcceptRate, sum.EnergyEvals, elapsed.Round(time.Millisecond))
	if *trace {
		printTrace(res.Trace)
	}

	if *compare {
		want, err := exact.LogZ(e, p, k)
		if err != nil {
			log.Fatalf("exact logZ: %v", err)
		}
		abs := math.Abs(sum.LogZMean - want)
		sum.ExactLogZ = &want
		sum.AbsError = &abs
		fmt.Printf("exact log Z: %.4f   abs error: %.4f\n", want, abs)
	}
	if *jsonPath != "" {
		if err := saveJSON(*jsonPath, sum); err != nil {
			log.Fatalf("save json: %v", err)
		}
		fmt.Println("Summary JSON:", *jsonPath)
	}
	if *timing {
		printTimings()
	}
}

type exactSummary struct {
	Model     string    `json:"model"`
	P         int       `json:"p"`
	K         int       `json:"k"`
	Seed      uint64    `json:"seed"`
	Configs   int       `json:"configs"`
	LogZ      float64   `json:"logz"`
	Marginals []float64 `json:"marginals"`
}

func runExact(args []string) {
	fs := flag.NewFlagSet("exact", flag.ExitOnError)
	mf := addModelFlags(fs)
	seed := fs.Uint64("seed", 1, "PRNG seed")
	jsonPath := fs.String("json", "", "write a JSON summary to this path")
	fs.Parse(args)

	e, p, k, err := mf.build(*seed)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	probs, err := exact.Probs(e, p, k)
	if err != nil {
		log.Fatalf("enumerate: %v", err)
	}
	logZ, err := exact.LogZ(e, p, k)
	if err != nil {
		log.Fatalf("exact logZ: %v", err)
	}
	marg, err := exact.Marginals(probs, p, k)
	if err != nil {
		log.Fatalf("marginals: %v", err)
	}

	fmt.Printf("model=%s P=%d K=%d seed=%d: %d configurations\n", mf.name(), p, k, *seed, len(probs))
	fmt.Printf("exact log Z: %.6f\n", logZ)
	for s := 0; s < p; s++ {
		fmt.Printf("slot %d marginals:", s)
		for _, v := range marg[s*k : (s+1)*k] {
			fmt.Printf(" %.4f", v)
		}
		fmt.Println()
	}
	if *jsonPath != "" {
		sum := exactSummary{Model: mf.name(), P: p, K: k, Seed: *seed, Configs: len(probs), LogZ: logZ, Marginals: marg}
		if err := saveJSON(*jsonPath, sum); err != nil {
			log.Fatalf("save json: %v", err)
		}
		fmt.Println("Summary JSON:", *jsonPath)
	}
}

type checkSummary struct {
	Model         string    `json:"model"`
	P             int       `json:"p"`
	K             int       `json:"k"`
	Steps         int       `json:"steps"`
	Samples       int       `json:"samples"`
	Runs          int       `json:"runs"`
	Seed          uint64    `json:"seed"`
	ExactLogZ     float64   `json:"exact_logz"`
	Estimate      float64   `json:"estimate"`
	AbsError      float64   `json:"abs_error"`
	Efficiency    float64   `json:"sample_efficiency"`
	MarginalLInf  float64   `json:"marginal_linf"`
	RunEstimates  []float64 `json:"run_estimates"`
	ExactMarg     []float64 `json:"marginals_exact"`
	EmpiricalMarg []float64 `json:"marginals_empirical"`
}

func runCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	mf := addModelFlags(fs)
	steps := fs.Int("steps", 600, "annealing steps per run")
	samples := fs.Int("samples", 400, "independent chains per run")
	runs := fs.Int("runs", 8, "repeated runs to pool")
	seed := fs.Uint64("seed", 1, "PRNG seed")
	jsonPath := fs.String("json", "", "write a JSON summary to this path")
	fs.Parse(args)

	if *runs < 1 {
		log.Fatal("runs must be at least 1")
	}
	e, p, k, err := mf.build(*seed)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	want, err := exact.LogZ(e, p, k)
	if err != nil {
		log.Fatalf("exact logZ: %v", err)
	}
	probs, err := exact.Probs(e, p, k)
	if err != nil {
		log.Fatalf("probs: %v", err)
	}
	marg, err := exact.Marginals(probs, p, k)
	if err != nil {
		log.Fatalf("marginals: %v", err)
	}

	ests := make([]float64, 0, *runs)
	empirical := make([]float64, p*k)
	var sumChi, drawn float64
	for r := 0; r < *runs; r++ {
		a, err := anneal.New(e, p, k, anneal.Options{
			Steps:   *steps,
			Samples: *samples,
			Src:     xofrand.NewSourceWithLabel(runLabel, *seed+uint64(r)),
		})
		if err != nil {
			log.Fatalf("annealer: %v", err)
		}
		res, err := a.Run()
		if err != nil {
			log.Fatalf("run %d: %v", r, err)
		}
		counts, err := exact.Counts(res.Final)
		if err != nil {
			log.Fatalf("counts: %v", err)
		}
		eff, err := exact.SampleEfficiency(counts, probs)
		if err != nil {
			log.Fatalf("efficiency: %v", err)
		}
		ests = append(ests, res.LogZMean())
		sumChi += 1 / eff
		for b := 0; b < res.Final.B; b++ {
			for s := 0; s < p; s++ {
				empirical[s*k+res.Final.Category(b, s)]++
			}
		}
		drawn += float64(res.Final.B)
		fmt.Printf("run %d: logZ %.4f  accept %.3f  efficiency %.3f\n",
			r, res.LogZMean(), res.AcceptRate, eff)
	}

	est := stat.Mean(ests, nil)
	var linf float64
	for i := range empirical {
		empirical[i] /= drawn
		if d := math.Abs(empirical[i] - marg[i]); d > linf {
			linf = d
		}
	}
	sum := checkSummary{
		Model:         mf.name(),
		P:             p,
		K:             k,
		Steps:         *steps,
		Samples:       *samples,
		Runs:          *runs,
		Seed:          *seed,
		ExactLogZ:     want,
		Estimate:      est,
		AbsError:      math.Abs(est - want),
		Efficiency:    float64(*runs) / sumChi,
		MarginalLInf:  linf,
		RunEstimates:  ests,
		ExactMarg:     marg,
		EmpiricalMarg: empirical,
	}
	fmt.Printf("exact log Z %.4f  estimate %.4f  abs error %.4f\n", want, est, sum.AbsError)
	fmt.Printf("pooled sample efficiency: %.3f\n", sum.Efficiency)
	fmt.Printf("marginal max abs deviation: %.4f\n", linf)
	if *jsonPath != "" {
		if err := saveJSON(*jsonPath, sum); err != nil {
			log.Fatalf("save json: %v", err)
		}
		fmt.Println("Summary JSON:", *jsonPath)
	}
}

func runGen(args []string) {
	fs := flag.NewFlagSet("gen", flag.ExitOnError)
	mf := addModelFlags(fs)
	seed := fs.Uint64("seed", 1, "PRNG seed")
	out := fs.String("out", "models/potts.json", "model JSON output path")
	fs.Parse(args)

	e, p, k, err := mf.build(*seed)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	m, ok := e.(*potts.Potts)
	if !ok {
		log.Fatalf("model family %q has no JSON form; use potts or ising", *mf.model)
	}
	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create model dir: %v", err)
		}
	}
	if err := m.Save(*out); err != nil {
		log.Fatalf("save model: %v", err)
	}
	fmt.Printf("model=%s P=%d K=%d seed=%d\n", mf.name(), p, k, *seed)
	fmt.Println("Model JSON:", *out)
}

// printTrace prints at most 12 evenly spaced rows of the per-step
// trace, always ending on the final step.
func printTrace(tr []anneal.StepStat) {
	if len(tr) == 0 {
		return
	}
	stride := (len(tr) + 11) / 12
	fmt.Println("  step    beta  accept  mean logp  fast")
	last := -1
	for i := 0; i < len(tr); i += stride {
		s := tr[i]
		fmt.Printf("%6d  %.4f  %.4f  %9.4f  %v\n", i+1, s.Beta, s.AcceptRate, s.MeanLogp, s.FastPath)
		last = i
	}
	if last != len(tr)-1 {
		s := tr[len(tr)-1]
		fmt.Printf("%6d  %.4f  %.4f  %9.4f  %v\n", len(tr), s.Beta, s.AcceptRate, s.MeanLogp, s.FastPath)
	}
}

func saveJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func printTimings() {
	entries := prof.SnapshotAndReset()
	if len(entries) == 0 {
		return
	}
	fmt.Println("Phase timings:")
	for _, e := range entries {
		avg := time.Duration(0)
		if e.Count > 0 {
			avg = e.Total / time.Duration(e.Count)
		}
		fmt.Printf("  %-22s calls=%-8d total=%-12s avg=%s\n", e.Label, e.Count, e.Total.Round(time.Microsecond), avg)
	}
}
