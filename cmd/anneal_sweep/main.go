package main

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"dAIS-Sampler/anneal"
	"dAIS-Sampler/exact"
	"dAIS-Sampler/internal/xofrand"
	"dAIS-Sampler/potts"
)

const (
	defaultJSONLPath   = "sweeps/anneal_sweep.jsonl"
	defaultCSVPath     = "sweeps/anneal_sweep.csv"
	defaultStepsSpec   = "100,200,400,800,1600"
	defaultSamplesSpec = "100,400,1600"
	progressBarWidth   = 40

	modelLabel = "dais/model"
	sweepLabel = "dais/sweep"
)

// record is one annealing run at one grid point. The exact-reference
// columns are attached only when the state space is small enough to
// enumerate.
type record struct {
	Model        string   `json:"model"`
	P            int      `json:"p"`
	K            int      `json:"k"`
	SigmaJ       float64  `json:"sigma_j"`
	SigmaH       float64  `json:"sigma_h"`
	Steps        int      `json:"steps"`
	Samples      int      `json:"samples"`
	Run          int      `json:"run"`
	Seed         uint64   `json:"seed"`
	LogZMean     float64  `json:"logz_mean"`
	LogZStd      float64  `json:"logz_std"`
	LogZStdErr   float64  `json:"logz_stderr"`
	AcceptRate   float64  `json:"accept_rate"`
	EnergyEvals  int      `json:"energy_evals"`
	ElapsedMS    float64  `json:"elapsed_ms"`
	ExactLogZ    *float64 `json:"exact_logz,omitempty"`
	AbsError     *float64 `json:"abs_error,omitempty"`
	Efficiency   *float64 `json:"efficiency,omitempty"`
	MarginalLInf *float64 `json:"marginal_linf,omitempty"`
}

type Runner struct {
	jsonFile         *os.File
	jsonBuf          *bufio.Writer
	jsonEnc          *json.Encoder
	csvFile          *os.File
	csvWriter        *csv.Writer
	csvHeaderWritten bool
}

func newRunner(jsonPath, csvPath string) (*Runner, error) {
	r := &Runner{}
	if jsonPath != "" {
		if err := os.MkdirAll(dirOf(jsonPath), 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("create json dir: %w", err)
		}
		f, err := os.Create(jsonPath)
		if err != nil {
			return nil, fmt.Errorf("open json output: %w", err)
		}
		r.jsonFile = f
		r.jsonBuf = bufio.NewWriter(f)
		r.jsonEnc = json.NewEncoder(r.jsonBuf)
	}
	if csvPath != "" {
		if err := os.MkdirAll(dirOf(csvPath), 0o755); err != nil && !os.IsExist(err) {
			return nil, fmt.Errorf("create csv dir: %w", err)
		}
		f, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("open csv output: %w", err)
		}
		r.csvFile = f
		r.csvWriter = csv.NewWriter(f)
	}
	return r, nil
}

func (r *Runner) Close() {
	if r.jsonBuf != nil {
		_ = r.jsonBuf.Flush()
	}
	if r.jsonFile != nil {
		_ = r.jsonFile.Close()
	}
	if r.csvWriter != nil {
		r.csvWriter.Flush()
	}
	if r.csvFile != nil {
		_ = r.csvFile.Close()
	}
}

func (r *Runner) Emit(rec record) error {
	if r.jsonEnc != nil {
		if err := r.jsonEnc.Encode(rec); err != nil {
			return fmt.Errorf("write jsonl: %w", err)
		}
	}
	if r.csvWriter != nil {
		r.writeCSVHeader()
		if err := r.writeCSVRow(rec); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
	}
	return nil
}

func (r *Runner) writeCSVHeader() {
	if r.csvHeaderWritten {
		return
	}
	r.csvHeaderWritten = true
	_ = r.csvWriter.Write([]string{
		"model", "p", "k", "sigma_j", "sigma_h", "steps", "samples", "run", "seed",
		"logz_mean", "logz_std", "logz_stderr", "accept_rate",
		"energy_evals", "elapsed_ms", "exact_logz", "abs_error",
		"efficiency", "marginal_linf",
	})
}

func (r *Runner) writeCSVRow(rec record) error {
	optional := func(v *float64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatFloat(*v, 'g', -1, 64)
	}
	return r.csvWriter.Write([]string{
		rec.Model,
		strconv.Itoa(rec.P),
		strconv.Itoa(rec.K),
		strconv.FormatFloat(rec.SigmaJ, 'g', -1, 64),
		strconv.FormatFloat(rec.SigmaH, 'g', -1, 64),
		strconv.Itoa(rec.Steps),
		strconv.Itoa(rec.Samples),
		strconv.Itoa(rec.Run),
		strconv.FormatUint(rec.Seed, 10),
		strconv.FormatFloat(rec.LogZMean, 'g', -1, 64),
		strconv.FormatFloat(rec.LogZStd, 'g', -1, 64),
		strconv.FormatFloat(rec.LogZStdErr, 'g', -1, 64),
		strconv.FormatFloat(rec.AcceptRate, 'g', -1, 64),
		strconv.Itoa(rec.EnergyEvals),
		strconv.FormatFloat(rec.ElapsedMS, 'g', -1, 64),
		optional(rec.ExactLogZ),
		optional(rec.AbsError),
		optional(rec.Efficiency),
		optional(rec.MarginalLInf),
	})
}

// exactRef is the enumerated reference shared by every grid point.
type exactRef struct {
	logZ  float64
	probs []float64
	marg  []float64
}

// sweep bundles the model and grid configuration shared by all runs.
type sweep struct {
	e      anneal.Energy
	model  string
	p, k   int
	sigmaJ float64
	sigmaH float64
	seed   uint64
	ref    *exactRef
}

func main() {
	log.SetFlags(0)
	jsonPath := flag.String("jsonl", defaultJSONLPath, "JSONL output path")
	csvPath := flag.String("csv", defaultCSVPath, "CSV output path")
	model := flag.String("model", "potts", "energy family: potts|ising|field")
	p := flag.Int("p", 3, "number of categorical slots")
	k := flag.Int("k", 3, "categories per slot (ising forces 2)")
	sigmaJ := flag.Float64("sigma-j", 0.4, "stddev of random couplings")
	sigmaH := flag.Float64("sigma-h", 0.2, "stddev of random fields")
	coupling := flag.Float64("coupling", 0.5, "ising chain coupling")
	fieldStrength := flag.Float64("field", 0.1, "ising chain field")
	stepsSpec := flag.String("steps", defaultStepsSpec, "steps grid (comma list or start..end[:step])")
	samplesSpec := flag.String("samples", defaultSamplesSpec, "samples grid (comma list or start..end[:step])")
	runs := flag.Int("runs", 3, "repeated runs per grid point")
	seed := flag.Uint64("seed", 1, "base PRNG seed")
	flag.Parse()

	stepsGrid, err := parseIntList(*stepsSpec)
	if err != nil {
		log.Fatalf("steps grid: %v", err)
	}
	samplesGrid, err := parseIntList(*samplesSpec)
	if err != nil {
		log.Fatalf("samples grid: %v", err)
	}
	if *runs < 1 {
		log.Fatal("runs must be at least 1")
	}

	e, kk, err := buildModel(*model, *p, *k, *sigmaJ, *sigmaH, *coupling, *fieldStrength, *seed)
	if err != nil {
		log.Fatalf("model: %v", err)
	}
	sw := &sweep{e: e, model: *model, p: *p, k: kk, sigmaJ: *sigmaJ, sigmaH: *sigmaH, seed: *seed}

	if z, zerr := exact.LogZ(e, sw.p, sw.k); zerr == nil {
		probs, perr := exact.Probs(e, sw.p, sw.k)
		if perr != nil {
			log.Fatalf("exact probabilities: %v", perr)
		}
		marg, merr := exact.Marginals(probs, sw.p, sw.k)
		if merr != nil {
			log.Fatalf("exact marginals: %v", merr)
		}
		sw.ref = &exactRef{logZ: z, probs: probs, marg: marg}
		fmt.Printf("exact log Z (enumerated): %.6f\n", z)
	} else if !errors.Is(zerr, exact.ErrTooLarge) {
		log.Fatalf("exact logZ: %v", zerr)
	} else {
		fmt.Println("state space too large to enumerate; records carry no exact reference")
	}

	runner, err := newRunner(*jsonPath, *csvPath)
	if err != nil {
		log.Fatalf("open outputs: %v", err)
	}
	defer runner.Close()

	total := len(stepsGrid) * len(samplesGrid) * *runs
	bar := newProgressBar(total)
	done := 0
	var records []record
	for _, steps := range stepsGrid {
		for _, samples := range samplesGrid {
			for run := 0; run < *runs; run++ {
				rec, err := sw.runOnce(steps, samples, run)
				if err != nil {
					fmt.Println()
					log.Fatalf("steps=%d samples=%d run=%d: %v", steps, samples, run, err)
				}
				if err := runner.Emit(rec); err != nil {
					fmt.Println()
					log.Fatalf("emit: %v", err)
				}
				records = append(records, rec)
				done++
				bar.Update(done)
			}
		}
	}

	fmt.Printf("Sweep complete: %d records\n", len(records))
	if *jsonPath != "" {
		fmt.Println("JSONL:", *jsonPath)
	}
	if *csvPath != "" {
		fmt.Println("CSV:  ", *csvPath)
	}
	printBest(records)
}

// runOnce anneals one grid point. Each (steps, samples, run) triple gets
// its own PRNG stream derived from the base seed, so the sweep is
// reproducible point by point.
func (sw *sweep) runOnce(steps, samples, run int) (record, error) {
	label := fmt.Sprintf("%s/%d/%d/%d", sweepLabel, steps, samples, run)
	a, err := anneal.New(sw.e, sw.p, sw.k, anneal.Options{
		Steps:   steps,
		Samples: samples,
		Src:     xofrand.NewSourceWithLabel(label, sw.seed),
	})
	if err != nil {
		return record{}, err
	}
	start := time.Now()
	res, err := a.Run()
	if err != nil {
		return record{}, err
	}
	rec := record{
		Model:       sw.model,
		P:           sw.p,
		K:           sw.k,
		SigmaJ:      sw.sigmaJ,
		SigmaH:      sw.sigmaH,
		Steps:       steps,
		Samples:     samples,
		Run:         run,
		Seed:        sw.seed,
		LogZMean:    res.LogZMean(),
		LogZStd:     res.LogZStd(),
		LogZStdErr:  res.LogZStdErr(),
		AcceptRate:  res.AcceptRate,
		EnergyEvals: res.EnergyEvals,
		ElapsedMS:   float64(time.Since(start).Microseconds()) / 1e3,
	}
	if sw.ref != nil {
		z := sw.ref.logZ
		abs := math.Abs(rec.LogZMean - z)
		rec.ExactLogZ = &z
		rec.AbsError = &abs
		counts, err := exact.Counts(res.Final)
		if err != nil {
			return record{}, err
		}
		eff, err := exact.SampleEfficiency(counts, sw.ref.probs)
		if err != nil {
			return record{}, err
		}
		// A perfect histogram match yields +Inf, which JSON cannot
		// carry; leave the column empty in that case.
		if !math.IsInf(eff, 0) {
			rec.Efficiency = &eff
		}
		linf := marginalLInf(res.Final, sw.ref.marg)
		rec.MarginalLInf = &linf
	}
	return rec, nil
}

// marginalLInf is the largest absolute deviation of the batch's
// empirical per-slot marginals from the exact ones.
func marginalLInf(x *anneal.OneHot, marg []float64) float64 {
	emp := make([]float64, len(marg))
	for b := 0; b < x.B; b++ {
		for p := 0; p < x.P; p++ {
			emp[p*x.K+x.Category(b, p)]++
		}
	}
	var linf float64
	for i := range emp {
		if d := math.Abs(emp[i]/float64(x.B) - marg[i]); d > linf {
			linf = d
		}
	}
	return linf
}

func buildModel(model string, p, k int, sigmaJ, sigmaH, coupling, field float64, seed uint64) (anneal.Energy, int, error) {
	src := xofrand.NewSourceWithLabel(modelLabel, seed)
	switch model {
	case "potts":
		m, err := potts.NewRandom(p, k, sigmaJ, sigmaH, src)
		return m, k, err
	case "ising":
		m, err := potts.NewIsing(p, coupling, field)
		return m, 2, err
	case "field":
		m, err := potts.NewRandomField(p, k, sigmaH, src)
		return m, k, err
	default:
		return nil, 0, fmt.Errorf("unknown model %q", model)
	}
}

func printBest(records []record) {
	ranked := make([]record, 0, len(records))
	for _, rec := range records {
		if rec.AbsError != nil {
			ranked = append(ranked, rec)
		}
	}
	if len(ranked) == 0 {
		return
	}
	sort.Slice(ranked, func(i, j int) bool { return *ranked[i].AbsError < *ranked[j].AbsError })
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}
	fmt.Println("Closest estimates:")
	for i, rec := range ranked {
		eff := "-"
		if rec.Efficiency != nil {
			eff = strconv.FormatFloat(*rec.Efficiency, 'f', 3, 64)
		}
		fmt.Printf("  %d. steps=%-5d samples=%-5d run=%d  logZ=%.4f  |err|=%.4f  accept=%.3f  eff=%s  %.0f ms\n",
			i+1, rec.Steps, rec.Samples, rec.Run, rec.LogZMean, *rec.AbsError, rec.AcceptRate, eff, rec.ElapsedMS)
	}
}

// parseIntList accepts comma-separated values where each token is an
// integer or a start..end[:step] range; duplicates collapse and the
// result is sorted.
func parseIntList(spec string) ([]int, error) {
	values := map[int]struct{}{}
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.Contains(tok, "..") {
			vals, err := expandRange(tok)
			if err != nil {
				return nil, err
			}
			for _, v := range vals {
				values[v] = struct{}{}
			}
			continue
		}
		v, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", tok)
		}
		values[v] = struct{}{}
	}
	if len(values) == 0 {
		return nil, errors.New("empty value set")
	}
	out := make([]int, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func expandRange(rng string) ([]int, error) {
	step := 1
	rangePart := rng
	if strings.Contains(rng, ":") {
		parts := strings.SplitN(rng, ":", 2)
		rangePart = parts[0]
		v, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid step in %q", rng)
		}
		step = v
	}
	bounds := strings.SplitN(rangePart, "..", 2)
	if len(bounds) != 2 {
		return nil, fmt.Errorf("invalid range %q", rng)
	}
	start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid start in %q", rng)
	}
	end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
	if err != nil {
		return nil, fmt.Errorf("invalid end in %q", rng)
	}
	if end < start {
		return nil, fmt.Errorf("range end < start in %q", rng)
	}
	var out []int
	for v := start; v <= end; v += step {
		out = append(out, v)
	}
	return out, nil
}

func dirOf(path string) string {
	if path == "" {
		return "."
	}
	last := strings.LastIndexByte(path, '/')
	switch {
	case last == -1:
		return "."
	case last == 0:
		return "/"
	}
	return path[:last]
}

type progressBar struct {
	total int
	start time.Time
}

func newProgressBar(total int) *progressBar {
	return &progressBar{total: total}
}

func (bar *progressBar) Update(done int) {
	if bar.total <= 0 {
		return
	}
	if done > bar.total {
		done = bar.total
	}
	if bar.start.IsZero() {
		bar.start = time.Now()
	}
	ratio := float64(done) / float64(bar.total)
	filled := int(ratio * progressBarWidth)
	if filled > progressBarWidth {
		filled = progressBarWidth
	}
	barStr := strings.Repeat("█", filled) + strings.Repeat(" ", progressBarWidth-filled)
	elapsed := time.Since(bar.start)
	var eta time.Duration
	if done > 0 && done < bar.total {
		eta = time.Duration(float64(elapsed) * (float64(bar.total-done) / float64(done)))
	}
	fmt.Printf("\r\033[32m[%s]\033[0m %3.0f%% (%d/%d) ETA %s", barStr, ratio*100, done, bar.total, formatETA(eta))
	if done == bar.total {
		fmt.Print("\n")
	}
}

func formatETA(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	d = d.Round(time.Second)
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", m, s)
}
