package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
)

// record mirrors the sweep output rows; unknown fields are ignored so
// older sweep files keep loading.
type record struct {
	Model        string   `json:"model"`
	P            int      `json:"p"`
	K            int      `json:"k"`
	SigmaJ       float64  `json:"sigma_j"`
	SigmaH       float64  `json:"sigma_h"`
	Steps        int      `json:"steps"`
	Samples      int      `json:"samples"`
	Run          int      `json:"run"`
	LogZMean     float64  `json:"logz_mean"`
	LogZStdErr   float64  `json:"logz_stderr"`
	AcceptRate   float64  `json:"accept_rate"`
	ElapsedMS    float64  `json:"elapsed_ms"`
	ExactLogZ    *float64 `json:"exact_logz,omitempty"`
	AbsError     *float64 `json:"abs_error,omitempty"`
	Efficiency   *float64 `json:"efficiency,omitempty"`
	MarginalLInf *float64 `json:"marginal_linf,omitempty"`
}

// checkFile is the marginal block of a `dais check -json` summary.
type checkFile struct {
	P             int       `json:"p"`
	K             int       `json:"k"`
	ExactMarg     []float64 `json:"marginals_exact"`
	EmpiricalMarg []float64 `json:"marginals_empirical"`
}

type pointKey struct {
	steps, samples int
}

// pointAgg averages repeated runs of one grid point.
type pointAgg struct {
	n       float64
	logZ    float64
	accept  float64
	elapsed float64
	absErr  float64
	withErr float64
	eff     float64
	withEff float64
}

func (a *pointAgg) add(rec record) {
	a.n++
	a.logZ += rec.LogZMean
	a.accept += rec.AcceptRate
	a.elapsed += rec.ElapsedMS
	if rec.AbsError != nil {
		a.absErr += *rec.AbsError
		a.withErr++
	}
	if rec.Efficiency != nil {
		a.eff += *rec.Efficiency
		a.withEff++
	}
}

func (a *pointAgg) meanLogZ() float64    { return a.logZ / a.n }
func (a *pointAgg) meanAccept() float64  { return a.accept / a.n }
func (a *pointAgg) meanElapsed() float64 { return a.elapsed / a.n }

func (a *pointAgg) meanAbsErr() (float64, bool) {
	if a.withErr == 0 {
		return 0, false
	}
	return a.absErr / a.withErr, true
}

func (a *pointAgg) meanEff() (float64, bool) {
	if a.withEff == 0 {
		return 0, false
	}
	return a.eff / a.withEff, true
}

func readRecords(path string) ([]record, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var recs []record
	skipped := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil || rec.Steps <= 0 || rec.Samples <= 0 {
			skipped++
			continue
		}
		recs = append(recs, rec)
	}
	return recs, skipped, sc.Err()
}

type summaryStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Median float64 `json:"median"`
	Max    float64 `json:"max"`
}

func summarize(x []float64) summaryStats {
	if len(x) == 0 {
		return summaryStats{}
	}
	cp := append([]float64(nil), x...)
	sort.Float64s(cp)
	s := summaryStats{
		Count:  len(cp),
		Mean:   stat.Mean(cp, nil),
		Min:    cp[0],
		Median: stat.Quantile(0.5, stat.Empirical, cp, nil),
		Max:    cp[len(cp)-1],
	}
	if len(cp) > 1 {
		s.Std = stat.StdDev(cp, nil)
	}
	return s
}

func main() {
	log.SetFlags(0)
	jsonlPath := flag.String("jsonl", "sweeps/anneal_sweep.jsonl", "sweep JSONL input")
	outPath := flag.String("out", "sweeps/anneal_report.html", "HTML report output")
	checkPath := flag.String("check", "", "optional dais check -json summary for marginal bars")
	statsPath := flag.String("stats", "", "optional stats JSON output path")
	flag.Parse()

	recs, skipped, err := readRecords(*jsonlPath)
	if err != nil {
		log.Fatalf("read %s: %v", *jsonlPath, err)
	}
	if skipped > 0 {
		log.Printf("warn: skipped %d malformed lines", skipped)
	}
	if len(recs) == 0 {
		log.Fatal("no records to plot")
	}

	agg := map[pointKey]*pointAgg{}
	stepsSet := map[int]struct{}{}
	samplesSet := map[int]struct{}{}
	var exactLogZ *float64
	hasEff := false
	for _, rec := range recs {
		key := pointKey{rec.Steps, rec.Samples}
		if agg[key] == nil {
			agg[key] = &pointAgg{}
		}
		agg[key].add(rec)
		stepsSet[rec.Steps] = struct{}{}
		samplesSet[rec.Samples] = struct{}{}
		if rec.ExactLogZ != nil {
			exactLogZ = rec.ExactLogZ
		}
		if rec.Efficiency != nil {
			hasEff = true
		}
	}
	stepsVals := sortedKeys(stepsSet)
	samplesVals := sortedKeys(samplesSet)
	subtitle := fmt.Sprintf("model=%s P=%d K=%d sigmaJ=%g sigmaH=%g, %d records",
		recs[0].Model, recs[0].P, recs[0].K, recs[0].SigmaJ, recs[0].SigmaH, len(recs))

	page := components.NewPage().SetPageTitle("Annealed Sampler Sweep")
	page.AddCharts(estimateChart(agg, stepsVals, samplesVals, exactLogZ, subtitle))
	if exactLogZ != nil {
		page.AddCharts(errorChart(agg, stepsVals, samplesVals, subtitle))
	}
	if hasEff {
		page.AddCharts(efficiencyChart(agg, stepsVals, samplesVals, subtitle))
	}
	page.AddCharts(
		acceptanceChart(agg, stepsVals, samplesVals, subtitle),
		elapsedChart(agg, stepsVals, samplesVals, subtitle),
	)
	if *checkPath != "" {
		chk, err := readCheck(*checkPath)
		if err != nil {
			log.Fatalf("read check summary: %v", err)
		}
		page.AddCharts(marginalChart(chk))
	}

	if err := os.MkdirAll(dirOf(*outPath), 0o755); err != nil && !os.IsExist(err) {
		log.Fatalf("create output dir: %v", err)
	}
	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("create html: %v", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		log.Fatalf("render html: %v", err)
	}
	printTable(agg, stepsVals, samplesVals)
	fmt.Println("Report:", *outPath)

	if *statsPath != "" {
		if err := writeStats(*statsPath, recs); err != nil {
			log.Fatalf("save stats: %v", err)
		}
		fmt.Println("Stats JSON:", *statsPath)
	}
}

// printTable summarizes every grid point as one stdout row, means over
// its runs.
func printTable(agg map[pointKey]*pointAgg, stepsVals, samplesVals []int) {
	fmt.Println("grid point summary (means over runs):")
	fmt.Println("  steps  samples  logZ       |err|    eff     accept  ms")
	for _, n := range samplesVals {
		for _, steps := range stepsVals {
			a := agg[pointKey{steps, n}]
			if a == nil || a.n == 0 {
				continue
			}
			errStr, effStr := "      -", "     -"
			if v, ok := a.meanAbsErr(); ok {
				errStr = fmt.Sprintf("%7.4f", v)
			}
			if v, ok := a.meanEff(); ok {
				effStr = fmt.Sprintf("%6.3f", v)
			}
			fmt.Printf("  %-6d %-8d %-9.4f %s  %s  %6.3f  %7.1f\n",
				steps, n, a.meanLogZ(), errStr, effStr, a.meanAccept(), a.meanElapsed())
		}
	}
}

func readCheck(path string) (*checkFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var chk checkFile
	if err := json.Unmarshal(b, &chk); err != nil {
		return nil, err
	}
	if chk.P <= 0 || chk.K <= 0 ||
		len(chk.ExactMarg) != chk.P*chk.K || len(chk.EmpiricalMarg) != chk.P*chk.K {
		return nil, fmt.Errorf("malformed marginal block in %s", path)
	}
	return &chk, nil
}

func writeStats(path string, recs []record) error {
	var logZ, accept, elapsed, absErr, eff, linf []float64
	for _, rec := range recs {
		logZ = append(logZ, rec.LogZMean)
		accept = append(accept, rec.AcceptRate)
		elapsed = append(elapsed, rec.ElapsedMS)
		if rec.AbsError != nil {
			absErr = append(absErr, *rec.AbsError)
		}
		if rec.Efficiency != nil {
			eff = append(eff, *rec.Efficiency)
		}
		if rec.MarginalLInf != nil {
			linf = append(linf, *rec.MarginalLInf)
		}
	}
	out := map[string]summaryStats{
		"logz_mean":   summarize(logZ),
		"accept_rate": summarize(accept),
		"elapsed_ms":  summarize(elapsed),
	}
	if len(absErr) > 0 {
		out["abs_error"] = summarize(absErr)
	}
	if len(eff) > 0 {
		out["efficiency"] = summarize(eff)
	}
	if len(linf) > 0 {
		out["marginal_linf"] = summarize(linf)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dirOf(path), 0o755); err != nil && !os.IsExist(err) {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func baseLine(title, subtitle, yName string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "500px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "annealing steps"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
	)
	return line
}

// seriesOver collects one y value per steps grid entry for a fixed
// samples value; grid points absent from the sweep render as gaps.
func seriesOver(agg map[pointKey]*pointAgg, stepsVals []int, samples int, value func(*pointAgg) float64) []opts.LineData {
	items := make([]opts.LineData, 0, len(stepsVals))
	for _, steps := range stepsVals {
		a := agg[pointKey{steps, samples}]
		if a == nil || a.n == 0 {
			items = append(items, opts.LineData{Value: nil})
			continue
		}
		items = append(items, opts.LineData{Value: value(a)})
	}
	return items
}

// optionalSeriesOver is seriesOver for values only some runs carry.
func optionalSeriesOver(agg map[pointKey]*pointAgg, stepsVals []int, samples int, value func(*pointAgg) (float64, bool)) []opts.LineData {
	items := make([]opts.LineData, 0, len(stepsVals))
	for _, steps := range stepsVals {
		a := agg[pointKey{steps, samples}]
		if a == nil || a.n == 0 {
			items = append(items, opts.LineData{Value: nil})
			continue
		}
		if v, ok := value(a); ok {
			items = append(items, opts.LineData{Value: v})
		} else {
			items = append(items, opts.LineData{Value: nil})
		}
	}
	return items
}

func estimateChart(agg map[pointKey]*pointAgg, stepsVals, samplesVals []int, exactLogZ *float64, subtitle string) *charts.Line {
	line := baseLine("log Z estimate vs annealing steps", subtitle, "log Z")
	line.SetXAxis(stepLabels(stepsVals))
	for i, n := range samplesVals {
		series := seriesOver(agg, stepsVals, n, (*pointAgg).meanLogZ)
		extras := []charts.SeriesOpts{
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
		}
		if i == 0 && exactLogZ != nil {
			extras = append(extras,
				charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{Name: "exact", YAxis: *exactLogZ}),
				charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
					Label:     &opts.Label{Show: opts.Bool(true), Formatter: "exact"},
					LineStyle: &opts.LineStyle{Type: "dashed", Width: 1},
				}),
			)
		}
		line.AddSeries(fmt.Sprintf("samples=%d", n), series, extras...)
	}
	return line
}

func errorChart(agg map[pointKey]*pointAgg, stepsVals, samplesVals []int, subtitle string) *charts.Line {
	line := baseLine("absolute log Z error vs annealing steps", subtitle, "|error|")
	line.SetXAxis(stepLabels(stepsVals))
	for _, n := range samplesVals {
		line.AddSeries(fmt.Sprintf("samples=%d", n),
			optionalSeriesOver(agg, stepsVals, n, (*pointAgg).meanAbsErr),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	return line
}

func efficiencyChart(agg map[pointKey]*pointAgg, stepsVals, samplesVals []int, subtitle string) *charts.Line {
	line := baseLine("sample efficiency vs annealing steps", subtitle, "efficiency")
	line.SetXAxis(stepLabels(stepsVals))
	for _, n := range samplesVals {
		line.AddSeries(fmt.Sprintf("samples=%d", n),
			optionalSeriesOver(agg, stepsVals, n, (*pointAgg).meanEff),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	return line
}

func marginalChart(chk *checkFile) *charts.Bar {
	labels := make([]string, 0, chk.P*chk.K)
	exactItems := make([]opts.BarData, 0, chk.P*chk.K)
	empItems := make([]opts.BarData, 0, chk.P*chk.K)
	for s := 0; s < chk.P; s++ {
		for c := 0; c < chk.K; c++ {
			labels = append(labels, fmt.Sprintf("p%d:k%d", s, c))
			exactItems = append(exactItems, opts.BarData{Value: chk.ExactMarg[s*chk.K+c]})
			empItems = append(empItems, opts.BarData{Value: chk.EmpiricalMarg[s*chk.K+c]})
		}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "per-slot marginals: exact vs sampled"}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "marginals", Width: "1200px", Height: "500px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("exact", exactItems).
		AddSeries("sampled", empItems)
	return bar
}

func elapsedChart(agg map[pointKey]*pointAgg, stepsVals, samplesVals []int, subtitle string) *charts.Line {
	line := baseLine("run time vs annealing steps", subtitle, "ms")
	line.SetXAxis(stepLabels(stepsVals))
	for _, n := range samplesVals {
		line.AddSeries(fmt.Sprintf("samples=%d", n),
			seriesOver(agg, stepsVals, n, (*pointAgg).meanElapsed),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	return line
}

func acceptanceChart(agg map[pointKey]*pointAgg, stepsVals, samplesVals []int, subtitle string) *charts.Bar {
	var labels []string
	var items []opts.BarData
	for _, n := range samplesVals {
		for _, steps := range stepsVals {
			a := agg[pointKey{steps, n}]
			if a == nil || a.n == 0 {
				continue
			}
			labels = append(labels, fmt.Sprintf("s=%d n=%d", steps, n))
			items = append(items, opts.BarData{Value: a.meanAccept()})
		}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "mean acceptance rate per grid point", Subtitle: subtitle}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "acceptance", Width: "1200px", Height: "500px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(labels).
		AddSeries("acceptance", items).
		SetSeriesOptions(charts.WithLabelOpts(opts.Label{Show: opts.Bool(false)}))
	return bar
}

func stepLabels(stepsVals []int) []string {
	labels := make([]string, len(stepsVals))
	for i, s := range stepsVals {
		labels[i] = strconv.Itoa(s)
	}
	return labels
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
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
