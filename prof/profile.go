package prof

import (
	"sort"
	"sync"
	"time"
)

// Entry aggregates every measurement recorded under one label.
type Entry struct {
	Label string
	Count uint64
	Total time.Duration
}

var (
	mu  sync.Mutex
	agg map[string]*Entry
)

func init() {
	agg = make(map[string]*Entry)
}

// Track adds the duration since start to the label's running total. The
// annealing loop records its phases thousands of times per run, so
// measurements are folded into per-label totals as they arrive.
func Track(start time.Time, label string) {
	elapsed := time.Since(start)
	mu.Lock()
	e, ok := agg[label]
	if !ok {
		e = &Entry{Label: label}
		agg[label] = e
	}
	e.Count++
	e.Total += elapsed
	mu.Unlock()
}

// SnapshotAndReset returns the aggregated entries sorted by label and
// clears the collector.
func SnapshotAndReset() []Entry {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Entry, 0, len(agg))
	for _, e := range agg {
		out = append(out, *e)
	}
	agg = make(map[string]*Entry)
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
