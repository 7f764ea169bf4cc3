package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Query pipeline stage names observed by the orchestrator.
const (
	StageCacheCheck   = "cache_check"
	StageSearch       = "search"
	StageContextBuild = "context_build"
	StageSynthesis    = "synthesis"
	StageQueryTotal   = "query_total"
)

type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// StageWindow keeps a fixed-size ring of latency samples per pipeline stage
// for the debug endpoint. Unlike the Prometheus histograms it answers "what
// happened in the last N queries" without a scraper.
type StageWindow struct {
	mu         sync.RWMutex
	maxSamples int
	stages     map[string]*stageBuffer
}

type stageBuffer struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func NewStageWindow(maxSamples int) *StageWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &StageWindow{
		maxSamples: maxSamples,
		stages:     make(map[string]*stageBuffer),
	}
}

func (w *StageWindow) Observe(stage string, d time.Duration) {
	ms := float64(d.Microseconds()) / 1000
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.stages[stage]
	if !ok {
		buf = &stageBuffer{values: make([]float64, w.maxSamples)}
		w.stages[stage] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *StageWindow) Snapshot() StageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.stages))
	for stage := range w.stages {
		keys = append(keys, stage)
	}
	sort.Strings(keys)

	stages := make([]StageStats, 0, len(keys))
	for _, stage := range keys {
		buf := w.stages[stage]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}

		stages = append(stages, StageStats{
			Stage:       stage,
			Samples:     n,
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}

	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Stages:      stages,
	}
}

func (w *StageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stages = make(map[string]*stageBuffer)
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageCacheCheck:
		return 5
	case StageSearch:
		return 50
	case StageContextBuild:
		return 30
	case StageSynthesis:
		return 8000
	case StageQueryTotal:
		return 8500
	default:
		return 0
	}
}
