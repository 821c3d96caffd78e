package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage is one measured step of a dialogue turn.
type Stage string

const (
	StageInterpret      Stage = "interpret"
	StageExecute        Stage = "execute"
	StageTurnTotal      Stage = "turn_total"
	StageSpeech         Stage = "speech"
	StageCaptureRestart Stage = "capture_restart"
)

// Stages lists every stage in report order.
var Stages = []Stage{StageInterpret, StageExecute, StageTurnTotal, StageSpeech, StageCaptureRestart}

// Budget is the latency the stage's p95 should stay under.
func (s Stage) Budget() time.Duration {
	switch s {
	case StageInterpret:
		return 2 * time.Millisecond
	case StageExecute:
		return 25 * time.Millisecond
	case StageTurnTotal:
		return 50 * time.Millisecond
	case StageSpeech:
		return 4 * time.Second
	case StageCaptureRestart:
		return 1100 * time.Millisecond
	}
	return 0
}

func (s Stage) index() int { return slices.Index(Stages, s) }

// StageLatency summarizes the recent samples of one stage.
type StageLatency struct {
	Stage        Stage   `json:"stage"`
	Samples      int     `json:"samples"`
	LastMS       float64 `json:"last_ms"`
	MeanMS       float64 `json:"mean_ms"`
	P50MS        float64 `json:"p50_ms"`
	P95MS        float64 `json:"p95_ms"`
	MaxMS        float64 `json:"max_ms"`
	BudgetMS     float64 `json:"budget_ms"`
	OverBudget   int     `json:"over_budget"`
	WithinBudget bool    `json:"within_budget"`
}

// LatencyReport is what /v1/perf/latency serves.
type LatencyReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Window      int            `json:"window"`
	Stages      []StageLatency `json:"stages"`
}

// stageRecorder keeps the last window durations of every known stage.
type stageRecorder struct {
	mu     sync.Mutex
	window int
	rings  []durationRing
}

type durationRing struct {
	samples []time.Duration
	next    int
	last    time.Duration
}

func newStageRecorder(window int) *stageRecorder {
	if window <= 0 {
		window = 256
	}
	return &stageRecorder{window: window, rings: make([]durationRing, len(Stages))}
}

// record stores d and reports whether it went over the stage budget.
// Unknown stages and negative durations are ignored.
func (r *stageRecorder) record(stage Stage, d time.Duration) (overBudget bool) {
	i := stage.index()
	if i < 0 || d < 0 {
		return false
	}
	r.mu.Lock()
	ring := &r.rings[i]
	if len(ring.samples) < r.window {
		ring.samples = append(ring.samples, d)
	} else {
		ring.samples[ring.next] = d
	}
	ring.next = (ring.next + 1) % r.window
	ring.last = d
	r.mu.Unlock()
	return d > stage.Budget()
}

func (r *stageRecorder) report() LatencyReport {
	out := LatencyReport{GeneratedAt: time.Now().UTC(), Window: r.window, Stages: []StageLatency{}}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, stage := range Stages {
		ring := r.rings[i]
		if len(ring.samples) == 0 {
			continue
		}
		sorted := slices.Clone(ring.samples)
		slices.Sort(sorted)

		var sum time.Duration
		over := 0
		for _, d := range sorted {
			sum += d
			if d > stage.Budget() {
				over++
			}
		}
		p95 := percentile(sorted, 95)
		out.Stages = append(out.Stages, StageLatency{
			Stage:        stage,
			Samples:      len(sorted),
			LastMS:       millis(ring.last),
			MeanMS:       millis(sum / time.Duration(len(sorted))),
			P50MS:        millis(percentile(sorted, 50)),
			P95MS:        millis(p95),
			MaxMS:        millis(sorted[len(sorted)-1]),
			BudgetMS:     millis(stage.Budget()),
			OverBudget:   over,
			WithinBudget: p95 <= stage.Budget(),
		})
	}
	return out
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := int(math.Ceil(float64(p) / 100 * float64(len(sorted))))
	return sorted[max(rank-1, 0)]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
