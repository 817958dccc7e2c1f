// Package perf maintains running performance aggregates per executor.
package perf

import (
	"sort"
	"sync"
	"time"
)

// DefaultSpeedBaseline normalizes completion speed: an executor averaging
// this duration or less scores full marks on the speed dimension.
const DefaultSpeedBaseline = 30 * time.Second

// Snapshot is a point-in-time copy of one executor's aggregates.
type Snapshot struct {
	Executor      string
	SuccessCount  int
	FailureCount  int
	TotalDuration time.Duration
	TotalQuality  float64
}

// Outcomes returns the total number of recorded outcomes.
func (s Snapshot) Outcomes() int {
	return s.SuccessCount + s.FailureCount
}

// SuccessRate returns successes over all outcomes, 0 with no history.
func (s Snapshot) SuccessRate() float64 {
	if s.Outcomes() == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.Outcomes())
}

// AvgQuality returns the mean quality score across outcomes.
func (s Snapshot) AvgQuality() float64 {
	if s.Outcomes() == 0 {
		return 0
	}
	return s.TotalQuality / float64(s.Outcomes())
}

// AvgDuration returns the mean completion time across outcomes.
func (s Snapshot) AvgDuration() time.Duration {
	if s.Outcomes() == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Outcomes())
}

// Score blends the snapshot into a single performance score in [0,1]:
// 0.5*successRate + 0.3*quality + 0.2*speed, where speed is the average
// completion time normalized against baseline. An executor with no
// history scores a neutral 0.5 so new executors are not starved.
func Score(s Snapshot, baseline time.Duration) float64 {
	if s.Outcomes() == 0 {
		return 0.5
	}
	if baseline <= 0 {
		baseline = DefaultSpeedBaseline
	}

	speed := 1.0
	if avg := s.AvgDuration(); avg > baseline {
		speed = float64(baseline) / float64(avg)
	}
	return 0.5*s.SuccessRate() + 0.3*s.AvgQuality() + 0.2*speed
}

// Tracker records task outcomes per executor. Recording is idempotent
// per graph and task ID: duplicate completion reports never
// double-count.
type Tracker struct {
	mu    sync.Mutex
	stats map[string]*Snapshot
	seen  map[string]bool // graphID/taskID -> outcome already recorded

	// onUpdate, when set, receives the updated snapshot after each
	// newly recorded outcome.
	onUpdate func(Snapshot)
}

// NewTracker creates a tracker. onUpdate may be nil.
func NewTracker(onUpdate func(Snapshot)) *Tracker {
	return &Tracker{
		stats:    make(map[string]*Snapshot),
		seen:     make(map[string]bool),
		onUpdate: onUpdate,
	}
}

// RecordOutcome updates the executor's aggregates exactly once per
// distinct (graph, task) pair. Task IDs are unique only within a graph,
// so the graph ID must qualify the key. Returns false when the outcome
// was already recorded.
func (t *Tracker) RecordOutcome(executorID, graphID, taskID string, success bool, completionTime time.Duration, quality float64) bool {
	key := graphID + "/" + taskID

	t.mu.Lock()

	if t.seen[key] {
		t.mu.Unlock()
		return false
	}
	t.seen[key] = true

	s, exists := t.stats[executorID]
	if !exists {
		s = &Snapshot{Executor: executorID}
		t.stats[executorID] = s
	}
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	s.TotalDuration += completionTime
	s.TotalQuality += quality

	updated := *s
	t.mu.Unlock()

	if t.onUpdate != nil {
		t.onUpdate(updated)
	}
	return true
}

// Snapshot returns the aggregates for one executor. Unknown executors
// return a zero snapshot.
func (t *Tracker) Snapshot(executorID string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, exists := t.stats[executorID]; exists {
		return *s
	}
	return Snapshot{Executor: executorID}
}

// PoolSnapshot returns aggregates for every known executor, sorted by
// executor ID.
func (t *Tracker) PoolSnapshot() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Executor < out[j].Executor })
	return out
}
