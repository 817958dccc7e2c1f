// Package match selects the best executor for a task by blending
// semantic similarity with historical performance.
package match

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/dispatch/internal/embed"
	"github.com/aristath/dispatch/internal/executor"
	"github.com/aristath/dispatch/internal/perf"
	"github.com/aristath/dispatch/internal/task"
)

// ErrNoEligibleExecutor is returned when the executor pool is empty.
var ErrNoEligibleExecutor = errors.New("no eligible executor for task")

// Config tunes the scoring blend.
type Config struct {
	PerformanceWeight   float64       // w in score = (1-w)*similarity + w*performance (default 0.3)
	SimilarityThreshold float64       // Minimum similarity for an embedding-based match (default 0.7)
	SpeedBaseline       time.Duration // Completion-time normalization baseline (default 30s)
}

// DefaultConfig returns the default matcher configuration.
func DefaultConfig() Config {
	return Config{
		PerformanceWeight:   0.3,
		SimilarityThreshold: 0.7,
		SpeedBaseline:       perf.DefaultSpeedBaseline,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PerformanceWeight <= 0 || c.PerformanceWeight >= 1 {
		c.PerformanceWeight = d.PerformanceWeight
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.SpeedBaseline <= 0 {
		c.SpeedBaseline = d.SpeedBaseline
	}
	return c
}

// Record captures one match decision for audit and learning. Outcome is
// filled in after the task completes.
type Record struct {
	ID         string
	GraphID    string
	TaskID     string
	ExecutorID string
	Similarity float64
	Score      float64
	Fallback   bool // Capability-tag fallback was used
	Embedding  []float64
	CreatedAt  time.Time
}

// Result is a successful match.
type Result struct {
	Profile executor.Profile
	Record  Record
}

// Matcher scores executor profiles against tasks. Scoring is a pure
// function over the embedding vectors and a point-in-time performance
// snapshot; the only mutable state is the tracker itself.
type Matcher struct {
	cfg      Config
	provider embed.Provider
	tracker  *perf.Tracker
	now      func() time.Time
}

// NewMatcher creates a matcher.
func NewMatcher(cfg Config, provider embed.Provider, tracker *perf.Tracker) *Matcher {
	return &Matcher{
		cfg:      cfg.withDefaults(),
		provider: provider,
		tracker:  tracker,
		now:      time.Now,
	}
}

type candidate struct {
	profile    executor.Profile
	similarity float64
	perfScore  float64
	score      float64
	overlap    int
}

// Match selects an executor for the task from the given pool snapshot.
// Embedding-based ranking applies when the best candidate clears the
// similarity threshold; otherwise the matcher falls back to capability
// tag overlap with performance as the tie break. An empty pool returns
// ErrNoEligibleExecutor. Embedding provider failures also trigger the
// capability fallback so a degraded provider never stalls dispatch.
func (m *Matcher) Match(ctx context.Context, t *task.Task, pool []executor.Profile) (Result, error) {
	if len(pool) == 0 {
		return Result{}, ErrNoEligibleExecutor
	}

	taskVec, embedErr := m.provider.Embed(ctx, t.Description, embed.ModeQuery)

	candidates := make([]candidate, 0, len(pool))
	for _, p := range pool {
		c := candidate{
			profile:   p,
			perfScore: perf.Score(m.tracker.Snapshot(p.ID), m.cfg.SpeedBaseline),
			overlap:   tagOverlap(t.Tags, p.Capabilities),
		}
		if embedErr == nil {
			if profVec, err := m.provider.Embed(ctx, p.Text(), embed.ModeDocument); err == nil {
				c.similarity = embed.Cosine(taskVec, profVec)
			}
		}
		w := m.cfg.PerformanceWeight
		c.score = (1-w)*c.similarity + w*c.perfScore
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	fallback := embedErr != nil || best.similarity < m.cfg.SimilarityThreshold
	if fallback {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].overlap != candidates[j].overlap {
				return candidates[i].overlap > candidates[j].overlap
			}
			return candidates[i].perfScore > candidates[j].perfScore
		})
		best = candidates[0]
	}

	return Result{
		Profile: best.profile,
		Record: Record{
			ID:         uuid.NewString(),
			GraphID:    "", // Filled by the engine
			TaskID:     t.ID,
			ExecutorID: best.profile.ID,
			Similarity: best.similarity,
			Score:      best.score,
			Fallback:   fallback,
			Embedding:  taskVec,
			CreatedAt:  m.now(),
		},
	}, nil
}

// tagOverlap counts capability tags shared between the task and profile.
func tagOverlap(taskTags, capabilities []string) int {
	if len(taskTags) == 0 || len(capabilities) == 0 {
		return 0
	}
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	count := 0
	for _, tag := range taskTags {
		if caps[tag] {
			count++
		}
	}
	return count
}
