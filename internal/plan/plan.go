// Package plan records completed graph executions and surfaces advice
// from past runs that resemble a newly submitted graph.
package plan

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/dispatch/internal/embed"
	"github.com/aristath/dispatch/internal/task"
)

// Metrics summarizes how a graph run went.
type Metrics struct {
	SuccessRate      float64       `json:"success_rate"`
	CompletionTime   time.Duration `json:"completion_time"`
	QualityScore     float64       `json:"quality_score"`
	AgentUtilization float64       `json:"agent_utilization"`
}

// Plan is one recorded graph execution.
type Plan struct {
	ID            string    `json:"id"`
	GraphID       string    `json:"graph_id"`
	Summary       string    `json:"summary"`
	Embedding     []float64 `json:"-"`
	Metrics       Metrics   `json:"metrics"`
	Modifications []string  `json:"modifications,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Store persists plans. The detector keeps no plan state of its own.
type Store interface {
	SavePlan(ctx context.Context, p Plan) error
	ListPlans(ctx context.Context) ([]Plan, error)
}

// Advice is what the detector learned from similar past runs.
type Advice struct {
	SimilarPlans []Plan   // Sorted by descending similarity
	Hints        []string // Modifications recurring across similar plans
}

// Config tunes similarity detection.
type Config struct {
	SimilarityThreshold float64 // Minimum cosine similarity to count a plan as similar (default 0.8)
	HintSupport         int     // Minimum similar plans sharing a modification before it becomes a hint (default 2)
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.8, HintSupport: 2}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.HintSupport <= 0 {
		c.HintSupport = d.HintSupport
	}
	return c
}

// Detector embeds graph summaries and compares new graphs against the
// recorded history.
type Detector struct {
	cfg      Config
	provider embed.Provider
	store    Store
	now      func() time.Time
}

// NewDetector creates a detector backed by the given store.
func NewDetector(cfg Config, provider embed.Provider, store Store) *Detector {
	return &Detector{
		cfg:      cfg.withDefaults(),
		provider: provider,
		store:    store,
		now:      time.Now,
	}
}

// Record persists a completed graph run. The summary is embedded in
// document mode so future queries compare against it asymmetrically.
func (d *Detector) Record(ctx context.Context, g *task.Graph, metrics Metrics, modifications []string) (Plan, error) {
	summary := g.Summary()
	vec, err := d.provider.Embed(ctx, summary, embed.ModeDocument)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{
		ID:            uuid.NewString(),
		GraphID:       g.ID,
		Summary:       summary,
		Embedding:     vec,
		Metrics:       metrics,
		Modifications: append([]string(nil), modifications...),
		CreatedAt:     d.now(),
	}
	if err := d.store.SavePlan(ctx, p); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Advise compares the graph against recorded plans and returns the ones
// clearing the similarity threshold, most similar first, plus any
// modifications that recur across them. A graph with no similar history
// returns empty advice and no error.
func (d *Detector) Advise(ctx context.Context, g *task.Graph) (Advice, error) {
	vec, err := d.provider.Embed(ctx, g.Summary(), embed.ModeQuery)
	if err != nil {
		return Advice{}, err
	}
	plans, err := d.store.ListPlans(ctx)
	if err != nil {
		return Advice{}, err
	}

	type scored struct {
		plan       Plan
		similarity float64
	}
	similar := make([]scored, 0, len(plans))
	for _, p := range plans {
		if sim := embed.Cosine(vec, p.Embedding); sim >= d.cfg.SimilarityThreshold {
			similar = append(similar, scored{plan: p, similarity: sim})
		}
	}
	sort.SliceStable(similar, func(i, j int) bool {
		return similar[i].similarity > similar[j].similarity
	})

	advice := Advice{SimilarPlans: make([]Plan, 0, len(similar))}
	support := make(map[string]int)
	for _, s := range similar {
		advice.SimilarPlans = append(advice.SimilarPlans, s.plan)
		counted := make(map[string]bool)
		for _, mod := range s.plan.Modifications {
			if counted[mod] {
				continue
			}
			counted[mod] = true
			support[mod]++
		}
	}
	for mod, n := range support {
		if n >= d.cfg.HintSupport {
			advice.Hints = append(advice.Hints, mod)
		}
	}
	sort.Strings(advice.Hints)
	return advice, nil
}
