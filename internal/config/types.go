package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration marshals as a human-readable string ("30s", "5m") and
// accepts either a string or integer nanoseconds when parsing.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(value))
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
	return nil
}

// ExecutorConfig defines one executor: the command it runs and the
// capability tags the matcher falls back to.
type ExecutorConfig struct {
	Command      string   `json:"command"`
	Args         []string `json:"args,omitempty"`         // Args prepended before the task description
	Capabilities []string `json:"capabilities,omitempty"` // Capability tags for fallback matching
	Timeout      Duration `json:"timeout,omitempty"`      // Per-task execution timeout (0 = none)
}

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	MaxConcurrent      int `json:"max_concurrent"`       // Max tasks in flight per graph
	DefaultMaxAttempts int `json:"default_max_attempts"` // Attempt budget for tasks that carry none
}

// RetryConfig tunes the backoff schedule between attempts.
type RetryConfig struct {
	Base   Duration `json:"base"`   // Delay before the second attempt
	Max    Duration `json:"max"`    // Cap on any computed delay
	Jitter float64  `json:"jitter"` // Upward jitter fraction in [0,1)
}

// BreakerConfig tunes per-executor failure isolation.
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold"` // Failures within Window that trip the circuit
	Window           Duration `json:"window"`            // Rolling failure window
	OpenTimeout      Duration `json:"open_timeout"`      // Time spent open before a half-open trial
	SuccessThreshold int      `json:"success_threshold"` // Half-open successes that close the circuit
}

// MatcherConfig tunes executor selection.
type MatcherConfig struct {
	PerformanceWeight   float64  `json:"performance_weight"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
	SpeedBaseline       Duration `json:"speed_baseline"`
	EmbeddingDims       int      `json:"embedding_dims"`
	EmbeddingCacheTTL   Duration `json:"embedding_cache_ttl"`
}

// PlansConfig tunes plan-similarity learning.
type PlansConfig struct {
	SimilarityThreshold float64 `json:"similarity_threshold"`
	HintSupport         int     `json:"hint_support"`
}

// StoreConfig locates the persistence database.
type StoreConfig struct {
	Path string `json:"path"` // SQLite file path
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig           `json:"scheduler"`
	Retry     RetryConfig               `json:"retry"`
	Breaker   BreakerConfig             `json:"breaker"`
	Matcher   MatcherConfig             `json:"matcher"`
	Plans     PlansConfig               `json:"plans"`
	Store     StoreConfig               `json:"store"`
	Executors map[string]ExecutorConfig `json:"executors"`
}
