package config

import "time"

// DefaultConfig returns the default configuration with a single
// shell-backed executor.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent:      5,
			DefaultMaxAttempts: 3,
		},
		Retry: RetryConfig{
			Base:   Duration(time.Second),
			Max:    Duration(30 * time.Second),
			Jitter: 0.25,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           Duration(60 * time.Second),
			OpenTimeout:      Duration(30 * time.Second),
			SuccessThreshold: 2,
		},
		Matcher: MatcherConfig{
			PerformanceWeight:   0.3,
			SimilarityThreshold: 0.7,
			SpeedBaseline:       Duration(30 * time.Second),
			EmbeddingDims:       64,
			EmbeddingCacheTTL:   Duration(5 * time.Minute),
		},
		Plans: PlansConfig{
			SimilarityThreshold: 0.8,
			HintSupport:         2,
		},
		Store: StoreConfig{
			Path: ".dispatch/dispatch.db",
		},
		Executors: map[string]ExecutorConfig{
			"shell": {
				Command:      "sh",
				Args:         []string{"-c"},
				Capabilities: []string{"general", "shell"},
				Timeout:      Duration(5 * time.Minute),
			},
		},
	}
}
