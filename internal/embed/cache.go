package embed

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// CacheConfig tunes the caching provider wrapper.
type CacheConfig struct {
	TTL           time.Duration // Cache entry lifetime (default 5m)
	RetryInitial  time.Duration // First retry interval for provider calls (default 100ms)
	RetryMax      time.Duration // Max retry interval (default 2s)
	RetryElapsed  time.Duration // Total retry budget per call (default 15s)
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:          5 * time.Minute,
		RetryInitial: 100 * time.Millisecond,
		RetryMax:     2 * time.Second,
		RetryElapsed: 15 * time.Second,
	}
}

func (c CacheConfig) withDefaults() CacheConfig {
	d := DefaultCacheConfig()
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = d.RetryInitial
	}
	if c.RetryMax <= 0 {
		c.RetryMax = d.RetryMax
	}
	if c.RetryElapsed <= 0 {
		c.RetryElapsed = d.RetryElapsed
	}
	return c
}

type cacheKey struct {
	text string
	mode Mode
}

type cacheEntry struct {
	vec     []float64
	expires time.Time
}

// CachedProvider wraps a Provider with an immutable TTL cache and guards
// the inner provider with a circuit breaker and exponential backoff
// retry, since embedding services are remote and can degrade.
type CachedProvider struct {
	inner Provider
	cfg   CacheConfig
	cb    *gobreaker.CircuitBreaker
	now   func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

// NewCachedProvider wraps inner with caching and fault protection.
func NewCachedProvider(inner Provider, cfg CacheConfig) *CachedProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// User cancellation is not a provider failure
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &CachedProvider{
		inner:   inner,
		cfg:     cfg.withDefaults(),
		cb:      cb,
		now:     time.Now,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// Embed returns the cached vector for (text, mode) or computes it through
// the guarded inner provider. Cached entries are immutable; callers must
// not modify the returned slice.
func (p *CachedProvider) Embed(ctx context.Context, text string, mode Mode) ([]float64, error) {
	key := cacheKey{text: text, mode: mode}

	p.mu.Lock()
	if entry, ok := p.entries[key]; ok && p.now().Before(entry.expires) {
		p.mu.Unlock()
		return entry.vec, nil
	}
	p.mu.Unlock()

	vec, err := p.embedWithRetry(ctx, text, mode)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.entries[key] = cacheEntry{vec: vec, expires: p.now().Add(p.cfg.TTL)}
	p.mu.Unlock()
	return vec, nil
}

// embedWithRetry calls the inner provider through the circuit breaker
// with exponential backoff on transient failures.
func (p *CachedProvider) embedWithRetry(ctx context.Context, text string, mode Mode) ([]float64, error) {
	var vec []float64

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := p.cb.Execute(func() (interface{}, error) {
			return p.inner.Embed(ctx, text, mode)
		})
		if err != nil {
			// Circuit open: retrying immediately would hot-loop
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		vec = result.([]float64)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.RetryInitial
	policy.MaxInterval = p.cfg.RetryMax
	policy.MaxElapsedTime = p.cfg.RetryElapsed

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return vec, nil
}
