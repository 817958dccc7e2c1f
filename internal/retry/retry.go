// Package retry computes backoff schedules for failed tasks and runs the
// timers that return them to the ready queue.
package retry

import (
	"math/rand"
	"sync"
	"time"
)

// Config configures the exponential backoff schedule.
type Config struct {
	Base   time.Duration // Delay before the second attempt (default 1s)
	Max    time.Duration // Cap on any computed delay (default 30s)
	Jitter float64       // Upward jitter fraction in [0,1) (default 0.25)
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		Base:   time.Second,
		Max:    30 * time.Second,
		Jitter: 0.25,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Base <= 0 {
		c.Base = d.Base
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = d.Jitter
	}
	return c
}

// Manager schedules retries for failed tasks. A scheduled retry fires its
// callback after the computed delay unless the graph is cancelled first.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	timers map[retryKey]*time.Timer
}

type retryKey struct {
	graphID string
	taskID  string
}

// NewManager creates a retry manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		timers: make(map[retryKey]*time.Timer),
	}
}

// Delay returns the backoff delay after the given failed attempt
// (1-based): base * 2^(attempt-1) plus upward jitter, capped at Max.
// Jitter is only ever added, never subtracted, so the delay for attempt n
// is always >= base * 2^(n-1) (or Max, whichever is smaller).
func (m *Manager) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := m.cfg.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.Max || d < 0 { // d < 0 guards duration overflow
			return m.cfg.Max
		}
	}
	if d > m.cfg.Max {
		return m.cfg.Max
	}

	jittered := d + time.Duration(rand.Float64()*m.cfg.Jitter*float64(d))
	if jittered > m.cfg.Max {
		return m.cfg.Max
	}
	return jittered
}

// Schedule runs fn after delay. Any previously scheduled retry for the
// same task is replaced.
func (m *Manager) Schedule(graphID, taskID string, delay time.Duration, fn func()) {
	key := retryKey{graphID: graphID, taskID: taskID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, exists := m.timers[key]; exists {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		// Run fn before removing the key: Pending must not read zero
		// while a requeue is still in flight, or a dispatch loop could
		// declare the graph finished with the task about to reappear.
		fn()
		m.mu.Lock()
		if m.timers[key] == tm {
			delete(m.timers, key)
		}
		m.mu.Unlock()
	})
	m.timers[key] = tm
}

// Pending returns the number of retries still waiting for the graph.
func (m *Manager) Pending(graphID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key := range m.timers {
		if key.graphID == graphID {
			count++
		}
	}
	return count
}

// CancelGraph stops every pending retry for the graph. Used by
// graph-level cancellation; the callbacks never fire.
func (m *Manager) CancelGraph(graphID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, timer := range m.timers {
		if key.graphID == graphID {
			timer.Stop()
			delete(m.timers, key)
		}
	}
}

// Stop cancels every pending retry across all graphs.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, timer := range m.timers {
		timer.Stop()
		delete(m.timers, key)
	}
}
