package breaker

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		OpenTimeout:      30 * time.Second,
		SuccessThreshold: 2,
	}
}

// TestTripAfterWindowFailures verifies closed -> open at the threshold.
func TestTripAfterWindowFailures(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	// 5 failures within 10 seconds trip the circuit
	for i := 0; i < 5; i++ {
		now := t0.Add(time.Duration(i*2) * time.Second)
		if err := reg.Allow("E", now); err != nil {
			t.Fatalf("Allow() before trip returned %v", err)
		}
		reg.RecordFailure("E", now)
	}

	now := t0.Add(11 * time.Second)
	if got := reg.State("E", now); got != StateOpen {
		t.Fatalf("State() = %s after 5 failures, want open", got)
	}

	// The 6th call is rejected without reaching the executor
	err := reg.Allow("E", now)
	var open *OpenError
	if !errors.As(err, &open) {
		t.Fatalf("Allow() = %v, want *OpenError", err)
	}
	if open.Executor != "E" {
		t.Errorf("OpenError.Executor = %q, want E", open.Executor)
	}
}

// TestWindowDecayPreventsTrip verifies failures outside the rolling window
// do not count toward the threshold.
func TestWindowDecayPreventsTrip(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	// 4 failures, then a long gap, then 4 more: never 5 inside one window
	for i := 0; i < 4; i++ {
		reg.RecordFailure("E", t0.Add(time.Duration(i)*time.Second))
	}
	later := t0.Add(2 * time.Minute)
	for i := 0; i < 4; i++ {
		reg.RecordFailure("E", later.Add(time.Duration(i)*time.Second))
	}

	if got := reg.State("E", later.Add(5*time.Second)); got != StateClosed {
		t.Errorf("State() = %s, want closed", got)
	}

	snap := reg.Snapshot("E", later.Add(5*time.Second))
	if len(snap.FailureTimes) != 4 {
		t.Errorf("window holds %d failures, want 4 (old ones pruned)", len(snap.FailureTimes))
	}
}

// TestHalfOpenRecovery walks open -> half-open -> closed.
func TestHalfOpenRecovery(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("E", t0)
	}
	if got := reg.State("E", t0); got != StateOpen {
		t.Fatalf("State() = %s, want open", got)
	}

	// Still open just before the timeout
	if err := reg.Allow("E", t0.Add(29*time.Second)); err == nil {
		t.Fatal("Allow() = nil at 29s, circuit must still be open")
	}

	// After the 30s timeout the next call goes through in half-open
	now := t0.Add(31 * time.Second)
	if err := reg.Allow("E", now); err != nil {
		t.Fatalf("Allow() = %v after open timeout, want nil", err)
	}
	if got := reg.State("E", now); got != StateHalfOpen {
		t.Fatalf("State() = %s, want half-open", got)
	}

	// First success is not enough
	reg.RecordSuccess("E", now)
	if got := reg.State("E", now); got != StateHalfOpen {
		t.Fatalf("State() after 1 success = %s, want half-open", got)
	}

	// Second consecutive success closes the circuit
	reg.RecordSuccess("E", now.Add(time.Second))
	if got := reg.State("E", now.Add(time.Second)); got != StateClosed {
		t.Fatalf("State() after 2 successes = %s, want closed", got)
	}
}

// TestHalfOpenFailureReopens verifies any half-open failure reopens.
func TestHalfOpenFailureReopens(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("E", t0)
	}
	now := t0.Add(31 * time.Second)
	if got := reg.State("E", now); got != StateHalfOpen {
		t.Fatalf("State() = %s, want half-open", got)
	}

	reg.RecordSuccess("E", now) // One success, then a failure
	reg.RecordFailure("E", now.Add(time.Second))

	if got := reg.State("E", now.Add(2*time.Second)); got != StateOpen {
		t.Fatalf("State() = %s after half-open failure, want open", got)
	}

	// The open timeout restarts from the reopen
	if err := reg.Allow("E", now.Add(20*time.Second)); err == nil {
		t.Error("Allow() = nil 19s after reopen, want rejection")
	}
}

// TestStateChangeCallback verifies transition notifications.
func TestStateChangeCallback(t *testing.T) {
	type change struct{ from, to State }
	var changes []change
	reg := NewRegistry(testConfig(), func(executor string, from, to State, failures int, at time.Time) {
		if executor != "E" {
			t.Errorf("callback executor = %q, want E", executor)
		}
		changes = append(changes, change{from, to})
	})

	for i := 0; i < 5; i++ {
		reg.RecordFailure("E", t0)
	}
	now := t0.Add(31 * time.Second)
	reg.Allow("E", now) // Triggers lazy open -> half-open
	reg.RecordSuccess("E", now)
	reg.RecordSuccess("E", now)

	want := []change{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("got %d transitions %v, want %d", len(changes), changes, len(want))
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("transition %d = %s->%s, want %s->%s", i,
				changes[i].from, changes[i].to, want[i].from, want[i].to)
		}
	}
}

// TestCircuitsAreIndependent verifies isolation between executors.
func TestCircuitsAreIndependent(t *testing.T) {
	reg := NewRegistry(testConfig(), nil)

	for i := 0; i < 5; i++ {
		reg.RecordFailure("bad", t0)
	}

	if got := reg.State("bad", t0); got != StateOpen {
		t.Errorf("bad executor state = %s, want open", got)
	}
	if err := reg.Allow("good", t0); err != nil {
		t.Errorf("Allow(good) = %v, circuits must be independent", err)
	}
}
