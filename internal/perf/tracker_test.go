package perf

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestRecordOutcomeAggregates verifies running aggregate updates.
func TestRecordOutcomeAggregates(t *testing.T) {
	tr := NewTracker(nil)

	tr.RecordOutcome("E", "g1", "t1", true, 10*time.Second, 0.9)
	tr.RecordOutcome("E", "g1", "t2", false, 20*time.Second, 0.1)
	tr.RecordOutcome("E", "g1", "t3", true, 30*time.Second, 0.8)

	s := tr.Snapshot("E")
	if s.SuccessCount != 2 || s.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", s.SuccessCount, s.FailureCount)
	}
	if s.TotalDuration != 60*time.Second {
		t.Errorf("TotalDuration = %s, want 60s", s.TotalDuration)
	}
	if !almostEqual(s.TotalQuality, 1.8) {
		t.Errorf("TotalQuality = %f, want 1.8", s.TotalQuality)
	}
	if !almostEqual(s.SuccessRate(), 2.0/3.0) {
		t.Errorf("SuccessRate() = %f, want 2/3", s.SuccessRate())
	}
	if s.AvgDuration() != 20*time.Second {
		t.Errorf("AvgDuration() = %s, want 20s", s.AvgDuration())
	}
}

// TestRecordOutcomeIdempotent verifies duplicate task IDs never
// double-count.
func TestRecordOutcomeIdempotent(t *testing.T) {
	tr := NewTracker(nil)

	if !tr.RecordOutcome("E", "g1", "t1", true, time.Second, 1.0) {
		t.Fatal("first RecordOutcome() = false, want true")
	}
	if tr.RecordOutcome("E", "g1", "t1", true, time.Second, 1.0) {
		t.Error("duplicate RecordOutcome() = true, want false")
	}
	// Even with a different outcome payload
	if tr.RecordOutcome("E", "g1", "t1", false, time.Minute, 0.0) {
		t.Error("duplicate RecordOutcome() with new payload = true, want false")
	}

	s := tr.Snapshot("E")
	if s.Outcomes() != 1 {
		t.Errorf("Outcomes() = %d after duplicates, want 1", s.Outcomes())
	}
	if s.SuccessCount != 1 || s.FailureCount != 0 {
		t.Errorf("counts = %d/%d, want 1/0", s.SuccessCount, s.FailureCount)
	}
}

// TestRecordOutcomeSameTaskIDAcrossGraphs verifies that graphs reusing
// a task ID each get their outcome counted. Task IDs are unique only
// within a graph.
func TestRecordOutcomeSameTaskIDAcrossGraphs(t *testing.T) {
	tr := NewTracker(nil)

	if !tr.RecordOutcome("E", "g1", "build", true, time.Second, 1.0) {
		t.Fatal("first graph's RecordOutcome() = false, want true")
	}
	if !tr.RecordOutcome("E", "g2", "build", true, time.Second, 1.0) {
		t.Error("second graph's RecordOutcome() = false, want true")
	}

	s := tr.Snapshot("E")
	if s.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", s.SuccessCount)
	}
}

// TestScore verifies the blended performance score.
func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Snapshot
		want     float64
	}{
		{
			name:     "no history scores neutral",
			snapshot: Snapshot{},
			want:     0.5,
		},
		{
			name: "perfect fast executor",
			snapshot: Snapshot{
				SuccessCount:  4,
				TotalDuration: 40 * time.Second, // 10s avg, under baseline
				TotalQuality:  4.0,
			},
			want: 0.5*1.0 + 0.3*1.0 + 0.2*1.0,
		},
		{
			name: "slow executor loses speed score",
			snapshot: Snapshot{
				SuccessCount:  2,
				TotalDuration: 2 * time.Minute, // 60s avg, 2x baseline
				TotalQuality:  2.0,
			},
			want: 0.5*1.0 + 0.3*1.0 + 0.2*0.5,
		},
		{
			name: "failures drag the rate",
			snapshot: Snapshot{
				SuccessCount:  1,
				FailureCount:  1,
				TotalDuration: 20 * time.Second,
				TotalQuality:  1.0,
			},
			want: 0.5*0.5 + 0.3*0.5 + 0.2*1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.snapshot, 30*time.Second)
			if !almostEqual(got, tt.want) {
				t.Errorf("Score() = %f, want %f", got, tt.want)
			}
		})
	}
}

// TestOnUpdateCallback verifies snapshot notifications fire once per
// distinct outcome.
func TestOnUpdateCallback(t *testing.T) {
	var updates []Snapshot
	tr := NewTracker(func(s Snapshot) { updates = append(updates, s) })

	tr.RecordOutcome("E", "g1", "t1", true, time.Second, 1.0)
	tr.RecordOutcome("E", "g1", "t1", true, time.Second, 1.0) // Duplicate, no callback
	tr.RecordOutcome("E", "g1", "t2", false, time.Second, 0.0)

	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[1].SuccessCount != 1 || updates[1].FailureCount != 1 {
		t.Errorf("final update counts = %d/%d, want 1/1", updates[1].SuccessCount, updates[1].FailureCount)
	}
}

// TestPoolSnapshot verifies the sorted full-pool view.
func TestPoolSnapshot(t *testing.T) {
	tr := NewTracker(nil)
	tr.RecordOutcome("zeta", "g1", "t1", true, time.Second, 1.0)
	tr.RecordOutcome("alpha", "g1", "t2", true, time.Second, 1.0)

	pool := tr.PoolSnapshot()
	if len(pool) != 2 {
		t.Fatalf("PoolSnapshot() returned %d entries, want 2", len(pool))
	}
	if pool[0].Executor != "alpha" || pool[1].Executor != "zeta" {
		t.Errorf("pool order = [%s %s], want [alpha zeta]", pool[0].Executor, pool[1].Executor)
	}
}
