package task

import (
	"errors"
	"testing"
)

func graphOf(tasks ...*Task) *Graph {
	return &Graph{Goal: "test goal", Tasks: tasks}
}

// TestSubmitValidation tests graph validation with various structures.
func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		graph   *Graph
		wantErr func(error) bool
	}{
		{
			name: "valid linear chain",
			graph: graphOf(
				&Task{ID: "A"},
				&Task{ID: "B", DependsOn: []string{"A"}},
				&Task{ID: "C", DependsOn: []string{"B"}},
			),
		},
		{
			name: "valid diamond",
			graph: graphOf(
				&Task{ID: "A"},
				&Task{ID: "B", DependsOn: []string{"A"}},
				&Task{ID: "C", DependsOn: []string{"A"}},
				&Task{ID: "D", DependsOn: []string{"B", "C"}},
			),
		},
		{
			name: "duplicate task ID",
			graph: graphOf(
				&Task{ID: "A"},
				&Task{ID: "A"},
			),
			wantErr: func(err error) bool {
				var dup *DuplicateIDError
				return errors.As(err, &dup) && dup.ID == "A"
			},
		},
		{
			name: "unresolved dependency",
			graph: graphOf(
				&Task{ID: "A", DependsOn: []string{"ghost"}},
			),
			wantErr: func(err error) bool {
				var ref *InvalidReferenceError
				return errors.As(err, &ref) && ref.DepID == "ghost"
			},
		},
		{
			name: "direct cycle",
			graph: graphOf(
				&Task{ID: "A", DependsOn: []string{"B"}},
				&Task{ID: "B", DependsOn: []string{"A"}},
			),
			wantErr: func(err error) bool {
				var cyc *CycleError
				return errors.As(err, &cyc) && len(cyc.Edges) == 2
			},
		},
		{
			name: "self cycle",
			graph: graphOf(
				&Task{ID: "A", DependsOn: []string{"A"}},
			),
			wantErr: func(err error) bool {
				var cyc *CycleError
				return errors.As(err, &cyc)
			},
		},
		{
			name: "cycle behind valid prefix",
			graph: graphOf(
				&Task{ID: "A"},
				&Task{ID: "B", DependsOn: []string{"A", "D"}},
				&Task{ID: "C", DependsOn: []string{"B"}},
				&Task{ID: "D", DependsOn: []string{"C"}},
			),
			wantErr: func(err error) bool {
				var cyc *CycleError
				return errors.As(err, &cyc) && len(cyc.Edges) == 3
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(3)
			id, err := store.Submit(tt.graph)

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Submit() error = %v, want nil", err)
				}
				if id == "" {
					t.Fatal("Submit() returned empty graph ID")
				}
				return
			}

			if err == nil {
				t.Fatal("Submit() error = nil, want validation error")
			}
			if !tt.wantErr(err) {
				t.Errorf("Submit() error = %v, wrong type or contents", err)
			}
			// Nothing may be stored on a failed submission
			if _, gerr := store.Tasks(id); gerr == nil {
				t.Error("failed submission stored graph state")
			}
		})
	}
}

// TestComputeOrder verifies every task appears strictly after all of its
// dependencies.
func TestComputeOrder(t *testing.T) {
	store := NewStore(3)
	id, err := store.Submit(graphOf(
		&Task{ID: "A"},
		&Task{ID: "B", DependsOn: []string{"A"}},
		&Task{ID: "C", DependsOn: []string{"A"}},
		&Task{ID: "D", DependsOn: []string{"B", "C"}},
		&Task{ID: "E"},
	))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	layers, err := store.ComputeOrder(id)
	if err != nil {
		t.Fatalf("ComputeOrder() error = %v", err)
	}

	layerOf := map[string]int{}
	for i, layer := range layers {
		for _, taskID := range layer {
			layerOf[taskID] = i
		}
	}
	if len(layerOf) != 5 {
		t.Fatalf("ComputeOrder() placed %d tasks, want 5", len(layerOf))
	}

	deps := map[string][]string{
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
	}
	for taskID, taskDeps := range deps {
		for _, depID := range taskDeps {
			if layerOf[taskID] <= layerOf[depID] {
				t.Errorf("task %s in layer %d, dependency %s in layer %d", taskID, layerOf[taskID], depID, layerOf[depID])
			}
		}
	}

	// A and E have no dependencies and share the first layer
	if layerOf["A"] != 0 || layerOf["E"] != 0 {
		t.Errorf("layer 0 = A:%d E:%d, want both 0", layerOf["A"], layerOf["E"])
	}
}

// TestReadyOrdering verifies priority ordering with submission-order ties.
func TestReadyOrdering(t *testing.T) {
	store := NewStore(3)
	id, err := store.Submit(graphOf(
		&Task{ID: "low", Priority: PriorityLow},
		&Task{ID: "med1", Priority: PriorityMedium},
		&Task{ID: "crit", Priority: PriorityCritical},
		&Task{ID: "med2", Priority: PriorityMedium},
		&Task{ID: "high", Priority: PriorityHigh},
	))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ready, err := store.Ready(id)
	if err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	want := []string{"crit", "high", "med1", "med2", "low"}
	if len(ready) != len(want) {
		t.Fatalf("Ready() returned %d tasks, want %d", len(ready), len(want))
	}
	for i, taskID := range want {
		if ready[i].ID != taskID {
			t.Errorf("ready[%d] = %s, want %s", i, ready[i].ID, taskID)
		}
	}
}

// TestRunningRequiresCompletedDeps verifies the core scheduling invariant.
func TestRunningRequiresCompletedDeps(t *testing.T) {
	store := NewStore(3)
	id, err := store.Submit(graphOf(
		&Task{ID: "A"},
		&Task{ID: "B", DependsOn: []string{"A"}},
	))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// B must not be ready while A is incomplete
	ready, _ := store.Ready(id)
	if len(ready) != 1 || ready[0].ID != "A" {
		t.Fatalf("Ready() = %v, want [A]", ready)
	}

	// Walk A through its lifecycle
	if err := store.MarkDispatched(id, "A", "exec-1"); err != nil {
		t.Fatalf("MarkDispatched(A) error = %v", err)
	}
	if err := store.MarkRunning(id, "A"); err != nil {
		t.Fatalf("MarkRunning(A) error = %v", err)
	}
	if err := store.MarkCompleted(id, "A", "done"); err != nil {
		t.Fatalf("MarkCompleted(A) error = %v", err)
	}

	// A's completion promotes B
	ready, _ = store.Ready(id)
	if len(ready) != 1 || ready[0].ID != "B" {
		t.Fatalf("Ready() after A completed = %v, want [B]", ready)
	}

	if err := store.MarkDispatched(id, "B", "exec-1"); err != nil {
		t.Fatalf("MarkDispatched(B) error = %v", err)
	}
	if err := store.MarkRunning(id, "B"); err != nil {
		t.Fatalf("MarkRunning(B) error = %v", err)
	}

	got, _ := store.Get(id, "B")
	if got.Status != StatusRunning {
		t.Errorf("B status = %s, want running", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("B attempts = %d, want 1", got.Attempts)
	}
}

// TestMarkFailedBlocksTransitiveDependents verifies the blocked cascade.
func TestMarkFailedBlocksTransitiveDependents(t *testing.T) {
	store := NewStore(3)
	id, err := store.Submit(graphOf(
		&Task{ID: "A"},
		&Task{ID: "B", DependsOn: []string{"A"}},
		&Task{ID: "C", DependsOn: []string{"B"}},
		&Task{ID: "D", DependsOn: []string{"C"}},
		&Task{ID: "E"}, // Independent branch, must be untouched
	))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := store.MarkDispatched(id, "A", "exec-1"); err != nil {
		t.Fatalf("MarkDispatched() error = %v", err)
	}
	blocked, err := store.MarkFailed(id, "A", errors.New("boom"))
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	want := []string{"B", "C", "D"}
	if len(blocked) != len(want) {
		t.Fatalf("blocked = %v, want %v", blocked, want)
	}
	for i := range want {
		if blocked[i] != want[i] {
			t.Errorf("blocked[%d] = %s, want %s", i, blocked[i], want[i])
		}
	}

	for _, taskID := range want {
		got, _ := store.Get(id, taskID)
		if got.Status != StatusBlocked {
			t.Errorf("%s status = %s, want blocked", taskID, got.Status)
		}
	}
	e, _ := store.Get(id, "E")
	if e.Status != StatusReady {
		t.Errorf("E status = %s, want ready", e.Status)
	}
}

// TestRetryLifecycle covers MarkRetrying and Requeue.
func TestRetryLifecycle(t *testing.T) {
	store := NewStore(3)
	id, err := store.Submit(graphOf(&Task{ID: "A"}))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := store.MarkDispatched(id, "A", "exec-1"); err != nil {
		t.Fatalf("MarkDispatched() error = %v", err)
	}
	if err := store.MarkRetrying(id, "A", errors.New("transient")); err != nil {
		t.Fatalf("MarkRetrying() error = %v", err)
	}

	got, _ := store.Get(id, "A")
	if got.Status != StatusPending {
		t.Fatalf("status after MarkRetrying = %s, want pending", got.Status)
	}
	if got.AssignedExecutor != "" {
		t.Errorf("AssignedExecutor = %q, want cleared", got.AssignedExecutor)
	}

	requeued, err := store.Requeue(id, "A")
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if !requeued {
		t.Fatal("Requeue() = false, want true")
	}
	got, _ = store.Get(id, "A")
	if got.Status != StatusReady {
		t.Errorf("status after Requeue = %s, want ready", got.Status)
	}
}

// TestCancelGraph verifies non-terminal tasks cancel and requeues are
// suppressed afterwards.
func TestCancelGraph(t *testing.T) {
	store := NewStore(3)
	id, err := store.Submit(graphOf(
		&Task{ID: "A"},
		&Task{ID: "B", DependsOn: []string{"A"}},
	))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	// Complete A so only B is non-terminal
	_ = store.MarkDispatched(id, "A", "exec-1")
	_ = store.MarkRunning(id, "A")
	_ = store.MarkCompleted(id, "A", "ok")

	cancelled, err := store.CancelGraph(id)
	if err != nil {
		t.Fatalf("CancelGraph() error = %v", err)
	}
	if len(cancelled) != 1 || cancelled[0] != "B" {
		t.Fatalf("cancelled = %v, want [B]", cancelled)
	}

	a, _ := store.Get(id, "A")
	if a.Status != StatusCompleted {
		t.Errorf("A status = %s, terminal tasks must keep their status", a.Status)
	}

	done, _ := store.Done(id)
	if !done {
		t.Error("Done() = false after cancel, want true")
	}

	requeued, _ := store.Requeue(id, "B")
	if requeued {
		t.Error("Requeue() = true on a cancelled graph, want false")
	}
}

// TestMaxAttemptsDefault verifies the store default applies.
func TestMaxAttemptsDefault(t *testing.T) {
	store := NewStore(3)
	id, _ := store.Submit(graphOf(
		&Task{ID: "A"},
		&Task{ID: "B", MaxAttempts: 5},
	))

	a, _ := store.Get(id, "A")
	if a.MaxAttempts != 3 {
		t.Errorf("A.MaxAttempts = %d, want store default 3", a.MaxAttempts)
	}
	b, _ := store.Get(id, "B")
	if b.MaxAttempts != 5 {
		t.Errorf("B.MaxAttempts = %d, want explicit 5", b.MaxAttempts)
	}
}
