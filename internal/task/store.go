package task

import (
	"sort"
	"sync"
	"time"

	"github.com/gammazero/toposort"
	"github.com/google/uuid"
)

// Store owns all task and graph state. It is the sole writer of task
// status transitions; every mutation is serialized under one mutex and
// all reads return clones so callers operate on consistent snapshots.
type Store struct {
	mu                 sync.RWMutex
	graphs             map[string]*graphState
	defaultMaxAttempts int
	now                func() time.Time
}

type graphState struct {
	goal       string
	tasks      map[string]*Task
	order      []string            // Submission order
	dependents map[string][]string // taskID -> tasks that depend on it
	cancelled  bool
}

// NewStore creates an empty store. Tasks submitted without an explicit
// MaxAttempts inherit defaultMaxAttempts (3 if non-positive).
func NewStore(defaultMaxAttempts int) *Store {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 3
	}
	return &Store{
		graphs:             make(map[string]*graphState),
		defaultMaxAttempts: defaultMaxAttempts,
		now:                time.Now,
	}
}

// Submit validates and stores a task graph. On any validation failure the
// typed error is returned and nothing is stored. Returns the graph ID
// (generated when the graph carries none).
func (s *Store) Submit(g *Graph) (string, error) {
	if err := validate(g.Tasks); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := g.ID
	if id == "" {
		id = uuid.NewString()
	}

	gs := &graphState{
		goal:       g.Goal,
		tasks:      make(map[string]*Task, len(g.Tasks)),
		dependents: make(map[string][]string),
	}

	createdAt := s.now()
	for i, t := range g.Tasks {
		cp := cloneTask(t)
		cp.seq = i
		cp.CreatedAt = createdAt
		cp.Attempts = 0
		if cp.MaxAttempts <= 0 {
			cp.MaxAttempts = s.defaultMaxAttempts
		}
		if len(cp.DependsOn) == 0 {
			cp.Status = StatusReady
		} else {
			cp.Status = StatusPending
		}

		gs.tasks[cp.ID] = cp
		gs.order = append(gs.order, cp.ID)
		for _, depID := range cp.DependsOn {
			gs.dependents[depID] = append(gs.dependents[depID], cp.ID)
		}
	}

	s.graphs[id] = gs
	return id, nil
}

// validate checks task ID uniqueness, dependency resolution, and
// acyclicity. Cycle detection runs gammazero/toposort over the dependency
// edges; when it fails, the offending edges are recovered by peeling the
// graph and reporting the edges among the tasks that cannot be ordered.
func validate(tasks []*Task) error {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if _, exists := byID[t.ID]; exists {
			return &DuplicateIDError{ID: t.ID}
		}
		byID[t.ID] = t
	}

	for _, t := range tasks {
		for _, depID := range t.DependsOn {
			if _, exists := byID[depID]; !exists {
				return &InvalidReferenceError{TaskID: t.ID, DepID: depID}
			}
		}
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.DependsOn) == 0 {
			// Edge from nil keeps isolated tasks in the sort
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, depID := range t.DependsOn {
			edges = append(edges, toposort.Edge{depID, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return &CycleError{Edges: cyclicEdges(tasks)}
	}

	// A count mismatch means the sort lost tasks; treat as cyclic.
	count := 0
	for _, id := range sorted {
		if id != nil {
			count++
		}
	}
	if count != len(tasks) {
		return &CycleError{Edges: cyclicEdges(tasks)}
	}

	return nil
}

// cyclicEdges peels tasks with no unresolved dependencies, Kahn-style.
// The tasks that remain participate in at least one cycle; the edges
// among them are the offending edges.
func cyclicEdges(tasks []*Task) []Edge {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		indegree[t.ID] = len(t.DependsOn)
		for _, depID := range t.DependsOn {
			dependents[depID] = append(dependents[depID], t.ID)
		}
	}

	queue := []string{}
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(indegree, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	var edges []Edge
	for _, t := range tasks {
		if _, stuck := indegree[t.ID]; !stuck {
			continue
		}
		for _, depID := range t.DependsOn {
			if _, stuck := indegree[depID]; stuck {
				edges = append(edges, Edge{From: depID, To: t.ID})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// ComputeOrder returns the graph's tasks as topological layers: every
// task in a layer has all of its dependencies in earlier layers, so tasks
// within one layer can run in parallel. Kahn's algorithm, O(V+E).
func (s *Store) ComputeOrder(graphID string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}

	indegree := make(map[string]int, len(gs.tasks))
	for id, t := range gs.tasks {
		indegree[id] = len(t.DependsOn)
	}

	current := []string{}
	for _, id := range gs.order {
		if indegree[id] == 0 {
			current = append(current, id)
		}
	}

	var layers [][]string
	for len(current) > 0 {
		layers = append(layers, current)
		var next []string
		for _, id := range current {
			for _, depID := range gs.dependents[id] {
				indegree[depID]--
				if indegree[depID] == 0 {
					next = append(next, depID)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool {
			return gs.tasks[next[i]].seq < gs.tasks[next[j]].seq
		})
		current = next
	}

	return layers, nil
}

// Ready returns clones of all ready tasks ordered by priority (highest
// first), ties broken by submission order.
func (s *Store) Ready(graphID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}

	var ready []*Task
	for _, id := range gs.order {
		if t := gs.tasks[id]; t.Status == StatusReady {
			ready = append(ready, cloneTask(t))
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})
	return ready, nil
}

// MarkDispatched claims a ready task for an executor. Increments the
// attempt counter: an attempt begins at dispatch.
func (s *Store) MarkDispatched(graphID, taskID, executorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.locked(graphID, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusReady {
		return &TransitionError{TaskID: taskID, From: t.Status, To: StatusDispatched, Reason: "task is not ready"}
	}

	t.Status = StatusDispatched
	t.Attempts++
	t.AssignedExecutor = executorID
	t.DispatchedAt = s.now()
	return nil
}

// MarkRunning transitions a dispatched task to running. The dependency
// invariant is enforced here: a violation means the graph state is
// corrupted and the error is fatal to the engine.
func (s *Store) MarkRunning(graphID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs := s.graphs[graphID]
	t, err := s.locked(graphID, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusDispatched {
		return &TransitionError{TaskID: taskID, From: t.Status, To: StatusRunning, Reason: "task was not dispatched"}
	}
	for _, depID := range t.DependsOn {
		if dep := gs.tasks[depID]; dep.Status != StatusCompleted {
			return &TransitionError{TaskID: taskID, From: t.Status, To: StatusRunning,
				Reason: "dependency " + depID + " is " + dep.Status.String()}
		}
	}

	t.Status = StatusRunning
	return nil
}

// MarkCompleted finishes a task successfully and promotes any dependents
// whose dependencies are now all completed from pending to ready.
func (s *Store) MarkCompleted(graphID, taskID, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs := s.graphs[graphID]
	t, err := s.locked(graphID, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusRunning {
		return &TransitionError{TaskID: taskID, From: t.Status, To: StatusCompleted, Reason: "task is not running"}
	}

	t.Status = StatusCompleted
	t.Result = result
	t.Err = nil
	t.CompletedAt = s.now()

	for _, depID := range gs.dependents[taskID] {
		dep := gs.tasks[depID]
		// Tasks awaiting a retry deadline (Attempts > 0) belong to the
		// retry manager and are promoted through Requeue instead.
		if dep.Status != StatusPending || dep.Attempts > 0 {
			continue
		}
		if gs.depsCompleted(dep) {
			dep.Status = StatusReady
		}
	}
	return nil
}

// MarkRetrying parks a failed-but-retryable task back in pending until
// its backoff deadline elapses.
func (s *Store) MarkRetrying(graphID, taskID string, taskErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.locked(graphID, taskID)
	if err != nil {
		return err
	}
	if t.Status != StatusDispatched && t.Status != StatusRunning {
		return &TransitionError{TaskID: taskID, From: t.Status, To: StatusPending, Reason: "task is not in flight"}
	}

	t.Status = StatusPending
	t.Err = taskErr
	t.AssignedExecutor = ""
	return nil
}

// Requeue returns a retrying task to ready once its backoff delay has
// elapsed. Reports false without error when the task is no longer
// pending, e.g. after a graph-level cancel.
func (s *Store) Requeue(graphID, taskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return false, &UnknownGraphError{GraphID: graphID}
	}
	t, exists := gs.tasks[taskID]
	if !exists {
		return false, &UnknownTaskError{GraphID: graphID, TaskID: taskID}
	}
	if gs.cancelled || t.Status != StatusPending || t.Attempts == 0 {
		return false, nil
	}

	t.Status = StatusReady
	return true, nil
}

// MarkFailed terminally fails a task and marks every transitive dependent
// blocked. Returns the IDs of the newly blocked tasks in submission order.
func (s *Store) MarkFailed(graphID, taskID string, taskErr error) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs := s.graphs[graphID]
	t, err := s.locked(graphID, taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, &TransitionError{TaskID: taskID, From: t.Status, To: StatusFailed, Reason: "task already terminal"}
	}

	t.Status = StatusFailed
	t.Err = taskErr
	t.CompletedAt = s.now()

	// Breadth-first walk over dependents; blocked tasks are never dispatched.
	var blocked []string
	queue := append([]string(nil), gs.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		dep := gs.tasks[id]
		if dep.Status.Terminal() || dep.Status == StatusBlocked {
			continue
		}
		dep.Status = StatusBlocked
		blocked = append(blocked, id)
		queue = append(queue, gs.dependents[id]...)
	}
	sort.Slice(blocked, func(i, j int) bool {
		return gs.tasks[blocked[i]].seq < gs.tasks[blocked[j]].seq
	})
	return blocked, nil
}

// CancelGraph marks every non-terminal task cancelled and halts further
// dispatch for the graph. Returns the cancelled task IDs.
func (s *Store) CancelGraph(graphID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}

	gs.cancelled = true
	var cancelled []string
	for _, id := range gs.order {
		t := gs.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		t.Status = StatusCancelled
		cancelled = append(cancelled, id)
	}
	return cancelled, nil
}

// Cancelled reports whether the graph has been cancelled.
func (s *Store) Cancelled(graphID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	return exists && gs.cancelled
}

// Done reports whether every task in the graph is terminal.
func (s *Store) Done(graphID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return false, &UnknownGraphError{GraphID: graphID}
	}
	for _, t := range gs.tasks {
		if !t.Status.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// Get returns a clone of a single task.
func (s *Store) Get(graphID, taskID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}
	t, exists := gs.tasks[taskID]
	if !exists {
		return nil, &UnknownTaskError{GraphID: graphID, TaskID: taskID}
	}
	return cloneTask(t), nil
}

// Tasks returns clones of all tasks in submission order.
func (s *Store) Tasks(graphID string) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}
	tasks := make([]*Task, 0, len(gs.order))
	for _, id := range gs.order {
		tasks = append(tasks, cloneTask(gs.tasks[id]))
	}
	return tasks, nil
}

// Graph reconstructs the graph with cloned tasks.
func (s *Store) Graph(graphID string) (*Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}
	g := &Graph{ID: graphID, Goal: gs.goal}
	for _, id := range gs.order {
		g.Tasks = append(g.Tasks, cloneTask(gs.tasks[id]))
	}
	return g, nil
}

// locked looks up a task while s.mu is held.
func (s *Store) locked(graphID, taskID string) (*Task, error) {
	gs, exists := s.graphs[graphID]
	if !exists {
		return nil, &UnknownGraphError{GraphID: graphID}
	}
	t, exists := gs.tasks[taskID]
	if !exists {
		return nil, &UnknownTaskError{GraphID: graphID, TaskID: taskID}
	}
	return t, nil
}

func (gs *graphState) depsCompleted(t *Task) bool {
	for _, depID := range t.DependsOn {
		if gs.tasks[depID].Status != StatusCompleted {
			return false
		}
	}
	return true
}
