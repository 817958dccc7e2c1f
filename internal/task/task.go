package task

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the current state of a task.
type Status int

const (
	StatusPending    Status = iota // Waiting for dependencies or a retry deadline
	StatusReady                    // All dependencies completed, ready to dispatch
	StatusDispatched               // Claimed by the dispatcher, executor selected
	StatusRunning                  // Currently executing
	StatusCompleted                // Finished successfully
	StatusFailed                   // Exhausted all attempts
	StatusBlocked                  // A transitive dependency failed; never dispatched
	StatusCancelled                // Graph was cancelled before the task finished
)

// String returns the lowercase status name used in events and logs.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusDispatched:
		return "dispatched"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusBlocked:
		return "blocked"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the status is final. Terminal tasks never
// change status again.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Priority orders tasks within a dependency layer. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MarshalJSON encodes the priority as its lowercase name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts "critical", "high", "medium", or "low".
// An empty string decodes to PriorityMedium.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "critical":
		*p = PriorityCritical
	case "high":
		*p = PriorityHigh
	case "medium", "":
		*p = PriorityMedium
	case "low":
		*p = PriorityLow
	default:
		return fmt.Errorf("unknown priority %q", s)
	}
	return nil
}

// Task is a unit of work in a graph.
type Task struct {
	ID               string    `json:"id"`
	Description      string    `json:"description"`
	DependsOn        []string  `json:"depends_on,omitempty"`
	Tags             []string  `json:"tags,omitempty"` // Capability tags for matcher fallback
	Priority         Priority  `json:"priority"`
	Status           Status    `json:"-"`
	Attempts         int       `json:"-"`
	MaxAttempts      int       `json:"max_attempts,omitempty"`
	AssignedExecutor string    `json:"-"`
	CreatedAt        time.Time `json:"-"`
	DispatchedAt     time.Time `json:"-"`
	CompletedAt      time.Time `json:"-"`
	Result           string    `json:"-"`
	Err              error     `json:"-"`

	seq int // Submission order, breaks priority ties
}

// Seq returns the task's submission order within its graph.
func (t *Task) Seq() int { return t.seq }

// Graph is a set of tasks scheduled as one unit. It must be acyclic and
// every dependency must refer to a task inside the same graph.
type Graph struct {
	ID    string  `json:"id,omitempty"`
	Goal  string  `json:"goal"`
	Tasks []*Task `json:"tasks"`
}

// Summary produces the textual summary embedded for plan similarity:
// the goal followed by each task description in submission order.
func (g *Graph) Summary() string {
	out := g.Goal
	for _, t := range g.Tasks {
		out += "\n" + t.Description
	}
	return out
}

func cloneTask(t *Task) *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	return &cp
}
