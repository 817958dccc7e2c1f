package events

import (
	"time"
)

// Event is the base interface for all lifecycle events.
type Event interface {
	EventType() string
	Topic() string
	TaskID() string
}

// Topic constants
const (
	TopicTask    = "task"
	TopicGraph   = "graph"
	TopicCircuit = "circuit"
	TopicMatch   = "match"
	TopicPerf    = "perf"
	TopicPlan    = "plan"
)

// Event type constants
const (
	EventTypeTaskAdded          = "task_added"
	EventTypeTaskStarted        = "task_started"
	EventTypeTaskCompleted      = "task_completed"
	EventTypeTaskFailed         = "task_failed"
	EventTypeTaskRetry          = "task_retry"
	EventTypeTaskBlocked        = "task_blocked"
	EventTypeCircuitOpened      = "circuit_opened"
	EventTypeCircuitClosed      = "circuit_closed"
	EventTypeMatchFound         = "match_found"
	EventTypeMatchFailed        = "match_failed"
	EventTypePerformanceUpdated = "performance_updated"
	EventTypeGraphCompleted     = "graph_completed"
	EventTypeGraphCancelled     = "graph_cancelled"
	EventTypePlanRecorded       = "plan_recorded"
)

// TaskAdded is published for each task when its graph is accepted.
type TaskAdded struct {
	GraphID   string    `json:"graph_id"`
	ID        string    `json:"task_id"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskAdded) EventType() string { return EventTypeTaskAdded }
func (e TaskAdded) Topic() string     { return TopicTask }
func (e TaskAdded) TaskID() string    { return e.ID }

// TaskStarted is published when a task begins executing on an executor.
type TaskStarted struct {
	GraphID   string    `json:"graph_id"`
	ID        string    `json:"task_id"`
	Executor  string    `json:"executor_id"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskStarted) EventType() string { return EventTypeTaskStarted }
func (e TaskStarted) Topic() string     { return TopicTask }
func (e TaskStarted) TaskID() string    { return e.ID }

// TaskCompleted is published when a task finishes successfully.
type TaskCompleted struct {
	GraphID   string        `json:"graph_id"`
	ID        string        `json:"task_id"`
	Executor  string        `json:"executor_id"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e TaskCompleted) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompleted) Topic() string     { return TopicTask }
func (e TaskCompleted) TaskID() string    { return e.ID }

// TaskFailed is published on every failed attempt, including the terminal
// one. Terminal reports whether the task has exhausted its attempts.
type TaskFailed struct {
	GraphID   string    `json:"graph_id"`
	ID        string    `json:"task_id"`
	Executor  string    `json:"executor_id,omitempty"`
	Reason    string    `json:"reason"`
	Attempt   int       `json:"attempt"`
	Terminal  bool      `json:"terminal"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskFailed) EventType() string { return EventTypeTaskFailed }
func (e TaskFailed) Topic() string     { return TopicTask }
func (e TaskFailed) TaskID() string    { return e.ID }

// TaskRetry is published when a failed task is scheduled for another
// attempt after a backoff delay.
type TaskRetry struct {
	GraphID   string        `json:"graph_id"`
	ID        string        `json:"task_id"`
	Attempt   int           `json:"next_attempt"`
	Delay     time.Duration `json:"delay_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e TaskRetry) EventType() string { return EventTypeTaskRetry }
func (e TaskRetry) Topic() string     { return TopicTask }
func (e TaskRetry) TaskID() string    { return e.ID }

// TaskBlocked is published when a task is blocked by a failed dependency.
type TaskBlocked struct {
	GraphID   string    `json:"graph_id"`
	ID        string    `json:"task_id"`
	FailedDep string    `json:"failed_dependency"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskBlocked) EventType() string { return EventTypeTaskBlocked }
func (e TaskBlocked) Topic() string     { return TopicTask }
func (e TaskBlocked) TaskID() string    { return e.ID }

// CircuitOpened is published when an executor's circuit trips open.
type CircuitOpened struct {
	Executor  string    `json:"executor_id"`
	Failures  int       `json:"failures_in_window"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CircuitOpened) EventType() string { return EventTypeCircuitOpened }
func (e CircuitOpened) Topic() string     { return TopicCircuit }
func (e CircuitOpened) TaskID() string    { return "" }

// CircuitClosed is published when an executor's circuit recovers.
type CircuitClosed struct {
	Executor  string    `json:"executor_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CircuitClosed) EventType() string { return EventTypeCircuitClosed }
func (e CircuitClosed) Topic() string     { return TopicCircuit }
func (e CircuitClosed) TaskID() string    { return "" }

// MatchFound is published when the matcher selects an executor for a task.
type MatchFound struct {
	GraphID    string    `json:"graph_id"`
	ID         string    `json:"task_id"`
	Executor   string    `json:"executor_id"`
	Similarity float64   `json:"similarity"`
	Score      float64   `json:"score"`
	Fallback   bool      `json:"capability_fallback"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e MatchFound) EventType() string { return EventTypeMatchFound }
func (e MatchFound) Topic() string     { return TopicMatch }
func (e MatchFound) TaskID() string    { return e.ID }

// MatchFailed is published when no executor could be selected for a task.
type MatchFailed struct {
	GraphID   string    `json:"graph_id"`
	ID        string    `json:"task_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e MatchFailed) EventType() string { return EventTypeMatchFailed }
func (e MatchFailed) Topic() string     { return TopicMatch }
func (e MatchFailed) TaskID() string    { return e.ID }

// PerformanceUpdated is published after an executor's aggregates change.
type PerformanceUpdated struct {
	Executor     string    `json:"executor_id"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e PerformanceUpdated) EventType() string { return EventTypePerformanceUpdated }
func (e PerformanceUpdated) Topic() string     { return TopicPerf }
func (e PerformanceUpdated) TaskID() string    { return "" }

// GraphCompleted is published when every task in a graph is terminal.
type GraphCompleted struct {
	GraphID     string        `json:"graph_id"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Blocked     int           `json:"blocked"`
	SuccessRate float64       `json:"success_rate"`
	Duration    time.Duration `json:"duration_ns"`
	Timestamp   time.Time     `json:"timestamp"`
}

func (e GraphCompleted) EventType() string { return EventTypeGraphCompleted }
func (e GraphCompleted) Topic() string     { return TopicGraph }
func (e GraphCompleted) TaskID() string    { return "" }

// GraphCancelled is published after a graph-level cancel.
type GraphCancelled struct {
	GraphID   string    `json:"graph_id"`
	Cancelled int       `json:"cancelled"`
	Timestamp time.Time `json:"timestamp"`
}

func (e GraphCancelled) EventType() string { return EventTypeGraphCancelled }
func (e GraphCancelled) Topic() string     { return TopicGraph }
func (e GraphCancelled) TaskID() string    { return "" }

// PlanRecorded is published when a terminal graph is stored for future
// similarity matching.
type PlanRecorded struct {
	GraphID   string    `json:"graph_id"`
	PlanID    string    `json:"plan_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e PlanRecorded) EventType() string { return EventTypePlanRecorded }
func (e PlanRecorded) Topic() string     { return TopicPlan }
func (e PlanRecorded) TaskID() string    { return "" }
