package task

import (
	"fmt"
	"strings"
)

// Edge is a dependency edge: To depends on From.
type Edge struct {
	From string
	To   string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

// CycleError reports that a submitted graph contains a dependency cycle.
// Edges lists the dependency edges among the tasks participating in cycles.
type CycleError struct {
	Edges []Edge
}

func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Edges))
	for _, edge := range e.Edges {
		parts = append(parts, edge.String())
	}
	return fmt.Sprintf("graph contains a dependency cycle: %s", strings.Join(parts, ", "))
}

// DuplicateIDError reports that a submitted graph contains two tasks with
// the same ID.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate task ID %q", e.ID)
}

// InvalidReferenceError reports a dependency on a task ID that does not
// exist within the submitted graph.
type InvalidReferenceError struct {
	TaskID string
	DepID  string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("task %q depends on non-existent task %q", e.TaskID, e.DepID)
}

// UnknownGraphError reports an operation against a graph ID that was
// never submitted.
type UnknownGraphError struct {
	GraphID string
}

func (e *UnknownGraphError) Error() string {
	return fmt.Sprintf("unknown graph %q", e.GraphID)
}

// UnknownTaskError reports an operation against a task ID that does not
// exist in the given graph.
type UnknownTaskError struct {
	GraphID string
	TaskID  string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task %q not found in graph %q", e.TaskID, e.GraphID)
}

// TransitionError reports a status write that violates the task lifecycle,
// such as marking a task running while a dependency is incomplete. These
// indicate a corrupted graph and are fatal to the engine.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for task %q: %s -> %s: %s", e.TaskID, e.From, e.To, e.Reason)
}
