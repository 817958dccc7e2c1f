// Package executor defines the executor runtime collaborator and the
// registry of executor profiles the matcher selects from.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aristath/dispatch/internal/task"
)

// Result is the output of a successful executor call.
type Result struct {
	Output  string
	Quality float64 // Self-assessed output quality in [0,1]
}

// Runtime performs the actual work of a task. Implementations are opaque
// and possibly unreliable remote operations; the engine treats a call as
// a single blocking operation that returns a result or an error.
type Runtime interface {
	Execute(ctx context.Context, t *task.Task) (Result, error)
}

// Error wraps a failure returned by an executor runtime.
type Error struct {
	Executor string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("executor %q failed: %v", e.Executor, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Profile describes a registered executor: its identity, capability tags,
// and the runtime handle used to dispatch work to it.
type Profile struct {
	ID           string
	Capabilities []string
	Runtime      Runtime
}

// Text renders the profile as the document embedded for semantic
// matching against task descriptions.
func (p Profile) Text() string {
	return p.ID + ": " + strings.Join(p.Capabilities, ", ")
}

// Registry is an explicit, passed-in handle to the executor pool. The
// scheduler and matcher read consistent snapshots; registration updates
// never mutate a snapshot already handed out.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[string]Profile),
	}
}

// Register adds or replaces an executor profile.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := p
	cp.Capabilities = append([]string(nil), p.Capabilities...)
	r.profiles[p.ID] = cp
}

// Remove deletes an executor profile. Unknown IDs are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.profiles, id)
}

// Get returns a single profile by ID.
func (r *Registry) Get(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.profiles[id]
	return p, exists
}

// Snapshot returns all profiles sorted by ID. The returned slice is a
// copy; later registry updates do not affect it.
func (r *Registry) Snapshot() []Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered executors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}
