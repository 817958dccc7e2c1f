// Package engine drives task graphs through the dispatch lifecycle:
// matching, circuit checks, execution, retries, and outcome tracking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/dispatch/internal/breaker"
	"github.com/aristath/dispatch/internal/embed"
	"github.com/aristath/dispatch/internal/events"
	"github.com/aristath/dispatch/internal/executor"
	"github.com/aristath/dispatch/internal/match"
	"github.com/aristath/dispatch/internal/perf"
	"github.com/aristath/dispatch/internal/plan"
	"github.com/aristath/dispatch/internal/retry"
	"github.com/aristath/dispatch/internal/task"
)

// MaxAttemptsError marks a task that exhausted its attempt budget.
type MaxAttemptsError struct {
	TaskID   string
	Attempts int
	Cause    error
}

func (e *MaxAttemptsError) Error() string {
	return fmt.Sprintf("task %q failed after %d attempts: %v", e.TaskID, e.Attempts, e.Cause)
}

func (e *MaxAttemptsError) Unwrap() error { return e.Cause }

// MatchSink persists match decisions and their eventual outcomes.
// Implementations must tolerate UpdateMatchOutcome for unknown IDs.
type MatchSink interface {
	SaveMatch(ctx context.Context, rec match.Record) error
	UpdateMatchOutcome(ctx context.Context, recordID string, success bool) error
}

// Options configures an Engine. Zero values fall back to defaults;
// Registry, Provider, and Bus are required.
type Options struct {
	MaxConcurrent      int // Max tasks in flight per graph (default 5)
	DefaultMaxAttempts int // Attempt budget for tasks that carry none (default 3)

	Breaker breaker.Config
	Retry   retry.Config
	Matcher match.Config

	Registry *executor.Registry
	Provider embed.Provider
	Bus      *events.Bus

	Detector *plan.Detector // nil disables plan learning
	Sink     MatchSink      // nil disables match persistence
}

// Engine owns a task store and coordinates graph execution. One engine
// serves many graphs; Run is called once per submitted graph.
type Engine struct {
	maxConcurrent int

	store    *task.Store
	registry *executor.Registry
	matcher  *match.Matcher
	breakers *breaker.Registry
	retries  *retry.Manager
	tracker  *perf.Tracker
	detector *plan.Detector
	bus      *events.Bus
	sink     MatchSink
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*graphRun
}

// graphRun accumulates per-graph execution state that the task store
// does not track.
type graphRun struct {
	start      time.Time
	wake       chan struct{}
	qualitySum float64
	qualityN   int
	executors  map[string]bool
}

// New creates an engine. The breaker registry and performance tracker
// are wired to publish state changes on the event bus.
func New(opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}

	e := &Engine{
		maxConcurrent: opts.MaxConcurrent,
		store:         task.NewStore(opts.DefaultMaxAttempts),
		registry:      opts.Registry,
		retries:       retry.NewManager(opts.Retry),
		detector:      opts.Detector,
		bus:           opts.Bus,
		sink:          opts.Sink,
		now:           time.Now,
		runs:          make(map[string]*graphRun),
	}
	e.breakers = breaker.NewRegistry(opts.Breaker, func(executorID string, from, to breaker.State, failures int, at time.Time) {
		switch to {
		case breaker.StateOpen:
			e.bus.Publish(events.CircuitOpened{Executor: executorID, Failures: failures, Timestamp: at})
		case breaker.StateClosed:
			e.bus.Publish(events.CircuitClosed{Executor: executorID, Timestamp: at})
		}
	})
	e.tracker = perf.NewTracker(func(s perf.Snapshot) {
		e.bus.Publish(events.PerformanceUpdated{
			Executor:     s.Executor,
			SuccessCount: s.SuccessCount,
			FailureCount: s.FailureCount,
			Timestamp:    e.now(),
		})
	})
	e.matcher = match.NewMatcher(opts.Matcher, opts.Provider, e.tracker)
	return e
}

// Store exposes the task store for read access.
func (e *Engine) Store() *task.Store { return e.store }

// Tracker exposes the performance tracker for read access.
func (e *Engine) Tracker() *perf.Tracker { return e.tracker }

// Breakers exposes the circuit registry for read access.
func (e *Engine) Breakers() *breaker.Registry { return e.breakers }

// Close releases background resources. Running graphs should be
// cancelled first.
func (e *Engine) Close() {
	e.retries.Stop()
}

// Submit validates and stores a graph, announces its tasks, and returns
// advice learned from similar past runs. Advice failures are logged and
// never block submission.
func (e *Engine) Submit(ctx context.Context, g *task.Graph) (string, plan.Advice, error) {
	graphID, err := e.store.Submit(g)
	if err != nil {
		return "", plan.Advice{}, err
	}

	now := e.now()
	tasks, _ := e.store.Tasks(graphID)
	for _, t := range tasks {
		e.bus.Publish(events.TaskAdded{GraphID: graphID, ID: t.ID, Priority: t.Priority.String(), Timestamp: now})
	}

	var advice plan.Advice
	if e.detector != nil {
		advice, err = e.detector.Advise(ctx, g)
		if err != nil {
			log.Printf("WARNING: plan advice unavailable for graph %q: %v", graphID, err)
			advice, err = plan.Advice{}, nil
		}
	}
	return graphID, advice, nil
}

// Run executes the graph to completion: waves of ready tasks run
// concurrently under the configured limit, and the loop sleeps between
// waves while retry backoffs or open circuits hold tasks back. Returns
// the context error on cancellation; task failures are reflected in
// task state and events, not in the return value.
func (e *Engine) Run(ctx context.Context, graphID string) error {
	run := e.openRun(graphID)
	defer e.closeRun(graphID)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.store.Cancelled(graphID) {
			return nil
		}

		done, err := e.store.Done(graphID)
		if err != nil {
			return err
		}
		if done {
			break
		}

		ready, err := e.store.Ready(graphID)
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			if e.retries.Pending(graphID) > 0 {
				if err := e.waitWake(ctx, run); err != nil {
					return err
				}
				continue
			}
			// A retry callback may have requeued its task between the
			// Ready and Pending reads; look again before concluding.
			ready, err = e.store.Ready(graphID)
			if err != nil {
				return err
			}
			if len(ready) == 0 {
				// Nothing ready, nothing retrying, graph not done:
				// remaining tasks are held by in-flight state that no
				// longer exists. Treat as done to avoid spinning.
				break
			}
		}

		var progressed atomic.Bool
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.maxConcurrent)
		for _, t := range ready {
			t := t
			g.Go(func() error {
				if e.dispatch(gctx, graphID, t) {
					progressed.Store(true)
				}
				return nil
			})
		}
		_ = g.Wait()

		if !progressed.Load() {
			// The wave moved nothing: transient store rejections or
			// provider failures left every ready task in place. Back
			// off briefly instead of spinning.
			if err := e.waitWakeOrTimer(ctx, run, time.Second); err != nil {
				return err
			}
		}
	}

	e.finishGraph(ctx, graphID, run)
	return nil
}

// Cancel cancels a graph: pending retries are dropped, every
// non-terminal task is marked cancelled, and in-flight results will be
// discarded when they land.
func (e *Engine) Cancel(graphID string) error {
	e.retries.CancelGraph(graphID)
	cancelled, err := e.store.CancelGraph(graphID)
	if err != nil {
		return err
	}
	e.bus.Publish(events.GraphCancelled{GraphID: graphID, Cancelled: len(cancelled), Timestamp: e.now()})
	e.wake(graphID)
	return nil
}

// dispatch runs one ready task through match, circuit check, execution,
// and outcome recording. Errors terminate the task, not the engine.
// Returns false when the task was left ready untouched.
func (e *Engine) dispatch(ctx context.Context, graphID string, t *task.Task) bool {
	if ctx.Err() != nil {
		return false
	}

	res, err := e.matcher.Match(ctx, t, e.registry.Snapshot())
	if err != nil {
		e.bus.Publish(events.MatchFailed{GraphID: graphID, ID: t.ID, Reason: err.Error(), Timestamp: e.now()})
		if errors.Is(err, match.ErrNoEligibleExecutor) {
			e.failTerminal(graphID, t.ID, t.Attempts, "", err)
			return true
		}
		return false
	}
	executorID := res.Profile.ID

	// A circuit rejection consumes an attempt and goes through the
	// normal backoff schedule, never an immediate re-dispatch. No call
	// reached the executor, so neither the breaker window nor the
	// performance aggregates record a failure.
	if err := e.breakers.Allow(executorID, e.now()); err != nil {
		if merr := e.store.MarkDispatched(graphID, t.ID, executorID); merr != nil {
			log.Printf("ERROR: dispatch of task %q rejected: %v", t.ID, merr)
			return false
		}
		e.retryOrFail(graphID, t.ID, executorID, t.Attempts+1, err)
		return true
	}

	if err := e.store.MarkDispatched(graphID, t.ID, executorID); err != nil {
		log.Printf("ERROR: dispatch of task %q rejected: %v", t.ID, err)
		return false
	}
	attempt := t.Attempts + 1

	e.bus.Publish(events.MatchFound{
		GraphID:    graphID,
		ID:         t.ID,
		Executor:   executorID,
		Similarity: res.Record.Similarity,
		Score:      res.Record.Score,
		Fallback:   res.Record.Fallback,
		Timestamp:  e.now(),
	})
	if e.sink != nil {
		rec := res.Record
		rec.GraphID = graphID
		if err := e.sink.SaveMatch(ctx, rec); err != nil {
			log.Printf("WARNING: failed to persist match record for task %q: %v", t.ID, err)
		}
	}

	if err := e.store.MarkRunning(graphID, t.ID); err != nil {
		log.Printf("ERROR: task %q could not start: %v", t.ID, err)
		e.handleFailure(ctx, graphID, t.ID, executorID, attempt, res.Record.ID, 0, err)
		return true
	}
	e.bus.Publish(events.TaskStarted{GraphID: graphID, ID: t.ID, Executor: executorID, Attempt: attempt, Timestamp: e.now()})

	started := e.now()
	result, execErr := res.Profile.Runtime.Execute(ctx, t)
	duration := e.now().Sub(started)

	if e.store.Cancelled(graphID) {
		// Result arrived after a graph-level cancel; discard.
		return true
	}

	if execErr != nil {
		wrapped := &executor.Error{Executor: executorID, Err: execErr}
		e.handleFailure(ctx, graphID, t.ID, executorID, attempt, res.Record.ID, duration, wrapped)
		return true
	}

	e.breakers.RecordSuccess(executorID, e.now())
	if err := e.store.MarkCompleted(graphID, t.ID, result.Output); err != nil {
		log.Printf("ERROR: failed to complete task %q: %v", t.ID, err)
		return true
	}
	e.tracker.RecordOutcome(executorID, graphID, t.ID, true, duration, result.Quality)
	e.noteOutcome(graphID, executorID, result.Quality)
	e.bus.Publish(events.TaskCompleted{GraphID: graphID, ID: t.ID, Executor: executorID, Duration: duration, Timestamp: e.now()})
	if e.sink != nil {
		if err := e.sink.UpdateMatchOutcome(ctx, res.Record.ID, true); err != nil {
			log.Printf("WARNING: failed to record match outcome for task %q: %v", t.ID, err)
		}
	}
	return true
}

// handleFailure records a failed attempt against the breaker and the
// performance aggregates, then schedules a retry or terminally fails
// the task.
func (e *Engine) handleFailure(ctx context.Context, graphID, taskID, executorID string, attempt int, recordID string, duration time.Duration, execErr error) {
	e.breakers.RecordFailure(executorID, e.now())
	e.tracker.RecordOutcome(executorID, graphID, taskID+"#"+fmt.Sprint(attempt), false, duration, 0)
	e.noteOutcome(graphID, executorID, 0)
	if e.sink != nil && recordID != "" {
		if err := e.sink.UpdateMatchOutcome(ctx, recordID, false); err != nil {
			log.Printf("WARNING: failed to record match outcome for task %q: %v", taskID, err)
		}
	}
	e.retryOrFail(graphID, taskID, executorID, attempt, execErr)
}

// retryOrFail parks the task for another attempt when budget remains,
// terminally fails it otherwise.
func (e *Engine) retryOrFail(graphID, taskID, executorID string, attempt int, execErr error) {
	current, err := e.store.Get(graphID, taskID)
	if err != nil {
		log.Printf("ERROR: failed task %q vanished: %v", taskID, err)
		return
	}

	if current.Attempts < current.MaxAttempts {
		if err := e.store.MarkRetrying(graphID, taskID, execErr); err != nil {
			log.Printf("ERROR: failed to park task %q for retry: %v", taskID, err)
			return
		}
		e.bus.Publish(events.TaskFailed{
			GraphID: graphID, ID: taskID, Executor: executorID,
			Reason: execErr.Error(), Attempt: attempt, Terminal: false, Timestamp: e.now(),
		})
		delay := e.retries.Delay(current.Attempts)
		e.bus.Publish(events.TaskRetry{GraphID: graphID, ID: taskID, Attempt: attempt + 1, Delay: delay, Timestamp: e.now()})
		e.retries.Schedule(graphID, taskID, delay, func() {
			requeued, err := e.store.Requeue(graphID, taskID)
			if err != nil {
				log.Printf("ERROR: failed to requeue task %q: %v", taskID, err)
				return
			}
			if requeued {
				e.wake(graphID)
			}
		})
		return
	}

	e.failTerminal(graphID, taskID, attempt, executorID,
		&MaxAttemptsError{TaskID: taskID, Attempts: current.Attempts, Cause: execErr})
}

// failTerminal marks a task failed, publishes the terminal failure, and
// announces every dependent the failure blocked.
func (e *Engine) failTerminal(graphID, taskID string, attempt int, executorID string, cause error) {
	blocked, err := e.store.MarkFailed(graphID, taskID, cause)
	if err != nil {
		log.Printf("ERROR: failed to mark task %q failed: %v", taskID, err)
		return
	}
	e.bus.Publish(events.TaskFailed{
		GraphID: graphID, ID: taskID, Executor: executorID,
		Reason: cause.Error(), Attempt: attempt, Terminal: true, Timestamp: e.now(),
	})
	for _, id := range blocked {
		e.bus.Publish(events.TaskBlocked{GraphID: graphID, ID: id, FailedDep: taskID, Timestamp: e.now()})
	}
}

// finishGraph publishes the graph summary and records the run for
// future plan advice.
func (e *Engine) finishGraph(ctx context.Context, graphID string, run *graphRun) {
	tasks, err := e.store.Tasks(graphID)
	if err != nil {
		return
	}

	var completed, failed, blocked int
	var modifications []string
	for _, t := range tasks {
		switch t.Status {
		case task.StatusCompleted:
			completed++
		case task.StatusFailed:
			failed++
			modifications = append(modifications, "failed "+t.ID)
		case task.StatusBlocked:
			blocked++
		}
		if t.Attempts > 1 {
			modifications = append(modifications, "retried "+t.ID)
		}
	}
	sort.Strings(modifications)

	duration := e.now().Sub(run.start)
	successRate := 0.0
	if len(tasks) > 0 {
		successRate = float64(completed) / float64(len(tasks))
	}
	e.bus.Publish(events.GraphCompleted{
		GraphID:     graphID,
		Completed:   completed,
		Failed:      failed,
		Blocked:     blocked,
		SuccessRate: successRate,
		Duration:    duration,
		Timestamp:   e.now(),
	})

	if e.detector == nil {
		return
	}
	g, err := e.store.Graph(graphID)
	if err != nil {
		return
	}
	metrics := plan.Metrics{
		SuccessRate:      successRate,
		CompletionTime:   duration,
		QualityScore:     run.avgQuality(),
		AgentUtilization: run.utilization(e.registry.Len()),
	}
	p, err := e.detector.Record(ctx, g, metrics, modifications)
	if err != nil {
		log.Printf("WARNING: failed to record plan for graph %q: %v", graphID, err)
		return
	}
	e.bus.Publish(events.PlanRecorded{GraphID: graphID, PlanID: p.ID, Timestamp: e.now()})
}

func (e *Engine) openRun(graphID string) *graphRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, exists := e.runs[graphID]
	if !exists {
		run = &graphRun{
			start:     e.now(),
			wake:      make(chan struct{}, 1),
			executors: make(map[string]bool),
		}
		e.runs[graphID] = run
	}
	return run
}

func (e *Engine) closeRun(graphID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, graphID)
}

// wake nudges the graph's run loop. Safe when no loop is waiting.
func (e *Engine) wake(graphID string) {
	e.mu.Lock()
	run, exists := e.runs[graphID]
	e.mu.Unlock()
	if !exists {
		return
	}
	select {
	case run.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) waitWake(ctx context.Context, run *graphRun) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.wake:
		return nil
	}
}

func (e *Engine) waitWakeOrTimer(ctx context.Context, run *graphRun, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.wake:
		return nil
	case <-timer.C:
		return nil
	}
}

func (e *Engine) noteOutcome(graphID, executorID string, quality float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	run, exists := e.runs[graphID]
	if !exists {
		return
	}
	run.qualitySum += quality
	run.qualityN++
	run.executors[executorID] = true
}

func (r *graphRun) avgQuality() float64 {
	if r.qualityN == 0 {
		return 0
	}
	return r.qualitySum / float64(r.qualityN)
}

func (r *graphRun) utilization(poolSize int) float64 {
	if poolSize <= 0 {
		return 0
	}
	u := float64(len(r.executors)) / float64(poolSize)
	if u > 1 {
		u = 1
	}
	return u
}
