package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/dispatch/internal/breaker"
	"github.com/aristath/dispatch/internal/config"
	"github.com/aristath/dispatch/internal/embed"
	"github.com/aristath/dispatch/internal/engine"
	"github.com/aristath/dispatch/internal/events"
	"github.com/aristath/dispatch/internal/executor"
	"github.com/aristath/dispatch/internal/match"
	"github.com/aristath/dispatch/internal/persistence"
	"github.com/aristath/dispatch/internal/plan"
	"github.com/aristath/dispatch/internal/retry"
	"github.com/aristath/dispatch/internal/task"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <graph.json>\n", os.Args[0])
		os.Exit(2)
	}

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, graphPath string) error {
	// Load configuration
	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Read the graph
	data, err := os.ReadFile(graphPath)
	if err != nil {
		return fmt.Errorf("reading graph: %w", err)
	}
	var graph task.Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return fmt.Errorf("parsing graph %s: %w", graphPath, err)
	}

	// Open the store
	store, err := persistence.NewSQLiteStore(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer store.Close()

	// Event bus with audit trail
	bus := events.NewBus()
	defer bus.Close()
	recorder := persistence.NewAuditRecorder(store, bus)
	recorder.Start(context.Background())

	// Executor pool from config
	registry := executor.NewRegistry()
	for id, ec := range cfg.Executors {
		registry.Register(executor.Profile{
			ID:           id,
			Capabilities: ec.Capabilities,
			Runtime: &executor.CommandRuntime{
				Command: ec.Command,
				Args:    ec.Args,
				Timeout: time.Duration(ec.Timeout),
			},
		})
	}

	// Embedding provider with TTL cache
	provider := embed.NewCachedProvider(
		&embed.HashProvider{Dims: cfg.Matcher.EmbeddingDims},
		embed.CacheConfig{TTL: time.Duration(cfg.Matcher.EmbeddingCacheTTL)},
	)

	detector := plan.NewDetector(plan.Config{
		SimilarityThreshold: cfg.Plans.SimilarityThreshold,
		HintSupport:         cfg.Plans.HintSupport,
	}, provider, store)

	eng := engine.New(engine.Options{
		MaxConcurrent:      cfg.Scheduler.MaxConcurrent,
		DefaultMaxAttempts: cfg.Scheduler.DefaultMaxAttempts,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Window:           time.Duration(cfg.Breaker.Window),
			OpenTimeout:      time.Duration(cfg.Breaker.OpenTimeout),
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
		},
		Retry: retry.Config{
			Base:   time.Duration(cfg.Retry.Base),
			Max:    time.Duration(cfg.Retry.Max),
			Jitter: cfg.Retry.Jitter,
		},
		Matcher: match.Config{
			PerformanceWeight:   cfg.Matcher.PerformanceWeight,
			SimilarityThreshold: cfg.Matcher.SimilarityThreshold,
			SpeedBaseline:       time.Duration(cfg.Matcher.SpeedBaseline),
		},
		Registry: registry,
		Provider: provider,
		Bus:      bus,
		Detector: detector,
		Sink:     store,
	})
	defer eng.Close()

	// Print task lifecycle as it happens
	progress := bus.SubscribeAll(1024)
	printDone := make(chan struct{})
	go func() {
		defer close(printDone)
		for ev := range progress {
			printEvent(ev)
		}
	}()

	graphID, advice, err := eng.Submit(ctx, &graph)
	if err != nil {
		return fmt.Errorf("submitting graph: %w", err)
	}
	log.Printf("graph %s accepted with %d tasks", graphID, len(graph.Tasks))
	for _, hint := range advice.Hints {
		log.Printf("hint from %d similar past runs: %s", len(advice.SimilarPlans), hint)
	}

	// Cancel the graph on shutdown signal so in-flight work stops cleanly
	go func() {
		<-ctx.Done()
		if err := eng.Cancel(graphID); err != nil {
			log.Printf("WARNING: cancel failed: %v", err)
		}
	}()

	if err := eng.Run(context.Background(), graphID); err != nil {
		return fmt.Errorf("running graph: %w", err)
	}

	// Flush remaining events to the audit trail and the console
	bus.Close()
	recorder.Wait()
	<-printDone

	tasks, err := eng.Store().Tasks(graphID)
	if err != nil {
		return err
	}
	var failed int
	for _, t := range tasks {
		if t.Status != task.StatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks did not complete", failed, len(tasks))
	}
	log.Printf("graph %s completed: %d tasks", graphID, len(tasks))
	return nil
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskStarted:
		log.Printf("task %s started on %s (attempt %d)", e.ID, e.Executor, e.Attempt)
	case events.TaskCompleted:
		log.Printf("task %s completed on %s in %s", e.ID, e.Executor, e.Duration.Round(time.Millisecond))
	case events.TaskFailed:
		if e.Terminal {
			log.Printf("task %s failed permanently: %s", e.ID, e.Reason)
		} else {
			log.Printf("task %s failed (attempt %d): %s", e.ID, e.Attempt, e.Reason)
		}
	case events.TaskRetry:
		log.Printf("task %s retrying in %s (attempt %d)", e.ID, e.Delay.Round(time.Millisecond), e.Attempt)
	case events.TaskBlocked:
		log.Printf("task %s blocked by failed dependency %s", e.ID, e.FailedDep)
	case events.CircuitOpened:
		log.Printf("circuit opened for executor %s after %d failures", e.Executor, e.Failures)
	case events.CircuitClosed:
		log.Printf("circuit closed for executor %s", e.Executor)
	case events.GraphCompleted:
		log.Printf("graph %s finished: %d completed, %d failed, %d blocked (%.0f%% success)",
			e.GraphID, e.Completed, e.Failed, e.Blocked, e.SuccessRate*100)
	case events.GraphCancelled:
		log.Printf("graph %s cancelled (%d tasks)", e.GraphID, e.Cancelled)
	}
}
