package persistence

import (
	"context"
	"log"

	"github.com/aristath/dispatch/internal/events"
)

// AuditRecorder drains the event bus into the store so every lifecycle
// event survives a restart. Write failures are logged, never fatal:
// the audit trail must not stall dispatch.
type AuditRecorder struct {
	store Store
	ch    <-chan events.Event
	done  chan struct{}
}

// NewAuditRecorder subscribes to all topics on the bus. Call Start to
// begin draining.
func NewAuditRecorder(store Store, bus *events.Bus) *AuditRecorder {
	return &AuditRecorder{
		store: store,
		ch:    bus.SubscribeAll(1024),
		done:  make(chan struct{}),
	}
}

// Start drains events in a background goroutine until the bus closes or
// the context is cancelled.
func (r *AuditRecorder) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-r.ch:
				if !ok {
					return
				}
				if err := r.store.RecordEvent(ctx, ev); err != nil {
					log.Printf("WARNING: failed to record %s event: %v", ev.EventType(), err)
				}
			}
		}
	}()
}

// Wait blocks until the recorder has stopped.
func (r *AuditRecorder) Wait() {
	<-r.done
}
