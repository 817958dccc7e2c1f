package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesTopicEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 8)
	circuitCh := bus.Subscribe(TopicCircuit, 8)

	bus.Publish(TaskStarted{GraphID: "g1", ID: "t1", Executor: "e1", Timestamp: time.Now()})
	bus.Publish(CircuitOpened{Executor: "e1", Failures: 5, Timestamp: time.Now()})

	select {
	case evt := <-taskCh:
		if evt.EventType() != EventTypeTaskStarted {
			t.Errorf("task topic received %s, want task_started", evt.EventType())
		}
		if evt.TaskID() != "t1" {
			t.Errorf("TaskID() = %s, want t1", evt.TaskID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for task event")
	}

	select {
	case evt := <-circuitCh:
		if evt.EventType() != EventTypeCircuitOpened {
			t.Errorf("circuit topic received %s, want circuit_opened", evt.EventType())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for circuit event")
	}

	// Topic isolation: no further events on either channel
	select {
	case evt := <-taskCh:
		t.Errorf("unexpected event on task topic: %s", evt.EventType())
	default:
	}
}

func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(8)

	bus.Publish(TaskAdded{GraphID: "g1", ID: "t1", Timestamp: time.Now()})
	bus.Publish(MatchFound{GraphID: "g1", ID: "t1", Executor: "e1", Timestamp: time.Now()})
	bus.Publish(PerformanceUpdated{Executor: "e1", Timestamp: time.Now()})

	want := []string{EventTypeTaskAdded, EventTypeMatchFound, EventTypePerformanceUpdated}
	for _, wantType := range want {
		select {
		case evt := <-all:
			if evt.EventType() != wantType {
				t.Errorf("received %s, want %s", evt.EventType(), wantType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", wantType)
		}
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 64)

	for i := 0; i < 10; i++ {
		bus.Publish(TaskStarted{GraphID: "g1", ID: "t1", Attempt: i + 1})
	}

	for i := 0; i < 10; i++ {
		select {
		case evt := <-ch:
			started, ok := evt.(TaskStarted)
			if !ok {
				t.Fatalf("received %T, want TaskStarted", evt)
			}
			if started.Attempt != i+1 {
				t.Errorf("event %d has attempt %d, out of order", i, started.Attempt)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out draining events")
		}
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 1)

	// Second publish must not block even though nobody drains the channel
	done := make(chan struct{})
	go func() {
		bus.Publish(TaskAdded{ID: "t1"})
		bus.Publish(TaskAdded{ID: "t2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	evt := <-ch
	if evt.TaskID() != "t1" {
		t.Errorf("kept event = %s, want t1", evt.TaskID())
	}
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTask, 8)

	bus.Close()
	bus.Close() // Must not panic

	// Publishing after close is a no-op
	bus.Publish(TaskAdded{ID: "t1"})

	if _, open := <-ch; open {
		t.Error("subscriber channel still open after Close")
	}

	// Subscriptions after close return closed channels
	late := bus.Subscribe(TopicTask, 8)
	if _, open := <-late; open {
		t.Error("late subscription returned an open channel")
	}
}
