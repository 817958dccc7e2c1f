package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/dispatch/internal/events"
)

// StoredEvent is one row of the audit trail.
type StoredEvent struct {
	ID         int64
	Topic      string
	EventType  string
	TaskID     string
	Payload    string
	RecordedAt time.Time
}

// RecordEvent appends one event to the audit trail. The full event is
// stored as JSON so new event fields never require a migration.
func (s *SQLiteStore) RecordEvent(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event %q: %w", ev.EventType(), err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (topic, event_type, task_id, payload)
		VALUES (?, ?, ?, ?)`,
		ev.Topic(), ev.EventType(), ev.TaskID(), string(payload))
	if err != nil {
		return fmt.Errorf("failed to record event %q: %w", ev.EventType(), err)
	}
	return nil
}

// ListEvents returns the newest events first, optionally filtered by
// topic. A non-positive limit returns up to 100 rows.
func (s *SQLiteStore) ListEvents(ctx context.Context, topic string, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, topic, event_type, task_id, payload, recorded_at
		FROM events`
	args := []any{}
	if topic != "" {
		query += ` WHERE topic = ?`
		args = append(args, topic)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.EventType, &ev.TaskID, &ev.Payload, &ev.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
