package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		event_type TEXT NOT NULL,
		task_id TEXT,
		payload TEXT NOT NULL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic, id);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		graph_id TEXT NOT NULL,
		summary TEXT NOT NULL,
		embedding TEXT NOT NULL,
		success_rate REAL NOT NULL,
		completion_time_ns INTEGER NOT NULL,
		quality_score REAL NOT NULL,
		agent_utilization REAL NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plans_graph_id ON plans(graph_id);

	CREATE TABLE IF NOT EXISTS plan_modifications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id TEXT NOT NULL,
		modification TEXT NOT NULL,
		FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_plan_modifications_plan_id ON plan_modifications(plan_id);

	CREATE TABLE IF NOT EXISTS match_records (
		id TEXT PRIMARY KEY,
		graph_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		executor_id TEXT NOT NULL,
		similarity REAL NOT NULL,
		score REAL NOT NULL,
		capability_fallback INTEGER NOT NULL,
		embedding TEXT,
		success INTEGER,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_match_records_task ON match_records(graph_id, task_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
