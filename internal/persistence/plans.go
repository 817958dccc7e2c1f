package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/dispatch/internal/plan"
)

// SavePlan stores a recorded plan and its modifications in one
// transaction. The embedding is stored as a JSON array.
func (s *SQLiteStore) SavePlan(ctx context.Context, p plan.Plan) error {
	embedding, err := json.Marshal(p.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding for plan %q: %w", p.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO plans (id, graph_id, summary, embedding, success_rate,
			completion_time_ns, quality_score, agent_utilization, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.GraphID, p.Summary, string(embedding),
		p.Metrics.SuccessRate, int64(p.Metrics.CompletionTime),
		p.Metrics.QualityScore, p.Metrics.AgentUtilization, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save plan %q: %w", p.ID, err)
	}

	for _, mod := range p.Modifications {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plan_modifications (plan_id, modification)
			VALUES (?, ?)`, p.ID, mod); err != nil {
			return fmt.Errorf("failed to save plan modification: %w", err)
		}
	}

	return tx.Commit()
}

// ListPlans returns all recorded plans, oldest first, with their
// modifications attached.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]plan.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, graph_id, summary, embedding, success_rate,
			completion_time_ns, quality_score, agent_utilization, created_at
		FROM plans ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []plan.Plan
	for rows.Next() {
		var p plan.Plan
		var embedding string
		var completionNS int64
		if err := rows.Scan(&p.ID, &p.GraphID, &p.Summary, &embedding,
			&p.Metrics.SuccessRate, &completionNS,
			&p.Metrics.QualityScore, &p.Metrics.AgentUtilization, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &p.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding for plan %q: %w", p.ID, err)
		}
		p.Metrics.CompletionTime = time.Duration(completionNS)
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range plans {
		mods, err := s.planModifications(ctx, plans[i].ID)
		if err != nil {
			return nil, err
		}
		plans[i].Modifications = mods
	}
	return plans, nil
}

func (s *SQLiteStore) planModifications(ctx context.Context, planID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT modification FROM plan_modifications
		WHERE plan_id = ? ORDER BY id`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to list modifications for plan %q: %w", planID, err)
	}
	defer rows.Close()

	var mods []string
	for rows.Next() {
		var mod string
		if err := rows.Scan(&mod); err != nil {
			return nil, fmt.Errorf("failed to scan modification row: %w", err)
		}
		mods = append(mods, mod)
	}
	return mods, rows.Err()
}
