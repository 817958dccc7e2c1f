package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aristath/dispatch/internal/match"
)

// SaveMatch stores one match decision. The outcome stays NULL until
// UpdateMatchOutcome reports it.
func (s *SQLiteStore) SaveMatch(ctx context.Context, rec match.Record) error {
	embedding, err := json.Marshal(rec.Embedding)
	if err != nil {
		return fmt.Errorf("failed to encode embedding for match %q: %w", rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO match_records (id, graph_id, task_id, executor_id,
			similarity, score, capability_fallback, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.GraphID, rec.TaskID, rec.ExecutorID,
		rec.Similarity, rec.Score, rec.Fallback, string(embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save match record %q: %w", rec.ID, err)
	}
	return nil
}

// UpdateMatchOutcome records whether the matched execution succeeded.
// Unknown record IDs are ignored.
func (s *SQLiteStore) UpdateMatchOutcome(ctx context.Context, recordID string, success bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE match_records SET success = ? WHERE id = ?`, success, recordID)
	if err != nil {
		return fmt.Errorf("failed to update match outcome %q: %w", recordID, err)
	}
	return nil
}

// MatchOutcome reports the stored outcome for a match record. The
// second return is false while no outcome has been recorded.
func (s *SQLiteStore) MatchOutcome(ctx context.Context, recordID string) (success, reported bool, err error) {
	var stored *bool
	err = s.db.QueryRowContext(ctx, `
		SELECT success FROM match_records WHERE id = ?`, recordID).Scan(&stored)
	if err != nil {
		return false, false, fmt.Errorf("failed to read match outcome %q: %w", recordID, err)
	}
	if stored == nil {
		return false, false, nil
	}
	return *stored, true, nil
}
