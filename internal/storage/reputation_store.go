package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/arbiterlabs/arbiter/internal/reputation"
)

// SaveScore upserts the durable copy of an agent's reputation score. The
// ledger's in-memory view stays authoritative during a session; this is the
// write-through sink. Implements reputation.Store.
func (d *DB) SaveScore(s *reputation.Score) error {
	_, err := d.db.Exec(
		`INSERT INTO reputation_scores (agent_id, credit, total_tasks, successful_tasks, outlier_count, active, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		   credit = excluded.credit,
		   total_tasks = excluded.total_tasks,
		   successful_tasks = excluded.successful_tasks,
		   outlier_count = excluded.outlier_count,
		   active = excluded.active,
		   last_updated = excluded.last_updated`,
		s.AgentID, s.Credit, s.TotalTasks, s.SuccessfulTasks, s.OutlierCount,
		boolToInt(s.Active), s.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("save score: %w", err)
	}
	return nil
}

// GetScore retrieves an agent's persisted score, or (nil, nil) when the
// agent is unknown.
func (d *DB) GetScore(agentID string) (*reputation.Score, error) {
	s := &reputation.Score{}
	var active int
	err := d.db.QueryRow(
		`SELECT agent_id, credit, total_tasks, successful_tasks, outlier_count, active, last_updated
		 FROM reputation_scores WHERE agent_id = ?`, agentID,
	).Scan(&s.AgentID, &s.Credit, &s.TotalTasks, &s.SuccessfulTasks,
		&s.OutlierCount, &active, &s.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get score: %w", err)
	}
	s.Active = active == 1
	return s, nil
}

// ListScores returns all persisted scores.
func (d *DB) ListScores() ([]reputation.Score, error) {
	rows, err := d.db.Query(
		`SELECT agent_id, credit, total_tasks, successful_tasks, outlier_count, active, last_updated
		 FROM reputation_scores ORDER BY credit DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list scores: %w", err)
	}
	defer rows.Close()

	var scores []reputation.Score
	for rows.Next() {
		var s reputation.Score
		var active int
		if err := rows.Scan(&s.AgentID, &s.Credit, &s.TotalTasks, &s.SuccessfulTasks,
			&s.OutlierCount, &active, &s.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		s.Active = active == 1
		scores = append(scores, s)
	}
	return scores, rows.Err()
}
