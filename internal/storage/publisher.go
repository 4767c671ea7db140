package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arbiterlabs/arbiter/internal/aggregate"
	"github.com/arbiterlabs/arbiter/internal/defense"
)

// Receipt acknowledges a published consensus result.
type Receipt struct {
	ID          string `json:"id"`
	SessionID   string `json:"session_id"`
	PublishedAt int64  `json:"published_at"`
}

// Publisher is the external ledger boundary: one Publish call per finalized
// result. The consensus core does not retry publication; a failure is
// non-fatal to the in-memory session outcome.
type Publisher interface {
	Publish(result *aggregate.Result) (Receipt, error)
}

// Publish durably records a finalized result with its evidence and returns
// a receipt. Implements Publisher.
func (d *DB) Publish(result *aggregate.Result) (Receipt, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal result: %w", err)
	}

	now := time.Now().UnixMilli()
	_, err = d.db.Exec(
		`INSERT INTO consensus_results (session_id, consensus_value, consensus_similarity, pass_rate, degenerate, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.SessionID, result.ConsensusValue, result.ConsensusSimilarity,
		result.PassRate, boolToInt(result.Degenerate), payload, now,
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("insert result: %w", err)
	}

	for i := range result.Evidence {
		if err := d.AppendEvidence(&result.Evidence[i]); err != nil {
			return Receipt{}, err
		}
	}

	receipt := Receipt{
		ID:          uuid.New().String(),
		SessionID:   result.SessionID,
		PublishedAt: now,
	}
	_, err = d.db.Exec(
		`INSERT INTO receipts (id, session_id, published_at) VALUES (?, ?, ?)`,
		receipt.ID, receipt.SessionID, receipt.PublishedAt,
	)
	if err != nil {
		return Receipt{}, fmt.Errorf("insert receipt: %w", err)
	}
	return receipt, nil
}

// GetResult retrieves a published result by session, or (nil, nil) when the
// session has no published result.
func (d *DB) GetResult(sessionID string) (*aggregate.Result, error) {
	var payload []byte
	err := d.db.QueryRow(
		`SELECT payload FROM consensus_results WHERE session_id = ?`, sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}

	var result aggregate.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

// AppendEvidence durably records one evidence item. Idempotent on evidence
// ID so republication never duplicates the log.
func (d *DB) AppendEvidence(ev *defense.Evidence) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal evidence: %w", err)
	}
	_, err = d.db.Exec(
		`INSERT OR IGNORE INTO evidence_log (id, session_id, kind, severity, payload, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, string(ev.Kind), ev.Severity, payload, ev.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

// ListEvidence returns all persisted evidence for a session, oldest first.
func (d *DB) ListEvidence(sessionID string) ([]defense.Evidence, error) {
	rows, err := d.db.Query(
		`SELECT payload FROM evidence_log WHERE session_id = ? ORDER BY detected_at`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []defense.Evidence
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		var ev defense.Evidence
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
