package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/arbiterlabs/arbiter/internal/aggregate"
	"github.com/arbiterlabs/arbiter/internal/defense"
	"github.com/arbiterlabs/arbiter/internal/reputation"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(t.TempDir() + "/arbiter.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestScoreRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	score := &reputation.Score{
		AgentID:         "agent-1",
		Credit:          612.5,
		TotalTasks:      40,
		SuccessfulTasks: 37,
		OutlierCount:    3,
		Active:          true,
		LastUpdated:     1_700_000_000_000,
	}
	require.NoError(t, db.SaveScore(score))

	got, err := db.GetScore("agent-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, score.Credit, got.Credit)
	require.Equal(t, score.TotalTasks, got.TotalTasks)
	require.True(t, got.Active)

	// Upsert replaces, never duplicates.
	score.Credit = 580
	score.Active = false
	require.NoError(t, db.SaveScore(score))

	got, err = db.GetScore("agent-1")
	require.NoError(t, err)
	require.Equal(t, 580.0, got.Credit)
	require.False(t, got.Active)

	scores, err := db.ListScores()
	require.NoError(t, err)
	require.Len(t, scores, 1)
}

func TestGetScoreUnknownAgent(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetScore("ghost")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListScoresOrderedByCredit(t *testing.T) {
	db := setupTestDB(t)
	for _, s := range []reputation.Score{
		{AgentID: "low", Credit: 100, Active: true},
		{AgentID: "high", Credit: 900, Active: true},
		{AgentID: "mid", Credit: 500, Active: true},
	} {
		s := s
		require.NoError(t, db.SaveScore(&s))
	}

	scores, err := db.ListScores()
	require.NoError(t, err)
	require.Len(t, scores, 3)
	require.Equal(t, "high", scores[0].AgentID)
	require.Equal(t, "low", scores[2].AgentID)
}

func TestPublishAndGetResult(t *testing.T) {
	db := setupTestDB(t)

	result := &aggregate.Result{
		SessionID:           "sess-1",
		ConsensusValue:      12.34,
		ConsensusSimilarity: 0.91,
		ValidAgents:         []string{"a", "b"},
		Outliers:            []string{"c"},
		PassRate:            2.0 / 3.0,
		Evidence: []defense.Evidence{
			{
				ID:         uuid.New().String(),
				SessionID:  "sess-1",
				Kind:       defense.KindCollusion,
				Severity:   0.9,
				DetectedAt: 1_700_000_000_000,
				Collusion:  &defense.CollusionDetail{AgentA: "a", AgentB: "c", Similarity: 0.9},
			},
		},
	}

	receipt, err := db.Publish(result)
	require.NoError(t, err)
	require.NotEmpty(t, receipt.ID)
	require.Equal(t, "sess-1", receipt.SessionID)

	got, err := db.GetResult("sess-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, result.ConsensusValue, got.ConsensusValue)
	require.Equal(t, result.ValidAgents, got.ValidAgents)
	require.Len(t, got.Evidence, 1)

	// No result for an unknown session.
	missing, err := db.GetResult("nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestAppendEvidenceIdempotent(t *testing.T) {
	db := setupTestDB(t)

	ev := defense.Evidence{
		ID:         uuid.New().String(),
		SessionID:  "sess-1",
		Kind:       defense.KindTiming,
		Severity:   0.6,
		DetectedAt: 1_700_000_000_000,
		Timing:     &defense.TimingDetail{AgentID: "a", ObservedMS: 40, MinMS: 100},
	}
	require.NoError(t, db.AppendEvidence(&ev))
	require.NoError(t, db.AppendEvidence(&ev)) // same ID, ignored

	list, err := db.ListEvidence("sess-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, defense.KindTiming, list[0].Kind)
	require.Equal(t, "a", list[0].Timing.AgentID)
}
