package aggregate

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/arbiterlabs/arbiter/internal/fingerprint"
	"github.com/arbiterlabs/arbiter/internal/reputation"
)

func response(agentID string, base float64, causal ...float64) *fingerprint.AgentResponse {
	return &fingerprint.AgentResponse{
		AgentID:            agentID,
		InterventionVector: make([]float64, len(causal)),
		CausalResponse:     causal,
		BasePrediction:     base,
	}
}

func TestOutlierPartition(t *testing.T) {
	ledger := reputation.NewLedger(nil)
	agg := New(ledger, DefaultSimilarityThreshold, MethodMean)

	// Three agreeing agents and one pointing the other way.
	responses := []*fingerprint.AgentResponse{
		response("a", 10, 1.0, 0.1),
		response("b", 10, 0.9, 0.12),
		response("c", 10, 1.1, 0.09),
		response("rogue", 99, -1.0, -0.1),
	}

	result, err := agg.Aggregate("s1", responses, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if !reflect.DeepEqual(result.ValidAgents, []string{"a", "b", "c"}) {
		t.Fatalf("valid = %v", result.ValidAgents)
	}
	if !reflect.DeepEqual(result.Outliers, []string{"rogue"}) {
		t.Fatalf("outliers = %v", result.Outliers)
	}
	if result.PassRate != 0.75 {
		t.Fatalf("pass rate = %v, want 0.75", result.PassRate)
	}
	if result.Degenerate {
		t.Fatal("result should not be degenerate")
	}

	// The rogue's base prediction of 99 must not leak into the value.
	if result.ConsensusValue > 15 {
		t.Fatalf("consensus value = %v, rogue leaked in", result.ConsensusValue)
	}

	// Centroid covers the valid set only: mean of (1,0.1), (0.9,0.12), (1.1,0.09).
	want := []float64{1.0, 0.31 / 3}
	if len(result.Centroid) != 2 ||
		math.Abs(result.Centroid[0]-want[0]) > 1e-9 ||
		math.Abs(result.Centroid[1]-want[1]) > 1e-9 {
		t.Fatalf("centroid = %v, want %v", result.Centroid, want)
	}
	if len(result.SpectralFeatures) != 3 {
		t.Fatalf("spectral features = %v, want 3 values", result.SpectralFeatures)
	}
	if result.Method != MethodMean {
		t.Fatalf("method = %q, want %q", result.Method, MethodMean)
	}

	// Valid agents earned rewards; the rogue earned nothing.
	for _, agent := range []string{"a", "b", "c"} {
		if credit := ledger.Credit(agent); credit <= reputation.InitialCredit {
			t.Fatalf("credit for %s = %v, want above initial", agent, credit)
		}
	}
	if _, ok := ledger.Get("rogue"); ok {
		t.Fatal("rogue should have no ledger entry")
	}
}

func TestAggregateDeterministic(t *testing.T) {
	responses := []*fingerprint.AgentResponse{
		response("c", 5, 0.5, 0.5),
		response("a", 5, 0.52, 0.48),
		response("b", 5, 0.48, 0.53),
	}
	reversed := []*fingerprint.AgentResponse{responses[2], responses[1], responses[0]}

	r1, err := New(reputation.NewLedger(nil), 0.3, MethodMean).Aggregate("s1", responses, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	r2, err := New(reputation.NewLedger(nil), 0.3, MethodMean).Aggregate("s1", reversed, nil)
	if err != nil {
		t.Fatalf("aggregate reversed: %v", err)
	}

	if r1.ConsensusValue != r2.ConsensusValue {
		t.Fatalf("values differ: %v vs %v", r1.ConsensusValue, r2.ConsensusValue)
	}
	if !reflect.DeepEqual(r1.ValidAgents, r2.ValidAgents) {
		t.Fatalf("partitions differ: %v vs %v", r1.ValidAgents, r2.ValidAgents)
	}
}

func TestDegenerateFallback(t *testing.T) {
	ledger := reputation.NewLedger(nil)
	agg := New(ledger, DefaultSimilarityThreshold, MethodMean)

	// Mutually orthogonal-or-worse fingerprints: nobody clears the bar.
	responses := []*fingerprint.AgentResponse{
		response("a", 4, 1, 0, 0),
		response("b", 6, 0, 1, 0),
		response("c", 8, -1, -1, 0),
	}

	result, err := agg.Aggregate("s1", responses, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !result.Degenerate {
		t.Fatal("expected degenerate fallback")
	}
	if len(result.ValidAgents) != 3 || len(result.Outliers) != 0 {
		t.Fatalf("partition = %v / %v", result.ValidAgents, result.Outliers)
	}
	if result.PassRate != 1 {
		t.Fatalf("pass rate = %v, want 1", result.PassRate)
	}
}

func TestInsufficientReveals(t *testing.T) {
	agg := New(reputation.NewLedger(nil), 0.3, MethodMean)
	_, err := agg.Aggregate("s1", []*fingerprint.AgentResponse{response("a", 1, 1)}, nil)
	if !errors.Is(err, ErrInsufficientValidReveals) {
		t.Fatalf("err = %v, want %v", err, ErrInsufficientValidReveals)
	}
}

func TestConsensusValueIsMeanOfSummaries(t *testing.T) {
	agg := New(reputation.NewLedger(nil), 0.3, MethodMean)

	// Summaries: 10 + mean(1,1) = 11 and 12 + mean(0.9,1.1) = 13.
	responses := []*fingerprint.AgentResponse{
		response("a", 10, 1, 1),
		response("b", 12, 0.9, 1.1),
	}
	result, err := agg.Aggregate("s1", responses, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if math.Abs(result.ConsensusValue-12) > 1e-9 {
		t.Fatalf("consensus value = %v, want 12", result.ConsensusValue)
	}
}

func TestWeightedConsensusFollowsVotingWeight(t *testing.T) {
	ledger := reputation.NewLedger(nil)
	ledger.Seed(reputation.Score{AgentID: "veteran", Credit: 800, TotalTasks: 99, Active: true})
	ledger.Seed(reputation.Score{AgentID: "rookie", Credit: 500, TotalTasks: 0, Active: true})
	agg := New(ledger, 0.3, MethodWeightedMean)

	// Summaries: veteran 10 + 1 = 11, rookie 12 + 1 = 13. The rookie has no
	// completed tasks, so its voting weight is zero and the veteran's
	// summary carries the value alone.
	responses := []*fingerprint.AgentResponse{
		response("veteran", 10, 1, 1),
		response("rookie", 12, 0.9, 1.1),
	}
	result, err := agg.Aggregate("s1", responses, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if math.Abs(result.ConsensusValue-11) > 1e-9 {
		t.Fatalf("consensus value = %v, want 11", result.ConsensusValue)
	}
	if result.Method != MethodWeightedMean {
		t.Fatalf("method = %q", result.Method)
	}
}

func TestWeightedConsensusUnscoredCommitteeIsUniform(t *testing.T) {
	agg := New(reputation.NewLedger(nil), 0.3, MethodWeightedMean)

	// No agent has a ledger entry: all weights are zero, so the weighted
	// mean must degrade to the plain mean instead of erroring out.
	responses := []*fingerprint.AgentResponse{
		response("a", 10, 1, 1),
		response("b", 12, 0.9, 1.1),
	}
	result, err := agg.Aggregate("s1", responses, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if math.Abs(result.ConsensusValue-12) > 1e-9 {
		t.Fatalf("consensus value = %v, want 12", result.ConsensusValue)
	}
}
