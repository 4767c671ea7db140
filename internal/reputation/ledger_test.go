package reputation

import (
	"math"
	"testing"
)

func TestCreditBounds(t *testing.T) {
	l := NewLedger(nil)

	s := l.ApplyPenalty("a", 10_000, "massive penalty")
	if s.Credit != MinCredit {
		t.Fatalf("credit = %v, want saturated at %v", s.Credit, MinCredit)
	}

	s = l.ApplyReward("a", 10_000, "massive reward")
	if s.Credit != MaxCredit {
		t.Fatalf("credit = %v, want saturated at %v", s.Credit, MaxCredit)
	}

	// Sign of the delta argument is irrelevant; the direction comes from
	// the entry point.
	s = l.ApplyPenalty("b", -40, "negative delta penalty")
	if s.Credit != InitialCredit-40 {
		t.Fatalf("credit = %v, want %v", s.Credit, InitialCredit-40)
	}
}

func TestUnknownAgentStartsAtInitialCredit(t *testing.T) {
	l := NewLedger(nil)
	if got := l.Credit("never-seen"); got != InitialCredit {
		t.Fatalf("credit = %v, want %v", got, InitialCredit)
	}
	if _, ok := l.Get("never-seen"); ok {
		t.Fatal("Credit must not materialize a score")
	}
}

func TestPenaltyAndRewardCounters(t *testing.T) {
	l := NewLedger(nil)
	l.ApplyReward("a", 10, "consensus reward")
	l.ApplyReward("a", 10, "consensus reward")
	s := l.ApplyPenalty("a", 30, "timing")

	if s.TotalTasks != 3 || s.SuccessfulTasks != 2 || s.OutlierCount != 1 {
		t.Fatalf("counters = %d/%d/%d, want 3/2/1", s.TotalTasks, s.SuccessfulTasks, s.OutlierCount)
	}
	if got := s.SuccessRate(); math.Abs(got-2.0/3.0) > 1e-9 {
		t.Fatalf("success rate = %v", got)
	}
}

func TestDeactivationRule(t *testing.T) {
	l := NewLedger(nil)

	// 11 outliers with no successes: past the outlier count and under the
	// success-rate bar.
	var s Score
	for i := 0; i < 11; i++ {
		s = l.ApplyPenalty("a", 1, "outlier")
	}
	if s.Active {
		t.Fatal("agent should be deactivated")
	}
	if s.VotingWeight() != 0 {
		t.Fatalf("deactivated voting weight = %v, want 0", s.VotingWeight())
	}

	// A mostly successful agent survives the same outlier count.
	for i := 0; i < 20; i++ {
		l.ApplyReward("b", 1, "reward")
	}
	for i := 0; i < 11; i++ {
		s = l.ApplyPenalty("b", 1, "outlier")
	}
	if !s.Active {
		t.Fatal("agent with majority successes should stay active")
	}
}

func TestVotingWeight(t *testing.T) {
	s := &Score{AgentID: "a", Credit: 500, TotalTasks: 9, Active: true}
	want := 500 * math.Log(10) / 10
	if got := s.VotingWeight(); math.Abs(got-want) > 1e-9 {
		t.Fatalf("weight = %v, want %v", got, want)
	}

	fresh := &Score{AgentID: "b", Credit: 500, Active: true}
	if got := fresh.VotingWeight(); got != 0 {
		t.Fatalf("zero-task weight = %v, want 0", got)
	}
}

func TestDecay(t *testing.T) {
	l := NewLedger(nil)
	l.ApplyReward("a", 0, "touch") // materialize at InitialCredit

	n := l.Decay(0.995)
	if n != 1 {
		t.Fatalf("decayed = %d, want 1", n)
	}
	if got := l.Credit("a"); math.Abs(got-InitialCredit*0.995) > 1e-9 {
		t.Fatalf("credit = %v, want %v", got, InitialCredit*0.995)
	}

	// Out-of-range factors are a no-op.
	if n := l.Decay(0); n != 0 {
		t.Fatalf("decay(0) = %d, want 0", n)
	}
	if n := l.Decay(1.5); n != 0 {
		t.Fatalf("decay(1.5) = %d, want 0", n)
	}

	// Tiny residues floor at zero.
	l.Seed(Score{AgentID: "dust", Credit: 0.011, Active: true})
	l.Decay(0.5)
	if got := l.Credit("dust"); got != 0 {
		t.Fatalf("dust credit = %v, want 0", got)
	}
}

func TestHistoryCapped(t *testing.T) {
	l := NewLedger(nil)
	for i := 0; i < historyCap+25; i++ {
		l.ApplyReward("a", 1, "reward")
	}
	s, _ := l.Get("a")
	if len(s.History) != historyCap {
		t.Fatalf("history length = %d, want %d", len(s.History), historyCap)
	}
	// The newest entry is retained.
	last := s.History[len(s.History)-1]
	if last.NewCredit != s.Credit {
		t.Fatalf("last history entry credit = %v, ledger credit = %v", last.NewCredit, s.Credit)
	}
}

func TestTierBands(t *testing.T) {
	tests := []struct {
		credit float64
		want   Tier
	}{
		{0, TierNewcomer},
		{299, TierNewcomer},
		{300, TierCopper},
		{400, TierIron},
		{500, TierBronze},
		{600, TierSilver},
		{700, TierGold},
		{800, TierDiamond},
		{900, TierPlatinum},
		{1000, TierPlatinum},
	}
	for _, tt := range tests {
		if got := TierFor(tt.credit); got != tt.want {
			t.Fatalf("TierFor(%v) = %v, want %v", tt.credit, got, tt.want)
		}
	}
}

func TestSeedRestoresDurableCopy(t *testing.T) {
	l := NewLedger(nil)
	l.Seed(Score{AgentID: "a", Credit: 731, TotalTasks: 40, SuccessfulTasks: 38, Active: true})

	s, ok := l.Get("a")
	if !ok || s.Credit != 731 || s.TotalTasks != 40 {
		t.Fatalf("seeded score = %+v", s)
	}
	if s.Tier() != TierGold {
		t.Fatalf("tier = %v, want %v", s.Tier(), TierGold)
	}
}
