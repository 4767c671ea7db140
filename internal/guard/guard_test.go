package guard

import (
	"errors"
	"testing"
)

func TestFloorCheck(t *testing.T) {
	g := New(100, 0.05)

	tests := []struct {
		name       string
		observedMS int64
		wantFlag   bool
	}{
		{"instant", 0, true},
		{"too fast", 40, true},
		{"just under", 99, true},
		{"at floor", 100, false},
		{"plausible", 2500, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := g.RecordDuration("s1", "agent", tt.observedMS)
			if (a != nil) != tt.wantFlag {
				t.Fatalf("anomaly = %v, want flagged=%v", a, tt.wantFlag)
			}
			if a != nil && (a.ObservedMS != tt.observedMS || a.MinMS != 100 || a.Uniform) {
				t.Fatalf("anomaly fields = %+v", a)
			}
		})
	}
}

func TestStartIsIdempotenceChecked(t *testing.T) {
	g := New(0, 0)
	if err := g.RecordStart("s1", "a"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := g.RecordStart("s1", "a"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start err = %v, want %v", err, ErrAlreadyStarted)
	}
	// Same agent in a different session is fine.
	if err := g.RecordStart("s2", "a"); err != nil {
		t.Fatalf("other session start: %v", err)
	}
}

func TestElapsedSinceStart(t *testing.T) {
	g := New(0, 0)
	ms := int64(5_000)
	g.SetClock(func() int64 { return ms })

	if _, ok := g.ElapsedSinceStart("s1", "a"); ok {
		t.Fatal("elapsed without start")
	}
	if err := g.RecordStart("s1", "a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ms += 850
	elapsed, ok := g.ElapsedSinceStart("s1", "a")
	if !ok || elapsed != 850 {
		t.Fatalf("elapsed = %d,%v, want 850,true", elapsed, ok)
	}
}

func TestUniformityFlagsAllAgents(t *testing.T) {
	g := New(100, 0.05)

	// Individually plausible, collectively implausible: 2000/2001/2002ms
	// gives a CV of roughly 0.0004.
	g.RecordDuration("s1", "a", 2000)
	g.RecordDuration("s1", "b", 2001)
	g.RecordDuration("s1", "c", 2002)

	anomalies := g.CheckUniformity("s1")
	if len(anomalies) != 3 {
		t.Fatalf("anomalies = %d, want 3", len(anomalies))
	}
	for _, a := range anomalies {
		if !a.Uniform {
			t.Fatalf("anomaly %+v missing uniform flag", a)
		}
	}
}

func TestUniformityIgnoresNaturalSpread(t *testing.T) {
	g := New(100, 0.05)

	g.RecordDuration("s1", "a", 1500)
	g.RecordDuration("s1", "b", 2400)
	g.RecordDuration("s1", "c", 3900)

	if anomalies := g.CheckUniformity("s1"); anomalies != nil {
		t.Fatalf("anomalies = %v, want none", anomalies)
	}
}

func TestUniformityNeedsEnoughSamples(t *testing.T) {
	g := New(100, 0.05)

	g.RecordDuration("s1", "a", 2000)
	g.RecordDuration("s1", "b", 2000)

	if anomalies := g.CheckUniformity("s1"); anomalies != nil {
		t.Fatalf("anomalies = %v, want none below sample floor", anomalies)
	}
}

func TestForgetDropsSessionState(t *testing.T) {
	g := New(100, 0.05)
	if err := g.RecordStart("s1", "a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	g.RecordDuration("s1", "a", 2000)
	g.Forget("s1")

	if _, ok := g.ElapsedSinceStart("s1", "a"); ok {
		t.Fatal("start survived Forget")
	}
	// A fresh start is allowed again.
	if err := g.RecordStart("s1", "a"); err != nil {
		t.Fatalf("restart after forget: %v", err)
	}
}
