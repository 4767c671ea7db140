package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterWindow(t *testing.T) {
	l := New(3, time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("request %d rejected inside the limit", i)
		}
	}
	if l.Allow() {
		t.Fatal("request above the limit allowed")
	}
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	if !l.Allow() {
		t.Fatal("first request rejected")
	}
	if l.Allow() {
		t.Fatal("second request allowed inside window")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("request rejected after window reset")
	}
}

func TestPerAgentIsolation(t *testing.T) {
	p := NewPerAgent(1, time.Hour)
	if !p.Allow("a") {
		t.Fatal("first request for a rejected")
	}
	if p.Allow("a") {
		t.Fatal("a exceeded its limit")
	}
	// b has its own budget.
	if !p.Allow("b") {
		t.Fatal("first request for b rejected")
	}
}

func TestPerAgentForget(t *testing.T) {
	p := NewPerAgent(1, time.Hour)
	p.Allow("a")
	if p.Allow("a") {
		t.Fatal("a exceeded its limit")
	}
	p.Forget("a")
	if !p.Allow("a") {
		t.Fatal("a still limited after Forget")
	}
}
