// Package ratelimit provides fixed-window rate limiting for gateway
// submissions.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a simple fixed-window rate limiter for a single connection.
type Limiter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	rate        int
	window      time.Duration
}

// New creates a Limiter that allows rate requests per window.
func New(rate int, window time.Duration) *Limiter {
	return &Limiter{
		rate:        rate,
		window:      window,
		windowStart: time.Now(),
	}
}

// Allow returns true if the request is within the rate limit.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if now.Sub(l.windowStart) > l.window {
		l.count = 0
		l.windowStart = now
	}
	l.count++
	return l.count <= l.rate
}

// PerAgent tracks one Limiter per agent ID so a chatty agent cannot starve
// the rest of a session.
type PerAgent struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	rate     int
	window   time.Duration
}

// NewPerAgent creates a PerAgent limiter pool with the given rate per window.
func NewPerAgent(rate int, window time.Duration) *PerAgent {
	return &PerAgent{
		limiters: make(map[string]*Limiter),
		rate:     rate,
		window:   window,
	}
}

// Allow returns true if the agent is within its rate limit.
func (p *PerAgent) Allow(agentID string) bool {
	p.mu.Lock()
	l, ok := p.limiters[agentID]
	if !ok {
		l = New(p.rate, p.window)
		p.limiters[agentID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

// Forget drops the limiter state for an agent, typically on disconnect.
func (p *PerAgent) Forget(agentID string) {
	p.mu.Lock()
	delete(p.limiters, agentID)
	p.mu.Unlock()
}
