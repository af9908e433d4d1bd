package interview

import (
	"sync"
	"sync/atomic"
	"time"
)

// Token authorizes exactly one answer submission for one turn. Claim is an
// atomic compare-and-swap, so concurrent triggers (typed submit, silence
// auto-submit, voice stop) race safely and exactly one wins.
type Token struct {
	turn    int
	claimed atomic.Bool
}

// Turn returns the turn index the token belongs to.
func (t *Token) Turn() int { return t.turn }

// Claim marks the token used. It returns true for exactly one caller.
func (t *Token) Claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether the token has been used.
func (t *Token) Claimed() bool { return t.claimed.Load() }

// Arbiter issues submission tokens and enforces the grace window: after a
// submission round-trip completes, the next token cannot be claimed until
// the window passes, absorbing double-triggers around the turn boundary.
type Arbiter struct {
	grace time.Duration
	now   func() time.Time

	mu         sync.Mutex
	current    *Token
	graceUntil time.Time
}

// NewArbiter creates an arbiter with the given grace window.
func NewArbiter(grace time.Duration) *Arbiter {
	return &Arbiter{grace: grace, now: time.Now}
}

// Open issues a fresh token for the given turn, replacing any current one.
// An earlier token that was never claimed simply becomes unclaimable.
func (a *Arbiter) Open(turn int) *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = &Token{turn: turn}
	return a.current
}

// Current returns the open token, or nil.
func (a *Arbiter) Current() *Token {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// Claim attempts to use the token. It fails when the token is not the
// current one, when the grace window from the previous round-trip has not
// passed, or when the token was already claimed.
func (a *Arbiter) Claim(tok *Token) bool {
	if tok == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok != a.current {
		return false
	}
	if a.now().Before(a.graceUntil) {
		return false
	}
	return tok.Claim()
}

// CompleteRoundTrip records that a submission round-trip finished, opening
// the grace window that gates the next claim.
func (a *Arbiter) CompleteRoundTrip() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.graceUntil = a.now().Add(a.grace)
}

// Invalidate drops the current token, e.g. on restart.
func (a *Arbiter) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
	a.graceUntil = time.Time{}
}
