package interview

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenClaimExactlyOnce(t *testing.T) {
	tok := &Token{turn: 3}
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok.Claim() {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Fatalf("claims won = %d, want 1", n)
	}
	if !tok.Claimed() {
		t.Fatal("token not marked claimed")
	}
}

func TestArbiterConcurrentClaims(t *testing.T) {
	a := NewArbiter(time.Second)
	tok := a.Open(0)
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.Claim(tok) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Fatalf("claims won = %d, want 1", n)
	}
}

func TestArbiterRejectsSupersededToken(t *testing.T) {
	a := NewArbiter(0)
	old := a.Open(0)
	fresh := a.Open(1)
	if a.Claim(old) {
		t.Fatal("superseded token claimed")
	}
	if !a.Claim(fresh) {
		t.Fatal("fresh token rejected")
	}
}

func TestArbiterGraceWindowGatesNextClaim(t *testing.T) {
	a := NewArbiter(time.Second)
	now := time.Now()
	a.now = func() time.Time { return now }

	tok := a.Open(0)
	if !a.Claim(tok) {
		t.Fatal("first claim rejected")
	}
	a.CompleteRoundTrip()

	next := a.Open(1)
	if a.Claim(next) {
		t.Fatal("claim inside grace window accepted")
	}
	now = now.Add(1100 * time.Millisecond)
	if !a.Claim(next) {
		t.Fatal("claim after grace window rejected")
	}
}

func TestArbiterInvalidate(t *testing.T) {
	a := NewArbiter(0)
	tok := a.Open(0)
	a.Invalidate()
	if a.Claim(tok) {
		t.Fatal("invalidated token claimed")
	}
	if a.Current() != nil {
		t.Fatal("current not cleared")
	}
	if a.Claim(nil) {
		t.Fatal("nil token claimed")
	}
}
