package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowPerHost(t *testing.T) {
	l := NewLimiter(0.001, 2)

	if !l.Allow("10.0.0.1:5000") || !l.Allow("10.0.0.1:5001") {
		t.Fatal("burst not honoured")
	}
	if l.Allow("10.0.0.1:5002") {
		t.Error("third attempt from the same host allowed")
	}
	if !l.Allow("10.0.0.2:5000") {
		t.Error("other host throttled by the first host's bucket")
	}
	if l.Hosts() != 2 {
		t.Errorf("Hosts() = %d, want 2", l.Hosts())
	}
}

func TestAllowGlobalCap(t *testing.T) {
	l := NewLimiter(0.001, 1)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow("10.0.0." + string(rune('0'+i)) + ":1") {
			allowed++
		}
	}
	if allowed != 4 {
		t.Errorf("allowed %d distinct hosts, want global burst 4", allowed)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := NewLimiter(0.001, 1)
	for i := 0; i < 4; i++ {
		l.Wait(context.Background())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("Wait returned nil with an empty bucket and a short deadline")
	}
}

func TestPrune(t *testing.T) {
	l := NewLimiter(1, 1)
	l.Allow("a:1")
	l.Allow("b:1")

	if n := l.Prune(time.Hour); n != 0 {
		t.Errorf("Prune(1h) removed %d fresh hosts", n)
	}
	time.Sleep(5 * time.Millisecond)
	if n := l.Prune(time.Millisecond); n != 2 {
		t.Errorf("Prune removed %d hosts, want 2", n)
	}
	if l.Hosts() != 0 {
		t.Errorf("Hosts() = %d after prune", l.Hosts())
	}
}
