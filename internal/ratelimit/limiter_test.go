package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAllow_WithinBurst(t *testing.T) {
	l := NewLimiter(1.0, 3)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Errorf("request %d should be allowed within burst", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("request after burst exhaustion should be rejected")
	}
}

func TestAllow_RefillOverTime(t *testing.T) {
	now := time.Now()
	l := NewLimiter(10.0, 2)
	l.nowFunc = func() time.Time { return now }

	l.Allow("client")
	l.Allow("client")
	if l.Allow("client") {
		t.Error("expected rejection after burst")
	}

	// 200ms at 10 tokens/sec refills 2 tokens.
	now = now.Add(200 * time.Millisecond)
	if !l.Allow("client") {
		t.Error("expected allow after refill")
	}
	if !l.Allow("client") {
		t.Error("expected second allow after refill")
	}
	if l.Allow("client") {
		t.Error("refill should not exceed elapsed rate")
	}
}

func TestAllow_RefillCapsAtBurst(t *testing.T) {
	now := time.Now()
	l := NewLimiter(100.0, 3)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		l.Allow("client")
	}

	// A long idle stretch still refills only to the burst cap.
	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !l.Allow("client") {
			t.Errorf("request %d should be allowed after refill", i+1)
		}
	}
	if l.Allow("client") {
		t.Error("tokens exceeded burst cap")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := NewLimiter(1.0, 1)

	l.Allow("10.0.0.1")
	if l.Allow("10.0.0.1") {
		t.Error("first client should be exhausted")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("second client has its own bucket")
	}
}

func TestAllow_ZeroRate(t *testing.T) {
	now := time.Now()
	l := NewLimiter(0, 2)
	l.nowFunc = func() time.Time { return now }

	l.Allow("client")
	l.Allow("client")

	// Zero rate means the burst is all a key ever gets.
	now = now.Add(time.Hour)
	if l.Allow("client") {
		t.Error("zero-rate limiter refilled")
	}
}

func TestAllow_Concurrent(t *testing.T) {
	// Zero rate keeps the count exact however the goroutines schedule.
	l := NewLimiter(0, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want exactly the burst of 50", allowed)
	}
}

func TestPrune_DropsIdleBuckets(t *testing.T) {
	now := time.Now()
	l := NewLimiter(1.0, 2)
	l.nowFunc = func() time.Time { return now }

	for i := 0; i <= maxIdleBuckets+10; i++ {
		l.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	if len(l.buckets) <= maxIdleBuckets {
		t.Fatalf("setup: buckets = %d, want more than %d", len(l.buckets), maxIdleBuckets)
	}

	// After a full refill interval every bucket is idle and prunable.
	now = now.Add(3 * time.Second)
	l.Allow("fresh")
	if len(l.buckets) != 1 {
		t.Errorf("buckets = %d after prune, want 1", len(l.buckets))
	}
}
