package watch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestThrottleCooldown(t *testing.T) {
	t.Parallel()
	th := NewThrottle(CooldownWindow)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		after time.Duration
		want  bool
	}{
		{"first", 0, true},
		{"within window", 1800 * time.Second, false},
		{"just before expiry", 3599 * time.Second, false},
		{"after window", 3700 * time.Second, true},
		{"within new window", 3710 * time.Second, false},
	}
	for _, tt := range tests {
		if got := th.ShouldNotify(1, 2, base.Add(tt.after)); got != tt.want {
			t.Fatalf("%s: ShouldNotify = %v, want %v", tt.name, got, tt.want)
		}
	}
	last, ok := th.LastNotified(1, 2)
	if !ok || !last.Equal(base.Add(3700*time.Second)) {
		t.Fatalf("LastNotified = %v, %v", last, ok)
	}
}

func TestThrottleExactWindowBoundary(t *testing.T) {
	t.Parallel()
	th := NewThrottle(CooldownWindow)
	base := time.Unix(1_700_000_000, 0)
	th.ShouldNotify(1, 2, base)
	if !th.ShouldNotify(1, 2, base.Add(CooldownWindow)) {
		t.Fatal("a full window later must be allowed")
	}
}

func TestThrottlePairsAreIndependent(t *testing.T) {
	t.Parallel()
	th := NewThrottle(CooldownWindow)
	now := time.Now()
	if !th.ShouldNotify(1, 2, now) || !th.ShouldNotify(1, 3, now) || !th.ShouldNotify(4, 2, now) {
		t.Fatal("distinct pairs must not share a cooldown")
	}
	if th.Len() != 3 {
		t.Fatalf("Len = %d", th.Len())
	}
	if _, ok := th.LastNotified(9, 9); ok {
		t.Fatal("unknown pair must have no record")
	}
}

func TestThrottleConcurrentSinglePairFiresOnce(t *testing.T) {
	t.Parallel()
	th := NewThrottle(CooldownWindow)
	now := time.Now()
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if th.ShouldNotify(1, 2, now) {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if allowed.Load() != 1 {
		t.Fatalf("allowed = %d, want 1", allowed.Load())
	}
}
