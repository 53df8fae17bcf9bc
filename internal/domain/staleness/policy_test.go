package staleness

import (
	"testing"
	"time"
)

func TestPolicy_IsFresh_Boundaries(t *testing.T) {
	p := BalancePolicy()
	window := DefaultBalanceWindow.Milliseconds()
	updated := int64(1_700_000_000_000)

	tests := []struct {
		name     string
		now      int64
		expected bool
	}{
		{"same instant", updated, true},
		{"one ms later", updated + 1, true},
		{"four minutes later", updated + (4 * time.Minute).Milliseconds(), true},
		{"last fresh ms", updated + window - 1, true},
		{"exactly window", updated + window, false},
		{"six minutes later", updated + (6 * time.Minute).Milliseconds(), false},
		{"far future", updated + 10*window, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.IsFresh(updated, tt.now); got != tt.expected {
				t.Errorf("IsFresh(%d, %d) = %v, expected %v", updated, tt.now, got, tt.expected)
			}
		})
	}
}

func TestPolicy_Monotonic(t *testing.T) {
	p := NewPolicy(time.Second)
	updated := int64(5000)

	// Once stale, a record stays stale for every later instant
	seenStale := false
	for now := updated; now < updated+3000; now += 7 {
		fresh := p.IsFresh(updated, now)
		if seenStale && fresh {
			t.Fatalf("record became fresh again at %d", now)
		}
		if !fresh {
			seenStale = true
		}
	}
	if !seenStale {
		t.Error("expected record to become stale")
	}
}

func TestPolicy_Cutoff(t *testing.T) {
	p := TickerPolicy()
	now := int64(1_000_000)
	cutoff := p.Cutoff(now)

	if p.IsFresh(cutoff, now) {
		t.Error("record updated exactly at cutoff should be stale")
	}
	if !p.IsFresh(cutoff+1, now) {
		t.Error("record updated right after cutoff should be fresh")
	}
}

func TestPolicy_ZeroWindow(t *testing.T) {
	p := NewPolicy(0)
	if p.IsFresh(100, 100) {
		t.Error("zero window should treat everything as stale")
	}
	if p.Window() != 0 {
		t.Errorf("expected zero window, got %s", p.Window())
	}
}

func TestClockFunc(t *testing.T) {
	c := ClockFunc(func() int64 { return 42 })
	if c.NowMillis() != 42 {
		t.Errorf("expected 42, got %d", c.NowMillis())
	}

	before := time.Now().UnixMilli()
	got := SystemClock{}.NowMillis()
	if got < before {
		t.Errorf("system clock went backwards: %d < %d", got, before)
	}
}
