package hlc

import (
	"sync"
	"testing"
	"time"
)

func TestClock_Now(t *testing.T) {
	clock := NewClock()

	before := time.Now().UnixNano()
	ts1 := clock.Now()
	if ts1.LogTime < before {
		t.Errorf("log time %d should not precede wall time %d", ts1.LogTime, before)
	}
	if ts1.LogTick != 1 {
		t.Errorf("Expected first tick 1, got %d", ts1.LogTick)
	}

	ts2 := clock.Now()
	if ts2.LogTick != 2 {
		t.Errorf("Expected tick 2, got %d", ts2.LogTick)
	}
	if clock.Tick() != 2 {
		t.Errorf("Expected Tick() 2, got %d", clock.Tick())
	}
}

func TestClock_MonotonicIncrement(t *testing.T) {
	clock := NewClock()

	// Generate timestamps faster than the wall clock resolution
	timestamps := make([]Timestamp, 1000)
	for i := range timestamps {
		timestamps[i] = clock.Now()
	}

	for i := 1; i < len(timestamps); i++ {
		if timestamps[i].LogTime <= timestamps[i-1].LogTime {
			t.Fatalf("log time %d not strictly after %d", i, i-1)
		}
		if Compare(timestamps[i], timestamps[i-1]) <= 0 {
			t.Fatalf("Timestamp %d not after %d", i, i-1)
		}
	}
}

func TestClock_WallClockBehind(t *testing.T) {
	clock := NewClock()

	// Simulate a clock that already issued a stamp in the future
	future := time.Now().Add(time.Hour).UnixNano()
	clock.wallTime = future

	ts := clock.Now()
	if ts.LogTime != future+1 {
		t.Errorf("Expected log time %d, got %d", future+1, ts.LogTime)
	}
}

func TestClock_Concurrent(t *testing.T) {
	clock := NewClock()

	const goroutines = 10
	const perGoroutine = 500

	var wg sync.WaitGroup
	ticks := make(chan uint64, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				ticks <- clock.Now().LogTick
			}
		}()
	}
	wg.Wait()
	close(ticks)

	seen := make(map[uint64]bool)
	for tick := range ticks {
		if seen[tick] {
			t.Fatalf("duplicate tick %d", tick)
		}
		seen[tick] = true
	}
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("Expected %d ticks, got %d", goroutines*perGoroutine, len(seen))
	}
}

func TestCompare(t *testing.T) {
	a := Timestamp{LogTime: 100, LogTick: 1}
	b := Timestamp{LogTime: 100, LogTick: 2}
	c := Timestamp{LogTime: 200, LogTick: 1}

	if Compare(a, a) != 0 {
		t.Error("timestamp should equal itself")
	}
	if Compare(a, b) >= 0 || Compare(b, c) >= 0 {
		t.Error("expected a < b < c")
	}
	if Compare(c, a) <= 0 {
		t.Error("expected c after a")
	}
}

func TestTimestamp_String(t *testing.T) {
	ts := Timestamp{LogTime: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC).UnixNano()}
	if got := ts.PhysicalTime().UTC().Format(time.RFC3339Nano); got != "2024-01-02T03:04:05.000000006Z" {
		t.Errorf("unexpected time %s", got)
	}
	if ts.String() == "" {
		t.Error("String should not be empty")
	}
}
