package id

import (
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestULIDGenerator_NextID_Uniqueness(t *testing.T) {
	gen := NewULIDGenerator()

	seen := make(map[string]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if seen[id] {
			t.Fatalf("duplicate ID generated at iteration %d: %s", i, id)
		}
		seen[id] = true
	}
}

func TestULIDGenerator_NextID_Monotonic(t *testing.T) {
	gen := NewULIDGenerator()

	var prev string
	const iterations = 1000

	for i := 0; i < iterations; i++ {
		id := gen.NextID()
		if id <= prev {
			t.Fatalf("non-monotonic ID at iteration %d: prev=%s, curr=%s", i, prev, id)
		}
		prev = id
	}
}

func TestULIDGenerator_At(t *testing.T) {
	gen := NewULIDGenerator()
	when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	parsed, err := ulid.Parse(gen.At(when))
	if err != nil {
		t.Fatalf("generated ID does not parse: %v", err)
	}
	if !ulid.Time(parsed.Time()).Equal(when) {
		t.Errorf("expected timestamp %v, got %v", when, ulid.Time(parsed.Time()))
	}
}

func TestULIDGenerator_NextID_Concurrent(t *testing.T) {
	gen := NewULIDGenerator()

	const goroutines = 10
	const idsPerGoroutine = 1000

	var wg sync.WaitGroup
	idsChan := make(chan string, goroutines*idsPerGoroutine)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				idsChan <- gen.NextID()
			}
		}()
	}

	wg.Wait()
	close(idsChan)

	seen := make(map[string]bool)
	for id := range idsChan {
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}

	if len(seen) != goroutines*idsPerGoroutine {
		t.Errorf("expected %d unique IDs, got %d", goroutines*idsPerGoroutine, len(seen))
	}
}

var _ Generator = (*ULIDGenerator)(nil)
