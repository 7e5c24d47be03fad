package main

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Stats tracks load statistics using atomic operations.
type Stats struct {
	// Publish side
	published      uint64
	publishedBytes uint64
	static         uint64
	publishErrors  uint64

	// Watch side
	received      uint64
	receivedBytes uint64
	decodeErrors  uint64
	disconnects   uint64
	duplicates    uint64
	reordered     uint64

	// Latency tracking (microseconds)
	mu        sync.Mutex
	latencies []int64
}

// NewStats creates a new stats tracker.
func NewStats() *Stats {
	return &Stats{
		latencies: make([]int64, 0, 100000),
	}
}

// RecordPublish records one event handed to the sink.
func (s *Stats) RecordPublish(size int, static bool) {
	atomic.AddUint64(&s.published, 1)
	atomic.AddUint64(&s.publishedBytes, uint64(size))
	if static {
		atomic.AddUint64(&s.static, 1)
	}
}

// RecordPublishErrors adds failures reported by a sink.
func (s *Stats) RecordPublishErrors(n uint64) {
	atomic.AddUint64(&s.publishErrors, n)
}

// RecordFrame records one frame read by a viewer. A zero latency means the
// record carried no data timestamp.
func (s *Stats) RecordFrame(size int, latency time.Duration) {
	atomic.AddUint64(&s.received, 1)
	atomic.AddUint64(&s.receivedBytes, uint64(size))
	if latency <= 0 {
		return
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, latency.Microseconds())
	s.mu.Unlock()
}

// RecordDecodeError records a frame that could not be decoded.
func (s *Stats) RecordDecodeError() {
	atomic.AddUint64(&s.decodeErrors, 1)
}

// RecordDuplicate records a data record seen twice by one viewer.
func (s *Stats) RecordDuplicate() {
	atomic.AddUint64(&s.duplicates, 1)
}

// RecordReordered records a data record that arrived before an older one.
func (s *Stats) RecordReordered() {
	atomic.AddUint64(&s.reordered, 1)
}

// RecordDisconnect records a viewer connection that ended early.
func (s *Stats) RecordDisconnect() {
	atomic.AddUint64(&s.disconnects, 1)
}

// GetLatencyPercentiles returns p50, p90, p95, p99 in microseconds.
func (s *Stats) GetLatencyPercentiles() (p50, p90, p95, p99 int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(s.latencies))
	copy(sorted, s.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	p50 = sorted[n*50/100]
	p90 = sorted[n*90/100]
	p95 = sorted[n*95/100]
	p99 = sorted[n*99/100]

	return p50, p90, p95, p99
}

// GetLatencyStats returns min, max, avg in microseconds.
func (s *Stats) GetLatencyStats() (min, max, avg int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.latencies) == 0 {
		return 0, 0, 0
	}

	min = s.latencies[0]
	max = s.latencies[0]
	var sum int64

	for _, l := range s.latencies {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
		sum += l
	}

	avg = sum / int64(len(s.latencies))
	return min, max, avg
}

// Snapshot returns a copy of current counters.
type Snapshot struct {
	Published     uint64
	PublishErrors uint64
	Received      uint64
	ReceivedBytes uint64
	DecodeErrors  uint64
}

// GetSnapshot returns current stats snapshot.
func (s *Stats) GetSnapshot() Snapshot {
	return Snapshot{
		Published:     atomic.LoadUint64(&s.published),
		PublishErrors: atomic.LoadUint64(&s.publishErrors),
		Received:      atomic.LoadUint64(&s.received),
		ReceivedBytes: atomic.LoadUint64(&s.receivedBytes),
		DecodeErrors:  atomic.LoadUint64(&s.decodeErrors),
	}
}

// PrintPublish prints final publish statistics.
func (s *Stats) PrintPublish(elapsed time.Duration) {
	published := atomic.LoadUint64(&s.published)

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f events/sec\n", float64(published)/elapsed.Seconds())
	fmt.Println()
	fmt.Println("Events:")
	fmt.Printf("  Published: %d (%s)\n", published, humanize.IBytes(atomic.LoadUint64(&s.publishedBytes)))
	fmt.Printf("  Static:    %d\n", atomic.LoadUint64(&s.static))
	fmt.Printf("  Errors:    %d\n", atomic.LoadUint64(&s.publishErrors))
}

// PrintWatch prints final watch statistics.
func (s *Stats) PrintWatch(elapsed time.Duration) {
	received := atomic.LoadUint64(&s.received)
	bytes := atomic.LoadUint64(&s.receivedBytes)

	fmt.Println()
	fmt.Printf("Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Printf("Throughput:    %.2f frames/sec, %s/sec\n",
		float64(received)/elapsed.Seconds(),
		humanize.IBytes(uint64(float64(bytes)/elapsed.Seconds())))
	fmt.Println()
	fmt.Println("Frames:")
	fmt.Printf("  Received:      %d (%s)\n", received, humanize.IBytes(bytes))
	fmt.Printf("  Decode errors: %d\n", atomic.LoadUint64(&s.decodeErrors))
	fmt.Printf("  Disconnects:   %d\n", atomic.LoadUint64(&s.disconnects))
	fmt.Printf("  Duplicates:    %d\n", atomic.LoadUint64(&s.duplicates))
	fmt.Printf("  Out of order:  %d\n", atomic.LoadUint64(&s.reordered))
	fmt.Println()

	min, max, avg := s.GetLatencyStats()
	p50, p90, p95, p99 := s.GetLatencyPercentiles()

	fmt.Println("End-to-end latency (microseconds):")
	fmt.Printf("  Min:   %d\n", min)
	fmt.Printf("  Avg:   %d\n", avg)
	fmt.Printf("  Max:   %d\n", max)
	fmt.Printf("  P50:   %d\n", p50)
	fmt.Printf("  P90:   %d\n", p90)
	fmt.Printf("  P95:   %d\n", p95)
	fmt.Printf("  P99:   %d\n", p99)
}
