package telemetry

// Histogram bucket definitions
var (
	// ReplayBuckets for the number of frames written during a client catch-up
	ReplayBuckets = []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000, 50000}
)

// Broker Metrics
var (
	// EventsIngestedTotal counts events accepted by the broker by retention class
	EventsIngestedTotal CounterVec = noopCounterVec{}

	// FramesEvictedTotal counts ephemeral frames evicted to honour the memory limit
	FramesEvictedTotal Counter = NoopStat{}

	// BytesEvictedTotal counts ephemeral bytes evicted to honour the memory limit
	BytesEvictedTotal Counter = NoopStat{}

	// EphemeralBytes tracks bytes currently held in the ephemeral partition
	EphemeralBytes Gauge = NoopStat{}

	// EphemeralFrames tracks frames currently held in the ephemeral partition
	EphemeralFrames Gauge = NoopStat{}

	// PermanentFrames tracks frames held in the permanent partition
	PermanentFrames Gauge = NoopStat{}
)

// Client Metrics
var (
	// ClientsConnected tracks registered subscribers
	ClientsConnected Gauge = NoopStat{}

	// FramesDroppedTotal counts frames dropped because a client channel was full
	FramesDroppedTotal Counter = NoopStat{}

	// SessionsTotal counts finished sessions by result (closed, write_error, replay_error, cancelled)
	SessionsTotal CounterVec = noopCounterVec{}

	// ReplayFrames measures frames written per catch-up replay
	ReplayFrames Histogram = NoopStat{}
)

// Producer Metrics
var (
	// BlueprintRecordsSkippedTotal counts malformed blueprint records skipped at load
	BlueprintRecordsSkippedTotal Counter = NoopStat{}

	// IngestMessagesTotal counts messages received from external sources by source and result
	IngestMessagesTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	// Broker Metrics
	EventsIngestedTotal = NewCounterVec(
		"events_ingested_total",
		"Events accepted by the broker by retention class",
		[]string{"retention"},
	)
	FramesEvictedTotal = NewCounter(
		"frames_evicted_total",
		"Ephemeral frames evicted to stay within the memory limit",
	)
	BytesEvictedTotal = NewCounter(
		"bytes_evicted_total",
		"Ephemeral bytes evicted to stay within the memory limit",
	)
	EphemeralBytes = NewGauge(
		"ephemeral_bytes",
		"Bytes held in the ephemeral retention partition",
	)
	EphemeralFrames = NewGauge(
		"ephemeral_frames",
		"Frames held in the ephemeral retention partition",
	)
	PermanentFrames = NewGauge(
		"permanent_frames",
		"Frames held in the permanent retention partition",
	)

	// Client Metrics
	ClientsConnected = NewGauge(
		"clients_connected",
		"Number of registered viewer clients",
	)
	FramesDroppedTotal = NewCounter(
		"frames_dropped_total",
		"Frames dropped because a client channel was full",
	)
	SessionsTotal = NewCounterVec(
		"sessions_total",
		"Finished viewer sessions by result",
		[]string{"result"},
	)
	ReplayFrames = NewHistogramWithBuckets(
		"replay_frames",
		"Frames written per client catch-up replay",
		ReplayBuckets,
	)

	// Producer Metrics
	BlueprintRecordsSkippedTotal = NewCounter(
		"blueprint_records_skipped_total",
		"Malformed blueprint records skipped while loading",
	)
	IngestMessagesTotal = NewCounterVec(
		"ingest_messages_total",
		"Messages received from external sources by source and result",
		[]string{"source", "result"},
	)
}
