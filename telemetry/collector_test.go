package telemetry

import (
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brainlesscar/rerelay/cfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	samples atomic.Int32
}

func (f *fakeBroker) RetentionStats() (ephemeralFrames, ephemeralBytes, permanentFrames int) {
	f.samples.Add(1)
	return 7, 4096, 3
}

func (f *fakeBroker) ClientCount() int {
	return 2
}

func TestMetricsDisabledAreNoops(t *testing.T) {
	require.Nil(t, GetMetricsHandler())

	// Must not panic
	EventsIngestedTotal.With("ephemeral").Inc()
	ReplayFrames.Observe(12)
	EphemeralBytes.Set(10)
}

func TestCollectorExportsBrokerState(t *testing.T) {
	original := *cfg.Config
	defer func() { *cfg.Config = original }()
	cfg.Config.Prometheus.Enabled = true
	cfg.Config.ServerID = "car-7"

	InitializeTelemetry()
	InitMetrics()

	broker := &fakeBroker{}
	mc := NewMetricsCollector(broker, broker, 10*time.Millisecond)
	mc.Start()
	require.Eventually(t, func() bool { return broker.samples.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	mc.Stop()
	mc.Stop()

	EventsIngestedTotal.With("permanent").Inc()

	handler := GetMetricsHandler()
	require.NotNil(t, handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, `rerelay_ephemeral_frames{server_id="car-7"} 7`)
	assert.Contains(t, out, `rerelay_ephemeral_bytes{server_id="car-7"} 4096`)
	assert.Contains(t, out, `rerelay_permanent_frames{server_id="car-7"} 3`)
	assert.Contains(t, out, `rerelay_clients_connected{server_id="car-7"} 2`)
	assert.Contains(t, out, `rerelay_events_ingested_total{retention="permanent",server_id="car-7"} 1`)
}
