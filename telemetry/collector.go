package telemetry

import (
	"sync"
	"time"
)

// RetentionStatsProvider reports the current size of the retention partitions
type RetentionStatsProvider interface {
	RetentionStats() (ephemeralFrames, ephemeralBytes, permanentFrames int)
}

// ClientCounter reports the number of registered clients
type ClientCounter interface {
	ClientCount() int
}

// MetricsCollector periodically samples broker state into telemetry gauges
type MetricsCollector struct {
	retention RetentionStatsProvider
	clients   ClientCounter
	interval  time.Duration
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(retention RetentionStatsProvider, clients ClientCounter, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		retention: retention,
		clients:   clients,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.retention != nil {
		ephFrames, ephBytes, permFrames := mc.retention.RetentionStats()
		EphemeralFrames.Set(float64(ephFrames))
		EphemeralBytes.Set(float64(ephBytes))
		PermanentFrames.Set(float64(permFrames))
	}
	if mc.clients != nil {
		ClientsConnected.Set(float64(mc.clients.ClientCount()))
	}
}
