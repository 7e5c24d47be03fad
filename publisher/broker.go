package publisher

import (
	"sync"
	"sync/atomic"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/notify"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// BrokerConfig configures the event broker
type BrokerConfig struct {
	MemoryLimit uint64 // Ephemeral byte budget, 0 = unbounded
}

// Broker owns the retention queue and the client registry.
// Every event is encoded once and the same buffer is retained and fanned out.
type Broker struct {
	queue *MessageQueue
	hub   *notify.Hub

	// intakeMu orders append+broadcast pairs so all clients see queue order
	intakeMu sync.Mutex
	closed   atomic.Bool
}

var _ Sink = (*Broker)(nil)

// NewBroker creates a broker with an empty queue and registry
func NewBroker(config BrokerConfig) *Broker {
	limit := "unlimited"
	if config.MemoryLimit > 0 {
		limit = humanize.IBytes(config.MemoryLimit)
	}
	log.Info().Str("memory_limit", limit).Msg("Event broker initialized")

	return &Broker{
		queue: NewMessageQueue(config.MemoryLimit),
		hub:   notify.NewHub(),
	}
}

// Intake encodes event, retains it under class and broadcasts it to every
// registered client. It never blocks on a slow client.
func (b *Broker) Intake(event []byte, class common.Retention) {
	if b.closed.Load() {
		log.Debug().Int("bytes", len(event)).Msg("Broker closed, dropping event")
		return
	}

	data := encoding.EncodeFrame(event)

	b.intakeMu.Lock()
	f := b.queue.Append(data, class)
	delivered, dropped := b.hub.Broadcast(f)
	b.intakeMu.Unlock()

	telemetry.EventsIngestedTotal.With(class.String()).Inc()
	if dropped > 0 {
		log.Debug().
			Uint64("seq", f.Seq).
			Int("delivered", delivered).
			Int("dropped", dropped).
			Msg("Client channels full, frame dropped")
	}
}

// Flush nudges every session to drain its pending frames
func (b *Broker) Flush() {
	b.hub.RequestFlush()
}

// Subscribe registers a client subscriber
func (b *Broker) Subscribe(sub *notify.Subscriber) notify.Handle {
	h := b.hub.Register(sub)
	log.Debug().Uint64("handle", uint64(h)).Str("remote", sub.Addr()).Msg("Client registered")
	return h
}

// Unsubscribe removes a client registration. Safe to call more than once.
func (b *Broker) Unsubscribe(h notify.Handle) {
	b.hub.Deregister(h)
}

// Snapshot returns a consistent copy of the retained frames
func (b *Broker) Snapshot() Snapshot {
	return b.queue.Snapshot()
}

// Stats returns retention queue counters
func (b *Broker) Stats() QueueStats {
	return b.queue.Stats()
}

// RetentionStats implements telemetry.RetentionStatsProvider
func (b *Broker) RetentionStats() (ephemeralFrames, ephemeralBytes, permanentFrames int) {
	s := b.queue.Stats()
	return s.EphemeralFrames, int(s.EphemeralBytes), s.PermanentFrames
}

// ClientCount returns the number of registered clients
func (b *Broker) ClientCount() int {
	return b.hub.Len()
}

// Clients describes every registered client
func (b *Broker) Clients() []notify.SubscriberInfo {
	return b.hub.Subscribers()
}

// Close stops intake and closes every client channel.
// Retained frames stay readable through Snapshot.
func (b *Broker) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	// Wait for an in-flight broadcast before closing channels
	b.intakeMu.Lock()
	b.hub.Close()
	b.intakeMu.Unlock()

	log.Info().Msg("Event broker closed")
}
