package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/telemetry"
)

// DefaultClientBuffer is the frame channel capacity used when none is configured.
// Subscribers that can't keep up have new frames dropped (non-blocking send).
const DefaultClientBuffer = 100

// Handle identifies one registration in a Hub
type Handle uint64

// Subscriber is the receive side of a registered client.
// The Hub holds the only send side of both channels.
type Subscriber struct {
	Frames <-chan common.Frame
	Flush  <-chan struct{}

	frames      chan common.Frame
	flush       chan struct{}
	addr        string
	connectedAt time.Time
	dropped     atomic.Uint64
	closed      atomic.Bool
}

// NewSubscriber creates a subscriber with a bounded frame channel.
// capacity <= 0 uses DefaultClientBuffer.
func NewSubscriber(addr string, capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = DefaultClientBuffer
	}

	frames := make(chan common.Frame, capacity)
	flush := make(chan struct{}, 1)
	return &Subscriber{
		Frames:      frames,
		Flush:       flush,
		frames:      frames,
		flush:       flush,
		addr:        addr,
		connectedAt: time.Now(),
	}
}

// Addr returns the remote address the subscriber was created for
func (s *Subscriber) Addr() string {
	return s.addr
}

// Dropped returns the number of frames dropped because the channel was full
func (s *Subscriber) Dropped() uint64 {
	return s.dropped.Load()
}

// close closes both channels if not already closed.
func (s *Subscriber) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.frames)
		close(s.flush)
	}
}

// SubscriberInfo is a point-in-time view of a registered subscriber
type SubscriberInfo struct {
	Handle      Handle    `json:"handle"`
	Addr        string    `json:"addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Pending     int       `json:"pending"`
	Capacity    int       `json:"capacity"`
	Dropped     uint64    `json:"dropped"`
}

// Hub is the client registry: a thread-safe set of subscriber channels
// that frames are fanned out to.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[Handle]*Subscriber
	nextID      atomic.Uint64
	closed      bool
}

// NewHub creates an empty client registry.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[Handle]*Subscriber),
	}
}

// Register adds sub to the registry. Identity is the returned handle,
// so the same subscriber registered twice receives every frame twice.
// Registering on a closed hub closes sub immediately.
func (h *Hub) Register(sub *Subscriber) Handle {
	id := Handle(h.nextID.Add(1))

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub.close()
		return id
	}
	h.subscribers[id] = sub
	return id
}

// Deregister removes a registration. Unknown handles are ignored.
// The subscriber's channels stay open; the session owns its own teardown.
func (h *Hub) Deregister(id Handle) {
	h.mu.Lock()
	delete(h.subscribers, id)
	h.mu.Unlock()
}

// Broadcast offers f to every subscriber without blocking.
// A full channel drops f for that subscriber only.
func (h *Hub) Broadcast(f common.Frame) (delivered, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.frames <- f:
			delivered++
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}

	if dropped > 0 {
		telemetry.FramesDroppedTotal.Add(float64(dropped))
	}
	return delivered, dropped
}

// RequestFlush nudges every subscriber to drain its queued frames.
// Pending nudges are coalesced.
func (h *Hub) RequestFlush() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		select {
		case sub.flush <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of registered subscribers
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Subscribers returns a snapshot of every registration
func (h *Hub) Subscribers() []SubscriberInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]SubscriberInfo, 0, len(h.subscribers))
	for id, sub := range h.subscribers {
		infos = append(infos, SubscriberInfo{
			Handle:      id,
			Addr:        sub.addr,
			ConnectedAt: sub.connectedAt,
			Pending:     len(sub.frames),
			Capacity:    cap(sub.frames),
			Dropped:     sub.dropped.Load(),
		})
	}
	return infos
}

// Close closes every registered subscriber and empties the registry.
// Sessions blocked on their channel observe the closure and end.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		sub.close()
		delete(h.subscribers, id)
	}
}
