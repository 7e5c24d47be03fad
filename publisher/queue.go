package publisher

import (
	"sync"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/dustin/go-humanize"
	"github.com/eapache/queue"
	"github.com/rs/zerolog/log"
)

// MessageQueue retains frames for late-joining clients.
// Ephemeral frames form a FIFO bounded by a byte budget; permanent frames
// are kept for the life of the process and never count against the budget.
type MessageQueue struct {
	mu sync.RWMutex

	budget uint64 // 0 = unbounded

	ephemeral      *queue.Queue // of common.Frame, oldest first
	ephemeralBytes uint64

	permanent      []common.Frame
	permanentBytes uint64

	seq           uint64
	evictedFrames uint64
	evictedBytes  uint64
	limitReached  bool // Set by the first eviction
}

// NewMessageQueue creates a queue holding at most budget ephemeral bytes.
// A budget of 0 disables eviction.
func NewMessageQueue(budget uint64) *MessageQueue {
	return &MessageQueue{
		budget:    budget,
		ephemeral: queue.New(),
	}
}

// AppendEphemeral evicts the oldest ephemeral frames until data fits the
// budget, then appends it. A frame larger than the whole budget is still
// appended and remains as the only ephemeral frame.
func (q *MessageQueue) AppendEphemeral(data []byte) common.Frame {
	size := uint64(len(data))

	q.mu.Lock()
	var freedFrames, freedBytes uint64
	for q.budget > 0 && q.ephemeral.Length() > 0 && q.ephemeralBytes+size > q.budget {
		old := q.ephemeral.Remove().(common.Frame)
		q.ephemeralBytes -= uint64(old.Len())
		freedFrames++
		freedBytes += uint64(old.Len())
	}
	q.evictedFrames += freedFrames
	q.evictedBytes += freedBytes
	firstEviction := freedFrames > 0 && !q.limitReached
	if freedFrames > 0 {
		q.limitReached = true
	}

	q.seq++
	f := common.Frame{Seq: q.seq, Data: data}
	q.ephemeral.Add(f)
	q.ephemeralBytes += size
	q.mu.Unlock()

	if firstEviction {
		log.Info().
			Str("budget", humanize.IBytes(q.budget)).
			Msg("Memory limit reached, evicting oldest ephemeral frames")
	}
	if freedFrames > 0 {
		log.Debug().
			Uint64("frames", freedFrames).
			Uint64("bytes", freedBytes).
			Uint64("seq", f.Seq).
			Msg("Evicted ephemeral frames")
		telemetry.FramesEvictedTotal.Add(float64(freedFrames))
		telemetry.BytesEvictedTotal.Add(float64(freedBytes))
	}

	return f
}

// AppendPermanent appends data to the permanent partition
func (q *MessageQueue) AppendPermanent(data []byte) common.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	f := common.Frame{Seq: q.seq, Data: data}
	q.permanent = append(q.permanent, f)
	q.permanentBytes += uint64(len(data))
	return f
}

// Append stores data in the partition named by class
func (q *MessageQueue) Append(data []byte, class common.Retention) common.Frame {
	if class == common.RetentionPermanent {
		return q.AppendPermanent(data)
	}
	return q.AppendEphemeral(data)
}

// Snapshot copies both partitions in order under a read lock
func (q *MessageQueue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snap := Snapshot{
		Permanent: make([]common.Frame, len(q.permanent)),
		Ephemeral: make([]common.Frame, q.ephemeral.Length()),
		Seq:       q.seq,
	}
	copy(snap.Permanent, q.permanent)
	for i := range snap.Ephemeral {
		snap.Ephemeral[i] = q.ephemeral.Get(i).(common.Frame)
	}
	return snap
}

// Stats returns the current queue counters
func (q *MessageQueue) Stats() QueueStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return QueueStats{
		Budget:          q.budget,
		EphemeralFrames: q.ephemeral.Length(),
		EphemeralBytes:  q.ephemeralBytes,
		PermanentFrames: len(q.permanent),
		PermanentBytes:  q.permanentBytes,
		EvictedFrames:   q.evictedFrames,
		EvictedBytes:    q.evictedBytes,
		Seq:             q.seq,
	}
}
