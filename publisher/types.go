package publisher

import "github.com/brainlesscar/rerelay/common"

// Sink is the intake side of the broker as seen by producers
type Sink interface {
	// Intake accepts one serialized event with its retention class.
	// It never blocks on slow clients.
	Intake(event []byte, class common.Retention)
	// Flush asks every client session to push out its pending frames
	Flush()
}

// Snapshot is a consistent copy of the retention queue.
// Frames share their Data with the queue; callers must not mutate them.
type Snapshot struct {
	Permanent []common.Frame
	Ephemeral []common.Frame
	Seq       uint64 // Highest sequence assigned when the snapshot was taken
}

// Len returns the number of frames in the snapshot
func (s Snapshot) Len() int {
	return len(s.Permanent) + len(s.Ephemeral)
}

// QueueStats describes the retention queue
type QueueStats struct {
	Budget          uint64 `json:"budget"` // 0 = unbounded
	EphemeralFrames int    `json:"ephemeral_frames"`
	EphemeralBytes  uint64 `json:"ephemeral_bytes"`
	PermanentFrames int    `json:"permanent_frames"`
	PermanentBytes  uint64 `json:"permanent_bytes"`
	EvictedFrames   uint64 `json:"evicted_frames"`
	EvictedBytes    uint64 `json:"evicted_bytes"`
	Seq             uint64 `json:"seq"`
}
