package common

// Retention is the retention class a producer assigns to an event
type Retention uint8

const (
	// RetentionEphemeral events are subject to memory-bound eviction
	RetentionEphemeral Retention = iota
	// RetentionPermanent events are kept for the life of the process
	RetentionPermanent
)

// String returns the label used in logs and metrics
func (r Retention) String() string {
	switch r {
	case RetentionEphemeral:
		return "ephemeral"
	case RetentionPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// RetentionHeader is the message header that carries a Retention label
// when events travel through NATS or Kafka
const RetentionHeader = "Rerelay-Retention"

// ParseRetention parses "ephemeral" or "permanent".
// Returns false for anything else.
func ParseRetention(s string) (Retention, bool) {
	switch s {
	case "ephemeral":
		return RetentionEphemeral, true
	case "permanent", "static":
		return RetentionPermanent, true
	default:
		return RetentionEphemeral, false
	}
}

// Frame is one wire-encoded event.
// Data is shared by the retention queue and every client channel; it must
// never be mutated after the frame is created.
type Frame struct {
	Seq  uint64 // Assigned by the retention queue, starts at 1
	Data []byte // Magic marker + serialized event body
}

// Len returns the size of the frame in bytes
func (f Frame) Len() int {
	return len(f.Data)
}
