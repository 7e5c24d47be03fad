// Package publisher implements the rerelay event broker.
//
// Producers hand serialized events to a Sink together with a retention
// class. The Broker encodes each event once into a wire frame, stores it in
// the MessageQueue and fans the very same buffer out to every registered
// client through a notify.Hub.
//
// # MessageQueue
//
// The queue has two partitions:
//
//   - Ephemeral: FIFO bounded by a byte budget. Appending evicts the oldest
//     frames until the new frame fits. A frame larger than the whole budget
//     is kept on its own.
//   - Permanent: append-only, never evicted, not counted against the budget.
//
// Every append is assigned a sequence number, monotonic across both
// partitions and starting at 1. Sessions use it to tell replayed frames from
// live ones.
//
//	budget 10, three 6-byte frames:  [f1] -> [f2] -> [f3]
//
// # Ordering
//
// Broker.Intake appends and broadcasts under one mutex, so concurrent
// producers yield one total order that every client observes. Broadcast is
// non-blocking: a client whose channel is full loses the newest frame.
//
// # Thread Safety
//
// All Broker and MessageQueue methods are safe for concurrent use.
// Snapshot copies the partitions under a read lock and never observes a
// half-applied eviction.
package publisher
