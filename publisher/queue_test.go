package publisher

import (
	"bytes"
	"strings"
	"testing"

	"github.com/brainlesscar/rerelay/common"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bytesOf(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func seqs(frames []common.Frame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Seq
	}
	return out
}

func TestMessageQueue_EvictionExample(t *testing.T) {
	// Budget 10 with three 6-byte frames: [f1] -> [f2] -> [f3]
	q := NewMessageQueue(10)

	f1 := q.AppendEphemeral(bytesOf(6, '1'))
	snap := q.Snapshot()
	assert.Equal(t, []uint64{f1.Seq}, seqs(snap.Ephemeral))

	f2 := q.AppendEphemeral(bytesOf(6, '2'))
	snap = q.Snapshot()
	assert.Equal(t, []uint64{f2.Seq}, seqs(snap.Ephemeral))

	f3 := q.AppendEphemeral(bytesOf(6, '3'))
	snap = q.Snapshot()
	assert.Equal(t, []uint64{f3.Seq}, seqs(snap.Ephemeral))

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.EvictedFrames)
	assert.Equal(t, uint64(12), stats.EvictedBytes)
	assert.Equal(t, uint64(6), stats.EphemeralBytes)
}

func TestMessageQueue_BudgetHonoured(t *testing.T) {
	q := NewMessageQueue(100)

	for i := 0; i < 50; i++ {
		q.AppendEphemeral(bytesOf(7, byte(i)))
		stats := q.Stats()
		require.LessOrEqual(t, stats.EphemeralBytes, uint64(100))
	}

	// Survivors are the newest frames, in order
	snap := q.Snapshot()
	require.Len(t, snap.Ephemeral, 14)
	assert.Equal(t, uint64(50), snap.Ephemeral[len(snap.Ephemeral)-1].Seq)
	for i := 1; i < len(snap.Ephemeral); i++ {
		assert.Equal(t, snap.Ephemeral[i-1].Seq+1, snap.Ephemeral[i].Seq)
	}
}

func TestMessageQueue_OversizedFrameKept(t *testing.T) {
	q := NewMessageQueue(10)
	q.AppendEphemeral(bytesOf(4, 'a'))
	q.AppendEphemeral(bytesOf(4, 'b'))

	big := q.AppendEphemeral(bytesOf(25, 'z'))

	snap := q.Snapshot()
	require.Len(t, snap.Ephemeral, 1)
	assert.Equal(t, big.Seq, snap.Ephemeral[0].Seq)
	assert.Equal(t, uint64(25), q.Stats().EphemeralBytes)

	// The next frame evicts the oversized one
	next := q.AppendEphemeral(bytesOf(3, 'c'))
	snap = q.Snapshot()
	assert.Equal(t, []uint64{next.Seq}, seqs(snap.Ephemeral))
}

func TestMessageQueue_ExactFit(t *testing.T) {
	q := NewMessageQueue(10)
	q.AppendEphemeral(bytesOf(5, 'a'))
	q.AppendEphemeral(bytesOf(5, 'b'))

	snap := q.Snapshot()
	assert.Len(t, snap.Ephemeral, 2)
	assert.Equal(t, uint64(0), q.Stats().EvictedFrames)
}

func TestMessageQueue_UnboundedBudget(t *testing.T) {
	q := NewMessageQueue(0)
	for i := 0; i < 1000; i++ {
		q.AppendEphemeral(bytesOf(1024, 'x'))
	}

	stats := q.Stats()
	assert.Equal(t, 1000, stats.EphemeralFrames)
	assert.Equal(t, uint64(0), stats.EvictedFrames)
}

func TestMessageQueue_PermanentNeverEvicted(t *testing.T) {
	q := NewMessageQueue(10)

	p1 := q.AppendPermanent(bytesOf(50, 'p'))
	for i := 0; i < 20; i++ {
		q.AppendEphemeral(bytesOf(6, 'e'))
	}
	p2 := q.AppendPermanent(bytesOf(50, 'q'))

	snap := q.Snapshot()
	assert.Equal(t, []uint64{p1.Seq, p2.Seq}, seqs(snap.Permanent))
	assert.Len(t, snap.Ephemeral, 1)

	stats := q.Stats()
	assert.Equal(t, uint64(100), stats.PermanentBytes)
	assert.LessOrEqual(t, stats.EphemeralBytes, uint64(10))
}

func TestMessageQueue_SeqMonotonicAcrossPartitions(t *testing.T) {
	q := NewMessageQueue(0)

	a := q.Append([]byte("a"), common.RetentionPermanent)
	b := q.Append([]byte("b"), common.RetentionEphemeral)
	c := q.Append([]byte("c"), common.RetentionPermanent)

	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.Equal(t, uint64(3), c.Seq)
	assert.Equal(t, uint64(3), q.Snapshot().Seq)
}

func TestMessageQueue_SnapshotIsCopy(t *testing.T) {
	q := NewMessageQueue(0)
	q.AppendEphemeral([]byte("one"))

	snap := q.Snapshot()
	q.AppendEphemeral([]byte("two"))
	q.AppendPermanent([]byte("three"))

	assert.Len(t, snap.Ephemeral, 1)
	assert.Empty(t, snap.Permanent)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 1, snap.Len())
}

func TestMessageQueue_SharesBuffer(t *testing.T) {
	q := NewMessageQueue(0)
	data := []byte("RR00payload")

	f := q.AppendEphemeral(data)
	snap := q.Snapshot()

	assert.Same(t, &data[0], &f.Data[0])
	assert.Same(t, &data[0], &snap.Ephemeral[0].Data[0])
}

func TestMessageQueue_LimitReachedLoggedOnce(t *testing.T) {
	var out bytes.Buffer
	saved := log.Logger
	log.Logger = zerolog.New(&out).Level(zerolog.InfoLevel)
	defer func() { log.Logger = saved }()

	q := NewMessageQueue(10)
	for i := 0; i < 20; i++ {
		q.AppendEphemeral(bytesOf(6, byte('a'+i)))
	}

	assert.Equal(t, uint64(19), q.Stats().EvictedFrames)
	assert.Equal(t, 1, strings.Count(out.String(), "Memory limit reached"))
}
