package publisher

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *notify.Subscriber) common.Frame {
	t.Helper()
	select {
	case f, ok := <-sub.Frames:
		require.True(t, ok, "subscriber channel closed")
		return f
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return common.Frame{}
	}
}

func TestBroker_IntakeRetainsAndBroadcasts(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	defer b.Close()

	sub := notify.NewSubscriber("test", 10)
	b.Subscribe(sub)

	b.Intake([]byte("static"), common.RetentionPermanent)
	b.Intake([]byte("frame"), common.RetentionEphemeral)

	f1 := receive(t, sub)
	f2 := receive(t, sub)

	body, err := encoding.DecodeFrame(f1.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("static"), body)
	body, err = encoding.DecodeFrame(f2.Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), body)

	snap := b.Snapshot()
	require.Len(t, snap.Permanent, 1)
	require.Len(t, snap.Ephemeral, 1)

	// The queue and the client hold the same buffer
	assert.Same(t, &snap.Permanent[0].Data[0], &f1.Data[0])
	assert.Same(t, &snap.Ephemeral[0].Data[0], &f2.Data[0])
}

func TestBroker_MemoryLimitCountsEncodedFrames(t *testing.T) {
	// Each 2-byte event becomes a 6-byte frame
	b := NewBroker(BrokerConfig{MemoryLimit: 10})
	defer b.Close()

	b.Intake([]byte("f1"), common.RetentionEphemeral)
	b.Intake([]byte("f2"), common.RetentionEphemeral)
	b.Intake([]byte("f3"), common.RetentionEphemeral)

	snap := b.Snapshot()
	require.Len(t, snap.Ephemeral, 1)
	body, err := encoding.DecodeFrame(snap.Ephemeral[0].Data)
	require.NoError(t, err)
	assert.Equal(t, []byte("f3"), body)

	ephFrames, ephBytes, permFrames := b.RetentionStats()
	assert.Equal(t, 1, ephFrames)
	assert.Equal(t, 6, ephBytes)
	assert.Equal(t, 0, permFrames)
}

func TestBroker_ConcurrentProducersShareOneOrder(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	defer b.Close()

	const producers = 8
	const perProducer = 50
	const total = producers * perProducer

	sub1 := notify.NewSubscriber("one", total)
	sub2 := notify.NewSubscriber("two", total)
	b.Subscribe(sub1)
	b.Subscribe(sub2)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				class := common.RetentionEphemeral
				if i%10 == 0 {
					class = common.RetentionPermanent
				}
				b.Intake([]byte(fmt.Sprintf("p%d-%d", p, i)), class)
			}
		}(p)
	}
	wg.Wait()

	for i := 0; i < total; i++ {
		f1 := receive(t, sub1)
		f2 := receive(t, sub2)
		require.Equal(t, uint64(i+1), f1.Seq, "client one saw frames out of queue order")
		require.Equal(t, f1.Seq, f2.Seq, "clients disagree on order")
		require.Equal(t, f1.Data, f2.Data)
	}
}

func TestBroker_FlushNudgesSubscribers(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	defer b.Close()

	sub := notify.NewSubscriber("test", 1)
	b.Subscribe(sub)
	b.Flush()

	select {
	case <-sub.Flush:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for flush nudge")
	}
}

func TestBroker_SlowClientDoesNotBlockIntake(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	defer b.Close()

	slow := notify.NewSubscriber("slow", 1)
	b.Subscribe(slow)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			b.Intake([]byte("x"), common.RetentionEphemeral)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("intake blocked on a slow client")
	}
	assert.Equal(t, uint64(499), slow.Dropped())
	assert.Equal(t, 500, b.Stats().EphemeralFrames)
}

func TestBroker_UnsubscribeAndClients(t *testing.T) {
	b := NewBroker(BrokerConfig{})
	defer b.Close()

	h := b.Subscribe(notify.NewSubscriber("10.1.1.1:9000", 5))
	require.Equal(t, 1, b.ClientCount())
	clients := b.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, "10.1.1.1:9000", clients[0].Addr)

	b.Unsubscribe(h)
	b.Unsubscribe(h)
	assert.Equal(t, 0, b.ClientCount())
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(BrokerConfig{})

	sub := notify.NewSubscriber("test", 5)
	b.Subscribe(sub)
	b.Intake([]byte("before"), common.RetentionPermanent)

	b.Close()
	b.Close()

	// Pending frame is still readable, then the channel is closed
	f := receive(t, sub)
	assert.Equal(t, uint64(1), f.Seq)
	_, ok := <-sub.Frames
	assert.False(t, ok)

	// Intake after close is a no-op
	b.Intake([]byte("after"), common.RetentionPermanent)
	assert.Equal(t, 1, b.Snapshot().Len())
}
