package recording

import (
	"sync"
	"testing"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type intake struct {
	msg   common.Msg
	class common.Retention
}

// mockSink captures intakes for inspection
type mockSink struct {
	mu      sync.Mutex
	intakes []intake
	flushes int
	t       *testing.T
}

func (m *mockSink) Intake(event []byte, class common.Retention) {
	msg, err := encoding.UnmarshalMsg(event)
	require.NoError(m.t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.intakes = append(m.intakes, intake{msg: msg, class: class})
}

func (m *mockSink) Flush() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
}

var _ publisher.Sink = (*mockSink)(nil)

func newStream(t *testing.T, static ...string) (*Stream, *mockSink) {
	t.Helper()
	sink := &mockSink{t: t}
	s, err := NewStream(Config{
		ApplicationID:  "brainlesscar",
		StaticEntities: static,
	}, sink)
	require.NoError(t, err)
	return s, sink
}

func TestNewStream_AnnouncesStore(t *testing.T) {
	s, sink := newStream(t)

	require.Len(t, sink.intakes, 1)
	first := sink.intakes[0]
	assert.Equal(t, common.KindSetStoreInfo, first.msg.Kind)
	assert.Equal(t, common.StoreRecording, first.msg.StoreKind)
	assert.Equal(t, "brainlesscar", first.msg.ApplicationID)
	assert.Equal(t, s.StoreID(), first.msg.StoreID)
	assert.Equal(t, common.RetentionPermanent, first.class)
	assert.NotEmpty(t, s.StoreID())
}

func TestNewStream_InvalidPattern(t *testing.T) {
	_, err := NewStream(Config{StaticEntities: []string{"[oops"}}, &mockSink{t: t})
	assert.Error(t, err)
}

func TestStream_LogClassification(t *testing.T) {
	s, sink := newStream(t, "world/calibration/**")

	require.NoError(t, s.Log("world/camera/rgb", []byte{1, 2, 3}))
	require.NoError(t, s.Log("world/calibration/left", []byte{4}))
	require.NoError(t, s.LogStatic("world/map", []byte{5}))

	require.Len(t, sink.intakes, 4)

	frame := sink.intakes[1]
	assert.Equal(t, common.KindArrow, frame.msg.Kind)
	assert.Equal(t, "world/camera/rgb", frame.msg.EntityPath)
	assert.Equal(t, []byte{1, 2, 3}, frame.msg.Payload)
	assert.Equal(t, common.RetentionEphemeral, frame.class)
	assert.NotEmpty(t, frame.msg.RowID)

	assert.Equal(t, common.RetentionPermanent, sink.intakes[2].class, "static glob match")
	assert.Equal(t, common.RetentionPermanent, sink.intakes[3].class, "LogStatic")
}

func TestStream_StampsAreMonotonic(t *testing.T) {
	s, sink := newStream(t)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Log("world/imu", nil))
	}

	for i := 1; i < len(sink.intakes); i++ {
		prev, cur := sink.intakes[i-1].msg, sink.intakes[i].msg
		assert.Greater(t, cur.LogTime, prev.LogTime)
		assert.Equal(t, prev.LogTick+1, cur.LogTick)
		if prev.RowID != "" {
			assert.Greater(t, cur.RowID, prev.RowID)
		}
	}
}

func TestStream_SendBlueprint(t *testing.T) {
	s, sink := newStream(t)

	layout := []common.Msg{
		{Kind: common.KindArrow, StoreID: "bp", StoreKind: common.StoreBlueprint, EntityPath: "view/1"},
		{Kind: common.KindArrow, StoreID: "bp", StoreKind: common.StoreBlueprint, EntityPath: "view/2"},
	}
	activation := common.Msg{Kind: common.KindBlueprintActivation, StoreID: "bp", StoreKind: common.StoreBlueprint, MakeActive: true}

	require.NoError(t, s.SendBlueprint(layout, activation))

	// store info + synthesized blueprint store info + 2 layout + activation
	require.Len(t, sink.intakes, 5)
	got := sink.intakes[1:]
	assert.Equal(t, common.KindSetStoreInfo, got[0].msg.Kind)
	assert.Equal(t, common.StoreBlueprint, got[0].msg.StoreKind)
	assert.Equal(t, "view/1", got[1].msg.EntityPath)
	assert.Equal(t, "view/2", got[2].msg.EntityPath)
	assert.True(t, got[3].msg.IsActivation())
	for _, in := range got {
		assert.Equal(t, common.RetentionPermanent, in.class)
	}
}

func TestStream_SendBlueprintKeepsExistingStoreInfo(t *testing.T) {
	s, sink := newStream(t)

	layout := []common.Msg{
		{Kind: common.KindSetStoreInfo, StoreID: "bp", StoreKind: common.StoreBlueprint, LogTime: 42, LogTick: 7},
		{Kind: common.KindArrow, StoreID: "bp", StoreKind: common.StoreBlueprint, EntityPath: "view/1"},
	}
	activation := common.Msg{Kind: common.KindBlueprintActivation, StoreID: "bp", StoreKind: common.StoreBlueprint}

	require.NoError(t, s.SendBlueprint(layout, activation))
	require.Len(t, sink.intakes, 4)

	// Stamps loaded from a file are preserved
	assert.Equal(t, int64(42), sink.intakes[1].msg.LogTime)
	assert.Equal(t, uint64(7), sink.intakes[1].msg.LogTick)
}

func TestStream_SendBlueprintRejectsNonActivation(t *testing.T) {
	s, _ := newStream(t)
	err := s.SendBlueprint(nil, common.Msg{Kind: common.KindArrow})
	assert.Error(t, err)
}

func TestStream_Flush(t *testing.T) {
	s, sink := newStream(t)
	s.Flush()
	assert.Equal(t, 1, sink.flushes)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		msg  common.Msg
		want common.Retention
	}{
		{"recording data", common.Msg{Kind: common.KindArrow, StoreKind: common.StoreRecording}, common.RetentionEphemeral},
		{"blueprint data", common.Msg{Kind: common.KindArrow, StoreKind: common.StoreBlueprint}, common.RetentionPermanent},
		{"store info", common.Msg{Kind: common.KindSetStoreInfo}, common.RetentionPermanent},
		{"activation", common.Msg{Kind: common.KindBlueprintActivation}, common.RetentionPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.msg))
		})
	}
}

func TestStream_IntoBroker(t *testing.T) {
	broker := publisher.NewBroker(publisher.BrokerConfig{MemoryLimit: 1})
	defer broker.Close()

	s, err := NewStream(Config{ApplicationID: "brainlesscar"}, broker)
	require.NoError(t, err)
	require.NoError(t, s.Log("world/a", []byte("a")))
	require.NoError(t, s.Log("world/b", []byte("b")))

	snap := broker.Snapshot()
	assert.Len(t, snap.Permanent, 1, "store info survives eviction")
	assert.Len(t, snap.Ephemeral, 1, "budget keeps only the newest frame")
}
