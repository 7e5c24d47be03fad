// Package recording is the producer side of rerelay: it turns logged data
// into telemetry records, picks a retention class for each and hands them
// to a publisher.Sink.
package recording

import (
	"fmt"
	"sync"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/encoding"
	"github.com/brainlesscar/rerelay/hlc"
	"github.com/brainlesscar/rerelay/id"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/rs/zerolog/log"
)

// Config configures a recording stream
type Config struct {
	ApplicationID  string   // Shown by viewers as the recording's application
	StoreID        string   // Generated when empty
	StaticEntities []string // Entity path globs logged as permanent
}

// Stream logs records into a sink
type Stream struct {
	sink    publisher.Sink
	appID   string
	storeID string
	static  *EntityFilter
	clock   *hlc.Clock
	ids     *id.ULIDGenerator

	// mu keeps stamping and intake in one order
	mu sync.Mutex
}

// Classify returns the retention class of a record.
// Data of a recording store is ephemeral; store descriptions and all
// blueprint records are permanent so late joiners can decode the stream.
func Classify(msg common.Msg) common.Retention {
	if msg.Kind == common.KindArrow && msg.StoreKind != common.StoreBlueprint {
		return common.RetentionEphemeral
	}
	return common.RetentionPermanent
}

// NewStream creates a recording stream and announces its store to the sink
func NewStream(config Config, sink publisher.Sink) (*Stream, error) {
	static, err := NewEntityFilter(config.StaticEntities)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		sink:    sink,
		appID:   config.ApplicationID,
		storeID: config.StoreID,
		static:  static,
		clock:   hlc.NewClock(),
		ids:     id.NewULIDGenerator(),
	}
	if s.storeID == "" {
		s.storeID = s.ids.NextID()
	}

	if err := s.Send(common.Msg{
		Kind:          common.KindSetStoreInfo,
		StoreID:       s.storeID,
		StoreKind:     common.StoreRecording,
		ApplicationID: s.appID,
	}); err != nil {
		return nil, err
	}

	log.Info().
		Str("application_id", s.appID).
		Str("store_id", s.storeID).
		Int("static_patterns", len(config.StaticEntities)).
		Msg("Recording stream started")
	return s, nil
}

// StoreID returns the recording store identifier
func (s *Stream) StoreID() string {
	return s.storeID
}

// Log records payload under entityPath. The record is ephemeral unless the
// path matches one of the static entity patterns.
func (s *Stream) Log(entityPath string, payload []byte) error {
	msg := s.arrow(entityPath, payload)
	class := Classify(msg)
	if s.static.Match(entityPath) {
		class = common.RetentionPermanent
	}
	return s.send(msg, class)
}

// LogStatic records payload under entityPath as permanent data
func (s *Stream) LogStatic(entityPath string, payload []byte) error {
	return s.send(s.arrow(entityPath, payload), common.RetentionPermanent)
}

// SendBlueprint sends a viewer layout followed by its activation record.
// A store description is sent first unless msgs already carries one.
func (s *Stream) SendBlueprint(msgs []common.Msg, activation common.Msg) error {
	if !activation.IsActivation() {
		return fmt.Errorf("blueprint activation has kind %s", activation.Kind)
	}

	if !hasStoreInfo(msgs, activation.StoreID) {
		info := common.Msg{
			Kind:          common.KindSetStoreInfo,
			StoreID:       activation.StoreID,
			StoreKind:     common.StoreBlueprint,
			ApplicationID: s.appID,
		}
		if err := s.send(info, common.RetentionPermanent); err != nil {
			return err
		}
	}

	for _, msg := range msgs {
		if err := s.send(msg, common.RetentionPermanent); err != nil {
			return err
		}
	}
	if err := s.send(activation, common.RetentionPermanent); err != nil {
		return err
	}

	log.Info().
		Str("blueprint", activation.StoreID).
		Int("messages", len(msgs)).
		Msg("Blueprint sent")
	return nil
}

// Send stamps msg if needed and hands it to the sink with its classified retention
func (s *Stream) Send(msg common.Msg) error {
	return s.send(msg, Classify(msg))
}

// Flush asks the sink to push pending frames to viewers
func (s *Stream) Flush() {
	s.sink.Flush()
}

func (s *Stream) arrow(entityPath string, payload []byte) common.Msg {
	return common.Msg{
		Kind:       common.KindArrow,
		StoreID:    s.storeID,
		StoreKind:  common.StoreRecording,
		EntityPath: entityPath,
		Payload:    payload,
	}
}

func (s *Stream) send(msg common.Msg, class common.Retention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Records loaded from a file keep their original stamps
	if msg.LogTime == 0 {
		ts := s.clock.Now()
		msg.LogTime = ts.LogTime
		msg.LogTick = ts.LogTick
	}
	if msg.Kind == common.KindArrow && msg.RowID == "" {
		msg.RowID = s.ids.At(time.Unix(0, msg.LogTime))
	}

	body, err := encoding.MarshalMsg(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", msg.Kind, err)
	}
	s.sink.Intake(body, class)
	return nil
}

func hasStoreInfo(msgs []common.Msg, storeID string) bool {
	for _, m := range msgs {
		if m.Kind == common.KindSetStoreInfo && m.StoreID == storeID {
			return true
		}
	}
	return false
}
