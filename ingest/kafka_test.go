package ingest

import (
	"testing"
	"time"

	"github.com/brainlesscar/rerelay/cfg"
	"github.com/brainlesscar/rerelay/common"
	"github.com/segmentio/kafka-go"
)

func TestNewReaderConfig(t *testing.T) {
	config := newReaderConfig(cfg.KafkaIngestConfiguration{
		Brokers:  []string{"localhost:9092", "localhost:9093"},
		Topic:    "telemetry",
		GroupID:  "rerelay",
		MinBytes: 1,
		MaxBytes: 2048,
	})

	if len(config.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(config.Brokers))
	}
	if config.Topic != "telemetry" {
		t.Errorf("expected topic telemetry, got %s", config.Topic)
	}
	if config.GroupID != "rerelay" {
		t.Errorf("expected group rerelay, got %s", config.GroupID)
	}
	if config.MaxBytes != 2048 {
		t.Errorf("expected max bytes 2048, got %d", config.MaxBytes)
	}
	if config.StartOffset != kafka.LastOffset {
		t.Errorf("expected to start at the last offset, got %d", config.StartOffset)
	}
	if config.MaxWait != 500*time.Millisecond {
		t.Errorf("expected 500ms max wait, got %v", config.MaxWait)
	}
}

func TestNewKafkaSource(t *testing.T) {
	src, err := NewKafkaSource(cfg.KafkaIngestConfiguration{
		Brokers:          []string{"localhost:9092"},
		Topic:            "telemetry",
		GroupID:          "rerelay",
		DefaultRetention: "permanent",
		MinBytes:         1,
		MaxBytes:         1 << 20,
	}, &mockSink{})
	if err != nil {
		t.Fatalf("unexpected error creating source: %v", err)
	}
	defer src.Close()

	if src.reader == nil {
		t.Fatal("expected non-nil reader")
	}
	if src.def != common.RetentionPermanent {
		t.Errorf("expected permanent default, got %s", src.def)
	}
	if src.Name() != "kafka" {
		t.Errorf("expected name kafka, got %s", src.Name())
	}
}

func TestNewKafkaSourceEmptyBrokers(t *testing.T) {
	_, err := NewKafkaSource(cfg.KafkaIngestConfiguration{Topic: "telemetry"}, &mockSink{})
	if err == nil {
		t.Fatal("expected error for empty brokers")
	}
}

func TestNewKafkaSourceEmptyTopic(t *testing.T) {
	_, err := NewKafkaSource(cfg.KafkaIngestConfiguration{Brokers: []string{"localhost:9092"}}, &mockSink{})
	if err == nil {
		t.Fatal("expected error for empty topic")
	}
}

func TestKafkaSource_Deliver(t *testing.T) {
	sink := &mockSink{}
	src := &KafkaSource{sink: sink, def: common.RetentionEphemeral, topic: "telemetry"}

	src.deliver(kafka.Message{Value: []byte("frame")})
	src.deliver(kafka.Message{
		Value:   []byte("layout"),
		Headers: []kafka.Header{{Key: "other", Value: []byte("x")}, {Key: RetentionHeader, Value: []byte("permanent")}},
	})
	src.deliver(kafka.Message{})

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 intakes, got %d", len(got))
	}
	if got[0].class != common.RetentionEphemeral {
		t.Errorf("expected default retention, got %s", got[0].class)
	}
	if got[1].data != "layout" || got[1].class != common.RetentionPermanent {
		t.Errorf("unexpected intake: %+v", got[1])
	}
}
