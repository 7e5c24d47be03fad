package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/brainlesscar/rerelay/cfg"
	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

func init() {
	RegisterSource("kafka", func(config cfg.IngestConfiguration, sink publisher.Sink) (Source, error) {
		if !config.Kafka.Enabled {
			return nil, nil
		}
		return NewKafkaSource(config.Kafka, sink)
	})
}

// KafkaSource consumes events from a Kafka topic
type KafkaSource struct {
	reader *kafka.Reader
	sink   publisher.Sink
	def    common.Retention
	topic  string
}

func newReaderConfig(config cfg.KafkaIngestConfiguration) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    config.MinBytes,
		MaxBytes:    config.MaxBytes,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.LastOffset,
	}
}

// NewKafkaSource creates a reader for the configured topic
func NewKafkaSource(config cfg.KafkaIngestConfiguration, sink publisher.Sink) (*KafkaSource, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka source requires brokers")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka source requires topic")
	}

	return &KafkaSource{
		reader: kafka.NewReader(newReaderConfig(config)),
		sink:   sink,
		def:    defaultRetention(config.DefaultRetention),
		topic:  config.Topic,
	}, nil
}

// Name implements Source
func (s *KafkaSource) Name() string {
	return "kafka"
}

// Run reads messages until ctx is cancelled or the reader is closed.
// Read failures are logged and retried with backoff.
func (s *KafkaSource) Run(ctx context.Context) error {
	b := newBackoff()
	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			telemetry.IngestMessagesTotal.With("kafka", resultError).Inc()
			delay := b.next()
			log.Warn().Err(err).
				Str("topic", s.topic).
				Dur("retry_in", delay).
				Msg("Failed to read from Kafka")
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		b.reset()
		s.deliver(m)
	}
}

func (s *KafkaSource) deliver(m kafka.Message) {
	if len(m.Value) == 0 {
		telemetry.IngestMessagesTotal.With("kafka", resultEmpty).Inc()
		return
	}
	s.sink.Intake(m.Value, resolveRetention(headerValue(m.Headers, RetentionHeader), s.def))
	telemetry.IngestMessagesTotal.With("kafka", resultAccepted).Inc()
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Close closes the reader
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
