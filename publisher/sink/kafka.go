package sink

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 1 << 20 // 1MB
	DefaultKafkaKey        = "rerelay"
)

// KafkaSink publishes events to a Kafka topic
type KafkaSink struct {
	writer *kafka.Writer
	key    []byte
	errors atomic.Uint64
}

var _ publisher.Sink = (*KafkaSink)(nil)

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	Topic            string             // Destination topic
	Key              string             // Message key, picks the partition (default: rerelay)
	BatchSize        int                // Batch size for writes (default: 100)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	RequiredAcks     kafka.RequiredAcks // Ack requirement (default: RequireOne)
	AutoCreateTopics bool               // Auto-create topics if they don't exist
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string, topic string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		Topic:            topic,
		Key:              DefaultKafkaKey,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		RequiredAcks:     kafka.RequireOne,
		AutoCreateTopics: true,
	}
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka sink requires a topic")
	}

	// Set defaults if not provided
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.Key == "" {
		config.Key = DefaultKafkaKey
	}

	// Every message carries the same key, so the hash balancer keeps them on
	// one partition and the relay reads them in intake order
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaSink{writer: writer, key: []byte(config.Key)}, nil
}

// newMessage builds the Kafka message for one event
func newMessage(key, event []byte, class common.Retention) kafka.Message {
	return kafka.Message{
		Key:   key,
		Value: event,
		Headers: []kafka.Header{
			{Key: common.RetentionHeader, Value: []byte(class.String())},
		},
	}
}

// Intake writes one event synchronously. Failures are logged and counted.
func (k *KafkaSink) Intake(event []byte, class common.Retention) {
	if err := k.writer.WriteMessages(context.Background(), newMessage(k.key, event, class)); err != nil {
		k.errors.Add(1)
		log.Warn().Err(err).Str("topic", k.writer.Topic).Msg("Failed to publish event")
	}
}

// Flush is a no-op: writes are synchronous
func (k *KafkaSink) Flush() {}

// Errors returns the number of events that failed to publish
func (k *KafkaSink) Errors() uint64 {
	return k.errors.Load()
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
