// Package sink forwards events from a producer process to a remote rerelay
// over NATS or Kafka. Both sinks satisfy publisher.Sink, so a recording
// stream can log to them exactly as it logs to a local broker.
package sink

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

// NatsConfig holds configuration for NatsSink
type NatsConfig struct {
	URL     string
	Subject string
	Stream  string // Publish through JetStream into this stream when set
}

// NatsSink publishes events to a NATS subject
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	errors  atomic.Uint64
}

var _ publisher.Sink = (*NatsSink)(nil)

// NewNatsSink connects to NATS and, for JetStream, ensures the stream exists
func NewNatsSink(config NatsConfig) (*NatsSink, error) {
	if config.URL == "" || config.Subject == "" {
		return nil, fmt.Errorf("nats sink requires url and subject")
	}

	nc, err := nats.Connect(config.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s := &NatsSink{nc: nc, subject: config.Subject}
	if config.Stream == "" {
		return s, nil
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      sanitizeStreamName(config.Stream),
		Subjects:  []string{config.Subject},
		Storage:   jetstream.MemoryStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream %s: %w", config.Stream, err)
	}
	s.js = js
	return s, nil
}

// newMsg builds the NATS message for one event
func newMsg(subject string, event []byte, class common.Retention) *nats.Msg {
	return &nats.Msg{
		Subject: subject,
		Data:    event,
		Header:  nats.Header{common.RetentionHeader: []string{class.String()}},
	}
}

// Intake publishes one event. Failures are logged and counted.
func (n *NatsSink) Intake(event []byte, class common.Retention) {
	msg := newMsg(n.subject, event, class)

	var err error
	if n.js != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		_, err = n.js.PublishMsg(ctx, msg)
		cancel()
	} else {
		err = n.nc.PublishMsg(msg)
	}
	if err != nil {
		n.errors.Add(1)
		log.Warn().Err(err).Str("subject", n.subject).Msg("Failed to publish event")
	}
}

// Flush waits until the server has processed everything published so far
func (n *NatsSink) Flush() {
	if err := n.nc.FlushTimeout(publishTimeout); err != nil {
		log.Warn().Err(err).Msg("NATS flush failed")
	}
}

// Errors returns the number of events that failed to publish
func (n *NatsSink) Errors() uint64 {
	return n.errors.Load()
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a name to a valid JetStream stream name
// JetStream stream names can't contain "." so we replace with "_"
func sanitizeStreamName(name string) string {
	return strings.ReplaceAll(name, ".", "_")
}
