package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/brainlesscar/rerelay/cfg"
	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

func init() {
	RegisterSource("nats", func(config cfg.IngestConfiguration, sink publisher.Sink) (Source, error) {
		if !config.Nats.Enabled {
			return nil, nil
		}
		if config.Nats.URL == "" || config.Nats.Subject == "" {
			return nil, fmt.Errorf("nats source requires url and subject")
		}
		return NewNatsSource(config.Nats, sink)
	})
}

// NatsSource subscribes to a NATS subject, or consumes a JetStream stream
// when one is configured
type NatsSource struct {
	config cfg.NatsIngestConfiguration
	sink   publisher.Sink
	def    common.Retention
	nc     *nats.Conn
}

// NewNatsSource connects to NATS. The connection retries in the background.
func NewNatsSource(config cfg.NatsIngestConfiguration, sink publisher.Sink) (*NatsSource, error) {
	nc, err := nats.Connect(config.URL,
		nats.Name("rerelay"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NatsSource{
		config: config,
		sink:   sink,
		def:    defaultRetention(config.DefaultRetention),
		nc:     nc,
	}, nil
}

// Name implements Source
func (s *NatsSource) Name() string {
	return "nats"
}

// Run delivers messages until ctx is cancelled
func (s *NatsSource) Run(ctx context.Context) error {
	if s.config.Stream != "" {
		return s.runJetStream(ctx)
	}

	sub, err := s.nc.Subscribe(s.config.Subject, s.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.config.Subject, err)
	}
	log.Info().Str("subject", s.config.Subject).Msg("Subscribed to NATS subject")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && s.nc.IsConnected() {
		log.Debug().Err(err).Msg("Failed to unsubscribe from NATS")
	}
	return nil
}

func (s *NatsSource) runJetStream(ctx context.Context) error {
	js, err := jetstream.New(s.nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, s.config.Stream, jetstream.ConsumerConfig{
		Durable:       s.config.Durable,
		FilterSubject: s.config.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer on stream %s: %w", s.config.Stream, err)
	}

	cc, err := cons.Consume(func(m jetstream.Msg) {
		s.deliver(m.Data(), m.Headers())
		if err := m.Ack(); err != nil {
			log.Debug().Err(err).Msg("Failed to ack JetStream message")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to consume stream %s: %w", s.config.Stream, err)
	}
	log.Info().
		Str("stream", s.config.Stream).
		Str("subject", s.config.Subject).
		Msg("Consuming JetStream stream")

	<-ctx.Done()
	cc.Stop()
	return nil
}

func (s *NatsSource) handle(m *nats.Msg) {
	s.deliver(m.Data, m.Header)
}

func (s *NatsSource) deliver(data []byte, header nats.Header) {
	if len(data) == 0 {
		telemetry.IngestMessagesTotal.With("nats", resultEmpty).Inc()
		return
	}
	class := resolveRetention(header.Get(RetentionHeader), s.def)
	s.sink.Intake(data, class)
	telemetry.IngestMessagesTotal.With("nats", resultAccepted).Inc()
}

// Close releases the NATS connection
func (s *NatsSource) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
