package main

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/brainlesscar/rerelay/publisher/sink"
	"github.com/brainlesscar/rerelay/recording"
)

// remoteSink is a sink that forwards to a relay over a message bus
type remoteSink interface {
	publisher.Sink
	Errors() uint64
	Close() error
}

// countingSink records every event handed to the wrapped sink.
type countingSink struct {
	remoteSink
	stats *Stats
}

func (c *countingSink) Intake(event []byte, class common.Retention) {
	c.stats.RecordPublish(len(event), class == common.RetentionPermanent)
	c.remoteSink.Intake(event, class)
}

func newSink(cfg *Config) (remoteSink, error) {
	switch cfg.Transport {
	case "nats":
		return sink.NewNatsSink(sink.NatsConfig{
			URL:     cfg.NatsURL,
			Subject: cfg.Subject,
			Stream:  cfg.Stream,
		})
	case "kafka":
		return sink.NewKafkaSink(sink.DefaultKafkaConfig(cfg.BrokerList(), cfg.Topic))
	default:
		return nil, fmt.Errorf("unknown transport %s", cfg.Transport)
	}
}

// Producer logs synthetic records into a recording stream.
type Producer struct {
	id          int
	stream      *recording.Stream
	entity      string
	payloadSize int
	staticEvery int
	rng         *rand.Rand
}

// NewProducer creates a new producer.
func NewProducer(id int, stream *recording.Stream, prefix string, payloadSize, staticEvery int) *Producer {
	return &Producer{
		id:          id,
		stream:      stream,
		entity:      fmt.Sprintf("%s/producer_%d", strings.Trim(prefix, "/"), id),
		payloadSize: payloadSize,
		staticEvery: staticEvery,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
	}
}

// Run logs events until count is reached (0 means unbounded) or ctx ends.
// A positive rate paces events per second.
func (p *Producer) Run(ctx context.Context, count, rate int, wg *sync.WaitGroup) {
	defer wg.Done()

	var tick <-chan time.Time
	if rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; count == 0 || i < count; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		if err := p.logOne(i); err != nil {
			fmt.Printf("producer %d: %v\n", p.id, err)
			return
		}
	}
}

func (p *Producer) logOne(i int) error {
	payload := make([]byte, p.payloadSize)
	p.rng.Read(payload)

	if p.staticEvery > 0 && i%p.staticEvery == 0 {
		return p.stream.LogStatic(p.entity+"/static", payload)
	}
	return p.stream.Log(p.entity+"/data", payload)
}

// executePublish runs the publish phase.
func executePublish(ctx context.Context, cfg *Config) error {
	fmt.Println("╔══════════════════════════════════════════════════════╗")
	fmt.Println("║            Pika Publish Phase                        ║")
	fmt.Println("╚══════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Printf("Transport:   %s\n", cfg.Transport)
	if cfg.Transport == "nats" {
		fmt.Printf("NATS:        %s (subject %s)\n", cfg.NatsURL, cfg.Subject)
	} else {
		fmt.Printf("Kafka:       %s (topic %s)\n", cfg.Brokers, cfg.Topic)
	}
	fmt.Printf("Producers:   %d\n", cfg.Producers)
	fmt.Printf("Rate:        %d/s per producer\n", cfg.Rate)
	fmt.Printf("Events:      %d per producer\n", cfg.Events)
	if cfg.Duration > 0 {
		fmt.Printf("Duration:    %s\n", cfg.Duration)
	}
	fmt.Printf("PayloadSize: %d\n", cfg.PayloadSize)
	fmt.Println()

	remote, err := newSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	defer remote.Close()

	stats := NewStats()
	counted := &countingSink{remoteSink: remote, stats: stats}

	stream, err := recording.NewStream(recording.Config{
		ApplicationID:  cfg.ApplicationID,
		StaticEntities: cfg.StaticList(),
	}, counted)
	if err != nil {
		return fmt.Errorf("failed to start recording stream: %w", err)
	}
	fmt.Printf("Recording store: %s\n\n", stream.StoreID())

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	var wg sync.WaitGroup
	start := time.Now()

	reporterCtx, stopReporter := context.WithCancel(ctx)
	go reportProgress(reporterCtx, stats, false)

	for i := 0; i < cfg.Producers; i++ {
		wg.Add(1)
		p := NewProducer(i, stream, cfg.EntityPrefix, cfg.PayloadSize, cfg.StaticEvery)
		go p.Run(ctx, cfg.Events, cfg.Rate, &wg)
	}

	wg.Wait()
	stream.Flush()
	stopReporter()
	elapsed := time.Since(start)
	stats.RecordPublishErrors(remote.Errors())

	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════")
	fmt.Println("                  PUBLISH COMPLETE                     ")
	fmt.Println("═══════════════════════════════════════════════════════")
	stats.PrintPublish(elapsed)

	return nil
}
