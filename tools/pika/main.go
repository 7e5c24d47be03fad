package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "publish":
		runPublish(args)
	case "watch":
		runWatch(args)
	case "version":
		fmt.Printf("pika version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pika - rerelay load tool

Usage:
  pika <command> [options]

Commands:
  publish   Log synthetic recordings to a relay through NATS or Kafka
  watch     Attach TCP viewers to relays and measure delivery
  version   Print version
  help      Show this help

Publish Options:
  --transport       nats|kafka (default: nats)
  --nats-url        NATS server URL (default: nats://127.0.0.1:4222)
  --subject         NATS subject (default: rerelay.events)
  --stream          JetStream stream, core NATS when empty
  --brokers         Comma-separated Kafka brokers (default: 127.0.0.1:9092)
  --topic           Kafka topic (default: rerelay-events)
  --producers       Number of concurrent producers (default: 4)
  --rate            Events per second per producer, 0 = unpaced (default: 100)
  --events          Events per producer, 0 = until --duration (default: 1000)
  --duration        Duration to run (e.g., 60s)
  --payload-size    Bytes per event payload (default: 1024)
  --entity          Entity path prefix (default: bench)
  --static-every    Log every Nth event as static, 0 disables (default: 0)
  --static-entities Comma-separated entity globs logged as permanent
  --app-id          Application id of the recording (default: pika)

Watch Options:
  --hosts           Comma-separated relay host:port pairs (default: 127.0.0.1:4000)
  --viewers         Number of viewer connections (default: 10)
  --duration        Duration to watch (e.g., 60s), until interrupt when 0

Examples:
  pika publish --transport=nats --producers=8 --rate=200 --duration=60s
  pika publish --transport=kafka --brokers=127.0.0.1:9092 --events=10000 --rate=0
  pika watch --hosts=127.0.0.1:4000,127.0.0.1:4001 --viewers=50 --duration=60s`)
}

// signalContext cancels on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nInterrupted, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func runPublish(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("publish", flag.ExitOnError)

	fs.StringVar(&cfg.Transport, "transport", "nats", "Bus transport: nats|kafka")
	fs.StringVar(&cfg.NatsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	fs.StringVar(&cfg.Subject, "subject", "rerelay.events", "NATS subject")
	fs.StringVar(&cfg.Stream, "stream", "", "JetStream stream (core NATS when empty)")
	fs.StringVar(&cfg.Brokers, "brokers", "127.0.0.1:9092", "Comma-separated Kafka brokers")
	fs.StringVar(&cfg.Topic, "topic", "rerelay-events", "Kafka topic")
	fs.IntVar(&cfg.Producers, "producers", 4, "Number of concurrent producers")
	fs.IntVar(&cfg.Rate, "rate", 100, "Events per second per producer (0 = unpaced)")
	fs.IntVar(&cfg.Events, "events", 1000, "Events per producer (0 = until --duration)")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run")
	fs.IntVar(&cfg.PayloadSize, "payload-size", 1024, "Bytes per event payload")
	fs.StringVar(&cfg.EntityPrefix, "entity", "bench", "Entity path prefix")
	fs.IntVar(&cfg.StaticEvery, "static-every", 0, "Log every Nth event as static (0 = never)")
	fs.StringVar(&cfg.StaticEntities, "static-entities", "", "Comma-separated entity globs logged as permanent")
	fs.StringVar(&cfg.ApplicationID, "app-id", "pika", "Application id of the recording")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.ValidatePublish(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := executePublish(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
		os.Exit(1)
	}
}

func runWatch(args []string) {
	cfg := &Config{}
	fs := flag.NewFlagSet("watch", flag.ExitOnError)

	fs.StringVar(&cfg.Hosts, "hosts", "127.0.0.1:4000", "Comma-separated relay host:port pairs")
	fs.IntVar(&cfg.Viewers, "viewers", 10, "Number of viewer connections")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to watch (until interrupt when 0)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.ValidateWatch(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := executeWatch(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		os.Exit(1)
	}
}
