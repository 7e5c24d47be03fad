package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brainlesscar/rerelay/blueprint"
	"github.com/brainlesscar/rerelay/cfg"
	"github.com/brainlesscar/rerelay/ingest"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/brainlesscar/rerelay/recording"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/brainlesscar/rerelay/transport"
	"github.com/dustin/go-humanize"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const collectInterval = 5 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("server_id", cfg.Config.ServerID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("rerelay - telemetry relay for rerun viewers")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Broker
	budget, err := cfg.Config.Broker.MemoryLimitBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid memory limit")
		return
	}
	budgetStr := "unlimited"
	if budget > 0 {
		budgetStr = humanize.IBytes(budget)
	}
	log.Info().Str("memory_limit", budgetStr).Msg("Initializing broker")
	broker := publisher.NewBroker(publisher.BrokerConfig{MemoryLimit: budget})
	defer broker.Close()

	collector := telemetry.NewMetricsCollector(broker, broker, collectInterval)
	collector.Start()
	defer collector.Stop()

	// Viewer transport
	server := transport.NewServer(transport.ServerConfig{
		ServerID:           cfg.Config.ServerID,
		Address:            cfg.Config.Server.BindAddress,
		Port:               cfg.Config.Server.Port,
		StaticDir:          cfg.Config.Server.StaticDir,
		ClientBuffer:       cfg.Config.Broker.ClientBuffer,
		AbortReplayOnError: cfg.Config.Broker.AbortReplayOnError,
		MetricsHandler:     telemetry.GetMetricsHandler(),
	}, broker)
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start viewer server")
		return
	}
	defer server.Stop()

	// Producers. A failure here leaves viewers connected to whatever was retained.
	sources, err := startProducers(ctx, broker)
	if err != nil {
		log.Error().Err(err).Msg("Producer pipeline failed, serving viewers without new data")
	} else if sources != nil {
		defer sources.Stop()
	}

	log.Info().
		Str("address", server.Addr().String()).
		Msg("rerelay started successfully")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}

// startProducers announces the recording, sends the blueprint and starts
// the ingest sources, in that order
func startProducers(ctx context.Context, broker *publisher.Broker) (*ingest.Registry, error) {
	var bp *blueprint.Blueprint
	if path := cfg.Config.Blueprint.Path; path != "" {
		loaded, err := blueprint.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load blueprint: %w", err)
		}
		bp = &loaded
	} else {
		log.Info().Msg("No blueprint configured")
	}

	stream, err := recording.NewStream(recording.Config{
		ApplicationID:  cfg.Config.Recording.ApplicationID,
		StaticEntities: cfg.Config.Recording.StaticEntities,
	}, broker)
	if err != nil {
		return nil, fmt.Errorf("failed to start recording stream: %w", err)
	}

	if bp != nil {
		if err := stream.SendBlueprint(bp.Messages, bp.Activation); err != nil {
			return nil, fmt.Errorf("failed to send blueprint: %w", err)
		}
	}
	stream.Flush()

	sources, err := ingest.NewRegistry(cfg.Config.Ingest, broker)
	if err != nil {
		return nil, err
	}
	if err := sources.Start(ctx); err != nil {
		sources.Stop()
		return nil, err
	}
	return sources, nil
}
