package cfg

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/brainlesscar/rerelay/common"
	"github.com/caarlos0/env/v11"
	"github.com/denisbrodbeck/machineid"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// ServerConfiguration controls the viewer listener
type ServerConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	StaticDir   string `toml:"static_dir"` // Serve viewer assets from here when set
}

// BrokerConfiguration controls retention and fan-out
type BrokerConfiguration struct {
	// MemoryLimit is "25%" of total RAM, a size like "512MiB", or "unlimited"
	MemoryLimit        string `toml:"memory_limit"`
	ClientBuffer       int    `toml:"client_buffer"`
	AbortReplayOnError bool   `toml:"abort_replay_on_error"`
}

// RecordingConfiguration controls the built-in recording stream
type RecordingConfiguration struct {
	ApplicationID  string   `toml:"application_id"`
	StaticEntities []string `toml:"static_entities"` // Entity path globs kept as permanent
}

// BlueprintConfiguration points at the viewer layout sent on startup
type BlueprintConfiguration struct {
	Path string `toml:"path"`
}

// NatsIngestConfiguration subscribes to events published over NATS
type NatsIngestConfiguration struct {
	Enabled          bool   `toml:"enabled"`
	URL              string `toml:"url"`
	Subject          string `toml:"subject"`
	Stream           string `toml:"stream"`  // JetStream stream; core subscription when empty
	Durable          string `toml:"durable"` // JetStream consumer name
	DefaultRetention string `toml:"default_retention"`
}

// KafkaIngestConfiguration consumes events from a Kafka topic
type KafkaIngestConfiguration struct {
	Enabled          bool     `toml:"enabled"`
	Brokers          []string `toml:"brokers"`
	Topic            string   `toml:"topic"`
	GroupID          string   `toml:"group_id"`
	DefaultRetention string   `toml:"default_retention"`
	MinBytes         int      `toml:"min_bytes"`
	MaxBytes         int      `toml:"max_bytes"`
}

// IngestConfiguration groups the external event sources
type IngestConfiguration struct {
	Nats  NatsIngestConfiguration  `toml:"nats"`
	Kafka KafkaIngestConfiguration `toml:"kafka"`
}

// LoggingConfiguration controls logging
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration controls Prometheus metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	ServerID string `toml:"server_id"`

	Server     ServerConfiguration     `toml:"server"`
	Broker     BrokerConfiguration     `toml:"broker"`
	Recording  RecordingConfiguration  `toml:"recording"`
	Blueprint  BlueprintConfiguration  `toml:"blueprint"`
	Ingest     IngestConfiguration     `toml:"ingest"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// envOverrides are read from the process environment
type envOverrides struct {
	ServerAddr    string `env:"SERVER_ADDR"`
	ServerPort    int    `env:"SERVER_PORT"`
	BlueprintPath string `env:"RERUN_BLUEPRINT_PATH"`
	MemoryLimit   string `env:"RERELAY_MEMORY_LIMIT"`
}

// Command line flags
var (
	ConfigPathFlag  = flag.String("config", "config.toml", "Path to configuration file")
	BindFlag        = flag.String("bind", "", "Bind address (overrides config)")
	PortFlag        = flag.Int("port", 0, "Listen port (overrides config)")
	BlueprintFlag   = flag.String("blueprint", "", "Blueprint file (overrides config)")
	MemoryLimitFlag = flag.String("memory-limit", "", "Ephemeral memory budget, e.g. 25% or 512MiB (overrides config)")
)

// Config is the global configuration with defaults
var Config = &Configuration{
	Server: ServerConfiguration{
		BindAddress: "0.0.0.0",
		Port:        4000,
	},
	Broker: BrokerConfiguration{
		MemoryLimit:        "25%",
		ClientBuffer:       100,
		AbortReplayOnError: true,
	},
	Recording: RecordingConfiguration{
		ApplicationID: "brainlesscar",
	},
	Ingest: IngestConfiguration{
		Nats: NatsIngestConfiguration{
			URL:              "nats://127.0.0.1:4222",
			Subject:          "rerelay.events",
			DefaultRetention: "ephemeral",
		},
		Kafka: KafkaIngestConfiguration{
			Topic:            "rerelay-events",
			GroupID:          "rerelay",
			DefaultRetention: "ephemeral",
			MinBytes:         1,
			MaxBytes:         10 << 20,
		},
	},
	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},
	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file, then applies environment and CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if err := applyEnv(); err != nil {
		return err
	}

	// Apply CLI overrides
	if *BindFlag != "" {
		Config.Server.BindAddress = *BindFlag
	}
	if *PortFlag != 0 {
		Config.Server.Port = *PortFlag
	}
	if *BlueprintFlag != "" {
		Config.Blueprint.Path = *BlueprintFlag
	}
	if *MemoryLimitFlag != "" {
		Config.Broker.MemoryLimit = *MemoryLimitFlag
	}

	if Config.ServerID == "" {
		Config.ServerID = generateServerID()
		log.Info().Str("server_id", Config.ServerID).Msg("Auto-generated server ID")
	}

	return nil
}

func applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if o.ServerAddr != "" {
		Config.Server.BindAddress = o.ServerAddr
	}
	if o.ServerPort != 0 {
		Config.Server.Port = o.ServerPort
	}
	if o.BlueprintPath != "" {
		Config.Blueprint.Path = o.BlueprintPath
	}
	if o.MemoryLimit != "" {
		Config.Broker.MemoryLimit = o.MemoryLimit
	}
	return nil
}

// generateServerID derives a stable identifier from the machine ID
func generateServerID() string {
	id, err := machineid.ProtectedID("rerelay")
	if err != nil {
		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "localhost"
		}
		log.Warn().Err(err).Str("hostname", hostname).Msg("Failed to read machine ID, using hostname")
		return hostname
	}
	return id[:12]
}

// MemoryLimitBytes resolves the ephemeral memory budget. Zero means unbounded.
func (b BrokerConfiguration) MemoryLimitBytes() (uint64, error) {
	return ParseMemoryLimit(b.MemoryLimit)
}

// ParseMemoryLimit parses a percentage of total RAM, a byte size, or "unlimited"
func ParseMemoryLimit(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "unlimited") {
		return 0, nil
	}

	if pct, ok := strings.CutSuffix(s, "%"); ok {
		p, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
		}
		if p <= 0 || p > 100 {
			return 0, fmt.Errorf("memory limit %q must be in (0%%, 100%%]", s)
		}
		total, err := totalMemory()
		if err != nil {
			return 0, fmt.Errorf("memory limit %q: %w", s, err)
		}
		return uint64(float64(total) * p / 100), nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid memory limit %q: %w", s, err)
	}
	return n, nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Server.Port < 1 || Config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", Config.Server.Port)
	}

	if _, err := Config.Broker.MemoryLimitBytes(); err != nil {
		return err
	}

	if Config.Broker.ClientBuffer < 1 {
		return fmt.Errorf("client_buffer must be >= 1")
	}

	switch Config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging format: %q (must be console or json)", Config.Logging.Format)
	}

	nc := Config.Ingest.Nats
	if nc.Enabled {
		if nc.URL == "" || nc.Subject == "" {
			return fmt.Errorf("ingest.nats requires url and subject")
		}
		if err := validateRetention("ingest.nats", nc.DefaultRetention); err != nil {
			return err
		}
	}

	kc := Config.Ingest.Kafka
	if kc.Enabled {
		if len(kc.Brokers) == 0 || kc.Topic == "" {
			return fmt.Errorf("ingest.kafka requires brokers and topic")
		}
		if err := validateRetention("ingest.kafka", kc.DefaultRetention); err != nil {
			return err
		}
		if kc.MinBytes < 0 || kc.MaxBytes < kc.MinBytes {
			return fmt.Errorf("ingest.kafka max_bytes must be >= min_bytes")
		}
	}

	return nil
}

func validateRetention(section, v string) error {
	if v == "" {
		return nil
	}
	if _, ok := common.ParseRetention(v); !ok {
		return fmt.Errorf("%s default_retention %q must be ephemeral or permanent", section, v)
	}
	return nil
}
