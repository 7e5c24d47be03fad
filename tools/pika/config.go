package main

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	// Publish transport
	Transport string // nats|kafka
	NatsURL   string
	Subject   string
	Stream    string
	Brokers   string
	Topic     string

	// Publish options
	Producers      int
	Rate           int // Events per second per producer, 0 means as fast as possible
	Events         int // Events per producer, 0 means until --duration or interrupt
	PayloadSize    int
	EntityPrefix   string
	StaticEvery    int // Every Nth event is logged as static, 0 disables
	ApplicationID  string
	StaticEntities string

	// Watch options
	Hosts   string
	Viewers int

	Duration time.Duration

	// Derived
	hostList   []string
	brokerList []string
	staticList []string
}

// ValidatePublish checks options used by the publish command
func (c *Config) ValidatePublish() error {
	switch c.Transport {
	case "nats":
		if c.NatsURL == "" || c.Subject == "" {
			return fmt.Errorf("nats transport requires --nats-url and --subject")
		}
	case "kafka":
		list, err := splitList(c.Brokers)
		if err != nil {
			return fmt.Errorf("brokers: %w", err)
		}
		c.brokerList = list
		if c.Topic == "" {
			return fmt.Errorf("kafka transport requires --topic")
		}
	default:
		return fmt.Errorf("invalid transport: %s (must be nats or kafka)", c.Transport)
	}

	if c.Producers < 1 {
		return fmt.Errorf("producers must be at least 1")
	}
	if c.Rate < 0 {
		return fmt.Errorf("rate must be non-negative")
	}
	if c.Events < 0 {
		return fmt.Errorf("events must be non-negative")
	}
	if c.PayloadSize < 0 {
		return fmt.Errorf("payload-size must be non-negative")
	}
	if c.StaticEvery < 0 {
		return fmt.Errorf("static-every must be non-negative")
	}
	if strings.Trim(c.EntityPrefix, "/") == "" {
		return fmt.Errorf("entity prefix cannot be empty")
	}

	if c.StaticEntities != "" {
		list, err := splitList(c.StaticEntities)
		if err != nil {
			return fmt.Errorf("static entities: %w", err)
		}
		c.staticList = list
	}
	return nil
}

// ValidateWatch checks options used by the watch command
func (c *Config) ValidateWatch() error {
	list, err := splitList(c.Hosts)
	if err != nil {
		return fmt.Errorf("hosts: %w", err)
	}
	c.hostList = list

	if c.Viewers < 1 {
		return fmt.Errorf("viewers must be at least 1")
	}
	return nil
}

// HostList returns the parsed list of relay addresses.
func (c *Config) HostList() []string {
	return c.hostList
}

// BrokerList returns the parsed list of Kafka brokers.
func (c *Config) BrokerList() []string {
	return c.brokerList
}

// StaticList returns the parsed static entity globs.
func (c *Config) StaticList() []string {
	return c.staticList
}

func splitList(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("cannot be empty")
	}
	list := strings.Split(s, ",")
	for i, item := range list {
		list[i] = strings.TrimSpace(item)
		if list[i] == "" {
			return nil, fmt.Errorf("empty item in list")
		}
	}
	return list, nil
}
