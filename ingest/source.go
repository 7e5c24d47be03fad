// Package ingest feeds events published by external producer processes into
// the broker. Each transport is a Source registered by name; sources that
// are disabled in configuration are skipped.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brainlesscar/rerelay/cfg"
	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/rs/zerolog/log"
)

// RetentionHeader is the message header carrying "permanent" or "ephemeral"
const RetentionHeader = common.RetentionHeader

// Ingest result labels for the ingest_messages_total metric
const (
	resultAccepted = "accepted"
	resultEmpty    = "empty"
	resultError    = "error"
)

// Source delivers externally published events to a sink until its context ends
type Source interface {
	Name() string
	Run(ctx context.Context) error
	Close() error
}

// SourceFactory creates a Source. It returns nil, nil when the source is disabled.
type SourceFactory func(config cfg.IngestConfiguration, sink publisher.Sink) (Source, error)

var (
	sourceFactories = make(map[string]SourceFactory)
	factoryMu       sync.RWMutex
)

// RegisterSource registers a source factory under name
func RegisterSource(name string, factory SourceFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sourceFactories[name] = factory
}

// NewSources creates every enabled source, in name order
func NewSources(config cfg.IngestConfiguration, sink publisher.Sink) ([]Source, error) {
	factoryMu.RLock()
	names := make([]string, 0, len(sourceFactories))
	for name := range sourceFactories {
		names = append(names, name)
	}
	factories := make(map[string]SourceFactory, len(sourceFactories))
	for name, f := range sourceFactories {
		factories[name] = f
	}
	factoryMu.RUnlock()
	sort.Strings(names)

	sources := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := factories[name](config, sink)
		if err != nil {
			for _, s := range sources {
				s.Close()
			}
			return nil, fmt.Errorf("failed to create %s source: %w", name, err)
		}
		if src == nil {
			continue
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// resolveRetention maps a header value to a retention class, falling back to def
func resolveRetention(value string, def common.Retention) common.Retention {
	if value == "" {
		return def
	}
	if r, ok := common.ParseRetention(value); ok {
		return r
	}
	log.Debug().Str("value", value).Msg("Unknown retention header, using default")
	return def
}

// defaultRetention parses a configured default; empty means ephemeral
func defaultRetention(value string) common.Retention {
	r, _ := common.ParseRetention(value)
	return r
}

// Registry runs the configured sources
type Registry struct {
	sources   []Source
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   atomic.Bool
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewRegistry creates the enabled sources without starting them
func NewRegistry(config cfg.IngestConfiguration, sink publisher.Sink) (*Registry, error) {
	sources, err := NewSources(config, sink)
	if err != nil {
		return nil, err
	}

	log.Info().Int("sources", len(sources)).Msg("Ingest registry initialized")
	return &Registry{sources: sources}, nil
}

// Len returns the number of enabled sources
func (r *Registry) Len() int {
	return len(r.sources)
}

// Start runs every source in its own goroutine
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("ingest registry already running")
	}

	ctx, r.cancel = context.WithCancel(ctx)
	for _, src := range r.sources {
		r.wg.Add(1)
		go func(src Source) {
			defer r.wg.Done()
			log.Info().Str("source", src.Name()).Msg("Ingest source started")
			if err := src.Run(ctx); err != nil {
				log.Error().Err(err).Str("source", src.Name()).Msg("Ingest source failed")
				return
			}
			log.Info().Str("source", src.Name()).Msg("Ingest source stopped")
		}(src)
	}

	r.running.Store(true)
	return nil
}

// Stop cancels every source, waits for them and releases their connections
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Swap(false) {
		r.cancel()
		r.wg.Wait()
	}

	r.closeOnce.Do(func() {
		for _, src := range r.sources {
			if err := src.Close(); err != nil {
				log.Warn().Err(err).Str("source", src.Name()).Msg("Failed to close ingest source")
			}
		}
	})
}

const (
	// Initial delay after a failed read
	DefaultRetryInitial = 100 * time.Millisecond
	// Backoff cap
	DefaultRetryMax = 30 * time.Second
	// Backoff multiplier
	DefaultRetryMultiplier = 2.0
)

// backoff is an exponential retry delay
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64
	current    time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		initial:    DefaultRetryInitial,
		max:        DefaultRetryMax,
		multiplier: DefaultRetryMultiplier,
	}
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.initial
		return b.current
	}
	b.current = time.Duration(float64(b.current) * b.multiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}

// sleep waits for d or until ctx ends; it reports whether the wait completed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
