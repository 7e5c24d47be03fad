// Package session runs one viewer connection: register with the broker,
// replay the retained frames, then stream live frames until the connection
// fails or the broker shuts down.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brainlesscar/rerelay/common"
	"github.com/brainlesscar/rerelay/notify"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/brainlesscar/rerelay/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a session
type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateReplaying
	StateStreaming
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateReplaying:
		return "replaying"
	case StateStreaming:
		return "streaming"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Conn is a framed connection to one viewer.
// WriteFrame sends one complete frame; an error ends the session.
type Conn interface {
	WriteFrame(frame []byte) error
	RemoteAddr() string
}

// Broker is the part of publisher.Broker a session needs
type Broker interface {
	Subscribe(sub *notify.Subscriber) notify.Handle
	Unsubscribe(h notify.Handle)
	Snapshot() publisher.Snapshot
}

// Options configures a session
type Options struct {
	ID                 string // Diagnostic identifier
	ClientBuffer       int    // Frame channel capacity, <= 0 uses notify.DefaultClientBuffer
	AbortReplayOnError bool   // End the session on the first failed replay write
}

// Session result labels for the sessions_total metric
const (
	resultClosed      = "closed"
	resultCancelled   = "cancelled"
	resultWriteError  = "write_error"
	resultReplayError = "replay_error"
)

// Session delivers frames to one viewer connection.
// Run must be called at most once.
type Session struct {
	id     string
	conn   Conn
	broker Broker
	opts   Options
	logger zerolog.Logger

	state       atomic.Int32
	sub         *notify.Subscriber
	handle      notify.Handle
	cursor      uint64 // Highest Seq written to the connection
	sent        atomic.Uint64
	connectedAt time.Time
	leaveOnce   sync.Once
}

// New creates a session in the Connecting state
func New(conn Conn, broker Broker, opts Options) *Session {
	return &Session{
		id:     opts.ID,
		conn:   conn,
		broker: broker,
		opts:   opts,
		sub:    notify.NewSubscriber(conn.RemoteAddr(), opts.ClientBuffer),
		logger: log.With().
			Str("session", opts.ID).
			Str("remote", conn.RemoteAddr()).
			Logger(),
		connectedAt: time.Now(),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the viewer address
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// ConnectedAt returns when the session was created
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Sent returns the number of frames written to the connection
func (s *Session) Sent() uint64 {
	return s.sent.Load()
}

// Dropped returns the number of live frames lost to a full channel
func (s *Session) Dropped() uint64 {
	return s.sub.Dropped()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run registers the session, replays retained frames and streams live
// frames until a write fails, the broker closes the channel, or ctx is
// cancelled. It returns the error that ended the session, nil otherwise.
func (s *Session) Run(ctx context.Context) error {
	// Register before the snapshot: anything appended after the snapshot
	// is guaranteed to reach the channel.
	s.handle = s.broker.Subscribe(s.sub)
	s.setState(StateRegistered)
	defer s.leave()

	s.logger.Info().Msg("Viewer connected")

	s.setState(StateReplaying)
	snap := s.broker.Snapshot()
	s.cursor = snap.Seq

	replayed, err := s.replay(ctx, snap)
	telemetry.ReplayFrames.Observe(float64(replayed))
	if err != nil {
		s.finish(resultReplayError, err)
		return err
	}
	if ctx.Err() != nil {
		s.finish(resultCancelled, nil)
		return nil
	}
	s.logger.Debug().
		Int("frames", replayed).
		Uint64("seq", snap.Seq).
		Msg("Catch-up replay complete")

	s.setState(StateStreaming)
	result, err := s.stream(ctx)
	s.finish(result, err)
	return err
}

// replay writes the permanent frames, then the ephemeral frames
func (s *Session) replay(ctx context.Context, snap publisher.Snapshot) (int, error) {
	written := 0
	for _, part := range [][]common.Frame{snap.Permanent, snap.Ephemeral} {
		for _, f := range part {
			if ctx.Err() != nil {
				return written, nil
			}
			if err := s.conn.WriteFrame(f.Data); err != nil {
				if s.opts.AbortReplayOnError {
					return written, fmt.Errorf("replay frame %d: %w", f.Seq, err)
				}
				s.logger.Warn().Err(err).Uint64("seq", f.Seq).Msg("Failed to replay frame, skipping")
				continue
			}
			s.sent.Add(1)
			written++
		}
	}
	return written, nil
}

// stream forwards live frames until the session ends
func (s *Session) stream(ctx context.Context) (string, error) {
	flush := s.sub.Flush
	for {
		select {
		case <-ctx.Done():
			return resultCancelled, nil

		case f, ok := <-s.sub.Frames:
			if !ok {
				return resultClosed, nil
			}
			if err := s.deliver(f); err != nil {
				return resultWriteError, err
			}

		case _, ok := <-flush:
			if !ok {
				// Hub closed; pending frames still drain through Frames
				flush = nil
				continue
			}
			closed, err := s.drain()
			if err != nil {
				return resultWriteError, err
			}
			if closed {
				return resultClosed, nil
			}
		}
	}
}

// drain writes every frame already queued on the channel without blocking
func (s *Session) drain() (closed bool, err error) {
	for {
		select {
		case f, ok := <-s.sub.Frames:
			if !ok {
				return true, nil
			}
			if err := s.deliver(f); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}
}

// deliver writes f unless it was already part of the replay
func (s *Session) deliver(f common.Frame) error {
	if f.Seq <= s.cursor {
		return nil
	}
	if err := s.conn.WriteFrame(f.Data); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Seq, err)
	}
	s.cursor = f.Seq
	s.sent.Add(1)
	return nil
}

// leave deregisters the session exactly once
func (s *Session) leave() {
	s.leaveOnce.Do(func() {
		s.broker.Unsubscribe(s.handle)
		s.setState(StateDisconnected)
	})
}

func (s *Session) finish(result string, err error) {
	telemetry.SessionsTotal.With(result).Inc()

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("result", result).
		Uint64("sent", s.sent.Load()).
		Uint64("dropped", s.Dropped()).
		Dur("duration", time.Since(s.connectedAt)).
		Msg("Viewer disconnected")
}
