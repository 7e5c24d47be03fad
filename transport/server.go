// Package transport accepts viewer connections and runs a session for each.
// WebSocket viewers and raw TCP viewers share one listener: connections that
// open with the frame marker are TCP viewers, everything else is HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/brainlesscar/rerelay/id"
	"github.com/brainlesscar/rerelay/publisher"
	"github.com/brainlesscar/rerelay/session"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
)

const (
	transportWebSocket = "websocket"
	transportTCP       = "tcp"

	shutdownTimeout = 5 * time.Second
)

// Broker is the part of publisher.Broker the transport needs
type Broker interface {
	session.Broker
	Stats() publisher.QueueStats
}

// ServerConfig holds configuration for the viewer server
type ServerConfig struct {
	ServerID           string
	Address            string
	Port               int
	StaticDir          string       // Viewer assets, not served when empty
	ClientBuffer       int          // Per-session frame channel capacity
	AbortReplayOnError bool         // End a session on its first failed replay write
	MetricsHandler     http.Handler // Mounted at /metrics when set
}

// activeSession is a running session and how it connected
type activeSession struct {
	*session.Session
	transport string
}

// Server serves viewer sessions over WebSocket and raw TCP
type Server struct {
	config   ServerConfig
	broker   Broker
	ids      id.Generator
	sessions *xsync.MapOf[string, *activeSession]

	listener   net.Listener
	mux        cmux.CMux
	httpServer *http.Server

	// ctx ends every session on Stop
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewServer creates a viewer server
func NewServer(config ServerConfig, broker Broker) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		broker:   broker,
		ids:      id.NewULIDGenerator(),
		sessions: xsync.NewMapOf[string, *activeSession](),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start listens and serves both transports in the background
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.config.Address, fmt.Sprint(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.mux = cmux.New(listener)
	tcpListener := s.mux.Match(matchHello)
	httpListener := s.mux.Match(cmux.Any())

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().
		Str("address", listener.Addr().String()).
		Msg("Starting viewer server")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) && !isClosedErr(err) {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.serveTCP(tcpListener)
	}()

	go func() {
		if err := s.mux.Serve(); err != nil && !isClosedErr(err) {
			log.Error().Err(err).Msg("cmux failed")
		}
	}()

	return nil
}

// Addr returns the listen address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop ends every session and closes the listener
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Info().Int("sessions", s.sessions.Size()).Msg("Stopping viewer server")
	s.cancel()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
	}
	if s.mux != nil {
		s.mux.Close()
	}
	s.wg.Wait()
}

// serve runs one session until it ends
func (s *Server) serve(ctx context.Context, conn session.Conn, transport string) error {
	sid := s.ids.NextID()
	sess := session.New(conn, s.broker, session.Options{
		ID:                 sid,
		ClientBuffer:       s.config.ClientBuffer,
		AbortReplayOnError: s.config.AbortReplayOnError,
	})

	s.sessions.Store(sid, &activeSession{Session: sess, transport: transport})
	defer s.sessions.Delete(sid)

	return sess.Run(ctx)
}

// ClientInfo describes a connected viewer
type ClientInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	Transport   string    `json:"transport"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
	Sent        uint64    `json:"sent"`
	Dropped     uint64    `json:"dropped"`
}

// Clients lists connected viewers, oldest first
func (s *Server) Clients() []ClientInfo {
	out := make([]ClientInfo, 0, s.sessions.Size())
	s.sessions.Range(func(sid string, a *activeSession) bool {
		out = append(out, ClientInfo{
			ID:          sid,
			Remote:      a.RemoteAddr(),
			Transport:   a.transport,
			State:       a.State().String(),
			ConnectedAt: a.ConnectedAt(),
			Sent:        a.Sent(),
			Dropped:     a.Dropped(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// closeOnDone closes c once ctx ends, unblocking a write stuck on a dead peer
func closeOnDone(ctx context.Context, c io.Closer) {
	<-ctx.Done()
	c.Close()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, cmux.ErrListenerClosed) || errors.Is(err, cmux.ErrServerClosed)
}
