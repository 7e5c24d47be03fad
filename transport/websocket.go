package transport

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

// wsConn writes each frame as one binary message, without a write deadline
type wsConn struct {
	ws     *websocket.Conn
	remote string
}

func (c *wsConn) WriteFrame(frame []byte) error {
	return websocket.Message.Send(c.ws, frame)
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}

// acceptAnyOrigin skips the Origin check done by websocket.Handler
func acceptAnyOrigin(*websocket.Config, *http.Request) error {
	return nil
}

// handleViewer upgrades to WebSocket and runs a viewer session
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	remote := r.RemoteAddr
	srv := websocket.Server{
		Handshake: acceptAnyOrigin,
		Handler: func(ws *websocket.Conn) {
			ws.PayloadType = websocket.BinaryFrame

			ctx, cancel := context.WithCancel(s.ctx)
			defer cancel()
			go discardInbound(ws, cancel)
			go closeOnDone(ctx, ws)

			if err := s.serve(ctx, &wsConn{ws: ws, remote: remote}, transportWebSocket); err != nil {
				log.Debug().Err(err).Str("remote", remote).Msg("WebSocket session ended with error")
			}
		},
	}
	srv.ServeHTTP(w, r)
}

// handleCommand accepts the viewer command channel and ignores its input
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	remote := r.RemoteAddr
	srv := websocket.Server{
		Handshake: acceptAnyOrigin,
		Handler: func(ws *websocket.Conn) {
			log.Debug().Str("remote", remote).Msg("Command channel opened")

			ctx, cancel := context.WithCancel(s.ctx)
			defer cancel()
			go discardInbound(ws, cancel)
			<-ctx.Done()

			log.Debug().Str("remote", remote).Msg("Command channel closed")
		},
	}
	srv.ServeHTTP(w, r)
}

// discardInbound reads until the peer goes away, then calls done
func discardInbound(ws *websocket.Conn, done context.CancelFunc) {
	defer done()
	for {
		var msg []byte
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			return
		}
		log.Trace().Int("bytes", len(msg)).Msg("Ignoring inbound viewer message")
	}
}
