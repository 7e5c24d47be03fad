package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/brainlesscar/rerelay/encoding"
	"github.com/rs/zerolog/log"
)

const helloTimeout = 5 * time.Second

// matchHello matches connections that open with the frame marker.
// It reads exactly the marker: cmux.PrefixMatcher reads one byte past the
// longest prefix and would wait forever on a viewer that sends only the hello.
func matchHello(r io.Reader) bool {
	buf := make([]byte, encoding.MagicSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false
	}
	return bytes.Equal(buf, encoding.Magic[:])
}

// tcpConn writes each frame as a little-endian u32 length followed by the frame.
// Writes have no deadline, like WebSocket writes; a dead peer surfaces as a
// write error and Stop closes the socket.
type tcpConn struct {
	conn net.Conn
}

func (c *tcpConn) WriteFrame(frame []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(frame)))

	bufs := net.Buffers{hdr[:], frame}
	_, err := bufs.WriteTo(c.conn)
	return err
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (s *Server) serveTCP(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if !isClosedErr(err) {
				log.Warn().Err(err).Msg("TCP accept failed")
			}
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleTCP(conn)
		}()
	}
}

// handleTCP consumes the hello marker and runs a viewer session
func (s *Server) handleTCP(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	hello := make([]byte, encoding.MagicSize)
	conn.SetReadDeadline(time.Now().Add(helloTimeout))
	if _, err := io.ReadFull(conn, hello); err != nil || !bytes.Equal(hello, encoding.Magic[:]) {
		log.Debug().Err(err).Str("remote", remote).Msg("TCP viewer sent no hello")
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		io.Copy(io.Discard, conn)
		cancel()
	}()
	go closeOnDone(ctx, conn)

	if err := s.serve(ctx, &tcpConn{conn: conn}, transportTCP); err != nil {
		log.Debug().Err(err).Str("remote", remote).Msg("TCP session ended with error")
	}
}
