package http11

import (
	"fmt"
	"net"
	"time"

	"github.com/castbeam/castbeam/internal/logging"
)

// connIdleTimeout bounds how long a connection may sit with neither a
// readable request nor a queued response before it is closed.
const connIdleTimeout = 30 * time.Second

// Handler answers one fully-read Request with a Response. The returned
// Response has not yet had Complete() called; Serve calls it for the
// handler so handlers never need to know about ranges/compression
// negotiation.
type Handler func(req *Request) *Response

// Server accepts TCP connections and speaks HTTP/1.1 to each using this
// package's own Request/Response types. Grounded on atavism's HttpServer/
// HttpConnection (http11/server.py); each connection's read/dispatch/write
// loop follows the same per-goroutine shape as the teacher's
// control-connection handler did (internal/hdhomerun/control.go,
// since deleted from this repo).
type Server struct {
	listener net.Listener
	handler  Handler
	log      *logging.Logger
}

// NewServer returns a Server that will dispatch completed requests to
// handler once Serve is called.
func NewServer(handler Handler, log *logging.Logger) *Server {
	return &Server{handler: handler, log: log}
}

// Serve accepts connections on listener until it is closed, handling each
// on its own goroutine. Blocking; call in a goroutine or from the process's
// main loop.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	s.log.Infof("listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.listener == nil {
				return nil
			}
			s.log.Warnf("accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}

// Close stops accepting new connections. In-flight connections run to
// their own natural completion.
func (s *Server) Close() error {
	l := s.listener
	s.listener = nil
	if l == nil {
		return nil
	}
	return l.Close()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	s.log.Debugf("connection from %s", conn.RemoteAddr())

	var inBuf []byte
	var req *Request
	var pending []*Response

	readBuf := make([]byte, recvBufSize)
	for {
		conn.SetDeadline(time.Now().Add(connIdleTimeout))

		n, err := conn.Read(readBuf)
		if err != nil {
			if n == 0 {
				return
			}
		}
		if n > 0 {
			inBuf = append(inBuf, readBuf[:n]...)

			if req == nil {
				req = NewRequest("", "")
			}
			consumed, perr := ReadRequest(req, inBuf)
			if perr != nil {
				s.log.Warnf("malformed request from %s: %v", conn.RemoteAddr(), perr)
				return
			}
			inBuf = inBuf[consumed:]

			if req.IsComplete() {
				resp := s.handler(req)
				if err := resp.Complete(); err != nil {
					s.log.Errorf("completing response: %v", err)
					return
				}
				pending = append(pending, resp)
				req = nil
			}
		} else if err != nil {
			return
		}

		for len(pending) > 0 {
			out, werr := pending[0].NextOutput()
			if werr != nil {
				s.log.Errorf("rendering response: %v", werr)
				return
			}
			if len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					s.log.Debugf("write error to %s: %v", conn.RemoteAddr(), werr)
					return
				}
			}
			if !pending[0].SendComplete() {
				if len(out) == 0 {
					break
				}
				continue
			}
			closeAfter := pending[0].CloseConnection()
			pending = pending[1:]
			if closeAfter {
				return
			}
		}
	}
}

// ListenAndServe is a convenience wrapper that binds addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http11: listen %s: %w", addr, err)
	}
	return s.Serve(l)
}
