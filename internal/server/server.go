// Package server accepts client connections, dispatches each to a worker
// pool, and translates decoded requests into calls against an Engine.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/epokhe/kvs/internal/conn"
	"github.com/epokhe/kvs/internal/pool"
	"github.com/epokhe/kvs/internal/protocol"
	"github.com/epokhe/kvs/internal/storage"
	"go.uber.org/zap"
)

// Engine is what a Server needs from a storage backend. storage.Engine and
// bboltengine.Engine both satisfy it.
type Engine interface {
	Get(key string) (string, error)
	Set(key, value string) (prev string, hadPrev bool, err error)
	Remove(key string) error
}

// Server accepts connections on a listener and dispatches each to a pool,
// handing every request off to engine.
type Server struct {
	engine   Engine
	pool     pool.Pool
	log      *zap.SugaredLogger
	listener net.Listener
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger attaches a structured logger; nil (the default) disables
// logging.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Server) { s.log = log }
}

// New builds a Server over engine, dispatching connections to p.
func New(engine Engine, p pool.Pool, opts ...Option) *Server {
	s := &Server{engine: engine, pool: p}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}

// Listen binds addr, so Addr is available as soon as Listen returns.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", addr, err)
	}
	s.listener = listener
	return nil
}

// Serve binds addr (unless Listen was already called) and accepts
// connections until Close is called.
func (s *Server) Serve(addr string) error {
	if s.listener == nil {
		if err := s.Listen(addr); err != nil {
			return err
		}
	}
	s.logf("listening on %s", s.listener.Addr())

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logf("accept: %v", err)
			continue
		}

		s.pool.Submit(func() { s.handleConn(nc) })
	}
}

// Addr returns the listener's bound address, valid once Listen (or Serve)
// has bound it; nil before that.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting new connections and waits for the dispatch pool
// to drain.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.pool.Close()
	return err
}

func (s *Server) handleConn(nc net.Conn) {
	defer nc.Close()
	fc := conn.New(nc)

	for {
		req, err := fc.ReadRequest()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logf("connection %s: %v", nc.RemoteAddr(), err)
			}
			return
		}

		resp := s.dispatch(req)
		if err := fc.WriteResponse(resp); err != nil {
			s.logf("connection %s: write response: %v", nc.RemoteAddr(), err)
			return
		}
	}
}

// dispatch translates one decoded Request into an Engine call and the
// Response payload conventions spec'd for the wire protocol.
func (s *Server) dispatch(req protocol.Request) protocol.Response {
	switch req.Tag {
	case protocol.TagGet:
		val, err := s.engine.Get(req.Key)
		if err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				return protocol.Response{Response: "Key not found"}
			}
			return protocol.Response{Response: err.Error()}
		}
		return protocol.Response{Response: val}

	case protocol.TagSet:
		if _, _, err := s.engine.Set(req.Key, req.Value); err != nil {
			return protocol.Response{Response: err.Error()}
		}
		return protocol.Response{Response: ""}

	case protocol.TagRemove:
		if err := s.engine.Remove(req.Key); err != nil {
			if errors.Is(err, storage.ErrKeyNotFound) {
				return protocol.Response{Response: "Key not found"}
			}
			return protocol.Response{Response: err.Error()}
		}
		return protocol.Response{Response: ""}

	default:
		return protocol.Response{Response: fmt.Sprintf("unknown request tag %d", req.Tag)}
	}
}
