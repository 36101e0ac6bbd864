// Package server hosts the storage engine behind the TCP wire
// protocol in internal/proto, dispatching each connection's requests
// onto a workerpool.Pool, the Go analogue of original_source's
// src/server.rs KvServer.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rust-kv/rust-kv/internal/kverrors"
	"github.com/rust-kv/rust-kv/internal/kvlog"
	"github.com/rust-kv/rust-kv/internal/metrics"
	"github.com/rust-kv/rust-kv/internal/proto"
	"github.com/rust-kv/rust-kv/internal/workerpool"
)

// Engine is the subset of internal/engine.Engine the server depends
// on, kept narrow so the server can be tested against a fake.
type Engine interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, bool, error)
	Rm(key []byte) error
}

// Server accepts client connections and serves the get/set/remove
// protocol against an Engine.
type Server struct {
	engine Engine
	pool   workerpool.Pool
	log    *logrus.Logger
	metric *metrics.Server

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *logrus.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics overrides the default (self-registering) metrics set.
func WithMetrics(m *metrics.Server) Option {
	return func(s *Server) { s.metric = m }
}

// New builds a Server dispatching requests against engine via pool.
func New(engine Engine, pool workerpool.Pool, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		pool:   pool,
		log:    kvlog.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metric == nil {
		s.metric = metrics.NewServer(nil)
	}
	return s
}

// ListenAndServe binds addr and serves connections until Close is
// called or the listener errors.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until Close is called or the
// listener errors. It takes ownership of ln: Close will close it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Infof("server: listening on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Close stops the listener and waits for in-flight requests to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.pool.Close()
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	log := s.log.WithField("conn", connID)
	log.Infof("server: accepted %s", conn.RemoteAddr())
	s.metric.ConnectionsActive.Inc()
	defer func() {
		conn.Close()
		s.metric.ConnectionsActive.Dec()
		log.Infof("server: closed %s", conn.RemoteAddr())
	}()

	for {
		req, err := proto.ReadRequest(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Warnf("server: read request: %v", err)
			}
			return
		}

		var wg sync.WaitGroup
		wg.Add(1)
		s.pool.Spawn(func() {
			defer wg.Done()
			resp := s.dispatch(req)
			s.metric.RequestsTotal.WithLabelValues(string(req.Op), string(resp.Status)).Inc()
			if err := proto.WriteResponse(conn, resp); err != nil {
				log.Warnf("server: write response: %v", err)
			}
		})
		wg.Wait()
	}
}

func (s *Server) dispatch(req proto.Request) proto.Response {
	switch req.Op {
	case proto.OpGet:
		value, ok, err := s.engine.Get([]byte(req.Key))
		if err != nil {
			return errorResponse(err)
		}
		if !ok {
			return proto.Response{Status: proto.StatusOK, Found: false}
		}
		return proto.Response{Status: proto.StatusOK, Found: true, Value: string(value)}
	case proto.OpSet:
		if err := s.engine.Set([]byte(req.Key), []byte(req.Value)); err != nil {
			return errorResponse(err)
		}
		return proto.Response{Status: proto.StatusOK}
	case proto.OpRemove:
		if err := s.engine.Rm([]byte(req.Key)); err != nil {
			if errors.Is(err, kverrors.ErrKeyNotFound) {
				return proto.Response{Status: proto.StatusNotFound, Error: "key not found"}
			}
			return errorResponse(err)
		}
		return proto.Response{Status: proto.StatusOK}
	default:
		return proto.Response{Status: proto.StatusError, Error: fmt.Sprintf("server: unknown op %q", req.Op)}
	}
}

func errorResponse(err error) proto.Response {
	if errors.Is(err, kverrors.ErrKeyNotFound) {
		return proto.Response{Status: proto.StatusError, Error: "key not found"}
	}
	return proto.Response{Status: proto.StatusError, Error: err.Error()}
}
