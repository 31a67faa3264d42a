/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package server drives the engine's Connection Loop over accepted
// connections: one goroutine per Transport, an accept loop, a
// spinlock-guarded connection registry for graceful shutdown, and the
// keep-alive idle-timeout peek the Transaction Loop needs between requests
// on a reused connection.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	golocalv1 "github.com/caiflower/chunky/pkg/golocal/v1"
	"github.com/caiflower/chunky/pkg/safego"
	"github.com/caiflower/chunky/pkg/tools"

	"github.com/caiflower/chunky/engine"
	"github.com/caiflower/chunky/metric"
	"github.com/caiflower/chunky/pkg/e"
	"github.com/caiflower/chunky/pkg/logger"
	"github.com/caiflower/chunky/pkg/syncx"
)

// Server drives the engine against accepted connections on one listening
// address.
type Server struct {
	opts       *Options
	dispatcher *engine.Dispatcher
	metrics    *metric.Collector
	logger     logger.ILog

	listener  net.Listener
	tlsConfig *tls.Config

	connLock sync.Locker
	conns    map[int64]engine.Transport
	connSeq  int64

	closed int32
	wg     sync.WaitGroup
}

// New builds a Server from opts, applying struct-tag defaults for any
// zero-valued field.
func New(opts Options) *Server {
	LoadOptions(&opts)

	s := &Server{
		opts:       &opts,
		dispatcher: engine.NewDispatcher(),
		logger:     logger.DefaultLogger(),
		connLock:   syncx.NewSpinLock(),
		conns:      make(map[int64]engine.Transport),
	}
	if opts.enableMetrics() {
		s.metrics = metric.NewCollector(s.dispatcher)
		s.dispatcher.Handle("/metrics", func(tx *engine.Transaction) {
			s.metrics.ServeMetrics(tx)
		})
	}
	return s
}

// Handle registers h for exact-match requests against path.
func (s *Server) Handle(path string, h engine.Handler) {
	s.dispatcher.Handle(path, h)
}

// HandleFunc is Handle for a plain function value.
func (s *Server) HandleFunc(path string, h func(tx *engine.Transaction)) {
	s.dispatcher.Handle(path, engine.Handler(h))
}

// SetDefaultHandler overrides the handler invoked when no route matches.
func (s *Server) SetDefaultHandler(h engine.Handler) {
	s.dispatcher.SetDefault(h)
}

// SetLogger overrides the server's log sink.
func (s *Server) SetLogger(l logger.ILog) {
	if l != nil {
		s.logger = l
	}
}

// Metrics returns the server's metrics Collector, or nil if metrics are
// disabled, so a host application can mount Collector.Handler() on its own
// mux.
func (s *Server) Metrics() *metric.Collector {
	return s.metrics
}

// Name identifies this Server as a global.DaemonResource.
func (s *Server) Name() string {
	return fmt.Sprintf("HTTP_SERVER:%s", s.opts.Name)
}

// Start implements global.DaemonResource by calling ListenAndServe in the
// background and returning once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	safego.Go(func() {
		_ = s.serve(ln, false)
	})
	return nil
}

// ListenAndServe binds opts.Addr and blocks, running the Connection Loop
// over every accepted connection until Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return s.serve(ln, false)
}

// ListenAndServeTLS binds opts.Addr and blocks, performing a TLS handshake
// on each accepted connection before driving it through the Connection Loop.
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return err
	}
	cfg := s.opts.TLSConfig
	if cfg == nil {
		cfg = &tls.Config{}
	} else {
		cfg = cfg.Clone()
	}
	cfg.Certificates = []tls.Certificate{cert}
	s.tlsConfig = cfg

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return s.serve(ln, true)
}

func (s *Server) serve(ln net.Listener, isTLS bool) error {
	s.logger.Info("[server] %s listening on %s", s.Name(), s.opts.Addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				s.logger.Info("[server] %s listener closed, accept loop stopping", s.Name())
				return nil
			}
			s.logger.Error("[server] accept failed. Error: %s", err.Error())
			return err
		}

		id := atomic.AddInt64(&s.connSeq, 1)
		s.wg.Add(1)
		safego.Go(func() {
			defer s.wg.Done()
			s.handleConn(id, conn, isTLS)
		})
	}
}

func (s *Server) handleConn(id int64, conn net.Conn, isTLS bool) {
	golocalv1.PutTraceID(tools.UUID())
	defer golocalv1.Clean()

	var transport engine.Transport
	if isTLS {
		t, err := engine.NewTLSTransport(tls.Server(conn, s.tlsConfig))
		if err != nil {
			s.logger.Error("[server] TLS handshake failed. Error: %s", err.Error())
			_ = conn.Close()
			return
		}
		transport = t
	} else {
		transport = engine.NewTCPTransport(conn)
	}

	s.addConn(id, transport)
	defer s.removeConn(id)
	defer transport.Close()

	connRequestNum := 0
	for {
		connRequestNum++

		if connRequestNum > 1 {
			_ = transport.SetReadDeadline(time.Now().Add(s.opts.idleTimeout()))
			if _, err := transport.Peek(4); err != nil {
				return
			}
		}
		_ = transport.SetReadDeadline(time.Now().Add(s.opts.readTimeout()))

		tx := engine.NewTransaction(transport, s.opts.maxHeadBytes())

		// A zero-byte read forces the Request Parser to run so the request
		// descriptor is populated before the handler sees the Transaction.
		if _, err := tx.Read(nil); err != nil {
			s.logger.Error("[server] parse request failed. Error: %s", err.Error())
			if s.metrics != nil {
				s.metrics.RecordParseFailure("-")
			}
			return
		}

		_ = transport.SetWriteDeadline(time.Now().Add(s.opts.writeTimeout()))

		s.dispatch(tx)

		if !tx.KeepAlive() {
			return
		}
	}
}

// dispatch runs the Dispatcher (or the metrics-wrapped Dispatcher) and
// recovers a handler panic so it cannot take the listener down, finalizing
// the Transaction on the handler's behalf if it never did.
func (s *Server) dispatch(tx *engine.Transaction) {
	defer s.finishIfNeeded(tx)
	defer e.OnError("server.dispatch")

	if s.metrics != nil {
		s.metrics.Dispatch(tx)
	} else {
		s.dispatcher.Dispatch(tx)
	}
}

func (s *Server) finishIfNeeded(tx *engine.Transaction) {
	if tx.State() != engine.StateTerminated {
		_ = tx.Finish()
	}
}

func (s *Server) addConn(id int64, t engine.Transport) {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	s.conns[id] = t
}

func (s *Server) removeConn(id int64) {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	delete(s.conns, id)
}

// Shutdown stops accepting new connections, then waits for in-flight
// Transactions to drain, bounded by ctx. Once ctx is done, any remaining
// connections are force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.logger.Info("[server] %s shutting down", s.Name())

	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	safego.Go(func() {
		s.wg.Wait()
		close(done)
	})

	select {
	case <-done:
		s.logger.Info("[server] %s shutdown complete", s.Name())
		return nil
	case <-ctx.Done():
		s.connLock.Lock()
		for _, t := range s.conns {
			_ = t.Close()
		}
		s.connLock.Unlock()
		return ctx.Err()
	}
}

// Close implements global.DaemonResource, shutting down within the
// configured ShutdownTimeout.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.shutdownTimeout())
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Error("[server] %s shutdown failed. Error: %s", s.Name(), err.Error())
	}
}
