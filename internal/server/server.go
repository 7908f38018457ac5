// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

// Package server is the reference TCP connection host. Each accepted
// connection is driven by its own goroutine, which the gate suspends
// until the link code challenge resolves.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/linkgate/linkgate/internal/gate"
	"github.com/linkgate/linkgate/internal/observability"
)

// IdentityChecker reports whether an identity has a registered account.
// Implemented by linkcode.Service.
type IdentityChecker interface {
	IsIdentityRegistered(ctx context.Context, identity string) bool
}

// Server accepts TCP connections and hands each one to the gate. It
// implements gate.Prompter and gate.Host by routing to the live
// connection handler for the principal.
type Server struct {
	addr     string
	svc      IdentityChecker
	gate     *gate.Gate
	metrics  *observability.Metrics
	logger   *slog.Logger
	listener net.Listener

	mu    sync.RWMutex
	conns map[uuid.UUID]*ConnectionHandler
}

// NewServer creates a server listening on addr. The gate must be
// attached with SetGate before Run; the server and the gate reference
// each other, so neither constructor can take the other.
func NewServer(addr string, svc IdentityChecker) (*Server, error) {
	if addr == "" {
		return nil, oops.Errorf("listen address is required")
	}
	if svc == nil {
		return nil, oops.Errorf("identity checker is required")
	}
	return &Server{
		addr:   addr,
		svc:    svc,
		logger: slog.New(slog.DiscardHandler),
		conns:  make(map[uuid.UUID]*ConnectionHandler),
	}, nil
}

// NewServerWithLogger creates a server with the provided logger.
func NewServerWithLogger(addr string, svc IdentityChecker, logger *slog.Logger) (*Server, error) {
	s, err := NewServer(addr, svc)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	s.logger = logger
	return s, nil
}

// SetGate attaches the gate that decides connection outcomes.
func (s *Server) SetGate(g *gate.Gate) {
	s.gate = g
}

// SetMetrics attaches listener metrics.
func (s *Server) SetMetrics(m *observability.Metrics) {
	s.metrics = m
}

// Addr returns the server's listen address, or empty if not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.gate == nil {
		return oops.Errorf("gate must be attached before Run")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return oops.Code("SERVER_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("connection host started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}
		if s.metrics != nil {
			s.metrics.ConnectionsTotal.WithLabelValues("accepted").Inc()
			s.metrics.ActiveConnections.Inc()
		}
		handler := newConnectionHandler(conn, s)
		go handler.Handle(ctx)
	}
}

// Present sends a challenge prompt to the principal's connection and
// returns the token the prompt is bound to.
func (s *Server) Present(_ context.Context, principal gate.Principal, variant gate.PromptVariant) (string, error) {
	h, ok := s.handlerFor(principal.ID)
	if !ok {
		return "", oops.Code("SERVER_NO_CONNECTION").
			With("principal_id", principal.ID.String()).
			Errorf("no live connection for principal")
	}
	token := ulid.Make().String()
	if variant == gate.PromptInitial {
		h.send("Enter your link code.")
	}
	// A retry is a silent re-prompt: a fresh token, no error text.
	h.send("CHALLENGE " + token)
	return token, nil
}

// Dismiss is a no-op on a line protocol; there is no prompt UI to tear
// down. The gate's token matching already retires the old prompt.
func (s *Server) Dismiss(gate.Principal) {}

// Terminate closes the principal's connection after sending the reason.
// Safe to call more than once; the first reason wins.
func (s *Server) Terminate(principal gate.Principal, reason string) {
	if h, ok := s.handlerFor(principal.ID); ok {
		h.terminate(reason)
	}
}

func (s *Server) handlerFor(id uuid.UUID) (*ConnectionHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.conns[id]
	return h, ok
}

func (s *Server) register(h *ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[h.principal.ID] = h
}

func (s *Server) unregister(h *ConnectionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[h.principal.ID] == h {
		delete(s.conns, h.principal.ID)
	}
}
