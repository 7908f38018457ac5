// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/linkgate/linkgate/internal/gate"
)

// ConnectionHandler drives a single connection through the gate. The
// Handle goroutine is the suspension point: it blocks inside
// gate.OnConnecting while a pump goroutine keeps feeding submissions.
type ConnectionHandler struct {
	conn      net.Conn
	reader    *bufio.Reader
	srv       *Server
	principal gate.Principal

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConnectionHandler(conn net.Conn, srv *Server) *ConnectionHandler {
	return &ConnectionHandler{
		conn:   conn,
		reader: bufio.NewReader(conn),
		srv:    srv,
	}
}

// Handle processes the connection until closed.
func (h *ConnectionHandler) Handle(ctx context.Context) {
	// Per-connection context: cancelling it releases the reader
	// goroutine even when a pipelined line is still waiting to be
	// delivered after this function returns.
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		h.close()
		if h.srv.metrics != nil {
			h.srv.metrics.ActiveConnections.Dec()
		}
	}()

	h.send("Welcome to LinkGate.")
	h.send("Identify with: HELLO <identity> [<uuid>]")

	lineCh := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		for {
			line, err := h.reader.ReadString('\n')
			if err != nil {
				errCh <- err
				return
			}
			select {
			case lineCh <- strings.TrimSpace(line):
			case <-ctx.Done():
				return
			}
		}
	}()

	principal, ok := h.awaitHello(ctx, lineCh, errCh)
	if !ok {
		return
	}
	h.principal = principal

	if !h.srv.svc.IsIdentityRegistered(ctx, principal.Name) {
		h.send("No account found for " + principal.Name + ".")
		return
	}

	h.srv.register(h)
	defer func() {
		h.srv.unregister(h)
		h.srv.gate.OnDisconnected(h.principal)
	}()

	// Pump submissions while this goroutine is suspended in the gate.
	gateDone := make(chan struct{})
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-gateDone:
				return
			case err := <-errCh:
				h.logReadError(err)
				h.srv.gate.OnDisconnected(h.principal)
				return
			case line := <-lineCh:
				h.processGateLine(ctx, line)
			}
		}
	}()

	authed := h.srv.gate.OnConnecting(ctx, h.principal)
	close(gateDone)
	<-pumpDone
	if !authed {
		return
	}

	h.send("WELCOME " + h.principal.Name)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			h.logReadError(err)
			return
		case line := <-lineCh:
			if strings.EqualFold(line, "QUIT") {
				h.send("Goodbye.")
				return
			}
			if line != "" {
				h.send("Unknown command: " + line)
			}
		}
	}
}

// awaitHello reads lines until a valid HELLO arrives or the connection
// goes away. A HELLO may carry an explicit principal UUID; otherwise a
// fresh one is assigned for the connection.
func (h *ConnectionHandler) awaitHello(ctx context.Context, lineCh <-chan string, errCh <-chan error) (gate.Principal, bool) {
	for {
		select {
		case <-ctx.Done():
			return gate.Principal{}, false
		case err := <-errCh:
			h.logReadError(err)
			return gate.Principal{}, false
		case line := <-lineCh:
			fields := strings.Fields(line)
			if len(fields) < 2 || len(fields) > 3 || !strings.EqualFold(fields[0], "HELLO") {
				h.send("Identify with: HELLO <identity> [<uuid>]")
				continue
			}
			principal := gate.Principal{ID: uuid.New(), Name: fields[1]}
			if len(fields) == 3 {
				id, err := uuid.Parse(fields[2])
				if err != nil {
					h.send("Malformed uuid.")
					continue
				}
				principal.ID = id
			}
			return principal, true
		}
	}
}

// processGateLine handles lines received while the challenge is live.
func (h *ConnectionHandler) processGateLine(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch {
	case strings.EqualFold(fields[0], "CODE") && len(fields) == 3:
		h.srv.gate.OnSubmit(ctx, h.principal, fields[1], fields[2])
	case strings.EqualFold(fields[0], "QUIT"):
		h.close()
	default:
		h.send("Unknown command: " + fields[0])
	}
}

func (h *ConnectionHandler) send(msg string) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := fmt.Fprintln(h.conn, msg); err != nil {
		h.srv.logger.Debug("failed to send to client",
			"principal_id", h.principal.ID.String(),
			"error", err,
		)
	}
}

// terminate sends the reason and closes the connection. The reject path
// can race the unblocked connecting goroutine; the first caller wins.
func (h *ConnectionHandler) terminate(reason string) {
	h.closeOnce.Do(func() {
		h.send(reason)
		if err := h.conn.Close(); err != nil {
			h.srv.logger.Debug("error closing connection", "error", err)
		}
	})
}

func (h *ConnectionHandler) close() {
	h.closeOnce.Do(func() {
		if err := h.conn.Close(); err != nil {
			h.srv.logger.Debug("error closing connection", "error", err)
		}
	})
}

func (h *ConnectionHandler) logReadError(err error) {
	if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		h.srv.logger.Debug("connection read error",
			"principal_id", h.principal.ID.String(),
			"error", err,
		)
	}
}
