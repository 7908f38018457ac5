// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LinkGate Contributors

package server

import (
	"bufio"
	"context"
	"net"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linkgate/linkgate/internal/gate"
)

// testConn wraps net.Pipe for testing.
type testConn struct {
	client net.Conn
	server net.Conn
	reader *bufio.Reader
	t      *testing.T
}

func newTestConn(t *testing.T) *testConn {
	t.Helper()
	client, server := net.Pipe()
	return &testConn{
		client: client,
		server: server,
		reader: bufio.NewReader(client),
		t:      t,
	}
}

func (tc *testConn) writeLine(s string) {
	tc.t.Helper()
	if err := tc.client.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		tc.t.Fatalf("failed to set write deadline: %v", err)
	}
	if _, err := tc.client.Write([]byte(s + "\n")); err != nil {
		tc.t.Fatalf("failed to write: %v", err)
	}
}

func (tc *testConn) readLine() string {
	tc.t.Helper()
	if err := tc.client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		tc.t.Fatalf("failed to set read deadline: %v", err)
	}
	line, err := tc.reader.ReadString('\n')
	if err != nil {
		tc.t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimSpace(line)
}

// readChallenge reads lines until a CHALLENGE and returns its token.
func (tc *testConn) readChallenge() string {
	tc.t.Helper()
	for range 10 {
		line := tc.readLine()
		if token, found := strings.CutPrefix(line, "CHALLENGE "); found {
			return token
		}
	}
	tc.t.Fatal("no CHALLENGE line received")
	return ""
}

// expectClosed asserts the server side hangs up.
func (tc *testConn) expectClosed() {
	tc.t.Helper()
	if err := tc.client.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		tc.t.Fatalf("failed to set read deadline: %v", err)
	}
	if _, err := tc.reader.ReadString('\n'); err == nil {
		tc.t.Error("expected connection to be closed")
	}
}

func (tc *testConn) close() {
	_ = tc.client.Close()
	_ = tc.server.Close()
}

// scriptedAuthorizer accepts exactly one code.
type scriptedAuthorizer struct {
	code  string
	calls atomic.Int32
}

func (a *scriptedAuthorizer) Authorize(_ context.Context, _ uuid.UUID, _ string, code string) bool {
	a.calls.Add(1)
	return code == a.code
}

// allowAllChecker registers every identity except those listed.
type allowAllChecker struct {
	unknown map[string]bool
}

func (c *allowAllChecker) IsIdentityRegistered(_ context.Context, identity string) bool {
	return !c.unknown[identity]
}

func newTestHost(t *testing.T, auth gate.Authorizer, checker IdentityChecker) (*Server, *gate.Gate, *gate.Registry) {
	t.Helper()
	srv, err := NewServer("127.0.0.1:0", checker)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	registry := gate.NewRegistry()
	g, err := gate.NewGate(registry, auth, srv, srv)
	if err != nil {
		t.Fatalf("failed to create gate: %v", err)
	}
	srv.SetGate(g)
	return srv, g, registry
}

func startHandler(t *testing.T, srv *Server, tc *testConn) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	handler := newConnectionHandler(tc.server, srv)
	go handler.Handle(ctx)
	tc.readLine() // "Welcome to LinkGate."
	tc.readLine() // "Identify with: ..."
}

func TestHandler_SuccessfulAuthentication(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO alice")
	if line := tc.readLine(); line != "Enter your link code." {
		t.Errorf("expected code prompt, got: %s", line)
	}
	token := tc.readChallenge()

	tc.writeLine("CODE " + token + " 123456")
	if line := tc.readLine(); line != "WELCOME alice" {
		t.Errorf("expected WELCOME, got: %s", line)
	}

	tc.writeLine("QUIT")
	if line := tc.readLine(); line != "Goodbye." {
		t.Errorf("expected Goodbye, got: %s", line)
	}
}

func TestHandler_ExplicitPrincipalID(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	id := uuid.New()
	tc.writeLine("HELLO alice " + id.String())
	tc.readLine()
	token := tc.readChallenge()

	tc.writeLine("CODE " + token + " 123456")
	if line := tc.readLine(); line != "WELCOME alice" {
		t.Errorf("expected WELCOME, got: %s", line)
	}
}

func TestHandler_WrongCodeThenCorrect(t *testing.T) {
	auth := &scriptedAuthorizer{code: "654321"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO bob")
	tc.readLine()
	first := tc.readChallenge()

	tc.writeLine("CODE " + first + " 000000")
	// Silent retry: a fresh challenge, no error text before it.
	second := tc.readChallenge()
	if second == first {
		t.Error("retry should issue a fresh token")
	}

	tc.writeLine("CODE " + second + " 654321")
	if line := tc.readLine(); line != "WELCOME bob" {
		t.Errorf("expected WELCOME, got: %s", line)
	}
}

func TestHandler_AttemptsExhausted(t *testing.T) {
	auth := &scriptedAuthorizer{code: "654321"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO carol")
	tc.readLine()
	token := tc.readChallenge()

	tc.writeLine("CODE " + token + " 000001")
	token = tc.readChallenge()
	tc.writeLine("CODE " + token + " 000002")
	token = tc.readChallenge()
	tc.writeLine("CODE " + token + " 000003")

	if line := tc.readLine(); line != gate.ReasonTooManyAttempts {
		t.Errorf("expected %q, got: %s", gate.ReasonTooManyAttempts, line)
	}
	tc.expectClosed()

	if got := auth.calls.Load(); got != 3 {
		t.Errorf("expected 3 authorize calls, got %d", got)
	}
}

func TestHandler_ChallengeTimeout(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, g, _ := newTestHost(t, auth, &allowAllChecker{})
	if err := g.SetChallengeTimeout(50 * time.Millisecond); err != nil {
		t.Fatalf("failed to set timeout: %v", err)
	}
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO dave")
	tc.readLine()
	tc.readChallenge()

	if line := tc.readLine(); line != gate.ReasonLoginFailed {
		t.Errorf("expected %q, got: %s", gate.ReasonLoginFailed, line)
	}
	tc.expectClosed()
}

func TestHandler_StaleTokenIgnored(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO erin")
	tc.readLine()
	token := tc.readChallenge()

	// Correct code under a stale token must not authenticate.
	tc.writeLine("CODE 01BOGUSTOKEN0000000000000X 123456")
	tc.writeLine("CODE " + token + " 123456")
	if line := tc.readLine(); line != "WELCOME erin" {
		t.Errorf("expected WELCOME, got: %s", line)
	}
	if got := auth.calls.Load(); got != 1 {
		t.Errorf("stale submission should not reach the authorizer, got %d calls", got)
	}
}

func TestHandler_UnregisteredIdentityRefused(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{unknown: map[string]bool{"mallory": true}})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO mallory")
	if line := tc.readLine(); line != "No account found for mallory." {
		t.Errorf("expected refusal, got: %s", line)
	}
	tc.expectClosed()

	if got := auth.calls.Load(); got != 0 {
		t.Errorf("refused identity should never reach the authorizer, got %d calls", got)
	}
}

func TestHandler_MalformedHelloReprompts(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	defer tc.close()
	startHandler(t, srv, tc)

	tc.writeLine("HELLO")
	if line := tc.readLine(); !strings.HasPrefix(line, "Identify with:") {
		t.Errorf("expected identify re-prompt, got: %s", line)
	}

	tc.writeLine("HELLO frank not-a-uuid")
	if line := tc.readLine(); line != "Malformed uuid." {
		t.Errorf("expected uuid complaint, got: %s", line)
	}

	tc.writeLine("HELLO frank")
	if line := tc.readLine(); line != "Enter your link code." {
		t.Errorf("expected code prompt, got: %s", line)
	}
}

func TestHandler_PipelinedInputDoesNotLeakReader(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, _ := newTestHost(t, auth, &allowAllChecker{unknown: map[string]bool{"ghost": true}})

	baseline := runtime.NumGoroutine()

	for range 20 {
		tc := newTestConn(t)
		startHandler(t, srv, tc)

		// One write carrying the refused HELLO plus a pipelined line the
		// handler never consumes. The reader goroutine must still exit
		// once the handler is done with the connection.
		if _, err := tc.client.Write([]byte("HELLO ghost\nEXTRA\n")); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		if line := tc.readLine(); line != "No account found for ghost." {
			t.Errorf("expected refusal, got: %s", line)
		}
		tc.expectClosed()
		tc.close()
	}

	deadline := time.After(2 * time.Second)
	for runtime.NumGoroutine() > baseline+2 {
		select {
		case <-deadline:
			t.Fatalf("reader goroutines leaked: before=%d now=%d", baseline, runtime.NumGoroutine())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestHandler_DisconnectMidChallengeCleansUp(t *testing.T) {
	auth := &scriptedAuthorizer{code: "123456"}
	srv, _, registry := newTestHost(t, auth, &allowAllChecker{})
	tc := newTestConn(t)
	startHandler(t, srv, tc)

	tc.writeLine("HELLO grace")
	tc.readLine()
	tc.readChallenge()

	tc.close()

	deadline := time.After(2 * time.Second)
	for registry.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("pending entry not cleaned up after disconnect")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
