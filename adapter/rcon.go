// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/netutil"
	"github.com/bureau-foundation/gamefleet/protocol"
	"github.com/bureau-foundation/gamefleet/transport"
)

const rconWriteTimeout = 10 * time.Second

// RCONAdapter speaks the remote-console protocol over TCP.
type RCONAdapter struct {
	base
	dialer transport.Dialer

	// requestID is shared across sessions so ids keep increasing after
	// a reconnect.
	requestID atomic.Int32

	// session is guarded by base.mu.
	session *rconSession
}

type rconSession struct {
	conn   net.Conn
	config *RCONConfig

	writeMu sync.Mutex

	mu            sync.Mutex
	pending       map[int32]chan rconResult
	closed        bool
	authenticated bool
	// login receives the first packet of the connection.
	login chan protocol.Packet

	done       chan struct{}
	closeOnce  sync.Once
	localClose atomic.Bool
}

type rconResult struct {
	packet protocol.Packet
	err    error
}

// NewRCON creates a disconnected RCON adapter.
func NewRCON(server string, options Options) *RCONAdapter {
	adapter := &RCONAdapter{dialer: options.Dialer}
	if adapter.dialer == nil {
		adapter.dialer = &transport.TCPDialer{}
	}
	adapter.init(server, ModeRCON, options)
	return adapter
}

func (a *RCONAdapter) Connect(ctx context.Context, config Config) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.connect(ctx, config)
}

func (a *RCONAdapter) connect(ctx context.Context, config Config) error {
	const op = "rcon connect"
	rconConfig, ok := config.(*RCONConfig)
	if !ok {
		return a.fail(op, failure.New(failure.Configuration, op, "expected rcon config, got %T", config))
	}
	if err := rconConfig.Validate(); err != nil {
		return a.fail(op, err)
	}
	if a.currentSession() != nil {
		return a.alreadyConnected(op)
	}
	resolved := rconConfig.withDefaults()

	dialContext, cancel := context.WithTimeout(ctx, resolved.Timeout)
	defer cancel()
	conn, err := a.dialer.DialContext(dialContext, resolved.Address())
	if err != nil {
		return a.fail(op, failure.New(failure.Transport, op, "dialing %s: %w", resolved.Address(), err))
	}

	session := &rconSession{
		conn:    conn,
		config:  resolved,
		pending: make(map[int32]chan rconResult),
		login:   make(chan protocol.Packet, 1),
		done:    make(chan struct{}),
	}
	go a.readLoop(session)

	abandon := func(err error) error {
		session.localClose.Store(true)
		conn.Close()
		<-session.done
		return a.fail(op, err)
	}

	loginID := a.nextRequestID()
	if err := a.writePacket(session, protocol.Packet{ID: loginID, Type: protocol.PacketLogin, Body: resolved.Password}); err != nil {
		return abandon(err)
	}

	select {
	case reply := <-session.login:
		if reply.ID != loginID {
			return abandon(failure.Wrap(failure.Authentication, op, ErrAuthRejected))
		}
	case <-a.clock.After(resolved.Timeout):
		return abandon(failure.New(failure.Authentication, op, "no login reply within %s: %w", resolved.Timeout, ErrAuthTimeout))
	case <-session.done:
		return abandon(failure.New(failure.Transport, op, "server closed the connection during login: %w", ErrConnectionClosed))
	case <-ctx.Done():
		if ctxErr := ctx.Err(); ctxErr == context.DeadlineExceeded {
			return abandon(failure.Wrap(failure.Timeout, op, ctxErr))
		}
		return abandon(ctx.Err())
	}

	session.mu.Lock()
	session.authenticated = true
	session.mu.Unlock()

	a.mu.Lock()
	a.session = session
	a.markConnectedLocked(rconConfig)
	a.mu.Unlock()

	a.logger.Info("rcon connected", "address", resolved.Address())
	a.publish(Notification{Kind: NotifyConnected})
	return nil
}

func (a *RCONAdapter) Disconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.disconnect()
	return nil
}

func (a *RCONAdapter) disconnect() {
	session := a.currentSession()
	if session == nil {
		return
	}
	session.localClose.Store(true)
	session.conn.Close()
	<-session.done
}

func (a *RCONAdapter) Reconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	config, err := a.savedConfig("rcon reconnect")
	if err != nil {
		return err
	}
	a.disconnect()
	return a.connect(ctx, config)
}

func (a *RCONAdapter) SendMessage(ctx context.Context, envelope *protocol.Envelope) error {
	const op = "rcon send"
	if a.currentSession() == nil {
		return a.notConnected(op)
	}
	command, err := commandFromEnvelope(op, envelope)
	if err != nil {
		return a.fail(op, err)
	}
	_, err = a.SendCommand(ctx, command)
	return err
}

func (a *RCONAdapter) SendCommand(ctx context.Context, command string) (CommandResult, error) {
	const op = "rcon command"
	start := a.clock.Now()
	session := a.currentSession()
	if session == nil {
		return CommandResult{}, a.notConnected(op)
	}

	id := a.nextRequestID()
	wait, err := session.register(id, op)
	if err != nil {
		return CommandResult{}, a.fail(op, err)
	}
	if err := a.writePacket(session, protocol.Packet{ID: id, Type: protocol.PacketCommand, Body: command}); err != nil {
		session.take(id)
		return CommandResult{}, a.fail(op, err)
	}

	select {
	case result := <-wait:
		if result.err != nil {
			return CommandResult{}, a.fail(op, result.err)
		}
		a.commandsExecuted.Add(1)
		return CommandResult{
			Success:       true,
			Output:        splitOutput(result.packet.Body),
			ExecutionTime: a.clock.Now().Sub(start),
		}, nil
	case <-a.clock.After(session.config.Timeout):
		session.take(id)
		return CommandResult{}, a.fail(op, failure.New(failure.Timeout, op,
			"no response to request %d within %s", id, session.config.Timeout))
	case <-ctx.Done():
		session.take(id)
		return CommandResult{}, a.contextFailure(op, ctx.Err())
	}
}

// IsHealthy reports whether the connection is open and past login.
func (a *RCONAdapter) IsHealthy(ctx context.Context) bool {
	session := a.currentSession()
	if session == nil {
		return false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.authenticated && !session.closed
}

func (a *RCONAdapter) currentSession() *rconSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// nextRequestID returns a positive id. -1 is the server's login
// rejection marker and is never issued.
func (a *RCONAdapter) nextRequestID() int32 {
	for {
		current := a.requestID.Load()
		next := current + 1
		if current == math.MaxInt32 {
			next = 1
		}
		if a.requestID.CompareAndSwap(current, next) {
			return next
		}
	}
}

func (a *RCONAdapter) writePacket(session *rconSession, packet protocol.Packet) error {
	const op = "rcon write"
	frame, err := packet.Encode()
	if err != nil {
		return err
	}
	session.writeMu.Lock()
	defer session.writeMu.Unlock()
	session.conn.SetWriteDeadline(time.Now().Add(rconWriteTimeout))
	if _, err := session.conn.Write(frame); err != nil {
		return failure.New(failure.Transport, op, "writing %s packet: %w", packet.Type, err)
	}
	a.messagesSent.Add(1)
	return nil
}

func (s *rconSession) register(id int32, op string) (<-chan rconResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, failure.Wrap(failure.Transport, op, ErrConnectionClosed)
	}
	result := make(chan rconResult, 1)
	s.pending[id] = result
	return result, nil
}

func (s *rconSession) take(id int32) chan rconResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return result
}

func (a *RCONAdapter) readLoop(session *rconSession) {
	defer close(session.done)
	var decoder protocol.PacketDecoder
	buffer := make([]byte, 4096)
	for {
		n, err := session.conn.Read(buffer)
		if n > 0 {
			a.touch()
			decoder.Feed(buffer[:n])
			for {
				packet, ok, decodeErr := decoder.Next()
				if decodeErr != nil {
					a.fail("rcon receive", decodeErr)
					break
				}
				if !ok {
					break
				}
				a.messagesReceived.Add(1)
				a.deliver(session, packet)
			}
		}
		if err != nil {
			a.closeSession(session, err)
			return
		}
	}
}

// deliver routes one packet: the first packet of the connection answers
// the login, the rest are matched to commands by id.
func (a *RCONAdapter) deliver(session *rconSession, packet protocol.Packet) {
	session.mu.Lock()
	if session.login != nil {
		login := session.login
		session.login = nil
		session.mu.Unlock()
		login <- packet
		return
	}
	result, ok := session.pending[packet.ID]
	if ok {
		delete(session.pending, packet.ID)
	}
	session.mu.Unlock()

	if !ok {
		a.logger.Debug("rcon packet matches no pending request", "request_id", packet.ID, "type", packet.Type.String())
		return
	}
	result <- rconResult{packet: packet}
}

func (a *RCONAdapter) closeSession(session *rconSession, cause error) {
	session.closeOnce.Do(func() {
		session.conn.Close()

		session.mu.Lock()
		session.closed = true
		session.authenticated = false
		pending := session.pending
		session.pending = make(map[int32]chan rconResult)
		session.mu.Unlock()
		for id, result := range pending {
			result <- rconResult{err: failure.New(failure.Transport, "rcon command",
				"request %d: %w", id, ErrConnectionClosed)}
		}

		a.mu.Lock()
		current := a.session == session
		if current {
			a.session = nil
			a.markDisconnectedLocked()
		}
		a.mu.Unlock()
		if !current {
			return
		}

		notification := Notification{Kind: NotifyDisconnected, Local: session.localClose.Load()}
		if notification.Local {
			notification.Reason = "client disconnect"
		} else {
			notification.Reason = cause.Error()
			if !netutil.IsExpectedCloseError(cause) {
				notification.Err = fmt.Errorf("rcon connection lost: %w", cause)
			}
		}
		a.logger.Info("rcon disconnected", "reason", notification.Reason)
		a.publish(notification)
	})
}

// splitOutput turns a response body into lines, dropping the trailing
// empty line a final newline would produce.
func splitOutput(body string) []string {
	body = strings.TrimRight(body, "\n")
	if body == "" {
		return []string{}
	}
	return strings.Split(body, "\n")
}
