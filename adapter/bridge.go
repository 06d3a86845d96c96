// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/gamefleet/lib/clock"
	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/lib/netutil"
	"github.com/bureau-foundation/gamefleet/protocol"
)

const (
	// bridgeReadLimit caps one inbound frame.
	bridgeReadLimit = 4 << 20

	bridgeWriteTimeout = 10 * time.Second

	// bridgeHealthWindow is how many heartbeat intervals may pass
	// without inbound traffic before the bridge reports unhealthy.
	bridgeHealthWindow = 3
)

// BridgeAdapter talks to a plugin inside the game server over a
// WebSocket.
type BridgeAdapter struct {
	base
	dialer *websocket.Dialer

	// session is guarded by base.mu.
	session *bridgeSession
}

// bridgeSession is the state of one WebSocket connection. A new session
// is created per Connect so a late read-loop exit from an old connection
// cannot touch a newer one.
type bridgeSession struct {
	conn   *websocket.Conn
	config *BridgeConfig

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*pendingRequest
	closed    bool

	pingMu     sync.Mutex
	pingID     string
	pingSentAt time.Time

	stopHeartbeat chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
	localClose    atomic.Bool
}

type pendingRequest struct {
	result chan pendingResult
	timer  *clock.Timer
}

type pendingResult struct {
	envelope *protocol.Envelope
	err      error
}

type bridgeHello struct {
	ServerID string `json:"serverId"`
	Version  string `json:"version"`
	Client   string `json:"client"`
}

type bridgeGoodbye struct {
	Reason string `json:"reason,omitempty"`
}

// NewBridge creates a disconnected bridge adapter.
func NewBridge(server string, options Options) *BridgeAdapter {
	adapter := &BridgeAdapter{dialer: options.WebSocketDialer}
	if adapter.dialer == nil {
		adapter.dialer = websocket.DefaultDialer
	}
	adapter.init(server, ModeBridge, options)
	return adapter
}

func (a *BridgeAdapter) Connect(ctx context.Context, config Config) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.connect(ctx, config)
}

func (a *BridgeAdapter) connect(ctx context.Context, config Config) error {
	const op = "bridge connect"
	bridgeConfig, ok := config.(*BridgeConfig)
	if !ok {
		return a.fail(op, failure.New(failure.Configuration, op, "expected bridge config, got %T", config))
	}
	if err := bridgeConfig.Validate(); err != nil {
		return a.fail(op, err)
	}
	if a.currentSession() != nil {
		return a.alreadyConnected(op)
	}
	resolved := bridgeConfig.withDefaults()

	header := http.Header{}
	if resolved.Token != "" {
		header.Set("Authorization", "Bearer "+resolved.Token)
	}
	dialer := *a.dialer
	dialer.HandshakeTimeout = resolved.HandshakeTimeout
	dialContext, cancel := context.WithTimeout(ctx, resolved.HandshakeTimeout)
	defer cancel()

	conn, response, err := dialer.DialContext(dialContext, resolved.URL(), header)
	if err != nil {
		if response != nil {
			return a.fail(op, failure.New(failure.Transport, op, "dialing %s: %w (%s)",
				resolved.URL(), err, netutil.HandshakeFailure(response)))
		}
		return a.fail(op, failure.New(failure.Transport, op, "dialing %s: %w", resolved.URL(), err))
	}
	conn.SetReadLimit(bridgeReadLimit)

	session := &bridgeSession{
		conn:          conn,
		config:        resolved,
		pending:       make(map[string]*pendingRequest),
		stopHeartbeat: make(chan struct{}),
		done:          make(chan struct{}),
	}

	a.mu.Lock()
	a.session = session
	a.markConnectedLocked(bridgeConfig)
	a.mu.Unlock()

	go a.readLoop(session)

	hello, err := protocol.NewSystem(uuid.NewString(), protocol.SystemHandshake, bridgeHello{
		ServerID: a.server,
		Version:  protocol.Version,
		Client:   "gamefleet",
	}, a.clock.Now())
	if err == nil {
		err = a.write(session, hello)
	}
	if err != nil {
		session.localClose.Store(true)
		session.conn.Close()
		<-session.done
		return a.fail(op, failure.Wrap(failure.Transport, op, err))
	}

	go a.heartbeat(session)

	a.logger.Info("bridge connected", "url", resolved.URL())
	a.publish(Notification{Kind: NotifyConnected})
	return nil
}

func (a *BridgeAdapter) Disconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.disconnect()
	return nil
}

// disconnect sends a close frame and closes the socket without waiting
// for the peer to answer. The read loop sees the closed socket and
// finishes the teardown.
func (a *BridgeAdapter) disconnect() {
	session := a.currentSession()
	if session == nil {
		return
	}
	session.localClose.Store(true)
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	session.writeMu.Lock()
	session.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))
	session.writeMu.Unlock()
	session.conn.Close()
	<-session.done
}

func (a *BridgeAdapter) Reconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	config, err := a.savedConfig("bridge reconnect")
	if err != nil {
		return err
	}
	a.disconnect()
	return a.connect(ctx, config)
}

func (a *BridgeAdapter) SendMessage(ctx context.Context, envelope *protocol.Envelope) error {
	const op = "bridge send"
	session := a.currentSession()
	if session == nil {
		return a.notConnected(op)
	}
	if envelope == nil {
		return a.fail(op, failure.New(failure.Unsupported, op, "nil envelope"))
	}
	stamped := *envelope
	if stamped.ServerID == "" {
		stamped.ServerID = a.server
	}
	if err := a.write(session, &stamped); err != nil {
		return a.fail(op, err)
	}
	return nil
}

func (a *BridgeAdapter) SendCommand(ctx context.Context, command string) (CommandResult, error) {
	const op = "bridge command"
	start := a.clock.Now()
	session := a.currentSession()
	if session == nil {
		return CommandResult{}, a.notConnected(op)
	}

	id := uuid.NewString()
	request, err := protocol.NewRequest(id, protocol.OpCommand, protocol.CommandRequest{Command: command}, start)
	if err != nil {
		return CommandResult{}, a.fail(op, err)
	}
	request.ServerID = a.server

	wait, err := a.register(session, id, op)
	if err != nil {
		return CommandResult{}, a.fail(op, err)
	}
	if err := a.write(session, request); err != nil {
		session.take(id)
		return CommandResult{}, a.fail(op, err)
	}

	var result pendingResult
	select {
	case result = <-wait:
	case <-ctx.Done():
		session.take(id)
		return CommandResult{}, a.contextFailure(op, ctx.Err())
	}
	if result.err != nil {
		return CommandResult{}, a.fail(op, result.err)
	}

	var response protocol.CommandResponse
	if err := result.envelope.DecodeData(&response); err != nil {
		return CommandResult{}, a.fail(op, err)
	}
	a.commandsExecuted.Add(1)
	return CommandResult{
		Success:       response.Success,
		Output:        response.Output,
		Error:         response.Error,
		ExecutionTime: a.clock.Now().Sub(start),
	}, nil
}

// IsHealthy reports whether the socket is open and the plugin has said
// anything within the last few heartbeat intervals.
func (a *BridgeAdapter) IsHealthy(ctx context.Context) bool {
	session := a.currentSession()
	if session == nil {
		return false
	}
	return a.sinceActivity() <= bridgeHealthWindow*session.config.HeartbeatInterval
}

func (a *BridgeAdapter) currentSession() *bridgeSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// write encodes and sends one envelope. gorilla/websocket allows one
// concurrent writer, so writes are serialized per session.
func (a *BridgeAdapter) write(session *bridgeSession, envelope *protocol.Envelope) error {
	frame, err := protocol.Encode(envelope)
	if err != nil {
		return err
	}
	session.writeMu.Lock()
	defer session.writeMu.Unlock()
	session.conn.SetWriteDeadline(time.Now().Add(bridgeWriteTimeout))
	if err := session.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return failure.New(failure.Transport, "bridge write", "writing %s frame: %w", envelope.Type, err)
	}
	a.messagesSent.Add(1)
	return nil
}

// register adds a correlation entry for id with the session's request
// timeout. The entry is removed by exactly one of: the matching
// response, the timeout, the caller giving up, or session close.
func (a *BridgeAdapter) register(session *bridgeSession, id, op string) (<-chan pendingResult, error) {
	request := &pendingRequest{result: make(chan pendingResult, 1)}

	session.pendingMu.Lock()
	if session.closed {
		session.pendingMu.Unlock()
		return nil, failure.Wrap(failure.Transport, op, ErrConnectionClosed)
	}
	session.pending[id] = request
	session.pendingMu.Unlock()

	timeout := session.config.RequestTimeout
	timer := a.clock.AfterFunc(timeout, func() {
		if expired := session.take(id); expired != nil {
			expired.result <- pendingResult{err: failure.New(failure.Timeout, op,
				"no response to request %s within %s", id, timeout)}
		}
	})

	session.pendingMu.Lock()
	if _, ok := session.pending[id]; ok {
		request.timer = timer
	} else {
		timer.Stop()
	}
	session.pendingMu.Unlock()
	return request.result, nil
}

// take removes and returns the pending request for id, or nil if it was
// already resolved.
func (s *bridgeSession) take(id string) *pendingRequest {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	request, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	if request.timer != nil {
		request.timer.Stop()
	}
	return request
}

func (s *bridgeSession) drain() map[string]*pendingRequest {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]*pendingRequest)
	for _, request := range pending {
		if request.timer != nil {
			request.timer.Stop()
		}
	}
	return pending
}

func (a *BridgeAdapter) readLoop(session *bridgeSession) {
	defer close(session.done)
	for {
		_, frame, err := session.conn.ReadMessage()
		if err != nil {
			a.closeSession(session, err)
			return
		}
		a.touch()
		a.messagesReceived.Add(1)

		envelope, err := protocol.Decode(frame)
		if err != nil {
			a.fail("bridge receive", err)
			continue
		}
		a.dispatch(session, envelope)
	}
}

// dispatch acts on one decoded envelope. The message notification goes
// out after the envelope has been acted on, so a subscriber that sees it
// also sees its effects.
func (a *BridgeAdapter) dispatch(session *bridgeSession, envelope *protocol.Envelope) {
	defer a.publish(Notification{Kind: NotifyMessage, Message: envelope})

	switch envelope.Type {
	case protocol.TypeResponse:
		request := session.take(envelope.ID)
		if request == nil {
			a.logger.Debug("bridge response matches no pending request", "request_id", envelope.ID)
			return
		}
		request.result <- pendingResult{envelope: envelope}
	case protocol.TypeEvent:
		a.publish(Notification{Kind: NotifyEvent, Message: envelope})
	case protocol.TypeSystem:
		a.handleSystem(session, envelope)
	case protocol.TypeRequest:
		// Requests from the plugin are surfaced only as messages.
	}
}

func (a *BridgeAdapter) handleSystem(session *bridgeSession, envelope *protocol.Envelope) {
	switch envelope.SystemOp {
	case protocol.SystemPing:
		pong, err := protocol.NewSystem(envelope.ID, protocol.SystemPong, nil, a.clock.Now())
		if err == nil {
			err = a.write(session, pong)
		}
		if err != nil {
			a.logger.Debug("bridge pong failed", "error", err)
		}
	case protocol.SystemPong:
		session.pingMu.Lock()
		matched := envelope.ID != "" && envelope.ID == session.pingID
		sentAt := session.pingSentAt
		if matched {
			session.pingID = ""
		}
		session.pingMu.Unlock()
		if matched {
			a.latency.Store(int64(a.clock.Now().Sub(sentAt)))
		}
	case protocol.SystemHandshake, protocol.SystemCapabilities:
		var capabilities protocol.Capabilities
		if err := envelope.DecodeData(&capabilities); err != nil {
			a.fail("bridge receive", err)
			return
		}
		if capabilities.Capabilities != nil {
			a.setCapabilities(capabilities.Capabilities)
		}
	case protocol.SystemDisconnect:
		var goodbye bridgeGoodbye
		if err := envelope.DecodeData(&goodbye); err != nil {
			goodbye.Reason = ""
		}
		a.logger.Info("bridge plugin announced disconnect", "reason", goodbye.Reason)
		a.publish(Notification{Kind: NotifyRemoteDisconnect, Reason: goodbye.Reason})
	}
}

func (a *BridgeAdapter) heartbeat(session *bridgeSession) {
	ticker := a.clock.NewTicker(session.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-session.stopHeartbeat:
			return
		case <-ticker.C:
			a.ping(session)
		}
	}
}

func (a *BridgeAdapter) ping(session *bridgeSession) {
	id := uuid.NewString()
	now := a.clock.Now()
	ping, err := protocol.NewSystem(id, protocol.SystemPing, nil, now)
	if err != nil {
		return
	}
	session.pingMu.Lock()
	session.pingID = id
	session.pingSentAt = now
	session.pingMu.Unlock()
	if err := a.write(session, ping); err != nil {
		a.logger.Debug("bridge ping failed", "error", err)
	}
}

// closeSession runs once per session, from its read loop, when the
// socket is gone for any reason.
func (a *BridgeAdapter) closeSession(session *bridgeSession, cause error) {
	session.closeOnce.Do(func() {
		close(session.stopHeartbeat)
		session.conn.Close()

		for id, request := range session.drain() {
			request.result <- pendingResult{err: failure.New(failure.Transport, "bridge command",
				"request %s: %w", id, ErrConnectionClosed)}
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

		notification := Notification{Kind: NotifyDisconnected}
		if session.localClose.Load() {
			notification.Code = websocket.CloseNormalClosure
			notification.Reason = "client disconnect"
			notification.Local = true
		} else {
			notification.Code, notification.Reason = netutil.CloseDetails(cause)
			if !netutil.IsExpectedCloseError(cause) {
				notification.Err = fmt.Errorf("bridge connection lost: %w", cause)
			}
		}
		a.logger.Info("bridge disconnected", "code", notification.Code, "reason", notification.Reason)
		a.publish(notification)
	})
}
