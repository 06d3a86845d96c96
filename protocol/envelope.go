// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"time"
)

// Version is the bridge protocol version stamped on every envelope.
const Version = "1.0"

// OpCommand is the request op that runs a console command.
const OpCommand = "server.command"

// MessageType is the envelope's top-level kind.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
	TypeSystem   MessageType = "system"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeRequest, TypeResponse, TypeEvent, TypeSystem:
		return true
	}
	return false
}

// SystemOp is the operation of a system envelope.
type SystemOp string

const (
	SystemPing         SystemOp = "ping"
	SystemPong         SystemOp = "pong"
	SystemHandshake    SystemOp = "handshake"
	SystemCapabilities SystemOp = "capabilities"
	SystemDisconnect   SystemOp = "disconnect"
)

func (o SystemOp) valid() bool {
	switch o {
	case SystemPing, SystemPong, SystemHandshake, SystemCapabilities, SystemDisconnect:
		return true
	}
	return false
}

// Envelope is one bridge message.
type Envelope struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Op        string          `json:"op"`
	Data      json.RawMessage `json:"data"`
	Timestamp Timestamp       `json:"timestamp"`
	Version   string          `json:"version"`
	ServerID  string          `json:"serverId,omitempty"`
	SystemOp  SystemOp        `json:"systemOp,omitempty"`
}

// DecodeData unmarshals the payload into v. An absent or null payload
// leaves v untouched.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return bridgeError(err, "decoding %s data for op %q", e.Type, e.Op)
	}
	return nil
}

// Timestamp is an instant carried as epoch milliseconds.
type Timestamp int64

// TimestampOf converts t to a Timestamp.
func TimestampOf(t time.Time) Timestamp { return Timestamp(t.UnixMilli()) }

// Time converts back to time.Time.
func (ts Timestamp) Time() time.Time { return time.UnixMilli(int64(ts)) }

// UnmarshalJSON accepts a number (epoch milliseconds) or an RFC 3339
// string.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return err
		}
		*ts = TimestampOf(parsed)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*ts = 0
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	if millis, err := number.Int64(); err == nil {
		*ts = Timestamp(millis)
		return nil
	}
	millis, err := number.Float64()
	if err != nil {
		return err
	}
	*ts = Timestamp(int64(millis))
	return nil
}

// NewRequest builds a request envelope.
func NewRequest(id, op string, data any, now time.Time) (*Envelope, error) {
	return newEnvelope(TypeRequest, id, op, data, now)
}

// NewResponse builds a response to the request with the given id.
func NewResponse(requestID, op string, data any, now time.Time) (*Envelope, error) {
	return newEnvelope(TypeResponse, requestID, op, data, now)
}

// NewEvent builds an event envelope.
func NewEvent(id, op string, data any, now time.Time) (*Envelope, error) {
	return newEnvelope(TypeEvent, id, op, data, now)
}

// NewSystem builds a system envelope. The op field mirrors the system
// op so that peers which only inspect op still route it.
func NewSystem(id string, op SystemOp, data any, now time.Time) (*Envelope, error) {
	envelope, err := newEnvelope(TypeSystem, id, "system."+string(op), data, now)
	if err != nil {
		return nil, err
	}
	envelope.SystemOp = op
	return envelope, nil
}

func newEnvelope(messageType MessageType, id, op string, data any, now time.Time) (*Envelope, error) {
	envelope := &Envelope{
		Type:      messageType,
		ID:        id,
		Op:        op,
		Timestamp: TimestampOf(now),
		Version:   Version,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, bridgeError(err, "encoding %s data for op %q", messageType, op)
		}
		envelope.Data = raw
	}
	return envelope, nil
}

// Encode validates and serializes an envelope.
func Encode(envelope *Envelope) ([]byte, error) {
	if envelope == nil {
		return nil, bridgeError(nil, "nil envelope")
	}
	if err := validate(envelope); err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, bridgeError(err, "encoding envelope %q", envelope.ID)
	}
	return encoded, nil
}

// Decode parses one frame.
func Decode(frame []byte) (*Envelope, error) {
	var probe struct {
		Type *MessageType `json:"type"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return nil, bridgeError(err, "malformed frame")
	}
	if probe.Type == nil {
		return nil, bridgeError(nil, "frame has no type")
	}

	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, bridgeError(err, "malformed frame")
	}
	if err := validate(&envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

func validate(envelope *Envelope) error {
	if !envelope.Type.valid() {
		return bridgeError(nil, "unknown message type %q", envelope.Type)
	}
	if envelope.Type == TypeSystem && !envelope.SystemOp.valid() {
		return bridgeError(nil, "system message %q has unknown systemOp %q", envelope.ID, envelope.SystemOp)
	}
	if (envelope.Type == TypeRequest || envelope.Type == TypeResponse) && envelope.ID == "" {
		return bridgeError(nil, "%s without id", envelope.Type)
	}
	return nil
}

// CommandRequest is the data of a server.command request.
type CommandRequest struct {
	Command string `json:"command"`
}

// CommandResponse is the data of a server.command response.
type CommandResponse struct {
	Success bool     `json:"success"`
	Output  []string `json:"output,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Capabilities is the data of a capabilities or handshake system
// message.
type Capabilities struct {
	Capabilities []string `json:"capabilities"`
}
