// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/gorilla/websocket"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection rather than a fault: EOF, use of a closed connection, a
// reset or broken pipe from a peer that went away, or a WebSocket close
// frame with a normal, going-away, or no-status code. Read loops use it
// to log peer shutdowns at Debug instead of Error.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// CloseDetails extracts the close code and reason from a WebSocket
// close error. Non-WebSocket errors yield CloseAbnormalClosure (1006)
// and the error text.
func CloseDetails(err error) (code int, reason string) {
	var closeError *websocket.CloseError
	if errors.As(err, &closeError) {
		return closeError.Code, closeError.Text
	}
	if err == nil {
		return websocket.CloseNormalClosure, ""
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
