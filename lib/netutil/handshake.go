// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a rejected upgrade's body is read
// into an error message.
const maxErrorBody = 4096

// HandshakeFailure describes a failed HTTP upgrade response for an error
// message: the status line plus the start of the body. It closes the
// body. A nil response yields "".
func HandshakeFailure(response *http.Response) string {
	if response == nil {
		return ""
	}
	defer response.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	body := strings.TrimSpace(string(data))
	if body == "" {
		return fmt.Sprintf("HTTP %s", response.Status)
	}
	return fmt.Sprintf("HTTP %s: %s", response.Status, body)
}
