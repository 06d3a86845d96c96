// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/gamefleet/adapter"
)

func TestWriteJSON(t *testing.T) {
	var buffer bytes.Buffer
	err := writeJSON(&buffer, "lobby", "list", adapter.CommandResult{
		Success:       true,
		Output:        []string{"There are 2 players online"},
		ExecutionTime: 42 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	var decoded output
	if err := json.Unmarshal(buffer.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding %q: %v", buffer.String(), err)
	}
	if decoded.Server != "lobby" || !decoded.Success || decoded.ExecutionTimeMS != 42 ||
		len(decoded.Output) != 1 || decoded.Error != "" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestWriteJSONEmptyOutputIsArray(t *testing.T) {
	var buffer bytes.Buffer
	if err := writeJSON(&buffer, "lobby", "save-all", adapter.CommandResult{}); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
	if !bytes.Contains(buffer.Bytes(), []byte(`"output": []`)) {
		t.Fatalf("output = %s, want an empty array", buffer.String())
	}
}

func TestWriteText(t *testing.T) {
	var buffer bytes.Buffer
	if err := writeText(&buffer, adapter.CommandResult{Output: []string{"a", "b"}}); err != nil {
		t.Fatalf("writeText: %v", err)
	}
	if got := buffer.String(); got != "a\nb\n" {
		t.Fatalf("writeText wrote %q", got)
	}
}

func TestWriteSummary(t *testing.T) {
	var buffer bytes.Buffer
	writeSummary(&buffer, "lobby", adapter.CommandResult{Success: true, ExecutionTime: 1500 * time.Microsecond})
	if got := buffer.String(); !strings.Contains(got, "lobby: ok in 2ms") {
		t.Errorf("success summary = %q", got)
	}

	buffer.Reset()
	writeSummary(&buffer, "lobby", adapter.CommandResult{Error: "Unknown command"})
	if got := buffer.String(); !strings.Contains(got, "command failed: Unknown command") {
		t.Errorf("failure summary = %q", got)
	}
}
