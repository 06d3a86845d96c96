// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package adapter

import (
	"os"
	"os/exec"
)

func isolateProcessGroup(command *exec.Cmd) {}

func killProcessGroup(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}
