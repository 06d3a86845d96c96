// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package adapter

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// isolateProcessGroup puts the child in its own process group so the
// whole tree can be killed at once. PTY children already lead their own
// session and must not be given this attribute.
func isolateProcessGroup(command *exec.Cmd) {
	if command.SysProcAttr == nil {
		command.SysProcAttr = &syscall.SysProcAttr{}
	}
	command.SysProcAttr.Setpgid = true
}

// killProcessGroup sends SIGKILL to every process in pid's group.
func killProcessGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}
