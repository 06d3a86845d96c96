// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/creack/pty"

	"github.com/bureau-foundation/gamefleet/lib/failure"
	"github.com/bureau-foundation/gamefleet/protocol"
)

const (
	// terminalMaxLine is the longest output line kept whole.
	terminalMaxLine = 1 << 20

	// terminalMaxOutput bounds the lines buffered for one command.
	terminalMaxOutput = 10000
)

// TerminalAdapter runs the server process and uses its stdio as the
// console.
type TerminalAdapter struct {
	base

	// session is guarded by base.mu.
	session *terminalSession
}

type terminalSession struct {
	config  *TerminalConfig
	command *exec.Cmd
	stdin   io.WriteCloser
	// terminal is the PTY master when UsePTY is set.
	terminal *os.File

	readers sync.WaitGroup

	outputMu     sync.Mutex
	output       []string
	outputSignal chan struct{}

	queueMu     sync.Mutex
	queue       []*terminalCommand
	queueClosed bool
	queueSignal chan struct{}

	// exited is closed once the process has been reaped.
	exited     chan struct{}
	stopWorker chan struct{}
	closeOnce  sync.Once
	localClose atomic.Bool
}

type terminalCommand struct {
	ctx    context.Context
	text   string
	result chan terminalResult
}

type terminalResult struct {
	output []string
	err    error
}

// NewTerminal creates a disconnected terminal adapter.
func NewTerminal(server string, options Options) *TerminalAdapter {
	adapter := &TerminalAdapter{}
	adapter.init(server, ModeTerminal, options)
	return adapter
}

func (a *TerminalAdapter) Connect(ctx context.Context, config Config) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.connect(ctx, config)
}

func (a *TerminalAdapter) connect(ctx context.Context, config Config) error {
	const op = "terminal connect"
	terminalConfig, ok := config.(*TerminalConfig)
	if !ok {
		return a.fail(op, failure.New(failure.Configuration, op, "expected terminal config, got %T", config))
	}
	if err := terminalConfig.Validate(); err != nil {
		return a.fail(op, err)
	}
	if terminalConfig.PID != 0 {
		return a.fail(op, failure.New(failure.Unsupported, op,
			"attaching to running process %d is not supported", terminalConfig.PID))
	}
	if a.currentSession() != nil {
		return a.alreadyConnected(op)
	}
	if err := ctx.Err(); err != nil {
		return a.contextFailure(op, err)
	}
	resolved := terminalConfig.withDefaults()

	command := exec.Command(resolved.Command, resolved.Args...)
	command.Dir = resolved.WorkingDir
	command.Env = append(os.Environ(), resolved.Env...)

	session := &terminalSession{
		config:       resolved,
		command:      command,
		outputSignal: make(chan struct{}, 1),
		queueSignal:  make(chan struct{}, 1),
		exited:       make(chan struct{}),
		stopWorker:   make(chan struct{}),
	}

	var streams map[string]io.Reader
	if resolved.UsePTY {
		terminal, err := pty.Start(command)
		if err != nil {
			return a.fail(op, failure.New(failure.Transport, op, "starting %s on a pty: %w", resolved.Command, err))
		}
		session.terminal = terminal
		session.stdin = terminal
		streams = map[string]io.Reader{"stdout": terminal}
	} else {
		isolateProcessGroup(command)
		stdin, err := command.StdinPipe()
		if err != nil {
			return a.fail(op, failure.Wrap(failure.Transport, op, err))
		}
		stdout, err := command.StdoutPipe()
		if err != nil {
			return a.fail(op, failure.Wrap(failure.Transport, op, err))
		}
		stderr, err := command.StderrPipe()
		if err != nil {
			return a.fail(op, failure.Wrap(failure.Transport, op, err))
		}
		if err := command.Start(); err != nil {
			return a.fail(op, failure.New(failure.Transport, op, "starting %s: %w", resolved.Command, err))
		}
		session.stdin = stdin
		streams = map[string]io.Reader{"stdout": stdout, "stderr": stderr}
	}

	a.mu.Lock()
	a.session = session
	a.markConnectedLocked(terminalConfig)
	a.mu.Unlock()

	for stream, reader := range streams {
		session.readers.Add(1)
		go a.readLines(session, stream, reader)
	}
	go a.wait(session)
	go a.worker(session)

	a.logger.Info("terminal process started", "command", resolved.Command, "pid", command.Process.Pid, "pty", resolved.UsePTY)
	a.publish(Notification{Kind: NotifyConnected})
	return nil
}

func (a *TerminalAdapter) Disconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	a.disconnect(ctx)
	return nil
}

// disconnect asks the server to stop, then kills the process group if
// it has not exited within the grace period or ctx ends first.
func (a *TerminalAdapter) disconnect(ctx context.Context) {
	session := a.currentSession()
	if session == nil {
		return
	}
	session.localClose.Store(true)
	if _, err := io.WriteString(session.stdin, session.config.StopCommand+"\n"); err != nil {
		a.logger.Debug("writing stop command failed", "error", err)
	}

	select {
	case <-session.exited:
		return
	case <-a.clock.After(session.config.StopGrace):
		a.logger.Warn("terminal process did not stop in time, killing", "grace", session.config.StopGrace)
	case <-ctx.Done():
	}
	a.kill(session)
	<-session.exited
}

func (a *TerminalAdapter) kill(session *terminalSession) {
	pid := session.command.Process.Pid
	if err := killProcessGroup(pid); err != nil {
		a.logger.Debug("killing process group failed, killing process", "pid", pid, "error", err)
		session.command.Process.Kill()
	}
}

func (a *TerminalAdapter) Reconnect(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	config, err := a.savedConfig("terminal reconnect")
	if err != nil {
		return err
	}
	a.disconnect(ctx)
	return a.connect(ctx, config)
}

func (a *TerminalAdapter) SendMessage(ctx context.Context, envelope *protocol.Envelope) error {
	const op = "terminal send"
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

// SendCommand queues command behind any command already running. The
// result holds every line the process printed after the command was
// written, up to the first quiet period.
func (a *TerminalAdapter) SendCommand(ctx context.Context, command string) (CommandResult, error) {
	const op = "terminal command"
	start := a.clock.Now()
	session := a.currentSession()
	if session == nil {
		return CommandResult{}, a.notConnected(op)
	}
	if strings.ContainsAny(command, "\r\n") {
		return CommandResult{}, a.fail(op, failure.New(failure.Unsupported, op, "command contains a line break"))
	}

	queued := &terminalCommand{ctx: ctx, text: command, result: make(chan terminalResult, 1)}
	if err := session.enqueue(queued, op); err != nil {
		return CommandResult{}, a.fail(op, err)
	}

	select {
	case result := <-queued.result:
		if result.err != nil {
			return CommandResult{}, a.fail(op, result.err)
		}
		a.commandsExecuted.Add(1)
		return CommandResult{
			Success:       true,
			Output:        result.output,
			ExecutionTime: a.clock.Now().Sub(start),
		}, nil
	case <-ctx.Done():
		return CommandResult{}, a.contextFailure(op, ctx.Err())
	}
}

// IsHealthy reports whether the process is still running.
func (a *TerminalAdapter) IsHealthy(ctx context.Context) bool {
	session := a.currentSession()
	if session == nil {
		return false
	}
	select {
	case <-session.exited:
		return false
	default:
		return true
	}
}

func (a *TerminalAdapter) currentSession() *terminalSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (s *terminalSession) enqueue(command *terminalCommand, op string) error {
	s.queueMu.Lock()
	if s.queueClosed {
		s.queueMu.Unlock()
		return failure.Wrap(failure.Transport, op, ErrConnectionClosed)
	}
	s.queue = append(s.queue, command)
	s.queueMu.Unlock()
	signal(s.queueSignal)
	return nil
}

func (s *terminalSession) dequeue() (*terminalCommand, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	command := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return command, true
}

// closeQueue refuses further commands and returns the ones still
// waiting.
func (s *terminalSession) closeQueue() []*terminalCommand {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	s.queueClosed = true
	remaining := s.queue
	s.queue = nil
	return remaining
}

// worker runs queued commands one at a time.
func (a *TerminalAdapter) worker(session *terminalSession) {
	for {
		select {
		case <-session.stopWorker:
			return
		case <-session.queueSignal:
		}
		for {
			command, ok := session.dequeue()
			if !ok {
				break
			}
			command.result <- a.run(session, command)
		}
	}
}

func (a *TerminalAdapter) run(session *terminalSession, command *terminalCommand) terminalResult {
	const op = "terminal command"
	if err := command.ctx.Err(); err != nil {
		return terminalResult{err: err}
	}
	select {
	case <-session.exited:
		return terminalResult{err: failure.Wrap(failure.Transport, op, ErrConnectionClosed)}
	default:
	}

	session.resetOutput()
	if _, err := io.WriteString(session.stdin, command.text+"\n"); err != nil {
		return terminalResult{err: failure.New(failure.Transport, op, "writing command: %w", err)}
	}
	a.messagesSent.Add(1)

	deadline := a.clock.After(session.config.CommandTimeout)
	quiet := a.clock.After(session.config.QuietPeriod)
	for {
		select {
		case <-session.outputSignal:
			quiet = a.clock.After(session.config.QuietPeriod)
			continue
		case <-quiet:
		case <-deadline:
			a.logger.Debug("terminal command output still flowing at timeout", "command", command.text)
		case <-session.exited:
		}
		return terminalResult{output: session.takeOutput()}
	}
}

func (s *terminalSession) resetOutput() {
	s.outputMu.Lock()
	s.output = nil
	s.outputMu.Unlock()
	select {
	case <-s.outputSignal:
	default:
	}
}

func (s *terminalSession) appendOutput(line string) {
	s.outputMu.Lock()
	if len(s.output) < terminalMaxOutput {
		s.output = append(s.output, line)
	}
	s.outputMu.Unlock()
	signal(s.outputSignal)
}

func (s *terminalSession) takeOutput() []string {
	s.outputMu.Lock()
	defer s.outputMu.Unlock()
	output := slices.Clone(s.output)
	if output == nil {
		output = []string{}
	}
	s.output = nil
	return output
}

func (a *TerminalAdapter) readLines(session *terminalSession, stream string, reader io.Reader) {
	defer session.readers.Done()
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), terminalMaxLine)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		a.touch()
		a.messagesReceived.Add(1)
		session.appendOutput(line)
		a.publish(Notification{Kind: NotifyLog, Line: line, Stream: stream})
		if event, ok := ParseServerEvent(line); ok {
			a.publish(Notification{Kind: NotifyServerEvent, Event: &event})
		}
	}
	// A PTY master reports EIO once the child side closes; that and EOF
	// are the normal end of output.
	if err := scanner.Err(); err != nil && !isTerminalClosed(err) {
		a.logger.Debug("terminal output read failed", "stream", stream, "error", err)
	}
}

// wait reaps the process after its output is fully read, then tears
// the session down.
func (a *TerminalAdapter) wait(session *terminalSession) {
	session.readers.Wait()
	waitErr := session.command.Wait()
	if session.terminal != nil {
		session.terminal.Close()
	}
	close(session.exited)
	a.closeSession(session, waitErr)
}

func (a *TerminalAdapter) closeSession(session *terminalSession, waitErr error) {
	session.closeOnce.Do(func() {
		close(session.stopWorker)
		session.stdin.Close()
		for _, command := range session.closeQueue() {
			command.result <- terminalResult{err: failure.Wrap(failure.Transport, "terminal command", ErrConnectionClosed)}
		}

		a.mu.Lock()
		if a.session == session {
			a.session = nil
			a.markDisconnectedLocked()
		}
		a.mu.Unlock()

		exitCode := session.command.ProcessState.ExitCode()
		notification := Notification{
			Kind:  NotifyDisconnected,
			Code:  exitCode,
			Local: session.localClose.Load(),
		}
		if waitErr != nil {
			notification.Reason = waitErr.Error()
		} else {
			notification.Reason = "exit status 0"
		}
		if !notification.Local {
			notification.Err = fmt.Errorf("server process exited: %s", notification.Reason)
		}
		a.logger.Info("terminal process exited", "exit_code", exitCode, "local", notification.Local)
		a.publish(notification)
	})
}

func isTerminalClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)
}

// signal does a non-blocking send on a one-slot wakeup channel.
func signal(wakeup chan struct{}) {
	select {
	case wakeup <- struct{}{}:
	default:
	}
}
