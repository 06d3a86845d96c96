// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// Console line patterns. Server log lines usually carry a timestamp and
// thread prefix ("[12:00:00] [Server thread/INFO]: "), so the patterns
// match anywhere in the line.
var (
	joinedPattern  = regexp.MustCompile(`(\S+) joined the game`)
	leftPattern    = regexp.MustCompile(`(\S+) left the game`)
	chatPattern    = regexp.MustCompile(`<([^>\s]+)> (.*)$`)
	startedPattern = regexp.MustCompile(`Done \(([0-9]+(?:\.[0-9]+)?)s\)!`)
	stoppedPattern = regexp.MustCompile(`Stopping (?:the )?server`)
)

// ParseServerEvent recognizes the console lines that carry structured
// meaning. Chat is checked first so a player typing "x joined the game"
// is reported as chat.
func ParseServerEvent(line string) (ServerEvent, bool) {
	if match := chatPattern.FindStringSubmatch(line); match != nil {
		return ServerEvent{Kind: PlayerChat, Player: match[1], Message: match[2], Line: line}, true
	}
	if match := joinedPattern.FindStringSubmatch(line); match != nil {
		return ServerEvent{Kind: PlayerJoined, Player: match[1], Line: line}, true
	}
	if match := leftPattern.FindStringSubmatch(line); match != nil {
		return ServerEvent{Kind: PlayerLeft, Player: match[1], Line: line}, true
	}
	if match := startedPattern.FindStringSubmatch(line); match != nil {
		event := ServerEvent{Kind: ServerStarted, Line: line}
		if seconds, err := strconv.ParseFloat(match[1], 64); err == nil {
			event.StartupTime = time.Duration(math.Round(seconds*1000)) * time.Millisecond
		}
		return event, true
	}
	if stoppedPattern.MatchString(line) {
		return ServerEvent{Kind: ServerStopped, Line: line}, true
	}
	return ServerEvent{}, false
}
