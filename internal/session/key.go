package session

import (
	"fmt"
	"strconv"
	"strings"
)

// Terminal-key shapes, richest first:
//
//	DISCOVERED:PID:<pid>
//	DISCOVERED:TTY:<tty>:<pid>
//	DISCOVERED:<TERM>:<terminal-session-id>
//	HOOK:<sid>
//	AUTO:<sid>
//
// A key is never downgraded: upgrades go strictly up this ladder.

// HookKey builds the key for a hook-observed session.
func HookKey(sessionID string) string { return "HOOK:" + sessionID }

// AutoKey builds the key for a context-update-observed session with no
// process information yet.
func AutoKey(sessionID string) string { return "AUTO:" + sessionID }

// PIDKey builds the key for a session tied to a verified process.
func PIDKey(pid int) string { return fmt.Sprintf("DISCOVERED:PID:%d", pid) }

// TTYKey builds the key for a session observed on a controlling TTY.
func TTYKey(tty string, pid int) string {
	return fmt.Sprintf("DISCOVERED:TTY:%s:%d", tty, pid)
}

// TerminalKey builds the key for a session identified by a terminal
// program's own session id, e.g. DISCOVERED:ITERM:w0t0p0.
func TerminalKey(program, terminalSessionID string) string {
	return fmt.Sprintf("DISCOVERED:%s:%s", strings.ToUpper(program), terminalSessionID)
}

// KeyPID extracts a process id from a terminal key, if it carries one.
func KeyPID(key string) (int, bool) {
	switch {
	case strings.HasPrefix(key, "DISCOVERED:PID:"):
		pid, err := strconv.Atoi(key[len("DISCOVERED:PID:"):])
		return pid, err == nil && pid > 0
	case strings.HasPrefix(key, "DISCOVERED:TTY:"):
		rest := key[len("DISCOVERED:TTY:"):]
		i := strings.LastIndexByte(rest, ':')
		if i < 0 {
			return 0, false
		}
		pid, err := strconv.Atoi(rest[i+1:])
		return pid, err == nil && pid > 0
	}
	return 0, false
}

// KeyRank orders keys by richness for upgrade decisions.
func KeyRank(key string) int {
	switch {
	case strings.HasPrefix(key, "DISCOVERED:PID:"):
		return 4
	case strings.HasPrefix(key, "DISCOVERED:TTY:"):
		return 3
	case strings.HasPrefix(key, "DISCOVERED:"):
		return 2
	case strings.HasPrefix(key, "HOOK:"):
		return 1
	default:
		return 0
	}
}

// UpgradeKey returns the richer of current and candidate. Equal rank keeps
// current so established keys stay stable.
func UpgradeKey(current, candidate string) string {
	if candidate == "" {
		return current
	}
	if current == "" || KeyRank(candidate) > KeyRank(current) {
		return candidate
	}
	return current
}
