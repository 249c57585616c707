package session

import (
	"path/filepath"
	"time"

	"github.com/jacques-dev/jacques/internal/proc"
)

// DeriveProject picks the project label: git-root basename, then cwd
// basename, then a literal fallback.
func DeriveProject(cwd, gitRoot string) string {
	if gitRoot != "" {
		if base := filepath.Base(gitRoot); base != "" && base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	if cwd != "" {
		if base := filepath.Base(cwd); base != "" && base != "." && base != string(filepath.Separator) {
			return base
		}
	}
	return "Unknown Project"
}

// FromHook builds a Session from a session_start hook event. The hook's own
// timestamp is preserved as registered_at so replayed events keep ordering.
func FromHook(ev HookEvent, gitRoot string, now time.Time) *Session {
	registeredAt := ev.Timestamp
	if registeredAt == 0 {
		registeredAt = now.UnixMilli()
	}

	s := &Session{
		ID:             ev.SessionID,
		Source:         NormalizeSource(ev.Source),
		Title:          ev.Title,
		TranscriptPath: ev.TranscriptPath,
		CWD:            ev.CWD,
		Project:        DeriveProject(ev.CWD, gitRoot),
		Model:          ModelInfo{ID: ev.ModelID, DisplayName: ev.ModelDisplayName},
		Terminal: Terminal{
			TTY:               ev.TTY,
			TerminalPID:       ev.TerminalPID,
			Program:           ev.TerminalProgram,
			TerminalSessionID: ev.TerminalSessionID,
			Pane:              ev.TerminalPane,
			WindowID:          ev.TerminalWindowID,
		},
		Status:       StatusActive,
		LastActivity: now.UnixMilli(),
		RegisteredAt: registeredAt,
		Mode:         NormalizeMode(ev.Mode),
		GitRepoRoot:  gitRoot,
	}
	s.TerminalKey = hookTerminalKey(ev)
	return s
}

// hookTerminalKey picks the richest key the hook's view allows.
func hookTerminalKey(ev HookEvent) string {
	switch {
	case ev.TTY != "" && ev.TerminalPID > 0:
		return TTYKey(ev.TTY, ev.TerminalPID)
	case ev.TerminalPID > 0:
		return PIDKey(ev.TerminalPID)
	case ev.TerminalProgram != "" && ev.TerminalSessionID != "":
		return TerminalKey(ev.TerminalProgram, ev.TerminalSessionID)
	default:
		return HookKey(ev.SessionID)
	}
}

// FromScanner builds a Session from a discovered assistant process. Scanner
// discoveries have no assistant-assigned id, so the session id is synthesised
// from the PID; a later hook registration for the same process replaces it
// through cwd reconciliation.
func FromScanner(p proc.ClaudeProcess, sessionID, gitRoot string, now time.Time) *Session {
	key := PIDKey(p.PID)
	if p.TTY != "" {
		key = TTYKey(p.TTY, p.PID)
	}
	return &Session{
		ID:      sessionID,
		Source:  SourceClaudeCode,
		CWD:     p.CWD,
		Project: DeriveProject(p.CWD, gitRoot),
		Terminal: Terminal{
			TTY:         p.TTY,
			TerminalPID: p.PID,
		},
		TerminalKey:  key,
		Status:       StatusActive,
		LastActivity: now.UnixMilli(),
		RegisteredAt: now.UnixMilli(),
		Mode:         ModeDefault,
		GitRepoRoot:  gitRoot,
	}
}

// FromContextUpdate builds a Session from a context_update event that arrived
// before any session_start. No process information is known yet, so the key
// starts at AUTO and the monitor enriches it later.
func FromContextUpdate(ev HookEvent, gitRoot string, now time.Time) *Session {
	registeredAt := ev.Timestamp
	if registeredAt == 0 {
		registeredAt = now.UnixMilli()
	}
	s := &Session{
		ID:             ev.SessionID,
		Source:         NormalizeSource(ev.Source),
		TranscriptPath: ev.TranscriptPath,
		CWD:            ev.CWD,
		Project:        DeriveProject(ev.CWD, gitRoot),
		Model:          ModelInfo{ID: ev.ModelID, DisplayName: ev.ModelDisplayName},
		TerminalKey:    AutoKey(ev.SessionID),
		Status:         StatusActive,
		LastActivity:   now.UnixMilli(),
		RegisteredAt:   registeredAt,
		Mode:           NormalizeMode(ev.Mode),
		GitRepoRoot:    gitRoot,
	}
	if ev.Context != nil {
		s.Context = *ev.Context
	}
	if ev.AutoCompact != nil {
		s.AutoCompact = *ev.AutoCompact
	}
	return s
}
