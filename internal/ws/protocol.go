package ws

import (
	"github.com/jacques-dev/jacques/internal/gitinfo"
	"github.com/jacques-dev/jacques/internal/session"
	"github.com/jacques-dev/jacques/internal/terminal"
)

// Consumer-bound message types.
const (
	MsgInitialState      = "initial_state"
	MsgSessionUpdate     = "session_update"
	MsgSessionEnded      = "session_ended"
	MsgFocusChanged      = "focus_changed"
	MsgNotificationFired = "notification_fired"
)

// Control message types a consumer may send. Each is answered with exactly
// one "<type>_result" message.
const (
	CtrlSubscribe      = "subscribe"
	CtrlFocusTerminal  = "focus_terminal"
	CtrlTileWindows    = "tile_windows"
	CtrlMaximizeWindow = "maximize_window"
	CtrlLaunchSession  = "launch_session"
	CtrlListWorktrees  = "list_worktrees"
	CtrlCreateWorktree = "create_worktree"
	CtrlRemoveWorktree = "remove_worktree"
)

// Error categories carried in ControlResult.Error.
const (
	ErrCatNotFound    = "not_found"
	ErrCatMalformed   = "malformed"
	ErrCatUnavailable = "unavailable"
	ErrCatInternal    = "internal"
)

// Message is the envelope for every consumer-bound frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// InitialState is pushed once when a consumer connects.
type InitialState struct {
	Sessions  []*session.Session `json:"sessions"`
	FocusedID string             `json:"focusedId,omitempty"`
}

// SessionEndedPayload announces a removed session.
type SessionEndedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// FocusChangedPayload announces the new focused session, empty when cleared.
type FocusChangedPayload struct {
	SessionID string `json:"sessionId"`
}

// controlMessage is the superset decode target for consumer frames. The
// first frame on a connection also decides its role: a producer event type
// routes the connection to the event path, anything else makes it a consumer.
type controlMessage struct {
	Type       string   `json:"type"`
	SessionID  string   `json:"sessionId,omitempty"`
	SessionIDs []string `json:"sessionIds,omitempty"`
	Layout     string   `json:"layout,omitempty"`

	// launch_session fields.
	CWD                        string           `json:"cwd,omitempty"`
	PreferredTerminal          string           `json:"preferredTerminal,omitempty"`
	DangerouslySkipPermissions bool             `json:"dangerouslySkipPermissions,omitempty"`
	TargetBounds               *terminal.Bounds `json:"targetBounds,omitempty"`

	// worktree fields.
	RepoDir string `json:"repoDir,omitempty"`
	Path    string `json:"path,omitempty"`
	Branch  string `json:"branch,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// ControlResult answers a control message. Error is a category, Detail the
// human-readable cause. Control failures never close the connection.
type ControlResult struct {
	Success   bool               `json:"success"`
	Method    string             `json:"method,omitempty"`
	Error     string             `json:"error,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	PID       int                `json:"pid,omitempty"`
	Worktrees []gitinfo.Worktree `json:"worktrees,omitempty"`
}

func producerType(t string) bool {
	switch t {
	case session.EvSessionStart, session.EvSessionEnd, session.EvContextUpdate,
		session.EvToolEvent, session.EvPromptSubmit, session.EvHandoffReady,
		session.EvOperationComplete:
		return true
	}
	return false
}
