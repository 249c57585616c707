package session

// HookEvent is the discriminated wire event a lifecycle hook (or the mock
// generator) sends to the hub. Field names are wire-stable; unknown fields
// are ignored on decode.
type HookEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp,omitempty"` // ms since epoch

	// session_start / context_update enrichment.
	Source           string `json:"source,omitempty"`
	Title            string `json:"title,omitempty"`
	TranscriptPath   string `json:"transcript_path,omitempty"`
	CWD              string `json:"cwd,omitempty"`
	ModelID          string `json:"model_id,omitempty"`
	ModelDisplayName string `json:"model_display_name,omitempty"`
	Mode             string `json:"mode,omitempty"`

	// Terminal identity as far as the hook can see it.
	TTY               string `json:"tty,omitempty"`
	TerminalPID       int    `json:"terminal_pid,omitempty"`
	TerminalProgram   string `json:"terminal_program,omitempty"`
	TerminalSessionID string `json:"terminal_session_id,omitempty"`
	TerminalPane      string `json:"terminal_pane,omitempty"`
	TerminalWindowID  string `json:"terminal_window_id,omitempty"`

	// context_update payload.
	Context     *ContextMetrics `json:"context,omitempty"`
	AutoCompact *AutoCompact    `json:"auto_compact,omitempty"`

	// tool_event payload. Phase is start, end, or permission.
	Phase    string `json:"phase,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	// session_end payload.
	Reason string `json:"reason,omitempty"`

	// operation_complete payload (notification engine input).
	Tokens int `json:"tokens,omitempty"`
}

// Producer event types recognised by the hub.
const (
	EvSessionStart      = "session_start"
	EvSessionEnd        = "session_end"
	EvContextUpdate     = "context_update"
	EvToolEvent         = "tool_event"
	EvPromptSubmit      = "prompt_submit"
	EvHandoffReady      = "handoff_ready"
	EvOperationComplete = "operation_complete"
)

// Tool-event phases.
const (
	PhaseStart      = "start"
	PhaseEnd        = "end"
	PhasePermission = "permission"
)

// EventType classifies registry mutations for in-process observers.
type EventType int

const (
	EventRegistered    EventType = iota // session created or re-registered
	EventContextUpdate                  // context metrics changed
	EventToolEvent                      // tool phase applied
	EventEnded                          // session removed
	EventHandoffReady                   // handoff document announced
	EventOperation                      // operation completed with token count
)

// Event carries a session snapshot to observers. The snapshot is safe to
// retain; it is never mutated after emission.
type Event struct {
	Type    EventType
	Session *Session
	Reason  string
	Tokens  int
}
