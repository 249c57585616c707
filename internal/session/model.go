package session

import (
	"encoding/json"
	"time"
)

// SourceTag identifies how a session's assistant is driven.
type SourceTag string

const (
	SourceClaudeCode SourceTag = "claude_code"
	SourceDispatch   SourceTag = "dispatch"
	SourceOther      SourceTag = "other"
)

// NormalizeSource maps arbitrary source strings to a known variant.
func NormalizeSource(s string) SourceTag {
	switch SourceTag(s) {
	case SourceClaudeCode, SourceDispatch:
		return SourceTag(s)
	}
	return SourceOther
}

// Status is the live activity state of a session.
type Status int

const (
	StatusActive   Status = iota // registered, no work in flight
	StatusWorking                // tool call or assistant message in progress
	StatusAwaiting               // waiting for user input / permission
	StatusIdle                   // no activity past the idle threshold
)

var statusNames = map[Status]string{
	StatusActive:   "active",
	StatusWorking:  "working",
	StatusAwaiting: "awaiting",
	StatusIdle:     "idle",
}

var statusFromName = map[string]Status{
	"active":   StatusActive,
	"working":  StatusWorking,
	"awaiting": StatusAwaiting,
	"idle":     StatusIdle,
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := statusFromName[name]; ok {
		*s = v
	}
	return nil
}

// Mode is the assistant's permission mode.
type Mode string

const (
	ModePlan        Mode = "plan"
	ModeAcceptEdits Mode = "acceptEdits"
	ModeDefault     Mode = "default"
)

// NormalizeMode maps arbitrary mode strings to a known variant.
func NormalizeMode(m string) Mode {
	switch Mode(m) {
	case ModePlan, ModeAcceptEdits:
		return Mode(m)
	}
	return ModeDefault
}

// ModelInfo describes the model a session runs on.
type ModelInfo struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// Terminal describes where a session's process lives. All fields nullable.
type Terminal struct {
	TTY               string `json:"tty,omitempty"`
	TerminalPID       int    `json:"terminalPid,omitempty"`
	Program           string `json:"program,omitempty"`
	TerminalSessionID string `json:"terminalSessionId,omitempty"`
	Pane              string `json:"pane,omitempty"`
	WindowID          string `json:"windowId,omitempty"`
}

// ContextMetrics is the session's context-window usage.
type ContextMetrics struct {
	WindowSize       int     `json:"windowSize"`
	UsedTokens       int     `json:"usedTokens"`
	UsedPercentage   float64 `json:"usedPercentage"`
	IsEstimate       bool    `json:"isEstimate"`
	TotalInputTokens int64   `json:"totalInputTokens"`
}

// AutoCompact is the assistant's auto-compaction configuration.
type AutoCompact struct {
	Enabled             bool    `json:"enabled"`
	ThresholdPercent    float64 `json:"thresholdPercent"`
	BugThresholdPercent float64 `json:"bugThresholdPercent"`
}

// Session is the live record for one assistant process. Empty strings and
// zero values stand in for null on the wire.
type Session struct {
	ID             string    `json:"id"`
	Source         SourceTag `json:"source"`
	Title          string    `json:"title,omitempty"`
	TranscriptPath string    `json:"transcriptPath,omitempty"`
	CWD            string    `json:"cwd"`
	Project        string    `json:"project"`

	Model    ModelInfo `json:"model"`
	Terminal Terminal  `json:"terminal"`

	// TerminalKey encodes how the session was observed. Dedup tie-breaks and
	// PID extraction only; never identity.
	TerminalKey string `json:"terminalKey"`

	Status       Status `json:"status"`
	LastActivity int64  `json:"lastActivity"` // ms since epoch
	RegisteredAt int64  `json:"registeredAt"` // ms since epoch

	Context     ContextMetrics `json:"context"`
	AutoCompact AutoCompact    `json:"autoCompact"`

	Mode     Mode `json:"mode"`
	IsBypass bool `json:"isBypass"`

	LastToolName string `json:"lastToolName,omitempty"`
	GitBranch    string `json:"gitBranch,omitempty"`
	GitWorktree  string `json:"gitWorktree,omitempty"`
	GitRepoRoot  string `json:"gitRepoRoot,omitempty"`
}

// Clone returns a copy safe to mutate independently.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}

// PID resolves the best-known process id: the terminal key first, then the
// terminal descriptor. Zero when unknown.
func (s *Session) PID() int {
	if pid, ok := KeyPID(s.TerminalKey); ok {
		return pid
	}
	return s.Terminal.TerminalPID
}

// Touch updates last_activity to now.
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now.UnixMilli()
}

// IdleFor reports whether the session has seen no activity for at least d.
func (s *Session) IdleFor(now time.Time, d time.Duration) bool {
	return now.UnixMilli()-s.LastActivity > d.Milliseconds()
}
