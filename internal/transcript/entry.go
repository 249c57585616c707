package transcript

import (
	"encoding/json"
	"strconv"
	"time"
)

// EntryType classifies a parsed transcript entry.
type EntryType string

const (
	EntryUserMessage      EntryType = "user_message"
	EntryAssistantMessage EntryType = "assistant_message"
	EntryToolCall         EntryType = "tool_call"
	EntryToolResult       EntryType = "tool_result"
	EntryAgentProgress    EntryType = "agent_progress"
	EntryWebSearch        EntryType = "web_search"
	EntrySummary          EntryType = "summary"
	EntrySystem           EntryType = "system"
)

// FlexInt tolerates token counts encoded as either JSON numbers or strings.
// The assistant emits both depending on version.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			// Tolerate garbage; the stream must not abort.
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		// Could be a float; try that before giving up.
		var fl float64
		if err2 := json.Unmarshal(data, &fl); err2 != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(int(fl))
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// TokenUsage is the per-turn usage block reported by the assistant. Each turn
// reports the full context, so input/cache values are point-in-time, not deltas.
type TokenUsage struct {
	InputTokens              FlexInt `json:"input_tokens"`
	CacheCreationInputTokens FlexInt `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     FlexInt `json:"cache_read_input_tokens"`
	OutputTokens             FlexInt `json:"output_tokens"`
}

// TotalContext returns the full context size this turn reported.
func (t TokenUsage) TotalContext() int {
	return int(t.InputTokens) + int(t.CacheCreationInputTokens) + int(t.CacheReadInputTokens)
}

// Entry is one typed event from a transcript. Tool calls and tool results are
// flattened out of their containing message so callers see one entry per
// logical event.
type Entry struct {
	Type       EntryType
	Timestamp  time.Time
	UUID       string
	ParentUUID string
	SessionID  string
	CWD        string

	// Message fields (user/assistant/system/summary).
	Text  string
	Model string
	Usage *TokenUsage

	// Tool fields (tool_call/tool_result/web_search).
	ToolName  string
	ToolUseID string
	ToolInput json.RawMessage
	IsError   bool

	// Summary/system subtype, e.g. "task_create".
	Subtype string
}

// wire structs matching the assistant's JSONL format.

type lineEnvelope struct {
	Type       string          `json:"type"`
	Subtype    string          `json:"subtype"`
	UUID       string          `json:"uuid"`
	ParentUUID string          `json:"parentUuid"`
	SessionID  string          `json:"sessionId"`
	Timestamp  string          `json:"timestamp"`
	CWD        string          `json:"cwd"`
	Summary    string          `json:"summary"`
	Content    string          `json:"content"`
	Message    json.RawMessage `json:"message"`
	ToolUseID  string          `json:"toolUseID"`
}

type wireMessage struct {
	Model   string          `json:"model"`
	Role    string          `json:"role"`
	Usage   *TokenUsage     `json:"usage,omitempty"`
	Content json.RawMessage `json:"content"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}
