package transcript

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"
)

// maxLineSize bounds a single transcript line. Assistant messages carrying
// large tool results can exceed bufio's default 64K.
const maxLineSize = 16 * 1024 * 1024

// Scan streams entries from a transcript file starting at the given byte
// offset. Each complete line is decoded into zero or more typed entries and
// passed to fn; fn returning false stops the scan early. Malformed lines are
// counted in skipped and do not abort the stream. The returned offset points
// just past the last complete line consumed, so callers can resume
// incrementally without re-reading bytes.
func Scan(path string, offset int64, fn func(Entry) bool) (int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, 0, err
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return offset, 0, err
		}
	}

	reader := bufio.NewReaderSize(f, 256*1024)
	parsedOffset := offset
	skipped := 0

	for {
		line, err := readLine(reader)
		if err != nil && err != io.EOF {
			return parsedOffset, skipped, err
		}
		if len(line) == 0 {
			break
		}
		// Incomplete trailing line (no newline yet): leave it for the next
		// scan so a writer mid-append is never half-parsed.
		if line[len(line)-1] != '\n' {
			break
		}

		entries, ok := decodeLine(line[:len(line)-1])
		parsedOffset += int64(len(line))
		if !ok {
			skipped++
		} else {
			for _, e := range entries {
				if !fn(e) {
					return parsedOffset, skipped, nil
				}
			}
		}

		if err == io.EOF {
			break
		}
	}

	return parsedOffset, skipped, nil
}

// readLine reads one line, tolerating lines longer than the reader's buffer.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadBytes('\n')
	if len(line) > maxLineSize {
		return nil, io.ErrShortBuffer
	}
	return line, err
}

// ReadAll parses an entire transcript into memory. Returns the entries and
// the count of malformed lines skipped.
func ReadAll(path string) ([]Entry, int, error) {
	var entries []Entry
	_, skipped, err := Scan(path, 0, func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, skipped, err
}

// decodeLine turns one raw JSONL line into typed entries. A single assistant
// line may yield an assistant_message entry plus one tool_call per tool_use
// block; a user line carrying tool_result blocks yields tool_result entries.
// Returns ok=false when the line is not valid JSON.
func decodeLine(data []byte) ([]Entry, bool) {
	data = trimSpace(data)
	if len(data) == 0 {
		return nil, true
	}

	var env lineEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}

	base := Entry{
		UUID:       env.UUID,
		ParentUUID: env.ParentUUID,
		SessionID:  env.SessionID,
		CWD:        env.CWD,
		Subtype:    env.Subtype,
	}
	if env.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, env.Timestamp); err == nil {
			base.Timestamp = t
		}
	}

	switch env.Type {
	case "summary":
		e := base
		e.Type = EntrySummary
		e.Text = env.Summary
		return []Entry{e}, true

	case "system":
		e := base
		e.Type = EntrySystem
		e.Text = env.Content
		return []Entry{e}, true

	case "progress", "agent_progress":
		e := base
		e.Type = EntryAgentProgress
		e.ToolUseID = env.ToolUseID
		decodeMessageInto(&e, env.Message)
		return []Entry{e}, true

	case "assistant":
		return decodeAssistant(base, env.Message), true

	case "user":
		return decodeUser(base, env.Message), true

	default:
		// Unknown entry kinds are preserved as system entries rather than
		// dropped, so statistics still see them.
		e := base
		e.Type = EntrySystem
		return []Entry{e}, true
	}
}

func decodeAssistant(base Entry, raw json.RawMessage) []Entry {
	msg := base
	msg.Type = EntryAssistantMessage

	var m wireMessage
	if raw != nil && json.Unmarshal(raw, &m) == nil {
		msg.Model = m.Model
		msg.Usage = m.Usage

		entries := []Entry{}
		var text strings.Builder
		for _, b := range decodeBlocks(m.Content) {
			switch b.Type {
			case "text":
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				text.WriteString(b.Text)
			case "tool_use":
				call := base
				call.Type = EntryToolCall
				if isWebSearchTool(b.Name) {
					call.Type = EntryWebSearch
				}
				call.ToolName = b.Name
				call.ToolUseID = b.ID
				call.ToolInput = b.Input
				entries = append(entries, call)
			}
		}
		msg.Text = text.String()
		return append([]Entry{msg}, entries...)
	}

	return []Entry{msg}
}

func decodeUser(base Entry, raw json.RawMessage) []Entry {
	msg := base
	msg.Type = EntryUserMessage

	var m wireMessage
	if raw == nil || json.Unmarshal(raw, &m) != nil {
		return []Entry{msg}
	}

	// Content is either a plain string or a block list.
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		msg.Text = s
		return []Entry{msg}
	}

	var entries []Entry
	var text strings.Builder
	hasText := false
	for _, b := range decodeBlocks(m.Content) {
		switch b.Type {
		case "text":
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.WriteString(b.Text)
			hasText = true
		case "tool_result":
			res := base
			res.Type = EntryToolResult
			res.ToolUseID = b.ToolUseID
			res.IsError = b.IsError
			res.Text = blockContentText(b.Content)
			entries = append(entries, res)
		}
	}

	// A user line that only carries tool results is not a user turn.
	if hasText {
		msg.Text = text.String()
		entries = append([]Entry{msg}, entries...)
	}
	if len(entries) == 0 {
		entries = []Entry{msg}
	}
	return entries
}

func decodeMessageInto(e *Entry, raw json.RawMessage) {
	if raw == nil {
		return
	}
	var m wireMessage
	if json.Unmarshal(raw, &m) != nil {
		return
	}
	e.Model = m.Model
	e.Usage = m.Usage
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		e.Text = s
	}
}

func decodeBlocks(raw json.RawMessage) []wireBlock {
	if raw == nil {
		return nil
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}
	return blocks
}

// blockContentText extracts readable text from a tool_result content field,
// which is either a string or a list of text blocks.
func blockContentText(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var parts []string
	for _, b := range decodeBlocks(raw) {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func isWebSearchTool(name string) bool {
	switch name {
	case "WebSearch", "web_search":
		return true
	}
	return false
}

func trimSpace(data []byte) []byte {
	start := 0
	for start < len(data) && (data[start] == ' ' || data[start] == '\t' || data[start] == '\r') {
		start++
	}
	end := len(data)
	for end > start && (data[end-1] == ' ' || data[end-1] == '\t' || data[end-1] == '\r') {
		end--
	}
	return data[start:end]
}
