package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadAllBasicEntries(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"summary","summary":"Fix the login bug","uuid":"s1"}`,
		`{"type":"user","uuid":"u1","sessionId":"abc","timestamp":"2026-08-01T10:00:00Z","message":{"role":"user","content":"please fix login"}}`,
		`{"type":"assistant","uuid":"a1","message":{"model":"claude-opus-4-5","usage":{"input_tokens":1000,"cache_read_input_tokens":500,"output_tokens":20},"content":[{"type":"text","text":"Looking at it."},{"type":"tool_use","id":"toolu_1","name":"Read","input":{"file_path":"/tmp/x"}}]}}`,
		`{"type":"user","uuid":"u2","message":{"role":"user","content":[{"type":"tool_result","tool_use_id":"toolu_1","content":"file contents"}]}}`,
	)

	entries, skipped, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}

	// summary, user, assistant, tool_call, tool_result
	if len(entries) != 5 {
		t.Fatalf("len(entries) = %d, want 5", len(entries))
	}
	if entries[0].Type != EntrySummary || entries[0].Text != "Fix the login bug" {
		t.Errorf("entry 0 = %+v, want summary", entries[0])
	}
	if entries[1].Type != EntryUserMessage || entries[1].Text != "please fix login" {
		t.Errorf("entry 1 = %+v, want user message", entries[1])
	}
	if entries[1].SessionID != "abc" {
		t.Errorf("SessionID = %q, want abc", entries[1].SessionID)
	}
	if entries[2].Type != EntryAssistantMessage || entries[2].Model != "claude-opus-4-5" {
		t.Errorf("entry 2 = %+v, want assistant message", entries[2])
	}
	if entries[2].Usage == nil || entries[2].Usage.TotalContext() != 1500 {
		t.Errorf("Usage.TotalContext() wrong: %+v", entries[2].Usage)
	}
	if entries[3].Type != EntryToolCall || entries[3].ToolName != "Read" || entries[3].ToolUseID != "toolu_1" {
		t.Errorf("entry 3 = %+v, want Read tool call", entries[3])
	}
	if entries[4].Type != EntryToolResult || entries[4].ToolUseID != "toolu_1" || entries[4].Text != "file contents" {
		t.Errorf("entry 4 = %+v, want tool result", entries[4])
	}
}

func TestReadAllSkipsMalformedLines(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"content":"one"}}`,
		`{this is not json`,
		`{"type":"user","message":{"content":"two"}}`,
	)
	entries, skipped, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if len(entries) != 2 {
		t.Errorf("len(entries) = %d, want 2", len(entries))
	}
}

func TestReadAllUnknownTypePreserved(t *testing.T) {
	path := writeTranscript(t, `{"type":"file-history-snapshot","uuid":"x1"}`)
	entries, _, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Type != EntrySystem {
		t.Errorf("unknown type should become a system entry, got %+v", entries)
	}
}

func TestScanResumesFromOffset(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"content":"one"}}`,
		`{"type":"user","message":{"content":"two"}}`,
	)

	var first []Entry
	offset, _, err := Scan(path, 0, func(e Entry) bool {
		first = append(first, e)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 {
		t.Fatalf("first pass saw %d entries, want 2", len(first))
	}

	// Append a third line and rescan from the returned offset.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"type":"user","message":{"content":"three"}}` + "\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var second []Entry
	offset2, _, err := Scan(path, offset, func(e Entry) bool {
		second = append(second, e)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 || second[0].Text != "three" {
		t.Errorf("resume scan = %+v, want just the appended entry", second)
	}
	if offset2 <= offset {
		t.Errorf("offset did not advance: %d -> %d", offset, offset2)
	}
}

func TestScanLeavesIncompleteTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.jsonl")
	content := `{"type":"user","message":{"content":"done"}}` + "\n" +
		`{"type":"user","message":{"content":"still being writ`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var got []Entry
	offset, skipped, err := Scan(path, 0, func(e Entry) bool {
		got = append(got, e)
		return true
	})
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0 (partial line is not malformed)", skipped)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	wantOffset := int64(len(`{"type":"user","message":{"content":"done"}}`) + 1)
	if offset != wantOffset {
		t.Errorf("offset = %d, want %d (just past the complete line)", offset, wantOffset)
	}
}

func TestScanEarlyStop(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"user","message":{"content":"one"}}`,
		`{"type":"user","message":{"content":"two"}}`,
		`{"type":"user","message":{"content":"three"}}`,
	)
	seen := 0
	_, _, err := Scan(path, 0, func(e Entry) bool {
		seen++
		return seen < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("fn called %d times, want 2", seen)
	}
}

func TestWebSearchToolBecomesWebSearchEntry(t *testing.T) {
	path := writeTranscript(t,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_ws","name":"WebSearch","input":{"query":"golang fsnotify"}}]}}`,
	)
	entries, _, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range entries {
		if e.Type == EntryWebSearch && e.ToolUseID == "toolu_ws" {
			found = true
		}
	}
	if !found {
		t.Errorf("WebSearch tool call should be typed web_search, got %+v", entries)
	}
}

func TestFlexIntUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"number", `42`, 42},
		{"string number", `"42"`, 42},
		{"empty string", `""`, 0},
		{"garbage string", `"lots"`, 0},
		{"float", `42.9`, 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexInt
			if err := f.UnmarshalJSON([]byte(tt.in)); err != nil {
				t.Fatalf("UnmarshalJSON(%s) error: %v", tt.in, err)
			}
			if int(f) != tt.want {
				t.Errorf("FlexInt(%s) = %d, want %d", tt.in, int(f), tt.want)
			}
		})
	}
}
