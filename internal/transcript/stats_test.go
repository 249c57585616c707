package transcript

import (
	"testing"
	"time"
)

func usage(input, cacheCreate, cacheRead, output int) *TokenUsage {
	return &TokenUsage{
		InputTokens:              FlexInt(input),
		CacheCreationInputTokens: FlexInt(cacheCreate),
		CacheReadInputTokens:     FlexInt(cacheRead),
		OutputTokens:             FlexInt(output),
	}
}

func TestGetEntryStatisticsLastTurnWins(t *testing.T) {
	entries := []Entry{
		{Type: EntryUserMessage, Text: "hi"},
		{Type: EntryAssistantMessage, Usage: usage(1000, 0, 5000, 10), Text: "first"},
		{Type: EntryAssistantMessage, Usage: usage(1200, 300, 8000, 20), Text: "second"},
	}
	stats := GetEntryStatistics(entries)

	// Context size comes from the last usage block only.
	if got := stats.ContextTokens(); got != 1200+300+8000 {
		t.Errorf("ContextTokens() = %d, want %d", got, 1200+300+8000)
	}
	if stats.TotalInputTokens != 2200 {
		t.Errorf("TotalInputTokens = %d, want 2200", stats.TotalInputTokens)
	}
	if stats.TotalOutputTokens != 30 {
		t.Errorf("TotalOutputTokens = %d, want 30", stats.TotalOutputTokens)
	}
	if stats.Counts[EntryAssistantMessage] != 2 || stats.Counts[EntryUserMessage] != 1 {
		t.Errorf("Counts = %v", stats.Counts)
	}
	if stats.EstimatedOutputTokens == 0 {
		t.Error("EstimatedOutputTokens should accumulate over assistant text")
	}
}

func TestGetEntryStatisticsTimestamps(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	entries := []Entry{
		{Type: EntryUserMessage, Timestamp: t1},
		{Type: EntryAssistantMessage, Timestamp: t0},
	}
	stats := GetEntryStatistics(entries)
	if !stats.FirstTimestamp.Equal(t0) {
		t.Errorf("FirstTimestamp = %v, want %v", stats.FirstTimestamp, t0)
	}
	if !stats.LastTimestamp.Equal(t1) {
		t.Errorf("LastTimestamp = %v, want %v", stats.LastTimestamp, t1)
	}
}

func TestGetEntryStatisticsEmpty(t *testing.T) {
	stats := GetEntryStatistics(nil)
	if stats.ContextTokens() != 0 {
		t.Errorf("ContextTokens() = %d, want 0", stats.ContextTokens())
	}
	if !stats.FirstTimestamp.IsZero() {
		t.Error("FirstTimestamp should be zero for empty input")
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"short ascii floors to one", "ab", 1},
		{"ascii quarters", "abcdefghijklmnop", 4},
		{"wide runes count individually", "日本語", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.in); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
