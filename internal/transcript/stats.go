package transcript

import "time"

// Statistics aggregates one pass over a transcript's entries.
//
// Last-turn input/cache values are the authoritative context size: every
// assistant turn reports the full context, so summing them would overcount.
// Output tokens are unreliable in the usage blocks; EstimatedOutputTokens
// accumulates the fallback estimator over assistant text instead.
type Statistics struct {
	Counts map[EntryType]int `json:"counts"`

	TotalInputTokens  int64 `json:"totalInputTokens"`
	TotalOutputTokens int64 `json:"totalOutputTokens"`

	LastInputTokens         int `json:"lastInputTokens"`
	LastCacheCreationTokens int `json:"lastCacheCreationTokens"`
	LastCacheReadTokens     int `json:"lastCacheReadTokens"`

	EstimatedOutputTokens int64 `json:"estimatedOutputTokens"`

	FirstTimestamp time.Time `json:"firstTimestamp,omitzero"`
	LastTimestamp  time.Time `json:"lastTimestamp,omitzero"`
}

// ContextTokens returns the authoritative context size from the last turn.
func (s *Statistics) ContextTokens() int {
	return s.LastInputTokens + s.LastCacheCreationTokens + s.LastCacheReadTokens
}

// GetEntryStatistics computes Statistics in a single pass.
func GetEntryStatistics(entries []Entry) *Statistics {
	stats := &Statistics{Counts: make(map[EntryType]int)}
	for i := range entries {
		e := &entries[i]
		stats.Counts[e.Type]++

		if !e.Timestamp.IsZero() {
			if stats.FirstTimestamp.IsZero() || e.Timestamp.Before(stats.FirstTimestamp) {
				stats.FirstTimestamp = e.Timestamp
			}
			if e.Timestamp.After(stats.LastTimestamp) {
				stats.LastTimestamp = e.Timestamp
			}
		}

		if e.Usage != nil {
			stats.TotalInputTokens += int64(e.Usage.InputTokens)
			stats.TotalOutputTokens += int64(e.Usage.OutputTokens)
			stats.LastInputTokens = int(e.Usage.InputTokens)
			stats.LastCacheCreationTokens = int(e.Usage.CacheCreationInputTokens)
			stats.LastCacheReadTokens = int(e.Usage.CacheReadInputTokens)
		}

		if e.Type == EntryAssistantMessage && e.Text != "" {
			stats.EstimatedOutputTokens += int64(EstimateTokens(e.Text))
		}
	}
	return stats
}
