// Package catalog derives per-project indexes and the global session index
// from transcripts. The on-disk catalog is purely a cache: everything in it
// can be rebuilt from the transcript files.
package catalog

import (
	"github.com/jacques-dev/jacques/internal/transcript"
)

// ContextNote is a reference file the project keeps for assistant context.
type ContextNote struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RelativePath string `json:"relativePath"`
	Size         int64  `json:"size"`
	Source       string `json:"source"`
}

// Plan is a deduplicated plan within a project. The same plan text produced
// in multiple sessions appears once with a union of session ids.
type Plan struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Filename    string   `json:"filename"`
	ContentHash string   `json:"contentHash"`
	Sessions    []string `json:"sessionIds"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// SubAgentType classifies a sub-agent invocation.
type SubAgentType string

const (
	SubAgentExploration SubAgentType = "exploration"
	SubAgentSearch      SubAgentType = "search"
	SubAgentGeneral     SubAgentType = "general"
)

// SubAgent is one sub-agent reference extracted from a transcript.
type SubAgent struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	Type        SubAgentType `json:"type"`
	Title       string       `json:"title"`
	TokenCost   int          `json:"tokenCost"`
	ResultCount *int         `json:"resultCount,omitempty"`
	Timestamp   int64        `json:"timestamp"`
}

// SessionManifest summarises one past session for the project index.
// savedAt/jsonlModifiedAt drive staleness-based incremental rebuilds.
type SessionManifest struct {
	ID              string   `json:"id"`
	Title           string   `json:"title,omitempty"`
	TranscriptPath  string   `json:"transcriptPath"`
	SizeBytes       int64    `json:"sizeBytes"`
	FirstTimestamp  int64    `json:"firstTimestamp,omitempty"`
	LastTimestamp   int64    `json:"lastTimestamp,omitempty"`
	MessageCount    int      `json:"messageCount"`
	ToolCallCount   int      `json:"toolCallCount"`
	Mode            string   `json:"mode"`
	PlanIDs         []string `json:"planIds,omitempty"`
	TotalInput      int64    `json:"totalInputTokens"`
	TotalOutput     int64    `json:"totalOutputTokens"`
	ContextTokens   int      `json:"contextTokens"`
	SavedAt         int64    `json:"savedAt"`
	JSONLModifiedAt int64    `json:"jsonlModifiedAt"`
}

// ProjectIndex is the per-project catalog persisted at
// <project>/.jacques/index.json.
type ProjectIndex struct {
	Context       []ContextNote     `json:"context"`
	Plans         []Plan            `json:"plans"`
	SubAgents     []SubAgent        `json:"subAgents"`
	Sessions      []SessionManifest `json:"sessions"`
	UpdatedAt     int64             `json:"updatedAt"`
	ActivePlanIDs []string          `json:"activePlanIds"`
}

// SessionEntry is the global-index view of one past session.
type SessionEntry struct {
	SessionID      string               `json:"sessionId"`
	Title          string               `json:"title,omitempty"`
	ProjectPath    string               `json:"projectPath"`
	EncodedProject string               `json:"encodedProject"`
	TranscriptPath string               `json:"transcriptPath"`
	SizeBytes      int64                `json:"sizeBytes"`
	Plans          []transcript.PlanRef `json:"plans,omitempty"`
	ExploreAgents  []string             `json:"exploreAgentIds,omitempty"`
	WebSearches    int                  `json:"webSearches"`
	TotalInput     int64                `json:"totalInputTokens"`
	TotalOutput    int64                `json:"totalOutputTokens"`
	ContextTokens  int                  `json:"contextTokens"`
	FirstTimestamp int64                `json:"firstTimestamp,omitempty"`
	LastTimestamp  int64                `json:"lastTimestamp,omitempty"`
	Mode           string               `json:"mode"`
}

// GlobalSessionIndex is persisted at ~/.jacques/session-index.json.
type GlobalSessionIndex struct {
	Sessions    []SessionEntry `json:"sessions"`
	LastScanned int64          `json:"lastScanned"`
}

// Progress reports extraction progress to SSE consumers.
type Progress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Current   string `json:"current,omitempty"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
}

// ProgressFunc receives progress snapshots. May be nil.
type ProgressFunc func(Progress)
