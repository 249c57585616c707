package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jacques-dev/jacques/internal/transcript"
)

// Indexer extracts catalogs from transcripts. Safe for concurrent use;
// writers to the same project are serialised by per-project locks.
type Indexer struct {
	projectsRoot string // assistant transcript root (~/.claude/projects)
	jacquesHome  string // ~/.jacques
	locks        *projectLocks
}

// NewIndexer creates an indexer reading transcripts under projectsRoot and
// keeping global state under jacquesHome.
func NewIndexer(projectsRoot, jacquesHome string) *Indexer {
	return &Indexer{
		projectsRoot: projectsRoot,
		jacquesHome:  jacquesHome,
		locks:        newProjectLocks(),
	}
}

// ProjectsRoot returns the transcript root this indexer scans.
func (ix *Indexer) ProjectsRoot() string { return ix.projectsRoot }

// ExtractOptions controls catalog extraction.
type ExtractOptions struct {
	Force      bool
	OnProgress ProgressFunc
	// Ctx aborts a long extraction between transcripts (SSE client gone).
	Ctx context.Context
}

func (o ExtractOptions) cancelled() bool {
	return o.Ctx != nil && o.Ctx.Err() != nil
}

// ExtractResult aggregates one extraction run.
type ExtractResult struct {
	TotalSessions int `json:"totalSessions"`
	Extracted     int `json:"extracted"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
}

// ExtractProjectCatalog walks every transcript of the project and merges
// plans, sub-agents, and context notes into the project index. Files whose
// manifest is still fresh (transcript mtime <= jsonlModifiedAt) are skipped
// unless force is set.
func (ix *Indexer) ExtractProjectCatalog(projectPath string, opts ExtractOptions) (*ProjectIndex, *ExtractResult, error) {
	release, err := ix.locks.acquire(projectPath)
	if err != nil {
		return nil, nil, err
	}
	defer release()

	encoded := transcript.EncodeProjectPath(projectPath)
	paths, err := transcript.ProjectTranscripts(ix.projectsRoot, encoded)
	if err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}

	idx, err := LoadProjectIndex(projectPath)
	if err != nil {
		return nil, nil, err
	}

	result := &ExtractResult{TotalSessions: len(paths)}
	progress := Progress{Total: len(paths)}
	report := func() {
		if opts.OnProgress != nil {
			opts.OnProgress(progress)
		}
	}
	report()

	for _, path := range paths {
		if opts.cancelled() {
			break
		}
		sessionID := transcript.SessionIDFromPath(path)
		progress.Current = sessionID

		info, err := os.Stat(path)
		if err != nil {
			result.Errors++
			progress.Errors++
			progress.Completed++
			report()
			continue
		}

		if !opts.Force {
			if manifest := findManifest(idx, sessionID); manifest != nil &&
				manifest.JSONLModifiedAt >= info.ModTime().UnixMilli() {
				result.Skipped++
				progress.Skipped++
				progress.Completed++
				report()
				continue
			}
		}

		if err := ix.extractOne(projectPath, idx, path, sessionID, info); err != nil {
			log.Printf("[catalog] extract %s: %v", sessionID, err)
			result.Errors++
			progress.Errors++
		} else {
			result.Extracted++
		}
		progress.Completed++
		report()
	}

	idx.Context = scanContextNotes(projectPath)
	sortIndex(idx)

	if err := SaveProjectIndex(projectPath, idx); err != nil {
		return nil, nil, err
	}
	return idx, result, nil
}

// extractOne parses a single transcript and merges its contributions.
func (ix *Indexer) extractOne(projectPath string, idx *ProjectIndex, path, sessionID string, info os.FileInfo) error {
	entries, _, err := transcript.ReadAll(path)
	if err != nil {
		return err
	}

	stats := transcript.GetEntryStatistics(entries)
	detected := transcript.DetectModeAndPlans(entries)

	var planIDs []string
	for _, ref := range detected.Plans {
		if ref.Body == "" {
			continue
		}
		id := ix.mergePlan(projectPath, idx, ref, sessionID, stats.LastTimestamp)
		if id != "" {
			planIDs = append(planIDs, id)
		}
	}
	sort.Strings(planIDs)
	planIDs = dedupeStrings(planIDs)

	mergeSubAgents(idx, extractSubAgents(entries, sessionID))

	manifest := &SessionManifest{
		ID:              sessionID,
		Title:           sessionTitle(entries),
		TranscriptPath:  path,
		SizeBytes:       info.Size(),
		MessageCount:    stats.Counts[transcript.EntryUserMessage] + stats.Counts[transcript.EntryAssistantMessage],
		ToolCallCount:   stats.Counts[transcript.EntryToolCall],
		Mode:            string(detected.Mode),
		PlanIDs:         planIDs,
		TotalInput:      stats.TotalInputTokens,
		TotalOutput:     stats.TotalOutputTokens,
		ContextTokens:   stats.ContextTokens(),
		SavedAt:         time.Now().UnixMilli(),
		JSONLModifiedAt: info.ModTime().UnixMilli(),
	}
	if !stats.FirstTimestamp.IsZero() {
		manifest.FirstTimestamp = stats.FirstTimestamp.UnixMilli()
	}
	if !stats.LastTimestamp.IsZero() {
		manifest.LastTimestamp = stats.LastTimestamp.UnixMilli()
	}

	upsertManifest(idx, manifest)
	return SaveManifest(projectPath, manifest)
}

// mergePlan deduplicates by (title, content-hash): identical plans union
// their session ids; a title collision with different text gets a versioned
// filename. Returns the plan's catalog id.
func (ix *Indexer) mergePlan(projectPath string, idx *ProjectIndex, ref transcript.PlanRef, sessionID string, at time.Time) string {
	hash := ContentHash(ref.Body)
	ts := at.UnixMilli()
	if ts <= 0 {
		ts = time.Now().UnixMilli()
	}

	for i := range idx.Plans {
		p := &idx.Plans[i]
		if p.Title == ref.Title && p.ContentHash == hash {
			if !containsString(p.Sessions, sessionID) {
				p.Sessions = append(p.Sessions, sessionID)
				sort.Strings(p.Sessions)
			}
			if ts > p.UpdatedAt {
				p.UpdatedAt = ts
			}
			return p.ID
		}
	}

	filename := planFilename(idx, ref.Title)
	plan := Plan{
		ID:          hash[:12],
		Title:       ref.Title,
		Filename:    filename,
		ContentHash: hash,
		Sessions:    []string{sessionID},
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	idx.Plans = append(idx.Plans, plan)

	// Materialise the plan body so the GUI can serve it without re-parsing
	// the transcript. Best-effort: the index stays correct without the file.
	dest := filepath.Join(plansDir(projectPath), filename)
	if _, err := os.Stat(dest); os.IsNotExist(err) {
		if err := os.MkdirAll(plansDir(projectPath), 0o755); err == nil {
			_ = os.WriteFile(dest, []byte(ref.Body), 0o644)
		}
	}
	return plan.ID
}

// planFilename slugifies the title and appends -2, -3, ... when another plan
// with different content already claimed the name.
func planFilename(idx *ProjectIndex, title string) string {
	slug := Slugify(title)
	if slug == "" {
		slug = "plan"
	}
	taken := make(map[string]bool, len(idx.Plans))
	for _, p := range idx.Plans {
		taken[p.Filename] = true
	}
	name := slug + ".md"
	for v := 2; taken[name]; v++ {
		name = fmt.Sprintf("%s-%d.md", slug, v)
	}
	return name
}

// ContentHash is the canonicalised SHA-256 of a plan body: line endings
// normalised, trailing whitespace stripped, so cosmetic differences do not
// defeat deduplication.
func ContentHash(body string) string {
	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	canonical := strings.TrimSpace(strings.Join(lines, "\n"))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Slugify lowercases and replaces non-alphanumerics with single dashes.
func Slugify(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

type agentInput struct {
	SubagentType string `json:"subagent_type"`
	Description  string `json:"description"`
	Prompt       string `json:"prompt"`
}

// extractSubAgents pulls Task-tool invocations and web searches out of a
// transcript. IDs reuse the stable tool-use id so re-extraction is
// idempotent.
func extractSubAgents(entries []transcript.Entry, sessionID string) []SubAgent {
	// Pair tool results by tool-use id for cost estimation.
	resultText := make(map[string]string)
	resultLines := make(map[string]int)
	for i := range entries {
		e := &entries[i]
		if e.Type == transcript.EntryToolResult && e.ToolUseID != "" {
			resultText[e.ToolUseID] = e.Text
			resultLines[e.ToolUseID] = countNonEmptyLines(e.Text)
		}
	}

	var agents []SubAgent
	for i := range entries {
		e := &entries[i]
		switch e.Type {
		case transcript.EntryToolCall:
			if e.ToolName != "Task" && e.ToolName != "Agent" {
				continue
			}
			var in agentInput
			if e.ToolInput != nil {
				_ = json.Unmarshal(e.ToolInput, &in)
			}
			title := strings.TrimSpace(in.Description)
			if title == "" {
				title = "Sub-agent"
			}
			agents = append(agents, SubAgent{
				ID:        e.ToolUseID,
				SessionID: sessionID,
				Type:      classifySubAgent(in.SubagentType, in.Prompt),
				Title:     title,
				TokenCost: transcript.EstimateTokens(resultText[e.ToolUseID]),
				Timestamp: e.Timestamp.UnixMilli(),
			})

		case transcript.EntryWebSearch:
			count := resultLines[e.ToolUseID]
			agents = append(agents, SubAgent{
				ID:          e.ToolUseID,
				SessionID:   sessionID,
				Type:        SubAgentSearch,
				Title:       webSearchQuery(e.ToolInput),
				TokenCost:   transcript.EstimateTokens(resultText[e.ToolUseID]),
				ResultCount: &count,
				Timestamp:   e.Timestamp.UnixMilli(),
			})
		}
	}
	return agents
}

func classifySubAgent(subagentType, prompt string) SubAgentType {
	t := strings.ToLower(subagentType)
	switch {
	case strings.Contains(t, "explore"):
		return SubAgentExploration
	case strings.Contains(t, "search"):
		return SubAgentSearch
	case t == "" && strings.Contains(strings.ToLower(prompt), "explore"):
		return SubAgentExploration
	default:
		return SubAgentGeneral
	}
}

func webSearchQuery(raw json.RawMessage) string {
	var in struct {
		Query string `json:"query"`
	}
	if raw != nil && json.Unmarshal(raw, &in) == nil && in.Query != "" {
		return in.Query
	}
	return "Web search"
}

func countNonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// mergeSubAgents upserts by id, keeping the index deterministic.
func mergeSubAgents(idx *ProjectIndex, agents []SubAgent) {
	byID := make(map[string]int, len(idx.SubAgents))
	for i, a := range idx.SubAgents {
		byID[a.ID] = i
	}
	for _, a := range agents {
		if a.ID == "" {
			continue
		}
		if i, ok := byID[a.ID]; ok {
			idx.SubAgents[i] = a
		} else {
			byID[a.ID] = len(idx.SubAgents)
			idx.SubAgents = append(idx.SubAgents, a)
		}
	}
}

// ScanContextNotes re-lists a project's context notes, merges them into the
// index, and persists. Used after context CRUD so reads see the change
// without a full extraction.
func ScanContextNotes(projectPath string) ([]ContextNote, error) {
	idx, err := LoadProjectIndex(projectPath)
	if err != nil {
		return nil, err
	}
	idx.Context = scanContextNotes(projectPath)
	if err := SaveProjectIndex(projectPath, idx); err != nil {
		return nil, err
	}
	return idx.Context, nil
}

// scanContextNotes lists files in <project>/.jacques/context. IDs derive
// from the relative path so rescans are stable.
func scanContextNotes(projectPath string) []ContextNote {
	dir := filepath.Join(projectPath, JacquesDirName, "context")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var notes []ContextNote
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rel := filepath.Join(JacquesDirName, "context", e.Name())
		notes = append(notes, ContextNote{
			ID:           ContentHash(rel)[:12],
			Name:         e.Name(),
			RelativePath: rel,
			Size:         info.Size(),
			Source:       "file",
		})
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].RelativePath < notes[j].RelativePath })
	return notes
}

func sessionTitle(entries []transcript.Entry) string {
	for i := range entries {
		if entries[i].Type == transcript.EntrySummary && entries[i].Text != "" {
			return entries[i].Text
		}
	}
	for i := range entries {
		e := &entries[i]
		if e.Type == transcript.EntryUserMessage && e.Text != "" {
			return firstLine(e.Text, 80)
		}
	}
	return ""
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

func findManifest(idx *ProjectIndex, sessionID string) *SessionManifest {
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == sessionID {
			return &idx.Sessions[i]
		}
	}
	return nil
}

func upsertManifest(idx *ProjectIndex, m *SessionManifest) {
	for i := range idx.Sessions {
		if idx.Sessions[i].ID == m.ID {
			idx.Sessions[i] = *m
			return
		}
	}
	idx.Sessions = append(idx.Sessions, *m)
}

// sortIndex orders every slice deterministically so repeated extraction with
// unchanged inputs produces identical bytes.
func sortIndex(idx *ProjectIndex) {
	sort.Slice(idx.Plans, func(i, j int) bool {
		if idx.Plans[i].CreatedAt != idx.Plans[j].CreatedAt {
			return idx.Plans[i].CreatedAt < idx.Plans[j].CreatedAt
		}
		return idx.Plans[i].ID < idx.Plans[j].ID
	})
	sort.Slice(idx.SubAgents, func(i, j int) bool {
		if idx.SubAgents[i].Timestamp != idx.SubAgents[j].Timestamp {
			return idx.SubAgents[i].Timestamp < idx.SubAgents[j].Timestamp
		}
		return idx.SubAgents[i].ID < idx.SubAgents[j].ID
	})
	sort.Slice(idx.Sessions, func(i, j int) bool { return idx.Sessions[i].ID < idx.Sessions[j].ID })
	sort.Strings(idx.ActivePlanIDs)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}
