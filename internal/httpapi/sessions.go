package httpapi

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/session"
	"github.com/jacques-dev/jacques/internal/terminal"
	"github.com/jacques-dev/jacques/internal/transcript"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleSessionsByProject(w http.ResponseWriter, r *http.Request) {
	grouped := make(map[string][]*session.Session)
	for _, sess := range s.registry.List() {
		grouped[sess.Project] = append(grouped[sess.Project], sess)
	}
	writeJSON(w, http.StatusOK, grouped)
}

// sessionStats aggregates the live registry for the dashboard.
type sessionStats struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"byStatus"`
	BySource         map[string]int `json:"bySource"`
	ByProject        map[string]int `json:"byProject"`
	TotalInputTokens int64          `json:"totalInputTokens"`
	FocusedID        string         `json:"focusedId,omitempty"`
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats := sessionStats{
		ByStatus:  make(map[string]int),
		BySource:  make(map[string]int),
		ByProject: make(map[string]int),
		FocusedID: s.registry.GetFocused(),
	}
	for _, sess := range s.registry.List() {
		stats.Total++
		stats.ByStatus[sess.Status.String()]++
		stats.BySource[string(sess.Source)]++
		stats.ByProject[sess.Project]++
		stats.TotalInputTokens += sess.Context.TotalInputTokens
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if sess, ok := s.registry.Get(id); ok {
		writeJSON(w, http.StatusOK, sess)
		return
	}
	entry, err := s.findArchiveEntry(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// findArchiveEntry resolves a session id through the global index.
func (s *Server) findArchiveEntry(id string) (*catalog.SessionEntry, error) {
	idx, err := s.indexer.LoadGlobalIndex()
	if err != nil {
		return nil, err
	}
	for i := range idx.Sessions {
		if idx.Sessions[i].SessionID == id {
			return &idx.Sessions[i], nil
		}
	}
	return nil, errNotFound
}

// sessionTranscript resolves a session id to its transcript path, live
// sessions first, then the archive.
func (s *Server) sessionTranscript(id string) (string, error) {
	if sess, ok := s.registry.Get(id); ok && sess.TranscriptPath != "" {
		return sess.TranscriptPath, nil
	}
	entry, err := s.findArchiveEntry(id)
	if err != nil {
		return "", err
	}
	return entry.TranscriptPath, nil
}

// sessionBadges is the at-a-glance summary the GUI renders next to a
// session.
type sessionBadges struct {
	Mode        string `json:"mode"`
	IsBypass    bool   `json:"isBypass"`
	Plans       int    `json:"plans"`
	SubAgents   int    `json:"subAgents"`
	WebSearches int    `json:"webSearches"`
}

func (s *Server) handleSessionBadges(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	badges := sessionBadges{Mode: string(session.ModeDefault)}

	if sess, ok := s.registry.Get(id); ok {
		badges.Mode = string(sess.Mode)
		badges.IsBypass = sess.IsBypass
	}

	path, err := s.sessionTranscript(id)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, _, err := transcript.ReadAll(path)
	if err != nil {
		writeError(w, err)
		return
	}
	detected := transcript.DetectModeAndPlans(entries)
	if badges.Mode == string(session.ModeDefault) {
		badges.Mode = string(detected.Mode)
	}
	badges.Plans = len(detected.Plans)
	stats := transcript.GetEntryStatistics(entries)
	badges.WebSearches = stats.Counts[transcript.EntryWebSearch]
	for i := range entries {
		if entries[i].Type == transcript.EntryToolCall &&
			(entries[i].ToolName == "Task" || entries[i].ToolName == "Agent") {
			badges.SubAgents++
		}
	}
	writeJSON(w, http.StatusOK, badges)
}

func (s *Server) handleSessionSubAgent(w http.ResponseWriter, r *http.Request) {
	id, agentID := r.PathValue("id"), r.PathValue("agentId")
	entry, err := s.findArchiveEntry(id)
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(entry.ProjectPath)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, a := range idx.SubAgents {
		if a.ID == agentID && a.SessionID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeError(w, errNotFound)
}

func (s *Server) handleSessionWebSearches(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, err := s.findArchiveEntry(id)
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(entry.ProjectPath)
	if err != nil {
		writeError(w, err)
		return
	}
	searches := []catalog.SubAgent{}
	for _, a := range idx.SubAgents {
		if a.SessionID == id && a.Type == catalog.SubAgentSearch && a.ResultCount != nil {
			searches = append(searches, a)
		}
	}
	writeJSON(w, http.StatusOK, searches)
}

func (s *Server) handleSessionTasks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, err := s.sessionTranscript(id)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, _, err := transcript.ReadAll(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transcript.ExtractTaskSignals(entries, id))
}

// planContent is the body-bearing view of one plan reference.
type planContent struct {
	Title        string `json:"title"`
	Source       string `json:"source"`
	MessageIndex int    `json:"messageIndex"`
	FilePath     string `json:"filePath,omitempty"`
	Body         string `json:"body"`
}

func (s *Server) handleSessionPlan(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	msgIdx, err := strconv.Atoi(r.PathValue("messageIndex"))
	if err != nil {
		writeError(w, malformed("messageIndex must be an integer"))
		return
	}
	path, err := s.sessionTranscript(id)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, _, err := transcript.ReadAll(path)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, ref := range transcript.DetectModeAndPlans(entries).Plans {
		if ref.MessageIndex == msgIdx {
			writeJSON(w, http.StatusOK, planContent{
				Title:        ref.Title,
				Source:       string(ref.Source),
				MessageIndex: ref.MessageIndex,
				FilePath:     ref.FilePath,
				Body:         ref.Body,
			})
			return
		}
	}
	writeError(w, errNotFound)
}

func (s *Server) handleSessionsRebuild(w http.ResponseWriter, r *http.Request) {
	sse := newSSE(w)
	if sse == nil {
		writeError(w, unavailable("streaming unsupported"))
		return
	}
	sse.Progress(catalog.Progress{})
	idx, err := s.indexer.BuildSessionIndex()
	if err != nil {
		sse.Error(err.Error())
		return
	}
	sse.Complete(map[string]any{"indexed": len(idx.Sessions)})
}

func (s *Server) handleSessionsLaunch(w http.ResponseWriter, r *http.Request) {
	if s.launcher == nil {
		writeError(w, unavailable("no terminal controller"))
		return
	}
	var req terminal.LaunchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.CWD == "" {
		writeError(w, malformed("cwd is required"))
		return
	}
	res := s.launcher.Launch(r.Context(), req)
	if !res.Success {
		if res.Method == terminal.MethodUnsupported {
			writeError(w, unavailable(res.Error))
			return
		}
		writeJSON(w, http.StatusInternalServerError, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// sortedProjectNames is shared by the grouped endpoints for deterministic
// output.
func sortedProjectNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
