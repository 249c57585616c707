package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/transcript"
)

// archiveStats summarises the global session index.
type archiveStats struct {
	TotalSessions    int   `json:"totalSessions"`
	TotalProjects    int   `json:"totalProjects"`
	TotalInputTokens int64 `json:"totalInputTokens"`
	TotalOutput      int64 `json:"totalOutputTokens"`
	TotalBytes       int64 `json:"totalBytes"`
	LastScanned      int64 `json:"lastScanned"`
}

func (s *Server) handleArchiveStats(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexer.LoadGlobalIndex()
	if err != nil {
		writeError(w, err)
		return
	}
	stats := archiveStats{LastScanned: idx.LastScanned}
	projects := make(map[string]bool)
	for _, e := range idx.Sessions {
		stats.TotalSessions++
		stats.TotalInputTokens += e.TotalInput
		stats.TotalOutput += e.TotalOutput
		stats.TotalBytes += e.SizeBytes
		projects[e.ProjectPath] = true
	}
	stats.TotalProjects = len(projects)
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleArchiveConversations(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexer.LoadGlobalIndex()
	if err != nil {
		writeError(w, err)
		return
	}
	sessions := idx.Sessions
	if sessions == nil {
		sessions = []catalog.SessionEntry{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleArchiveByProject(w http.ResponseWriter, r *http.Request) {
	idx, err := s.indexer.LoadGlobalIndex()
	if err != nil {
		writeError(w, err)
		return
	}
	grouped := make(map[string][]catalog.SessionEntry)
	for _, e := range idx.Sessions {
		grouped[e.ProjectPath] = append(grouped[e.ProjectPath], e)
	}

	type projectGroup struct {
		ProjectPath string                 `json:"projectPath"`
		Sessions    []catalog.SessionEntry `json:"sessions"`
	}
	groups := []projectGroup{}
	for _, name := range sortedProjectNames(grouped) {
		groups = append(groups, projectGroup{ProjectPath: name, Sessions: grouped[name]})
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleArchiveConversation(w http.ResponseWriter, r *http.Request) {
	entry, err := s.findArchiveEntry(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleArchiveSearch does case-insensitive substring search over session
// titles, project paths, and plan titles.
func (s *Server) handleArchiveSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	query := strings.ToLower(strings.TrimSpace(body.Query))
	if query == "" {
		writeError(w, malformed("query is required"))
		return
	}

	idx, err := s.indexer.LoadGlobalIndex()
	if err != nil {
		writeError(w, err)
		return
	}
	matches := []catalog.SessionEntry{}
	for _, e := range idx.Sessions {
		if archiveEntryMatches(&e, query) {
			matches = append(matches, e)
		}
	}
	writeJSON(w, http.StatusOK, matches)
}

func archiveEntryMatches(e *catalog.SessionEntry, query string) bool {
	if strings.Contains(strings.ToLower(e.Title), query) ||
		strings.Contains(strings.ToLower(e.ProjectPath), query) {
		return true
	}
	for _, p := range e.Plans {
		if strings.Contains(strings.ToLower(p.Title), query) {
			return true
		}
	}
	return false
}

// handleArchiveSubAgent finds a sub-agent by id across every project
// catalog.
func (s *Server) handleArchiveSubAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agentId")
	dirs, err := transcript.ProjectDirs(s.indexer.ProjectsRoot())
	if err != nil && !os.IsNotExist(err) {
		writeError(w, err)
		return
	}
	for _, encoded := range dirs {
		path := transcript.DecodeProjectPath(encoded)
		idx, err := catalog.LoadProjectIndex(path)
		if err != nil {
			continue
		}
		for _, a := range idx.SubAgents {
			if a.ID == agentID {
				writeJSON(w, http.StatusOK, a)
				return
			}
		}
	}
	writeError(w, errNotFound)
}

func (s *Server) handleArchiveSessionSubAgents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
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
	agents := []catalog.SubAgent{}
	for _, a := range idx.SubAgents {
		if a.SessionID == id {
			agents = append(agents, a)
		}
	}
	writeJSON(w, http.StatusOK, agents)
}
