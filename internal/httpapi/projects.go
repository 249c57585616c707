package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/transcript"
)

// projectSummary is one row of the project list.
type projectSummary struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	EncodedPath  string `json:"encodedPath"`
	Transcripts  int    `json:"transcripts"`
	LiveSessions int    `json:"liveSessions"`
	HasCatalog   bool   `json:"hasCatalog"`
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	dirs, err := transcript.ProjectDirs(s.indexer.ProjectsRoot())
	if err != nil && !os.IsNotExist(err) {
		writeError(w, err)
		return
	}

	liveByPath := make(map[string]int)
	for _, sess := range s.registry.List() {
		liveByPath[transcript.EncodeProjectPath(sess.CWD)]++
	}

	projects := []projectSummary{}
	for _, encoded := range dirs {
		path := transcript.DecodeProjectPath(encoded)
		paths, _ := transcript.ProjectTranscripts(s.indexer.ProjectsRoot(), encoded)
		_, catErr := os.Stat(filepath.Join(path, catalog.JacquesDirName, "index.json"))
		projects = append(projects, projectSummary{
			Name:         filepath.Base(path),
			Path:         path,
			EncodedPath:  encoded,
			Transcripts:  len(paths),
			LiveSessions: liveByPath[encoded],
			HasCatalog:   catErr == nil,
		})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Path < projects[j].Path })
	writeJSON(w, http.StatusOK, projects)
}

// handleProjectDelete removes the daemon-owned catalog directory of a
// project. Transcripts are never touched.
func (s *Server) handleProjectDelete(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	dir := filepath.Join(path, catalog.JacquesDirName)
	if _, err := os.Stat(dir); err != nil {
		writeError(w, errNotFound)
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleProjectCatalog(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

func (s *Server) handleProjectPlans(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(path)
	if err != nil {
		writeError(w, err)
		return
	}
	plans := idx.Plans
	if plans == nil {
		plans = []catalog.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) handleProjectPlanContent(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(path)
	if err != nil {
		writeError(w, err)
		return
	}
	planID := r.PathValue("id")
	for _, p := range idx.Plans {
		if p.ID != planID {
			continue
		}
		body, err := os.ReadFile(filepath.Join(path, catalog.JacquesDirName, "plans", p.Filename))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"id":      p.ID,
			"title":   p.Title,
			"content": string(body),
		})
		return
	}
	writeError(w, errNotFound)
}

// handoffFile is one entry of the handoff listing.
type handoffFile struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modifiedAt"`
}

func (s *Server) handleProjectHandoffs(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	dir := filepath.Join(path, catalog.JacquesDirName, "handoffs")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []handoffFile{})
			return
		}
		writeError(w, err)
		return
	}
	files := []handoffFile{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, handoffFile{
			Filename:   e.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename > files[j].Filename })
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleProjectHandoffContent(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	filename := r.PathValue("filename")
	// Path traversal guard: the filename must resolve inside handoffs/.
	if filename != filepath.Base(filename) {
		writeError(w, malformed("bad filename"))
		return
	}
	body, err := os.ReadFile(filepath.Join(path, catalog.JacquesDirName, "handoffs", filename))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"filename": filename,
		"content":  string(body),
	})
}

func (s *Server) handleActivePlansGet(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(path)
	if err != nil {
		writeError(w, err)
		return
	}
	ids := idx.ActivePlanIDs
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"activePlanIds": ids})
}

func (s *Server) handleActivePlansSet(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ActivePlanIDs []string `json:"activePlanIds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	idx, err := catalog.LoadProjectIndex(path)
	if err != nil {
		writeError(w, err)
		return
	}
	known := make(map[string]bool, len(idx.Plans))
	for _, p := range idx.Plans {
		known[p.ID] = true
	}
	for _, id := range body.ActivePlanIDs {
		if !known[id] {
			writeError(w, malformed("unknown plan id "+id))
			return
		}
	}
	sort.Strings(body.ActivePlanIDs)
	idx.ActivePlanIDs = body.ActivePlanIDs
	if err := catalog.SaveProjectIndex(path, idx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"activePlanIds": idx.ActivePlanIDs})
}
