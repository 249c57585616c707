package httpapi

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/jacques-dev/jacques/internal/catalog"
)

// resolveContextNote maps a note id back to its file via a directory rescan.
func resolveContextNote(projectPath, id string) (catalog.ContextNote, error) {
	notes, err := catalog.ScanContextNotes(projectPath)
	if err != nil {
		return catalog.ContextNote{}, err
	}
	for _, n := range notes {
		if n.ID == id {
			return n, nil
		}
	}
	return catalog.ContextNote{}, errNotFound
}

func (s *Server) handleContextList(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	notes, err := catalog.ScanContextNotes(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if notes == nil {
		notes = []catalog.ContextNote{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleContextCreate(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Name    string `json:"name"`
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" || body.Name != filepath.Base(body.Name) {
		writeError(w, malformed("name must be a bare filename"))
		return
	}

	dir := filepath.Join(path, catalog.JacquesDirName, "context")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		writeError(w, err)
		return
	}
	dest := filepath.Join(dir, body.Name)
	if _, err := os.Stat(dest); err == nil {
		writeError(w, malformed("context note already exists: "+body.Name))
		return
	}
	if err := os.WriteFile(dest, []byte(body.Content), 0o644); err != nil {
		writeError(w, err)
		return
	}

	notes, err := catalog.ScanContextNotes(path)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, n := range notes {
		if n.Name == body.Name {
			writeJSON(w, http.StatusCreated, n)
			return
		}
	}
	writeError(w, errNotFound)
}

func (s *Server) handleContextGet(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	note, err := resolveContextNote(path, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	content, err := os.ReadFile(filepath.Join(path, note.RelativePath))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      note.ID,
		"name":    note.Name,
		"content": string(content),
	})
}

func (s *Server) handleContextUpdate(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	note, err := resolveContextNote(path, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := os.WriteFile(filepath.Join(path, note.RelativePath), []byte(body.Content), 0o644); err != nil {
		writeError(w, err)
		return
	}
	if _, err := catalog.ScanContextNotes(path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleContextDelete(w http.ResponseWriter, r *http.Request) {
	path, err := s.projectPath(r.PathValue("encodedPath"))
	if err != nil {
		writeError(w, err)
		return
	}
	note, err := resolveContextNote(path, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := os.Remove(filepath.Join(path, note.RelativePath)); err != nil {
		writeError(w, err)
		return
	}
	if _, err := catalog.ScanContextNotes(path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}
