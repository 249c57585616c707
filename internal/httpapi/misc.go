package httpapi

import (
	"net/http"
	"os"

	"github.com/jacques-dev/jacques/internal/config"
	"github.com/jacques-dev/jacques/internal/notify"
)

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, unavailable("usage client not configured"))
		return
	}
	limits := s.usage.Get(r.Context())
	if limits == nil {
		// Unknown is a valid answer; the GUI renders a dash.
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

func (s *Server) handleNotificationSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.users.Notifications())
}

func (s *Server) handleNotificationSettingsPut(w http.ResponseWriter, r *http.Request) {
	var ns config.NotificationSettings
	if err := decodeBody(r, &ns); err != nil {
		writeError(w, err)
		return
	}
	if ns.Categories == nil {
		writeError(w, malformed("categories is required"))
		return
	}
	if err := s.users.SetNotifications(ns); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.users.Notifications())
}

func (s *Server) handleNotificationHistory(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeJSON(w, http.StatusOK, []notify.Item{})
		return
	}
	history := s.notifier.History()
	if history == nil {
		history = []notify.Item{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleSourcesStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.users.Get().Sources)
}

func validSource(name string) bool {
	return name == "google" || name == "notion"
}

func (s *Server) handleSourceConnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validSource(name) {
		writeError(w, errNotFound)
		return
	}
	if err := s.users.SetSource(name, true); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.users.Get().Sources)
}

func (s *Server) handleSourceDisconnect(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !validSource(name) {
		writeError(w, errNotFound)
		return
	}
	if err := s.users.SetSource(name, false); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.users.Get().Sources)
}

func (s *Server) handleRootPathGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"rootPath":  s.users.RootPath(),
		"effective": s.indexer.ProjectsRoot(),
	})
}

// handleRootPathSet persists a transcript-root override. The running
// indexer keeps its root until restart; the response says so.
func (s *Server) handleRootPathSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RootPath string `json:"rootPath"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.RootPath != "" {
		if info, err := os.Stat(body.RootPath); err != nil || !info.IsDir() {
			writeError(w, malformed("rootPath is not a directory"))
			return
		}
	}
	if err := s.users.SetRootPath(body.RootPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rootPath":        body.RootPath,
		"restartRequired": true,
	})
}
