// Package httpapi is the HTTP/SSE gateway on localhost:4243: catalog and
// archive reads, sync operations streamed as server-sent events, usage and
// notification endpoints, and the embedded GUI with SPA fallback.
package httpapi

import (
	"context"
	"net/http"
	"os"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/config"
	"github.com/jacques-dev/jacques/internal/notify"
	"github.com/jacques-dev/jacques/internal/session"
	"github.com/jacques-dev/jacques/internal/terminal"
	"github.com/jacques-dev/jacques/internal/transcript"
	"github.com/jacques-dev/jacques/internal/usage"
)

// Launcher is the orchestrator surface the gateway needs. Stubbed in tests.
type Launcher interface {
	Launch(ctx context.Context, req terminal.LaunchRequest) terminal.Result
}

// Server wires the gateway's dependencies. All fields are set at
// construction and never mutated.
type Server struct {
	cfg      *config.Config
	users    *config.UserStore
	registry *session.Registry
	indexer  *catalog.Indexer
	usage    *usage.Client
	notifier *notify.Engine
	launcher Launcher
	static   http.Handler
}

// New builds the gateway. static and launcher may be nil; usageClient may be
// nil in tests.
func New(cfg *config.Config, users *config.UserStore, registry *session.Registry,
	indexer *catalog.Indexer, usageClient *usage.Client, notifier *notify.Engine,
	launcher Launcher, static http.Handler) *Server {
	return &Server{
		cfg:      cfg,
		users:    users,
		registry: registry,
		indexer:  indexer,
		usage:    usageClient,
		notifier: notifier,
		launcher: launcher,
		static:   static,
	}
}

// Routes builds the full endpoint surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/by-project", s.handleSessionsByProject)
	mux.HandleFunc("GET /api/sessions/stats", s.handleSessionStats)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /api/sessions/{id}/badges", s.handleSessionBadges)
	mux.HandleFunc("GET /api/sessions/{id}/subagents/{agentId}", s.handleSessionSubAgent)
	mux.HandleFunc("GET /api/sessions/{id}/web-searches", s.handleSessionWebSearches)
	mux.HandleFunc("GET /api/sessions/{id}/tasks", s.handleSessionTasks)
	mux.HandleFunc("GET /api/sessions/{id}/plans/{messageIndex}", s.handleSessionPlan)
	mux.HandleFunc("POST /api/sessions/rebuild", s.handleSessionsRebuild)
	mux.HandleFunc("POST /api/sessions/launch", s.handleSessionsLaunch)

	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("DELETE /api/projects/{name}", s.handleProjectDelete)
	mux.HandleFunc("GET /api/projects/{encodedPath}/catalog", s.handleProjectCatalog)
	mux.HandleFunc("GET /api/projects/{encodedPath}/plans", s.handleProjectPlans)
	mux.HandleFunc("GET /api/projects/{encodedPath}/plans/{id}/content", s.handleProjectPlanContent)
	mux.HandleFunc("GET /api/projects/{encodedPath}/handoffs", s.handleProjectHandoffs)
	mux.HandleFunc("GET /api/projects/{encodedPath}/handoffs/{filename}/content", s.handleProjectHandoffContent)
	mux.HandleFunc("GET /api/projects/{encodedPath}/active-plans", s.handleActivePlansGet)
	mux.HandleFunc("POST /api/projects/{encodedPath}/active-plans", s.handleActivePlansSet)
	mux.HandleFunc("GET /api/projects/{encodedPath}/context", s.handleContextList)
	mux.HandleFunc("POST /api/projects/{encodedPath}/context", s.handleContextCreate)
	mux.HandleFunc("GET /api/projects/{encodedPath}/context/{id}", s.handleContextGet)
	mux.HandleFunc("PUT /api/projects/{encodedPath}/context/{id}", s.handleContextUpdate)
	mux.HandleFunc("DELETE /api/projects/{encodedPath}/context/{id}", s.handleContextDelete)

	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/catalog/extract", s.handleCatalogExtract)
	mux.HandleFunc("POST /api/archive/initialize", s.handleArchiveInitialize)
	mux.HandleFunc("GET /api/archive/stats", s.handleArchiveStats)
	mux.HandleFunc("GET /api/archive/conversations", s.handleArchiveConversations)
	mux.HandleFunc("GET /api/archive/conversations/by-project", s.handleArchiveByProject)
	mux.HandleFunc("GET /api/archive/conversations/{id}", s.handleArchiveConversation)
	mux.HandleFunc("POST /api/archive/search", s.handleArchiveSearch)
	mux.HandleFunc("GET /api/archive/subagents/{agentId}", s.handleArchiveSubAgent)
	mux.HandleFunc("GET /api/archive/sessions/{sessionId}/subagents", s.handleArchiveSessionSubAgents)

	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("GET /api/notifications/settings", s.handleNotificationSettingsGet)
	mux.HandleFunc("PUT /api/notifications/settings", s.handleNotificationSettingsPut)
	mux.HandleFunc("GET /api/notifications/history", s.handleNotificationHistory)
	mux.HandleFunc("GET /api/sources/status", s.handleSourcesStatus)
	mux.HandleFunc("POST /api/sources/{name}", s.handleSourceConnect)
	mux.HandleFunc("DELETE /api/sources/{name}", s.handleSourceDisconnect)
	mux.HandleFunc("GET /api/config/root-path", s.handleRootPathGet)
	mux.HandleFunc("POST /api/config/root-path", s.handleRootPathSet)

	if s.static != nil {
		mux.Handle("/", s.static)
	}
	return mux
}

// projectPath decodes an encoded project path and verifies the directory
// exists on disk.
func (s *Server) projectPath(encoded string) (string, error) {
	path := transcript.DecodeProjectPath(encoded)
	if _, err := os.Stat(path); err != nil {
		return "", errNotFound
	}
	return path, nil
}
