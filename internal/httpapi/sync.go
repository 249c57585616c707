package httpapi

import (
	"net/http"
	"os"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/transcript"
)

// syncResult is the complete payload of POST /api/sync:
// extracted + skipped + errors == totalSessions, indexed == global index
// length.
type syncResult struct {
	TotalSessions int `json:"totalSessions"`
	Extracted     int `json:"extracted"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
	Indexed       int `json:"indexed"`
}

// handleSync re-extracts every catalog then rebuilds the global session
// index, streaming progress as SSE.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	sse := newSSE(w)
	if sse == nil {
		writeError(w, unavailable("streaming unsupported"))
		return
	}

	force := r.URL.Query().Get("force") == "true"
	res, err := s.indexer.ExtractAllCatalogs(catalog.ExtractOptions{
		Force: force,
		Ctx:   r.Context(),
		OnProgress: func(p catalog.Progress) {
			sse.Progress(p)
		},
	})
	if err != nil {
		sse.Error(err.Error())
		return
	}
	if r.Context().Err() != nil {
		return
	}

	idx, err := s.indexer.BuildSessionIndex()
	if err != nil {
		sse.Error(err.Error())
		return
	}

	sse.Complete(syncResult{
		TotalSessions: res.TotalSessions,
		Extracted:     res.Extracted,
		Skipped:       res.Skipped,
		Errors:        res.Errors,
		Indexed:       len(idx.Sessions),
	})
}

// handleCatalogExtract re-extracts one project's catalog (or all, when no
// project is given), streaming progress as SSE.
func (s *Server) handleCatalogExtract(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectPath string `json:"projectPath,omitempty"`
		EncodedPath string `json:"encodedPath,omitempty"`
		Force       bool   `json:"force,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
	}

	sse := newSSE(w)
	if sse == nil {
		writeError(w, unavailable("streaming unsupported"))
		return
	}

	opts := catalog.ExtractOptions{
		Force: body.Force,
		Ctx:   r.Context(),
		OnProgress: func(p catalog.Progress) {
			sse.Progress(p)
		},
	}

	switch {
	case body.ProjectPath != "" || body.EncodedPath != "":
		path := body.ProjectPath
		if path == "" {
			path = transcript.DecodeProjectPath(body.EncodedPath)
		}
		if _, err := os.Stat(path); err != nil {
			sse.Error("unknown project " + path)
			return
		}
		_, res, err := s.indexer.ExtractProjectCatalog(path, opts)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Complete(res)

	default:
		res, err := s.indexer.ExtractAllCatalogs(opts)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		sse.Complete(res)
	}
}

// handleArchiveInitialize builds the global session index when it is
// missing, streaming progress. A present index completes immediately.
func (s *Server) handleArchiveInitialize(w http.ResponseWriter, r *http.Request) {
	sse := newSSE(w)
	if sse == nil {
		writeError(w, unavailable("streaming unsupported"))
		return
	}

	existing, err := s.indexer.LoadGlobalIndex()
	if err != nil {
		sse.Error(err.Error())
		return
	}
	if existing.LastScanned > 0 {
		sse.Complete(map[string]any{"indexed": len(existing.Sessions), "rebuilt": false})
		return
	}

	sse.Progress(catalog.Progress{})
	idx, err := s.indexer.BuildSessionIndex()
	if err != nil {
		sse.Error(err.Error())
		return
	}
	sse.Complete(map[string]any{"indexed": len(idx.Sessions), "rebuilt": true})
}
