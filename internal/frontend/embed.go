//go:build embed

// Package frontend serves the compiled web GUI. Built with -tags embed the
// assets ship inside the binary; without the tag Handler returns nil and the
// gateway serves the API only.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed static/*
var staticFiles embed.FS

// Handler serves the embedded GUI with an index.html fallback for SPA
// routes.
func Handler() http.Handler {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if _, err := fs.Stat(sub, name); err != nil {
			// Unknown non-API path: let the SPA router handle it.
			r.URL.Path = "/"
		}
		fileServer.ServeHTTP(w, r)
	})
}
