package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter streams server-sent events with the names progress, complete,
// and error. Each Send flushes immediately so clients see progress live.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSE prepares the response for event streaming. Returns nil when the
// underlying writer cannot flush; the caller should fall back to an error.
func newSSE(w http.ResponseWriter) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	return &sseWriter{w: w, flusher: flusher}
}

// Send writes one `event: name\ndata: json\n\n` frame.
func (s *sseWriter) Send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

// Progress emits a progress frame.
func (s *sseWriter) Progress(payload any) { s.Send("progress", payload) }

// Complete emits the terminal complete frame.
func (s *sseWriter) Complete(payload any) { s.Send("complete", payload) }

// Error emits an error frame. The stream stays open for the caller to close.
func (s *sseWriter) Error(detail string) {
	s.Send("error", errorBody{Error: "internal", Detail: detail})
}
