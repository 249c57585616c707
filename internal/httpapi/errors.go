package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/jacques-dev/jacques/internal/catalog"
	"github.com/jacques-dev/jacques/internal/session"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("[api] encode response: %v", err)
		}
	}
}

// writeError maps an error to its HTTP status per the daemon's taxonomy:
// 404 NotFound, 409 Conflict and AlreadyEnded, 400 Malformed, 503
// Unavailable, 500 Internal.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), os.IsNotExist(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Detail: err.Error()})
	case errors.Is(err, session.ErrAlreadyEnded):
		writeJSON(w, http.StatusConflict, errorBody{Error: "already_ended", Detail: err.Error()})
	case errors.Is(err, catalog.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: "conflict", Detail: err.Error()})
	case errors.Is(err, errMalformed):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed", Detail: err.Error()})
	case errors.Is(err, errUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "unavailable", Detail: err.Error()})
	default:
		log.Printf("[api] internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Detail: err.Error()})
	}
}

var (
	errMalformed   = errors.New("malformed request")
	errUnavailable = errors.New("unavailable")
	errNotFound    = session.ErrNotFound
)

// malformed wraps a cause as a 400.
func malformed(detail string) error {
	return &taggedError{tag: errMalformed, detail: detail}
}

// unavailable wraps a cause as a 503.
func unavailable(detail string) error {
	return &taggedError{tag: errUnavailable, detail: detail}
}

type taggedError struct {
	tag    error
	detail string
}

func (e *taggedError) Error() string { return e.detail }
func (e *taggedError) Unwrap() error { return e.tag }

// decodeBody decodes a JSON request body into v, mapping failures to 400.
func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return malformed("bad JSON body: " + err.Error())
	}
	return nil
}
