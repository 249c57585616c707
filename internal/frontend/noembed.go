//go:build !embed

package frontend

import "net/http"

// Handler returns nil when the GUI is not compiled in.
func Handler() http.Handler {
	return nil
}
