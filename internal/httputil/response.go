// Package httputil holds the response helpers shared by the debug views.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/banshee-data/hostlink/internal/monitoring"
)

// WriteJSON writes data as indented JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONError writes {"error": msg} with the given status.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// RequireGet reports whether r is a GET. Otherwise it answers 405 and
// returns false.
func RequireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", "GET, HEAD")
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// InternalServerError reports a failed step of a handler as a 500.
func InternalServerError(w http.ResponseWriter, step string, err error) {
	monitoring.Logf("%s: %v", step, err)
	WriteJSONError(w, http.StatusInternalServerError, step+": "+err.Error())
}
