package api

import (
	"encoding/json"
	"net/http"

	"github.com/medicore/medicore/internal/log"
)

// writeJSON writes a JSON response with the given status code.
// If encoding fails after WriteHeader, the status is already on the wire;
// the error is logged and the response left as-is.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse is the JSON error body: {"error": "..."}.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string, logger log.Logger) {
	writeJSON(w, status, errorResponse{Error: message}, logger)
}
