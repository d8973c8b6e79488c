package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/tic-ai/inference-platform/pkg/logger"
)

// writeJSON serializes v as the response body. The status is committed
// before encoding, so encode failures are only logged.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Global().Warn("failed to encode response", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
