// Package api provides HTTP response utilities for ClauseFlow.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// Pre-marshaled fallback response so a JSON encoding failure never leaves the
// client without a body.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response with the given status code. The
// payload is marshaled before any header is written so encoding errors can
// still downgrade to the fallback body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForOutcome maps a domain outcome to its HTTP status code.
func statusForOutcome(outcome models.OutcomeKind) int {
	switch outcome {
	case models.OutcomeOK:
		return http.StatusOK
	case models.OutcomeNotFound:
		return http.StatusNotFound
	case models.OutcomeInvalidAnswer:
		return http.StatusBadRequest
	case models.OutcomeIllegalTransition, models.OutcomeIncompleteDocument:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeStoreError answers a wrapped store failure with a generic retry
// message. Backend details never reach the client.
func writeStoreError(w http.ResponseWriter) {
	writeJSONResponse(w, http.StatusInternalServerError,
		models.Error("Service temporarily unavailable, please try again"))
}
