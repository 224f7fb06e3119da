package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chatd/internal/deployment"
	"chatd/internal/engine"
	"chatd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeErrorBody(w, &types.ErrorResponse{Object: "error", Message: msg, Type: engine.TypeForStatus(status), Code: status})
}

func writeErrorBody(w http.ResponseWriter, body *types.ErrorResponse) {
	writeJSON(w, body.Code, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps service errors to HTTP status codes. A failed build
// is always 503 whatever the engine answered.
func statusForError(err error) int {
	var he HTTPError
	switch {
	case deployment.IsBuildError(err), engine.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
