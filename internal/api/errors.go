package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/hybrid-memory/internal/memory"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Detail    []string  `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// kindRateLimited is reported with 429 responses. It never leaves the HTTP layer.
const kindRateLimited memory.Kind = "rate_limit_exceeded"

// statusFor maps an error kind to its HTTP status.
func statusFor(kind memory.Kind) int {
	switch kind {
	case memory.NotFound:
		return http.StatusNotFound
	case memory.ValidationFailed:
		return http.StatusBadRequest
	case memory.EmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case memory.IndexWriteFailed, memory.IndexReadFailed:
		return http.StatusBadGateway
	case memory.Inconsistent:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var publicMessages = map[memory.Kind]string{
	memory.EmbeddingUnavailable: "embedding provider is unavailable",
	memory.IndexWriteFailed:     "vector index write failed",
	memory.IndexReadFailed:      "vector index read failed",
	memory.StoreCommitFailed:    "database write failed",
	memory.Inconsistent:         "memory is in an inconsistent state",
	memory.Internal:             "internal error",
}

func (rt *Router) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rt.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (rt *Router) respondError(w http.ResponseWriter, status int, kind memory.Kind, message string) {
	rt.respondJSON(w, status, ErrorResponse{
		Error:     string(kind),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// respondServiceError renders a service failure. Validation and not-found
// messages are passed through; other kinds get a fixed message.
func (rt *Router) respondServiceError(w http.ResponseWriter, err error) {
	kind := memory.KindOf(err)
	body := ErrorResponse{Error: string(kind), Timestamp: time.Now().UTC()}

	var e *memory.Error
	switch kind {
	case memory.ValidationFailed:
		body.Message = "validation failed"
		if errors.As(err, &e) {
			body.Detail = e.Details
		}
		if len(body.Detail) == 0 {
			body.Message = err.Error()
		}
	case memory.NotFound:
		body.Message = "memory not found"
	default:
		body.Message = publicMessages[kind]
	}
	rt.respondJSON(w, statusFor(kind), body)
}
