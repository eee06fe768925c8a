package api

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rcourtman/wplicense/internal/logging"
	"github.com/rcourtman/wplicense/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every non-2xx admin response.
type ErrorResponse struct {
	ErrorMessage string            `json:"error"`
	Code         string            `json:"code,omitempty"`
	StatusCode   int               `json:"status_code"`
	Timestamp    int64             `json:"timestamp"`
	RequestID    string            `json:"request_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// requestContext tags each request with an ID, recovers panics, logs
// failures and records request metrics.
func requestContext(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incomingID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			ctxWithID, requestID := logging.WithRequestID(r.Context(), incomingID)
			r = r.WithContext(ctxWithID)

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			rw.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			defer func() {
				metrics.RecordAdminRequest(r.Method, routeLabel(r), rw.statusCode, time.Since(start))
			}()

			defer func() {
				if err := recover(); err != nil {
					logger.Error().
						Interface("error", err).
						Str("path", r.URL.Path).
						Str("method", r.Method).
						Str("request_id", requestID).
						Bytes("stack", debug.Stack()).
						Msg("Panic recovered in admin handler")

					writeErrorResponse(rw, r, http.StatusInternalServerError, "internal_error",
						"An unexpected error occurred", nil)
				}
			}()

			next.ServeHTTP(rw, r)

			if rw.statusCode >= 400 {
				logger.Warn().
					Str("path", r.URL.Path).
					Str("method", r.Method).
					Int("status", rw.statusCode).
					Str("request_id", requestID).
					Msg("Request failed")
			}
		})
	}
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// writeErrorResponse writes a consistent error response.
func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	resp := ErrorResponse{
		ErrorMessage: message,
		Code:         code,
		StatusCode:   statusCode,
		Timestamp:    time.Now().Unix(),
		RequestID:    logging.RequestID(r.Context()),
		Details:      details,
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes data with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// responseWriter wraps http.ResponseWriter to capture status codes.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.ResponseWriter.WriteHeader(code)
		rw.written = true
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher when the underlying writer supports it.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
