package gateway

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
)

// ErrorResponse is the JSON error body. RetryAfter is set only on rate
// limit rejections, in seconds.
type ErrorResponse struct {
	Error      string  `json:"error"`
	Message    string  `json:"message,omitempty"`
	RetryAfter float64 `json:"retryAfter,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
// Buffer-first so headers are only sent after successful encoding.
func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Debug("failed to write response body", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errCode, message string, logger *slog.Logger) {
	if logger != nil {
		logger.Debug("error response", "status", status, "error", errCode)
	}
	writeJSON(w, status, ErrorResponse{Error: errCode, Message: message})
}

// writeRateLimited writes the 429 response with both the Retry-After
// header and a machine-readable retryAfter body field.
func writeRateLimited(w http.ResponseWriter, retryAfter float64, logger *slog.Logger) {
	if logger != nil {
		logger.Warn("rate limit exceeded", "retry_after", retryAfter)
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter))))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate_limited",
		Message:    "too many requests",
		RetryAfter: retryAfter,
	})
}
