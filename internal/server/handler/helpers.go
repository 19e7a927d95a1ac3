package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/swapengine/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// apiError is the body of every non-2xx response.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// errorStatus maps the engine's error kinds to HTTP statuses, in match order.
var errorStatus = []struct {
	kind   error
	status int
	code   string
}{
	{domain.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrAlreadyExists, http.StatusConflict, "already_exists"},
	{domain.ErrLockHeld, http.StatusConflict, "busy"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

// writeDomainError reports err with the status of its kind. Errors of no
// known kind are logged and hidden behind a 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	for _, e := range errorStatus {
		if errors.Is(err, e.kind) {
			msg := err.Error()
			if e.kind == domain.ErrNotFound {
				msg = "not found"
			}
			writeJSON(w, e.status, apiError{Error: msg, Code: e.code})
			return
		}
	}
	if domain.IsRetryable(err) {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: err.Error(), Code: "unavailable"})
		return
	}
	logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	writeJSON(w, http.StatusInternalServerError, apiError{Error: "internal server error", Code: "internal"})
}

// parseListOpts reads limit and offset. Missing or malformed values fall back
// to the first page; limit is clamped to maxPageSize.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{
		Limit:  queryInt(q.Get("limit"), defaultPageSize, 1),
		Offset: queryInt(q.Get("offset"), 0, 0),
	}
	opts.Limit = min(opts.Limit, maxPageSize)
	return opts
}

func queryInt(raw string, fallback, floor int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < floor {
		return fallback
	}
	return n
}

func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
