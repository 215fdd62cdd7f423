// Package handlers provides the status API handlers for the queue, sync
// engine and snapshot cache.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

// statusOf maps an error code onto an HTTP status.
func statusOf(code errors.ErrorCode) int {
	switch code {
	case errors.ErrInvalid, errors.ErrUnknownKind:
		return http.StatusBadRequest
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case errors.ErrSyncInProgress:
		return http.StatusConflict
	case errors.ErrSchedulerStopped:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	status := statusOf(code)
	if status >= 500 {
		logging.Error("request failed", err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}

	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	writeJSON(w, status, body)
}

// parseLimit reads ?limit=, defaulting to 20 and capping at 100.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.Newf(errors.ErrInvalid, "invalid limit %q", raw)
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, nil
}
