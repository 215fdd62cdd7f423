package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/sync/queue"
)

// OperationsHandler exposes an owner's pending and failed operations.
type OperationsHandler struct {
	log queue.OperationLog
}

// NewOperationsHandler creates a new OperationsHandler.
func NewOperationsHandler(log queue.OperationLog) *OperationsHandler {
	return &OperationsHandler{log: log}
}

// ListPending handles GET /owners/{owner}/operations
func (h *OperationsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	ops, err := h.log.ListPending(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ops == nil {
		ops = []*models.PendingOperation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":      owner,
		"operations": ops,
		"count":      len(ops),
	})
}

// Enqueue handles POST /owners/{owner}/operations
//
// Body: {"kind": "create-mood-entry", "payload": {...}}
func (h *OperationsHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	var request struct {
		Kind    models.OperationKind `json:"kind"`
		Payload json.RawMessage      `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, r, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if len(request.Payload) == 0 {
		writeError(w, r, errors.New(errors.ErrInvalid, "payload is required"))
		return
	}

	id, err := queue.EnqueueJSON(r.Context(), h.log, owner, request.Kind, request.Payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":    id,
		"owner": owner,
		"kind":  request.Kind,
	})
}

// Count handles GET /owners/{owner}/operations/count
func (h *OperationsHandler) Count(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	n, err := h.log.Count(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"owner": owner, "count": n})
}

// ListFailed handles GET /owners/{owner}/failures
func (h *OperationsHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	failed, err := h.log.ListFailed(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if failed == nil {
		failed = []*models.FailedOperation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner":    owner,
		"failures": failed,
		"count":    len(failed),
	})
}

// DismissFailed handles DELETE /owners/{owner}/failures/{id}
func (h *OperationsHandler) DismissFailed(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.log.DismissFailed(r.Context(), vars["owner"], vars["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
