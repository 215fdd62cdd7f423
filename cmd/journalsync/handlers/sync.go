package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/journalsync/internal/errors"
	syncpkg "github.com/kimhsiao/journalsync/internal/sync"
	"github.com/kimhsiao/journalsync/internal/sync/scheduler"
)

// Syncer runs passes on demand and reports scheduler state.
type Syncer interface {
	SyncNow(ctx context.Context, owner string) (*syncpkg.SyncResult, error)
	TriggerSync(owner string) error
	GetStatus(ctx context.Context) (scheduler.SchedulerStatus, error)
}

// SyncHandler handles sync status and manual triggers.
type SyncHandler struct {
	syncer Syncer
	engine syncpkg.SyncEngineInterface
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(syncer Syncer, engine syncpkg.SyncEngineInterface) *SyncHandler {
	return &SyncHandler{syncer: syncer, engine: engine}
}

// ownerStatus is the per-owner part of GET /status.
type ownerStatus struct {
	Status     syncpkg.SyncStatus  `json:"status"`
	LastResult *syncpkg.SyncResult `json:"last_result,omitempty"`
}

// GetStatus handles GET /status
// Returns scheduler state plus the engine status of every owner with pending work.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncer.GetStatus(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	owners := make(map[string]ownerStatus, len(status.PendingOwners))
	for _, owner := range status.PendingOwners {
		owners[owner] = ownerStatus{
			Status:     h.engine.Status(owner),
			LastResult: h.engine.LastResult(owner),
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": status,
		"owners":    owners,
	})
}

// SyncOwner handles POST /owners/{owner}/sync
// Runs one pass now. A skipped pass is still 200 with "skipped" set.
// With ?async=true the pass is started in the background and 202 is returned.
func (h *SyncHandler) SyncOwner(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]

	if raw := r.URL.Query().Get("async"); raw != "" {
		async, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, errors.Newf(errors.ErrInvalid, "invalid async %q", raw))
			return
		}
		if async {
			if err := h.syncer.TriggerSync(owner); err != nil {
				writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"owner":    owner,
				"accepted": true,
			})
			return
		}
	}

	result, err := h.syncer.SyncNow(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// OwnerStatus handles GET /owners/{owner}/sync
func (h *SyncHandler) OwnerStatus(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	writeJSON(w, http.StatusOK, ownerStatus{
		Status:     h.engine.Status(owner),
		LastResult: h.engine.LastResult(owner),
	})
}
