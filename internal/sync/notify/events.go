// Package notify publishes connectivity and sync progress events to subscribers.
package notify

import "github.com/kimhsiao/journalsync/internal/models"

// Event type names, used on the wire by the websocket stream.
const (
	TypeConnectivityChanged = "connectivity_changed"
	TypeSyncStarted         = "sync_started"
	TypeSyncProgress        = "sync_progress"
	TypeSyncCompleted       = "sync_completed"
	TypeOperationDropped    = "operation_dropped"
	TypeSyncAborted         = "sync_aborted"
)

// Event is any published notification.
type Event interface {
	EventType() string
}

// ConnectivityChanged is published when the probe observes a new state.
type ConnectivityChanged struct {
	Online bool `json:"online"`
}

// SyncStarted is published once a pass has taken its snapshot.
type SyncStarted struct {
	Owner string `json:"owner"`
	Total int    `json:"total"`
}

// SyncProgress is published after each entry of a pass is processed.
type SyncProgress struct {
	Owner       string               `json:"owner"`
	Completed   int                  `json:"completed"`
	Total       int                  `json:"total"`
	CurrentKind models.OperationKind `json:"current_kind"`
}

// SyncCompleted summarizes a finished pass.
type SyncCompleted struct {
	Owner              string `json:"owner"`
	Succeeded          int    `json:"succeeded"`
	Retried            int    `json:"retried"`
	DroppedPermanently int    `json:"dropped_permanently"`
}

// OperationDropped tells the owner that an intent will never reach the remote.
type OperationDropped struct {
	Owner       string               `json:"owner"`
	OperationID string               `json:"operation_id"`
	Kind        models.OperationKind `json:"kind"`
	RetryCount  int                  `json:"retry_count"`
	Reason      string               `json:"reason"`
}

// SyncAborted is published when local storage fails mid-pass.
type SyncAborted struct {
	Owner  string `json:"owner"`
	Reason string `json:"reason"`
}

func (ConnectivityChanged) EventType() string { return TypeConnectivityChanged }
func (SyncStarted) EventType() string         { return TypeSyncStarted }
func (SyncProgress) EventType() string        { return TypeSyncProgress }
func (SyncCompleted) EventType() string       { return TypeSyncCompleted }
func (OperationDropped) EventType() string    { return TypeOperationDropped }
func (SyncAborted) EventType() string         { return TypeSyncAborted }
