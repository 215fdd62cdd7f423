// Package models provides data model definitions for the offline queue and snapshot cache.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind identifies which collaborator operation a queued intent targets.
// The set is closed: adding a kind means adding a payload type and a dispatch
// binding.
type OperationKind string

const (
	KindCreateJournalEntry OperationKind = "create-journal-entry"
	KindCreateMoodEntry    OperationKind = "create-mood-entry"
	KindCreateTodoItem     OperationKind = "create-todo-item"
	KindUpdateTodoItem     OperationKind = "update-todo-item"
	KindCompleteTodoItem   OperationKind = "complete-todo-item"
	KindCreatePost         OperationKind = "create-post"
)

var operationKinds = []OperationKind{
	KindCreateJournalEntry,
	KindCreateMoodEntry,
	KindCreateTodoItem,
	KindUpdateTodoItem,
	KindCompleteTodoItem,
	KindCreatePost,
}

// AllOperationKinds returns every known operation kind.
func AllOperationKinds() []OperationKind {
	out := make([]OperationKind, len(operationKinds))
	copy(out, operationKinds)
	return out
}

// Valid reports whether k is a member of the closed kind set.
func (k OperationKind) Valid() bool {
	for _, known := range operationKinds {
		if k == known {
			return true
		}
	}
	return false
}

// String returns the wire name of the kind.
func (k OperationKind) String() string {
	return string(k)
}

// ParseOperationKind converts a wire name to an OperationKind.
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
	return k, nil
}

// PendingOperation is one queued intent awaiting replay.
type PendingOperation struct {
	ID             string          `db:"id" json:"id"`
	Seq            int64           `db:"seq" json:"seq"`
	Owner          string          `db:"owner_id" json:"owner"`
	Kind           OperationKind   `db:"kind" json:"kind"`
	PayloadVersion int             `db:"payload_version" json:"payload_version"`
	Payload        json.RawMessage `db:"payload_json" json:"payload"`
	CreatedAt      int64           `db:"created_at" json:"created_at"` // unix nanoseconds
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	LastError      string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for PendingOperation.
func (PendingOperation) TableName() string {
	return "pending_operations"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (o *PendingOperation) CreatedAtTime() time.Time {
	return time.Unix(0, o.CreatedAt)
}

// ReplaysBefore reports whether o must be dispatched before other.
func (o *PendingOperation) ReplaysBefore(other *PendingOperation) bool {
	if o.CreatedAt != other.CreatedAt {
		return o.CreatedAt < other.CreatedAt
	}
	return o.Seq < other.Seq
}

// FailedOperation records a permanently dropped operation so the owner can see it.
type FailedOperation struct {
	ID             string          `db:"id" json:"id"`
	Owner          string          `db:"owner_id" json:"owner"`
	Kind           OperationKind   `db:"kind" json:"kind"`
	PayloadVersion int             `db:"payload_version" json:"payload_version"`
	Payload        json.RawMessage `db:"payload_json" json:"payload"`
	CreatedAt      int64           `db:"created_at" json:"created_at"`
	FailedAt       int64           `db:"failed_at" json:"failed_at"`
	RetryCount     int             `db:"retry_count" json:"retry_count"`
	Reason         string          `db:"reason" json:"reason"`
	// RetryExhausted is true when the retry cap was reached, false when the
	// collaborator rejected the operation outright.
	RetryExhausted bool `db:"retry_exhausted" json:"retry_exhausted"`
}

// TableName returns the table name for FailedOperation.
func (FailedOperation) TableName() string {
	return "failed_operations"
}

// NewFailedOperation builds the failure record for op.
func NewFailedOperation(op *PendingOperation, reason string, exhausted bool, failedAt time.Time) *FailedOperation {
	return &FailedOperation{
		ID:             op.ID,
		Owner:          op.Owner,
		Kind:           op.Kind,
		PayloadVersion: op.PayloadVersion,
		Payload:        op.Payload,
		CreatedAt:      op.CreatedAt,
		FailedAt:       failedAt.UnixNano(),
		RetryCount:     op.RetryCount,
		Reason:         reason,
		RetryExhausted: exhausted,
	}
}
