// Package queue provides the durable offline operation log replayed by the sync engine.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kimhsiao/journalsync/internal/clock"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/models"
)

// DefaultMaxRetryCount is the number of failed attempts after which an
// operation is dropped.
const DefaultMaxRetryCount = 3

// OperationLog records user intents while offline and hands them back in
// replay order. Implementations are safe for concurrent use.
type OperationLog interface {
	// Enqueue appends an intent for owner. It never contacts the network.
	Enqueue(ctx context.Context, owner string, kind models.OperationKind, version int, payload []byte) (string, error)

	// ListPending returns owner's entries ordered by (CreatedAt, Seq). Entries
	// whose RetryCount already reached the cap are excluded.
	ListPending(ctx context.Context, owner string) ([]*models.PendingOperation, error)

	// Get returns a single pending entry.
	Get(ctx context.Context, id string) (*models.PendingOperation, error)

	// MarkSucceeded removes the entry.
	MarkSucceeded(ctx context.Context, id string) error

	// MarkFailed records a failed attempt. Once RetryCount reaches the cap the
	// entry is removed and recorded as a FailedOperation.
	MarkFailed(ctx context.Context, id string, cause error) (*FailResult, error)

	// Drop removes the entry immediately and records it as a FailedOperation.
	Drop(ctx context.Context, id string, cause error) (*models.FailedOperation, error)

	// DropExhausted moves owner's entries whose RetryCount already reached the
	// cap into the failure records. Such entries exist when the cap is lowered
	// between runs.
	DropExhausted(ctx context.Context, owner string) ([]*models.FailedOperation, error)

	// Count returns the number of replayable entries for owner.
	Count(ctx context.Context, owner string) (int, error)

	// Owners lists owners that have pending entries, including entries awaiting
	// DropExhausted.
	Owners(ctx context.Context) ([]string, error)

	// ListFailed returns owner's dropped operations, newest first.
	ListFailed(ctx context.Context, owner string) ([]*models.FailedOperation, error)

	// DismissFailed deletes a dropped operation record.
	DismissFailed(ctx context.Context, owner, id string) error
}

// FailResult is the outcome of MarkFailed.
type FailResult struct {
	// Operation is the entry after the retry count was incremented.
	Operation *models.PendingOperation

	// Dropped is true when the retry cap was reached and the entry removed.
	Dropped bool

	// Failure is the recorded failure when Dropped is true.
	Failure *models.FailedOperation
}

// Options configures an OperationLog implementation.
type Options struct {
	MaxRetryCount int
	Clock         clock.Clock
}

func (o Options) withDefaults() Options {
	if o.MaxRetryCount <= 0 {
		o.MaxRetryCount = DefaultMaxRetryCount
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	return o
}

// EnqueuePayload validates p, serializes it and enqueues it under the kind
// and version bound to its type.
func EnqueuePayload(ctx context.Context, log OperationLog, owner string, p models.OperationPayload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "invalid "+p.Kind().String()+" payload", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "failed to encode payload", err)
	}
	return log.Enqueue(ctx, owner, p.Kind(), p.Version(), data)
}

// EnqueueJSON decodes raw into the payload type bound to kind, validates it
// and enqueues it. Used by the CLI and the status API.
func EnqueueJSON(ctx context.Context, log OperationLog, owner string, kind models.OperationKind, raw []byte) (string, error) {
	if !kind.Valid() {
		return "", errors.Newf(errors.ErrUnknownKind, "unknown operation kind %q", kind)
	}
	p, err := models.DecodePayload(kind, raw)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalid, "invalid "+kind.String()+" payload", err)
	}
	return EnqueuePayload(ctx, log, owner, p)
}

func validateEnqueue(owner string, kind models.OperationKind, version int, payload []byte) error {
	if strings.TrimSpace(owner) == "" {
		return errors.New(errors.ErrInvalid, "owner is required")
	}
	if !kind.Valid() {
		return errors.Newf(errors.ErrUnknownKind, "unknown operation kind %q", kind)
	}
	if version < 1 {
		return errors.Newf(errors.ErrInvalid, "invalid payload version %d", version)
	}
	if !json.Valid(payload) {
		return errors.New(errors.ErrInvalid, "payload is not valid JSON")
	}
	return nil
}

func exhaustedReason(op *models.PendingOperation, max int) string {
	if op.LastError != "" {
		return op.LastError
	}
	return fmt.Sprintf("retry count %d reached the limit of %d", op.RetryCount, max)
}

func reasonOf(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}

func notFound(id string) error {
	return errors.Newf(errors.ErrNotFound, "operation %s not found", id)
}
