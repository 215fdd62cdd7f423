package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/uuid"
)

// MemoryLog is a process-local OperationLog. Entries do not survive a restart.
type MemoryLog struct {
	opts   Options
	items  map[string]*models.PendingOperation
	failed map[string]*models.FailedOperation
	seq    int64
	mu     sync.RWMutex
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog(opts Options) *MemoryLog {
	return &MemoryLog{
		opts:   opts.withDefaults(),
		items:  make(map[string]*models.PendingOperation),
		failed: make(map[string]*models.FailedOperation),
	}
}

// Enqueue adds an operation to the log.
func (q *MemoryLog) Enqueue(ctx context.Context, owner string, kind models.OperationKind, version int, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateEnqueue(owner, kind, version, payload); err != nil {
		return "", err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	item := &models.PendingOperation{
		ID:             uuid.New(),
		Seq:            q.seq,
		Owner:          owner,
		Kind:           kind,
		PayloadVersion: version,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      q.opts.Clock.Now().UnixNano(),
	}
	q.items[item.ID] = item

	logging.Debug("operation enqueued", map[string]interface{}{
		"id":    item.ID,
		"owner": owner,
		"kind":  kind,
	})

	return item.ID, nil
}

// ListPending returns owner's operations in replay order.
func (q *MemoryLog) ListPending(ctx context.Context, owner string) ([]*models.PendingOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	var pending []*models.PendingOperation
	for _, item := range q.items {
		if item.Owner == owner && item.RetryCount < q.opts.MaxRetryCount {
			cp := *item
			pending = append(pending, &cp)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ReplaysBefore(pending[j])
	})
	return pending, nil
}

// Get returns a copy of the operation.
func (q *MemoryLog) Get(ctx context.Context, id string) (*models.PendingOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	item, ok := q.items[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *item
	return &cp, nil
}

// MarkSucceeded removes a replayed operation.
func (q *MemoryLog) MarkSucceeded(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return notFound(id)
	}
	delete(q.items, id)
	return nil
}

// MarkFailed increments the retry count and drops the operation at the cap.
func (q *MemoryLog) MarkFailed(ctx context.Context, id string, cause error) (*FailResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, notFound(id)
	}

	item.RetryCount++
	item.LastError = reasonOf(cause)

	cp := *item
	result := &FailResult{Operation: &cp}

	if item.RetryCount >= q.opts.MaxRetryCount {
		delete(q.items, id)
		failure := models.NewFailedOperation(&cp, item.LastError, true, q.opts.Clock.Now())
		q.failed[id] = failure
		result.Dropped = true
		result.Failure = failure

		logging.Warn("operation dropped after max retries", map[string]interface{}{
			"id":          id,
			"owner":       item.Owner,
			"kind":        item.Kind,
			"retry_count": item.RetryCount,
		})
	}

	return result, nil
}

// Drop removes an operation the collaborator rejected permanently.
func (q *MemoryLog) Drop(ctx context.Context, id string, cause error) (*models.FailedOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, notFound(id)
	}
	delete(q.items, id)

	failure := models.NewFailedOperation(item, reasonOf(cause), false, q.opts.Clock.Now())
	q.failed[id] = failure
	return failure, nil
}

// DropExhausted moves owner's entries at or above the retry cap to the failure records.
func (q *MemoryLog) DropExhausted(ctx context.Context, owner string) ([]*models.FailedOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var exhausted []*models.PendingOperation
	for _, item := range q.items {
		if item.Owner == owner && item.RetryCount >= q.opts.MaxRetryCount {
			exhausted = append(exhausted, item)
		}
	}
	sort.Slice(exhausted, func(i, j int) bool {
		return exhausted[i].ReplaysBefore(exhausted[j])
	})

	now := q.opts.Clock.Now()
	failures := make([]*models.FailedOperation, 0, len(exhausted))
	for _, item := range exhausted {
		delete(q.items, item.ID)
		f := models.NewFailedOperation(item, exhaustedReason(item, q.opts.MaxRetryCount), true, now)
		q.failed[item.ID] = f
		failures = append(failures, f)
	}
	return failures, nil
}

// Count returns the number of replayable operations for owner.
func (q *MemoryLog) Count(ctx context.Context, owner string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	count := 0
	for _, item := range q.items {
		if item.Owner == owner && item.RetryCount < q.opts.MaxRetryCount {
			count++
		}
	}
	return count, nil
}

// Owners returns owners with pending operations, sorted.
func (q *MemoryLog) Owners(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, item := range q.items {
		seen[item.Owner] = struct{}{}
	}
	owners := make([]string, 0, len(seen))
	for owner := range seen {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

// ListFailed returns owner's dropped operations, newest first.
func (q *MemoryLog) ListFailed(ctx context.Context, owner string) ([]*models.FailedOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	var failed []*models.FailedOperation
	for _, f := range q.failed {
		if f.Owner == owner {
			cp := *f
			failed = append(failed, &cp)
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].FailedAt != failed[j].FailedAt {
			return failed[i].FailedAt > failed[j].FailedAt
		}
		return failed[i].ID < failed[j].ID
	})
	return failed, nil
}

// DismissFailed removes a failure record.
func (q *MemoryLog) DismissFailed(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, ok := q.failed[id]
	if !ok || f.Owner != owner {
		return errors.Newf(errors.ErrNotFound, "failed operation %s not found", id)
	}
	delete(q.failed, id)
	return nil
}

var _ OperationLog = (*MemoryLog)(nil)
