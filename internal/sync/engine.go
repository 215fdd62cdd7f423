// Package sync replays queued operations against the remote collaborators.
package sync

import (
	"context"
	stderrors "errors"
	gosync "sync"
	"time"

	"github.com/kimhsiao/journalsync/internal/clock"
	"github.com/kimhsiao/journalsync/internal/connectivity"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/sync/dispatch"
	"github.com/kimhsiao/journalsync/internal/sync/notify"
	"github.com/kimhsiao/journalsync/internal/sync/queue"
)

// SyncStatus represents the sync state of one owner.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SkipReason explains why a pass did nothing.
type SkipReason string

const (
	SkipOffline        SkipReason = "offline"
	SkipAlreadySyncing SkipReason = "already_syncing"
)

// Operation outcomes reported to Metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeDropped   = "dropped"
)

// SyncResult represents the result of one pass for one owner.
type SyncResult struct {
	Owner     string        `json:"owner"`
	Skipped   SkipReason    `json:"skipped,omitempty"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Retried   int           `json:"retried"`
	Dropped   int           `json:"dropped"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Metrics observes passes. All methods must be safe for concurrent use.
type Metrics interface {
	PassFinished(result *SyncResult)
	OperationFinished(kind models.OperationKind, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) PassFinished(*SyncResult)                       {}
func (noopMetrics) OperationFinished(models.OperationKind, string) {}

// Config wires an Engine. Log, Dispatcher and Probe are required.
type Config struct {
	Log        queue.OperationLog
	Dispatcher dispatch.Dispatcher
	Probe      connectivity.Probe
	Publisher  notify.Publisher
	Metrics    Metrics
	Clock      clock.Clock
}

// Engine runs sync passes. At most one pass per owner is in flight; passes
// for different owners may run concurrently.
type Engine struct {
	log        queue.OperationLog
	dispatcher dispatch.Dispatcher
	probe      connectivity.Probe
	publisher  notify.Publisher
	metrics    Metrics
	clock      clock.Clock

	mu      gosync.Mutex
	syncing map[string]bool
	failed  map[string]bool
	last    map[string]*SyncResult
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		log:        cfg.Log,
		dispatcher: cfg.Dispatcher,
		probe:      cfg.Probe,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		clock:      cfg.Clock,
		syncing:    make(map[string]bool),
		failed:     make(map[string]bool),
		last:       make(map[string]*SyncResult),
	}
	if e.publisher == nil {
		e.publisher = notify.Discard{}
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	return e
}

// Status returns owner's current state.
func (e *Engine) Status(owner string) SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.syncing[owner]:
		return SyncStatusSyncing
	case e.failed[owner]:
		return SyncStatusFailed
	default:
		return SyncStatusIdle
	}
}

// Syncing reports whether a pass is in flight for owner.
func (e *Engine) Syncing(owner string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing[owner]
}

// LastResult returns a copy of owner's most recent completed or aborted pass.
func (e *Engine) LastResult(owner string) *SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.last[owner]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (e *Engine) acquire(owner string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncing[owner] {
		return false
	}
	e.syncing[owner] = true
	return true
}

func (e *Engine) release(owner string, result *SyncResult, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.syncing, owner)
	if result != nil {
		e.last[owner] = result
		e.failed[owner] = failed
	}
}

// Sync runs one pass for owner. Being offline or already syncing is reported
// through SyncResult.Skipped with a nil error. Collaborator errors never
// abort the pass; local storage errors and context cancellation do.
func (e *Engine) Sync(ctx context.Context, owner string) (*SyncResult, error) {
	if owner == "" {
		return nil, errors.New(errors.ErrInvalid, "owner is required")
	}

	if !e.acquire(owner) {
		logging.Debug("sync already in progress", map[string]interface{}{"owner": owner})
		return e.skip(owner, SkipAlreadySyncing), nil
	}

	if !e.probe.IsOnline(ctx) {
		e.release(owner, nil, false)
		logging.Debug("offline, skipping sync", map[string]interface{}{"owner": owner})
		return e.skip(owner, SkipOffline), nil
	}

	result := &SyncResult{Owner: owner, StartTime: e.clock.Now()}
	err := e.pass(ctx, result)

	result.EndTime = e.clock.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	if err != nil {
		result.Error = err.Error()
	}
	e.release(owner, result, err != nil)
	e.metrics.PassFinished(result)

	return result, err
}

func (e *Engine) skip(owner string, reason SkipReason) *SyncResult {
	result := &SyncResult{Owner: owner, Skipped: reason}
	e.metrics.PassFinished(result)
	return result
}

func (e *Engine) pass(ctx context.Context, result *SyncResult) error {
	owner := result.Owner

	exhausted, err := e.log.DropExhausted(ctx, owner)
	if err != nil {
		return e.abort(owner, err)
	}

	pending, err := e.log.ListPending(ctx, owner)
	if err != nil {
		return e.abort(owner, err)
	}
	result.Total = len(pending)

	logging.Info("sync pass started", map[string]interface{}{
		"owner": owner,
		"total": result.Total,
	})
	e.publisher.Publish(notify.SyncStarted{Owner: owner, Total: result.Total})
	for _, f := range exhausted {
		e.dropped(result, f)
	}

	for i, op := range pending {
		if err := ctx.Err(); err != nil {
			return e.abort(owner, err)
		}

		dispatchErr := e.dispatcher.Dispatch(ctx, op)
		if dispatchErr != nil && ctx.Err() != nil {
			// Cancelled mid-call: the attempt does not count against the entry.
			return e.abort(owner, ctx.Err())
		}

		// The collaborator call has returned; its outcome is recorded even if ctx was cancelled meanwhile.
		if err := e.record(context.WithoutCancel(ctx), op, dispatchErr, result); err != nil {
			return e.abort(owner, err)
		}

		e.publisher.Publish(notify.SyncProgress{
			Owner:       owner,
			Completed:   i + 1,
			Total:       result.Total,
			CurrentKind: op.Kind,
		})
	}

	logging.Info("sync pass completed", map[string]interface{}{
		"owner":     owner,
		"succeeded": result.Succeeded,
		"retried":   result.Retried,
		"dropped":   result.Dropped,
	})
	e.publisher.Publish(notify.SyncCompleted{
		Owner:              owner,
		Succeeded:          result.Succeeded,
		Retried:            result.Retried,
		DroppedPermanently: result.Dropped,
	})
	return nil
}

// record stores the outcome of one dispatch. Only local storage failures are returned.
func (e *Engine) record(ctx context.Context, op *models.PendingOperation, dispatchErr error, result *SyncResult) error {
	if dispatchErr == nil {
		if err := e.log.MarkSucceeded(ctx, op.ID); err != nil && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		result.Succeeded++
		e.metrics.OperationFinished(op.Kind, OutcomeSucceeded)
		return nil
	}

	if errors.IsPermanent(dispatchErr) {
		failure, err := e.log.Drop(ctx, op.ID, dispatchErr)
		if errors.Is(err, errors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		e.dropped(result, failure)
		return nil
	}

	res, err := e.log.MarkFailed(ctx, op.ID, dispatchErr)
	if errors.Is(err, errors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if res.Dropped {
		e.dropped(result, res.Failure)
		return nil
	}

	logging.Warn("operation failed, will retry", map[string]interface{}{
		"owner":       op.Owner,
		"id":          op.ID,
		"kind":        op.Kind,
		"retry_count": res.Operation.RetryCount,
		"error":       dispatchErr.Error(),
	})
	result.Retried++
	e.metrics.OperationFinished(op.Kind, OutcomeRetried)
	return nil
}

func (e *Engine) dropped(result *SyncResult, f *models.FailedOperation) {
	result.Dropped++
	e.metrics.OperationFinished(f.Kind, OutcomeDropped)

	logging.ErrorWithCode("operation dropped permanently", string(errors.ErrRetryExhausted), nil, map[string]interface{}{
		"owner":           f.Owner,
		"id":              f.ID,
		"kind":            f.Kind,
		"retry_count":     f.RetryCount,
		"retry_exhausted": f.RetryExhausted,
		"reason":          f.Reason,
	})
	e.publisher.Publish(notify.OperationDropped{
		Owner:       f.Owner,
		OperationID: f.ID,
		Kind:        f.Kind,
		RetryCount:  f.RetryCount,
		Reason:      f.Reason,
	})
}

func (e *Engine) abort(owner string, err error) error {
	switch {
	case errors.IsStorage(err):
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		err = errors.Wrap(errors.ErrSyncAborted, "sync pass cancelled", err)
	default:
		err = errors.Storage("sync pass aborted", err)
	}

	logging.ErrorWithCode("sync pass aborted", string(errors.CodeOf(err)), err, map[string]interface{}{
		"owner": owner,
	})
	e.publisher.Publish(notify.SyncAborted{Owner: owner, Reason: err.Error()})
	return err
}

var _ SyncEngineInterface = (*Engine)(nil)
