package queue

import (
	"context"
	"database/sql"
	stderrors "errors"
	"sync"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/uuid"
)

const pendingColumns = `seq, id, owner_id, kind, payload_version, payload_json, created_at, retry_count, last_error`

const failedColumns = `id, owner_id, kind, payload_version, payload_json, created_at, failed_at, retry_count, reason, retry_exhausted`

// SQLiteLog is an OperationLog stored in the pending_operations and
// failed_operations tables.
type SQLiteLog struct {
	db   *sql.DB
	opts Options
	mu   sync.RWMutex
}

// NewSQLiteLog creates a log over an already migrated database.
func NewSQLiteLog(db *sql.DB, opts Options) *SQLiteLog {
	return &SQLiteLog{db: db, opts: opts.withDefaults()}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPending(row rowScanner) (*models.PendingOperation, error) {
	var op models.PendingOperation
	var kind, payload string
	if err := row.Scan(&op.Seq, &op.ID, &op.Owner, &kind, &op.PayloadVersion, &payload,
		&op.CreatedAt, &op.RetryCount, &op.LastError); err != nil {
		return nil, err
	}
	op.Kind = models.OperationKind(kind)
	op.Payload = []byte(payload)
	return &op, nil
}

func scanFailed(row rowScanner) (*models.FailedOperation, error) {
	var f models.FailedOperation
	var kind, payload string
	var exhausted int
	if err := row.Scan(&f.ID, &f.Owner, &kind, &f.PayloadVersion, &payload,
		&f.CreatedAt, &f.FailedAt, &f.RetryCount, &f.Reason, &exhausted); err != nil {
		return nil, err
	}
	f.Kind = models.OperationKind(kind)
	f.Payload = []byte(payload)
	f.RetryExhausted = exhausted != 0
	return &f, nil
}

// Enqueue inserts a pending operation.
func (l *SQLiteLog) Enqueue(ctx context.Context, owner string, kind models.OperationKind, version int, payload []byte) (string, error) {
	if err := validateEnqueue(owner, kind, version, payload); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := uuid.New()
	createdAt := l.opts.Clock.Now().UnixNano()

	query := `INSERT INTO pending_operations (id, owner_id, kind, payload_version, payload_json, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := l.db.ExecContext(ctx, query, id, owner, string(kind), version, string(payload), createdAt); err != nil {
		return "", errors.Storage("failed to enqueue operation", err)
	}

	logging.Debug("operation enqueued", map[string]interface{}{
		"id":    id,
		"owner": owner,
		"kind":  kind,
	})
	return id, nil
}

// ListPending returns owner's operations ordered by (created_at, seq).
func (l *SQLiteLog) ListPending(ctx context.Context, owner string) ([]*models.PendingOperation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_operations
		 WHERE owner_id = ? AND retry_count < ?
		 ORDER BY created_at ASC, seq ASC`, owner, l.opts.MaxRetryCount)
	if err != nil {
		return nil, errors.Storage("failed to list pending operations", err)
	}
	defer rows.Close()

	var pending []*models.PendingOperation
	for rows.Next() {
		op, err := scanPending(rows)
		if err != nil {
			return nil, errors.Storage("failed to scan pending operation", err)
		}
		pending = append(pending, op)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list pending operations", err)
	}
	return pending, nil
}

// Get returns a single pending operation.
func (l *SQLiteLog) Get(ctx context.Context, id string) (*models.PendingOperation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	row := l.db.QueryRowContext(ctx, `SELECT `+pendingColumns+` FROM pending_operations WHERE id = ?`, id)
	op, err := scanPending(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Storage("failed to get operation", err)
	}
	return op, nil
}

// MarkSucceeded deletes a replayed operation.
func (l *SQLiteLog) MarkSucceeded(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return errors.Storage("failed to remove operation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Storage("failed to remove operation", err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// MarkFailed increments retry_count in a transaction and moves the row to
// failed_operations once the cap is reached.
func (l *SQLiteLog) MarkFailed(ctx context.Context, id string, cause error) (*FailResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	op, err := scanPending(tx.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_operations WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Storage("failed to load operation", err)
	}

	op.RetryCount++
	op.LastError = reasonOf(cause)
	result := &FailResult{Operation: op}

	if op.RetryCount >= l.opts.MaxRetryCount {
		failure := models.NewFailedOperation(op, op.LastError, true, l.opts.Clock.Now())
		if err := moveToFailed(ctx, tx, failure); err != nil {
			return nil, err
		}
		result.Dropped = true
		result.Failure = failure
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_operations SET retry_count = ?, last_error = ? WHERE id = ?`,
			op.RetryCount, op.LastError, id); err != nil {
			return nil, errors.Storage("failed to record failure", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Storage("failed to commit failure", err)
	}

	if result.Dropped {
		logging.Warn("operation dropped after max retries", map[string]interface{}{
			"id":          id,
			"owner":       op.Owner,
			"kind":        op.Kind,
			"retry_count": op.RetryCount,
		})
	}
	return result, nil
}

// Drop moves an operation to failed_operations without touching its retry count.
func (l *SQLiteLog) Drop(ctx context.Context, id string, cause error) (*models.FailedOperation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	op, err := scanPending(tx.QueryRowContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_operations WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, errors.Storage("failed to load operation", err)
	}

	failure := models.NewFailedOperation(op, reasonOf(cause), false, l.opts.Clock.Now())
	if err := moveToFailed(ctx, tx, failure); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Storage("failed to commit drop", err)
	}
	return failure, nil
}

func moveToFailed(ctx context.Context, tx *sql.Tx, f *models.FailedOperation) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, f.ID); err != nil {
		return errors.Storage("failed to remove operation", err)
	}

	exhausted := 0
	if f.RetryExhausted {
		exhausted = 1
	}
	query := `INSERT OR REPLACE INTO failed_operations (` + failedColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, f.ID, f.Owner, string(f.Kind), f.PayloadVersion,
		string(f.Payload), f.CreatedAt, f.FailedAt, f.RetryCount, f.Reason, exhausted); err != nil {
		return errors.Storage("failed to record failed operation", err)
	}
	return nil
}

// DropExhausted moves owner's rows at or above the retry cap to failed_operations.
func (l *SQLiteLog) DropExhausted(ctx context.Context, owner string) ([]*models.FailedOperation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+pendingColumns+` FROM pending_operations
		 WHERE owner_id = ? AND retry_count >= ?
		 ORDER BY created_at ASC, seq ASC`, owner, l.opts.MaxRetryCount)
	if err != nil {
		return nil, errors.Storage("failed to list exhausted operations", err)
	}
	var exhausted []*models.PendingOperation
	for rows.Next() {
		op, err := scanPending(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Storage("failed to scan pending operation", err)
		}
		exhausted = append(exhausted, op)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list exhausted operations", err)
	}
	if len(exhausted) == 0 {
		return nil, nil
	}

	now := l.opts.Clock.Now()
	failures := make([]*models.FailedOperation, 0, len(exhausted))
	for _, op := range exhausted {
		f := models.NewFailedOperation(op, exhaustedReason(op, l.opts.MaxRetryCount), true, now)
		if err := moveToFailed(ctx, tx, f); err != nil {
			return nil, err
		}
		failures = append(failures, f)
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Storage("failed to commit drop", err)
	}

	logging.Warn("dropped operations over the retry limit", map[string]interface{}{
		"owner": owner,
		"count": len(failures),
		"limit": l.opts.MaxRetryCount,
	})
	return failures, nil
}

// Count returns the number of replayable operations for owner.
func (l *SQLiteLog) Count(ctx context.Context, owner string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var count int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE owner_id = ? AND retry_count < ?`,
		owner, l.opts.MaxRetryCount).Scan(&count)
	if err != nil {
		return 0, errors.Storage("failed to count pending operations", err)
	}
	return count, nil
}

// Owners returns owners with pending operations, sorted.
func (l *SQLiteLog) Owners(ctx context.Context) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT DISTINCT owner_id FROM pending_operations ORDER BY owner_id`)
	if err != nil {
		return nil, errors.Storage("failed to list owners", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, errors.Storage("failed to scan owner", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list owners", err)
	}
	return owners, nil
}

// ListFailed returns owner's dropped operations, newest first.
func (l *SQLiteLog) ListFailed(ctx context.Context, owner string) ([]*models.FailedOperation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+failedColumns+` FROM failed_operations
		 WHERE owner_id = ?
		 ORDER BY failed_at DESC, id ASC`, owner)
	if err != nil {
		return nil, errors.Storage("failed to list failed operations", err)
	}
	defer rows.Close()

	var failed []*models.FailedOperation
	for rows.Next() {
		f, err := scanFailed(rows)
		if err != nil {
			return nil, errors.Storage("failed to scan failed operation", err)
		}
		failed = append(failed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list failed operations", err)
	}
	return failed, nil
}

// DismissFailed deletes a failure record owned by owner.
func (l *SQLiteLog) DismissFailed(ctx context.Context, owner, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		`DELETE FROM failed_operations WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return errors.Storage("failed to dismiss failed operation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Storage("failed to dismiss failed operation", err)
	}
	if n == 0 {
		return errors.Newf(errors.ErrNotFound, "failed operation %s not found", id)
	}
	return nil
}

var _ OperationLog = (*SQLiteLog)(nil)
