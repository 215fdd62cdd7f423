// Package cache provides the bounded, time-expiring snapshot cache served while offline.
package cache

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/kimhsiao/journalsync/internal/clock"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
)

const (
	// DefaultMaxEntries is the per-kind entry cap.
	DefaultMaxEntries = 100

	// DefaultRetention is how long a snapshot stays readable.
	DefaultRetention = 7 * 24 * time.Hour
)

// Options configures a Store.
type Options struct {
	MaxEntries int
	Retention  time.Duration
	Clock      clock.Clock
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	return o
}

// MaintenanceResult reports the rows removed by one maintenance pass.
type MaintenanceResult struct {
	Expired int64 `json:"expired"`
	Evicted int64 `json:"evicted"`
}

// Store is the SQLite-backed snapshot cache. Each kind lives in its own table
// and holds at most MaxEntries rows, none older than Retention.
type Store struct {
	db   *sql.DB
	opts Options
	mu   sync.Mutex
}

// NewStore creates a Store over an already migrated database.
func NewStore(db *sql.DB, opts Options) *Store {
	return &Store{db: db, opts: opts.withDefaults()}
}

// MaxEntries returns the configured per-kind cap.
func (s *Store) MaxEntries() int {
	return s.opts.MaxEntries
}

// Retention returns the configured retention window.
func (s *Store) Retention() time.Duration {
	return s.opts.Retention
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func checkKind(kind models.CacheKind) error {
	if !kind.Valid() {
		return errors.Newf(errors.ErrInvalid, "unknown cache kind %q", kind)
	}
	return nil
}

func (s *Store) cutoff() int64 {
	return s.opts.Clock.Now().Add(-s.opts.Retention).UnixNano()
}

// Upsert inserts or replaces a snapshot by id, then runs maintenance on its kind.
// A zero CachedAt is stamped with the current time; in is not modified.
func (s *Store) Upsert(ctx context.Context, in *models.CachedSnapshot) error {
	snap := *in
	if err := checkKind(snap.Kind); err != nil {
		return err
	}
	if strings.TrimSpace(snap.ID) == "" {
		return errors.New(errors.ErrInvalid, "snapshot id is required")
	}
	if len(snap.Payload) == 0 {
		return errors.New(errors.ErrInvalid, "snapshot payload is required")
	}
	if snap.CachedAt == 0 {
		snap.CachedAt = s.opts.Clock.Now().UnixNano()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO ` + snap.Kind.Table() + ` (id, scope_id, payload_json, cached_at)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET
			      scope_id = excluded.scope_id,
			      payload_json = excluded.payload_json,
			      cached_at = excluded.cached_at`
	if _, err := tx.ExecContext(ctx, query, snap.ID, snap.Scope, string(snap.Payload), snap.CachedAt); err != nil {
		return errors.Storage("failed to upsert snapshot", err)
	}

	res, err := s.maintain(ctx, tx, snap.Kind)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Storage("failed to commit snapshot", err)
	}

	if res.Expired > 0 || res.Evicted > 0 {
		logging.Debug("cache trimmed on upsert", map[string]interface{}{
			"kind":    snap.Kind,
			"expired": res.Expired,
			"evicted": res.Evicted,
		})
	}
	return nil
}

// maintain deletes expired rows, then the oldest rows beyond the cap.
func (s *Store) maintain(ctx context.Context, ex execer, kind models.CacheKind) (MaintenanceResult, error) {
	var result MaintenanceResult
	table := kind.Table()

	res, err := ex.ExecContext(ctx, `DELETE FROM `+table+` WHERE cached_at < ?`, s.cutoff())
	if err != nil {
		return result, errors.Storage("failed to expire snapshots", err)
	}
	result.Expired, _ = res.RowsAffected()

	res, err = ex.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE id IN (
			SELECT id FROM `+table+` ORDER BY cached_at DESC, id DESC LIMIT -1 OFFSET ?
		)`, s.opts.MaxEntries)
	if err != nil {
		return result, errors.Storage("failed to evict snapshots", err)
	}
	result.Evicted, _ = res.RowsAffected()

	return result, nil
}

// Maintenance applies the retention window and the entry cap to kind in one transaction.
func (s *Store) Maintenance(ctx context.Context, kind models.CacheKind) (MaintenanceResult, error) {
	if err := checkKind(kind); err != nil {
		return MaintenanceResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MaintenanceResult{}, errors.Storage("failed to begin transaction", err)
	}
	defer tx.Rollback()

	result, err := s.maintain(ctx, tx, kind)
	if err != nil {
		return MaintenanceResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return MaintenanceResult{}, errors.Storage("failed to commit maintenance", err)
	}
	return result, nil
}

// MaintenanceAll runs Maintenance for every kind.
func (s *Store) MaintenanceAll(ctx context.Context) (map[models.CacheKind]MaintenanceResult, error) {
	results := make(map[models.CacheKind]MaintenanceResult)
	for _, kind := range models.AllCacheKinds() {
		res, err := s.Maintenance(ctx, kind)
		if err != nil {
			return results, err
		}
		results[kind] = res
	}
	return results, nil
}

// List returns unexpired snapshots of kind, newest first. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, kind models.CacheKind, limit int) ([]*models.CachedSnapshot, error) {
	return s.list(ctx, kind, nil, limit)
}

// ListScope is List restricted to one scope (a user or connection id).
func (s *Store) ListScope(ctx context.Context, kind models.CacheKind, scope string, limit int) ([]*models.CachedSnapshot, error) {
	return s.list(ctx, kind, &scope, limit)
}

func (s *Store) list(ctx context.Context, kind models.CacheKind, scope *string, limit int) ([]*models.CachedSnapshot, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	query := `SELECT id, scope_id, payload_json, cached_at FROM ` + kind.Table() + ` WHERE cached_at >= ?`
	args := []interface{}{s.cutoff()}
	if scope != nil {
		query += ` AND scope_id = ?`
		args = append(args, *scope)
	}
	query += ` ORDER BY cached_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Storage("failed to list snapshots", err)
	}
	defer rows.Close()

	var snaps []*models.CachedSnapshot
	for rows.Next() {
		snap := &models.CachedSnapshot{Kind: kind}
		var payload string
		if err := rows.Scan(&snap.ID, &snap.Scope, &payload, &snap.CachedAt); err != nil {
			return nil, errors.Storage("failed to scan snapshot", err)
		}
		snap.Payload = []byte(payload)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Storage("failed to list snapshots", err)
	}
	return snaps, nil
}

// Get returns one unexpired snapshot.
func (s *Store) Get(ctx context.Context, kind models.CacheKind, id string) (*models.CachedSnapshot, error) {
	if err := checkKind(kind); err != nil {
		return nil, err
	}

	snap := &models.CachedSnapshot{Kind: kind}
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scope_id, payload_json, cached_at FROM `+kind.Table()+` WHERE id = ? AND cached_at >= ?`,
		id, s.cutoff()).Scan(&snap.ID, &snap.Scope, &payload, &snap.CachedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.Newf(errors.ErrNotFound, "%s snapshot %s not found", kind, id)
	}
	if err != nil {
		return nil, errors.Storage("failed to get snapshot", err)
	}
	snap.Payload = []byte(payload)
	return snap, nil
}

// Invalidate removes a snapshot. Missing ids are not an error.
func (s *Store) Invalidate(ctx context.Context, kind models.CacheKind, id string) error {
	if err := checkKind(kind); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+kind.Table()+` WHERE id = ?`, id); err != nil {
		return errors.Storage("failed to invalidate snapshot", err)
	}
	return nil
}

// Count returns the number of rows stored for kind, expired or not.
func (s *Store) Count(ctx context.Context, kind models.CacheKind) (int, error) {
	if err := checkKind(kind); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+kind.Table()).Scan(&count); err != nil {
		return 0, errors.Storage("failed to count snapshots", err)
	}
	return count, nil
}
