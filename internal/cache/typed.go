package cache

import (
	"context"
	"encoding/json"

	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
)

// Put encodes v and upserts it under kind and id.
func Put[T any](ctx context.Context, s *Store, kind models.CacheKind, id, scope string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "failed to encode snapshot", err)
	}
	return s.Upsert(ctx, &models.CachedSnapshot{
		Kind:    kind,
		ID:      id,
		Scope:   scope,
		Payload: data,
	})
}

// ListAs lists snapshots of kind decoded as T. An empty scope lists every scope.
func ListAs[T any](ctx context.Context, s *Store, kind models.CacheKind, scope string, limit int) ([]T, error) {
	var (
		snaps []*models.CachedSnapshot
		err   error
	)
	if scope == "" {
		snaps, err = s.List(ctx, kind, limit)
	} else {
		snaps, err = s.ListScope(ctx, kind, scope, limit)
	}
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := snap.Decode(&v); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, "corrupt snapshot", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// OnlineChecker reports reachability of the remote service.
type OnlineChecker interface {
	IsOnline(ctx context.Context) bool
}

// ReadThrough fetches live data when online and refreshes the cache with it.
// When offline, or when fetch fails, it serves the cached snapshots instead.
// The boolean result is true when the data came from the cache. A positive
// limit bounds the result on both paths; every fetched item is still cached.
func ReadThrough[T any](
	ctx context.Context,
	s *Store,
	probe OnlineChecker,
	kind models.CacheKind,
	scope string,
	limit int,
	key func(T) string,
	fetch func(ctx context.Context) ([]T, error),
) ([]T, bool, error) {
	if probe.IsOnline(ctx) {
		items, err := fetch(ctx)
		if err == nil {
			for _, item := range items {
				if err := Put(ctx, s, kind, key(item), scope, item); err != nil {
					logging.Warn("failed to refresh cache", map[string]interface{}{
						"kind":  kind,
						"error": err.Error(),
					})
				}
			}
			if limit > 0 && len(items) > limit {
				items = items[:limit]
			}
			return items, false, nil
		}
		logging.Warn("live fetch failed, serving cache", map[string]interface{}{
			"kind":  kind,
			"error": err.Error(),
		})
	}

	cached, err := ListAs[T](ctx, s, kind, scope, limit)
	if err != nil {
		return nil, true, err
	}
	return cached, true, nil
}
