package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/kimhsiao/journalsync/internal/cache"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/models"
)

// Fetcher reads live read-models from the remote service.
type Fetcher interface {
	ListPosts(ctx context.Context, limit int) ([]models.PostView, error)
	ListJournalEntries(ctx context.Context, connectionID string, limit int) ([]models.JournalEntryView, error)
	ListMoodEntries(ctx context.Context, userID string, limit int) ([]models.MoodEntryView, error)
}

// CacheHandler serves cached snapshots and read-through views.
type CacheHandler struct {
	store   *cache.Store
	probe   cache.OnlineChecker
	fetcher Fetcher
}

// NewCacheHandler creates a new CacheHandler. Without a fetcher the
// read-through routes serve the cache only.
func NewCacheHandler(store *cache.Store, probe cache.OnlineChecker, fetcher Fetcher) *CacheHandler {
	return &CacheHandler{store: store, probe: probe, fetcher: fetcher}
}

// ListSnapshots handles GET /cache/{kind}?scope=&limit=
func (h *CacheHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	kind, err := models.ParseCacheKind(mux.Vars(r)["kind"])
	if err != nil {
		writeError(w, r, errors.Wrap(errors.ErrInvalid, "invalid cache kind", err))
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var snaps []*models.CachedSnapshot
	if scope := r.URL.Query().Get("scope"); scope != "" {
		snaps, err = h.store.ListScope(r.Context(), kind, scope, limit)
	} else {
		snaps, err = h.store.List(r.Context(), kind, limit)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []*models.CachedSnapshot{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":  kind,
		"items": snaps,
		"count": len(snaps),
	})
}

func (h *CacheHandler) online() cache.OnlineChecker {
	if h.fetcher == nil || h.probe == nil {
		return offline{}
	}
	return h.probe
}

type offline struct{}

func (offline) IsOnline(context.Context) bool { return false }

func writeView[T any](w http.ResponseWriter, kind models.CacheKind, items []T, fromCache bool) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":       kind,
		"items":      items,
		"count":      len(items),
		"from_cache": fromCache,
	})
}

// Feed handles GET /feed
func (h *CacheHandler) Feed(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, fromCache, err := cache.ReadThrough(r.Context(), h.store, h.online(), models.CachePost, "", limit,
		func(p models.PostView) string { return p.ID },
		func(ctx context.Context) ([]models.PostView, error) { return h.fetcher.ListPosts(ctx, limit) },
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, models.CachePost, items, fromCache)
}

// Journal handles GET /connections/{connection}/journal
func (h *CacheHandler) Journal(w http.ResponseWriter, r *http.Request) {
	connection := mux.Vars(r)["connection"]
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, fromCache, err := cache.ReadThrough(r.Context(), h.store, h.online(), models.CacheJournalEntry, connection, limit,
		func(e models.JournalEntryView) string { return e.ID },
		func(ctx context.Context) ([]models.JournalEntryView, error) {
			return h.fetcher.ListJournalEntries(ctx, connection, limit)
		},
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, models.CacheJournalEntry, items, fromCache)
}

// Moods handles GET /users/{user}/moods
func (h *CacheHandler) Moods(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, fromCache, err := cache.ReadThrough(r.Context(), h.store, h.online(), models.CacheMoodEntry, user, limit,
		func(e models.MoodEntryView) string { return e.ID },
		func(ctx context.Context) ([]models.MoodEntryView, error) {
			return h.fetcher.ListMoodEntries(ctx, user, limit)
		},
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeView(w, models.CacheMoodEntry, items, fromCache)
}
