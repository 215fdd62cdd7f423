package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/journalsync/internal/clock"
	"github.com/kimhsiao/journalsync/internal/models"
)

type staticProbe bool

func (p staticProbe) IsOnline(context.Context) bool { return bool(p) }

func moodKey(m models.MoodEntryView) string { return m.ID }

// TestPutListAs verifies typed round trips through the cache.
func TestPutListAs(t *testing.T) {
	clk := clock.NewFake(epoch, time.Millisecond)
	s, _ := newTestStore(t, Options{Clock: clk})
	ctx := context.Background()

	require.NoError(t, Put(ctx, s, models.CacheMoodEntry, "m1", "u1", models.MoodEntryView{ID: "m1", UserID: "u1", Mood: "calm"}))
	require.NoError(t, Put(ctx, s, models.CacheMoodEntry, "m2", "u2", models.MoodEntryView{ID: "m2", UserID: "u2", Mood: "tired"}))

	mine, err := ListAs[models.MoodEntryView](ctx, s, models.CacheMoodEntry, "u1", 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "calm", mine[0].Mood)

	all, err := ListAs[models.MoodEntryView](ctx, s, models.CacheMoodEntry, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// TestReadThroughOnline verifies live data is returned and cached.
func TestReadThroughOnline(t *testing.T) {
	clk := clock.NewFake(epoch, time.Millisecond)
	s, _ := newTestStore(t, Options{Clock: clk})
	ctx := context.Background()

	live := []models.MoodEntryView{{ID: "m1", UserID: "u1", Mood: "calm"}}
	items, fromCache, err := ReadThrough(ctx, s, staticProbe(true), models.CacheMoodEntry, "u1", 10, moodKey,
		func(context.Context) ([]models.MoodEntryView, error) { return live, nil })
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, live, items)

	count, err := s.Count(ctx, models.CacheMoodEntry)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// TestReadThroughOnlineHonorsLimit verifies live results are cut to limit
// while every fetched item is cached.
func TestReadThroughOnlineHonorsLimit(t *testing.T) {
	clk := clock.NewFake(epoch, time.Millisecond)
	s, _ := newTestStore(t, Options{Clock: clk})
	ctx := context.Background()

	live := []models.MoodEntryView{
		{ID: "m1", UserID: "u1", Mood: "calm"},
		{ID: "m2", UserID: "u1", Mood: "happy"},
		{ID: "m3", UserID: "u1", Mood: "tired"},
	}
	items, fromCache, err := ReadThrough(ctx, s, staticProbe(true), models.CacheMoodEntry, "u1", 2, moodKey,
		func(context.Context) ([]models.MoodEntryView, error) { return live, nil })
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, live[:2], items)

	count, err := s.Count(ctx, models.CacheMoodEntry)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	items, _, err = ReadThrough(ctx, s, staticProbe(true), models.CacheMoodEntry, "u1", 0, moodKey,
		func(context.Context) ([]models.MoodEntryView, error) { return live, nil })
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

// TestReadThroughFallsBack verifies the cache is served offline or on fetch failure.
func TestReadThroughFallsBack(t *testing.T) {
	clk := clock.NewFake(epoch, time.Millisecond)
	s, _ := newTestStore(t, Options{Clock: clk})
	ctx := context.Background()

	require.NoError(t, Put(ctx, s, models.CacheMoodEntry, "m1", "u1", models.MoodEntryView{ID: "m1", UserID: "u1", Mood: "calm"}))

	called := false
	items, fromCache, err := ReadThrough(ctx, s, staticProbe(false), models.CacheMoodEntry, "u1", 10, moodKey,
		func(context.Context) ([]models.MoodEntryView, error) {
			called = true
			return nil, nil
		})
	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, fromCache)
	require.Len(t, items, 1)

	items, fromCache, err = ReadThrough(ctx, s, staticProbe(true), models.CacheMoodEntry, "u1", 10, moodKey,
		func(context.Context) ([]models.MoodEntryView, error) { return nil, fmt.Errorf("502") })
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Len(t, items, 1)
}
