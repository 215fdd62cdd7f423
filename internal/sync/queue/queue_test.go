// Package queue provides contract tests shared by every OperationLog implementation.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/journalsync/internal/clock"
	"github.com/kimhsiao/journalsync/internal/db"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/models"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type logFactory func(t *testing.T, opts Options) OperationLog

func implementations() map[string]logFactory {
	return map[string]logFactory{
		"memory": func(t *testing.T, opts Options) OperationLog {
			return NewMemoryLog(opts)
		},
		"sqlite": func(t *testing.T, opts Options) OperationLog {
			database, err := db.OpenAndMigrate(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { database.Close() })
			return NewSQLiteLog(database.DB, opts)
		},
	}
}

// forEachLog runs fn against every implementation.
func forEachLog(t *testing.T, opts Options, fn func(t *testing.T, log OperationLog)) {
	for name, factory := range implementations() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t, opts))
		})
	}
}

func mood(t *testing.T, label string) []byte {
	t.Helper()
	data, err := json.Marshal(models.CreateMoodEntry{UserID: "u1", Mood: label})
	require.NoError(t, err)
	return data
}

// TestEnqueueValidation verifies invalid input is rejected before anything is written.
func TestEnqueueValidation(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		_, err := log.Enqueue(ctx, "", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		assert.True(t, errors.Is(err, errors.ErrInvalid))

		_, err = log.Enqueue(ctx, "u1", "delete-account", 1, mood(t, "calm"))
		assert.True(t, errors.Is(err, errors.ErrUnknownKind))

		_, err = log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 0, mood(t, "calm"))
		assert.True(t, errors.Is(err, errors.ErrInvalid))

		_, err = log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, []byte("{not json"))
		assert.True(t, errors.Is(err, errors.ErrInvalid))

		count, err := log.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

// TestEnqueueAndGet verifies a fresh entry starts with no retries.
func TestEnqueueAndGet(t *testing.T) {
	clk := clock.NewFake(epoch, 0)
	forEachLog(t, Options{Clock: clk}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		require.NoError(t, err)
		require.NotEmpty(t, id)

		op, err := log.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "u1", op.Owner)
		assert.Equal(t, models.KindCreateMoodEntry, op.Kind)
		assert.Equal(t, 1, op.PayloadVersion)
		assert.Equal(t, epoch.UnixNano(), op.CreatedAt)
		assert.Zero(t, op.RetryCount)
		assert.Empty(t, op.LastError)
		assert.JSONEq(t, string(mood(t, "calm")), string(op.Payload))

		_, err = log.Get(ctx, "missing")
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

// TestListPendingOrder verifies replay order is created_at ascending with
// insertion order breaking ties.
func TestListPendingOrder(t *testing.T) {
	clk := clock.NewFake(epoch, 0)
	forEachLog(t, Options{Clock: clk}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()
		clk.Set(epoch)

		// a and b share a timestamp; c is recorded later with an earlier clock.
		a, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "a"))
		require.NoError(t, err)
		b, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "b"))
		require.NoError(t, err)
		clk.Set(epoch.Add(-time.Second))
		c, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "c"))
		require.NoError(t, err)
		clk.Set(epoch.Add(time.Second))
		d, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "d"))
		require.NoError(t, err)
		_, err = log.Enqueue(ctx, "u2", models.KindCreateMoodEntry, 1, mood(t, "other"))
		require.NoError(t, err)

		pending, err := log.ListPending(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, pending, 4)

		var ids []string
		for _, op := range pending {
			ids = append(ids, op.ID)
		}
		assert.Equal(t, []string{c, a, b, d}, ids)
	})
}

// TestMarkSucceeded verifies a replayed entry is removed.
func TestMarkSucceeded(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		require.NoError(t, err)

		require.NoError(t, log.MarkSucceeded(ctx, id))

		count, err := log.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Zero(t, count)

		err = log.MarkSucceeded(ctx, id)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

// TestMarkFailedRetryCap verifies the entry survives until the third failure
// and is then dropped and recorded.
func TestMarkFailedRetryCap(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := log.Enqueue(ctx, "u1", models.KindCreatePost, 1, []byte(`{"author_id":"u1","content":"hi"}`))
		require.NoError(t, err)

		for attempt := 1; attempt < DefaultMaxRetryCount; attempt++ {
			res, err := log.MarkFailed(ctx, id, fmt.Errorf("503 attempt %d", attempt))
			require.NoError(t, err)
			assert.False(t, res.Dropped)
			assert.Nil(t, res.Failure)
			assert.Equal(t, attempt, res.Operation.RetryCount)

			op, err := log.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, attempt, op.RetryCount)
			assert.Equal(t, fmt.Sprintf("503 attempt %d", attempt), op.LastError)
		}

		res, err := log.MarkFailed(ctx, id, fmt.Errorf("503 final"))
		require.NoError(t, err)
		assert.True(t, res.Dropped)
		require.NotNil(t, res.Failure)
		assert.Equal(t, DefaultMaxRetryCount, res.Failure.RetryCount)
		assert.True(t, res.Failure.RetryExhausted)
		assert.Equal(t, "503 final", res.Failure.Reason)

		pending, err := log.ListPending(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, pending)

		failed, err := log.ListFailed(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, id, failed[0].ID)
		assert.Equal(t, models.KindCreatePost, failed[0].Kind)
		assert.True(t, failed[0].RetryExhausted)

		_, err = log.MarkFailed(ctx, id, fmt.Errorf("again"))
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

// TestMarkFailedCustomCap verifies MaxRetryCount is honored.
func TestMarkFailedCustomCap(t *testing.T) {
	forEachLog(t, Options{MaxRetryCount: 1}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		require.NoError(t, err)

		res, err := log.MarkFailed(ctx, id, nil)
		require.NoError(t, err)
		assert.True(t, res.Dropped)
		assert.Equal(t, "unknown error", res.Failure.Reason)
	})
}

// TestDrop verifies permanent rejections are recorded without exhausting retries.
func TestDrop(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		require.NoError(t, err)

		failure, err := log.Drop(ctx, id, fmt.Errorf("422 unprocessable"))
		require.NoError(t, err)
		assert.False(t, failure.RetryExhausted)
		assert.Zero(t, failure.RetryCount)
		assert.Equal(t, "422 unprocessable", failure.Reason)

		_, err = log.Get(ctx, id)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		_, err = log.Drop(ctx, id, nil)
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

// TestDismissFailed verifies only the owner can dismiss a failure record.
func TestDismissFailed(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		require.NoError(t, err)
		_, err = log.Drop(ctx, id, fmt.Errorf("rejected"))
		require.NoError(t, err)

		err = log.DismissFailed(ctx, "u2", id)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		require.NoError(t, log.DismissFailed(ctx, "u1", id))

		failed, err := log.ListFailed(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, failed)
	})
}

// TestCountAndOwners verifies per-owner accounting.
func TestCountAndOwners(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		for _, owner := range []string{"u2", "u1", "u2"} {
			_, err := log.Enqueue(ctx, owner, models.KindCreateMoodEntry, 1, mood(t, "calm"))
			require.NoError(t, err)
		}

		count, err := log.Count(ctx, "u2")
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		owners, err := log.Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2"}, owners)
	})
}

// TestConcurrentEnqueue verifies concurrent writers neither lose nor duplicate entries.
func TestConcurrentEnqueue(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		pending, err := log.ListPending(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, pending, 25)

		seqs := make(map[int64]bool)
		for _, op := range pending {
			assert.False(t, seqs[op.Seq], "duplicate seq %d", op.Seq)
			seqs[op.Seq] = true
		}
	})
}

// TestEnqueuePayload verifies typed payloads carry their own kind and version.
func TestEnqueuePayload(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := EnqueuePayload(ctx, log, "u1", models.CompleteTodoItem{TodoID: "t1", CompletedAt: 42})
		require.NoError(t, err)

		op, err := log.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.KindCompleteTodoItem, op.Kind)
		assert.JSONEq(t, `{"todo_id":"t1","completed_at":42}`, string(op.Payload))

		_, err = EnqueuePayload(ctx, log, "u1", models.CreateMoodEntry{UserID: "u1"})
		assert.True(t, errors.Is(err, errors.ErrInvalid))
	})
}

// TestEnqueueJSON verifies raw payloads are decoded against their kind.
func TestEnqueueJSON(t *testing.T) {
	forEachLog(t, Options{}, func(t *testing.T, log OperationLog) {
		ctx := context.Background()

		id, err := EnqueueJSON(ctx, log, "u1", models.KindCreatePost, []byte(`{"author_id":"u1","content":"hello"}`))
		require.NoError(t, err)
		op, err := log.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.KindCreatePost, op.Kind)
		assert.Equal(t, 1, op.PayloadVersion)

		_, err = EnqueueJSON(ctx, log, "u1", "delete-account", []byte(`{}`))
		assert.True(t, errors.Is(err, errors.ErrUnknownKind))

		_, err = EnqueueJSON(ctx, log, "u1", models.KindCreatePost, []byte(`{"author_id":"u1","content":"x","pinned":true}`))
		assert.True(t, errors.Is(err, errors.ErrInvalid))

		n, err := log.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

// TestSQLiteLogSurvivesRestart verifies entries are durable across reopen.
func TestSQLiteLogSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := db.OpenAndMigrate(dir)
	require.NoError(t, err)
	log := NewSQLiteLog(first.DB, Options{})
	id, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
	require.NoError(t, err)
	_, err = log.MarkFailed(ctx, id, fmt.Errorf("timeout"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := db.OpenAndMigrate(dir)
	require.NoError(t, err)
	defer second.Close()

	op, err := NewSQLiteLog(second.DB, Options{}).Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, op.RetryCount)
	assert.Equal(t, "timeout", op.LastError)
}

// TestSQLiteLogStorageError verifies a broken store surfaces LOCAL_STORAGE_ERROR.
func TestSQLiteLogStorageError(t *testing.T) {
	database, err := db.OpenMemory()
	require.NoError(t, err)
	log := NewSQLiteLog(database.DB, Options{})
	require.NoError(t, database.Close())

	_, err = log.Enqueue(context.Background(), "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
	assert.True(t, errors.IsStorage(err))

	_, err = log.ListPending(context.Background(), "u1")
	assert.True(t, errors.IsStorage(err))
}

// TestLoweredCapExcludesExhausted verifies entries that already reached a
// lowered cap are neither listed nor counted, and that DropExhausted records them.
func TestLoweredCapExcludesExhausted(t *testing.T) {
	ctx := context.Background()

	check := func(t *testing.T, log OperationLog, stale, fresh string) {
		pending, err := log.ListPending(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, fresh, pending[0].ID)

		count, err := log.Count(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		owners, err := log.Owners(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, owners)

		dropped, err := log.DropExhausted(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, dropped, 1)
		assert.Equal(t, stale, dropped[0].ID)
		assert.True(t, dropped[0].RetryExhausted)
		assert.Equal(t, 4, dropped[0].RetryCount)
		assert.Equal(t, "503 attempt 4", dropped[0].Reason)

		_, err = log.Get(ctx, stale)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		failed, err := log.ListFailed(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, stale, failed[0].ID)

		again, err := log.DropExhausted(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, again)
	}

	seed := func(t *testing.T, log OperationLog) (string, string) {
		stale, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "calm"))
		require.NoError(t, err)
		fresh, err := log.Enqueue(ctx, "u1", models.KindCreateMoodEntry, 1, mood(t, "tired"))
		require.NoError(t, err)
		for attempt := 1; attempt <= 4; attempt++ {
			_, err := log.MarkFailed(ctx, stale, fmt.Errorf("503 attempt %d", attempt))
			require.NoError(t, err)
		}
		return stale, fresh
	}

	t.Run("sqlite", func(t *testing.T) {
		dir := t.TempDir()
		first, err := db.OpenAndMigrate(dir)
		require.NoError(t, err)
		stale, fresh := seed(t, NewSQLiteLog(first.DB, Options{MaxRetryCount: 5}))
		require.NoError(t, first.Close())

		second, err := db.OpenAndMigrate(dir)
		require.NoError(t, err)
		defer second.Close()
		check(t, NewSQLiteLog(second.DB, Options{MaxRetryCount: 3}), stale, fresh)
	})

	t.Run("memory", func(t *testing.T) {
		log := NewMemoryLog(Options{MaxRetryCount: 5})
		stale, fresh := seed(t, log)
		log.opts.MaxRetryCount = 3
		check(t, log, stale, fresh)
	})
}
