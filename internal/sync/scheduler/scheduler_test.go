// Package scheduler tests for background sync scheduling functionality.
package scheduler

import (
	"context"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kimhsiao/journalsync/internal/cache"
	"github.com/kimhsiao/journalsync/internal/connectivity"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/models"
	syncpkg "github.com/kimhsiao/journalsync/internal/sync"
	"github.com/kimhsiao/journalsync/internal/sync/dispatch"
	"github.com/kimhsiao/journalsync/internal/sync/notify"
	"github.com/kimhsiao/journalsync/internal/sync/queue"
)

// =====================================================
// Test Helpers
// =====================================================

type fixture struct {
	log        *queue.MemoryLog
	probe      *connectivity.Static
	engine     *syncpkg.Engine
	dispatched atomic.Int64
	inFlight   atomic.Int64
	maxSeen    atomic.Int64
	delay      time.Duration
}

// createTestScheduler creates a scheduler over a real engine, an in-memory
// log and a settable probe.
func createTestScheduler(t *testing.T, config *SchedulerConfig) (*fixture, *Scheduler) {
	t.Helper()
	f := &fixture{
		log:   queue.NewMemoryLog(queue.Options{}),
		probe: connectivity.NewStatic(true),
	}
	f.engine = syncpkg.NewEngine(syncpkg.Config{
		Log: f.log,
		Dispatcher: dispatch.Func(func(ctx context.Context, op *models.PendingOperation) error {
			n := f.inFlight.Add(1)
			defer f.inFlight.Add(-1)
			for {
				seen := f.maxSeen.Load()
				if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
					break
				}
			}
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
			f.dispatched.Add(1)
			return nil
		}),
		Probe: f.probe,
	})
	monitor := connectivity.NewMonitor(f.probe, notify.Discard{})
	return f, NewScheduler(f.engine, f.log, monitor, nil, config)
}

func (f *fixture) enqueue(t *testing.T, owner string) {
	t.Helper()
	_, err := queue.EnqueuePayload(context.Background(), f.log, owner, models.CreateMoodEntry{UserID: owner, Mood: "calm"})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

type countingMaintainer struct {
	calls atomic.Int64
}

func (m *countingMaintainer) MaintenanceAll(context.Context) (map[models.CacheKind]cache.MaintenanceResult, error) {
	m.calls.Add(1)
	return map[models.CacheKind]cache.MaintenanceResult{models.CachePost: {Evicted: 1}}, nil
}

// =====================================================
// Configuration Tests
// =====================================================

// TestDefaultSchedulerConfig verifies default configuration.
func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	if config.SyncInterval != 15*time.Minute {
		t.Errorf("SyncInterval = %v, want 15m", config.SyncInterval)
	}
	if config.ProbeInterval != 1*time.Minute {
		t.Errorf("ProbeInterval = %v, want 1m", config.ProbeInterval)
	}
	if config.MaintenanceInterval != 1*time.Hour {
		t.Errorf("MaintenanceInterval = %v, want 1h", config.MaintenanceInterval)
	}
	if config.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", config.Concurrency)
	}
}

// TestNewScheduler_nilConfig verifies default config is used.
func TestNewScheduler_nilConfig(t *testing.T) {
	_, scheduler := createTestScheduler(t, nil)

	if scheduler.syncInterval != 15*time.Minute {
		t.Errorf("syncInterval = %v, want 15m (default)", scheduler.syncInterval)
	}
	if !scheduler.isOnline {
		t.Error("isOnline should be true by default")
	}
	if scheduler.IsRunning() {
		t.Error("scheduler must not run before Start")
	}
}

// TestNewScheduler_partialConfig verifies zero fields fall back to defaults.
func TestNewScheduler_partialConfig(t *testing.T) {
	_, scheduler := createTestScheduler(t, &SchedulerConfig{SyncInterval: time.Second})

	if scheduler.syncInterval != time.Second {
		t.Errorf("syncInterval = %v, want 1s", scheduler.syncInterval)
	}
	if scheduler.concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", scheduler.concurrency)
	}
}

// =====================================================
// Start/Stop Tests
// =====================================================

// TestScheduler_StartStop verifies Start and Stop are idempotent.
func TestScheduler_StartStop(t *testing.T) {
	_, scheduler := createTestScheduler(t, &SchedulerConfig{SyncInterval: 20 * time.Millisecond})

	scheduler.Stop() // without Start

	ctx := context.Background()
	scheduler.Start(ctx)
	scheduler.Start(ctx)
	if !scheduler.IsRunning() {
		t.Error("Start() should set isRunning to true")
	}

	scheduler.Stop()
	scheduler.Stop()
	if scheduler.IsRunning() {
		t.Error("Stop() should set isRunning to false")
	}

	// Restart after stop.
	scheduler.Start(ctx)
	if !scheduler.IsRunning() {
		t.Error("scheduler should restart after Stop")
	}
	scheduler.Stop()
}

// TestScheduler_PeriodicSync verifies pending owners are synced on each tick.
func TestScheduler_PeriodicSync(t *testing.T) {
	f, scheduler := createTestScheduler(t, &SchedulerConfig{
		SyncInterval:  20 * time.Millisecond,
		ProbeInterval: time.Hour,
	})
	f.enqueue(t, "u1")
	f.enqueue(t, "u2")

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	waitFor(t, 2*time.Second, func() bool {
		owners, _ := f.log.Owners(context.Background())
		return len(owners) == 0
	})
	if got := f.dispatched.Load(); got != 2 {
		t.Errorf("dispatched = %d, want 2", got)
	}
}

// TestScheduler_ConnectivityRestoredTriggersSync verifies the offline to online transition syncs everyone.
func TestScheduler_ConnectivityRestoredTriggersSync(t *testing.T) {
	f, scheduler := createTestScheduler(t, &SchedulerConfig{
		SyncInterval:  time.Hour,
		ProbeInterval: 10 * time.Millisecond,
	})
	f.probe.Set(false)
	f.enqueue(t, "u1")

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	waitFor(t, time.Second, func() bool { return !scheduler.IsOnline() })
	if got := f.dispatched.Load(); got != 0 {
		t.Fatalf("dispatched while offline: %d", got)
	}

	f.probe.Set(true)
	waitFor(t, 2*time.Second, func() bool { return f.dispatched.Load() == 1 })
	if !scheduler.IsOnline() {
		t.Error("scheduler should report online")
	}
}

// TestScheduler_MaintenanceLoop verifies cache maintenance runs on its own ticker.
func TestScheduler_MaintenanceLoop(t *testing.T) {
	f, _ := createTestScheduler(t, nil)
	maintainer := &countingMaintainer{}
	scheduler := NewScheduler(f.engine, f.log, nil, maintainer, &SchedulerConfig{
		SyncInterval:        time.Hour,
		MaintenanceInterval: 10 * time.Millisecond,
	})

	scheduler.Start(context.Background())
	waitFor(t, time.Second, func() bool { return maintainer.calls.Load() >= 2 })
	scheduler.Stop()
}

// =====================================================
// Manual Sync Tests
// =====================================================

// TestScheduler_SyncAllBoundedConcurrency verifies owners run in parallel up to the limit.
func TestScheduler_SyncAllBoundedConcurrency(t *testing.T) {
	f, scheduler := createTestScheduler(t, &SchedulerConfig{Concurrency: 2})
	f.delay = 20 * time.Millisecond
	for _, owner := range []string{"a", "b", "c", "d", "e"} {
		f.enqueue(t, owner)
	}

	results, err := scheduler.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() failed: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("results = %d, want 5", len(results))
	}
	if got := f.maxSeen.Load(); got > 2 {
		t.Errorf("max concurrent dispatches = %d, want <= 2", got)
	}

	status, err := scheduler.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("GetStatus() failed: %v", err)
	}
	if len(status.PendingOwners) != 0 {
		t.Errorf("PendingOwners = %v, want none", status.PendingOwners)
	}
	if status.LastSyncTime == nil {
		t.Error("LastSyncTime should be set after SyncAll")
	}
}

// TestScheduler_SyncNow verifies a blocking manual pass.
func TestScheduler_SyncNow(t *testing.T) {
	f, scheduler := createTestScheduler(t, nil)
	f.enqueue(t, "u1")

	result, err := scheduler.SyncNow(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncNow() failed: %v", err)
	}
	if result.Succeeded != 1 {
		t.Errorf("Succeeded = %d, want 1", result.Succeeded)
	}

	f.probe.Set(false)
	result, err = scheduler.SyncNow(context.Background(), "u1")
	if err != nil {
		t.Fatalf("SyncNow() offline failed: %v", err)
	}
	if result.Skipped != syncpkg.SkipOffline {
		t.Errorf("Skipped = %q, want offline", result.Skipped)
	}
}

// TestScheduler_TriggerSync verifies a second trigger during a pass is refused.
func TestScheduler_TriggerSync(t *testing.T) {
	f, _ := createTestScheduler(t, nil)
	scheduler := NewScheduler(f.engine, f.log, nil, nil, nil)
	f.delay = 100 * time.Millisecond
	f.enqueue(t, "u1")

	if err := scheduler.TriggerSync("u1"); !errors.Is(err, errors.ErrSchedulerStopped) {
		t.Fatalf("TriggerSync() before Start = %v, want SCHEDULER_NOT_RUNNING", err)
	}

	scheduler.Start(context.Background())
	defer scheduler.Stop()

	if err := scheduler.TriggerSync("u1"); err != nil {
		t.Fatalf("first TriggerSync() should start a pass: %v", err)
	}
	waitFor(t, time.Second, func() bool { return f.engine.Syncing("u1") })
	if err := scheduler.TriggerSync("u1"); !errors.Is(err, errors.ErrSyncInProgress) {
		t.Errorf("TriggerSync() while syncing = %v, want SYNC_IN_PROGRESS", err)
	}

	waitFor(t, 2*time.Second, func() bool { return !f.engine.Syncing("u1") })
	if got := f.dispatched.Load(); got != 1 {
		t.Errorf("dispatched = %d, want 1", got)
	}
}

// TestScheduler_StopWaitsForTriggeredSync verifies Stop returns only after a
// triggered pass has finished and that the pass is cancelled with the scheduler.
func TestScheduler_StopWaitsForTriggeredSync(t *testing.T) {
	f, _ := createTestScheduler(t, nil)
	scheduler := NewScheduler(f.engine, f.log, nil, nil, nil)
	f.delay = 150 * time.Millisecond
	f.enqueue(t, "u1")
	f.enqueue(t, "u1")

	scheduler.Start(context.Background())
	if err := scheduler.TriggerSync("u1"); err != nil {
		t.Fatalf("TriggerSync() failed: %v", err)
	}
	waitFor(t, time.Second, func() bool { return f.engine.Syncing("u1") })

	scheduler.Stop()

	if f.engine.Syncing("u1") {
		t.Fatal("Stop() returned while a triggered pass was still running")
	}
	if got := f.dispatched.Load(); got != 1 {
		t.Errorf("dispatched = %d, want 1 (pass should stop at the next entry)", got)
	}
	if n, _ := f.log.Count(context.Background(), "u1"); n != 1 {
		t.Errorf("pending = %d, want 1", n)
	}
	if err := scheduler.TriggerSync("u1"); !errors.Is(err, errors.ErrSchedulerStopped) {
		t.Errorf("TriggerSync() after Stop = %v, want SCHEDULER_NOT_RUNNING", err)
	}
}

// TestScheduler_SetOnlineStatus verifies concurrent status updates are safe.
func TestScheduler_SetOnlineStatus(t *testing.T) {
	_, scheduler := createTestScheduler(t, nil)

	var wg gosync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scheduler.SetOnlineStatus(i%2 == 0)
			_ = scheduler.IsOnline()
		}(i)
	}
	wg.Wait()

	scheduler.SetOnlineStatus(false)
	if scheduler.IsOnline() {
		t.Error("IsOnline() should be false")
	}
}
