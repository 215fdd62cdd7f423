// Package scheduler runs sync passes, connectivity checks and cache
// maintenance in the background. Nothing runs until Start is called.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/journalsync/internal/cache"
	"github.com/kimhsiao/journalsync/internal/connectivity"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
	syncpkg "github.com/kimhsiao/journalsync/internal/sync"
	"github.com/kimhsiao/journalsync/internal/sync/queue"
)

// CacheMaintainer trims the snapshot cache.
type CacheMaintainer interface {
	MaintenanceAll(ctx context.Context) (map[models.CacheKind]cache.MaintenanceResult, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine  syncpkg.SyncEngineInterface
	log     queue.OperationLog
	monitor *connectivity.Monitor
	cache   CacheMaintainer

	syncInterval        time.Duration
	probeInterval       time.Duration
	maintenanceInterval time.Duration
	concurrency         int

	stopCh chan struct{}
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu                sync.RWMutex
	isRunning         bool
	isOnline          bool
	lastSyncTime      time.Time
	syncAllInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SyncInterval        time.Duration // How often to sync every owner with pending work (default: 15 minutes)
	ProbeInterval       time.Duration // How often to check connectivity (default: 1 minute)
	MaintenanceInterval time.Duration // How often to trim the cache (default: 1 hour)
	Concurrency         int           // Owners synced in parallel (default: 4)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SyncInterval:        15 * time.Minute,
		ProbeInterval:       1 * time.Minute,
		MaintenanceInterval: 1 * time.Hour,
		Concurrency:         4,
	}
}

// NewScheduler creates a new Scheduler. monitor and maintainer may be nil,
// which disables the corresponding loop.
func NewScheduler(engine syncpkg.SyncEngineInterface, log queue.OperationLog, monitor *connectivity.Monitor, maintainer CacheMaintainer, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = defaults.MaintenanceInterval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}

	return &Scheduler{
		engine:              engine,
		log:                 log,
		monitor:             monitor,
		cache:               maintainer,
		syncInterval:        config.SyncInterval,
		probeInterval:       config.ProbeInterval,
		maintenanceInterval: config.MaintenanceInterval,
		concurrency:         config.Concurrency,
		isOnline:            true, // Assume online until the first probe
	}
}

// Start starts the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)
	s.runCtx = ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.periodicSyncLoop(ctx)

	if s.monitor != nil {
		s.wg.Add(1)
		go s.connectivityLoop(ctx)
	}
	if s.cache != nil {
		s.wg.Add(1)
		go s.maintenanceLoop(ctx)
	}

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"sync_interval":  s.syncInterval.String(),
		"probe_interval": s.probeInterval.String(),
		"concurrency":    s.concurrency,
	})
}

// Stop stops the background loops and waits for in-flight passes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// SetOnlineStatus records the last known connectivity.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wasOnline := s.isOnline
	s.isOnline = isOnline

	if wasOnline != isOnline {
		logging.Info("Online status changed",
			map[string]interface{}{
				"was_online": wasOnline,
				"is_online":  isOnline,
			})
	}
}

// spawn runs fn in a goroutine tracked by Stop.
func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// periodicSyncLoop syncs every owner with pending work on each tick.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.IsOnline() {
				continue
			}
			s.spawn(func() { s.runSyncAll(ctx, "periodic") })
		}
	}
}

// connectivityLoop probes on each tick and syncs everyone when the service
// becomes reachable.
func (s *Scheduler) connectivityLoop(ctx context.Context) {
	defer s.wg.Done()

	s.checkConnectivity(ctx)

	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkConnectivity(ctx)
		}
	}
}

func (s *Scheduler) checkConnectivity(ctx context.Context) {
	online, changed := s.monitor.Check(ctx)
	s.SetOnlineStatus(online)
	if online && changed {
		s.spawn(func() { s.runSyncAll(ctx, "connectivity_restored") })
	}
}

// maintenanceLoop trims the snapshot cache on each tick.
func (s *Scheduler) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	results, err := s.cache.MaintenanceAll(ctx)
	if err != nil {
		logging.ErrorWithCode("Cache maintenance failed", string(errors.CodeOf(err)), err, nil)
		return
	}

	var expired, evicted int64
	for _, r := range results {
		expired += r.Expired
		evicted += r.Evicted
	}
	if expired > 0 || evicted > 0 {
		logging.Info("Cache maintenance completed", map[string]interface{}{
			"expired": expired,
			"evicted": evicted,
		})
	}
}

// runSyncAll is SyncAll for the background loops; overlapping rounds are skipped.
func (s *Scheduler) runSyncAll(ctx context.Context, trigger string) {
	s.mu.Lock()
	if s.syncAllInProgress {
		s.mu.Unlock()
		logging.Debug("Sync round already in progress, skipping", map[string]interface{}{"trigger": trigger})
		return
	}
	s.syncAllInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncAllInProgress = false
		s.mu.Unlock()
	}()

	results, err := s.SyncAll(ctx)
	if err != nil {
		logging.ErrorWithCode("Background sync failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"trigger": trigger})
		return
	}
	logging.Debug("Background sync round completed", map[string]interface{}{
		"trigger": trigger,
		"owners":  len(results),
	})
}

// SyncAll runs one pass for every owner with pending work, at most
// Concurrency owners at a time. It returns the results of every pass that ran
// and the first pass error.
func (s *Scheduler) SyncAll(ctx context.Context) ([]*syncpkg.SyncResult, error) {
	owners, err := s.log.Owners(ctx)
	if err != nil {
		return nil, err
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		results []*syncpkg.SyncResult
	)
	g.SetLimit(s.concurrency)

	for _, owner := range owners {
		g.Go(func() error {
			result, err := s.engine.Sync(ctx, owner)
			if result != nil {
				mu.Lock()
				results = append(results, result)
				mu.Unlock()
			}
			return err
		})
	}
	err = g.Wait()

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.mu.Unlock()

	return results, err
}

// TriggerSync starts a pass for owner in the background. The pass runs on
// the scheduler's own context and Stop waits for it. It fails with
// SCHEDULER_NOT_RUNNING before Start or after Stop, and with
// SYNC_IN_PROGRESS while owner is already syncing.
func (s *Scheduler) TriggerSync(owner string) error {
	if s.engine.Syncing(owner) {
		return errors.Newf(errors.ErrSyncInProgress, "owner %s is already syncing", owner)
	}

	// Held across spawn so Stop cannot reach wg.Wait between the check and wg.Add.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return errors.New(errors.ErrSchedulerStopped, "scheduler is not running")
	}

	ctx := s.runCtx
	s.spawn(func() {
		if _, err := s.SyncNow(ctx, owner); err != nil {
			logging.ErrorWithCode("Triggered sync failed", string(errors.CodeOf(err)), err,
				map[string]interface{}{"owner": owner})
		}
	})
	return nil
}

// SyncNow runs a pass for owner and waits for it.
func (s *Scheduler) SyncNow(ctx context.Context, owner string) (*syncpkg.SyncResult, error) {
	result, err := s.engine.Sync(ctx, owner)
	if err != nil {
		return result, err
	}

	if result.Skipped == "" {
		s.mu.Lock()
		s.lastSyncTime = time.Now()
		s.mu.Unlock()

		logging.Info("Manual sync completed",
			map[string]interface{}{
				"owner":     owner,
				"succeeded": result.Succeeded,
				"retried":   result.Retried,
				"dropped":   result.Dropped,
			})
	}

	return result, nil
}

// SchedulerStatus is a snapshot of scheduler state.
type SchedulerStatus struct {
	IsRunning         bool       `json:"is_running"`
	IsOnline          bool       `json:"is_online"`
	LastSyncTime      *time.Time `json:"last_sync_time,omitempty"`
	SyncAllInProgress bool       `json:"sync_all_in_progress"`
	PendingOwners     []string   `json:"pending_owners"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus(ctx context.Context) (SchedulerStatus, error) {
	owners, err := s.log.Owners(ctx)
	if err != nil {
		return SchedulerStatus{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		IsRunning:         s.isRunning,
		IsOnline:          s.isOnline,
		SyncAllInProgress: s.syncAllInProgress,
		PendingOwners:     owners,
	}
	if status.PendingOwners == nil {
		status.PendingOwners = []string{}
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	return status, nil
}

// IsOnline returns the last known connectivity.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
