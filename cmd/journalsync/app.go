package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/kimhsiao/journalsync/internal/cache"
	"github.com/kimhsiao/journalsync/internal/config"
	"github.com/kimhsiao/journalsync/internal/connectivity"
	"github.com/kimhsiao/journalsync/internal/db"
	"github.com/kimhsiao/journalsync/internal/errors"
	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/models"
	"github.com/kimhsiao/journalsync/internal/remote"
	syncpkg "github.com/kimhsiao/journalsync/internal/sync"
	"github.com/kimhsiao/journalsync/internal/sync/dispatch"
	"github.com/kimhsiao/journalsync/internal/sync/notify"
	"github.com/kimhsiao/journalsync/internal/sync/queue"
	"github.com/kimhsiao/journalsync/internal/sync/scheduler"
	"github.com/kimhsiao/journalsync/internal/telemetry"
)

// app holds every wired component of one journalsync process.
type app struct {
	cfg       *config.Config
	db        *db.DB
	log       queue.OperationLog
	cache     *cache.Store
	notifier  *notify.Notifier
	monitor   *connectivity.Monitor
	engine    *syncpkg.Engine
	scheduler *scheduler.Scheduler
	metrics   *telemetry.Metrics
	remote    *remote.Client

	// bg tracks gauge refreshes so Close never closes the db under one.
	bgMu   sync.Mutex
	bg     sync.WaitGroup
	closed bool
}

// newApp opens storage and wires the engine. The remote client is only
// built when withRemote is set; commands that never dispatch skip it.
func newApp(cfg *config.Config, withRemote bool) (*app, error) {
	a := &app{
		cfg:      cfg,
		notifier: notify.New(),
		metrics:  telemetry.New(),
	}

	var err error
	if cfg.InMemory {
		a.db, err = db.OpenMemory()
	} else {
		a.db, err = db.OpenAndMigrate(cfg.DataDir)
	}
	if err != nil {
		return nil, err
	}

	logOpts := queue.Options{MaxRetryCount: cfg.Sync.MaxRetries}
	if cfg.InMemory {
		a.log = queue.NewMemoryLog(logOpts)
	} else {
		a.log = queue.NewSQLiteLog(a.db.DB, logOpts)
	}
	a.cache = cache.NewStore(a.db.DB, cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		Retention:  cfg.Cache.Retention,
	})

	var dispatcher dispatch.Dispatcher = dispatch.Func(func(ctx context.Context, op *models.PendingOperation) error {
		return errors.Transient(errors.New(errors.ErrConfig, "remote.base_url is not configured"))
	})
	if withRemote {
		a.remote, err = remote.NewClient(remote.Config{
			BaseURL: cfg.Remote.BaseURL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		dispatcher = dispatch.NewRegistry(a.remote.Services(), a.cache)
	}

	a.monitor = connectivity.NewMonitor(newProbe(cfg), a.notifier)
	a.engine = syncpkg.NewEngine(syncpkg.Config{
		Log:        a.log,
		Dispatcher: dispatcher,
		Probe:      a.monitor,
		Publisher:  a.notifier,
		Metrics:    a.metrics,
	})
	a.scheduler = scheduler.NewScheduler(a.engine, a.log, a.monitor, &meteredCache{Store: a.cache, metrics: a.metrics},
		&scheduler.SchedulerConfig{
			SyncInterval:        cfg.Sync.Interval,
			ProbeInterval:       cfg.Probe.Interval,
			MaintenanceInterval: cfg.Cache.MaintenanceInterval,
			Concurrency:         cfg.Sync.Concurrency,
		})

	a.notifier.Subscribe(a.observe)
	return a, nil
}

func newProbe(cfg *config.Config) connectivity.Probe {
	switch cfg.Probe.Mode {
	case config.ProbeDial:
		return &connectivity.DialProbe{Address: cfg.Probe.Address, Timeout: cfg.Probe.Timeout}
	case config.ProbeAlways:
		return connectivity.NewStatic(true)
	default:
		p := connectivity.NewHTTPProbe(cfg.ProbeURL())
		p.Timeout = cfg.Probe.Timeout
		return p
	}
}

// observe keeps the gauges in step with published events.
func (a *app) observe(e notify.Event) {
	switch ev := e.(type) {
	case notify.ConnectivityChanged:
		a.metrics.SetOnline(ev.Online)
	case notify.SyncCompleted, notify.SyncAborted:
		// The pass still holds the owner's sync slot; count off the publisher's path.
		a.bgMu.Lock()
		defer a.bgMu.Unlock()
		if a.closed {
			return
		}
		a.bg.Add(1)
		go func() {
			defer a.bg.Done()
			a.refreshPending()
		}()
	}
}

func (a *app) refreshPending() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	owners, err := a.log.Owners(ctx)
	if err != nil {
		logging.Debug("failed to list owners for metrics", map[string]interface{}{"error": err.Error()})
		return
	}
	total := 0
	for _, owner := range owners {
		n, err := a.log.Count(ctx, owner)
		if err != nil {
			return
		}
		total += n
	}
	a.metrics.SetPending(total)
}

// meteredCache reports maintenance results to telemetry.
type meteredCache struct {
	*cache.Store
	metrics *telemetry.Metrics
}

func (m *meteredCache) MaintenanceAll(ctx context.Context) (map[models.CacheKind]cache.MaintenanceResult, error) {
	results, err := m.Store.MaintenanceAll(ctx)
	if err != nil {
		return nil, err
	}
	for kind, res := range results {
		m.metrics.CacheMaintained(kind, res.Expired, res.Evicted)
		if n, err := m.Store.Count(ctx, kind); err == nil {
			m.metrics.SetCacheEntries(kind, n)
		}
	}
	return results, nil
}

// routes builds the status API, including /metrics and the event stream when hub is set.
func (a *app) routes(hub *WSHub) http.Handler {
	rt := handlersRouter(a)
	rt.Metrics = a.metrics.Handler()
	rt.Middleware = append(rt.Middleware, a.metrics.Middleware)
	if hub != nil {
		rt.WebSocket = HandleWebSocket(hub)
	}
	return rt.Handler()
}

// Close waits for in-flight gauge refreshes, then releases storage.
func (a *app) Close() error {
	a.bgMu.Lock()
	a.closed = true
	a.bgMu.Unlock()
	a.bg.Wait()

	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
