package connectivity

import (
	"context"
	"sync"

	"github.com/kimhsiao/journalsync/internal/logging"
	"github.com/kimhsiao/journalsync/internal/sync/notify"
)

// Monitor remembers the last observed state of a Probe and publishes
// ConnectivityChanged when it changes.
type Monitor struct {
	probe     Probe
	publisher notify.Publisher

	mu     sync.Mutex
	known  bool
	online bool
}

// NewMonitor wraps probe. A nil publisher discards events.
func NewMonitor(probe Probe, publisher notify.Publisher) *Monitor {
	if publisher == nil {
		publisher = notify.Discard{}
	}
	return &Monitor{probe: probe, publisher: publisher}
}

// IsOnline probes without recording or publishing.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	return m.probe.IsOnline(ctx)
}

// Check probes once. changed is true on the first observation and on every
// transition; ConnectivityChanged is published exactly then.
func (m *Monitor) Check(ctx context.Context) (online, changed bool) {
	online = m.probe.IsOnline(ctx)

	m.mu.Lock()
	changed = !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if changed {
		logging.Info("connectivity changed", map[string]interface{}{
			"online": online,
		})
		m.publisher.Publish(notify.ConnectivityChanged{Online: online})
	}
	return online, changed
}

// Last returns the last observed state and whether any check has run.
func (m *Monitor) Last() (online, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online, m.known
}
