// Package connectivity tracks whether the backend is reachable. It folds
// platform online/offline signals and caller-observed request failures into a
// single cached boolean that readers can query without blocking on a probe.
package connectivity

import (
	"log/slog"
	stdSync "sync"

	"github.com/siamtech/fieldsync/logging"
)

// Monitor is the sole writer of the process-wide connectivity state. It is a
// pure state tracker: it performs no probes and no retries of its own.
type Monitor struct {
	mu          stdSync.RWMutex
	online      bool
	nextID      int
	subscribers map[int]func(online bool)
	logger      *logging.Logger
}

// NewMonitor creates a Monitor that starts in the given state. Browsers report
// navigator.onLine at startup; callers pass the equivalent platform signal.
func NewMonitor(initialOnline bool, logger *logging.Logger) *Monitor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Monitor{
		online:      initialOnline,
		subscribers: make(map[int]func(bool)),
		logger:      logger.WithComponent("connectivity"),
	}
}

// Online answers from cached state and never blocks on the network.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline folds a platform online/offline signal into the cached state.
// Subscribers are notified only on an actual transition.
func (m *Monitor) SetOnline(online bool) {
	m.transition(online, "platform signal")
}

// MarkDegraded downgrades the cached state after a caller observed a failed
// request. The platform may still report connectivity (captive portal,
// backend down); the failed request is the stronger evidence.
func (m *Monitor) MarkDegraded() {
	m.transition(false, "request failure")
}

// Subscribe registers a callback invoked on every online/offline transition.
// The returned function removes the subscription.
func (m *Monitor) Subscribe(callback func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = callback
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) transition(online bool, reason string) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subscribers := make([]func(bool), 0, len(m.subscribers))
	for _, cb := range m.subscribers {
		subscribers = append(subscribers, cb)
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		slog.Bool("online", online),
		slog.String("reason", reason),
	)

	for _, cb := range subscribers {
		cb(online)
	}
}
