// Package connectivity tracks whether the remote sync target is reachable.
package connectivity

import (
	"sync"

	"github.com/sugreev38/v0-hospital-emr-software/pkg/events"
	"github.com/sugreev38/v0-hospital-emr-software/pkg/logger"
)

// Monitor holds the process-wide online flag
type Monitor struct {
	mu     sync.RWMutex
	online bool

	// serializes transitions so listeners observe them in order
	transition sync.Mutex

	changes    events.Registry[bool]
	reconnects events.Registry[struct{}]
	logger     *logger.Logger
}

// New creates a monitor seeded with the platform's current state
func New(initialOnline bool, log *logger.Logger) *Monitor {
	return &Monitor{online: initialOnline, logger: log}
}

// IsOnline reports the last observed connectivity state
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// SetOnline applies a platform connectivity signal. Listeners only run when
// the state actually changes, so reconnect listeners fire once per
// offline to online transition.
func (m *Monitor) SetOnline(online bool) {
	m.transition.Lock()
	defer m.transition.Unlock()

	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.WithComponent("connectivity").WithField("online", online).Info("Connectivity changed")

	m.changes.Publish(online)
	if online {
		m.reconnects.Publish(struct{}{})
	}
}

// Subscribe registers fn for every state change
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return m.changes.Subscribe(fn)
}

// OnReconnect registers fn for every offline to online transition
func (m *Monitor) OnReconnect(fn func()) (unsubscribe func()) {
	return m.reconnects.Subscribe(func(struct{}) { fn() })
}
