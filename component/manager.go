package component

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dededodu/locoloco/errors"
	"github.com/dededodu/locoloco/health"
)

type managed struct {
	component Component
	state     State
	cancel    context.CancelFunc
	lastError error
}

// Manager owns the lifecycle of registered components. Components start in
// registration order and stop in reverse order. Each component gets its own
// child context so one can be cancelled without tearing down the rest.
type Manager struct {
	logger  *slog.Logger
	monitor *health.Monitor

	mu    sync.Mutex
	order []string
	comps map[string]*managed
}

// NewManager creates a component manager reporting into the health monitor.
func NewManager(logger *slog.Logger, monitor *health.Monitor) *Manager {
	return &Manager{
		logger:  logger.With("component", "manager"),
		monitor: monitor,
		comps:   make(map[string]*managed),
	}
}

// Register adds a component. Registration order determines start order.
func (m *Manager) Register(c Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if _, exists := m.comps[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("component %q already registered", name),
			"Manager", "Register", "duplicate component")
	}
	m.comps[name] = &managed{component: c, state: StateCreated}
	m.order = append(m.order, name)
	return nil
}

// Component returns a registered component by name.
func (m *Manager) Component(name string) (Component, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.comps[name]
	if !ok {
		return nil, false
	}
	return mc.component, true
}

// State returns the lifecycle state of a registered component.
func (m *Manager) State(name string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.comps[name]
	if !ok {
		return StateCreated, false
	}
	return mc.state, true
}

// InitializeAll initializes every component in registration order. The first
// failure aborts.
func (m *Manager) InitializeAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		mc := m.comps[name]
		if err := mc.component.Initialize(); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			return errors.Wrap(err, "Manager", "InitializeAll",
				fmt.Sprintf("initialize component %q", name))
		}
		mc.state = StateInitialized
		m.logger.Debug("component initialized", "name", name)
	}
	return nil
}

// StartAll starts every component in registration order. On failure the
// already-started components are stopped in reverse order before returning.
func (m *Manager) StartAll(ctx context.Context, stopTimeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := make([]string, 0, len(m.order))
	for _, name := range m.order {
		mc := m.comps[name]
		childCtx, cancel := context.WithCancel(ctx)
		mc.cancel = cancel

		if err := mc.component.Start(childCtx); err != nil {
			cancel()
			mc.state = StateFailed
			mc.lastError = err
			m.logger.Error("component failed to start", "name", name, "error", err)
			m.stopLocked(started, stopTimeout)
			return errors.Wrap(err, "Manager", "StartAll",
				fmt.Sprintf("start component %q", name))
		}
		mc.state = StateStarted
		started = append(started, name)
		m.logger.Info("component started", "name", name)
		if m.monitor != nil {
			m.monitor.Update(name, mc.component.Health())
		}
	}
	return nil
}

// StopAll stops every started component in reverse registration order.
// All components are attempted; errors are joined.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopLocked(m.order, timeout)
}

func (m *Manager) stopLocked(names []string, timeout time.Duration) error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		mc := m.comps[name]
		if mc.state != StateStarted {
			continue
		}

		if mc.cancel != nil {
			mc.cancel()
		}
		if err := mc.component.Stop(timeout); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			errs = append(errs, errors.Wrap(err, "Manager", "StopAll",
				fmt.Sprintf("stop component %q", name)))
			m.logger.Error("component failed to stop", "name", name, "error", err)
			continue
		}
		mc.state = StateStopped
		m.logger.Info("component stopped", "name", name)
		if m.monitor != nil {
			m.monitor.Remove(name)
		}
	}
	return stderrors.Join(errs...)
}

// RefreshHealth pushes every started component's health into the monitor.
func (m *Manager) RefreshHealth() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.monitor == nil {
		return
	}
	for _, name := range m.order {
		mc := m.comps[name]
		if mc.state == StateStarted {
			m.monitor.Update(name, mc.component.Health())
		}
	}
}
