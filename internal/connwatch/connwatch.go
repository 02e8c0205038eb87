// Package connwatch tracks the reachability of the services Veronica
// talks to (the completion provider, the MQTT broker) so the health
// endpoint can report them.
//
// This is distinct from httpkit's transport-level retry, which absorbs
// sub-second dial errors on a single request. A Watcher probes its
// service on a schedule: quickly with exponential backoff while the
// service is down, and at a relaxed interval once it is up.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// Interval between probes while the service is up (default: 60s).
	Interval time.Duration
	// RetryMin is the first retry delay while the service is down
	// (default: 2s). It doubles after every failure up to RetryMax.
	RetryMin time.Duration
	// RetryMax caps the retry delay (default: 60s).
	RetryMax time.Duration
	// Timeout bounds a single probe (default: 10s).
	Timeout time.Duration
}

// DefaultSchedule returns the production probe schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		Interval: 60 * time.Second,
		RetryMin: 2 * time.Second,
		RetryMax: 60 * time.Second,
		Timeout:  10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.Interval <= 0 {
		s.Interval = d.Interval
	}
	if s.RetryMin <= 0 {
		s.RetryMin = d.RetryMin
	}
	if s.RetryMax < s.RetryMin {
		s.RetryMax = max(d.RetryMax, s.RetryMin)
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	return s
}

// Status is the health of one watched service, suitable for JSON
// serialization in health endpoints.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Since     time.Time `json:"since,omitzero"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

// Watcher probes a single service.
type Watcher struct {
	name   string
	probe  ProbeFunc
	sched  Schedule
	logger *slog.Logger

	mu     sync.Mutex
	status Status
}

// Status returns the current health status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Watcher) run(ctx context.Context) {
	for {
		delay := w.check(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe, records the outcome and returns the delay
// before the next probe.
func (w *Watcher) check(ctx context.Context) time.Duration {
	probeCtx, cancel := context.WithTimeout(ctx, w.sched.Timeout)
	err := w.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return 0
	}

	now := time.Now()
	w.mu.Lock()
	wasReady, first := w.status.Ready, w.status.LastCheck.IsZero()
	w.status.LastCheck = now
	if err == nil {
		w.status.Failures = 0
		w.status.LastError = ""
		if !wasReady {
			w.status.Ready = true
			w.status.Since = now
		}
	} else {
		w.status.Failures++
		w.status.LastError = err.Error()
		if wasReady || first {
			w.status.Ready = false
			w.status.Since = now
		}
	}
	failures := w.status.Failures
	w.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		w.logger.Info("service reachable", "service", w.name)
	case err != nil && wasReady:
		w.logger.Warn("service became unreachable", "service", w.name, "error", err)
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "failures", failures, "error", err)
	}

	if err == nil {
		return w.sched.Interval
	}
	delay := w.sched.RetryMin
	for i := 1; i < failures && delay < w.sched.RetryMax; i++ {
		delay *= 2
	}
	return min(delay, w.sched.RetryMax)
}

// Manager coordinates multiple service watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts probing name in the background until ctx is cancelled.
// Zero Schedule fields take their defaults.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, sched Schedule) *Watcher {
	w := &Watcher{
		name:   name,
		probe:  probe,
		sched:  sched.withDefaults(),
		logger: m.logger,
		status: Status{Name: name},
	}

	m.mu.Lock()
	m.watchers[name] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		w.run(ctx)
	}()
	return w
}

// Status returns the health of every watched service.
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.watchers))
	for name, w := range m.watchers {
		out[name] = w.Status()
	}
	return out
}

// Wait blocks until every watcher has exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}
