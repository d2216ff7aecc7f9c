package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probe checks whether the server is reachable. A nil error means online.
type Probe func(ctx context.Context) error

// Transition is emitted whenever the observed connectivity changes.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor polls a Probe and reports connectivity changes. It starts out
// offline, so the first successful probe is an offline-to-online transition.
type Monitor struct {
	probe    Probe
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	online      bool
	transitions chan Transition
}

// New creates a Monitor. Non-positive interval and timeout fall back to 15s and 3s.
func New(probe Probe, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:       probe,
		interval:    interval,
		timeout:     timeout,
		logger:      logger,
		transitions: make(chan Transition, 1),
	}
}

// Transitions delivers connectivity changes. Only the most recent pending
// change is kept if the consumer falls behind.
func (m *Monitor) Transitions() <-chan Transition {
	return m.transitions
}

// Online returns the last observed state without probing.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// IsOnline probes now and returns the fresh result.
func (m *Monitor) IsOnline(ctx context.Context) bool {
	return m.check(ctx)
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.probe(probeCtx)
	cancel()

	online := err == nil
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if online == m.online {
		return online
	}
	m.online = online

	if online {
		m.logger.Info("network online")
	} else {
		m.logger.Warn("network offline", "error", err)
	}
	m.publish(Transition{Online: online, At: now})
	return online
}

// publish must be called with mu held.
func (m *Monitor) publish(tr Transition) {
	select {
	case m.transitions <- tr:
		return
	default:
	}
	// Drop the stale pending transition in favour of the newer one.
	select {
	case <-m.transitions:
	default:
	}
	select {
	case m.transitions <- tr:
	default:
	}
}
