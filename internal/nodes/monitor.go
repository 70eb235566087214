package nodes

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ai_gateway/internal/clock"
	"ai_gateway/internal/logging"
)

// DefaultHealthInterval is the pause between two rounds of probes.
const DefaultHealthInterval = 30 * time.Second

// Monitor runs CheckAll on a fixed interval in the background.
type Monitor struct {
	registry *Registry
	clock    clock.Clock
	interval time.Duration
	logger   *logging.Logger

	started atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMonitor(registry *Registry, clk clock.Clock, interval time.Duration) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	return &Monitor{
		registry: registry,
		clock:    clk,
		interval: interval,
		logger:   logging.NewLogger("health-monitor"),
	}
}

// Start probes all nodes once and then on every tick. Calling Start twice
// has no effect.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	ticker := m.clock.NewTicker(m.interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()

		m.registry.CheckAll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.registry.CheckAll(ctx)
			}
		}
	}()

	m.logger.Info("Health monitor started", "interval", m.interval.String())
}

// Stop ends the loop and waits for the current round to finish.
func (m *Monitor) Stop() {
	if !m.started.Load() || m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.logger.Info("Health monitor stopped")
}
