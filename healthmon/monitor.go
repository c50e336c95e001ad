package healthmon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
	"github.com/razedotbot/solana-ui-sub003/rpcpool"
)

// ErrCheckInFlight is returned by CheckNow when a scheduled or manual pass
// is already running. Passes run to completion; re-entry is suppressed
// rather than cancelled.
var ErrCheckInFlight = errors.New("health check already in flight")

// Monitor periodically probes every endpoint, applies the auto-disable and
// re-enable policy, renormalizes weights and hands the resulting set to the
// pool. It owns the master endpoint list, including disabled entries the
// pool never sees.
type Monitor struct {
	mu        sync.Mutex
	endpoints []rpcpool.Endpoint

	pool   *rpcpool.Pool
	prober *Prober
	cfg    params.MonitorConfig

	inFlight    atomic.Bool
	subscribers []chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *zap.Logger
}

func NewMonitor(pool *rpcpool.Pool, prober *Prober, endpoints []rpcpool.Endpoint, cfg params.MonitorConfig) *Monitor {
	return &Monitor{
		endpoints: rpcpool.NormalizeWeights(endpoints),
		pool:      pool,
		prober:    prober,
		cfg:       cfg,
		log:       logutils.ZapLogger().Named("healthmon.monitor"),
	}
}

// Start launches the periodic loop. A first pass runs eagerly when any
// active endpoint has a missing or stale health check.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if m.anyCheckStale() {
			m.runPass(ctx)
		}

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runPass(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// CheckNow runs exactly one monitor pass outside the timer, sharing the
// scheduled code path. Concurrent passes are suppressed.
func (m *Monitor) CheckNow(ctx context.Context) error {
	return m.runPass(ctx)
}

// Endpoints returns a snapshot of the master endpoint list for rendering.
func (m *Monitor) Endpoints() []rpcpool.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]rpcpool.Endpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out
}

// UpdateEndpoints replaces the master list after a user edit (add, remove,
// toggle, reprioritize or weight change), renormalizes weights and pushes
// the result to the pool.
func (m *Monitor) UpdateEndpoints(endpoints []rpcpool.Endpoint) error {
	m.mu.Lock()
	m.endpoints = rpcpool.NormalizeWeights(endpoints)
	err := m.pool.UpdateEndpoints(m.endpoints)
	m.mu.Unlock()

	m.emit()
	return err
}

// Subscribe returns a channel that receives a signal after every applied
// monitor pass or reconfiguration.
func (m *Monitor) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
	return ch
}

func (m *Monitor) Unsubscribe(ch chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subscribers {
		if sub == ch {
			m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Monitor) anyCheckStale() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for i := range m.endpoints {
		if !m.endpoints[i].IsActive() {
			continue
		}
		last := m.endpoints[i].LastHealthCheck
		if last.IsZero() || now.Sub(last) > m.cfg.Interval {
			return true
		}
	}
	return false
}

func (m *Monitor) runPass(ctx context.Context) error {
	if !m.inFlight.CompareAndSwap(false, true) {
		return ErrCheckInFlight
	}
	defer m.inFlight.Store(false)

	targets := m.probeTargets()
	if len(targets) == 0 {
		return nil
	}
	// Targets are already flagged as checking; let renderers see that
	// before the slowest probe resolves.
	m.emit()

	results := m.prober.CheckAll(ctx, targets)
	m.applyResults(results)
	m.emit()
	return nil
}

// probeTargets selects endpoints that are active, or auto-disabled while
// re-enabling is on (so they can come back). Selected endpoints are marked
// as checking until the pass applies their probe results.
func (m *Monitor) probeTargets() []rpcpool.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []rpcpool.Endpoint
	for i := range m.endpoints {
		ep := &m.endpoints[i]
		if ep.IsActive() || (ep.AutoDisabled() && m.cfg.ReEnableEnabled) {
			ep.Health = rpcpool.HealthChecking
			targets = append(targets, *ep)
		}
	}
	return targets
}

func (m *Monitor) applyResults(results map[string]Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for i := range m.endpoints {
		ep := &m.endpoints[i]
		res, ok := results[ep.URL]
		if !ok {
			continue
		}

		ep.Health = res.Status
		ep.Latency = res.Latency
		ep.LastHealthCheck = now

		if res.Status == rpcpool.HealthUnhealthy {
			ep.ConsecutiveFailures++
			if m.cfg.DisableEnabled && ep.IsActive() && ep.ConsecutiveFailures >= m.cfg.AutoDisableThreshold {
				ep.State = rpcpool.StateAutoDisabled
				m.log.Warn("endpoint auto-disabled",
					zap.String("endpoint", ep.DisplayName()),
					zap.Int("consecutiveFailures", ep.ConsecutiveFailures))
			}
			continue
		}

		// Any healthy or slow result breaks the failure streak.
		ep.ConsecutiveFailures = 0
		if ep.AutoDisabled() && m.cfg.ReEnableEnabled {
			ep.State = rpcpool.StateActive
			m.log.Info("endpoint re-enabled",
				zap.String("endpoint", ep.DisplayName()),
				zap.Duration("latency", res.Latency))
		}
	}

	m.endpoints = rpcpool.NormalizeWeights(m.endpoints)
	if err := m.pool.UpdateEndpoints(m.endpoints); err != nil {
		m.log.Warn("keeping previous pool set", zap.Error(err))
	}
}

func (m *Monitor) emit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscribers {
		select {
		case sub <- struct{}{}:
		default:
		}
	}
}
