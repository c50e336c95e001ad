package rpcpool

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
)

// Pool owns the working set of active endpoints and hands out connections.
// All mutation of the set, the rotation cursor and the failure counters
// goes through the pool mutex; snapshots returned to callers are copies.
type Pool struct {
	mu  sync.Mutex
	cfg params.PoolConfig

	endpoints []*Endpoint
	cursor    int
	current   *Endpoint

	dial DialFunc
	now  func() time.Time
	log  *zap.Logger
}

// NewPool builds a pool from the active subset of endpoints. It fails with
// ErrEmptyPool when no endpoint is active.
func NewPool(endpoints []Endpoint, cfg params.PoolConfig) (*Pool, error) {
	p := &Pool{
		cfg:  cfg,
		dial: defaultDial,
		now:  time.Now,
		log:  logutils.ZapLogger().Named("rpcpool"),
	}
	if err := p.UpdateEndpoints(endpoints); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateEndpoints atomically replaces the working set with the active
// subset of newSet, re-sorted, and resets the rotation cursor. This is the
// only way to add, remove or reprioritize endpoints at runtime. When newSet
// has no active endpoint the previous set is kept and ErrEmptyPool returned.
func (p *Pool) UpdateEndpoints(newSet []Endpoint) error {
	active := make([]*Endpoint, 0, len(newSet))
	for i := range newSet {
		if !newSet[i].IsActive() {
			continue
		}
		ep := newSet[i]
		active = append(active, &ep)
	}
	if len(active) == 0 {
		return ErrEmptyPool
	}
	sortEndpoints(active)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints = active
	p.cursor = 0
	p.current = nil
	return nil
}

// GetAllEndpoints returns a snapshot of the working set.
func (p *Pool) GetAllEndpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Endpoint, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = *ep
	}
	return out
}

// GetCurrentEndpoint returns the endpoint selected by the most recent
// rotation step, or nil before the first selection.
func (p *Pool) GetCurrentEndpoint() *Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return nil
	}
	ep := *p.current
	return &ep
}

// SelectNext advances the rotation and returns a copy of the chosen
// endpoint. With at least one active endpoint it never returns nil.
func (p *Pool) SelectNext() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.selectNext(nil)
}

// selectNext implements the rotation algorithm. Callers hold p.mu.
//
// Failure counts older than the reset window are cleared first. Rotation
// cycles through endpoints still under the failure cap and not listed in
// skip, ordered by (priority, failure count). When every endpoint is over
// the cap the pool resets all counters and restarts from the best endpoint
// instead of locking out permanently; accumulated failure history is
// discarded at that point, which is logged for review. With a non-empty
// skip set the exhaustion reset does not apply: nil is returned once no
// unskipped endpoint remains, so a caller walking the pool terminates.
func (p *Pool) selectNext(skip map[string]bool) *Endpoint {
	now := p.now()
	for _, ep := range p.endpoints {
		if ep.FailureCount > 0 && now.Sub(ep.LastFailure) > p.cfg.FailureResetWindow {
			ep.FailureCount = 0
		}
	}

	eligible := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		if ep.FailureCount < p.cfg.MaxFailures && !skip[ep.ID] {
			eligible = append(eligible, ep)
		}
	}

	if len(eligible) == 0 {
		if len(skip) > 0 {
			return nil
		}

		counts := make(map[string]int, len(p.endpoints))
		for _, ep := range p.endpoints {
			counts[ep.DisplayName()] = ep.FailureCount
			ep.FailureCount = 0
		}
		p.log.Warn("every endpoint over failure cap, resetting failure history",
			zap.Any("failureCounts", counts))

		sortEndpoints(p.endpoints)
		p.cursor = 1
		p.current = p.endpoints[0]
		return p.current
	}

	sortEndpoints(eligible)
	ep := eligible[p.cursor%len(eligible)]
	p.cursor++
	p.current = ep
	return ep
}

// CreateConnection walks the rotation until a transport is constructed,
// trying each endpoint at most once. Endpoints already attempted in this
// call are excluded from further selection; a dial failure bumps the
// endpoint's failure count, which re-sorts the rotation, and without the
// exclusion a same-priority sibling could be shadowed by the endpoint that
// just failed. Construction success marks the endpoint used and clears its
// counters; no liveness probe is made, so a dead endpoint surfaces when the
// handle is first used. If every attempt fails the call returns an
// AllEndpointsFailedError and the pool stays usable for the next call.
func (p *Pool) CreateConnection() (*Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	failures := make(map[string]error)
	tried := make(map[string]bool, len(p.endpoints))
	for len(tried) < len(p.endpoints) {
		ep := p.selectNext(tried)
		if ep == nil {
			break
		}
		tried[ep.ID] = true

		client, err := p.dial(ep.URL)
		if err != nil {
			ep.FailureCount++
			ep.LastFailure = p.now()
			failures[ep.DisplayName()] = err
			p.log.Debug("endpoint connection attempt failed",
				zap.String("endpoint", ep.DisplayName()),
				zap.Int("failureCount", ep.FailureCount),
				zap.Error(err))
			continue
		}

		ep.LastUsed = p.now()
		ep.FailureCount = 0
		ep.ConsecutiveFailures = 0
		return &Conn{endpoint: *ep, client: client}, nil
	}

	return nil, &AllEndpointsFailedError{Failures: failures}
}

// MarkFailure records a failed use of the endpoint identified by id, so
// executors can feed back errors observed after construction.
func (p *Pool) MarkFailure(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ep := range p.endpoints {
		if ep.ID == id {
			ep.FailureCount++
			ep.LastFailure = p.now()
			return
		}
	}
}

func sortEndpoints(endpoints []*Endpoint) {
	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Priority != endpoints[j].Priority {
			return endpoints[i].Priority < endpoints[j].Priority
		}
		return endpoints[i].FailureCount < endpoints[j].FailureCount
	})
}
