package rpcpool

import (
	"math"
	"time"
)

// HealthStatus is the last known probe classification of an endpoint.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthChecking  HealthStatus = "checking"
	HealthHealthy   HealthStatus = "healthy"
	HealthSlow      HealthStatus = "slow"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// EndpointState distinguishes a user toggling an endpoint off from the
// monitor disabling it. Only StateActive endpoints participate in rotation.
type EndpointState string

const (
	StateActive           EndpointState = "active"
	StateManuallyDisabled EndpointState = "manually_disabled"
	StateAutoDisabled     EndpointState = "auto_disabled"
)

// LatencyInfinite is reported when a probe took longer than the configured
// cap and no meaningful latency measurement exists.
const LatencyInfinite = time.Duration(math.MaxInt64)

// Endpoint describes one RPC provider in the pool. It carries no behavior;
// it is mutated by the pool (failure counters) and the health monitor
// (status, state, weight).
type Endpoint struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Name string `json:"name"`

	// Priority orders rotation, lower first. Ties are broken by ascending
	// failure count.
	Priority int `json:"priority"`
	// Weight is a 0-100 share, meaningful only while the endpoint is active.
	// The sum over active endpoints is kept at 100 by NormalizeWeights.
	Weight int `json:"weight"`

	State EndpointState `json:"state"`

	// ConsecutiveFailures counts unbroken unhealthy probe results and feeds
	// the auto-disable threshold. FailureCount counts connection attempt
	// failures and feeds rotation; it decays after the failure reset window.
	ConsecutiveFailures int `json:"consecutiveFailures"`
	FailureCount        int `json:"failureCount"`

	LastUsed        time.Time `json:"lastUsed"`
	LastFailure     time.Time `json:"lastFailure"`
	LastHealthCheck time.Time `json:"lastHealthCheck"`

	Health  HealthStatus  `json:"healthStatus"`
	Latency time.Duration `json:"latency"`
}

func (e *Endpoint) IsActive() bool {
	return e.State == StateActive
}

func (e *Endpoint) AutoDisabled() bool {
	return e.State == StateAutoDisabled
}

// DisplayName returns the name if set, otherwise the URL.
func (e *Endpoint) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.URL
}
