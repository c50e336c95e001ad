package params

import (
	"errors"
	"fmt"
	"time"
)

// Pool tuning defaults (see rpcpool).
const (
	DefaultMaxFailures        = 3
	DefaultFailureResetWindow = 60 * time.Second
)

// Probe thresholds (see healthmon).
const (
	DefaultProbeTimeout    = 1000 * time.Millisecond
	DefaultHealthyBelow    = 200 * time.Millisecond
	DefaultSlowBelow       = 500 * time.Millisecond
	DefaultInfiniteElapsed = 10 * time.Second
)

// Monitor defaults.
const (
	DefaultMonitorInterval      = 60 * time.Second
	DefaultAutoDisableThreshold = 3
)

// Balance refresh defaults.
const (
	DefaultRefreshBatchSize = 10
	DefaultRefreshStepDelay = 300 * time.Millisecond
)

// Trade executor defaults.
const (
	DefaultSingleWalletDelay = 200 * time.Millisecond
	DefaultBatchDelay        = 1000 * time.Millisecond
	DefaultBundleStagger     = 100 * time.Millisecond
	DefaultMaxTxPerBundle    = 5
	DefaultMaxSubBundles     = 4
	DefaultSendsPerSecond    = 5
)

// PoolConfig controls endpoint rotation in the RPC pool.
type PoolConfig struct {
	// MaxFailures is the failure count at which an endpoint is skipped
	// by rotation until its reset window elapses.
	MaxFailures int `json:"maxFailures"`
	// FailureResetWindow clears an endpoint failure count after this much
	// time without a new failure.
	FailureResetWindow time.Duration `json:"failureResetWindow"`
}

// ProbeConfig controls the health prober.
type ProbeConfig struct {
	Timeout time.Duration `json:"timeout"`
	// HealthyBelow and SlowBelow are latency classification boundaries.
	HealthyBelow time.Duration `json:"healthyBelow"`
	SlowBelow    time.Duration `json:"slowBelow"`
	// InfiniteElapsed is the elapsed time above which latency is reported
	// as the infinite sentinel instead of a measured value.
	InfiniteElapsed time.Duration `json:"infiniteElapsed"`
}

// MonitorConfig controls the periodic health monitor.
type MonitorConfig struct {
	Interval             time.Duration `json:"interval"`
	AutoDisableThreshold int           `json:"autoDisableThreshold"`
	DisableEnabled       bool          `json:"disableEnabled"`
	ReEnableEnabled      bool          `json:"reEnableEnabled"`
}

// RefreshConfig controls the adaptive balance refresher.
type RefreshConfig struct {
	BatchSize int           `json:"batchSize"`
	StepDelay time.Duration `json:"stepDelay"`
}

// TradeConfig controls the trade bundle executor.
type TradeConfig struct {
	SingleWalletDelay time.Duration `json:"singleWalletDelay"`
	BatchDelay        time.Duration `json:"batchDelay"`
	BundleStagger     time.Duration `json:"bundleStagger"`
	MaxTxPerBundle    int           `json:"maxTxPerBundle"`
	MaxSubBundles     int           `json:"maxSubBundles"`
	SendsPerSecond    int           `json:"sendsPerSecond"`
}

// BackendConfig locates the trade preparation and bundle submission APIs.
type BackendConfig struct {
	TradeAPIURL    string        `json:"tradeApiUrl"`
	SubmitAPIURL   string        `json:"submitApiUrl"`
	RequestTimeout time.Duration `json:"requestTimeout"`
}

// Config aggregates the tunables of the RPC access layer. The UI serializes
// this blob together with the endpoint list.
type Config struct {
	Pool    PoolConfig    `json:"pool"`
	Probe   ProbeConfig   `json:"probe"`
	Monitor MonitorConfig `json:"monitor"`
	Refresh RefreshConfig `json:"refresh"`
	Trade   TradeConfig   `json:"trade"`
	Backend BackendConfig `json:"backend"`
}

// NewConfigWithDefaults returns a Config with every tunable set to its default.
func NewConfigWithDefaults() Config {
	return Config{
		Pool: PoolConfig{
			MaxFailures:        DefaultMaxFailures,
			FailureResetWindow: DefaultFailureResetWindow,
		},
		Probe: ProbeConfig{
			Timeout:         DefaultProbeTimeout,
			HealthyBelow:    DefaultHealthyBelow,
			SlowBelow:       DefaultSlowBelow,
			InfiniteElapsed: DefaultInfiniteElapsed,
		},
		Monitor: MonitorConfig{
			Interval:             DefaultMonitorInterval,
			AutoDisableThreshold: DefaultAutoDisableThreshold,
			DisableEnabled:       true,
			ReEnableEnabled:      true,
		},
		Refresh: RefreshConfig{
			BatchSize: DefaultRefreshBatchSize,
			StepDelay: DefaultRefreshStepDelay,
		},
		Trade: TradeConfig{
			SingleWalletDelay: DefaultSingleWalletDelay,
			BatchDelay:        DefaultBatchDelay,
			BundleStagger:     DefaultBundleStagger,
			MaxTxPerBundle:    DefaultMaxTxPerBundle,
			MaxSubBundles:     DefaultMaxSubBundles,
			SendsPerSecond:    DefaultSendsPerSecond,
		},
		Backend: BackendConfig{
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validate checks invariants the rest of the layer relies on.
func (c *Config) Validate() error {
	if c.Pool.MaxFailures <= 0 {
		return errors.New("pool.maxFailures must be positive")
	}
	if c.Pool.FailureResetWindow <= 0 {
		return errors.New("pool.failureResetWindow must be positive")
	}
	if c.Probe.Timeout <= 0 {
		return errors.New("probe.timeout must be positive")
	}
	if c.Probe.HealthyBelow <= 0 || c.Probe.SlowBelow <= c.Probe.HealthyBelow {
		return fmt.Errorf("probe thresholds out of order: healthy %s, slow %s", c.Probe.HealthyBelow, c.Probe.SlowBelow)
	}
	if c.Monitor.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if c.Monitor.AutoDisableThreshold <= 0 {
		return errors.New("monitor.autoDisableThreshold must be positive")
	}
	if c.Refresh.BatchSize <= 0 {
		return errors.New("refresh.batchSize must be positive")
	}
	if c.Trade.MaxTxPerBundle <= 0 || c.Trade.MaxSubBundles <= 0 {
		return errors.New("trade bundle limits must be positive")
	}
	if c.Trade.SendsPerSecond <= 0 {
		return errors.New("trade.sendsPerSecond must be positive")
	}
	return nil
}
