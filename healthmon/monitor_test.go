package healthmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/razedotbot/solana-ui-sub003/params"
	"github.com/razedotbot/solana-ui-sub003/rpcpool"
)

// scriptedProbe returns a fixed error per endpoint URL, settable between
// monitor passes.
type scriptedProbe struct {
	mu   sync.Mutex
	errs map[string]error
}

func (p *scriptedProbe) set(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[url] = err
}

func (p *scriptedProbe) probe(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errs[url]
}

type MonitorSuite struct {
	suite.Suite
	pool    *rpcpool.Pool
	monitor *Monitor
	probe   *scriptedProbe
	ctx     context.Context
}

const (
	goodURL = "https://good.example.com"
	badURL  = "https://bad.example.com"
)

func (s *MonitorSuite) SetupTest() {
	s.ctx = context.Background()
	s.probe = &scriptedProbe{errs: map[string]error{
		badURL: errors.New("connection refused"),
	}}

	endpoints := []rpcpool.Endpoint{
		{ID: "good", Name: "good", URL: goodURL, Priority: 0, Weight: 50, State: rpcpool.StateActive},
		{ID: "bad", Name: "bad", URL: badURL, Priority: 1, Weight: 50, State: rpcpool.StateActive},
	}

	var err error
	s.pool, err = rpcpool.NewPool(endpoints, params.PoolConfig{
		MaxFailures:        3,
		FailureResetWindow: time.Minute,
	})
	s.Require().NoError(err)

	prober := NewProber(params.ProbeConfig{
		Timeout:         time.Second,
		HealthyBelow:    150 * time.Millisecond,
		SlowBelow:       450 * time.Millisecond,
		InfiniteElapsed: 10 * time.Second,
	})
	prober.probe = s.probe.probe

	s.monitor = NewMonitor(s.pool, prober, endpoints, params.MonitorConfig{
		Interval:             time.Minute,
		AutoDisableThreshold: 3,
		DisableEnabled:       true,
		ReEnableEnabled:      true,
	})
}

func (s *MonitorSuite) endpoint(id string) rpcpool.Endpoint {
	for _, ep := range s.monitor.Endpoints() {
		if ep.ID == id {
			return ep
		}
	}
	s.FailNow("endpoint not found: " + id)
	return rpcpool.Endpoint{}
}

func (s *MonitorSuite) TestAutoDisableAfterThreshold() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.monitor.CheckNow(s.ctx))
	}

	bad := s.endpoint("bad")
	s.Equal(rpcpool.StateAutoDisabled, bad.State)
	s.False(bad.IsActive())
	s.Equal(rpcpool.HealthUnhealthy, bad.Health)

	// The surviving active endpoint absorbs the full weight.
	s.Equal(100, s.endpoint("good").Weight)

	// The pool only sees the active endpoint now.
	for _, ep := range s.pool.GetAllEndpoints() {
		s.NotEqual("bad", ep.ID)
	}
}

func (s *MonitorSuite) TestHealthyResultResetsStreak() {
	s.Require().NoError(s.monitor.CheckNow(s.ctx))
	s.Require().NoError(s.monitor.CheckNow(s.ctx))
	s.Equal(2, s.endpoint("bad").ConsecutiveFailures)

	// One healthy probe breaks the streak, so two more failures do not
	// reach the threshold.
	s.probe.set(badURL, nil)
	s.Require().NoError(s.monitor.CheckNow(s.ctx))
	s.Zero(s.endpoint("bad").ConsecutiveFailures)

	s.probe.set(badURL, errors.New("connection refused"))
	s.Require().NoError(s.monitor.CheckNow(s.ctx))
	s.Require().NoError(s.monitor.CheckNow(s.ctx))

	bad := s.endpoint("bad")
	s.Equal(rpcpool.StateActive, bad.State)
	s.Equal(2, bad.ConsecutiveFailures)
}

func (s *MonitorSuite) TestReEnableRecoveredEndpoint() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.monitor.CheckNow(s.ctx))
	}
	s.Equal(rpcpool.StateAutoDisabled, s.endpoint("bad").State)

	s.probe.set(badURL, nil)
	s.Require().NoError(s.monitor.CheckNow(s.ctx))

	bad := s.endpoint("bad")
	s.Equal(rpcpool.StateActive, bad.State)
	s.Zero(bad.ConsecutiveFailures)
	s.Equal(50, bad.Weight, "weights rebalance over the re-enabled set")
}

func (s *MonitorSuite) TestAutoDisabledNotProbedWhenReEnableOff() {
	s.monitor.cfg.ReEnableEnabled = false
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.monitor.CheckNow(s.ctx))
	}
	s.Equal(rpcpool.StateAutoDisabled, s.endpoint("bad").State)

	// Even a recovered endpoint stays disabled without the re-enable flag.
	s.probe.set(badURL, nil)
	s.Require().NoError(s.monitor.CheckNow(s.ctx))
	s.Equal(rpcpool.StateAutoDisabled, s.endpoint("bad").State)
}

func (s *MonitorSuite) TestManuallyDisabledEndpointIgnored() {
	endpoints := s.monitor.Endpoints()
	for i := range endpoints {
		if endpoints[i].ID == "bad" {
			endpoints[i].State = rpcpool.StateManuallyDisabled
		}
	}
	s.Require().NoError(s.monitor.UpdateEndpoints(endpoints))

	s.Require().NoError(s.monitor.CheckNow(s.ctx))

	bad := s.endpoint("bad")
	s.Equal(rpcpool.StateManuallyDisabled, bad.State)
	s.Zero(bad.ConsecutiveFailures, "manually disabled endpoints are not probed")
}

func (s *MonitorSuite) TestCheckNowSuppressedWhileInFlight() {
	started := make(chan struct{})
	release := make(chan struct{})
	s.probe.mu.Lock()
	s.probe.errs = nil
	s.probe.mu.Unlock()

	prober := NewProber(params.ProbeConfig{
		Timeout:         time.Second,
		HealthyBelow:    150 * time.Millisecond,
		SlowBelow:       450 * time.Millisecond,
		InfiniteElapsed: 10 * time.Second,
	})
	var once sync.Once
	prober.probe = func(ctx context.Context, url string) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}
	s.monitor.prober = prober

	done := make(chan error, 1)
	go func() { done <- s.monitor.CheckNow(s.ctx) }()

	<-started
	s.Require().ErrorIs(s.monitor.CheckNow(s.ctx), ErrCheckInFlight)

	close(release)
	s.Require().NoError(<-done)
}

func (s *MonitorSuite) TestEndpointsMarkedCheckingDuringPass() {
	started := make(chan struct{})
	release := make(chan struct{})

	prober := NewProber(params.ProbeConfig{
		Timeout:         time.Second,
		HealthyBelow:    150 * time.Millisecond,
		SlowBelow:       450 * time.Millisecond,
		InfiniteElapsed: 10 * time.Second,
	})
	var once sync.Once
	prober.probe = func(ctx context.Context, url string) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}
	s.monitor.prober = prober

	done := make(chan error, 1)
	go func() { done <- s.monitor.CheckNow(s.ctx) }()

	<-started
	for _, ep := range s.monitor.Endpoints() {
		s.Equal(rpcpool.HealthChecking, ep.Health, ep.ID)
	}

	close(release)
	s.Require().NoError(<-done)

	// The applied results replace the transient checking state.
	for _, ep := range s.monitor.Endpoints() {
		s.NotEqual(rpcpool.HealthChecking, ep.Health, ep.ID)
	}
}

func (s *MonitorSuite) TestSubscribersNotifiedPerPass() {
	ch := s.monitor.Subscribe()
	defer s.monitor.Unsubscribe(ch)

	s.Require().NoError(s.monitor.CheckNow(s.ctx))

	select {
	case <-ch:
	case <-time.After(time.Second):
		s.Fail("expected a notification after the pass")
	}
}

func (s *MonitorSuite) TestUpdateEndpointsRenormalizesWeights() {
	endpoints := []rpcpool.Endpoint{
		{ID: "a", URL: "https://a.example.com", Weight: 10, State: rpcpool.StateActive},
		{ID: "b", URL: "https://b.example.com", Weight: 30, State: rpcpool.StateActive},
	}
	s.Require().NoError(s.monitor.UpdateEndpoints(endpoints))

	sum := 0
	for _, ep := range s.monitor.Endpoints() {
		sum += ep.Weight
	}
	s.Equal(100, sum)
}

func TestMonitorSuite(t *testing.T) {
	suite.Run(t, new(MonitorSuite))
}
