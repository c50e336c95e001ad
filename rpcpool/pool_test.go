package rpcpool

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/suite"

	"github.com/razedotbot/solana-ui-sub003/params"
)

type PoolSuite struct {
	suite.Suite
	cfg params.PoolConfig
}

func (s *PoolSuite) SetupTest() {
	s.cfg = params.PoolConfig{
		MaxFailures:        3,
		FailureResetWindow: 60 * time.Second,
	}
}

func (s *PoolSuite) newPool(endpoints ...Endpoint) *Pool {
	pool, err := NewPool(endpoints, s.cfg)
	s.Require().NoError(err)
	return pool
}

func ep(name string, priority int) Endpoint {
	return Endpoint{
		ID:       name,
		Name:     name,
		URL:      fmt.Sprintf("https://%s.example.com", name),
		Priority: priority,
		State:    StateActive,
	}
}

func (s *PoolSuite) TestConstructionFailsWithoutActiveEndpoint() {
	_, err := NewPool(nil, s.cfg)
	s.Require().ErrorIs(err, ErrEmptyPool)

	disabled := ep("a", 0)
	disabled.State = StateManuallyDisabled
	_, err = NewPool([]Endpoint{disabled}, s.cfg)
	s.Require().ErrorIs(err, ErrEmptyPool)
}

func (s *PoolSuite) TestSelectNextRotatesThroughPool() {
	pool := s.newPool(ep("a", 0), ep("b", 0), ep("c", 0))

	var seen []string
	for i := 0; i < 4; i++ {
		seen = append(seen, pool.SelectNext().Name)
	}
	s.Equal([]string{"a", "b", "c", "a"}, seen)
}

func (s *PoolSuite) TestSelectNextHonorsPriority() {
	pool := s.newPool(ep("slow", 5), ep("fast", 1))
	s.Equal("fast", pool.SelectNext().Name)
}

func (s *PoolSuite) TestSelectNextSkipsEndpointsOverFailureCap() {
	a, b := ep("a", 0), ep("b", 1)
	a.FailureCount = 3
	a.LastFailure = time.Now()
	pool := s.newPool(a, b)

	s.Equal("b", pool.SelectNext().Name)
	s.Equal("b", pool.SelectNext().Name)
}

func (s *PoolSuite) TestSelectNextNeverLocksOut() {
	endpoints := []Endpoint{ep("a", 0), ep("b", 1), ep("c", 2), ep("d", 3)}
	for i := range endpoints {
		endpoints[i].FailureCount = 3
		endpoints[i].LastFailure = time.Now()
	}
	pool := s.newPool(endpoints...)

	// Total exhaustion: failure history is discarded and rotation restarts
	// from the best endpoint.
	selected := pool.SelectNext()
	s.Equal("a", selected.Name)
	for _, ep := range pool.GetAllEndpoints() {
		s.Zero(ep.FailureCount)
	}
}

func (s *PoolSuite) TestSelectNextResetsStaleFailures() {
	a := ep("a", 0)
	a.FailureCount = 3
	a.LastFailure = time.Now().Add(-2 * time.Minute)
	pool := s.newPool(a, ep("b", 1))

	// The stale counter decays, so the higher-priority endpoint is eligible
	// again.
	s.Equal("a", pool.SelectNext().Name)
	s.Zero(pool.GetAllEndpoints()[0].FailureCount)
}

func (s *PoolSuite) TestCreateConnectionMarksSuccess() {
	pool := s.newPool(ep("a", 0))

	conn, err := pool.CreateConnection()
	s.Require().NoError(err)
	s.Require().NotNil(conn.Client())
	s.Equal("a", conn.Endpoint().Name)

	got := pool.GetAllEndpoints()[0]
	s.False(got.LastUsed.IsZero())
	s.Zero(got.FailureCount)
}

func (s *PoolSuite) TestCreateConnectionAggregatesAllFailures() {
	pool := s.newPool(ep("a", 0), ep("b", 1))
	pool.dial = func(url string) (*rpc.Client, error) {
		return nil, errors.New("dial refused")
	}

	_, err := pool.CreateConnection()

	var allFailed *AllEndpointsFailedError
	s.Require().ErrorAs(err, &allFailed)
	s.Len(allFailed.Failures, 2)
	s.Contains(err.Error(), "dial refused")

	// The pool stays usable: counters persist but nothing is locked out.
	for _, ep := range pool.GetAllEndpoints() {
		s.Equal(1, ep.FailureCount)
	}
}

func (s *PoolSuite) TestCreateConnectionAdvancesPastFailingEndpoint() {
	pool := s.newPool(ep("bad", 0), ep("good", 1))
	pool.dial = func(url string) (*rpc.Client, error) {
		if url == "https://bad.example.com" {
			return nil, errors.New("connection refused")
		}
		return rpc.New(url), nil
	}

	conn, err := pool.CreateConnection()
	s.Require().NoError(err)
	s.Equal("good", conn.Endpoint().Name)

	endpoints := pool.GetAllEndpoints()
	s.Equal(1, endpoints[0].FailureCount, "failing endpoint keeps its failure mark")
	s.Zero(endpoints[1].FailureCount)
}

func (s *PoolSuite) TestCreateConnectionFailsOverWithinSamePriority() {
	// A dial failure re-sorts same-priority endpoints by failure count, so
	// without per-call exclusion the failed endpoint would be selected again
	// and its healthy sibling never dialed.
	pool := s.newPool(ep("a", 0), ep("b", 0))
	dials := map[string]int{}
	pool.dial = func(url string) (*rpc.Client, error) {
		dials[url]++
		if url == "https://a.example.com" {
			return nil, errors.New("dial refused")
		}
		return rpc.New(url), nil
	}

	conn, err := pool.CreateConnection()
	s.Require().NoError(err)
	s.Equal("b", conn.Endpoint().Name)
	s.Equal(1, dials["https://a.example.com"], "failed endpoint dialed once")
	s.Equal(1, dials["https://b.example.com"])
}

func (s *PoolSuite) TestCreateConnectionDialsEachEndpointOnce() {
	pool := s.newPool(ep("a", 0), ep("b", 0), ep("c", 0))
	dials := map[string]int{}
	pool.dial = func(url string) (*rpc.Client, error) {
		dials[url]++
		return nil, errors.New("dial refused")
	}

	_, err := pool.CreateConnection()

	var allFailed *AllEndpointsFailedError
	s.Require().ErrorAs(err, &allFailed)
	s.Len(allFailed.Failures, 3)
	for url, n := range dials {
		s.Equal(1, n, url)
	}
}

func (s *PoolSuite) TestUpdateEndpointsReplacesSetAndResetsCursor() {
	pool := s.newPool(ep("a", 0), ep("b", 1))
	s.Equal("a", pool.SelectNext().Name)
	s.Equal("b", pool.SelectNext().Name)

	s.Require().NoError(pool.UpdateEndpoints([]Endpoint{ep("c", 0), ep("d", 1)}))
	s.Equal("c", pool.SelectNext().Name)
}

func (s *PoolSuite) TestUpdateEndpointsRefusesEmptyActiveSet() {
	pool := s.newPool(ep("a", 0))

	off := ep("b", 0)
	off.State = StateAutoDisabled
	err := pool.UpdateEndpoints([]Endpoint{off})
	s.Require().ErrorIs(err, ErrEmptyPool)

	// Previous working set is kept.
	s.Equal("a", pool.SelectNext().Name)
}

func (s *PoolSuite) TestGetCurrentEndpoint() {
	pool := s.newPool(ep("a", 0), ep("b", 1))
	s.Nil(pool.GetCurrentEndpoint())

	selected := pool.SelectNext()
	current := pool.GetCurrentEndpoint()
	s.Require().NotNil(current)
	s.Equal(selected.Name, current.Name)
}

func TestPoolSuite(t *testing.T) {
	suite.Run(t, new(PoolSuite))
}
