package healthmon

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/razedotbot/solana-ui-sub003/async"
	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
	"github.com/razedotbot/solana-ui-sub003/rpcpool"
)

// The probe issues a token-account lookup for a fixed, well-known
// owner/mint pair. The pair is chosen only because it is guaranteed to
// exist on mainnet; the returned data is discarded.
var (
	probeOwner = solana.MustPublicKeyFromBase58("5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1")
	probeMint  = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

// Result is one probe outcome for a single endpoint.
type Result struct {
	Latency time.Duration        `json:"latency"`
	Status  rpcpool.HealthStatus `json:"status"`
}

// ProbeFunc sends one probe request against an endpoint URL. Replaced in
// tests.
type ProbeFunc func(ctx context.Context, endpointURL string) error

// Prober classifies endpoint latency with a single probe call. It never
// retries; retry policy belongs to the caller.
type Prober struct {
	cfg   params.ProbeConfig
	probe ProbeFunc
	log   *zap.Logger
}

func NewProber(cfg params.ProbeConfig) *Prober {
	return &Prober{
		cfg:   cfg,
		probe: solanaProbe,
		log:   logutils.ZapLogger().Named("healthmon.prober"),
	}
}

func solanaProbe(ctx context.Context, endpointURL string) error {
	client := rpc.New(endpointURL)
	_, err := client.GetTokenAccountsByOwner(
		ctx,
		probeOwner,
		&rpc.GetTokenAccountsConfig{Mint: &probeMint},
		&rpc.GetTokenAccountsOpts{
			Commitment: rpc.CommitmentProcessed,
			Encoding:   solana.EncodingBase64,
		},
	)
	return err
}

// Check probes a single endpoint URL and classifies the measured latency.
// Timeouts and transport errors classify as unhealthy; when the elapsed
// time exceeds the configured cap, latency is the infinite sentinel.
func (p *Prober) Check(ctx context.Context, endpointURL string) Result {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := p.probe(probeCtx, endpointURL)
	elapsed := time.Since(start)

	if err != nil {
		latency := elapsed
		if elapsed > p.cfg.InfiniteElapsed {
			latency = rpcpool.LatencyInfinite
		}
		p.log.Debug("probe failed",
			zap.String("endpoint", endpointURL),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return Result{Latency: latency, Status: rpcpool.HealthUnhealthy}
	}

	status := rpcpool.HealthUnhealthy
	switch {
	case elapsed < p.cfg.HealthyBelow:
		status = rpcpool.HealthHealthy
	case elapsed < p.cfg.SlowBelow:
		status = rpcpool.HealthSlow
	}
	return Result{Latency: elapsed, Status: status}
}

// CheckAll probes every endpoint concurrently and returns results keyed by
// URL. The call takes roughly as long as the slowest single probe.
func (p *Prober) CheckAll(ctx context.Context, endpoints []rpcpool.Endpoint) map[string]Result {
	var (
		group   = async.NewGroup(ctx)
		mu      sync.Mutex
		results = make(map[string]Result, len(endpoints))
	)

	for i := range endpoints {
		url := endpoints[i].URL
		group.Add(func(ctx context.Context) error {
			res := p.Check(ctx, url)
			mu.Lock()
			results[url] = res
			mu.Unlock()
			return nil
		})
	}
	group.Wait()

	return results
}
