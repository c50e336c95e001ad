package trade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/zenthangplus/goccm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/razedotbot/solana-ui-sub003/circuitbreaker"
	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
	"github.com/razedotbot/solana-ui-sub003/wallet"
)

// Mode selects how bundle sends are spread across wallets.
type Mode string

const (
	// ModeSingle prepares and sends one bundle per wallet, in input order,
	// with a fixed inter-wallet delay.
	ModeSingle Mode = "single"
	// ModeBatch prepares one shared bundle set per wallet chunk and sends
	// chunks in input order with an inter-batch delay.
	ModeBatch Mode = "batch"
	// ModeAllInOne prepares a single bundle set covering every wallet and
	// sends the resulting sub-bundles concurrently, staggered.
	ModeAllInOne Mode = "all-in-one"
)

// Config describes one trade to execute across the wallet set.
type Config struct {
	TokenAddress string  `json:"tokenAddress"`
	TradeType    string  `json:"tradeType"`
	Amount       float64 `json:"amount,omitempty"`
	// Percentage, when non-zero, sells that share of each wallet's holding
	// instead of a fixed amount.
	Percentage     int    `json:"percentage,omitempty"`
	SlippageBps    int    `json:"slippageBps"`
	FeeTipLamports uint64 `json:"feeTipLamports"`
	Mode           Mode   `json:"mode"`
}

func (c *Config) validate() error {
	if c.TokenAddress == "" {
		return errors.New("trade config: token address required")
	}
	switch c.Mode {
	case ModeSingle, ModeBatch, ModeAllInOne:
		return nil
	default:
		return fmt.Errorf("trade config: unknown mode %q", c.Mode)
	}
}

// UnitResult is the outcome of one send unit (a wallet in single mode, a
// chunk in batch mode, a sub-bundle in all-in-one mode).
type UnitResult struct {
	Wallets  int    `json:"wallets"`
	BundleID string `json:"bundleId,omitempty"`
	Err      string `json:"error,omitempty"`
}

func (u UnitResult) Succeeded() bool {
	return u.Err == ""
}

// Result aggregates every unit of one Execute invocation.
type Result struct {
	Success   bool         `json:"success"`
	Units     []UnitResult `json:"units"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Summary   string       `json:"summary"`
}

type signFunc func(Bundle, func(solana.PublicKey) *solana.PrivateKey) (Bundle, int, error)

// Executor sends signed transaction bundles under the selected concurrency
// mode, aggregating partial failures instead of aborting. Unit errors never
// escape Execute; only configuration problems do.
type Executor struct {
	api     API
	sign    signFunc
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	history *HistoryStore
	circuit string
	cfg     params.TradeConfig
	log     *zap.Logger
}

// NewExecutor builds an executor. history may be nil to skip persistence.
func NewExecutor(api API, history *HistoryStore, cfg params.TradeConfig) *Executor {
	return &Executor{
		api:     api,
		sign:    signBundle,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.SendsPerSecond),
		breaker: circuitbreaker.NewBreaker(circuitbreaker.Config{
			Timeout:                30000,
			MaxConcurrentRequests:  100,
			RequestVolumeThreshold: 10,
			SleepWindow:            10000,
			ErrorPercentThreshold:  50,
		}),
		history: history,
		circuit: "bundle-submit",
		cfg:     cfg,
		log:     logutils.ZapLogger().Named("trade"),
	}
}

// Execute runs one trade across the wallet set and records a single
// history entry summarizing the invocation.
func (e *Executor) Execute(ctx context.Context, wallets []wallet.Wallet, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, errors.New("trade: no wallets")
	}

	keyring := wallet.Keyring(wallets)

	var units []UnitResult
	switch cfg.Mode {
	case ModeSingle:
		units = e.runSingle(ctx, wallets, cfg, keyring)
	case ModeBatch:
		units = e.runBatch(ctx, wallets, cfg, keyring)
	case ModeAllInOne:
		units = e.runAllInOne(ctx, wallets, cfg, keyring)
	}

	result := summarize(units)
	e.log.Info("trade finished",
		zap.String("mode", string(cfg.Mode)),
		zap.String("tradeType", cfg.TradeType),
		zap.Int("wallets", len(wallets)),
		zap.String("summary", result.Summary))

	e.record(ctx, len(wallets), cfg, result)
	return result, nil
}

func summarize(units []UnitResult) *Result {
	res := &Result{Units: units}
	for _, u := range units {
		if u.Succeeded() {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}
	res.Success = res.Failed == 0
	res.Summary = fmt.Sprintf("%d succeeded, %d failed", res.Succeeded, res.Failed)
	return res
}

func (e *Executor) record(ctx context.Context, walletCount int, cfg Config, res *Result) {
	if e.history == nil {
		return
	}
	entry := HistoryEntry{
		TradeType:   cfg.TradeType,
		Mode:        string(cfg.Mode),
		WalletCount: walletCount,
		Amount:      cfg.Amount,
		Success:     res.Success,
		Summary:     res.Summary,
	}
	if err := e.history.Add(ctx, entry); err != nil {
		e.log.Warn("failed to record trade history", zap.Error(err))
	}
}

func (e *Executor) prepareRequest(cfg Config, addrs []string) PrepareRequest {
	return PrepareRequest{
		TokenAddress:    cfg.TokenAddress,
		WalletAddresses: addrs,
		TradeType:       cfg.TradeType,
		Amount:          cfg.Amount,
		Percentage:      cfg.Percentage,
		SlippageBps:     cfg.SlippageBps,
		FeeTipLamports:  cfg.FeeTipLamports,
		Encoding:        "base64",
	}
}

func (e *Executor) runSingle(ctx context.Context, wallets []wallet.Wallet, cfg Config, keyring func(solana.PublicKey) *solana.PrivateKey) []UnitResult {
	var units []UnitResult
	for i := range wallets {
		w := wallets[i]
		unit := UnitResult{Wallets: 1}
		sent, err := e.prepareSignSend(ctx, cfg, []string{w.Address.String()}, keyring, &unit)
		if err != nil {
			unit.Err = err.Error()
			e.log.Warn("wallet trade failed, continuing",
				zap.String("wallet", w.Address.String()),
				zap.Error(err))
		}
		if sent || err != nil {
			units = append(units, unit)
		}

		if i < len(wallets)-1 {
			if sleepErr := sleepCtx(ctx, e.cfg.SingleWalletDelay); sleepErr != nil {
				break
			}
		}
	}
	return units
}

func (e *Executor) runBatch(ctx context.Context, wallets []wallet.Wallet, cfg Config, keyring func(solana.PublicKey) *solana.PrivateKey) []UnitResult {
	var units []UnitResult
	chunks := chunkWallets(wallets, e.cfg.MaxTxPerBundle)
	for ci, chunk := range chunks {
		unit := UnitResult{Wallets: len(chunk)}
		sent, err := e.prepareSignSend(ctx, cfg, wallet.Addresses(chunk), keyring, &unit)
		if err != nil {
			unit.Err = err.Error()
			e.log.Warn("batch trade failed, continuing",
				zap.Int("batch", ci),
				zap.Int("wallets", len(chunk)),
				zap.Error(err))
		}
		if sent || err != nil {
			units = append(units, unit)
		}

		if ci < len(chunks)-1 {
			if sleepErr := sleepCtx(ctx, e.cfg.BatchDelay); sleepErr != nil {
				break
			}
		}
	}
	return units
}

// prepareSignSend runs the prepare -> sign -> split -> send pipeline for
// one unit. Bundles with zero signable transactions are skipped; sent
// reports whether anything actually went out.
func (e *Executor) prepareSignSend(ctx context.Context, cfg Config, addrs []string, keyring func(solana.PublicKey) *solana.PrivateKey, unit *UnitResult) (sent bool, err error) {
	bundles, err := e.api.PrepareBundles(ctx, e.prepareRequest(cfg, addrs))
	if err != nil {
		return false, stageErr(StagePrepare, err)
	}

	for _, bundle := range bundles {
		signed, signable, err := e.sign(bundle, keyring)
		if err != nil {
			return sent, err
		}
		if signable == 0 || len(signed) == 0 {
			continue
		}

		for _, sub := range splitBundle(signed, e.cfg.MaxTxPerBundle, e.cfg.MaxSubBundles) {
			id, err := e.sendBundle(ctx, sub)
			if err != nil {
				return sent, stageErr(StageSend, err)
			}
			unit.BundleID = id
			sent = true
		}
	}
	return sent, nil
}

func (e *Executor) runAllInOne(ctx context.Context, wallets []wallet.Wallet, cfg Config, keyring func(solana.PublicKey) *solana.PrivateKey) []UnitResult {
	bundles, err := e.api.PrepareBundles(ctx, e.prepareRequest(cfg, wallet.Addresses(wallets)))
	if err != nil {
		return []UnitResult{{Wallets: len(wallets), Err: stageErr(StagePrepare, err).Error()}}
	}

	var sends []Bundle
	var units []UnitResult
	for _, bundle := range bundles {
		signed, signable, err := e.sign(bundle, keyring)
		if err != nil {
			units = append(units, UnitResult{Wallets: len(bundle), Err: err.Error()})
			continue
		}
		if signable == 0 || len(signed) == 0 {
			continue
		}
		sends = append(sends, splitBundle(signed, e.cfg.MaxTxPerBundle, e.cfg.MaxSubBundles)...)
	}

	// Settle-all: every sub-bundle send is awaited regardless of failures.
	// Launches are staggered so nothing hits the relay in the same instant.
	var mu sync.Mutex
	ccm := goccm.New(e.cfg.MaxSubBundles)
	for i := range sends {
		idx, txs := i, sends[i]
		ccm.Wait()
		go func() {
			defer ccm.Done()
			_ = sleepCtx(ctx, time.Duration(idx)*e.cfg.BundleStagger)

			unit := UnitResult{Wallets: len(txs)}
			id, err := e.sendBundle(ctx, txs)
			if err != nil {
				unit.Err = stageErr(StageSend, err).Error()
			} else {
				unit.BundleID = id
			}

			mu.Lock()
			units = append(units, unit)
			mu.Unlock()
		}()
	}
	ccm.WaitAllDone()

	return units
}

// sendBundle performs the pre-send rate-limit gate, then submits through
// the circuit breaker with bounded retry/backoff.
func (e *Executor) sendBundle(ctx context.Context, txs Bundle) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	res, err := e.breaker.Do(ctx, circuitbreaker.Attempt{
		Name: e.circuit,
		Call: func() (any, error) {
			var id string
			op := func() error {
				var opErr error
				id, opErr = e.api.SubmitBundle(ctx, txs)
				return opErr
			}

			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 250 * time.Millisecond
			bo.MaxElapsedTime = 5 * time.Second
			if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)); err != nil {
				return nil, err
			}
			return id, nil
		},
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
