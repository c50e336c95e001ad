package balance

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
	"github.com/razedotbot/solana-ui-sub003/providererrors"
	"github.com/razedotbot/solana-ui-sub003/rpcpool"
)

// TokenAmount is an SPL token balance as reported by the RPC node.
type TokenAmount struct {
	Amount   string  `json:"amount"`
	Decimals uint8   `json:"decimals"`
	UIAmount float64 `json:"uiAmount"`
}

// WalletBalance is the refreshed state of a single wallet.
type WalletBalance struct {
	Lamports uint64       `json:"lamports"`
	Token    *TokenAmount `json:"token,omitempty"`
}

// Balances maps wallet addresses to their refreshed SOL and token balances.
// Wallets whose fetch failed for a non-rate-limit reason are absent and
// keep their prior value on the caller side.
type Balances struct {
	Lamports map[string]uint64      `json:"baseCurrencyBalances"`
	Tokens   map[string]TokenAmount `json:"tokenBalances"`
}

// FetchFunc fetches one wallet over the given connection. Replaced in tests.
type FetchFunc func(ctx context.Context, conn *rpcpool.Conn, owner solana.PublicKey, mint *solana.PublicKey) (WalletBalance, error)

// Options carries the caller-visible callbacks of one refresh invocation.
type Options struct {
	// OnUpdate receives each wallet result as it lands, so partial
	// progress can be rendered.
	OnUpdate func(address string, balance WalletBalance)
	// OnRateLimited fires at most once per invocation, on the first
	// rate-limit observation.
	OnRateLimited func()
}

// phase is the concurrency level of the refresher. Transitions are one-way
// and only triggered by a rate-limit observation in the previous phase.
type phase int

const (
	phaseParallel phase = iota
	phaseBatched
	phaseSequential
)

func (p phase) String() string {
	switch p {
	case phaseParallel:
		return "parallel"
	case phaseBatched:
		return "batched"
	default:
		return "sequential"
	}
}

// Refresher performs bulk balance refresh against the endpoint pool,
// degrading from full parallelism to batched to sequential execution when
// providers start rate limiting.
type Refresher struct {
	pool  *rpcpool.Pool
	fetch FetchFunc
	cfg   params.RefreshConfig
	log   *zap.Logger
}

func NewRefresher(pool *rpcpool.Pool, cfg params.RefreshConfig) *Refresher {
	return &Refresher{
		pool:  pool,
		fetch: solanaFetch,
		cfg:   cfg,
		log:   logutils.ZapLogger().Named("balance"),
	}
}

// Refresh fetches SOL balances for every owner, and the mint token balance
// when mint is non-nil. Per-wallet failures never abort the whole run:
// rate-limited wallets are carried into the next phase, any other failure
// is swallowed at that wallet's granularity. Only pool-level errors (no
// usable endpoint at all) propagate.
func (r *Refresher) Refresh(ctx context.Context, owners []solana.PublicKey, mint *solana.PublicKey, opts Options) (*Balances, error) {
	balances := &Balances{
		Lamports: make(map[string]uint64, len(owners)),
		Tokens:   make(map[string]TokenAmount, len(owners)),
	}
	if len(owners) == 0 {
		return balances, nil
	}

	collector := &collector{balances: balances, onUpdate: opts.OnUpdate}

	pending := make([]solana.PublicKey, len(owners))
	copy(pending, owners)

	notified := false
	for ph := phaseParallel; len(pending) > 0; ph++ {
		var (
			limited bool
			err     error
		)
		switch ph {
		case phaseParallel:
			pending, limited, err = r.runParallel(ctx, pending, mint, collector)
		case phaseBatched:
			pending, limited, err = r.runBatched(ctx, pending, mint, collector)
		case phaseSequential:
			pending, limited, err = r.runSequential(ctx, pending, mint, collector)
		}
		if err != nil {
			return balances, err
		}
		if limited && !notified {
			notified = true
			if opts.OnRateLimited != nil {
				opts.OnRateLimited()
			}
		}
		if limited && ph < phaseSequential {
			r.log.Info("rate limit detected, degrading refresh concurrency",
				zap.Stringer("nextPhase", ph+1),
				zap.Int("remaining", len(pending)))
			continue
		}
		break
	}

	return balances, nil
}

// collector owns the result maps of one invocation. No other writer exists.
type collector struct {
	mu       sync.Mutex
	balances *Balances
	onUpdate func(string, WalletBalance)
}

func (c *collector) commit(owner solana.PublicKey, wb WalletBalance) {
	addr := owner.String()
	c.mu.Lock()
	c.balances.Lamports[addr] = wb.Lamports
	if wb.Token != nil {
		c.balances.Tokens[addr] = *wb.Token
	}
	c.mu.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(addr, wb)
	}
}

// fetchOne executes one wallet fetch. It reports whether the wallet was
// rate limited (stays pending) and therefore not processed.
func (r *Refresher) fetchOne(ctx context.Context, conn *rpcpool.Conn, owner solana.PublicKey, mint *solana.PublicKey, c *collector) (limited bool) {
	wb, err := r.fetch(ctx, conn, owner, mint)
	if err != nil {
		if providererrors.IsRateLimitError(err) {
			// Throttling is handled by phase degradation, not rotation.
			return true
		}
		// Swallowed: the wallet keeps its prior value. The endpoint is
		// marked so rotation steers the next connection elsewhere.
		r.pool.MarkFailure(conn.Endpoint().ID)
		r.log.Debug("wallet refresh failed",
			zap.String("wallet", owner.String()),
			zap.Error(err))
		return false
	}
	c.commit(owner, wb)
	return false
}

func (r *Refresher) runParallel(ctx context.Context, owners []solana.PublicKey, mint *solana.PublicKey, c *collector) (stillPending []solana.PublicKey, limited bool, err error) {
	conn, err := r.pool.CreateConnection()
	if err != nil {
		return nil, false, err
	}

	// Each goroutine owns its own index, so the pending set can be rebuilt
	// in input order afterwards.
	pending := make([]bool, len(owners))
	var wg sync.WaitGroup
	for i := range owners {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			pending[i] = r.fetchOne(ctx, conn, owners[i], mint, c)
		}()
	}
	wg.Wait()

	stillPending, limited = collectPending(owners, pending)
	return stillPending, limited, nil
}

func (r *Refresher) runBatched(ctx context.Context, owners []solana.PublicKey, mint *solana.PublicKey, c *collector) (stillPending []solana.PublicKey, limited bool, err error) {
	pending := make([]bool, len(owners))
	for start := 0; start < len(owners); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(owners) {
			end = len(owners)
		}

		conn, connErr := r.pool.CreateConnection()
		if connErr != nil {
			return nil, false, connErr
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				pending[i] = r.fetchOne(ctx, conn, owners[i], mint, c)
			}()
		}
		wg.Wait()

		if end < len(owners) {
			if err = sleep(ctx, r.cfg.StepDelay); err != nil {
				break
			}
		}
	}

	stillPending, limited = collectPending(owners, pending)
	return stillPending, limited, err
}

// collectPending filters owners down to the still-pending subset, keeping
// the original input order for the next phase.
func collectPending(owners []solana.PublicKey, pending []bool) ([]solana.PublicKey, bool) {
	var out []solana.PublicKey
	for i, owner := range owners {
		if pending[i] {
			out = append(out, owner)
		}
	}
	return out, len(out) > 0
}

// runSequential is the terminal phase: a rate-limited wallet gets one
// delayed retry over a fresh connection, then is left at its prior value
// so the invocation always converges.
func (r *Refresher) runSequential(ctx context.Context, owners []solana.PublicKey, mint *solana.PublicKey, c *collector) (stillPending []solana.PublicKey, limited bool, err error) {
	for i, owner := range owners {
		conn, err := r.pool.CreateConnection()
		if err != nil {
			return nil, limited, err
		}

		if r.fetchOne(ctx, conn, owner, mint, c) {
			limited = true
			if err := sleep(ctx, r.cfg.StepDelay); err != nil {
				return nil, limited, err
			}
			retryConn, err := r.pool.CreateConnection()
			if err != nil {
				return nil, limited, err
			}
			if r.fetchOne(ctx, retryConn, owner, mint, c) {
				r.log.Warn("wallet still rate limited after sequential retry, keeping prior value",
					zap.String("wallet", owner.String()))
			}
		}

		if i < len(owners)-1 {
			if err := sleep(ctx, r.cfg.StepDelay); err != nil {
				return nil, limited, err
			}
		}
	}

	return nil, limited, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// solanaFetch is the production FetchFunc: one getBalance plus, when a mint
// is requested, the associated token account balance. A missing token
// account reads as zero, not as an error.
func solanaFetch(ctx context.Context, conn *rpcpool.Conn, owner solana.PublicKey, mint *solana.PublicKey) (WalletBalance, error) {
	client := conn.Client()

	balRes, err := client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return WalletBalance{}, err
	}
	wb := WalletBalance{Lamports: balRes.Value}

	if mint == nil {
		return wb, nil
	}

	ata, _, err := solana.FindAssociatedTokenAddress(owner, *mint)
	if err != nil {
		return WalletBalance{}, err
	}
	tokRes, err := client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if providererrors.IsNotFoundError(err) {
			wb.Token = &TokenAmount{Amount: "0"}
			return wb, nil
		}
		return WalletBalance{}, err
	}

	amount := TokenAmount{Amount: tokRes.Value.Amount, Decimals: tokRes.Value.Decimals}
	if tokRes.Value.UiAmount != nil {
		amount.UIAmount = *tokRes.Value.UiAmount
	}
	wb.Token = &amount
	return wb, nil
}
