package trade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/razedotbot/solana-ui-sub003/logutils"
	"github.com/razedotbot/solana-ui-sub003/params"
)

// Bundle is an ordered list of base64-encoded transaction payloads that
// must land together.
type Bundle []string

// PrepareRequest asks the backend for partially-prepared bundles covering
// the given wallets. Amount and Percentage are mutually exclusive; the
// backend treats a non-zero Percentage as a sell-percentage request.
type PrepareRequest struct {
	TokenAddress    string   `json:"tokenAddress"`
	WalletAddresses []string `json:"walletAddresses"`
	TradeType       string   `json:"tradeType"`
	Amount          float64  `json:"amount,omitempty"`
	Percentage      int      `json:"percentage,omitempty"`
	SlippageBps     int      `json:"slippageBps"`
	FeeTipLamports  uint64   `json:"feeTipLamports"`
	Encoding        string   `json:"encoding"`
}

// API is the backend surface the executor depends on.
type API interface {
	PrepareBundles(ctx context.Context, req PrepareRequest) ([]Bundle, error)
	SubmitBundle(ctx context.Context, txs Bundle) (string, error)
}

// Client talks to the trade-preparation and bundle-submission HTTP APIs.
type Client struct {
	cfg  params.BackendConfig
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg params.BackendConfig) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout},
		log:  logutils.ZapLogger().Named("trade.api"),
	}
}

type prepareResponse struct {
	Bundles []Bundle `json:"bundles"`
	Error   string   `json:"error,omitempty"`
}

// PrepareBundles fetches partially-prepared transaction bundles for the
// request. The payloads are opaque to this layer until signing.
func (c *Client) PrepareBundles(ctx context.Context, req PrepareRequest) ([]Bundle, error) {
	if req.Encoding == "" {
		req.Encoding = "base64"
	}

	var resp prepareResponse
	if err := c.post(ctx, c.cfg.TradeAPIURL, "/api/trade/prepare", req, &resp); err != nil {
		return nil, errors.Wrap(err, "prepare bundles")
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("prepare bundles: backend error: %s", resp.Error)
	}
	return resp.Bundles, nil
}

type submitRequest struct {
	Transactions Bundle `json:"transactions"`
}

type submitResponse struct {
	BundleID string `json:"bundleId"`
	Error    string `json:"error,omitempty"`
}

// SubmitBundle sends fully-signed transaction payloads and returns the
// submission acknowledgement id.
func (c *Client) SubmitBundle(ctx context.Context, txs Bundle) (string, error) {
	var resp submitResponse
	if err := c.post(ctx, c.cfg.SubmitAPIURL, "/api/bundles/submit", submitRequest{Transactions: txs}, &resp); err != nil {
		return "", errors.Wrap(err, "submit bundle")
	}
	if resp.Error != "" {
		return "", fmt.Errorf("submit bundle: backend error: %s", resp.Error)
	}
	return resp.BundleID, nil
}

func (c *Client) post(ctx context.Context, base, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := strings.TrimRight(base, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
