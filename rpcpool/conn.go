package rpcpool

import (
	"fmt"
	"net/url"

	"github.com/gagliardetto/solana-go/rpc"
)

// DialFunc constructs the underlying transport for an endpoint URL.
// Replaced in tests.
type DialFunc func(endpointURL string) (*rpc.Client, error)

func defaultDial(endpointURL string) (*rpc.Client, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint url %q: %w", endpointURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return rpc.New(endpointURL), nil
}

// Conn is a short-lived connection handle bound to one endpoint. It is
// owned exclusively by the executor that requested it and is discarded
// after use; only the endpoint metadata is pooled. Failures surface lazily
// when the connection is used, not at creation time.
type Conn struct {
	endpoint Endpoint
	client   *rpc.Client
}

// Client exposes the underlying RPC client.
func (c *Conn) Client() *rpc.Client {
	return c.client
}

// Endpoint returns a copy of the endpoint this handle is bound to.
func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}
