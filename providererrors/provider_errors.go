package providererrors

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

type ProviderErrorType string

const (
	ErrorTypeNone      ProviderErrorType = "none"
	ErrorTypeRateLimit ProviderErrorType = "rate_limit"
	ErrorTypeProtocol  ProviderErrorType = "protocol"
	ErrorTypeNotFound  ProviderErrorType = "not_found"
	ErrorTypeOther     ProviderErrorType = "other"
)

// JSON-RPC error codes some providers return when throttling.
const (
	rpcCodeNodeBehind      = -32005
	rpcCodeTooManyRequests = -32429
)

var rateLimitMarkers = []string{
	"too many requests",
	"rate limit",
	"rate-limit",
	"429",
}

// IsRateLimitError reports whether err indicates provider-side throttling:
// an HTTP 429, a throttling JSON-RPC code, or rate-limit wording in the
// transport error message.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code == http.StatusTooManyRequests {
		return true
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == rpcCodeNodeBehind || rpcErr.Code == rpcCodeTooManyRequests {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsProtocolError reports whether the remote call responded with a
// well-formed JSON-RPC error payload.
func IsProtocolError(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr)
}

// IsNotFoundError matches the "account does not exist" responses returned
// for wallets that never held the queried token.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") ||
		strings.Contains(msg, "account does not exist") ||
		strings.Contains(msg, "not found")
}

// Classify determines the ProviderErrorType of err.
func Classify(err error) ProviderErrorType {
	switch {
	case err == nil:
		return ErrorTypeNone
	case IsRateLimitError(err):
		return ErrorTypeRateLimit
	case IsNotFoundError(err):
		return ErrorTypeNotFound
	case IsProtocolError(err):
		return ErrorTypeProtocol
	default:
		return ErrorTypeOther
	}
}
