package rpcpool

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyPool is returned when a pool would end up without a single
// active endpoint. Construction and reconfiguration both refuse that state.
var ErrEmptyPool = errors.New("rpc pool: no active endpoints")

// AllEndpointsFailedError is returned by CreateConnection when every
// endpoint in the pool failed a connection attempt. The pool stays usable:
// failure counters persist and decay with the reset window.
type AllEndpointsFailedError struct {
	Failures map[string]error
}

func (e *AllEndpointsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for name, err := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", name, err))
	}
	return fmt.Sprintf("all %d endpoints failed: %s", len(e.Failures), strings.Join(parts, "; "))
}
