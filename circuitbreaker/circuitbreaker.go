package circuitbreaker

import (
	"context"
	"fmt"

	"github.com/afex/hystrix-go/hystrix"
)

// Call performs one attempt of a guarded operation.
type Call func() (any, error)

// Attempt names a Call so it gets its own hystrix circuit; sends through a
// tripped circuit short-circuit immediately.
type Attempt struct {
	Name string
	Call Call
}

type Config struct {
	Timeout                int
	MaxConcurrentRequests  int
	RequestVolumeThreshold int
	SleepWindow            int
	ErrorPercentThreshold  int
}

// Breaker runs attempts in order inside their circuits until one succeeds.
// Errors from failed attempts accumulate into the returned error so a total
// failure lists every underlying cause.
type Breaker struct {
	cfg Config
}

func NewBreaker(cfg Config) *Breaker {
	return &Breaker{cfg: cfg}
}

func (b *Breaker) Do(ctx context.Context, attempts ...Attempt) (any, error) {
	if len(attempts) == 0 {
		return nil, fmt.Errorf("no attempts given")
	}

	var (
		result  any
		accErrs error
	)
	for _, attempt := range attempts {
		if hystrix.GetCircuitSettings()[attempt.Name] == nil {
			hystrix.ConfigureCommand(attempt.Name, hystrix.CommandConfig{
				Timeout:                b.cfg.Timeout,
				MaxConcurrentRequests:  b.cfg.MaxConcurrentRequests,
				RequestVolumeThreshold: b.cfg.RequestVolumeThreshold,
				SleepWindow:            b.cfg.SleepWindow,
				ErrorPercentThreshold:  b.cfg.ErrorPercentThreshold,
			})
		}

		err := hystrix.DoC(ctx, attempt.Name, func(ctx context.Context) error {
			res, err := attempt.Call()
			if err == nil {
				result = res
			}
			return err
		}, nil)

		if err == nil {
			return result, nil
		}

		if accErrs != nil {
			accErrs = fmt.Errorf("%w; %s: %w", accErrs, attempt.Name, err)
		} else {
			accErrs = fmt.Errorf("%s: %w", attempt.Name, err)
		}
	}

	return nil, accErrs
}
