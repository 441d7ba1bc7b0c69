// Package problems supplies the immutable problem snapshot a match is
// played on. The upstream judge API is the normal source; a built-in
// fallback guarantees a match can always start.
package problems

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/dom/code-arena/internal/domain"
)

// SampleVisibleCount is how many extracted test cases are shown to the
// participants. Every extracted case belongs to the hidden suite.
const SampleVisibleCount = 2

type Provider interface {
	Fetch(ctx context.Context) (*domain.Problem, error)
}

// RetryingProvider wraps another provider with a bounded exponential
// backoff. It never retries past the configured attempt count so the
// Starting countdown cannot stall on a dead upstream.
type RetryingProvider struct {
	inner    Provider
	attempts int
	log      zerolog.Logger
}

func NewRetryingProvider(inner Provider, attempts int, log zerolog.Logger) *RetryingProvider {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingProvider{inner: inner, attempts: attempts, log: log}
}

func (p *RetryingProvider) Fetch(ctx context.Context) (*domain.Problem, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	var problem *domain.Problem
	operation := func() error {
		var err error
		problem, err = p.inner.Fetch(ctx)
		if err != nil {
			p.log.Warn().Err(err).Msg("problem fetch attempt failed")
		}
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(p.attempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return problem, nil
}
