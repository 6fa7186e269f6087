package ports

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenk/backoff"
)

// RetryPolicy bounds the attempts made for one port stage.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

// DefaultRetryPolicy retries a failing stage three times.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 250 * time.Millisecond}

// Retry runs op until it succeeds, the policy is exhausted or ctx is done.
// Errors wrapped with backoff.Permanent stop immediately.
func Retry(ctx context.Context, policy RetryPolicy, log *slog.Logger, what string, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	if policy.BaseDelay > 0 {
		exp.InitialInterval = policy.BaseDelay
	}
	b := backoff.WithContext(backoff.WithMaxRetries(exp, policy.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		logger(log).Warn("retrying after failure", "op", what, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(op, b, notify)
}
