package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"airdrop/offchain/internal/errs"
)

// RetryPolicy bounds how often a connectivity failure is retried before the
// workflow gives up on the step.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:      maxRetries,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retry runs fn until it succeeds, fails with a non-retryable kind, or the
// policy is exhausted. Only Connectivity errors are retried.
func retry[T any](ctx context.Context, p RetryPolicy, logger *zap.Logger, op string, fn func() (T, error)) (T, error) {
	attempt := 0
	result, err := backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		v, err := fn()
		if err != nil && !errs.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx), func(err error, next time.Duration) {
		logger.Warn("Retrying after connectivity error",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", next),
			zap.Error(err))
	})
	if err == nil {
		return result, nil
	}
	var classified *errs.Error
	switch {
	case errors.Is(ctx.Err(), context.Canceled) && errs.KindOf(err) != errs.KindCanceled:
		return result, errs.E(errs.KindCanceled, op, ctx.Err())
	case !errors.As(err, &classified) && errors.Is(err, context.DeadlineExceeded):
		return result, errs.E(errs.KindConnectivity, op, err)
	}
	return result, err
}

// submit sends one transaction under the retry policy. Failures before
// signing are retried like any call. Once a signed hash comes back with a
// Connectivity error the broadcast may have landed, so the hash is returned
// for the caller to await and nothing is signed again.
func submit(ctx context.Context, p RetryPolicy, logger *zap.Logger, op string, send func() (common.Hash, error)) (common.Hash, error) {
	return retry(ctx, p, logger, op, func() (common.Hash, error) {
		hash, err := send()
		if err != nil && hash != (common.Hash{}) && errs.KindOf(err) == errs.KindConnectivity {
			logger.Warn("Broadcast outcome unknown, awaiting receipt",
				zap.String("op", op),
				zap.String("tx_hash", hash.Hex()),
				zap.Error(err))
			return hash, nil
		}
		if err != nil {
			return common.Hash{}, err
		}
		return hash, nil
	})
}
