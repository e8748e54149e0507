package builder

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Iron-Ham/epicrun/internal/errors"
	"github.com/Iron-Ham/epicrun/internal/logging"
)

// RetryingBuilder retries invocations whose process could not be spawned.
// A builder that started and then failed is never re-invoked.
type RetryingBuilder struct {
	next       Builder
	retries    int
	initial    time.Duration
	maxBackoff time.Duration
	logger     *logging.Logger
}

// NewRetryingBuilder wraps next with up to retries additional spawn attempts.
func NewRetryingBuilder(next Builder, retries int, initial, maxBackoff time.Duration, logger *logging.Logger) *RetryingBuilder {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &RetryingBuilder{
		next:       next,
		retries:    retries,
		initial:    initial,
		maxBackoff: maxBackoff,
		logger:     logger,
	}
}

func (r *RetryingBuilder) newBackoff(ctx context.Context) backoff.BackOff {
	// BackOff implementations are stateful; build a fresh one per invocation.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initial
	bo.MaxInterval = r.maxBackoff
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.retries)), ctx)
}

// Invoke implements Builder.
func (r *RetryingBuilder) Invoke(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		res, err = r.next.Invoke(ctx, req)
		if err != nil && errors.Is(err, errors.ErrSpawnFailed) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, r.newBackoff(ctx), func(err error, wait time.Duration) {
		r.logger.Warn("builder spawn failed, retrying",
			"ticket_id", req.TicketID,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err.Error(),
		)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
