package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// scheduleBackOff walks a fixed delay schedule indexed by attempt, repeating
// the last delay. A server-provided delay replaces the next scheduled one.
type scheduleBackOff struct {
	delays   []time.Duration
	attempt  int
	override time.Duration
}

func newScheduleBackOff(delays []time.Duration) *scheduleBackOff {
	return &scheduleBackOff{delays: delays}
}

// NextBackOff implements backoff.BackOff.
func (b *scheduleBackOff) NextBackOff() time.Duration {
	i := b.attempt
	b.attempt++

	if b.override > 0 {
		d := b.override
		b.override = 0
		return d
	}
	if len(b.delays) == 0 {
		return 0
	}
	if i >= len(b.delays) {
		i = len(b.delays) - 1
	}
	return b.delays[i]
}

// Reset implements backoff.BackOff.
func (b *scheduleBackOff) Reset() {
	b.attempt = 0
	b.override = 0
}

// execute runs item with retry. Every attempt is admitted through the window.
// Not-retryable errors are returned as is; other failures are retried up to
// MaxRetries times and then returned wrapped in ErrRetryExhausted.
func (g *Gate) execute(item *queueItem) error {
	ctx, cancel := context.WithCancel(item.ctx)
	defer cancel()
	stop := context.AfterFunc(g.ctx, cancel)
	defer stop()

	schedule := newScheduleBackOff(g.cfg.RetryDelays)
	attempts := 0
	var lastErr error
	var lastClass ErrorClass

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := g.admit(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		attempts++

		err := g.attempt(ctx, item)
		if err == nil {
			return struct{}{}, nil
		}

		lastErr = err
		lastClass = Classify(err)
		if !lastClass.IsRetryable() {
			return struct{}{}, backoff.Permanent(err)
		}

		var se *StatusError
		if lastClass == ErrorClassRateLimit && errors.As(err, &se) && se.RetryAfter > 0 {
			schedule.override = se.RetryAfter
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(g.cfg.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			class := Classify(err)
			retriesTotal.WithLabelValues(string(class)).Inc()
			retryBackoffSeconds.WithLabelValues(string(class)).Observe(d.Seconds())
			g.logger.Warn().
				Err(err).
				Str("request_id", item.id).
				Str("error_class", string(class)).
				Int("attempt", attempts).
				Int("max_retries", g.cfg.MaxRetries).
				Dur("backoff", d).
				Msg("Request failed, retrying after backoff")
		}),
	)

	switch {
	case err == nil:
		requestsTotal.WithLabelValues("success").Inc()
		if attempts > 1 {
			g.logger.Info().
				Str("request_id", item.id).
				Int("attempt", attempts).
				Msg("Request succeeded after retry")
		}
		return nil

	case ctx.Err() != nil:
		requestsTotal.WithLabelValues("aborted").Inc()
		if item.ctx.Err() == nil && g.ctx.Err() != nil {
			return ErrGateClosed
		}
		return item.ctx.Err()

	case lastErr == nil:
		requestsTotal.WithLabelValues("aborted").Inc()
		return err

	case !lastClass.IsRetryable():
		requestsTotal.WithLabelValues("failed").Inc()
		return lastErr

	default:
		requestsTotal.WithLabelValues("exhausted").Inc()
		retryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
		g.logger.Error().
			Err(lastErr).
			Str("request_id", item.id).
			Str("error_class", string(lastClass)).
			Int("attempts", attempts).
			Msg("Retry attempts exhausted")
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
	}
}

// attempt runs one request under the per-attempt timeout and feeds any rate
// limit headers to the tracker.
func (g *Gate) attempt(ctx context.Context, item *queueItem) error {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	header, err := g.call(attemptCtx, item.op)

	var se *StatusError
	if header == nil && errors.As(err, &se) {
		header = se.Header
	}
	if header != nil {
		if uerr := g.tracker.UpdateFromHeaders(ctx, header); uerr != nil {
			g.logger.Debug().Err(uerr).Msg("Ignoring malformed rate limit headers")
		}
	}

	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) &&
		!errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("request timed out after %s: %w: %w", g.cfg.Timeout, context.DeadlineExceeded, err)
	}
	return err
}

// call runs op, turning a panic into ErrOperationPanic so the dispatch loop
// survives it.
func (g *Gate) call(ctx context.Context, op Operation) (header http.Header, err error) {
	defer func() {
		if r := recover(); r != nil {
			header, err = nil, fmt.Errorf("%w: %v", ErrOperationPanic, r)
		}
	}()
	return op(ctx)
}
