package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

// callEngine runs fn bounded by timeout. A result that arrives after the
// caller gave up is handed to discard so the engine resource is not leaked.
func callEngine[T any](
	ctx context.Context,
	timeout time.Duration,
	op string,
	fn func(context.Context) (T, error),
	discard func(T),
) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		var res result
		var pc panics.Catcher
		pc.Try(func() { res.v, res.err = fn(ctx) })
		if r := pc.Recovered(); r != nil {
			res.err = r.AsError()
		}
		done <- res
	}()

	select {
	case res := <-done:
		metrics.EngineCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if res.err != nil {
			return zero, fmt.Errorf("%s: %w: %w", op, domain.ErrEngineFailure, res.err)
		}
		return res.v, nil
	case <-ctx.Done():
		go func() {
			res := <-done
			if res.err == nil && discard != nil {
				discard(res.v)
			}
		}()
		return zero, fmt.Errorf("%s: %w: %w", op, domain.ErrEngineFailure, ctx.Err())
	}
}

// callEngineErr is callEngine for operations without a result.
func callEngineErr(ctx context.Context, timeout time.Duration, op string, fn func(context.Context) error) error {
	_, err := callEngine(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}
