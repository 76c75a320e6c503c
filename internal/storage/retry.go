package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/genc-murat/ringtsdb/internal/core/models"
)

// WithRetry re-runs op with exponential backoff while it fails with a
// transient backend error. Multi-transaction operations are built from
// idempotent steps, so re-running a step is always safe.
func WithRetry(ctx context.Context, strategy models.RetryStrategy, log *slog.Logger, op func(context.Context) error) error {
	interval := strategy.InitialInterval
	var err error
	for attempt := 1; ; attempt++ {
		err = op(ctx)
		if err == nil || !errors.Is(err, models.ErrBackendTransient) {
			return err
		}
		if attempt >= strategy.MaxAttempts {
			return err
		}
		log.Warn("transient backend error, retrying", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return errors.Mark(ctx.Err(), models.ErrBackendTransient)
		case <-time.After(interval):
		}
		interval = strategy.NextInterval(interval)
	}
}
