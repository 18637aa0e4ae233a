package translator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// poll retries probe at a constant interval, logging every attempt and
// failure, until it returns a defined value (ok=true) or ctx is cancelled.
// This is the translator's generic retry helper (spec: "given a name and an
// async probe, loop with the configured interval until the probe returns a
// defined value").
func poll[T any](ctx context.Context, name string, interval time.Duration, logger *slog.Logger, probe func(context.Context) (T, bool, error)) (T, error) {
	var result T

	op := func() error {
		v, ok, err := probe(ctx)
		if err != nil {
			logger.Warn("poll attempt failed", "probe", name, "err", err)
			return err
		}
		if !ok {
			logger.Debug("poll attempt not yet available", "probe", name)
			return fmt.Errorf("%s: not yet available", name)
		}
		result = v
		return nil
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return result, err
	}
	return result, nil
}
