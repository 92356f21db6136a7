package process

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

// Retrying restarts r after it failed, waiting after between attempts,
// until ctx is canceled or r returns nil.
func Retrying(log logr.Logger, after time.Duration, r Runnable) Runnable {
	log = log.WithName("retry")
	return RunnableFunc(func(ctx context.Context) error {
		for {
			err := r.Start(ctx)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return err
			}
			log.Info("Error while running process, retrying...",
				"error", err, "retryAfter", after.String())
			select {
			case <-ctx.Done():
				return err
			case <-time.After(after):
			}
		}
	})
}
