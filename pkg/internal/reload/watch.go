package reload

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/knadh/koanf/providers/file"
	"github.com/robinbraemer/event"
)

// DebounceDuration is how long Watch waits for writes to settle.
var DebounceDuration = 100 * time.Millisecond

// Watch calls cb after the file at path changed. Bursts of changes are
// debounced into one call. Watching stops when ctx is canceled.
func Watch(ctx context.Context, path string, cb func() error) error {
	if ctx.Err() != nil {
		return nil
	}
	log := logr.FromContextOrDiscard(ctx).WithValues("path", path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	provider := file.Provider(path)
	err := provider.Watch(func(_ any, err error) {
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Info("failed watching config", "error", err)
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(DebounceDuration, func() {
			mu.Lock()
			defer mu.Unlock()
			if ctx.Err() != nil {
				return
			}

			log.Info("auto-reloading config")
			start := time.Now()
			if err := cb(); err != nil {
				log.Info("failed to reload config", "error", err)
				return
			}
			log.Info("reloaded config successfully", "duration", time.Since(start).Round(time.Millisecond).String())
		})
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = provider.Unwatch()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()
	return nil
}

// WatchConfig watches path, parses it with load on every change and
// fires a ConfigUpdateEvent with the result. Failed loads keep the
// previous config and fire nothing.
func WatchConfig[T any](ctx context.Context, mgr event.Manager, path string, load func(path string) (*T, error)) error {
	return Watch(ctx, path, func() error {
		cfg, err := load(path)
		if err != nil {
			return err
		}
		FireConfigUpdate(mgr, path, cfg)
		return nil
	})
}
