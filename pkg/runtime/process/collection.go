// Package process runs the host's background loops and stops them
// together.
package process

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Runnable allows a component to be started.
// It's very important that Start blocks until it's done running.
type Runnable interface {
	// Start runs the component until ctx is canceled or an error occurs.
	Start(ctx context.Context) error
}

// RunnableFunc implements Runnable using a function.
// It's very important that it blocks until it's done running.
type RunnableFunc func(ctx context.Context) error

// Start implements Runnable.
func (r RunnableFunc) Start(ctx context.Context) error { return r(ctx) }

// Options are the arguments for creating a new Collection.
type Options struct {
	// The logger that should be used by the Collection.
	Logger logr.Logger
	// Whether all Runnables in the Collection should be running or none.
	// The complete Collection is stopped if one Runnable returns.
	AllOrNothing bool
	// GracefulShutdownTimeout is the duration given to Runnables to
	// stop before Start returns. Zero means DefaultGracefulShutdownPeriod,
	// a negative duration waits forever.
	GracefulShutdownTimeout time.Duration
}

// DefaultGracefulShutdownPeriod is the default graceful shutdown
// timeout to wait for Runnables to shutdown on Collection stop.
const DefaultGracefulShutdownPeriod = 30 * time.Second

// ErrStopped is returned by Add after the Collection stopped.
var ErrStopped = errors.New("can't accept new runnable as stop procedure is already engaged")

// Collection is a runtime utility to manage a collection of processes
// and handle graceful shutdown if one of them errors at any time.
type Collection struct {
	log          logr.Logger
	allOrNothing bool
	timeout      time.Duration

	mu        sync.Mutex
	runnables []Runnable
	group     *errgroup.Group
	ctx       context.Context
	cancel    context.CancelFunc
	stopped   bool
	errs      error
}

var _ Runnable = (*Collection)(nil)

// New returns a new Collection for managing Runnables.
func New(opts Options, runnables ...Runnable) *Collection {
	if opts.GracefulShutdownTimeout == 0 {
		opts.GracefulShutdownTimeout = DefaultGracefulShutdownPeriod
	}
	c := &Collection{
		log:          opts.Logger,
		allOrNothing: opts.AllOrNothing,
		timeout:      opts.GracefulShutdownTimeout,
	}
	for _, r := range runnables {
		_ = c.Add(r)
	}
	return c
}

// Add adds r to the list of Runnables to start.
// The Runnable is started if the Collection is already started.
func (c *Collection) Add(r Runnable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	c.runnables = append(c.runnables, r)
	if c.group != nil {
		c.start(r)
	}
	return nil
}

// Start starts all Runnables and blocks until ctx is canceled or,
// with AllOrNothing, until the first Runnable returns. Errors returned
// by Runnables are combined with go.uber.org/multierr.
func (c *Collection) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped || c.group != nil {
		c.mu.Unlock()
		return ErrStopped
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer c.cancel()
	c.group = new(errgroup.Group)
	for _, r := range c.runnables {
		c.start(r)
	}
	c.mu.Unlock()

	<-c.ctx.Done()

	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = c.group.Wait()
		close(done)
	}()
	return multierr.Append(c.waitForRunnables(done), c.collected())
}

// start must be called with c.mu held.
func (c *Collection) start(r Runnable) {
	ctx := c.ctx
	c.group.Go(func() error {
		err := r.Start(ctx)
		if c.allOrNothing {
			c.cancel()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error(err, "Process stopped with error")
			c.mu.Lock()
			c.errs = multierr.Append(c.errs, err)
			c.mu.Unlock()
		}
		return nil
	})
}

// waitForRunnables blocks until all runnables ended or the
// graceful shutdown timeout was reached.
func (c *Collection) waitForRunnables(done <-chan struct{}) error {
	if c.timeout < 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(c.timeout):
		return fmt.Errorf("failed waiting for all runnables to end within grace period of %s: %w",
			c.timeout, context.DeadlineExceeded)
	}
}

func (c *Collection) collected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs
}
