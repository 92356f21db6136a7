package command

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/go-logr/logr"
	"github.com/jellydator/ttlcache/v3"
	"github.com/robinbraemer/event"
	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/anvilhost/anvil/pkg/util/errs"
)

// TrackedPrefix marks console commands whose output is captured.
const TrackedPrefix = "^wb^"

// TrackerOptions configure a Tracker.
type TrackerOptions struct {
	// Execute queues a command line on the game's console.
	Execute func(cmdline string)
	// Timeout abandons commands that never finish. Defaults to 5s.
	Timeout time.Duration
	// PollInterval is how often abandoned commands are dropped.
	// Defaults to 200ms.
	PollInterval time.Duration
	// MaxOutputLines caps the captured lines per command. Defaults to 100.
	MaxOutputLines int

	// Errors receives panics raised by output callbacks. If nil,
	// they are only logged.
	Errors *errs.Handler
	Event  event.Manager
	Logger logr.Logger
}

// Tracker runs console commands and hands their output to a callback.
//
// The game runs queued commands one at a time. A tracked command line
// starts with TrackedPrefix; CommandStart pairs it with the oldest
// pending callback and every console line until CommandEnd belongs to
// that command.
type Tracker struct {
	opts TrackerOptions
	log  logr.Logger

	mu      sync.Mutex
	pending deque.Deque[*execution]

	active  *ttlcache.Cache[xid.ID, *execution]
	current atomic.Pointer[execution]
	closed  atomic.Bool
}

type execution struct {
	id      xid.ID
	command string
	cb      func(output string)

	mu    sync.Mutex
	lines []string
}

// OutputEvent is fired when a tracked command finished.
type OutputEvent struct {
	ID      xid.ID
	Command string
	Output  string
}

// NewTracker returns a Tracker. Run must be running for abandoned
// commands to be dropped.
func NewTracker(opts TrackerOptions) *Tracker {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	if opts.MaxOutputLines <= 0 {
		opts.MaxOutputLines = 100
	}
	if opts.Event == nil {
		opts.Event = event.Nop
	}
	if opts.Errors == nil {
		opts.Errors = errs.NewHandler(opts.Logger, false)
	}
	t := &Tracker{
		opts: opts,
		log:  opts.Logger.WithName("command-tracker"),
		active: ttlcache.New[xid.ID, *execution](
			ttlcache.WithTTL[xid.ID, *execution](opts.Timeout),
			ttlcache.WithDisableTouchOnHit[xid.ID, *execution](),
		),
	}
	t.active.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[xid.ID, *execution]) {
		if reason == ttlcache.EvictionReasonExpired {
			t.log.Info("Abandoned console command without output", "command", item.Value().command, "id", item.Key())
		}
	})
	return t
}

// Execute runs cmdline on the console and calls cb with its output.
// cb runs on its own goroutine. Nothing is queued once the Tracker
// is closed.
func (t *Tracker) Execute(cmdline string, cb func(output string)) error {
	if cb == nil {
		return fmt.Errorf("%w: nil output callback for %q", errs.ErrArgument, cmdline)
	}
	if t.closed.Load() {
		return nil
	}
	t.mu.Lock()
	t.pending.PushBack(&execution{command: cmdline, cb: cb})
	t.mu.Unlock()
	if t.opts.Execute != nil {
		t.opts.Execute(TrackedPrefix + cmdline)
	}
	return nil
}

// Pending returns the number of commands waiting for CommandStart.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending.Len()
}

// Active returns the number of started, unfinished commands.
func (t *Tracker) Active() int { return t.active.Len() }

// CommandStart is called before the console runs a command named name.
// For tracked commands it returns the name without TrackedPrefix.
func (t *Tracker) CommandStart(name string) (string, bool) {
	if strings.TrimSpace(name) == "" || !strings.HasPrefix(name, TrackedPrefix) {
		return name, false
	}
	name = strings.TrimPrefix(name, TrackedPrefix)

	t.mu.Lock()
	var e *execution
	if t.pending.Len() != 0 {
		e = t.pending.PopFront()
	}
	t.mu.Unlock()
	if e == nil || t.closed.Load() {
		t.current.Store(nil)
		return name, true
	}

	e.id = xid.New()
	t.active.Set(e.id, e, ttlcache.DefaultTTL)
	t.current.Store(e)
	return name, true
}

// Output records a console line for the running command.
func (t *Tracker) Output(line string) {
	e := t.current.Load()
	if e == nil || t.closed.Load() {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.lines) < t.opts.MaxOutputLines {
		e.lines = append(e.lines, line)
	}
}

// CommandEnd is called after the console ran a command.
func (t *Tracker) CommandEnd() {
	e := t.current.Swap(nil)
	if e == nil {
		return
	}
	if _, ok := t.active.GetAndDelete(e.id); !ok {
		// Timed out.
		return
	}
	e.mu.Lock()
	output := strings.Join(e.lines, "\n")
	e.mu.Unlock()

	go t.deliver(e, output)
	t.opts.Event.Fire(&OutputEvent{ID: e.id, Command: e.command, Output: output})
}

func (t *Tracker) deliver(e *execution, output string) {
	defer func() {
		if err := errs.Recover(recover(), errs.ErrCallback); err != nil {
			t.opts.Errors.Handle(err, "command", e.command, "id", e.id)
		}
	}()
	e.cb(output)
}

// Run drops abandoned commands until ctx is canceled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.active.DeleteExpired()
		}
	}
}

// Close drops every pending and active command.
func (t *Tracker) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.mu.Lock()
	t.pending.Clear()
	t.mu.Unlock()
	t.current.Store(nil)
	t.active.DeleteAll()
}
