package command

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/robinbraemer/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilhost/anvil/pkg/util/errs"
)

// console runs queued commands the way the game does, one at a time.
type console struct {
	t      *Tracker
	queued []string
}

func (c *console) run(output ...string) string {
	cmdline := c.queued[0]
	c.queued = c.queued[1:]
	name, _ := c.t.CommandStart(strings.Fields(cmdline)[0])
	for _, line := range output {
		c.t.Output(line)
	}
	c.t.CommandEnd()
	return name
}

func newTracker(t *testing.T, opts TrackerOptions) (*Tracker, *console) {
	t.Helper()
	c := &console{}
	opts.Execute = func(cmdline string) { c.queued = append(c.queued, cmdline) }
	opts.Logger = testr.New(t)
	c.t = NewTracker(opts)
	t.Cleanup(c.t.Close)
	return c.t, c
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("no output")
		return ""
	}
}

func TestTracker_CapturesOutput(t *testing.T) {
	mgr := event.New()
	var fired *OutputEvent
	event.Subscribe(mgr, 0, func(e *OutputEvent) { fired = e })

	tr, c := newTracker(t, TrackerOptions{Event: mgr})
	out := make(chan string, 1)
	require.NoError(t, tr.Execute("status", func(o string) { out <- o }))
	require.Equal(t, []string{"^wb^status"}, c.queued)
	assert.Equal(t, 1, tr.Pending())

	name := c.run("hostname: test", "players: 0")
	assert.Equal(t, "status", name)
	assert.Equal(t, "hostname: test\nplayers: 0", receive(t, out))
	assert.Zero(t, tr.Pending())
	assert.Zero(t, tr.Active())

	mgr.Wait()
	require.NotNil(t, fired)
	assert.Equal(t, "status", fired.Command)
	assert.Equal(t, "hostname: test\nplayers: 0", fired.Output)
}

func TestTracker_Order(t *testing.T) {
	tr, c := newTracker(t, TrackerOptions{})
	first, second := make(chan string, 1), make(chan string, 1)
	require.NoError(t, tr.Execute("first", func(o string) { first <- o }))
	require.NoError(t, tr.Execute("second", func(o string) { second <- o }))

	c.run("1")
	c.run("2")
	assert.Equal(t, "1", receive(t, first))
	assert.Equal(t, "2", receive(t, second))
}

func TestTracker_IgnoresUntrackedCommands(t *testing.T) {
	tr, _ := newTracker(t, TrackerOptions{})
	name, tracked := tr.CommandStart("status")
	assert.False(t, tracked)
	assert.Equal(t, "status", name)

	_, tracked = tr.CommandStart("  ")
	assert.False(t, tracked)

	// Output outside a tracked command goes nowhere.
	tr.Output("noise")
	tr.CommandEnd()
	assert.Zero(t, tr.Active())
}

func TestTracker_MaxOutputLines(t *testing.T) {
	tr, c := newTracker(t, TrackerOptions{MaxOutputLines: 3})
	out := make(chan string, 1)
	require.NoError(t, tr.Execute("cvarlist", func(o string) { out <- o }))

	lines := make([]string, 10)
	for i := range lines {
		lines[i] = fmt.Sprint(i)
	}
	c.run(lines...)
	assert.Equal(t, "0\n1\n2", receive(t, out))
}

func TestTracker_Timeout(t *testing.T) {
	tr, c := newTracker(t, TrackerOptions{Timeout: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Run(ctx) }()

	called := make(chan string, 1)
	require.NoError(t, tr.Execute("hang", func(o string) { called <- o }))
	_, tracked := tr.CommandStart(strings.TrimSpace(c.queued[0]))
	require.True(t, tracked)
	assert.Equal(t, 1, tr.Active())

	assert.Eventually(t, func() bool { return tr.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	tr.CommandEnd()
	select {
	case <-called:
		t.Fatal("callback of abandoned command ran")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTracker_Close(t *testing.T) {
	tr, c := newTracker(t, TrackerOptions{})
	require.NoError(t, tr.Execute("a", func(string) { t.Error("callback after close") }))
	tr.Close()
	assert.Zero(t, tr.Pending())

	require.NoError(t, tr.Execute("b", func(string) { t.Error("callback after close") }))
	assert.Len(t, c.queued, 1, "closed tracker queues nothing")
	c.run("x")
	assert.Zero(t, tr.Active())
}

func TestTracker_NilCallback(t *testing.T) {
	tr, c := newTracker(t, TrackerOptions{})
	require.ErrorIs(t, tr.Execute("status", nil), errs.ErrArgument)
	assert.Empty(t, c.queued)
	assert.Zero(t, tr.Pending())
}

func TestTracker_PanickingCallback(t *testing.T) {
	handler := errs.NewHandler(testr.New(t), false)
	tr, c := newTracker(t, TrackerOptions{Errors: handler})
	require.NoError(t, tr.Execute("status", func(string) { panic("plugin bug") }))
	c.run("hostname: test")

	assert.Eventually(t, func() bool { return handler.Reported() == 1 }, 5*time.Second, 10*time.Millisecond)

	// The tracker keeps working.
	out := make(chan string, 1)
	require.NoError(t, tr.Execute("status", func(o string) { out <- o }))
	c.run("ok")
	assert.Equal(t, "ok", receive(t, out))
}
