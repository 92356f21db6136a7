package hook

import (
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/robinbraemer/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/anvilhost/anvil/pkg/native/nativetest"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

type fixture struct {
	t       *testing.T
	p       *nativetest.Process
	m       *Manager
	errs    *errs.Handler
	event   event.Manager
	target  uintptr
	natives atomic.Int64

	mu    sync.Mutex
	trace []string
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{t: t, p: nativetest.New(), event: event.New()}
	f.errs = errs.NewHandler(testr.New(t), false)
	f.target = f.p.Func(func(x int) int {
		f.natives.Inc()
		f.record("native")
		return x * 2
	})
	var err error
	f.m, err = New(Options{
		Engine: f.p,
		Binder: f.p,
		Errors: f.errs,
		Event:  f.event,
		Logger: testr.New(t),
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = append(f.trace, s)
}

func (f *fixture) take() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.trace
	f.trace = nil
	return t
}

func (f *fixture) call(addr uintptr, x int) int {
	var fn func(int) int
	require.NoError(f.t, f.p.Function(addr, &fn))
	return fn(x)
}

// passthrough records name and continues the chain.
func (f *fixture) passthrough(name string) Builder {
	return func(original func() uintptr) any {
		return func(x int) int {
			f.record(name)
			return f.call(original(), x)
		}
	}
}

func (f *fixture) add(b Builder) NodeID {
	id, err := f.m.AddHook(f.target, b)
	require.NoError(f.t, err)
	return id
}

func TestManager_Ordering(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))
	f.add(f.passthrough("B"))
	f.add(f.passthrough("C"))

	assert.Equal(t, 6, f.call(f.target, 3))
	assert.Equal(t, []string{"A", "B", "C", "native"}, f.take())

	assert.True(t, f.m.IsHooked(f.target))
	assert.Equal(t, 3, f.m.Nodes(f.target))
	assert.Equal(t, 3, f.p.InstalledHooks())
	assert.Equal(t, 3, f.p.Callbacks())
}

func TestManager_OriginalUnhooked(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, f.target, f.m.Original(f.target))
	assert.False(t, f.m.IsHooked(f.target))
	assert.Zero(t, f.m.Nodes(f.target))
}

func TestManager_OriginalBypassesChain(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))
	f.add(f.passthrough("B"))

	orig := f.m.Original(f.target)
	assert.NotEqual(t, f.target, orig)
	assert.Equal(t, 10, f.call(orig, 5))
	assert.Equal(t, []string{"native"}, f.take())
}

func TestManager_RemoveMiddle(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))
	b := f.add(f.passthrough("B"))
	f.add(f.passthrough("C"))

	require.NoError(t, f.m.Remove(b))
	assert.Equal(t, 2, f.call(f.target, 1))
	assert.Equal(t, []string{"A", "C", "native"}, f.take())
	assert.Equal(t, 2, f.p.InstalledHooks())
	assert.Equal(t, 2, f.p.AllocatedHooks())
	assert.Equal(t, 2, f.p.Callbacks())
}

func TestManager_RemoveAll(t *testing.T) {
	f := newFixture(t)
	a := f.add(f.passthrough("A"))
	b := f.add(f.passthrough("B"))

	require.NoError(t, f.m.Remove(a, b))
	assert.False(t, f.m.IsHooked(f.target))
	assert.Equal(t, f.target, f.m.Original(f.target))
	assert.Zero(t, f.p.InstalledHooks())
	assert.Zero(t, f.p.AllocatedHooks())
	assert.Zero(t, f.p.Callbacks())

	assert.Equal(t, 2, f.call(f.target, 1))
	assert.Equal(t, []string{"native"}, f.take())

	// Unknown ids are ignored.
	require.NoError(t, f.m.Remove(a))
}

func TestManager_StopSkipsNative(t *testing.T) {
	f := newFixture(t)
	f.add(func(original func() uintptr) any {
		return func(x int) int {
			f.record("stop")
			return -1
		}
	})
	f.add(f.passthrough("B"))

	assert.Equal(t, -1, f.call(f.target, 4))
	assert.Equal(t, []string{"stop"}, f.take())
	assert.Zero(t, f.natives.Load())

	assert.Equal(t, 8, f.call(f.m.Original(f.target), 4))
	assert.EqualValues(t, 1, f.natives.Load())
}

func TestManager_IndependentChains(t *testing.T) {
	f := newFixture(t)
	other := f.p.Func(func(x int) int { return x + 100 })
	f.add(f.passthrough("A"))
	_, err := f.m.AddHook(other, f.passthrough("X"))
	require.NoError(t, err)

	assert.Equal(t, 101, f.call(other, 1))
	assert.Equal(t, []string{"X"}, f.take())
	assert.Equal(t, 2, f.p.InstalledHooks())
}

func TestManager_RebuildFailureRestoresChain(t *testing.T) {
	f := newFixture(t)
	var failed []*RebuildFailedEvent
	event.Subscribe(f.event, 0, func(e *RebuildFailedEvent) { failed = append(failed, e) })

	f.add(f.passthrough("A"))
	f.add(f.passthrough("B"))

	var fail atomic.Bool
	fail.Store(true)
	f.p.SetHookErr = func(target, detour uintptr) error {
		if fail.CompareAndSwap(true, false) {
			return errors.New("detour refused")
		}
		return nil
	}

	_, err := f.m.AddHook(f.target, f.passthrough("C"))
	require.ErrorIs(t, err, errs.ErrChainRebuild)
	require.Len(t, failed, 1)
	assert.True(t, failed[0].Restored)
	assert.Equal(t, f.target, failed[0].Address)
	assert.EqualValues(t, 1, f.errs.Reported())

	assert.Equal(t, 2, f.call(f.target, 1))
	assert.Equal(t, []string{"A", "B", "native"}, f.take())
	assert.Equal(t, 2, f.p.InstalledHooks())
	assert.Equal(t, 2, f.p.Callbacks())
}

func TestManager_BuilderPanicIsContained(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))

	_, err := f.m.AddHook(f.target, func(func() uintptr) any { panic("plugin bug") })
	require.ErrorIs(t, err, errs.ErrChainRebuild)
	assert.Contains(t, err.Error(), "plugin bug")

	assert.Equal(t, 1, f.m.Nodes(f.target))
	assert.Equal(t, 2, f.call(f.target, 1))
	assert.Equal(t, []string{"A", "native"}, f.take())
}

func TestManager_CallbackPanicContinues(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))
	f.add(func(func() uintptr) any {
		return func(int) int { panic("plugin bug in live call") }
	})
	f.add(f.passthrough("C"))

	assert.Equal(t, 6, f.call(f.target, 3))
	assert.Equal(t, []string{"A", "C", "native"}, f.take())
	assert.EqualValues(t, 1, f.errs.Reported())

	// The chain is still intact for the next call.
	assert.Equal(t, 8, f.call(f.target, 4))
	assert.Equal(t, []string{"A", "C", "native"}, f.take())
	assert.EqualValues(t, 2, f.errs.Reported())
}

func TestManager_CallbackPanicFatal(t *testing.T) {
	f := newFixture(t)
	f.add(func(func() uintptr) any {
		return func(int) int { panic("plugin bug in live call") }
	})
	f.errs.SetFatal(true)

	assert.Panics(t, func() { f.call(f.target, 1) })
	assert.Zero(t, f.natives.Load())
}

func TestManager_BuilderReturnsNonFunc(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.AddHook(f.target, func(func() uintptr) any { return 42 })
	require.ErrorIs(t, err, errs.ErrChainRebuild)
	_, err = f.m.AddHook(f.target, func(func() uintptr) any { return nil })
	require.ErrorIs(t, err, errs.ErrChainRebuild)
	assert.False(t, f.m.IsHooked(f.target))
}

func TestManager_UnrecoverableChainIsUnhooked(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))
	f.p.SetHookErr = func(uintptr, uintptr) error { return errors.New("engine broken") }

	_, err := f.m.AddHook(f.target, f.passthrough("B"))
	require.ErrorIs(t, err, errs.ErrChainRebuild)
	assert.False(t, f.m.IsHooked(f.target))
	assert.Equal(t, f.target, f.m.Original(f.target))
	assert.Zero(t, f.p.InstalledHooks())
	assert.Zero(t, f.p.AllocatedHooks())
	assert.Zero(t, f.p.Callbacks())
}

func TestManager_FatalPolicy(t *testing.T) {
	f := newFixture(t)
	f.errs.SetFatal(true)
	f.p.SetHookErr = func(uintptr, uintptr) error { return errors.New("engine broken") }
	assert.Panics(t, func() { _, _ = f.m.AddHook(f.target, f.passthrough("A")) })

	// The lock was released while panicking.
	assert.False(t, f.m.IsHooked(f.target))
}

func TestManager_ChainRebuiltEvents(t *testing.T) {
	f := newFixture(t)
	var nodes []int
	event.Subscribe(f.event, 0, func(e *ChainRebuiltEvent) { nodes = append(nodes, e.Nodes) })

	a := f.add(f.passthrough("A"))
	f.add(f.passthrough("B"))
	require.NoError(t, f.m.Remove(a))
	assert.Equal(t, []int{1, 2, 1}, nodes)
}

func TestManager_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.AddHook(0, f.passthrough("A"))
	require.ErrorIs(t, err, errs.ErrArgument)
	_, err = f.m.AddHook(f.target, nil)
	require.ErrorIs(t, err, errs.ErrArgument)

	_, err = New(Options{})
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestManager_Concurrent(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	ids := make(chan NodeID, 20)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.m.AddHook(f.target, f.passthrough("n"))
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)
	assert.Equal(t, 20, f.m.Nodes(f.target))
	assert.Equal(t, 20, f.p.InstalledHooks())

	var all []NodeID
	for id := range ids {
		all = append(all, id)
	}
	for _, id := range all[:10] {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.m.Remove(id))
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, f.m.Nodes(f.target))
	assert.Equal(t, 10, f.p.InstalledHooks())
	assert.Equal(t, 10, f.p.Callbacks())
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t)
	f.add(f.passthrough("A"))
	_, err := f.m.AddMidHook(0x5000, func(*Context) {})
	require.NoError(t, err)

	require.NoError(t, f.m.Close())
	assert.Zero(t, f.p.InstalledHooks())
	assert.Zero(t, f.p.MidHooks())
	assert.Zero(t, f.p.Callbacks())
	assert.False(t, f.m.IsMidHooked(0x5000))

	_, err = f.m.AddMidHook(0x5000, func(*Context) {})
	require.ErrorIs(t, err, errs.ErrArgument)
}
