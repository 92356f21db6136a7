package memory

import (
	"testing"
	"unsafe"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilhost/anvil/pkg/hook"
	"github.com/anvilhost/anvil/pkg/native/nativetest"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

type (
	damageFn func(entity uintptr, amount int32) int32
	nameFn   func(entity uintptr) uintptr
)

func newService(t *testing.T) (*nativetest.Process, *Service) {
	t.Helper()
	p := nativetest.New()
	hooks, err := hook.New(hook.Options{Engine: p, Binder: p, Logger: testr.New(t)})
	require.NoError(t, err)
	s, err := New(Options{Hooks: hooks, Binder: p, Scanner: p, Logger: testr.New(t)})
	require.NoError(t, err)
	return p, s
}

func TestFunctionByAddress_Cached(t *testing.T) {
	p, s := newService(t)
	addr := p.Func(damageFn(func(_ uintptr, amount int32) int32 { return amount }))

	f1, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)
	f2, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Equal(t, int32(7), f1.Call(0, 7))

	_, err = FunctionByAddress[nameFn](s, addr)
	require.ErrorIs(t, err, errs.ErrTypeMismatch)

	_, err = FunctionByAddress[int](s, addr)
	require.ErrorIs(t, err, errs.ErrArgument)
	_, err = FunctionByAddress[damageFn](s, 0)
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestFunction_Hooks(t *testing.T) {
	p, s := newService(t)
	var reached int
	addr := p.Func(damageFn(func(_ uintptr, amount int32) int32 {
		reached++
		return amount
	}))
	f, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)

	double, err := f.AddHook(func(next func() damageFn) damageFn {
		return func(e uintptr, amount int32) int32 { return next()(e, amount*2) }
	})
	require.NoError(t, err)
	_, err = f.AddHook(func(next func() damageFn) damageFn {
		return func(e uintptr, amount int32) int32 { return next()(e, amount+1) }
	})
	require.NoError(t, err)

	// Outermost first: (5*2)+1.
	assert.Equal(t, int32(11), f.Call(0, 5))
	assert.Equal(t, int32(5), f.CallOriginal()(0, 5))
	assert.Equal(t, 2, reached)

	require.NoError(t, f.RemoveHook(double))
	assert.Equal(t, int32(6), f.Call(0, 5))

	require.NoError(t, f.Close())
	assert.False(t, s.Hooks().IsHooked(addr))
	assert.Equal(t, int32(5), f.Call(0, 5))
	assert.Zero(t, p.InstalledHooks())
}

func TestFunction_Stop(t *testing.T) {
	p, s := newService(t)
	var reached bool
	addr := p.Func(damageFn(func(_ uintptr, amount int32) int32 {
		reached = true
		return amount
	}))
	f, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)

	_, err = f.AddHook(func(func() damageFn) damageFn {
		return func(uintptr, int32) int32 { return 0 }
	})
	require.NoError(t, err)

	assert.Zero(t, f.Call(0, 50))
	assert.False(t, reached)
	assert.Equal(t, int32(50), f.CallOriginal()(0, 50))
	assert.True(t, reached)
}

func TestFunction_PanickingHookContinues(t *testing.T) {
	p := nativetest.New()
	handler := errs.NewHandler(testr.New(t), false)
	hooks, err := hook.New(hook.Options{Engine: p, Binder: p, Errors: handler, Logger: testr.New(t)})
	require.NoError(t, err)
	s, err := New(Options{Hooks: hooks, Binder: p, Scanner: p, Logger: testr.New(t)})
	require.NoError(t, err)

	addr := p.Func(damageFn(func(_ uintptr, amount int32) int32 { return amount }))
	f, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)

	_, err = f.AddHook(func(next func() damageFn) damageFn {
		return func(e uintptr, amount int32) int32 { return next()(e, amount+1) }
	})
	require.NoError(t, err)
	_, err = f.AddHook(func(func() damageFn) damageFn {
		return func(uintptr, int32) int32 { panic("bad plugin") }
	})
	require.NoError(t, err)

	assert.Equal(t, int32(6), f.Call(0, 5))
	assert.EqualValues(t, 1, handler.Reported())
}

func TestFunction_PreHook(t *testing.T) {
	p, s := newService(t)
	var reached int
	addr := p.Func(damageFn(func(_ uintptr, amount int32) int32 {
		reached++
		return amount
	}))
	f, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)

	result := hook.Continue
	var seen []any
	_, err = f.AddPreHook(func(args []any) hook.Result {
		seen = args
		return result
	})
	require.NoError(t, err)
	_, err = f.AddHook(func(next func() damageFn) damageFn {
		return func(e uintptr, amount int32) int32 { return next()(e, amount*10) }
	})
	require.NoError(t, err)

	assert.Equal(t, int32(30), f.Call(7, 3))
	assert.Equal(t, []any{uintptr(7), int32(3)}, seen)
	assert.Equal(t, 1, reached)

	result = hook.Handled
	assert.Equal(t, int32(3), f.Call(7, 3), "remaining interceptors skipped")
	assert.Equal(t, 2, reached)

	result = hook.Stop
	assert.Zero(t, f.Call(7, 3))
	assert.Equal(t, 2, reached)

	_, err = f.AddPreHook(nil)
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestFunction_RebuildsKeepOneOriginal(t *testing.T) {
	p, s := newService(t)
	addr := p.Func(damageFn(func(_ uintptr, amount int32) int32 { return amount }))
	f, err := FunctionByAddress[damageFn](s, addr)
	require.NoError(t, err)

	for range 10 {
		id, err := f.AddHook(func(next func() damageFn) damageFn {
			return func(e uintptr, amount int32) int32 { return next()(e, amount+1) }
		})
		require.NoError(t, err)
		assert.Equal(t, int32(4), f.Call(0, 3))
		assert.Equal(t, int32(3), f.CallOriginal()(0, 3))
		assert.Equal(t, s.Hooks().Original(addr), f.original.addr)
		require.NoError(t, f.RemoveHook(id))
	}
	assert.Zero(t, p.Callbacks())
}

func TestFunctionByVTable(t *testing.T) {
	p, s := newService(t)
	slot0 := p.Func(nameFn(func(uintptr) uintptr { return 0 }))
	slot1 := p.Func(damageFn(func(_ uintptr, amount int32) int32 { return -amount }))

	vtable := []uintptr{slot0, slot1}
	f, err := FunctionByVTable[damageFn](s, uintptr(unsafe.Pointer(&vtable[0])), 1)
	require.NoError(t, err)
	assert.Equal(t, slot1, f.Address())
	assert.Equal(t, int32(-3), f.Call(0, 3))

	_, err = FunctionByVTable[damageFn](s, 0, 1)
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestMemoryByAddress(t *testing.T) {
	p, s := newService(t)
	r := s.MemoryByAddress(0x9000)
	assert.Same(t, r, s.MemoryByAddress(0x9000))

	var seen uintptr
	id, err := r.AddHook(func(ctx *hook.Context) { seen = ctx.RCX })
	require.NoError(t, err)

	ctx := &hook.Context{RCX: 42}
	p.Execute(0x9000, uintptr(unsafe.Pointer(ctx)))
	assert.Equal(t, uintptr(42), seen)

	r.RemoveHook(id)
	assert.Zero(t, s.Hooks().MidNodes(0x9000))

	_, err = r.AddHook(func(*hook.Context) {})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Zero(t, s.Hooks().MidNodes(0x9000))
}

func TestLookups(t *testing.T) {
	p, s := newService(t)
	p.SetInterface("Source2Server001", 0x1000)
	p.SetSignature("server", "48 89 5C 24 ?", 0x2000)
	p.SetVTable("server", "CCSPlayerPawn", 0x3000)

	addr, ok := s.Interface("Source2Server001")
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x1000), addr)
	_, ok = s.Interface("missing")
	assert.False(t, ok)

	addr, ok = s.AddressBySignature("server", "48 89 5C 24 ?")
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x2000), addr)

	addr, ok = s.VTable("server", "CCSPlayerPawn")
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x3000), addr)
	_, ok = s.VTable("server", "CNope")
	assert.False(t, ok)
}

func TestResolveXref(t *testing.T) {
	code := make([]byte, 32)
	base := uintptr(unsafe.Pointer(&code[0]))

	// lea rax, [rip+0x10]
	copy(code, []byte{0x48, 0x8D, 0x05, 0x10, 0x00, 0x00, 0x00})
	assert.Equal(t, base+7+0x10, ResolveXref(base))

	// mov rcx, [rip-0x20]
	copy(code, []byte{0x48, 0x8B, 0x0D, 0xE0, 0xFF, 0xFF, 0xFF})
	assert.Equal(t, base+7-0x20, ResolveXref(base))

	// mov byte ptr [rip+0x40], 1 carries the displacement at offset 2.
	copy(code, []byte{0xC6, 0x05, 0x40, 0x00, 0x00, 0x00, 0x01})
	assert.Equal(t, base+7+0x40, ResolveXref(base))
}
