package nativetest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcess_HookRedirect(t *testing.T) {
	p := New()
	target := p.Func(func(x int) int { return x + 1 })
	require.Equal(t, []any{2}, p.Call(target, 1))

	var trampoline func(int) int
	detour, err := p.Callback(func(x int) int { return trampoline(x) * 10 })
	require.NoError(t, err)

	h := p.AllocateHook()
	require.NoError(t, p.SetHook(h, target, detour))
	require.NoError(t, p.Function(p.HookOriginal(h), &trampoline))
	require.Equal(t, []any{2}, p.Call(target, 1), "not enabled yet")

	require.NoError(t, p.EnableHook(h))
	require.Equal(t, 1, p.InstalledHooks())
	require.Equal(t, []any{20}, p.Call(target, 1))
	require.Equal(t, 2, trampoline(1))

	p.DeallocateHook(h)
	p.Release(detour)
	require.Zero(t, p.InstalledHooks())
	require.Zero(t, p.Callbacks())
	require.Equal(t, []any{2}, p.Call(target, 1))
}

func TestProcess_MidHook(t *testing.T) {
	p := New()
	var got []uintptr
	cb, err := p.Callback(func(ctx uintptr) { got = append(got, ctx) })
	require.NoError(t, err)

	h := p.AllocateMidHook()
	require.NoError(t, p.SetMidHook(h, 0x1000, cb))
	p.Execute(0x1000, 0xAA)
	require.Empty(t, got)

	require.NoError(t, p.EnableMidHook(h))
	p.Execute(0x1000, 0xBB)
	p.Execute(0x2000, 0xCC)
	require.Equal(t, []uintptr{0xBB}, got)
	require.Equal(t, 1, p.MidHooks())
}

func TestProcess_Memory(t *testing.T) {
	p := New()
	a, b := p.Alloc(4), p.Alloc(64)
	require.NotEqual(t, a, b)
	require.NotZero(t, a)
	require.Equal(t, 2, p.Allocations())
}
