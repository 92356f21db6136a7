package native

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvilhost/anvil/pkg/util/errs"
)

func TestHandle_IsValid(t *testing.T) {
	assert.False(t, Handle(0).IsValid())
	assert.False(t, Invalid.IsValid())
	assert.False(t, IsValidPtr(^uintptr(0)))
	assert.True(t, Handle(0x1000).IsValid())
	assert.Equal(t, Handle(0x1010), Handle(0x1000).Add(0x10))
	assert.Equal(t, "0x1000", Handle(0x1000).String())
}

func TestReadWrite(t *testing.T) {
	buf := make([]uint64, 4)
	base := uintptr(unsafe.Pointer(&buf[0]))

	Write[int32](base, -7)
	Write[float32](base+8, 1.5)
	Write[uintptr](base+16, 0xDEADBEEF)
	assert.Equal(t, int32(-7), Read[int32](base))
	assert.Equal(t, float32(1.5), Read[float32](base+8))
	assert.Equal(t, uintptr(0xDEADBEEF), ReadPtr(base+16))

	WriteBytes(base+24, []byte{1, 2, 3})
	assert.Equal(t, []byte{1, 2, 3}, Bytes(base+24, 3))
	assert.Nil(t, Bytes(base, 0))
}

func TestCString(t *testing.T) {
	buf := make([]byte, 32)
	addr := uintptr(unsafe.Pointer(&buf[0]))
	WriteCString(addr, "hello")
	assert.Equal(t, "hello", CString(addr))
	assert.Equal(t, byte(0), buf[5])

	assert.Empty(t, CString(0))
	assert.Empty(t, CString(^uintptr(0)))
}

func TestReadEntries(t *testing.T) {
	names := [][]byte{[]byte("Schema.GetOffset\x00"), []byte("Hooks.SetHook\x00"), {0}}
	rows := []Entry{
		{Name: uintptr(unsafe.Pointer(&names[0][0])), Fn: 0x1000},
		{Name: uintptr(unsafe.Pointer(&names[1][0])), Fn: 0x2000},
		{Name: uintptr(unsafe.Pointer(&names[2][0])), Fn: 0x3000},
	}
	fns := ReadEntries(uintptr(unsafe.Pointer(&rows[0])), len(rows))
	assert.Equal(t, map[string]uintptr{
		"Schema.GetOffset": 0x1000,
		"Hooks.SetHook":    0x2000,
	}, fns)

	assert.Empty(t, ReadEntries(0, 3))
}

func TestBind_MissingFunctions(t *testing.T) {
	name := []byte("Schema.GetOffset\x00")
	rows := []Entry{{Name: uintptr(unsafe.Pointer(&name[0])), Fn: 0}}
	_, err := Bind(uintptr(unsafe.Pointer(&rows[0])), len(rows))
	require.ErrorIs(t, err, errs.ErrResolution)
	assert.Contains(t, err.Error(), "Hooks.AllocateHook")
	// Present but null.
	require.ErrorIs(t, err, errs.ErrArgument)
}

func TestCallbackPool_InvalidArguments(t *testing.T) {
	var p CallbackPool
	_, err := p.Callback(42)
	require.ErrorIs(t, err, errs.ErrArgument)

	var nilFn func()
	_, err = p.Callback(nilFn)
	require.ErrorIs(t, err, errs.ErrArgument)

	var fn func() int
	require.ErrorIs(t, p.Function(0, &fn), errs.ErrArgument)

	// Unknown pointers are ignored.
	p.Release(0x1234)
}
