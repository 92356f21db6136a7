package hook

import (
	"encoding/binary"
	"math"
)

// XMM is a 128-bit SSE register.
type XMM [16]byte

// F32 returns lane i interpreted as float32.
func (x *XMM) F32(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(x[i*4:]))
}

// SetF32 stores v in lane i.
func (x *XMM) SetF32(i int, v float32) {
	binary.LittleEndian.PutUint32(x[i*4:], math.Float32bits(v))
}

// Context is the x86-64 register state handed to mid hooks. Writes are
// applied to the CPU when the hooked code resumes.
//
// The layout matches the context pushed by the native mid hook stub and
// must not be reordered.
type Context struct {
	XMM [16]XMM

	RFlags uintptr
	R15    uintptr
	R14    uintptr
	R13    uintptr
	R12    uintptr
	R11    uintptr
	R10    uintptr
	R9     uintptr
	R8     uintptr
	RDI    uintptr
	RSI    uintptr
	RDX    uintptr
	RCX    uintptr
	RBX    uintptr
	RAX    uintptr
	RBP    uintptr
	RSP    uintptr

	TrampolineRSP uintptr
	RIP           uintptr
}

// Result is returned by a pre hook to decide how an intercepted call
// proceeds. See memory.Function.AddPreHook.
type Result uint32

const (
	// Continue runs the remaining interceptors and the original function.
	Continue Result = iota
	// Stop skips the remaining interceptors and the original function.
	Stop
	// Handled skips the remaining interceptors but runs the original function.
	Handled
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "Continue"
	case Stop:
		return "Stop"
	case Handled:
		return "Handled"
	}
	return "Unknown"
}
