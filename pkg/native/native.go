package native

// SchemaTable resolves schema field hashes against the game's
// reflection data.
type SchemaTable interface {
	// SchemaOffset returns the byte offset of the field identified by hash.
	SchemaOffset(hash uint64) (offset int32, ok bool)
	// SetStateChanged tells the game that the field identified by hash
	// changed on the object at h so it gets networked.
	SetStateChanged(h Handle, hash uint64)
}

// HookEngine installs native detours.
//
// Prologue hooks redirect a function entry to a detour and expose a
// trampoline that runs the displaced original. Mid hooks inject a
// callback at an arbitrary instruction and hand it the register context.
type HookEngine interface {
	AllocateHook() uintptr
	SetHook(hook, target, detour uintptr) error
	EnableHook(hook uintptr) error
	// HookOriginal returns the trampoline of an enabled hook.
	HookOriginal(hook uintptr) uintptr
	DeallocateHook(hook uintptr)

	AllocateMidHook() uintptr
	SetMidHook(hook, target, callback uintptr) error
	EnableMidHook(hook uintptr) error
	DeallocateMidHook(hook uintptr)
}

// Binder converts between Go funcs and native function pointers.
type Binder interface {
	// Callback returns a native pointer that invokes fn.
	// The pointer stays valid until it is passed to Release.
	Callback(fn any) (uintptr, error)
	// Release gives back a pointer obtained from Callback.
	Release(ptr uintptr)
	// Function makes the func pointed to by fptr call the native
	// function at addr.
	Function(addr uintptr, fptr any) error
}

// Allocator hands out native memory that lives until process exit.
type Allocator interface {
	Alloc(size int) uintptr
}

// Scanner locates code and data in the loaded game libraries.
// Lookups return 0 if nothing was found.
type Scanner interface {
	AddressBySignature(library, signature string) uintptr
	VTable(library, class string) uintptr
	Interface(name string) uintptr
}

// GameData is the game data store kept by the native side.
type GameData interface {
	HasSignature(name string) bool
	Signature(name string) uintptr
	HasOffset(name string) bool
	Offset(name string) int
	HasPatch(name string) bool
	ApplyPatch(name string) error
	RevertPatch(name string) error
}

// Runtime is the complete set of native services the host consumes.
type Runtime interface {
	SchemaTable
	HookEngine
	Binder
	Allocator
	Scanner
	GameData
	Protector
	Console
}

// Protector changes page protection of native memory.
type Protector interface {
	// MakeWritable marks [addr, addr+n) readable, writable and executable.
	MakeWritable(addr uintptr, n int) error
}

// Console runs commands on the game's server console.
type Console interface {
	// ExecuteCommand queues cmdline for execution on the next frame.
	ExecuteCommand(cmdline string)
}
