// Package nativetest provides an in-process stand-in for the game server
// so host packages can be tested without a running game.
//
// Memory handed out by Process is real Go memory that stays reachable
// for the lifetime of the Process, so reads and writes through package
// native work as they would against the game. Native functions are Go
// funcs registered with Func; hooks redirect calls between them the way
// a detour library would patch function prologues.
package nativetest

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"unsafe"

	"github.com/anvilhost/anvil/pkg/native"
)

// Process is a fake game process implementing native.Runtime.
type Process struct {
	mu sync.Mutex

	blocks [][]byte

	funcs     map[uintptr]reflect.Value
	callbacks map[uintptr]bool

	nextHook  uintptr
	hooks     map[uintptr]*prologueHook
	redirects map[uintptr]*prologueHook
	midHooks  map[uintptr]*midHook

	offsets      map[uint64]int32
	stateChanged []StateChange

	signatures map[string]uintptr
	vtables    map[string]uintptr
	interfaces map[string]uintptr

	gdSignatures map[string]uintptr
	gdOffsets    map[string]int
	gdPatches    map[string]bool

	writable []Span
	commands []string

	// SetHookErr, if set, is consulted on every SetHook call.
	SetHookErr func(target, detour uintptr) error
	// ProtectErr, if set, is returned by MakeWritable.
	ProtectErr error
}

// StateChange records one SetStateChanged call.
type StateChange struct {
	Handle native.Handle
	Hash   uint64
}

// Span is a memory range passed to MakeWritable.
type Span struct {
	Addr uintptr
	Len  int
}

type prologueHook struct {
	target, detour, trampoline uintptr
	enabled                    bool
}

type midHook struct {
	target, callback uintptr
	enabled          bool
}

var _ native.Runtime = (*Process)(nil)

// New returns an empty Process.
func New() *Process {
	return &Process{
		funcs:        map[uintptr]reflect.Value{},
		callbacks:    map[uintptr]bool{},
		hooks:        map[uintptr]*prologueHook{},
		redirects:    map[uintptr]*prologueHook{},
		midHooks:     map[uintptr]*midHook{},
		offsets:      map[uint64]int32{},
		signatures:   map[string]uintptr{},
		vtables:      map[string]uintptr{},
		interfaces:   map[string]uintptr{},
		gdSignatures: map[string]uintptr{},
		gdOffsets:    map[string]int{},
		gdPatches:    map[string]bool{},
	}
}

// Alloc implements native.Allocator with zeroed memory.
func (p *Process) Alloc(size int) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc(size)
}

func (p *Process) alloc(size int) uintptr {
	if size < 8 {
		size = 8
	}
	b := make([]byte, size)
	p.blocks = append(p.blocks, b)
	return uintptr(unsafe.Pointer(&b[0]))
}

// Allocations returns the number of Alloc calls, including the ones
// made internally for functions and trampolines.
func (p *Process) Allocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// Func registers fn as a native function and returns its address.
func (p *Process) Func(fn any) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("nativetest: Func needs a func, got %T", fn))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.alloc(16)
	p.funcs[addr] = v
	return addr
}

// Call invokes the native function at addr, following enabled hooks.
func (p *Process) Call(addr uintptr, args ...any) []any {
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := p.invoke(addr, in)
	res := make([]any, len(out))
	for i, v := range out {
		res[i] = v.Interface()
	}
	return res
}

func (p *Process) invoke(addr uintptr, args []reflect.Value) []reflect.Value {
	p.mu.Lock()
	seen := map[uintptr]bool{}
	for {
		h, ok := p.redirects[addr]
		if !ok || !h.enabled || seen[addr] {
			break
		}
		seen[addr] = true
		addr = h.detour
	}
	fn, ok := p.funcs[addr]
	p.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("nativetest: no function at 0x%X", addr))
	}
	return fn.Call(args)
}

// Callback implements native.Binder.
func (p *Process) Callback(fn any) (uintptr, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0, fmt.Errorf("nativetest: callback must be a func, got %T", fn)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := p.alloc(16)
	p.funcs[addr] = v
	p.callbacks[addr] = true
	return addr, nil
}

// Release implements native.Binder.
func (p *Process) Release(ptr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.callbacks[ptr] {
		delete(p.callbacks, ptr)
		delete(p.funcs, ptr)
	}
}

// Callbacks returns the number of callbacks not yet released.
func (p *Process) Callbacks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.callbacks)
}

// Function implements native.Binder. The bound func resolves hooks on
// every call, like a call instruction into patched code.
func (p *Process) Function(addr uintptr, fptr any) error {
	v := reflect.ValueOf(fptr)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Func {
		return fmt.Errorf("nativetest: fptr must point to a func, got %T", fptr)
	}
	fn := v.Elem()
	fn.Set(reflect.MakeFunc(fn.Type(), func(args []reflect.Value) []reflect.Value {
		return p.invoke(addr, args)
	}))
	return nil
}

// AllocateHook implements native.HookEngine.
func (p *Process) AllocateHook() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHook++
	h := p.nextHook
	p.hooks[h] = &prologueHook{}
	return h
}

// SetHook implements native.HookEngine. The trampoline is available
// right away and runs the target's code as it was before this hook.
func (p *Process) SetHook(hook, target, detour uintptr) error {
	if p.SetHookErr != nil {
		if err := p.SetHookErr(target, detour); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hooks[hook]
	if !ok {
		return fmt.Errorf("nativetest: unknown hook 0x%X", hook)
	}
	body, ok := p.funcs[target]
	if !ok {
		return fmt.Errorf("nativetest: no function at 0x%X", target)
	}
	h.target, h.detour = target, detour
	h.trampoline = p.alloc(16)
	p.funcs[h.trampoline] = body
	return nil
}

// EnableHook implements native.HookEngine.
func (p *Process) EnableHook(hook uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hooks[hook]
	if !ok || h.target == 0 {
		return fmt.Errorf("nativetest: hook 0x%X not set", hook)
	}
	h.enabled = true
	p.redirects[h.target] = h
	return nil
}

// HookOriginal implements native.HookEngine.
func (p *Process) HookOriginal(hook uintptr) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hooks[hook]; ok {
		return h.trampoline
	}
	return 0
}

// DeallocateHook implements native.HookEngine.
func (p *Process) DeallocateHook(hook uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hooks[hook]
	if !ok {
		return
	}
	delete(p.hooks, hook)
	if p.redirects[h.target] == h {
		delete(p.redirects, h.target)
	}
	if h.trampoline != 0 {
		delete(p.funcs, h.trampoline)
	}
}

// InstalledHooks returns the number of enabled prologue hooks.
func (p *Process) InstalledHooks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.hooks {
		if h.enabled {
			n++
		}
	}
	return n
}

// AllocatedHooks returns the number of prologue hooks not yet deallocated.
func (p *Process) AllocatedHooks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hooks)
}

// AllocateMidHook implements native.HookEngine.
func (p *Process) AllocateMidHook() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHook++
	h := p.nextHook
	p.midHooks[h] = &midHook{}
	return h
}

// SetMidHook implements native.HookEngine.
func (p *Process) SetMidHook(hook, target, callback uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.midHooks[hook]
	if !ok {
		return fmt.Errorf("nativetest: unknown mid hook 0x%X", hook)
	}
	h.target, h.callback = target, callback
	return nil
}

// EnableMidHook implements native.HookEngine.
func (p *Process) EnableMidHook(hook uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.midHooks[hook]
	if !ok || h.target == 0 {
		return fmt.Errorf("nativetest: mid hook 0x%X not set", hook)
	}
	h.enabled = true
	return nil
}

// DeallocateMidHook implements native.HookEngine.
func (p *Process) DeallocateMidHook(hook uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.midHooks, hook)
}

// MidHooks returns the number of enabled mid hooks.
func (p *Process) MidHooks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.midHooks {
		if h.enabled {
			n++
		}
	}
	return n
}

// Execute simulates the CPU reaching addr with the register context at
// ctx. Every enabled mid hook at addr is invoked with ctx.
func (p *Process) Execute(addr, ctx uintptr) {
	p.mu.Lock()
	var cbs []reflect.Value
	for _, h := range p.midHooks {
		if h.enabled && h.target == addr {
			cbs = append(cbs, p.funcs[h.callback])
		}
	}
	p.mu.Unlock()
	for _, cb := range cbs {
		cb.Call([]reflect.Value{reflect.ValueOf(ctx)})
	}
}

// SetSchemaOffset makes hash resolve to off.
func (p *Process) SetSchemaOffset(hash uint64, off int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offsets[hash] = off
}

// SchemaOffset implements native.SchemaTable.
func (p *Process) SchemaOffset(hash uint64) (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	off, ok := p.offsets[hash]
	return off, ok
}

// SetStateChanged implements native.SchemaTable.
func (p *Process) SetStateChanged(h native.Handle, hash uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateChanged = append(p.stateChanged, StateChange{Handle: h, Hash: hash})
}

// StateChanges returns every SetStateChanged call so far.
func (p *Process) StateChanges() []StateChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StateChange(nil), p.stateChanged...)
}

// SetSignature makes AddressBySignature(library, signature) return addr.
func (p *Process) SetSignature(library, signature string, addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signatures[library+"\x00"+signature] = addr
}

// SetVTable makes VTable(library, class) return addr.
func (p *Process) SetVTable(library, class string, addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vtables[library+"\x00"+class] = addr
}

// SetInterface makes Interface(name) return addr.
func (p *Process) SetInterface(name string, addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interfaces[name] = addr
}

// AddressBySignature implements native.Scanner.
func (p *Process) AddressBySignature(library, signature string) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signatures[library+"\x00"+signature]
}

// VTable implements native.Scanner.
func (p *Process) VTable(library, class string) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.vtables[library+"\x00"+class]
}

// Interface implements native.Scanner.
func (p *Process) Interface(name string) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interfaces[name]
}

// SetGameDataSignature adds a signature to the native game data store.
func (p *Process) SetGameDataSignature(name string, addr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gdSignatures[name] = addr
}

// SetGameDataOffset adds an offset to the native game data store.
func (p *Process) SetGameDataOffset(name string, off int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gdOffsets[name] = off
}

// SetGameDataPatch adds an unapplied patch to the native game data store.
func (p *Process) SetGameDataPatch(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gdPatches[name] = false
}

// PatchApplied reports whether the native patch name is applied.
func (p *Process) PatchApplied(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gdPatches[name]
}

func (p *Process) HasSignature(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.gdSignatures[name]
	return ok
}

func (p *Process) Signature(name string) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gdSignatures[name]
}

func (p *Process) HasOffset(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.gdOffsets[name]
	return ok
}

func (p *Process) Offset(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gdOffsets[name]
}

func (p *Process) HasPatch(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.gdPatches[name]
	return ok
}

var errNoPatch = errors.New("nativetest: no such patch")

func (p *Process) ApplyPatch(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.gdPatches[name]; !ok {
		return errNoPatch
	}
	p.gdPatches[name] = true
	return nil
}

func (p *Process) RevertPatch(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.gdPatches[name]; !ok {
		return errNoPatch
	}
	p.gdPatches[name] = false
	return nil
}

// MakeWritable implements native.Protector.
func (p *Process) MakeWritable(addr uintptr, n int) error {
	if p.ProtectErr != nil {
		return p.ProtectErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writable = append(p.writable, Span{Addr: addr, Len: n})
	return nil
}

// Writable returns every span passed to MakeWritable.
func (p *Process) Writable() []Span {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Span(nil), p.writable...)
}

// ExecuteCommand implements native.Console.
func (p *Process) ExecuteCommand(cmdline string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, cmdline)
}

// Commands returns and forgets every command line passed to
// ExecuteCommand.
func (p *Process) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmds := p.commands
	p.commands = nil
	return cmds
}
