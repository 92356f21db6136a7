package native

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Entry is one row of the function table the game side passes to the
// host on startup. Name is a NUL-terminated "Class.Function" string.
type Entry struct {
	Name uintptr
	Fn   uintptr
}

// ReadEntries reads count table rows starting at addr.
func ReadEntries(addr uintptr, count int) map[string]uintptr {
	fns := make(map[string]uintptr, count)
	if !IsValidPtr(addr) || count <= 0 {
		return fns
	}
	for _, e := range unsafe.Slice((*Entry)(unsafe.Pointer(addr)), count) {
		if name := CString(e.Name); name != "" {
			fns[name] = e.Fn
		}
	}
	return fns
}

// Table is the Runtime backed by the game's native function table.
type Table struct {
	*CallbackPool

	schemaGetOffset       func(hash uint64) int32
	schemaSetStateChanged func(h uintptr, hash uint64)

	hooksAllocateHook     func() uintptr
	hooksSetHook          func(hook, target, detour uintptr) bool
	hooksEnableHook       func(hook uintptr) bool
	hooksGetHookOriginal  func(hook uintptr) uintptr
	hooksDeallocateHook   func(hook uintptr)
	hooksAllocateMHook    func() uintptr
	hooksSetMHook         func(hook, target, callback uintptr) bool
	hooksEnableMHook      func(hook uintptr) bool
	hooksDeallocateMHook  func(hook uintptr)
	allocatorAlloc        func(size uint64) uintptr
	memGetAddrBySignature func(library, signature string) uintptr
	memGetVTable          func(library, class string) uintptr
	memFetchInterface     func(name string) uintptr
	signaturesExists      func(name string) bool
	signaturesFetch       func(name string) uintptr
	offsetsExists         func(name string) bool
	offsetsFetch          func(name string) int32
	patchesExists         func(name string) bool
	patchesApply          func(name string)
	patchesRevert         func(name string)
	engineExecuteCommand  func(cmdline string)
}

var _ Runtime = (*Table)(nil)

// Bind resolves every function the host needs from the table rows at
// addr. Missing functions are reported together.
func Bind(addr uintptr, count int) (*Table, error) {
	fns := ReadEntries(addr, count)
	t := &Table{CallbackPool: &CallbackPool{}}
	var bindErrs []error
	for name, fptr := range t.bindings() {
		fn, ok := fns[name]
		if !ok {
			bindErrs = append(bindErrs, fmt.Errorf("%w: native function %q not exported", errs.ErrResolution, name))
			continue
		}
		if err := t.Function(fn, fptr); err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("binding %q: %w", name, err))
		}
	}
	if err := errors.Join(bindErrs...); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Table) bindings() map[string]any {
	return map[string]any{
		"Schema.GetOffset":                     &t.schemaGetOffset,
		"Schema.SetStateChanged":               &t.schemaSetStateChanged,
		"Hooks.AllocateHook":                   &t.hooksAllocateHook,
		"Hooks.SetHook":                        &t.hooksSetHook,
		"Hooks.EnableHook":                     &t.hooksEnableHook,
		"Hooks.GetHookOriginal":                &t.hooksGetHookOriginal,
		"Hooks.DeallocateHook":                 &t.hooksDeallocateHook,
		"Hooks.AllocateMHook":                  &t.hooksAllocateMHook,
		"Hooks.SetMHook":                       &t.hooksSetMHook,
		"Hooks.EnableMHook":                    &t.hooksEnableMHook,
		"Hooks.DeallocateMHook":                &t.hooksDeallocateMHook,
		"Allocator.Alloc":                      &t.allocatorAlloc,
		"MemoryHelpers.GetAddressBySignature":  &t.memGetAddrBySignature,
		"MemoryHelpers.GetVirtualTableAddress": &t.memGetVTable,
		"MemoryHelpers.FetchInterfaceByName":   &t.memFetchInterface,
		"Signatures.Exists":                    &t.signaturesExists,
		"Signatures.Fetch":                     &t.signaturesFetch,
		"Offsets.Exists":                       &t.offsetsExists,
		"Offsets.Fetch":                        &t.offsetsFetch,
		"Patches.Exists":                       &t.patchesExists,
		"Patches.Apply":                        &t.patchesApply,
		"Patches.Revert":                       &t.patchesRevert,
		"EngineHelpers.ExecuteCommand":         &t.engineExecuteCommand,
	}
}

func (t *Table) SchemaOffset(hash uint64) (int32, bool) {
	off := t.schemaGetOffset(hash)
	return off, off >= 0
}

func (t *Table) SetStateChanged(h Handle, hash uint64) {
	t.schemaSetStateChanged(uintptr(h), hash)
}

func (t *Table) AllocateHook() uintptr { return t.hooksAllocateHook() }

func (t *Table) SetHook(hook, target, detour uintptr) error {
	if !t.hooksSetHook(hook, target, detour) {
		return fmt.Errorf("setting hook 0x%X -> 0x%X failed", target, detour)
	}
	return nil
}

func (t *Table) EnableHook(hook uintptr) error {
	if !t.hooksEnableHook(hook) {
		return fmt.Errorf("enabling hook 0x%X failed", hook)
	}
	return nil
}

func (t *Table) HookOriginal(hook uintptr) uintptr { return t.hooksGetHookOriginal(hook) }
func (t *Table) DeallocateHook(hook uintptr) { t.hooksDeallocateHook(hook) }
func (t *Table) AllocateMidHook() uintptr { return t.hooksAllocateMHook() }

func (t *Table) SetMidHook(hook, target, callback uintptr) error {
	if !t.hooksSetMHook(hook, target, callback) {
		return fmt.Errorf("setting mid hook at 0x%X failed", target)
	}
	return nil
}

func (t *Table) EnableMidHook(hook uintptr) error {
	if !t.hooksEnableMHook(hook) {
		return fmt.Errorf("enabling mid hook 0x%X failed", hook)
	}
	return nil
}

func (t *Table) DeallocateMidHook(hook uintptr) { t.hooksDeallocateMHook(hook) }

func (t *Table) Alloc(size int) uintptr { return t.allocatorAlloc(uint64(size)) }

func (t *Table) AddressBySignature(library, signature string) uintptr {
	return t.memGetAddrBySignature(library, signature)
}

func (t *Table) VTable(library, class string) uintptr { return t.memGetVTable(library, class) }
func (t *Table) Interface(name string) uintptr { return t.memFetchInterface(name) }

func (t *Table) HasSignature(name string) bool { return t.signaturesExists(name) }
func (t *Table) Signature(name string) uintptr { return t.signaturesFetch(name) }
func (t *Table) HasOffset(name string) bool { return t.offsetsExists(name) }
func (t *Table) Offset(name string) int { return int(t.offsetsFetch(name)) }
func (t *Table) HasPatch(name string) bool { return t.patchesExists(name) }

func (t *Table) ApplyPatch(name string) error {
	if !t.patchesExists(name) {
		return fmt.Errorf("%w: patch %q not found", errs.ErrResolution, name)
	}
	t.patchesApply(name)
	return nil
}

func (t *Table) RevertPatch(name string) error {
	if !t.patchesExists(name) {
		return fmt.Errorf("%w: patch %q not found", errs.ErrResolution, name)
	}
	t.patchesRevert(name)
	return nil
}

func (t *Table) MakeWritable(addr uintptr, n int) error { return Protect(addr, n) }

func (t *Table) ExecuteCommand(cmdline string) { t.engineExecuteCommand(cmdline) }
