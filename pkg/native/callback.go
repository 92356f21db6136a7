package native

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/ebitengine/purego"
	"go.uber.org/atomic"

	"github.com/anvilhost/anvil/pkg/util/errs"
)

// CallbackPool binds Go funcs to native function pointers with purego.
//
// purego never frees a callback and only has a fixed number of them,
// so every pointer handed out is backed by a slot that forwards to a
// swappable target. Released slots are reused for the next func of the
// same type.
type CallbackPool struct {
	mu    sync.Mutex
	free  map[reflect.Type][]*callbackSlot
	inUse map[uintptr]*callbackSlot
}

type callbackSlot struct {
	ptr    uintptr
	target atomic.Value // reflect.Value
}

var _ Binder = (*CallbackPool)(nil)

// Callback implements Binder.
func (p *CallbackPool) Callback(fn any) (ptr uintptr, err error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0, fmt.Errorf("%w: callback must be a non-nil func, got %T", errs.ErrArgument, fn)
	}
	t := v.Type()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == nil {
		p.free = map[reflect.Type][]*callbackSlot{}
		p.inUse = map[uintptr]*callbackSlot{}
	}

	var slot *callbackSlot
	if free := p.free[t]; len(free) != 0 {
		slot = free[len(free)-1]
		p.free[t] = free[:len(free)-1]
	} else {
		slot = &callbackSlot{}
		forward := reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
			return slot.target.Load().(reflect.Value).Call(args)
		})
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: cannot create callback for %s: %v", errs.ErrArgument, t, r)
			}
		}()
		slot.ptr = purego.NewCallback(forward.Interface())
	}
	slot.target.Store(v)
	p.inUse[slot.ptr] = slot
	return slot.ptr, nil
}

// Release implements Binder.
func (p *CallbackPool) Release(ptr uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot, ok := p.inUse[ptr]
	if !ok {
		return
	}
	delete(p.inUse, ptr)
	t := slot.target.Load().(reflect.Value).Type()
	p.free[t] = append(p.free[t], slot)
}

// Function implements Binder.
func (p *CallbackPool) Function(addr uintptr, fptr any) (err error) {
	if !IsValidPtr(addr) {
		return fmt.Errorf("%w: invalid function address 0x%X", errs.ErrArgument, addr)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: cannot bind %T to 0x%X: %v", errs.ErrArgument, fptr, addr, r)
		}
	}()
	purego.RegisterFunc(fptr, addr)
	return nil
}
