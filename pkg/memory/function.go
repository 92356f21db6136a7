package memory

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"unsafe"

	"github.com/anvilhost/anvil/pkg/hook"
	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Function is a typed handle to a native function. F is the Go func
// type matching the native signature.
type Function[F any] struct {
	svc  *Service
	addr uintptr

	// Call invokes the function, running every interceptor.
	Call F

	original binding[F]

	mu  sync.Mutex
	ids []hook.NodeID
}

// binding caches the func bound to the last address asked for.
// Trampolines change on every chain rebuild, so only one is kept.
type binding[F any] struct {
	mu   sync.Mutex
	addr uintptr
	fn   F
}

func (b *binding[F]) get(binder native.Binder, addr uintptr) (F, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr != 0 && b.addr == addr {
		return b.fn, nil
	}
	fn, err := bind[F](binder, addr)
	if err != nil {
		return fn, err
	}
	b.addr, b.fn = addr, fn
	return fn, nil
}

// FunctionByAddress returns the Function at addr. Every request for the
// same address returns the same Function; asking again with a different
// F fails with errs.ErrTypeMismatch.
func FunctionByAddress[F any](s *Service, addr uintptr) (*Function[F], error) {
	if t := reflect.TypeFor[F](); t.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s is not a func type", errs.ErrArgument, t)
	}
	if !native.IsValidPtr(addr) {
		return nil, fmt.Errorf("%w: invalid function address 0x%X", errs.ErrArgument, addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.funcs[addr]; ok {
		f, ok := existing.(*Function[F])
		if !ok {
			return nil, fmt.Errorf("%w: function at 0x%X is already bound as %T", errs.ErrTypeMismatch, addr, existing)
		}
		return f, nil
	}

	call, err := bind[F](s.binder, addr)
	if err != nil {
		return nil, err
	}
	f := &Function[F]{svc: s, addr: addr, Call: call}
	s.funcs[addr] = f
	return f, nil
}

// FunctionByVTable returns the Function in slot index of vtable.
func FunctionByVTable[F any](s *Service, vtable uintptr, index int) (*Function[F], error) {
	if !native.IsValidPtr(vtable) || index < 0 {
		return nil, fmt.Errorf("%w: invalid vtable 0x%X slot %d", errs.ErrArgument, vtable, index)
	}
	return FunctionByAddress[F](s, native.ReadPtr(vtable+uintptr(index)*ptrSize))
}

const ptrSize = unsafe.Sizeof(uintptr(0))

// Address returns the address of the function.
func (f *Function[F]) Address() uintptr { return f.addr }

// CallOriginal returns a func calling the function without running
// any interceptor.
func (f *Function[F]) CallOriginal() F {
	orig := f.svc.hooks.Original(f.addr)
	if orig == f.addr {
		return f.Call
	}
	fn, err := f.original.get(f.svc.binder, orig)
	if err != nil {
		// The trampoline comes from the hook engine and is always valid.
		panic(err)
	}
	return fn
}

// AddHook intercepts the function. build receives next, which returns
// the func continuing the chain, and returns the interceptor.
//
// build runs while the hook chain is being rebuilt and must not call
// CallOriginal or add and remove hooks. next and CallOriginal may be
// called from the interceptor itself. A panicking interceptor is
// reported and the call continues with next.
func (f *Function[F]) AddHook(build func(next func() F) F) (hook.NodeID, error) {
	if build == nil {
		return hook.NodeID{}, fmt.Errorf("%w: nil hook builder", errs.ErrArgument)
	}
	id, err := f.svc.hooks.AddHook(f.addr, func(original func() uintptr) any {
		var b binding[F]
		next := func() F {
			fn, err := b.get(f.svc.binder, original())
			if err != nil {
				panic(err)
			}
			return fn
		}
		return build(next)
	})
	if err != nil {
		return hook.NodeID{}, err
	}
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	return id, nil
}

// AddPreHook runs pre with the call arguments before the rest of the
// chain. On Continue the call goes on to the next interceptor. Handled
// skips the remaining interceptors and calls the function itself. Stop
// returns the zero results without calling anything.
func (f *Function[F]) AddPreHook(pre func(args []any) hook.Result) (hook.NodeID, error) {
	if pre == nil {
		return hook.NodeID{}, fmt.Errorf("%w: nil pre hook", errs.ErrArgument)
	}
	t := reflect.TypeFor[F]()
	return f.AddHook(func(next func() F) F {
		return reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
			args := make([]any, len(in))
			for i, v := range in {
				args[i] = v.Interface()
			}
			var through F
			switch pre(args) {
			case hook.Stop:
				out := make([]reflect.Value, t.NumOut())
				for i := range out {
					out[i] = reflect.Zero(t.Out(i))
				}
				return out
			case hook.Handled:
				through = f.CallOriginal()
			default:
				through = next()
			}
			if t.IsVariadic() {
				return reflect.ValueOf(through).CallSlice(in)
			}
			return reflect.ValueOf(through).Call(in)
		}).Interface().(F)
	})
}

// RemoveHook removes an interceptor added through AddHook.
func (f *Function[F]) RemoveHook(id hook.NodeID) error {
	f.mu.Lock()
	f.ids = slices.DeleteFunc(f.ids, func(x hook.NodeID) bool { return x == id })
	f.mu.Unlock()
	return f.svc.hooks.Remove(id)
}

// Close removes every interceptor added through AddHook.
func (f *Function[F]) Close() error {
	f.mu.Lock()
	ids := f.ids
	f.ids = nil
	f.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	return f.svc.hooks.Remove(ids...)
}

// bind returns a func of type F calling addr.
func bind[F any](binder native.Binder, addr uintptr) (F, error) {
	var fn F
	if err := binder.Function(addr, &fn); err != nil {
		return fn, fmt.Errorf("binding 0x%X: %w", addr, err)
	}
	return fn, nil
}
