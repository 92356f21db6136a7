package memory

import (
	"slices"
	"sync"

	"github.com/anvilhost/anvil/pkg/hook"
	"github.com/anvilhost/anvil/pkg/native"
)

// Region is a location inside native code that mid hooks can be
// attached to.
type Region struct {
	hooks *hook.Manager
	addr  uintptr

	mu  sync.Mutex
	ids []hook.NodeID
}

// Address returns the address of the region.
func (r *Region) Address() uintptr { return r.addr }

// Bytes returns a copy of the n bytes at the region.
func (r *Region) Bytes(n int) []byte { return native.Bytes(r.addr, n) }

// AddHook runs fn whenever execution reaches the region.
func (r *Region) AddHook(fn hook.MidFunc) (hook.NodeID, error) {
	id, err := r.hooks.AddMidHook(r.addr, fn)
	if err != nil {
		return hook.NodeID{}, err
	}
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
	return id, nil
}

// RemoveHook removes a callback added through AddHook.
func (r *Region) RemoveHook(id hook.NodeID) {
	r.mu.Lock()
	r.ids = slices.DeleteFunc(r.ids, func(x hook.NodeID) bool { return x == id })
	r.mu.Unlock()
	r.hooks.RemoveMidHook(id)
}

// Close removes every callback added through AddHook.
func (r *Region) Close() {
	r.mu.Lock()
	ids := r.ids
	r.ids = nil
	r.mu.Unlock()
	if len(ids) != 0 {
		r.hooks.RemoveMidHook(ids...)
	}
}
