package hook

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/google/uuid"

	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// MidFunc is called when execution reaches a mid hook. Changes to ctx
// are applied to the CPU when execution resumes.
type MidFunc func(ctx *Context)

type midNode struct {
	id NodeID
	fn MidFunc
}

type midChain struct {
	addr     uintptr
	hook     uintptr
	callback uintptr
	nodes    []*midNode
}

// AddMidHook adds a callback run whenever execution reaches addr.
// The native injection is installed once, with the first callback, and
// stays installed until the Manager is closed.
func (m *Manager) AddMidHook(addr uintptr, fn MidFunc) (NodeID, error) {
	if !native.IsValidPtr(addr) {
		return NodeID{}, fmt.Errorf("%w: invalid address 0x%X", errs.ErrArgument, addr)
	}
	if fn == nil {
		return NodeID{}, fmt.Errorf("%w: nil mid hook callback", errs.ErrArgument)
	}
	n := &midNode{id: NodeID(uuid.New()), fn: fn}

	m.midMu.Lock()
	defer m.midMu.Unlock()
	if m.closed {
		return NodeID{}, fmt.Errorf("%w: hook manager is closed", errs.ErrArgument)
	}

	c, ok := m.mids[addr]
	if !ok {
		c = &midChain{addr: addr}
		if err := m.installMid(c); err != nil {
			return NodeID{}, err
		}
		m.mids[addr] = c
	}
	// Dispatch reads the slice without holding the lock, so it is replaced
	// rather than appended to in place.
	c.nodes = append(slices.Clip(c.nodes), n)
	return n.id, nil
}

func (m *Manager) installMid(c *midChain) (err error) {
	c.callback, err = m.binder.Callback(func(ctx uintptr) { m.dispatchMid(c, ctx) })
	if err != nil {
		return fmt.Errorf("%w: binding mid hook at 0x%X: %w", errs.ErrCallback, c.addr, err)
	}
	c.hook = m.engine.AllocateMidHook()
	if err = m.engine.SetMidHook(c.hook, c.addr, c.callback); err == nil {
		err = m.engine.EnableMidHook(c.hook)
	}
	if err != nil {
		m.uninstallMid(c)
		return fmt.Errorf("%w: installing mid hook at 0x%X: %w", errs.ErrChainRebuild, c.addr, err)
	}
	m.log.V(1).Info("installed mid hook", "addr", fmt.Sprintf("0x%X", c.addr))
	return nil
}

func (m *Manager) uninstallMid(c *midChain) {
	if c.hook != 0 {
		m.engine.DeallocateMidHook(c.hook)
		c.hook = 0
	}
	if c.callback != 0 {
		m.binder.Release(c.callback)
		c.callback = 0
	}
}

// dispatchMid runs every callback of c in registration order with the
// shared context. A panicking callback aborts the remaining callbacks
// of this invocation.
func (m *Manager) dispatchMid(c *midChain, ctxPtr uintptr) {
	m.midMu.RLock()
	nodes := c.nodes
	m.midMu.RUnlock()

	ctx := (*Context)(unsafe.Pointer(ctxPtr))
	var current NodeID
	defer func() {
		if err := errs.Recover(recover(), errs.ErrCallback); err != nil {
			m.errs.Handle(err, "addr", fmt.Sprintf("0x%X", c.addr), "node", current)
		}
	}()
	for _, n := range nodes {
		current = n.id
		n.fn(ctx)
	}
}

// RemoveMidHook removes the given mid hook callbacks. The native
// injection stays installed.
func (m *Manager) RemoveMidHook(ids ...NodeID) {
	m.midMu.Lock()
	defer m.midMu.Unlock()
	for _, c := range m.mids {
		if !slices.ContainsFunc(c.nodes, func(n *midNode) bool { return slices.Contains(ids, n.id) }) {
			continue
		}
		c.nodes = slices.DeleteFunc(slices.Clone(c.nodes), func(n *midNode) bool {
			return slices.Contains(ids, n.id)
		})
	}
}

// IsMidHooked reports whether a mid hook is installed at addr.
func (m *Manager) IsMidHooked(addr uintptr) bool {
	m.midMu.RLock()
	defer m.midMu.RUnlock()
	_, ok := m.mids[addr]
	return ok
}

// MidNodes returns the number of callbacks registered at addr.
func (m *Manager) MidNodes(addr uintptr) int {
	m.midMu.RLock()
	defer m.midMu.RUnlock()
	if c, ok := m.mids[addr]; ok {
		return len(c.nodes)
	}
	return 0
}

func (m *Manager) closeMid() {
	m.midMu.Lock()
	defer m.midMu.Unlock()
	for addr, c := range m.mids {
		m.uninstallMid(c)
		delete(m.mids, addr)
	}
	m.closed = true
}
