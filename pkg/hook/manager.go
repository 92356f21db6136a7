// Package hook intercepts native functions.
//
// Any number of plugins can intercept the same function. The Manager
// keeps one chain per function address and rebuilds the chain of native
// detours whenever a plugin adds or removes an interceptor. The first
// interceptor added is the outermost: it runs first and calls into the
// next one through its original function pointer.
package hook

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/robinbraemer/event"

	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// NodeID identifies one interceptor.
type NodeID uuid.UUID

func (id NodeID) String() string { return uuid.UUID(id).String() }

// Builder creates the Go func that replaces the intercepted function.
//
// original returns the function pointer the interceptor must call to
// continue the chain. It is only valid while the interceptor runs, since
// the pointer changes whenever the chain is rebuilt.
//
// Builders run while the Manager is locked and must not call back into
// it, e.g. through Original, AddHook or Remove. They may be called again
// on every rebuild.
//
// A panic raised by the returned func is reported to Options.Errors and
// the call continues with the rest of the chain.
type Builder func(original func() uintptr) any

// Options are the dependencies of a Manager.
type Options struct {
	Engine native.HookEngine
	Binder native.Binder
	// Errors receives faults raised while rebuilding chains or
	// running mid hooks. If nil, faults are only logged.
	Errors *errs.Handler
	// Event is used to fire ChainRebuiltEvent and RebuildFailedEvent.
	// If nil, event.Nop is used.
	Event  event.Manager
	Logger logr.Logger
}

// Manager owns every hook chain of the process.
type Manager struct {
	engine native.HookEngine
	binder native.Binder
	errs   *errs.Handler
	event  event.Manager
	log    logr.Logger

	mu     sync.Mutex
	chains map[uintptr]*chain

	midMu  sync.RWMutex
	mids   map[uintptr]*midChain
	closed bool
}

type node struct {
	id    NodeID
	build Builder

	hook     uintptr
	callback uintptr
	original uintptr
}

type chain struct {
	addr     uintptr
	hooked   bool
	original uintptr
	nodes    []*node
}

// New returns a new Manager.
func New(opts Options) (*Manager, error) {
	if opts.Engine == nil || opts.Binder == nil {
		return nil, fmt.Errorf("%w: hook manager needs a native engine and binder", errs.ErrArgument)
	}
	if opts.Errors == nil {
		opts.Errors = errs.NewHandler(opts.Logger, false)
	}
	if opts.Event == nil {
		opts.Event = event.Nop
	}
	return &Manager{
		engine: opts.Engine,
		binder: opts.Binder,
		errs:   opts.Errors,
		event:  opts.Event,
		log:    opts.Logger,
		chains: map[uintptr]*chain{},
		mids:   map[uintptr]*midChain{},
	}, nil
}

// AddHook adds an interceptor for the function at addr and rebuilds its
// chain. If the chain cannot be rebuilt with the new interceptor, the
// previous chain is restored and an error is returned.
func (m *Manager) AddHook(addr uintptr, build Builder) (NodeID, error) {
	if !native.IsValidPtr(addr) {
		return NodeID{}, fmt.Errorf("%w: invalid function address 0x%X", errs.ErrArgument, addr)
	}
	if build == nil {
		return NodeID{}, fmt.Errorf("%w: nil builder", errs.ErrArgument)
	}
	n := &node{id: NodeID(uuid.New()), build: build}

	var events []event.Event
	defer func() { m.fire(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chains[addr]
	if !ok {
		c = &chain{addr: addr}
		m.chains[addr] = c
	}
	prev := slices.Clone(c.nodes)
	c.nodes = append(c.nodes, n)

	var err error
	events, err = m.rebuildOrRestore(c, prev)
	if err != nil {
		return NodeID{}, err
	}
	return n.id, nil
}

// Remove removes the given interceptors from every chain containing them.
// Chains left without interceptors are unhooked and forgotten.
func (m *Manager) Remove(ids ...NodeID) error {
	var events []event.Event
	defer func() { m.fire(events) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	var rebuildErrs []error
	for _, c := range m.chains {
		kept := slices.DeleteFunc(slices.Clone(c.nodes), func(n *node) bool {
			return slices.Contains(ids, n.id)
		})
		if len(kept) == len(c.nodes) {
			continue
		}
		m.teardown(c)
		c.nodes = kept
		evs, err := m.rebuildOrRestore(c, nil)
		events = append(events, evs...)
		if err != nil {
			rebuildErrs = append(rebuildErrs, err)
		}
	}
	return errors.Join(rebuildErrs...)
}

// Original returns the function pointer that reaches the unhooked
// function at addr, bypassing every interceptor. It returns addr itself
// if the function is not hooked.
func (m *Manager) Original(addr uintptr) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[addr]
	if !ok || !c.hooked || len(c.nodes) == 0 {
		return addr
	}
	return c.nodes[len(c.nodes)-1].original
}

// IsHooked reports whether the function at addr has interceptors installed.
func (m *Manager) IsHooked(addr uintptr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chains[addr]
	return ok && c.hooked
}

// Nodes returns the number of interceptors installed for addr.
func (m *Manager) Nodes(addr uintptr) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.chains[addr]; ok && c.hooked {
		return len(c.nodes)
	}
	return 0
}

// Close unhooks every chain.
func (m *Manager) Close() error {
	m.mu.Lock()
	for addr, c := range m.chains {
		m.teardown(c)
		delete(m.chains, addr)
	}
	m.mu.Unlock()

	m.closeMid()
	return nil
}

// rebuildOrRestore rebuilds c. On failure it rebuilds prev instead, if
// given. A chain that cannot be rebuilt at all is unhooked and forgotten.
// Must be called with m.mu held.
func (m *Manager) rebuildOrRestore(c *chain, prev []*node) (events []event.Event, err error) {
	err = m.rebuild(c)
	if err == nil {
		if len(c.nodes) == 0 {
			delete(m.chains, c.addr)
		}
		m.log.V(1).Info("rebuilt hook chain", "addr", fmt.Sprintf("0x%X", c.addr), "nodes", len(c.nodes))
		return []event.Event{&ChainRebuiltEvent{Address: c.addr, Nodes: len(c.nodes)}}, nil
	}

	m.teardown(c)
	failed := &RebuildFailedEvent{Address: c.addr, Err: err}
	if len(prev) != 0 {
		c.nodes = prev
		if restoreErr := m.rebuild(c); restoreErr == nil {
			failed.Restored = true
		} else {
			m.teardown(c)
			err = errors.Join(err, restoreErr)
		}
	}
	if !failed.Restored {
		c.nodes = nil
		delete(m.chains, c.addr)
	}
	failed.Err = err
	m.errs.Handle(err, "addr", fmt.Sprintf("0x%X", c.addr), "restored", failed.Restored)
	return []event.Event{failed}, err
}

// rebuild installs the chain from scratch. Node 0 hooks the function
// itself and every following node hooks the trampoline of the node
// before it, so the last trampoline reaches the unhooked function.
func (m *Manager) rebuild(c *chain) (err error) {
	m.teardown(c)
	defer func() {
		if r := recover(); r != nil {
			err = errs.Recover(r, errs.ErrChainRebuild)
		}
	}()

	for i, n := range c.nodes {
		fn := n.build(func() uintptr { return n.original })
		if fn, err = m.guard(c.addr, n, fn); err != nil {
			return err
		}
		if n.callback, err = m.binder.Callback(fn); err != nil {
			return fmt.Errorf("%w: binding node %s: %w", errs.ErrChainRebuild, n.id, err)
		}

		target := c.addr
		if i > 0 {
			target = c.nodes[i-1].original
		}
		n.hook = m.engine.AllocateHook()
		if err = m.engine.SetHook(n.hook, target, n.callback); err != nil {
			return fmt.Errorf("%w: node %s: %w", errs.ErrChainRebuild, n.id, err)
		}
		n.original = m.engine.HookOriginal(n.hook)
		if err = m.engine.EnableHook(n.hook); err != nil {
			return fmt.Errorf("%w: node %s: %w", errs.ErrChainRebuild, n.id, err)
		}
		if i == 0 {
			c.original = n.original
			c.hooked = true
		}
	}
	return nil
}

// guard wraps the interceptor fn of n. A panic in fn is reported and the
// call goes on through n's trampoline with the same arguments.
func (m *Manager) guard(addr uintptr, n *node, fn any) (any, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("%w: builder of node %s returned %T, not a func", errs.ErrChainRebuild, n.id, fn)
	}
	t := v.Type()
	return reflect.MakeFunc(t, func(in []reflect.Value) (out []reflect.Value) {
		defer func() {
			err := errs.Recover(recover(), errs.ErrCallback)
			if err == nil {
				return
			}
			m.errs.Handle(err, "addr", fmt.Sprintf("0x%X", addr), "node", n.id)
			out = m.callThrough(t, n.original, in)
		}()
		return call(v, in)
	}).Interface(), nil
}

// callThrough calls the trampoline at orig as a func of type t. If the
// trampoline is gone, the zero results are returned.
func (m *Manager) callThrough(t reflect.Type, orig uintptr, in []reflect.Value) []reflect.Value {
	if orig != 0 {
		next := reflect.New(t)
		err := m.binder.Function(orig, next.Interface())
		if err == nil {
			return call(next.Elem(), in)
		}
		m.log.Error(err, "could not continue hook chain", "trampoline", fmt.Sprintf("0x%X", orig))
	}
	out := make([]reflect.Value, t.NumOut())
	for i := range out {
		out[i] = reflect.Zero(t.Out(i))
	}
	return out
}

func call(fn reflect.Value, in []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(in)
	}
	return fn.Call(in)
}

// teardown removes every native hook of c, innermost first, and releases
// the bound callbacks.
func (m *Manager) teardown(c *chain) {
	for i := len(c.nodes) - 1; i >= 0; i-- {
		n := c.nodes[i]
		if n.hook != 0 {
			m.engine.DeallocateHook(n.hook)
			n.hook = 0
		}
		if n.callback != 0 {
			m.binder.Release(n.callback)
			n.callback = 0
		}
		n.original = 0
	}
	c.original = 0
	c.hooked = false
}

func (m *Manager) fire(events []event.Event) {
	for _, e := range events {
		m.event.Fire(e)
	}
}
