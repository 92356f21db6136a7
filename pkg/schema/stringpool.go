package schema

import (
	"sync"

	"github.com/anvilhost/anvil/pkg/native"
)

// StringPool interns strings written to native char* fields.
//
// The game keeps the pointer after the write, so buffers are never freed.
// Equal contents share one buffer.
type StringPool struct {
	alloc native.Allocator

	mu      sync.Mutex
	buffers map[string]uintptr
}

// NewStringPool returns a StringPool allocating from alloc.
func NewStringPool(alloc native.Allocator) *StringPool {
	return &StringPool{alloc: alloc, buffers: map[string]uintptr{}}
}

// Get returns the address of a NUL-terminated native copy of s.
func (p *StringPool) Get(s string) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr, ok := p.buffers[s]; ok {
		return addr
	}
	addr := p.alloc.Alloc(len(s) + 1)
	native.WriteCString(addr, s)
	p.buffers[s] = addr
	return addr
}

// Len returns the number of pooled strings.
func (p *StringPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}
