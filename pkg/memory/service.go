// Package memory is the plugin-facing view of native code and data:
// typed function handles that can be called and intercepted, hookable
// code regions, and lookups into the loaded game libraries.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"golang.org/x/arch/x86/x86asm"

	"github.com/anvilhost/anvil/pkg/hook"
	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Options are the dependencies of a Service.
type Options struct {
	Hooks   *hook.Manager
	Binder  native.Binder
	Scanner native.Scanner
	Logger  logr.Logger
}

// Service caches one Function per address and one Region per address.
type Service struct {
	hooks   *hook.Manager
	binder  native.Binder
	scanner native.Scanner
	log     logr.Logger

	mu      sync.Mutex
	funcs   map[uintptr]closer
	regions map[uintptr]*Region
}

type closer interface{ Close() error }

// New returns a new Service.
func New(opts Options) (*Service, error) {
	if opts.Hooks == nil || opts.Binder == nil || opts.Scanner == nil {
		return nil, fmt.Errorf("%w: memory service needs hooks, binder and scanner", errs.ErrArgument)
	}
	return &Service{
		hooks:   opts.Hooks,
		binder:  opts.Binder,
		scanner: opts.Scanner,
		log:     opts.Logger,
		funcs:   map[uintptr]closer{},
		regions: map[uintptr]*Region{},
	}, nil
}

// Hooks returns the hook manager used by the Service.
func (s *Service) Hooks() *hook.Manager { return s.hooks }

// MemoryByAddress returns the Region at addr, creating it on first use.
func (s *Service) MemoryByAddress(addr uintptr) *Region {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.regions[addr]
	if !ok {
		r = &Region{hooks: s.hooks, addr: addr}
		s.regions[addr] = r
	}
	return r
}

// Interface returns the address of the named engine interface.
func (s *Service) Interface(name string) (uintptr, bool) {
	addr := s.scanner.Interface(name)
	return addr, addr != 0
}

// AddressBySignature scans library for the byte signature.
func (s *Service) AddressBySignature(library, signature string) (uintptr, bool) {
	addr := s.scanner.AddressBySignature(library, signature)
	return addr, addr != 0
}

// VTable returns the virtual table of class in library.
func (s *Service) VTable(library, class string) (uintptr, bool) {
	addr := s.scanner.VTable(library, class)
	return addr, addr != 0
}

// ResolveXref returns the address referenced by the RIP-relative
// instruction at addr.
func ResolveXref(addr uintptr) uintptr {
	if inst, err := x86asm.Decode(native.Bytes(addr, 15), 64); err == nil {
		for _, arg := range inst.Args {
			if m, ok := arg.(x86asm.Mem); ok && m.Base == x86asm.RIP {
				return addr + uintptr(inst.Len) + uintptr(m.Disp)
			}
		}
	}
	// Fall back to the common 7 byte "op reg, [rip+disp32]" encoding.
	return addr + 7 + uintptr(int64(native.Read[int32](addr+3)))
}

// Close removes every hook added through the Service.
func (s *Service) Close() error {
	s.mu.Lock()
	funcs, regions := s.funcs, s.regions
	s.funcs, s.regions = map[uintptr]closer{}, map[uintptr]*Region{}
	s.mu.Unlock()

	var closeErrs []error
	for _, f := range funcs {
		closeErrs = append(closeErrs, f.Close())
	}
	for _, r := range regions {
		r.Close()
	}
	return errors.Join(closeErrs...)
}
