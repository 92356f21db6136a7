// Package native binds the host to the game server process.
//
// Everything in this package operates on raw addresses inside the current
// process. Handles are borrowed: the game owns the memory they point to
// and may free it at any time, so callers must not keep a Handle past the
// lifetime of the native object.
package native

import "fmt"

// Handle is the address of a native object.
type Handle uintptr

// Invalid is the all-ones sentinel some native APIs return instead of nil.
const Invalid = ^Handle(0)

// IsValid reports whether h is neither nil nor the all-ones sentinel.
// It must be checked before dereferencing.
func (h Handle) IsValid() bool { return h != 0 && h != Invalid }

// Add returns h advanced by off bytes.
func (h Handle) Add(off uintptr) Handle { return h + Handle(off) }

// Address returns h as a plain address.
func (h Handle) Address() uintptr { return uintptr(h) }

func (h Handle) String() string { return fmt.Sprintf("0x%X", uintptr(h)) }

// IsValidPtr reports whether addr is neither nil nor all-ones.
func IsValidPtr(addr uintptr) bool { return Handle(addr).IsValid() }
