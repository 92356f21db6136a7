//go:build unix

package native

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSize = uintptr(unix.Getpagesize())

// Protect marks every page overlapping [addr, addr+n) readable,
// writable and executable.
func Protect(addr uintptr, n int) error {
	if n <= 0 {
		return nil
	}
	start := addr &^ (pageSize - 1)
	end := addr + uintptr(n)
	region := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)
	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect 0x%X+%d: %w", addr, n, err)
	}
	return nil
}
