//go:build windows

package native

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// Protect marks [addr, addr+n) readable, writable and executable.
func Protect(addr uintptr, n int) error {
	if n <= 0 {
		return nil
	}
	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(n), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect 0x%X+%d: %w", addr, n, err)
	}
	return nil
}
