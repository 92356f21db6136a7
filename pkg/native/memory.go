package native

import (
	"unsafe"
)

// Read returns the T stored at addr. No bounds or validity checks are made.
func Read[T any](addr uintptr) T {
	return *(*T)(unsafe.Pointer(addr))
}

// Write stores v at addr. No bounds or validity checks are made.
func Write[T any](addr uintptr, v T) {
	*(*T)(unsafe.Pointer(addr)) = v
}

// ReadPtr returns the pointer stored at addr.
func ReadPtr(addr uintptr) uintptr { return Read[uintptr](addr) }

// Bytes returns a copy of the n bytes starting at addr.
func Bytes(addr uintptr, n int) []byte {
	if n <= 0 {
		return nil
	}
	b := make([]byte, n)
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
	return b
}

// WriteBytes copies b to addr.
func WriteBytes(addr uintptr, b []byte) {
	if len(b) == 0 {
		return
	}
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(b)), b)
}

// CString reads the NUL-terminated string at addr.
// It returns "" if addr is not a valid pointer.
func CString(addr uintptr) string {
	if !IsValidPtr(addr) {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(addr + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(addr)), n))
}

// WriteCString writes s followed by a NUL byte to addr.
func WriteCString(addr uintptr, s string) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(s)+1)
	copy(buf, s)
	buf[len(s)] = 0
}
