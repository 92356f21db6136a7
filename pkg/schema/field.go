package schema

import (
	"fmt"

	"github.com/anvilhost/anvil/pkg/native"
	"github.com/anvilhost/anvil/pkg/util/errs"
)

// Class is a typed view over a native object.
type Class interface {
	Address() native.Handle
}

// From builds a typed view over the object at h.
type From[T any] func(h native.Handle) T

// Accessor resolves fields and writes strings through its pool.
type Accessor struct {
	*Resolver
	Pool *StringPool
}

// NewAccessor returns an Accessor over the given native services.
func NewAccessor(res *Resolver, alloc native.Allocator) *Accessor {
	return &Accessor{Resolver: res, Pool: NewStringPool(alloc)}
}

// Field binds the field identified by hash on the object at h.
func (a *Accessor) Field(h native.Handle, hash uint64) (Field, error) {
	off, err := a.Offset(hash)
	if err != nil {
		return Field{}, err
	}
	return Field{acc: a, h: h, hash: hash, off: off}, nil
}

// Field is a schema field of one native object.
// It does no bounds checking; the schema offset is trusted.
type Field struct {
	acc  *Accessor
	h    native.Handle
	hash uint64
	off  uintptr
}

// Address returns the address of the field.
func (f Field) Address() uintptr { return uintptr(f.h) + f.off }

// Offset returns the byte offset of the field within its object.
func (f Field) Offset() uintptr { return f.off }

// MarkChanged notifies the game that the field changed.
func (f Field) MarkChanged() error { return f.acc.MarkChanged(f.h, f.hash) }

// Get reads a fixed-size value from f.
func Get[T any](f Field) T { return native.Read[T](f.Address()) }

// Set writes a fixed-size value to f.
func Set[T any](f Field, v T) { native.Write(f.Address(), v) }

// GetString reads the char* stored in f.
func (f Field) GetString() string { return ReadString(f.h, f.off) }

// SetString points f at a pooled copy of v.
func (f Field) SetString(v string) { WriteString(f.acc.Pool, f.h, f.off, v) }

// GetFixedString reads the inline char array stored in f.
func (f Field) GetFixedString() string { return ReadFixedString(f.h, f.off) }

// SetFixedString writes v into the inline char array of maxSize bytes.
func (f Field) SetFixedString(v string, maxSize int) error {
	return WriteFixedString(f.h, f.off, v, maxSize)
}

// ReadString reads the char* at h+off. It returns "" if the stored
// pointer is nil or invalid.
func ReadString(h native.Handle, off uintptr) string {
	return native.CString(native.ReadPtr(uintptr(h) + off))
}

// WriteString stores the address of a pooled copy of v at h+off.
func WriteString(pool *StringPool, h native.Handle, off uintptr, v string) {
	native.Write(uintptr(h)+off, pool.Get(v))
}

// ReadFixedString reads the NUL-terminated string stored inline at h+off.
func ReadFixedString(h native.Handle, off uintptr) string {
	return native.CString(uintptr(h) + off)
}

// WriteFixedString copies v and a NUL byte inline to h+off. It fails
// with errs.ErrArgument and writes nothing if v does not fit maxSize bytes.
func WriteFixedString(h native.Handle, off uintptr, v string, maxSize int) error {
	if len(v)+1 > maxSize {
		return fmt.Errorf("%w: value of %d bytes is too long, max size is %d", errs.ErrArgument, len(v), maxSize)
	}
	native.WriteCString(uintptr(h)+off, v)
	return nil
}

// Pointer reads the object pointer stored in f. It returns false if the
// pointer is nil or invalid.
func Pointer[T any](f Field, from From[T]) (T, bool) {
	ptr := native.Handle(native.ReadPtr(f.Address()))
	if !ptr.IsValid() {
		var zero T
		return zero, false
	}
	return from(ptr), true
}

// Embedded returns a view over the object stored inline in f.
func Embedded[T any](f Field, from From[T]) T {
	return from(native.Handle(f.Address()))
}

// FixedArray is an inline array of objects stored in a field.
type FixedArray[T any] struct {
	base     native.Handle
	count    int
	elemSize int
	from     From[T]
}

// Array returns the inline array of count elements of elemSize bytes
// stored in f.
func Array[T any](f Field, count, elemSize int, from From[T]) FixedArray[T] {
	return FixedArray[T]{base: native.Handle(f.Address()), count: count, elemSize: elemSize, from: from}
}

// At returns element i. It does not check i against Len.
func (a FixedArray[T]) At(i int) T {
	return a.from(a.base.Add(uintptr(i * a.elemSize)))
}

// Len returns the declared element count.
func (a FixedArray[T]) Len() int { return a.count }
