// Package arena owns the output buffers a session hands to the database
// engine. Blocks stay at a fixed address until Release, which frees all of
// them exactly once.
package arena

import (
	"unsafe"

	"github.com/ha1tch/sqlext/pkg/errors"
)

// Allocator supplies zeroed, 8-byte aligned blocks.
type Allocator interface {
	Alloc(n int) []byte
	Free(b []byte)
}

// Heap allocates blocks on the Go heap. The arena keeps them reachable, so
// Free is a no-op.
var Heap Allocator = heapAllocator{}

type heapAllocator struct{}

func (heapAllocator) Alloc(n int) []byte {
	words := make([]uint64, (max(n, 1)+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*8)[:n]
}

func (heapAllocator) Free([]byte) {}

// Arena tracks the blocks of one session.
type Arena struct {
	alloc    Allocator
	blocks   [][]byte
	size     int
	released bool
}

// New returns an arena backed by alloc, or by Heap when alloc is nil.
func New(alloc Allocator) *Arena {
	if alloc == nil {
		alloc = Heap
	}
	return &Arena{alloc: alloc}
}

// Bytes returns a zeroed block of n bytes. A zero-length block still has a
// valid, stable address.
func (a *Arena) Bytes(n int) ([]byte, error) {
	if a.released {
		return nil, errors.InvalidState("Arena.Bytes", "released").Err()
	}
	if n < 0 {
		return nil, errors.InvalidArgument("negative allocation %d", n).WithOp("Arena.Bytes").Err()
	}
	b := a.alloc.Alloc(n)
	if b == nil || len(b) != n {
		return nil, errors.Newf(errors.ErrCodeInternal, "allocator returned %d bytes, want %d", len(b), n).
			WithOp("Arena.Bytes").Err()
	}
	a.blocks = append(a.blocks, b)
	a.size += n
	return b, nil
}

// Copy returns an arena-owned copy of b.
func (a *Arena) Copy(b []byte) ([]byte, error) {
	out, err := a.Bytes(len(b))
	if err != nil {
		return nil, err
	}
	copy(out, b)
	return out, nil
}

// Slice returns a zeroed block of n values of T. T must not contain Go
// pointers.
func Slice[T any](a *Arena, n int) ([]T, error) {
	var zero T
	b, err := a.Bytes(n * int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n), nil
}

// Int32s returns a zeroed length map of n entries.
func (a *Arena) Int32s(n int) ([]int32, error) {
	return Slice[int32](a, n)
}

// Len returns the number of live blocks.
func (a *Arena) Len() int { return len(a.blocks) }

// Size returns the number of bytes handed out.
func (a *Arena) Size() int { return a.size }

// Released reports whether Release has run.
func (a *Arena) Released() bool { return a.released }

// Release frees every block. A second call fails and frees nothing.
func (a *Arena) Release() error {
	if a.released {
		return errors.InvalidState("Arena.Release", "released").Err()
	}
	a.released = true
	for _, b := range a.blocks {
		a.alloc.Free(b)
	}
	a.blocks = nil
	a.size = 0
	return nil
}
