//go:build linux

// Package osmem wraps the OS virtual-memory primitives the allocator
// consumes directly, with no libc in between: anonymous private map/
// unmap, Linux's remap (may-move semantics), and Windows' adjacent-region
// query used for in-place large-block grow.
package osmem

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Map reserves and commits n bytes of anonymous, private, zero-filled
// memory. Returns nil on failure (spec.md §7: OS map failure never
// panics, never retries — caller surfaces it as a nil/null alloc).
func Map(n uintptr) unsafe.Pointer {
	if n == 0 {
		return nil
	}
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(b))
}

// Unmap releases n bytes previously returned by Map or Remap.
func Unmap(p unsafe.Pointer, n uintptr) {
	if p == nil || n == 0 {
		return
	}
	b := unsafe.Slice((*byte)(p), n)
	_ = unix.Munmap(b)
}

// Remap attempts to grow (or shrink) the mapping at p from oldSize to
// newSize using the kernel's may-move remap primitive. Returns the new
// address (which may differ from p) and true on success. On failure the
// original mapping at p is left untouched and the caller should fall back
// to alloc+copy+free.
func Remap(p unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, bool) {
	if p == nil || oldSize == 0 || newSize == 0 {
		return nil, false
	}
	np, err := unix.Mremap(unsafe.Slice((*byte)(p), oldSize), int(newSize), unix.MREMAP_MAYMOVE)
	if err != nil {
		return nil, false
	}
	return unsafe.Pointer(unsafe.SliceData(np)), true
}

// QueryAdjacentFree reports whether the region immediately following
// [p, p+size) is free and at least `need` bytes. Linux has no equivalent
// of Windows' VirtualQuery for anonymous mappings cheaply; the grow path
// on Linux always goes through Remap instead, so this is never called
// there.
func QueryAdjacentFree(p unsafe.Pointer, size, need uintptr) bool {
	return false
}
