//go:build windows

package osmem

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Map reserves and commits n bytes of anonymous, zero-filled memory.
// Returns nil on failure.
func Map(n uintptr) unsafe.Pointer {
	if n == 0 {
		return nil
	}
	addr, err := windows.VirtualAlloc(0, n, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil
	}
	return unsafe.Pointer(addr)
}

// Unmap releases the region at p.
func Unmap(p unsafe.Pointer, n uintptr) {
	if p == nil {
		return
	}
	_ = windows.VirtualFree(uintptr(p), 0, windows.MEM_RELEASE)
}

// Remap has no may-move equivalent on Windows; large-block grow goes
// through QueryAdjacentFree + a reserve/commit of the adjacent region
// instead (spec.md §4.4's "segmented" grow path).
func Remap(p unsafe.Pointer, oldSize, newSize uintptr) (unsafe.Pointer, bool) {
	return nil, false
}

// QueryAdjacentFree reports whether the region immediately following
// [p, p+size) is free and at least `need` bytes, via VirtualQuery.
func QueryAdjacentFree(p unsafe.Pointer, size, need uintptr) bool {
	var mbi windows.MemoryBasicInformation
	adjacent := unsafe.Pointer(uintptr(p) + size)
	err := windows.VirtualQuery(uintptr(adjacent), &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		return false
	}
	return mbi.State == windows.MEM_FREE && mbi.RegionSize >= need
}

// ReserveAdjacent reserves then commits the adjacent region in two
// separate steps, as spec.md §4.4 requires for atomicity of the
// "segmented" Windows grow path: if commit fails after reserve succeeds,
// ReserveAdjacent releases the reservation itself and reports false, and
// the caller falls back to alloc+copy+free.
func ReserveAdjacent(p unsafe.Pointer, size, need uintptr) (unsafe.Pointer, bool) {
	adjacent := unsafe.Pointer(uintptr(p) + size)
	reserved, err := windows.VirtualAlloc(uintptr(adjacent), need, windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil || reserved != uintptr(adjacent) {
		return nil, false
	}
	committed, err := windows.VirtualAlloc(uintptr(adjacent), need, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		_ = windows.VirtualFree(uintptr(adjacent), 0, windows.MEM_RELEASE)
		return nil, false
	}
	return unsafe.Pointer(committed), true
}
