//go:build windows

package large

import (
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/osmem"
)

// tryGrowInPlace queries the virtual-memory region immediately following
// the current block; if it is free and large enough, reserves then
// commits it in two steps (for atomicity — if commit fails after reserve
// succeeds, the reservation is released and the caller falls back to
// alloc+copy+free) and marks the block LargeSegmented. Free does not read
// that flag: it releases the block with a single Unmap of the whole span.
func (a *Allocator) tryGrowInPlace(h *header, curPayload, targetPayload uint64) (unsafe.Pointer, bool) {
	oldTotal := curPayload + uint64(headerBytes)
	newTotal := roundUp(targetPayload)
	if newTotal <= oldTotal {
		h.sizeFlags = blockhdr.PackSize(oldTotal-uint64(headerBytes), h.sizeFlags.Flags())
		return unsafe.Add(unsafe.Pointer(h), headerBytes), true
	}
	need := newTotal - oldTotal
	if !osmem.QueryAdjacentFree(unsafe.Pointer(h), uintptr(oldTotal), uintptr(need)) {
		return nil, false
	}
	if _, ok := osmem.ReserveAdjacent(unsafe.Pointer(h), uintptr(oldTotal), uintptr(need)); !ok {
		return nil, false
	}
	h.sizeFlags = blockhdr.PackSize(newTotal-uint64(headerBytes), blockhdr.IsLarge|blockhdr.LargeSegmented)
	return unsafe.Add(unsafe.Pointer(h), headerBytes), true
}
