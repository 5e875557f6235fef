//go:build linux

package large

import (
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/osmem"
	"github.com/shenjiangwei/gomalloc/internal/spinlock"
)

// tryGrowInPlace uses the kernel's may-move remap primitive. On success
// the block may have moved; its list linkage is updated in place since
// prev/next live inside the same mapping that just moved. On failure the
// caller falls back to alloc+copy+free.
func (a *Allocator) tryGrowInPlace(h *header, curPayload, targetPayload uint64) (unsafe.Pointer, bool) {
	oldTotal := curPayload + uint64(headerBytes)
	newTotal := roundUp(targetPayload)
	if newTotal <= oldTotal {
		// Already rounds to the same or a smaller mapping; nothing to do.
		h.sizeFlags = blockhdr.PackSize(oldTotal-uint64(headerBytes), h.sizeFlags.Flags())
		return unsafe.Add(unsafe.Pointer(h), headerBytes), true
	}

	np, ok := osmem.Remap(unsafe.Pointer(h), uintptr(oldTotal), uintptr(newTotal))
	if !ok {
		return nil, false
	}
	nh := (*header)(np)
	nh.sizeFlags = blockhdr.PackSize(newTotal-uint64(headerBytes), blockhdr.IsLarge)

	a.lock.Acquire(spinlock.LargeBudget, a.sleeps)
	nh.prev.next = nh
	nh.next.prev = nh
	a.lock.Release()

	a.stats.RecordFree(oldTotal)
	a.stats.RecordAlloc(newTotal)
	return unsafe.Add(np, headerBytes), true
}
