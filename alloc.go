package gomalloc

import (
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/arena"
	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/large"
	"github.com/shenjiangwei/gomalloc/internal/medium"
	"github.com/shenjiangwei/gomalloc/internal/sizeclass"
)

// Alloc services size bytes, dispatching on size to the tiny/small,
// medium, or large tier (spec.md §4.1). size == 0 is coerced to 1.
// Returns nil only on OS-mapping failure.
func (h *Heap) Alloc(size uint64) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	if size <= sizeclass.MaxSmallBlockSize {
		if c := sizeclass.ClassFor(uint32(size)); c >= 0 {
			return h.arenas.Alloc(c)
		}
	}
	if size <= maxMediumPayload {
		return h.medium.Alloc(size)
	}
	return h.large.Alloc(size)
}

// AllocZeroed is Alloc followed by a zero-fill of the returned span.
func (h *Heap) AllocZeroed(size uint64) unsafe.Pointer {
	p := h.Alloc(size)
	if p == nil {
		return nil
	}
	n := h.SizeOf(p)
	clear(unsafe.Slice((*byte)(p), n))
	return p
}

// Free returns ptr to its owning tier, read from the block header. A
// contended size-class or medium-namespace lock does not block: the
// block is queued on that owner's lock-less free stack instead. A
// large-tier free takes the large tier's lock and waits for it. Returns
// the block's nominal size, or 0 for a nil ptr. Only the large tier
// recognises an already-freed block and returns 0 for it; tiny, small
// and medium frees do not check for one.
func (h *Heap) Free(ptr unsafe.Pointer) uint64 {
	if ptr == nil {
		return 0
	}
	hw := blockhdr.At(ptr)
	switch {
	case hw.HasFlag(blockhdr.IsMedium):
		return h.medium.Free(ptr)
	case hw.HasFlag(blockhdr.IsLarge):
		return h.large.Free(ptr)
	default:
		return arena.FreeBlock(ptr)
	}
}

// FreeSized is Free with a caller-supplied expected size, for callers
// that already track it. The size isn't required to validate anything
// here (the header self-describes the block) but the signed return
// matches spec.md §6's free_sized(ptr, size) -> isize.
func (h *Heap) FreeSized(ptr unsafe.Pointer, size uint64) int64 {
	return int64(h.Free(ptr))
}

// SizeOf returns the nominal usable size of a live allocation.
func (h *Heap) SizeOf(ptr unsafe.Pointer) uint64 {
	if ptr == nil {
		return 0
	}
	hw := blockhdr.At(ptr)
	switch {
	case hw.HasFlag(blockhdr.IsMedium):
		return medium.SizeOf(ptr)
	case hw.HasFlag(blockhdr.IsLarge):
		return large.SizeOf(ptr)
	default:
		return arena.SizeOf(ptr)
	}
}

// Realloc grows or shrinks ptr to newSize, preserving bytes [0, min(old,
// new)). A nil ptr behaves as Alloc; newSize == 0 behaves as Free and
// returns nil — spec.md §6 describes this as "the variable holding the
// pointer is updated in place"; this port asks the caller to assign the
// returned value back (`p = h.Realloc(p, n)`), the idiomatic Go
// equivalent of the original's var-parameter contract. Returns nil on
// OS-mapping failure, leaving the original block untouched.
func (h *Heap) Realloc(ptr unsafe.Pointer, newSize uint64) unsafe.Pointer {
	if ptr == nil {
		return h.Alloc(newSize)
	}
	if newSize == 0 {
		h.Free(ptr)
		return nil
	}

	hw := blockhdr.At(ptr)
	switch {
	case hw.HasFlag(blockhdr.IsMedium):
		if p := h.medium.Realloc(ptr, newSize); p != nil {
			return p
		}
		return h.crossTierRealloc(ptr, medium.SizeOf(ptr), newSize)
	case hw.HasFlag(blockhdr.IsLarge):
		return h.large.Realloc(ptr, newSize)
	default:
		return h.reallocSmall(ptr, newSize)
	}
}

// reallocSmall handles a request against a fixed-size small/tiny slot:
// if the new size still fits the slot's own class, the slot is reused
// as-is (its class doesn't shrink); otherwise the request graduates to
// whichever tier Alloc would now choose.
func (h *Heap) reallocSmall(ptr unsafe.Pointer, newSize uint64) unsafe.Pointer {
	cur := arena.SizeOf(ptr)
	if newSize <= cur {
		return ptr
	}
	return h.crossTierRealloc(ptr, cur, newSize)
}

func (h *Heap) crossTierRealloc(ptr unsafe.Pointer, curSize, newSize uint64) unsafe.Pointer {
	fresh := h.Alloc(newSize)
	if fresh == nil {
		return nil
	}
	n := curSize
	if newSize < n {
		n = newSize
	}
	copyBytes(fresh, ptr, n)
	h.Free(ptr)
	return fresh
}
