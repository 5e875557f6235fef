// Package large implements the large-block tier (spec.md §4.4): direct
// OS map/unmap, a single global lock guarding a sentinel-based circular
// list of live blocks, and in-place grow via Linux remap or a Windows
// adjacent-region reserve+commit.
package large

import (
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/osmem"
	"github.com/shenjiangwei/gomalloc/internal/spinlock"
	"github.com/shenjiangwei/gomalloc/internal/stats"
)

const (
	granularity     = 64 * 1024
	hugeThreshold   = 4 * 1024 * 1024
	hugeGranularity = 2 * 1024 * 1024 // PMD alignment on x86-64, Linux only.

	growOvershootBig   = 8  // >>3 == 12.5%, for blocks over bigGrowThreshold
	growOvershootSmall = 4  // >>2 == 25%, otherwise
	bigGrowThreshold   = 128 * 1024 * 1024
)

// header is the full large-block header: prev/next link this block into
// the global circular list, reserved is padding for future use, and
// sizeFlags is the one machine word immediately preceding the returned
// pointer (spec.md §3's general block-header invariant).
type header struct {
	prev, next *header
	reserved   uint64
	sizeFlags  blockhdr.Word
}

const headerBytes = unsafe.Sizeof(header{})

// Allocator is the large-tier allocator: a single lock-guarded circular
// list of live large blocks. Which OS grow strategy tryGrowInPlace uses
// (Linux remap vs. Windows adjacent-reserve) is chosen at compile time
// by grow_linux.go/grow_windows.go's build tags, not at runtime.
type Allocator struct {
	lock     spinlock.Lock
	sentinel header
	stats    *stats.TierCounters
	sleeps   *stats.Global
	noRemap  bool
}

// New creates an empty large allocator. noRemap disables in-place grow
// entirely (spec.md §6's `no-remap` compile-time toggle), always
// falling back to alloc+copy+free.
func New(s *stats.Global, noRemap bool) *Allocator {
	a := &Allocator{stats: s.Tier(stats.Large), noRemap: noRemap, sleeps: s}
	a.sentinel.prev = &a.sentinel
	a.sentinel.next = &a.sentinel
	return a
}

func roundUp(n uint64) uint64 {
	total := n + uint64(headerBytes)
	if total >= hugeThreshold {
		return (total + hugeGranularity - 1) &^ (hugeGranularity - 1)
	}
	return (total + granularity - 1) &^ (granularity - 1)
}

// Alloc maps size bytes (rounded to 64 KiB, or 2 MiB if the total reaches
// 4 MiB, for hugepage-friendly alignment) and links the result into the
// circular list. Returns nil on OS mapping failure.
func (a *Allocator) Alloc(size uint64) unsafe.Pointer {
	total := roundUp(size)
	p := osmem.Map(uintptr(total))
	if p == nil {
		return nil
	}
	h := (*header)(p)
	h.sizeFlags = blockhdr.PackSize(total-uint64(headerBytes), blockhdr.IsLarge)

	a.lock.Acquire(spinlock.LargeBudget, a.sleeps)
	a.link(h)
	a.lock.Release()

	a.stats.RecordAlloc(total)
	return unsafe.Add(p, headerBytes)
}

func (a *Allocator) link(h *header) {
	h.next = a.sentinel.next
	h.prev = &a.sentinel
	a.sentinel.next.prev = h
	a.sentinel.next = h
}

func (a *Allocator) unlink(h *header) {
	h.prev.next = h.next
	h.next.prev = h.prev
}

func headerOf(ptr unsafe.Pointer) *header {
	return (*header)(unsafe.Add(ptr, -int(headerBytes)))
}

// SizeOf returns the nominal (rounded) usable size of a live large
// block.
func SizeOf(ptr unsafe.Pointer) uint64 {
	return headerOf(ptr).sizeFlags.Size()
}

// Owns reports whether ptr's header carries the large-tier flag; callers
// use this only diagnostically since tier dispatch is size-driven, not
// header-driven, on the allocation side.
func Owns(ptr unsafe.Pointer) bool {
	return headerOf(ptr).sizeFlags.HasFlag(blockhdr.IsLarge) && !headerOf(ptr).sizeFlags.HasFlag(blockhdr.IsMedium)
}

// Free unlinks and unmaps ptr. Returns 0 (and does nothing else) if the
// block is already marked free — the double-free-safety property
// (spec.md §8 property 7).
func (a *Allocator) Free(ptr unsafe.Pointer) uint64 {
	h := headerOf(ptr)

	a.lock.Acquire(spinlock.LargeBudget, a.sleeps)
	if h.sizeFlags.HasFlag(blockhdr.IsFree) {
		a.lock.Release()
		return 0
	}
	size := h.sizeFlags.Size()
	h.sizeFlags = h.sizeFlags.SetFlag(blockhdr.IsFree)
	a.unlink(h)
	a.lock.Release()

	total := size + uint64(headerBytes)
	osmem.Unmap(unsafe.Pointer(h), uintptr(total))
	a.stats.RecordFree(total)
	return size
}

// Realloc grows or shrinks a large block in place when possible,
// otherwise allocates a fresh block, copies min(old,new) bytes, and
// frees the original (spec.md §4.4).
func (a *Allocator) Realloc(ptr unsafe.Pointer, newSize uint64) unsafe.Pointer {
	h := headerOf(ptr)
	cur := h.sizeFlags.Size()

	if newSize <= cur && newSize >= cur/2 {
		return ptr
	}

	if newSize > cur {
		target := newSize
		if cur > bigGrowThreshold {
			target = cur + cur/growOvershootBig
		} else {
			target = cur + cur/growOvershootSmall
		}
		if target < newSize {
			target = newSize
		}
		if !a.noRemap {
			if grown, ok := a.tryGrowInPlace(h, cur, target); ok {
				return grown
			}
		}
	}

	fresh := a.Alloc(newSize)
	if fresh == nil {
		return nil
	}
	n := cur
	if newSize < n {
		n = newSize
	}
	copyBytes(fresh, ptr, n)
	a.Free(ptr)
	return fresh
}

// Walk invokes fn once per live large block, for the report-leaks
// diagnostic (spec.md §6). The circular list only ever holds live
// blocks — Free unlinks before unmapping — so every entry visited here
// is in use.
func (a *Allocator) Walk(fn func(ptr unsafe.Pointer, size uint64)) {
	a.lock.Acquire(spinlock.LargeBudget, a.sleeps)
	defer a.lock.Release()
	for h := a.sentinel.next; h != &a.sentinel; h = h.next {
		fn(unsafe.Add(unsafe.Pointer(h), headerBytes), h.sizeFlags.Size())
	}
}

func copyBytes(dst, src unsafe.Pointer, n uint64) {
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
