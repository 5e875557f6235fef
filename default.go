package gomalloc

import (
	"sync"
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/diag"
)

var (
	defaultOnce sync.Once
	defaultHeap *Heap
)

// Init creates the process-wide default heap with cfg, exactly once
// (spec.md §6: "called exactly once each, around the lifetime"). A
// program that never calls Init explicitly gets one lazily, with a
// zero Config, on its first call to a package-level Alloc/Free/etc.
func Init(cfg Config) {
	defaultOnce.Do(func() {
		defaultHeap = New(cfg)
	})
}

func ensureDefault() *Heap {
	defaultOnce.Do(func() {
		defaultHeap = New(Config{})
	})
	return defaultHeap
}

// Shutdown optionally walks the default heap for leaked blocks
// (Config.ReportLeaks) and logs them. The process's memory is not
// actually unmapped here — there is no persistent state to reverse
// (spec.md §6) — this only matters for the diagnostic walk.
func Shutdown() {
	h := ensureDefault()
	if h.cfg.ReportLeaks {
		diag.WalkWithStats(h.medium, h.large, h.global)
	}
}

// Alloc calls Alloc on the default heap.
func Alloc(size uint64) unsafe.Pointer { return ensureDefault().Alloc(size) }

// AllocZeroed calls AllocZeroed on the default heap.
func AllocZeroed(size uint64) unsafe.Pointer { return ensureDefault().AllocZeroed(size) }

// Free calls Free on the default heap.
func Free(ptr unsafe.Pointer) uint64 { return ensureDefault().Free(ptr) }

// FreeSized calls FreeSized on the default heap.
func FreeSized(ptr unsafe.Pointer, size uint64) int64 {
	return ensureDefault().FreeSized(ptr, size)
}

// Realloc calls Realloc on the default heap.
func Realloc(ptr unsafe.Pointer, newSize uint64) unsafe.Pointer {
	return ensureDefault().Realloc(ptr, newSize)
}

// SizeOf calls SizeOf on the default heap.
func SizeOf(ptr unsafe.Pointer) uint64 { return ensureDefault().SizeOf(ptr) }

// CurrentHeapStatus calls CurrentHeapStatus on the default heap.
func CurrentHeapStatus() HeapStatus { return ensureDefault().CurrentHeapStatus() }

// SmallBlockStatus calls SmallBlockStatus on the default heap.
func SmallBlockStatus(max uint64, descending bool) []SmallBlockEntry {
	return ensureDefault().SmallBlockStatus(max, descending)
}

// SmallBlockContention calls SmallBlockContention on the default heap.
func SmallBlockContention(max uint64) []ContentionEntry {
	return ensureDefault().SmallBlockContention(max)
}
