package medium

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
)

// TestNoAdjacentFreeBlocks exercises spec.md §8 property 3: immediate
// coalescing on free means no two free blocks are ever left adjacent in
// memory. Walk reports every block left-to-right per super-pool, so two
// consecutive free reports within the same pass is exactly the failure
// this guards against.
func TestNoAdjacentFreeBlocks(t *testing.T) {
	info := newInfo()
	rnd := rand.New(rand.NewSource(1))

	var live []unsafe.Pointer
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rnd.Float64() < 0.5 {
			idx := rnd.Intn(len(live))
			info.Free(live[idx])
			live[idx] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}
		size := MinMedium + uint64(rnd.Intn(20))*256
		p := info.Alloc(size)
		if p == nil {
			continue
		}
		live = append(live, p)
	}

	var prevFree bool
	var prevAddr, prevEnd unsafe.Pointer
	info.Walk(func(headerAddr unsafe.Pointer, payload uint64, free bool) {
		if headerAddr != prevEnd {
			prevFree = false // first block of another super-pool
		}
		if free && prevFree {
			t.Fatalf("adjacent free blocks at %p and %p: coalescing invariant violated", prevAddr, headerAddr)
		}
		prevFree = free
		prevAddr = headerAddr
		prevEnd = unsafe.Add(headerAddr, blockTotal(payload))
	})

	for _, p := range live {
		info.Free(p)
	}
}

// TestPrevFreeFlagMatchesActualPredecessor checks the PrevMediumFree
// bookkeeping bit against the ground truth Walk reports.
func TestPrevFreeFlagMatchesActualPredecessor(t *testing.T) {
	info := newInfo()
	rnd := rand.New(rand.NewSource(2))

	var live []unsafe.Pointer
	for i := 0; i < 500; i++ {
		size := MinMedium + uint64(rnd.Intn(10))*256
		p := info.Alloc(size)
		if p == nil {
			continue
		}
		live = append(live, p)
	}
	for i := 0; i < len(live); i += 3 {
		info.Free(live[i])
	}

	var prevFree bool
	var prevEnd unsafe.Pointer
	info.Walk(func(headerAddr unsafe.Pointer, payload uint64, free bool) {
		if headerAddr != prevEnd {
			prevFree = false // first block of another super-pool
		}
		hw := *headerWord(headerAddr)
		got := hw.HasFlag(blockhdr.PrevMediumFree)
		if got != prevFree {
			t.Fatalf("PrevMediumFree = %v at %p, want %v (actual predecessor free=%v)",
				got, headerAddr, prevFree, prevFree)
		}
		prevFree = free
		prevEnd = unsafe.Add(headerAddr, blockTotal(payload))
	})
}
