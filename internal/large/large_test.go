package large

import (
	"testing"
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/stats"
)

func newAllocator() *Allocator {
	return New(stats.NewGlobal(1), false)
}

func TestAllocFree(t *testing.T) {
	a := newAllocator()

	t.Run("basic allocation and free", func(t *testing.T) {
		p := a.Alloc(1024 * 1024)
		if p == nil {
			t.Fatalf("Alloc(1MB) returned nil")
		}
		if got := SizeOf(p); got < 1024*1024 {
			t.Fatalf("SizeOf() = %d, want >= 1MB", got)
		}
		a.Free(p)
	})

	t.Run("huge allocation past the 4MB threshold", func(t *testing.T) {
		p := a.Alloc(8 * 1024 * 1024)
		if p == nil {
			t.Fatalf("Alloc(8MB) returned nil")
		}
		a.Free(p)
	})
}

func TestReallocPreservesContent(t *testing.T) {
	a := newAllocator()

	p := a.Alloc(1024 * 1024)
	if p == nil {
		t.Fatalf("Alloc returned nil")
	}
	b := unsafe.Slice((*byte)(p), 1024*1024)
	for i := range b {
		b[i] = byte(i)
	}

	grown := a.Realloc(p, 4*1024*1024)
	if grown == nil {
		t.Fatalf("Realloc to 4MB returned nil")
	}
	gb := unsafe.Slice((*byte)(grown), 1024*1024)
	for i := range gb {
		if gb[i] != byte(i) {
			t.Fatalf("byte %d corrupted across grow: got %d want %d", i, gb[i], byte(i))
		}
	}
	a.Free(grown)
}

func TestNoRemapDisablesInPlaceGrow(t *testing.T) {
	a := New(stats.NewGlobal(1), true)
	p := a.Alloc(1024 * 1024)
	if p == nil {
		t.Fatalf("Alloc returned nil")
	}
	grown := a.Realloc(p, 2*1024*1024)
	if grown == nil {
		t.Fatalf("Realloc returned nil with noRemap set")
	}
	if grown == p {
		t.Fatalf("Realloc grew in place with noRemap set")
	}
	if SizeOf(grown) < 2*1024*1024 {
		t.Fatalf("SizeOf() = %d, want >= 2MB", SizeOf(grown))
	}
	a.Free(grown)
}

func TestWalkVisitsOnlyLiveBlocks(t *testing.T) {
	a := newAllocator()
	p1 := a.Alloc(1024 * 1024)
	p2 := a.Alloc(2 * 1024 * 1024)
	a.Free(p1)

	var seen []unsafe.Pointer
	a.Walk(func(ptr unsafe.Pointer, size uint64) {
		seen = append(seen, ptr)
	})
	if len(seen) != 1 || seen[0] != p2 {
		t.Fatalf("Walk reported %v, want exactly [%p]", seen, p2)
	}
	a.Free(p2)
}

func TestOwns(t *testing.T) {
	a := newAllocator()
	p := a.Alloc(1024 * 1024)
	if !Owns(p) {
		t.Fatalf("Owns() = false for a large allocation")
	}
	a.Free(p)
}
