package gomalloc

import (
	"sync"
	"testing"
	"unsafe"
)

func TestAllocFreeAcrossTiers(t *testing.T) {
	h := New(Config{})

	t.Run("tiny allocation", func(t *testing.T) {
		p := h.Alloc(16)
		if p == nil {
			t.Fatalf("Alloc(16) returned nil")
		}
		if h.SizeOf(p) < 16 {
			t.Fatalf("SizeOf() = %d, want >= 16", h.SizeOf(p))
		}
		h.Free(p)
	})

	t.Run("small allocation", func(t *testing.T) {
		p := h.Alloc(2000)
		if p == nil {
			t.Fatalf("Alloc(2000) returned nil")
		}
		h.Free(p)
	})

	t.Run("medium allocation", func(t *testing.T) {
		p := h.Alloc(64 * 1024)
		if p == nil {
			t.Fatalf("Alloc(64KB) returned nil")
		}
		h.Free(p)
	})

	t.Run("large allocation", func(t *testing.T) {
		p := h.Alloc(4 * 1024 * 1024)
		if p == nil {
			t.Fatalf("Alloc(4MB) returned nil")
		}
		h.Free(p)
	})

	t.Run("zero size coerced to one byte", func(t *testing.T) {
		p := h.Alloc(0)
		if p == nil {
			t.Fatalf("Alloc(0) returned nil")
		}
		h.Free(p)
	})
}

func TestAllocZeroedIsZeroFilled(t *testing.T) {
	h := New(Config{})
	p := h.Alloc(256)
	b := unsafe.Slice((*byte)(p), 256)
	for i := range b {
		b[i] = 0xAA
	}
	h.Free(p)

	z := h.AllocZeroed(256)
	zb := unsafe.Slice((*byte)(z), 256)
	for i, v := range zb {
		if v != 0 {
			t.Fatalf("AllocZeroed byte %d = %#x, want 0", i, v)
		}
	}
	h.Free(z)
}

func TestReallocAcrossTierBoundary(t *testing.T) {
	h := New(Config{})

	p := h.Alloc(32)
	b := unsafe.Slice((*byte)(p), 32)
	for i := range b {
		b[i] = byte(i)
	}

	grown := h.Realloc(p, 1024*1024)
	if grown == nil {
		t.Fatalf("Realloc to 1MB returned nil")
	}
	gb := unsafe.Slice((*byte)(grown), 32)
	for i := range gb {
		if gb[i] != byte(i) {
			t.Fatalf("byte %d corrupted crossing tiers: got %d want %d", i, gb[i], byte(i))
		}
	}
	h.Free(grown)
}

func TestReallocNilActsAsAlloc(t *testing.T) {
	h := New(Config{})
	p := h.Realloc(nil, 128)
	if p == nil {
		t.Fatalf("Realloc(nil, 128) returned nil")
	}
	h.Free(p)
}

func TestReallocZeroActsAsFree(t *testing.T) {
	h := New(Config{})
	p := h.Alloc(128)
	if got := h.Realloc(p, 0); got != nil {
		t.Fatalf("Realloc(p, 0) = %p, want nil", got)
	}
}

func TestFreeNilIsNoop(t *testing.T) {
	h := New(Config{})
	if n := h.Free(nil); n != 0 {
		t.Fatalf("Free(nil) = %d, want 0", n)
	}
}

func TestCurrentHeapStatusTracksAllocations(t *testing.T) {
	h := New(Config{})
	before := h.CurrentHeapStatus()

	p := h.Alloc(64 * 1024)
	after := h.CurrentHeapStatus()
	if after.Medium.AllocCount != before.Medium.AllocCount+1 {
		t.Fatalf("Medium.AllocCount = %d, want %d", after.Medium.AllocCount, before.Medium.AllocCount+1)
	}
	if after.Medium.CurrentBytes <= before.Medium.CurrentBytes {
		t.Fatalf("Medium.CurrentBytes did not increase after Alloc")
	}

	h.Free(p)
	final := h.CurrentHeapStatus()
	if final.Medium.FreeCount != before.Medium.FreeCount+1 {
		t.Fatalf("Medium.FreeCount = %d, want %d", final.Medium.FreeCount, before.Medium.FreeCount+1)
	}
}

func TestSmallBlockStatusReportsInUseCount(t *testing.T) {
	h := New(Config{})
	var ptrs []unsafe.Pointer
	for i := 0; i < 20; i++ {
		ptrs = append(ptrs, h.Alloc(16))
	}

	entries := h.SmallBlockStatus(32, false)
	if len(entries) == 0 {
		t.Fatalf("SmallBlockStatus returned no entries")
	}
	var total uint64
	for _, e := range entries {
		total += e.Current
	}
	if total < 20 {
		t.Fatalf("SmallBlockStatus current sum = %d, want >= 20", total)
	}

	for _, p := range ptrs {
		h.Free(p)
	}
}

func TestConcurrentMixedWorkload(t *testing.T) {
	h := New(Config{})
	const workers = 16
	const ops = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			sizes := []uint64{8, 64, 2000, 16384, 300 * 1024}
			for i := 0; i < ops; i++ {
				size := sizes[(seed+i)%len(sizes)]
				p := h.Alloc(size)
				if p == nil {
					t.Errorf("Alloc(%d) returned nil under concurrency", size)
					return
				}
				h.Free(p)
			}
		}(w)
	}
	wg.Wait()
}
