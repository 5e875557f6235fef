package medium

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/stats"
)

func newInfo() *Info {
	return New(stats.NewGlobal(1))
}

func TestAllocFree(t *testing.T) {
	info := newInfo()

	t.Run("basic allocation and free", func(t *testing.T) {
		p := info.Alloc(4096)
		if p == nil {
			t.Fatalf("Alloc(4096) returned nil")
		}
		if got := SizeOf(p); got < 4096 {
			t.Fatalf("SizeOf() = %d, want >= 4096", got)
		}
		freed := info.Free(p)
		if freed == 0 {
			t.Fatalf("Free() returned 0")
		}
	})

	t.Run("multiple allocations from one super-pool", func(t *testing.T) {
		var ptrs []unsafe.Pointer
		for i := 0; i < 32; i++ {
			p := info.Alloc(1024)
			if p == nil {
				t.Fatalf("Alloc(1024) #%d returned nil", i)
			}
			ptrs = append(ptrs, p)
		}
		for _, p := range ptrs {
			info.Free(p)
		}
	})

	t.Run("minimum medium size", func(t *testing.T) {
		p := info.Alloc(MinMedium)
		if p == nil {
			t.Fatalf("Alloc(MinMedium) returned nil")
		}
		info.Free(p)
	})
}

func TestReallocGrowInPlace(t *testing.T) {
	info := newInfo()

	p := info.Alloc(2048)
	if p == nil {
		t.Fatalf("Alloc(2048) returned nil")
	}
	q := info.Alloc(8192)
	if q == nil {
		t.Fatalf("Alloc(8192) returned nil")
	}
	b := unsafe.Slice((*byte)(p), 2048)
	for i := range b {
		b[i] = byte(i)
	}

	// Freeing q leaves a free block (q plus the rest of the feed window)
	// right after p, which is what Realloc grows into.
	info.Free(q)
	grown := info.Realloc(p, 8192)
	if grown == nil {
		t.Fatalf("Realloc to 8192 returned nil")
	}
	gb := unsafe.Slice((*byte)(grown), 2048)
	for i := range gb {
		if gb[i] != byte(i) {
			t.Fatalf("byte %d corrupted across grow: got %d want %d", i, gb[i], byte(i))
		}
	}
	info.Free(grown)
}

func TestMarkSmallPoolHost(t *testing.T) {
	info := newInfo()
	p := info.Alloc(8192)
	if p == nil {
		t.Fatalf("Alloc returned nil")
	}
	MarkSmallPoolHost(p)
	hw := blockhdr.At(p)
	if !hw.HasFlag(blockhdr.SmallPoolInUse) {
		t.Fatalf("expected SmallPoolInUse flag after MarkSmallPoolHost")
	}
	info.Free(p)
}

func TestWalkVisitsLiveAndFreeBlocks(t *testing.T) {
	info := newInfo()
	live := info.Alloc(1024)
	freed := info.Alloc(1024)
	info.Free(freed)

	var sawLive, sawFree bool
	info.Walk(func(headerAddr unsafe.Pointer, payload uint64, free bool) {
		data := unsafe.Add(headerAddr, blockhdr.HeaderSize)
		switch data {
		case live:
			if free {
				t.Errorf("live block reported free")
			}
			sawLive = true
		case freed:
			if !free {
				t.Errorf("freed block reported in-use")
			}
			sawFree = true
		}
	})
	if !sawLive || !sawFree {
		t.Fatalf("Walk did not visit both blocks: sawLive=%v sawFree=%v", sawLive, sawFree)
	}
	info.Free(live)
}

func TestConcurrentAllocFree(t *testing.T) {
	info := newInfo()
	const workers = 16
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p := info.Alloc(512)
				if p == nil {
					t.Errorf("Alloc(512) returned nil under concurrency")
					return
				}
				info.Free(p)
			}
		}()
	}
	wg.Wait()
}
