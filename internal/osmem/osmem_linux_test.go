//go:build linux

package osmem

import (
	"testing"
	"unsafe"
)

func TestMapUnmapRoundTrip(t *testing.T) {
	const size = 64 * 1024
	p := Map(size)
	if p == nil {
		t.Fatalf("Map(%d) = nil", size)
	}
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		if b[i] != 0 {
			t.Fatalf("fresh mapping not zero-filled at offset %d", i)
		}
	}
	b[0] = 0xAB
	Unmap(p, size)
}

func TestMapZeroIsNil(t *testing.T) {
	if p := Map(0); p != nil {
		t.Fatalf("Map(0) = %p, want nil", p)
	}
}

func TestUnmapNilIsNoop(t *testing.T) {
	Unmap(nil, 4096)
}

func TestRemapGrow(t *testing.T) {
	const oldSize = 64 * 1024
	const newSize = 128 * 1024
	p := Map(oldSize)
	if p == nil {
		t.Fatalf("Map(%d) = nil", oldSize)
	}
	b := unsafe.Slice((*byte)(p), oldSize)
	b[0] = 0x42

	np, ok := Remap(p, oldSize, newSize)
	if !ok {
		t.Fatalf("Remap growing a mapping failed")
	}
	grown := unsafe.Slice((*byte)(np), newSize)
	if grown[0] != 0x42 {
		t.Fatalf("Remap did not preserve original contents")
	}
	Unmap(np, newSize)
}

func TestRemapZeroArgsFail(t *testing.T) {
	if _, ok := Remap(nil, 4096, 4096); ok {
		t.Fatalf("Remap with nil pointer should fail")
	}
	if _, ok := Remap(unsafe.Pointer(&struct{}{}), 0, 4096); ok {
		t.Fatalf("Remap with zero oldSize should fail")
	}
}

func TestQueryAdjacentFreeAlwaysFalseOnLinux(t *testing.T) {
	if QueryAdjacentFree(nil, 0, 0) {
		t.Fatalf("QueryAdjacentFree should always report false on Linux")
	}
}
