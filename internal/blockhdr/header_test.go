package blockhdr

import (
	"testing"
	"unsafe"
)

func TestPackSizeRoundTrip(t *testing.T) {
	t.Run("size survives with no flags", func(t *testing.T) {
		w := PackSize(4096, 0)
		if w.Size() != 4096 {
			t.Fatalf("Size() = %d, want 4096", w.Size())
		}
		if w.Flags() != 0 {
			t.Fatalf("Flags() = %d, want 0", w.Flags())
		}
	})

	t.Run("flags survive alongside size", func(t *testing.T) {
		w := PackSize(512, IsFree|IsMedium)
		if w.Size() != 512 {
			t.Fatalf("Size() = %d, want 512", w.Size())
		}
		if !w.HasFlag(IsFree) || !w.HasFlag(IsMedium) {
			t.Fatalf("expected both IsFree and IsMedium set, got %x", w.Flags())
		}
		if w.HasFlag(IsLarge) {
			t.Fatalf("IsLarge unexpectedly set")
		}
	})
}

func TestSetClearFlag(t *testing.T) {
	w := PackSize(256, 0)
	w = w.SetFlag(IsFree)
	if !w.HasFlag(IsFree) {
		t.Fatalf("SetFlag did not set IsFree")
	}
	w = w.ClearFlag(IsFree)
	if w.HasFlag(IsFree) {
		t.Fatalf("ClearFlag did not clear IsFree")
	}
	if w.Size() != 256 {
		t.Fatalf("Size() = %d after flag churn, want 256", w.Size())
	}
}

func TestPackPoolRoundTrip(t *testing.T) {
	var aligned [32]byte
	base := unsafe.Pointer(&aligned[0])
	poolPtr := unsafe.Pointer(uintptr(base) &^ 0xF)

	w := PackPool(poolPtr, IsFree)
	if w.PoolPtr() != poolPtr {
		t.Fatalf("PoolPtr() = %p, want %p", w.PoolPtr(), poolPtr)
	}
	if !w.HasFlag(IsFree) {
		t.Fatalf("expected IsFree set")
	}
}

func TestAtAddressesHeaderWord(t *testing.T) {
	var buf [2]uint64
	data := unsafe.Pointer(&buf[1])
	hw := At(data)
	*hw = PackSize(128, 0)
	if buf[0] != uint64(PackSize(128, 0)) {
		t.Fatalf("At() did not address the word immediately before data")
	}
}
