package sizeclass

import "testing"

func TestSizesAscendingWithSentinelTail(t *testing.T) {
	for i := 1; i < NumClasses-1; i++ {
		if Sizes[i] < Sizes[i-1] {
			t.Fatalf("class %d size %d < class %d size %d", i, Sizes[i], i-1, Sizes[i-1])
		}
	}
	if Sizes[NumClasses-1] != Sizes[NumClasses-2] {
		t.Fatalf("expected sentinel duplicate, got %d != %d", Sizes[NumClasses-1], Sizes[NumClasses-2])
	}
	if Sizes[NumClasses-1] != MaxSmallBlockSize {
		t.Fatalf("expected last class == %d, got %d", MaxSmallBlockSize, Sizes[NumClasses-1])
	}
}

func TestClassForRoundsUp(t *testing.T) {
	cases := []uint32{1, 15, 16, 17, 100, 256, 257, 1000, 2608}
	for _, n := range cases {
		c := ClassFor(n)
		if c < 0 {
			t.Fatalf("ClassFor(%d) returned no class", n)
		}
		if Sizes[c] < n {
			t.Fatalf("ClassFor(%d) = class %d size %d, too small", n, c, Sizes[c])
		}
		if c > 0 && Sizes[c-1] >= n {
			t.Fatalf("ClassFor(%d) = class %d, but class %d (size %d) also fits", n, c, c-1, Sizes[c-1])
		}
	}
}

func TestClassForRejectsOversize(t *testing.T) {
	if c := ClassFor(MaxSmallBlockSize + 1); c != -1 {
		t.Fatalf("expected -1 for oversize request, got %d", c)
	}
}

func TestClassForZeroTreatedAsOne(t *testing.T) {
	if ClassFor(0) != ClassFor(1) {
		t.Fatalf("ClassFor(0) should behave as ClassFor(1)")
	}
}
