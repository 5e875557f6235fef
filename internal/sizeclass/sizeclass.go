// Package sizeclass builds the allocator's size class table: 46 ascending
// class sizes from 16 B in 16 B steps up through 256 B, then
// geometrically widening to 2608 B, with the last two entries duplicated
// as sentinel padding (matching the classic FastMM4/mORMot2 table this
// allocator's tiering is modeled on).
//
// The lookup strategy mirrors the two-table split the Go runtime itself
// uses in src/runtime/msize.go (size_to_class8 / size_to_class128): a
// small linear table covers the fixed 16 B stride, and classes beyond
// that are found with a short binary search over the much smaller
// geometric tail.
package sizeclass

import (
	"math"

	"golang.org/x/exp/constraints"
)

// RoundUp rounds n up to the nearest multiple of step, where step must be
// a power of two. Shared between this package's geometric class-size
// construction and internal/medium's bin-granularity rounding, grounded
// on the generic-pool style (BoundedPool[T BoundedPoolItem]) used
// elsewhere in the retrieved pack.
func RoundUp[T constraints.Unsigned](n, step T) T {
	return (n + step - 1) &^ (step - 1)
}

// NumClasses is the number of entries in the table, including the two
// duplicate sentinel entries at the end.
const NumClasses = 46

// linearClasses is the number of ascending 16 B-stride classes (16..256).
const linearClasses = 16

// Sizes holds the class sizes in ascending order. Sizes[44] == Sizes[45]
// == 2608 is intentional sentinel padding, matching spec.md §3.
var Sizes [NumClasses]uint32

// fastTable maps (size+15)/16 (for size in [1,256]) directly to a class
// index. Table has linearClasses+1 entries so index 16 (size exactly 256)
// is valid without a branch.
var fastTable [linearClasses + 1]uint8

func init() {
	for i := 0; i < linearClasses; i++ {
		Sizes[i] = uint32((i + 1) * 16)
	}
	// Geometric widening from 256 up to 2608 over the remaining classes,
	// excluding the two trailing sentinel duplicates.
	geometricClasses := NumClasses - linearClasses - 2
	prev := Sizes[linearClasses-1]
	const last = 2608
	for i := 0; i < geometricClasses; i++ {
		// geometric interpolation in log-space between 256 and 2608,
		// rounded up to a multiple of 16 so every class stays
		// header-aligned.
		frac := float64(i+1) / float64(geometricClasses)
		size := float64(256) * math.Pow(float64(last)/256, frac)
		rounded := RoundUp(uint32(size), uint32(16))
		if rounded <= prev {
			rounded = prev + 16
		}
		Sizes[linearClasses+i] = rounded
		prev = rounded
	}
	Sizes[NumClasses-2] = last
	Sizes[NumClasses-1] = last

	for i := range fastTable {
		sz := uint32(i * 16)
		idx := 0
		for idx < linearClasses && Sizes[idx] < sz {
			idx++
		}
		fastTable[i] = uint8(idx)
	}
}

// ClassFor returns the index into Sizes of the smallest class able to
// hold n bytes, or -1 if n exceeds the largest non-sentinel class.
func ClassFor(n uint32) int {
	if n == 0 {
		n = 1
	}
	if n <= 256 {
		return int(fastTable[(n+15)/16])
	}
	if n > Sizes[NumClasses-3] {
		return -1
	}
	lo, hi := linearClasses, NumClasses-3
	for lo < hi {
		mid := (lo + hi) / 2
		if Sizes[mid] < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// MaxSmallBlockSize is the largest request (before header) servable by
// the small-class table, spec.md §2's "≤2608 B" small tier ceiling.
const MaxSmallBlockSize = 2608
