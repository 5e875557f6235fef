package gomalloc

import "github.com/shenjiangwei/gomalloc/internal/stats"

// TierStatus is one tier's statistics snapshot (spec.md §4.6).
type TierStatus struct {
	Tier            string
	CurrentBytes    int64
	CumulativeBytes uint64
	PeakBytes       int64
	AllocCount      uint64
	FreeCount       uint64
}

// HeapStatus is the full statistics snapshot returned by
// current_heap_status (spec.md §6).
type HeapStatus struct {
	Tiny, Small, Medium, Large TierStatus
	SleepCount                 uint64
	SleepCycles                uint64
}

func tierStatus(t stats.TierSnapshot) TierStatus {
	return TierStatus{
		Tier:            t.Tier.String(),
		CurrentBytes:    t.CurrentBytes,
		CumulativeBytes: t.CumulativeBytes,
		PeakBytes:       t.PeakBytes,
		AllocCount:      t.AllocCount,
		FreeCount:       t.FreeCount,
	}
}

// CurrentHeapStatus returns a lock-free, point-in-time snapshot of
// every tier's statistics.
func (h *Heap) CurrentHeapStatus() HeapStatus {
	s := h.global.Snapshot()
	return HeapStatus{
		Tiny:        tierStatus(s.Tiers[stats.Tiny]),
		Small:       tierStatus(s.Tiers[stats.Small]),
		Medium:      tierStatus(s.Tiers[stats.Medium]),
		Large:       tierStatus(s.Tiers[stats.Large]),
		SleepCount:  s.SleepCount,
		SleepCycles: s.SleepCycles,
	}
}

// SmallBlockEntry is one size class's row in a small_block_status
// report.
type SmallBlockEntry struct {
	BlockSize uint64
	Total     uint64
	Current   uint64
}

// SmallBlockStatus reports, for every size class up to max, the class's
// nominal size, its cumulative allocation count, and its current
// in-use count, aggregated across every arena that serves that class.
// When descending is true the result is reported largest-class-first.
func (h *Heap) SmallBlockStatus(max uint64, descending bool) []SmallBlockEntry {
	var out []SmallBlockEntry
	for c := 0; c < h.arenas.NumClasses(); c++ {
		blockSize, total, current := h.arenas.ClassStatus(c)
		if blockSize > max {
			break
		}
		out = append(out, SmallBlockEntry{BlockSize: blockSize, Total: total, Current: current})
	}
	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// ContentionEntry is one size class's row in a small_block_contention
// report.
type ContentionEntry struct {
	BlockSize  uint64
	SleepCount uint64
}

// SmallBlockContention reports, for every size class up to max, how
// many times a thread gave up spinning on that class's lock and yielded
// to the scheduler.
func (h *Heap) SmallBlockContention(max uint64) []ContentionEntry {
	var out []ContentionEntry
	for c := 0; c < h.arenas.NumClasses(); c++ {
		blockSize, _, _ := h.arenas.ClassStatus(c)
		if blockSize > max {
			break
		}
		out = append(out, ContentionEntry{BlockSize: blockSize, SleepCount: h.arenas.ClassSleepCount(c)})
	}
	return out
}
