// Package diag implements the report-leaks teardown walk (spec.md §6,
// §7): on shutdown, walk every still-mapped tier and log any block that
// is still in use. Leaks are reported, never treated as fatal — the
// process continues shutdown normally afterward.
package diag

import (
	"unsafe"

	"code.hybscloud.com/iox"

	"github.com/shenjiangwei/gomalloc/internal/large"
	"github.com/shenjiangwei/gomalloc/internal/medium"
	"github.com/shenjiangwei/gomalloc/internal/obslog"
	"github.com/shenjiangwei/gomalloc/internal/stats"
)

// quietAttempts bounds how many backoff cycles WaitQuiet spends waiting
// for the statistics snapshot to stop changing before giving up.
const quietAttempts = 8

// WaitQuiet polls g's snapshot until two consecutive reads are identical,
// or the attempt budget runs out, giving in-flight allocations a chance
// to settle before a leak walk reads a timing-sensitive snapshot.
// Adaptive waiting here follows the same iox.Backoff retry convention
// hayabusa-cloud-iobuf/bounded_pool.go uses in its Get/Put polling loops.
// Returns false if the counters were still moving when the budget ran out.
func WaitQuiet(g *stats.Global) bool {
	last := g.Snapshot()
	var aw iox.Backoff
	for i := 0; i < quietAttempts; i++ {
		aw.Wait()
		cur := g.Snapshot()
		if cur == last {
			return true
		}
		last = cur
	}
	return false
}

// Report summarizes one shutdown leak walk.
type Report struct {
	MediumLeaks int
	LargeLeaks  int
	LeakedBytes uint64
}

// Walk inspects m and l for blocks still marked in-use and logs each one
// through obslog.Error. Small/tiny leaks are not walked block-by-block
// here (their storage is a medium-tier chunk already covered by the
// medium walk); instead they're surfaced in aggregate from the
// get/free counters already exposed through stats, via the small-block
// status report the external heapstat CLI prints separately.
func Walk(m *medium.Info, l *large.Allocator) Report {
	var r Report
	m.Walk(func(headerAddr unsafe.Pointer, payload uint64, free bool) {
		if free {
			return
		}
		r.MediumLeaks++
		r.LeakedBytes += payload
		obslog.Error("leaked medium block: %d bytes at %p", payload, headerAddr)
	})
	l.Walk(func(ptr unsafe.Pointer, size uint64) {
		r.LargeLeaks++
		r.LeakedBytes += size
		obslog.Error("leaked large block: %d bytes at %p", size, ptr)
	})
	return r
}

// WalkWithStats is Walk plus a final summary line giving the live heap
// totals at the moment of the walk, for a single log line a caller can
// grep for.
func WalkWithStats(m *medium.Info, l *large.Allocator, g *stats.Global) Report {
	WaitQuiet(g)
	r := Walk(m, l)
	snap := g.Snapshot()
	var live int64
	for _, t := range snap.Tiers {
		live += t.CurrentBytes
	}
	obslog.Info("report-leaks: %d medium + %d large leaked block(s), %d bytes; %d bytes still live heap-wide",
		r.MediumLeaks, r.LargeLeaks, r.LeakedBytes, live)
	return r
}
