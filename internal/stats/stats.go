// Package stats holds the allocator's statistics counters (spec.md §4.6):
// per-tier current/cumulative/peak bytes and alloc/free counts, plus
// global and per-size-class contention counters. It generalizes the
// teacher's single-pool PoolStats (mpool/mpool.go: TotalAllocations,
// PoolHits, PoolMisses, ...) into the full per-tier set the spec
// requires, read by the external heapstat CLI and the report-leaks
// walker via Snapshot.
package stats

import "sync/atomic"

// Tier identifies one of the four allocation tiers for statistics
// purposes.
type Tier int

const (
	Tiny Tier = iota
	Small
	Medium
	Large
	numTiers
)

func (t Tier) String() string {
	switch t {
	case Tiny:
		return "tiny"
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	default:
		return "unknown"
	}
}

// TierCounters are the atomic counters for one tier.
type TierCounters struct {
	currentBytes    atomic.Int64
	cumulativeBytes atomic.Uint64
	peakBytes       atomic.Int64
	allocCount      atomic.Uint64
	freeCount       atomic.Uint64
}

// RecordAlloc updates current/cumulative/peak/allocCount for a successful
// allocation of n bytes.
func (c *TierCounters) RecordAlloc(n uint64) {
	cur := c.currentBytes.Add(int64(n))
	c.cumulativeBytes.Add(n)
	c.allocCount.Add(1)
	for {
		peak := c.peakBytes.Load()
		if cur <= peak {
			return
		}
		if c.peakBytes.CompareAndSwap(peak, cur) {
			return
		}
	}
}

// RecordFree updates current/freeCount for a free of n bytes.
func (c *TierCounters) RecordFree(n uint64) {
	c.currentBytes.Add(-int64(n))
	c.freeCount.Add(1)
}

// TierSnapshot is an immutable copy of one tier's counters.
type TierSnapshot struct {
	Tier            Tier
	CurrentBytes    int64
	CumulativeBytes uint64
	PeakBytes       int64
	AllocCount      uint64
	FreeCount       uint64
}

func (c *TierCounters) snapshot(t Tier) TierSnapshot {
	return TierSnapshot{
		Tier:            t,
		CurrentBytes:    c.currentBytes.Load(),
		CumulativeBytes: c.cumulativeBytes.Load(),
		PeakBytes:       c.peakBytes.Load(),
		AllocCount:      c.allocCount.Load(),
		FreeCount:       c.freeCount.Load(),
	}
}

// Global holds every tier's counters plus the lock-contention counters
// spec.md §4.6 and §5 require: a global sleep count/cycles and a
// per-size-class sleep count recording how often a size class's lock was
// contended before the caller gave up and yielded to the scheduler.
type Global struct {
	tiers [numTiers]TierCounters

	sleepCount  atomic.Uint64
	sleepCycles atomic.Uint64

	classSleeps []atomic.Uint64
}

// NewGlobal allocates a Global with room for numClasses per-size-class
// sleep counters.
func NewGlobal(numClasses int) *Global {
	return &Global{classSleeps: make([]atomic.Uint64, numClasses)}
}

// Tier returns the counters for tier t.
func (g *Global) Tier(t Tier) *TierCounters {
	return &g.tiers[t]
}

// AddSleep increments the global sleep count by n; satisfies
// internal/spinlock.SleepCounter.
func (g *Global) AddSleep(n uint64) {
	g.sleepCount.Add(n)
}

// AddSleepCycles adds n timestamp-counter cycles to the global sleep
// cycle total. Optional instrumentation, disabled by default (spec.md
// §9: must be disabled on virtualized environments where the counter is
// emulated).
func (g *Global) AddSleepCycles(n uint64) {
	g.sleepCycles.Add(n)
}

// classCounter adapts one slot of classSleeps to spinlock.SleepCounter
// for a specific size class, so each class's lock records its own
// contention independently of the global total.
type classCounter struct {
	g     *Global
	class int
}

func (c classCounter) AddSleep(n uint64) {
	c.g.classSleeps[c.class].Add(n)
	c.g.sleepCount.Add(n)
}

// ClassSleepCounter returns a spinlock.SleepCounter scoped to one size
// class.
func (g *Global) ClassSleepCounter(class int) classCounter {
	return classCounter{g: g, class: class}
}

// ClassSleepCount returns the cumulative sleep count recorded against one
// size class (used by SmallBlockContention).
func (g *Global) ClassSleepCount(class int) uint64 {
	if class < 0 || class >= len(g.classSleeps) {
		return 0
	}
	return g.classSleeps[class].Load()
}

// Snapshot is an immutable, lock-free-read copy of every counter.
type Snapshot struct {
	Tiers       [numTiers]TierSnapshot
	SleepCount  uint64
	SleepCycles uint64
}

// Snapshot copies out every counter with atomic loads only — no lock is
// held, matching spec.md §4.6's read-only external-collaborator contract.
func (g *Global) Snapshot() Snapshot {
	var s Snapshot
	for i := Tier(0); i < numTiers; i++ {
		s.Tiers[i] = g.tiers[i].snapshot(i)
	}
	s.SleepCount = g.sleepCount.Load()
	s.SleepCycles = g.sleepCycles.Load()
	return s
}
