// Package arena implements the tiny/small allocator (spec.md §4.2): one
// "Small" array covering every size class plus a configurable number of
// "Tiny" arenas covering only the tiny range, selected round-robin (or,
// opt-in, by a cheap per-goroutine hash) to spread lock contention across
// callers. Each size-class record feeds a doubly-linked list of
// partially-free small-block pools carved from the medium tier, with a
// sequential-feed fast path and a lock-less free stack identical in shape
// to the medium allocator's own (internal/medium).
package arena

import (
	"sync/atomic"
	"unsafe"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/cacheline"
	"github.com/shenjiangwei/gomalloc/internal/lockfree"
	"github.com/shenjiangwei/gomalloc/internal/medium"
	"github.com/shenjiangwei/gomalloc/internal/sizeclass"
	"github.com/shenjiangwei/gomalloc/internal/spinlock"
	"github.com/shenjiangwei/gomalloc/internal/stats"
)

// slotsPerPool is the target slot count used to size a fresh small-block
// pool's request to the medium tier; the medium allocator may hand back a
// larger usable span (bin reuse), in which case the extra room is simply
// carved into more slots.
const slotsPerPool = 64

// knuthMultiplier32 is Knuth's 32-bit golden-ratio constant, used for the
// opt-in per-thread arena hash (spec.md §4.2 step 2).
const knuthMultiplier32 = 0x9E3779B9

// aBits bounds the per-thread hash to the booster configuration's 127
// extra arenas (2^7 - 1).
const aBits = 7

func headerAt(addr unsafe.Pointer) *blockhdr.Word {
	return (*blockhdr.Word)(addr)
}

func freeSlotNext(data unsafe.Pointer) *unsafe.Pointer {
	return (*unsafe.Pointer)(data)
}

// pool is a small-block pool's header, placed at the start of the
// medium-tier chunk it subdivides. Its own address is what every slot's
// header carries as a back-pointer (blockhdr.PackPool), so it must never
// move — it lives in OS-mapped memory for its entire lifetime, never on
// the Go heap.
type pool struct {
	signature  uint32
	inUse      uint32
	owner      *SizeClass
	prev, next *pool
	freeHead   unsafe.Pointer
	bodyLen    uint64
}

const poolSignature = 0x534d504c // "SMPL"

var poolHeaderSize = uint64(unsafe.Sizeof(pool{}))

func (p *pool) bodyStart() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(p), poolHeaderSize)
}

func (p *pool) bodyEnd() unsafe.Pointer {
	return unsafe.Add(p.bodyStart(), p.bodyLen)
}

func (p *pool) linked() bool {
	return p.prev != nil
}

// sizeClassFields holds SizeClass's actual state; SizeClass wraps it with
// trailing cache-line padding so the fields below never share a line.
type sizeClassFields struct {
	lock spinlock.Lock

	class       int
	blockSize   uint64
	slotTotal   uint64
	poolPayload uint64

	sentinel pool
	feed     *pool
	feedPtr  unsafe.Pointer
	feedEnd  unsafe.Pointer

	freeStack lockfree.Stack

	medium *medium.Info
	sleeps *stats.Global
	tier   *stats.TierCounters

	getCount  atomic.Uint64
	freeCount atomic.Uint64
}

// SizeClass is one size class's record within one arena: lock, current
// sequential-feed pool, partially-free pool list, and lock-less free
// stack. A given class index appears once in the main array and once per
// extra tiny arena. Both Arenas.main and Arenas.tiny lay these out as
// contiguous slices, so each record is padded out to a full cache line
// (internal/cacheline, the same per-arch constant idiom as the lock byte
// itself) to keep one arena's lock and feed pointer from sharing a line
// with its round-robin neighbor's.
type SizeClass struct {
	sizeClassFields
	_ [cacheline.Size]byte
}

func (sc *SizeClass) init(class int, isTiny bool, g *stats.Global, m *medium.Info) {
	sc.class = class
	sc.blockSize = uint64(sizeclass.Sizes[class])
	sc.slotTotal = uint64(blockhdr.HeaderSize) + sc.blockSize
	sc.poolPayload = sc.blockSize * slotsPerPool
	if sc.poolPayload < medium.MinMedium {
		sc.poolPayload = medium.MinMedium
	}
	sc.sentinel.prev = &sc.sentinel
	sc.sentinel.next = &sc.sentinel
	sc.medium = m
	sc.sleeps = g
	t := stats.Small
	if isTiny {
		t = stats.Tiny
	}
	sc.tier = g.Tier(t)
}

func (sc *SizeClass) linkPartial(p *pool) {
	p.next = sc.sentinel.next
	p.prev = &sc.sentinel
	sc.sentinel.next.prev = p
	sc.sentinel.next = p
}

func (sc *SizeClass) unlinkPartial(p *pool) {
	p.prev.next = p.next
	p.next.prev = p.prev
	p.prev = nil
	p.next = nil
}

func (sc *SizeClass) newPool() *pool {
	raw := sc.medium.Alloc(sc.poolPayload)
	if raw == nil {
		return nil
	}
	medium.MarkSmallPoolHost(raw)
	usable := medium.SizeOf(raw)
	p := (*pool)(raw)
	p.signature = poolSignature
	p.inUse = 0
	p.owner = sc
	p.prev, p.next = nil, nil
	p.freeHead = nil
	p.bodyLen = usable - poolHeaderSize
	return p
}

// carveFromFeed hands out the next untouched slot in the current feed
// pool, packing its header with the pool back-pointer. Not free.
func (sc *SizeClass) carveFromFeed() unsafe.Pointer {
	headerAddr := sc.feedPtr
	data := unsafe.Add(headerAddr, blockhdr.HeaderSize)
	sc.feedPtr = unsafe.Add(sc.feedPtr, sc.slotTotal)
	hw := headerAt(headerAddr)
	*hw = blockhdr.PackPool(unsafe.Pointer(sc.feed), 0)
	sc.feed.inUse++
	return data
}

func (sc *SizeClass) feedHasRoom() bool {
	return sc.feed != nil && uintptr(sc.feedPtr)+uintptr(sc.slotTotal) <= uintptr(sc.feedEnd)
}

func popFromPartial(p *pool) unsafe.Pointer {
	data := p.freeHead
	p.freeHead = *freeSlotNext(data)
	p.inUse++
	hw := headerAt(unsafe.Add(data, -blockhdr.HeaderSize))
	*hw = hw.ClearFlag(blockhdr.IsFree)
	return data
}

// allocLocked implements spec.md §4.2's "under the lock" sequence: drain
// a partially-free pool first, then the live feed window, then pull a
// fresh pool from the medium tier.
func (sc *SizeClass) allocLocked() unsafe.Pointer {
	if sc.sentinel.next != &sc.sentinel {
		p := sc.sentinel.next
		data := popFromPartial(p)
		if p.freeHead == nil {
			sc.unlinkPartial(p)
		}
		sc.tier.RecordAlloc(sc.slotTotal)
		sc.getCount.Add(1)
		return data
	}

	if sc.feedHasRoom() {
		data := sc.carveFromFeed()
		sc.tier.RecordAlloc(sc.slotTotal)
		sc.getCount.Add(1)
		return data
	}

	p := sc.newPool()
	if p == nil {
		return nil
	}
	sc.feed = p
	sc.feedPtr = p.bodyStart()
	sc.feedEnd = p.bodyEnd()
	data := sc.carveFromFeed()
	sc.tier.RecordAlloc(sc.slotTotal)
	sc.getCount.Add(1)
	return data
}

// drainFast services the lock-less stack without ever acquiring the
// class lock: detach the whole stack, return the head, and re-push
// everything after it. Per-pool bookkeeping is untouched because the
// matching free() never ran it either — the pair cancels out exactly.
func (sc *SizeClass) drainFast() unsafe.Pointer {
	head := sc.freeStack.Drain()
	if head == nil {
		return nil
	}
	rest := lockfree.Next(head)
	for rest != nil {
		next := lockfree.Next(rest)
		sc.freeStack.Push(rest)
		rest = next
	}
	hw := headerAt(unsafe.Add(head, -blockhdr.HeaderSize))
	*hw = hw.ClearFlag(blockhdr.IsFree)
	return head
}

func (sc *SizeClass) tryFastOrLock() unsafe.Pointer {
	if p := sc.drainFast(); p != nil {
		return p
	}
	if sc.lock.TryAcquire() {
		p := sc.allocLocked()
		sc.lock.Release()
		return p
	}
	return nil
}

func (sc *SizeClass) blockingAlloc() unsafe.Pointer {
	if p := sc.drainFast(); p != nil {
		return p
	}
	sc.lock.Acquire(spinlock.SmallBudget, sc.sleeps.ClassSleepCounter(sc.class))
	p := sc.allocLocked()
	sc.lock.Release()
	return p
}

func (sc *SizeClass) freeLocked(ptr unsafe.Pointer) {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerAt(headerAddr)
	p := (*pool)(hw.PoolPtr())
	*hw = hw.SetFlag(blockhdr.IsFree)

	*freeSlotNext(ptr) = p.freeHead
	p.freeHead = ptr
	p.inUse--

	sc.tier.RecordFree(sc.slotTotal)
	sc.freeCount.Add(1)

	if p.inUse == 0 {
		if p == sc.feed {
			// Whole pool free while still the feed: reset the window
			// rather than returning it, spec.md §4.5's feeding->empty
			// exception.
			sc.feedPtr = p.bodyStart()
			p.freeHead = nil
			if p.linked() {
				sc.unlinkPartial(p)
			}
			return
		}
		if p.linked() {
			sc.unlinkPartial(p)
		}
		sc.medium.Free(unsafe.Pointer(p))
		return
	}

	if p != sc.feed && !p.linked() {
		sc.linkPartial(p)
	}
}

func (sc *SizeClass) drainFreeStack() {
	cur := sc.freeStack.Drain()
	for cur != nil {
		next := lockfree.Next(cur)
		sc.freeLocked(cur)
		cur = next
	}
}

// Free returns ptr to this size class, matching spec.md §4.2's free path:
// push onto the lock-less stack on contention, otherwise free and drain
// under the lock. Returns the class's nominal block size.
func (sc *SizeClass) Free(ptr unsafe.Pointer) uint64 {
	if !sc.lock.TryAcquire() {
		sc.freeStack.Push(ptr)
		return sc.blockSize
	}
	sc.freeLocked(ptr)
	sc.drainFreeStack()
	sc.lock.Release()
	return sc.blockSize
}

// Counts returns this record's cumulative get/free counts, used to build
// the small_block_status and small_block_contention reports.
func (sc *SizeClass) Counts() (get, free uint64) {
	return sc.getCount.Load(), sc.freeCount.Load()
}

// Config selects the compile-time arena layout (spec.md §6).
type Config struct {
	Boost     bool // tiny ceiling 256 B instead of 128 B
	Booster   bool // 127 extra tiny arenas instead of 7; per-thread hashing
	PerThread bool // hash goroutine identity instead of round-robin
}

// Arenas is the whole tiny/small allocator: the main Small array plus the
// configured number of Tiny-only arenas.
type Arenas struct {
	tinyClassCount int
	perThread      bool

	main []SizeClass
	tiny [][]SizeClass

	cursor atomic.Uint32
	sleeps *stats.Global
}

// New builds the arena layout per cfg. g is the shared statistics block;
// m is the medium-tier namespace small-block pools are carved from.
func New(g *stats.Global, m *medium.Info, cfg Config) *Arenas {
	tinyMax := uint32(128)
	if cfg.Boost {
		tinyMax = 256
	}
	tinyClassCount := sizeclass.ClassFor(tinyMax) + 1

	extraArenas := 7
	if cfg.Booster {
		extraArenas = 127
	}

	a := &Arenas{
		tinyClassCount: tinyClassCount,
		perThread:      cfg.PerThread || cfg.Booster,
		sleeps:         g,
	}

	a.main = make([]SizeClass, sizeclass.NumClasses)
	for c := range a.main {
		a.main[c].init(c, c < tinyClassCount, g, m)
	}

	a.tiny = make([][]SizeClass, extraArenas)
	for i := range a.tiny {
		a.tiny[i] = make([]SizeClass, tinyClassCount)
		for c := range a.tiny[i] {
			a.tiny[i][c].init(c, true, g, m)
		}
	}
	return a
}

// threadHint is a cheap, goroutine-affine proxy for "thread identity",
// used only in opt-in per-thread arena selection. Go exposes no cheap
// OS-thread-id read (spec.md §9's design note allows falling back to
// round-robin for exactly this reason); the address of a stack-local
// variable tracks the calling goroutine's current stack closely enough
// to spread contention, though unlike a real TLS base it is not stable
// across a goroutine migrating to a different OS thread mid-call.
func threadHint() uint32 {
	var x byte
	return uint32(uintptr(unsafe.Pointer(&x)))
}

func knuthHash32(x uint32) uint32 {
	return x * knuthMultiplier32
}

// classRecord implements spec.md §4.2's arena-selection algorithm for one
// size class.
func (a *Arenas) classRecord(c int) *SizeClass {
	if c >= a.tinyClassCount {
		return &a.main[c]
	}
	n := uint32(len(a.tiny) + 1)
	var arena uint32
	if a.perThread {
		arena = (knuthHash32(threadHint()) >> (32 - aBits)) % n
	} else {
		arena = a.cursor.Add(1) % n
	}
	if arena == 0 {
		return &a.main[c]
	}
	return &a.tiny[arena-1][c]
}

// recordsForClass returns every arena's record for class c, used for
// aggregate statistics reporting.
func (a *Arenas) recordsForClass(c int) []*SizeClass {
	if c >= a.tinyClassCount {
		return []*SizeClass{&a.main[c]}
	}
	recs := make([]*SizeClass, 0, len(a.tiny)+1)
	recs = append(recs, &a.main[c])
	for i := range a.tiny {
		recs = append(recs, &a.tiny[i][c])
	}
	return recs
}

// Alloc services a tiny/small request already resolved to class c
// (sizeclass.ClassFor), trying up to three arenas' fast/lock paths
// before falling back to a bounded spin-then-yield wait on the last one
// selected (spec.md §4.2 steps 2-3).
func (a *Arenas) Alloc(c int) unsafe.Pointer {
	var sc *SizeClass
	for attempt := 0; attempt < 3; attempt++ {
		sc = a.classRecord(c)
		if p := sc.tryFastOrLock(); p != nil {
			return p
		}
	}
	return sc.blockingAlloc()
}

// ClassStatus aggregates the get/free counts for class c across every
// arena that serves it, for small_block_status (spec.md §6).
func (a *Arenas) ClassStatus(c int) (blockSize, total, current uint64) {
	blockSize = uint64(sizeclass.Sizes[c])
	for _, sc := range a.recordsForClass(c) {
		g, f := sc.Counts()
		total += g
		current += g - f
	}
	return
}

// ClassSleepCount returns the cumulative contention-sleep count recorded
// against class c (shared across every arena serving it, since the
// counter in stats.Global is indexed by class, not by arena).
func (a *Arenas) ClassSleepCount(c int) uint64 {
	return a.sleeps.ClassSleepCount(c)
}

// NumClasses is the number of addressable size classes, exposed for
// callers building small_block_status/contention reports.
func (a *Arenas) NumClasses() int {
	return sizeclass.NumClasses
}

// FreeBlock returns ptr to its owning size class, read from the block
// header's pool back-pointer. Package-level, like medium.Free and
// large.Free, since the header alone identifies the owner.
func FreeBlock(ptr unsafe.Pointer) uint64 {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerAt(headerAddr)
	p := (*pool)(hw.PoolPtr())
	return p.owner.Free(ptr)
}

// SizeOf returns the nominal block size of a live tiny/small allocation.
func SizeOf(ptr unsafe.Pointer) uint64 {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerAt(headerAddr)
	p := (*pool)(hw.PoolPtr())
	return p.owner.blockSize
}

// Owns reports whether ptr's header carries neither the medium nor large
// flag, i.e. it belongs to a tiny/small pool. Diagnostic only.
func Owns(ptr unsafe.Pointer) bool {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerAt(headerAddr)
	return !hw.HasFlag(blockhdr.IsMedium) && !hw.HasFlag(blockhdr.IsLarge)
}
