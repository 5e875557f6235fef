// Package medium implements the medium-tier allocator (spec.md §4.3): one
// or more 1.25 MB OS-mapped "super-pools" per namespace, subdivided into
// boundary-tagged blocks, free blocks indexed by a 32-group × 32-bin
// array with two-level bitmaps, a sequential-feed fast path for an
// untouched super-pool tail, and immediate coalescing on free.
//
// A namespace is a single Info. gomalloc.New creates exactly one per
// Heap, and the tiny and small arenas carve their block pools from that
// same Info in every configuration; no mode gives the small-block pools
// a namespace of their own.
package medium

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/iox"

	"github.com/shenjiangwei/gomalloc/internal/blockhdr"
	"github.com/shenjiangwei/gomalloc/internal/lockfree"
	"github.com/shenjiangwei/gomalloc/internal/osmem"
	"github.com/shenjiangwei/gomalloc/internal/sizeclass"
	"github.com/shenjiangwei/gomalloc/internal/spinlock"
	"github.com/shenjiangwei/gomalloc/internal/stats"
)

const (
	binGranularity = 256
	numGroups      = 32
	binsPerGroup   = 32
	numBins        = numGroups * binsPerGroup // 1024

	// MinMedium is the smallest medium-tier request, spec.md §4.3:
	// 11*256 + 48.
	MinMedium = 11*binGranularity + 48

	superPoolTotal = 1_310_720 // 1.25 MB
)

// block overhead: one header word before the payload, one trailing-size
// word after it (spec.md §3's boundary tag, used for reverse coalescing).
const blockOverhead = blockhdr.HeaderSize + 8

// freeNode is the intrusive doubly-linked list node a free block's
// payload is temporarily repurposed to hold while it sits in a bin.
type freeNode struct {
	prev, next *freeNode
}

func (n *freeNode) init() {
	n.prev, n.next = n, n
}

func (n *freeNode) unlink() {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func (n *freeNode) linkAfter(sentinel *freeNode) {
	n.next = sentinel.next
	n.prev = sentinel
	sentinel.next.prev = n
	sentinel.next = n
}

func (n *freeNode) empty() bool {
	return n.next == n
}

// superPool is the header embedded at the start of every 1.25 MB mapped
// region, linking it into Info's circular list of live super-pools.
type superPool struct {
	prev, next *superPool
	bodySize   uint64
}

var superPoolHeaderSize = uint64(unsafe.Sizeof(superPool{}))

func (p *superPool) bodyStart() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(p), superPoolHeaderSize)
}

func (p *superPool) bodyEnd() unsafe.Pointer {
	return unsafe.Add(p.bodyStart(), p.bodySize)
}

// blockView is a decoded view of one block: its header/trailer addresses
// and the current payload size.
type blockView struct {
	headerAddr unsafe.Pointer
	payload    uint64
}

func headerWord(addr unsafe.Pointer) *blockhdr.Word {
	return (*blockhdr.Word)(addr)
}

func trailerWord(headerAddr unsafe.Pointer, payload uint64) *uint64 {
	return (*uint64)(unsafe.Add(headerAddr, blockhdr.HeaderSize+int(payload)))
}

func dataOf(headerAddr unsafe.Pointer) unsafe.Pointer {
	return unsafe.Add(headerAddr, blockhdr.HeaderSize)
}

func freeNodeOf(headerAddr unsafe.Pointer) *freeNode {
	return (*freeNode)(dataOf(headerAddr))
}

// blockTotal is the full span a block occupies: header + payload +
// trailer.
func blockTotal(payload uint64) uint64 {
	return payload + blockOverhead
}

func binIndex(payload uint64) int {
	if payload < MinMedium {
		payload = MinMedium
	}
	idx := int((payload - MinMedium) / binGranularity)
	if idx >= numBins {
		idx = numBins - 1
	}
	return idx
}

// Info is one medium-tier namespace: its own lock, super-pool list,
// sequential feed window, bin array and bitmaps, prefetch slot, and
// lock-less free stack.
type Info struct {
	lock         spinlock.Lock
	prefetchLock spinlock.Lock

	sentinel superPool // circular list head; never itself mapped

	feedPool   *superPool
	feedPtr    unsafe.Pointer
	feedRemain uint64

	bins        [numBins]freeNode
	binBitmap   [numGroups]uint32
	groupBitmap uint32

	prefetch *superPool

	freeStack lockfree.Stack

	sleeps *stats.Global
	tier   *stats.TierCounters
}

// New creates an empty medium namespace.
func New(g *stats.Global) *Info {
	info := &Info{sleeps: g, tier: g.Tier(stats.Medium)}
	info.sentinel.prev = &info.sentinel
	info.sentinel.next = &info.sentinel
	for i := range info.bins {
		info.bins[i].init()
	}
	return info
}

func round256(n uint64) uint64 {
	p := sizeclass.RoundUp(n+48, uint64(binGranularity))
	if p < MinMedium {
		return MinMedium
	}
	return p
}

func (info *Info) linkSuperPool(p *superPool) {
	p.next = info.sentinel.next
	p.prev = &info.sentinel
	info.sentinel.next.prev = p
	info.sentinel.next = p
}

func (info *Info) unlinkSuperPool(p *superPool) {
	p.prev.next = p.next
	p.next.prev = p.prev
}

func (info *Info) setBin(idx int) {
	g, b := idx/binsPerGroup, idx%binsPerGroup
	info.binBitmap[g] |= 1 << uint(b)
	info.groupBitmap |= 1 << uint(g)
}

func (info *Info) clearBinMaybe(idx int) {
	g, b := idx/binsPerGroup, idx%binsPerGroup
	if !info.bins[idx].empty() {
		return
	}
	info.binBitmap[g] &^= 1 << uint(b)
	if info.binBitmap[g] == 0 {
		info.groupBitmap &^= 1 << uint(g)
	}
}

func (info *Info) bin(headerAddr unsafe.Pointer, payload uint64) {
	idx := binIndex(payload)
	n := freeNodeOf(headerAddr)
	n.linkAfter(&info.bins[idx])
	info.setBin(idx)
}

func (info *Info) unbin(headerAddr unsafe.Pointer, payload uint64) {
	idx := binIndex(payload)
	n := freeNodeOf(headerAddr)
	n.unlink()
	info.clearBinMaybe(idx)
}

// findFree searches the bitmap for a free block at bin >= target,
// preferring an exact match and otherwise the next bin up (spec.md
// §4.3 step 1).
func (info *Info) findFree(target int) (unsafe.Pointer, uint64, bool) {
	g, b := target/binsPerGroup, target%binsPerGroup
	mask := info.binBitmap[g] &^ ((1 << uint(b)) - 1)
	if mask == 0 {
		gmask := info.groupBitmap &^ ((1 << uint(g+1)) - 1)
		if gmask == 0 {
			return nil, 0, false
		}
		g = bits.TrailingZeros32(gmask)
		mask = info.binBitmap[g]
	}
	bit := bits.TrailingZeros32(mask)
	idx := g*binsPerGroup + bit
	n := info.bins[idx].next
	headerAddr := unsafe.Pointer(n)
	hw := headerWord(headerAddr)
	payload := hw.Size()
	info.unbin(headerAddr, payload)
	return headerAddr, payload, true
}

// tryPrefetch maps a speculative extra super-pool if one is not already
// queued and the prefetch lock is free. Best-effort, single attempt —
// hides the next refill's syscall latency under contention (spec.md
// §4.3).
func (info *Info) tryPrefetch() {
	if info.prefetch != nil {
		return
	}
	if !info.prefetchLock.TryAcquire() {
		return
	}
	defer info.prefetchLock.Release()
	if info.prefetch != nil {
		return
	}
	raw := osmem.Map(uintptr(superPoolTotal))
	if raw == nil {
		return
	}
	p := (*superPool)(raw)
	p.bodySize = superPoolTotal - superPoolHeaderSize
	info.prefetch = p
}

// takePrefetched hands back a speculatively mapped super-pool if tryPrefetch
// already queued one, using the same "not ready yet" sentinel
// hayabusa-cloud-iobuf/bounded_pool.go's tryGet/tryPut return when their
// pool has nothing to hand back.
func (info *Info) takePrefetched() (*superPool, error) {
	p := info.prefetch
	if p == nil {
		return nil, iox.ErrWouldBlock
	}
	info.prefetch = nil
	return p, nil
}

func (info *Info) newSuperPool() *superPool {
	if p, err := info.takePrefetched(); err == nil {
		return p
	}
	raw := osmem.Map(uintptr(superPoolTotal))
	if raw == nil {
		return nil
	}
	p := (*superPool)(raw)
	p.bodySize = superPoolTotal - superPoolHeaderSize
	return p
}

// Alloc services a medium-tier request: size is rounded up to the next
// 256 B quantum plus a 48 B offset, minimum MinMedium.
func (info *Info) Alloc(size uint64) unsafe.Pointer {
	payload := round256(size)
	target := binIndex(payload + binGranularity - 1)

	info.tryPrefetch()
	info.lock.Acquire(spinlock.MediumBudget, info.sleeps)
	defer info.lock.Release()

	if headerAddr, free, ok := info.findFree(target); ok {
		if free >= payload {
			return info.carveFromFree(headerAddr, free, payload)
		}
		info.bin(headerAddr, free)
	}

	if info.feedRemain >= blockTotal(payload) {
		return info.carveFromFeed(payload)
	}

	info.retireFeedRemainder()

	p := info.newSuperPool()
	if p == nil {
		return nil
	}
	info.linkSuperPool(p)
	info.feedPool = p
	info.feedPtr = p.bodyStart()
	info.feedRemain = p.bodySize
	return info.carveFromFeed(payload)
}

func (info *Info) carveFromFree(headerAddr unsafe.Pointer, free, need uint64) unsafe.Pointer {
	if free >= need+blockTotal(MinMedium) {
		// Split: return the prefix, bin the suffix.
		hw := headerWord(headerAddr)
		flags := blockhdr.IsMedium | (hw.Flags() & blockhdr.PrevMediumFree)
		*hw = blockhdr.PackSize(need, flags)
		*trailerWord(headerAddr, need) = need

		suffixHeader := unsafe.Add(headerAddr, blockOverhead+int(need))
		suffixPayload := free - need - blockOverhead
		shw := headerWord(suffixHeader)
		*shw = blockhdr.PackSize(suffixPayload, blockhdr.IsMedium|blockhdr.IsFree)
		*trailerWord(suffixHeader, suffixPayload) = suffixPayload
		info.bin(suffixHeader, suffixPayload)
		info.setFollowerPrevFree(suffixHeader, suffixPayload, true)

		info.tier.RecordAlloc(blockTotal(need))
		return dataOf(headerAddr)
	}

	hw := headerWord(headerAddr)
	prevFree := hw.HasFlag(blockhdr.PrevMediumFree)
	flags := blockhdr.IsMedium
	if prevFree {
		flags |= blockhdr.PrevMediumFree
	}
	*hw = blockhdr.PackSize(free, flags)
	*trailerWord(headerAddr, free) = free
	info.setFollowerPrevFree(headerAddr, free, false)
	info.tier.RecordAlloc(blockTotal(free))
	return dataOf(headerAddr)
}

func (info *Info) carveFromFeed(payload uint64) unsafe.Pointer {
	headerAddr := info.feedPtr
	total := blockTotal(payload)
	info.feedPtr = unsafe.Add(info.feedPtr, total)
	info.feedRemain -= total

	hw := headerWord(headerAddr)
	*hw = blockhdr.PackSize(payload, blockhdr.IsMedium)
	*trailerWord(headerAddr, payload) = payload
	info.tier.RecordAlloc(total)
	return dataOf(headerAddr)
}

// retireFeedRemainder bins whatever is left of the current feed window
// before the namespace moves on to a freshly mapped super-pool.
func (info *Info) retireFeedRemainder() {
	if info.feedPool == nil || info.feedRemain < blockOverhead {
		return
	}
	headerAddr := info.feedPtr
	payload := info.feedRemain - blockOverhead
	hw := headerWord(headerAddr)
	*hw = blockhdr.PackSize(payload, blockhdr.IsMedium|blockhdr.IsFree)
	*trailerWord(headerAddr, payload) = payload
	info.bin(headerAddr, payload)
	info.feedPool = nil
	info.feedPtr = nil
	info.feedRemain = 0
}

func (info *Info) setFollowerPrevFree(headerAddr unsafe.Pointer, payload uint64, free bool) {
	followerAddr := unsafe.Add(headerAddr, blockTotal(payload))
	if info.isFeedBoundary(followerAddr) {
		return
	}
	if owner := info.ownerOf(headerAddr); owner == nil || followerAddr == owner.bodyEnd() {
		return
	}
	fw := headerWord(followerAddr)
	if free {
		*fw = fw.SetFlag(blockhdr.PrevMediumFree)
	} else {
		*fw = fw.ClearFlag(blockhdr.PrevMediumFree)
	}
}

func (info *Info) isFeedBoundary(addr unsafe.Pointer) bool {
	return info.feedPool != nil && addr == info.feedPtr
}

// Free returns ptr to the medium tier, coalescing with free neighbors and
// unmapping a super-pool that becomes entirely free (unless it is the
// live feed pool, in which case the feed window is simply reset).
//
// The lock-less stack links pending frees through the block's own
// payload (lockfree.Stack's intrusive next-pointer), never through the
// header word itself, so it must be pushed the data pointer (ptr), not
// the header address — the header stays intact for whoever eventually
// drains and re-binds it.
func (info *Info) Free(ptr unsafe.Pointer) uint64 {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	if !info.lock.TryAcquire() {
		size := headerWord(headerAddr).Size()
		info.freeStack.Push(ptr)
		return size
	}
	size := headerWord(headerAddr).Size()
	info.freeLocked(ptr)
	info.drainFreeStack()
	info.lock.Release()
	return size
}

func (info *Info) drainFreeStack() {
	cur := info.freeStack.Drain()
	for cur != nil {
		next := lockfree.Next(cur)
		info.freeLocked(cur)
		cur = next
	}
}

// freeLocked processes one pending free. ptr is the original data
// pointer; headerAddr is recomputed from it since the block may have
// just come off the lock-less stack (which only preserves the payload's
// first word, not a cached header address).
func (info *Info) freeLocked(ptr unsafe.Pointer) {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerWord(headerAddr)
	payload := hw.Size()
	total := blockTotal(payload)

	owner := info.ownerOf(headerAddr)
	absorbedFeed := false

	// Step 1: merge with the following block if it is free.
	if owner != nil {
		follower := unsafe.Add(headerAddr, total)
		if follower != owner.bodyEnd() && !info.isFeedBoundary(follower) {
			fw := headerWord(follower)
			if fw.HasFlag(blockhdr.IsFree) {
				fPayload := fw.Size()
				info.unbin(follower, fPayload)
				payload += blockTotal(fPayload)
			}
		} else if info.isFeedBoundary(follower) {
			// Absorb the live feed window's remaining bytes too.
			payload += info.feedRemain
			absorbedFeed = true
			info.feedPool = nil
			info.feedPtr = nil
			info.feedRemain = 0
		}
	}

	// Step 2: merge with the preceding block if PREV_MEDIUM_FREE is set.
	if hw.HasFlag(blockhdr.PrevMediumFree) {
		prevTrailer := (*uint64)(unsafe.Add(headerAddr, -8))
		prevPayload := *prevTrailer
		prevHeader := unsafe.Add(headerAddr, -int(blockTotal(prevPayload)))
		info.unbin(prevHeader, prevPayload)
		headerAddr = prevHeader
		payload += blockTotal(prevPayload)
		hw = headerWord(headerAddr)
	}

	info.tier.RecordFree(total)

	if owner != nil && headerAddr == owner.bodyStart() && payload == owner.bodySize-blockOverhead {
		if absorbedFeed || info.feedPool == owner {
			info.feedPool = owner
			info.feedPtr = owner.bodyStart()
			info.feedRemain = owner.bodySize
			return
		}
		info.unlinkSuperPool(owner)
		osmem.Unmap(unsafe.Pointer(owner), uintptr(superPoolTotal))
		return
	}

	*hw = blockhdr.PackSize(payload, blockhdr.IsMedium|blockhdr.IsFree|(hw.Flags()&blockhdr.PrevMediumFree))
	*trailerWord(headerAddr, payload) = payload
	info.bin(headerAddr, payload)
	info.setFollowerPrevFree(headerAddr, payload, true)
}

// ownerOf walks the super-pool list to find which mapping owns
// headerAddr. Namespaces typically hold few live super-pools at once, so
// a linear scan is cheap relative to the syscalls it replaces; callers on
// a hotter path can cache the owner alongside the block if profiling ever
// shows this matters.
func (info *Info) ownerOf(headerAddr unsafe.Pointer) *superPool {
	for p := info.sentinel.next; p != &info.sentinel; p = p.next {
		if uintptr(headerAddr) >= uintptr(p.bodyStart()) && uintptr(headerAddr) < uintptr(p.bodyEnd()) {
			return p
		}
	}
	return nil
}

// SizeOf returns the nominal usable payload size of a live medium block.
func SizeOf(ptr unsafe.Pointer) uint64 {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	return headerWord(headerAddr).Size()
}

// MarkSmallPoolHost sets the SmallPoolInUse flag on a medium block that now
// hosts a small-block pool, so header introspection (leak walking) can tell
// it apart from a plain medium allocation.
func MarkSmallPoolHost(ptr unsafe.Pointer) {
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerWord(headerAddr)
	*hw = hw.SetFlag(blockhdr.SmallPoolInUse)
}

// Walk invokes fn once per block across every live super-pool, left to
// right in memory order, reporting each block's header address, payload
// size, and free/in-use status. Used by the report-leaks diagnostic
// walk (spec.md §6). Takes the namespace lock for the duration of the
// walk.
func (info *Info) Walk(fn func(headerAddr unsafe.Pointer, payload uint64, free bool)) {
	info.lock.Acquire(spinlock.MediumBudget, info.sleeps)
	defer info.lock.Release()
	for p := info.sentinel.next; p != &info.sentinel; p = p.next {
		addr := p.bodyStart()
		end := p.bodyEnd()
		for uintptr(addr) < uintptr(end) {
			if info.isFeedBoundary(addr) {
				break
			}
			hw := headerWord(addr)
			payload := hw.Size()
			fn(addr, payload, hw.HasFlag(blockhdr.IsFree))
			addr = unsafe.Add(addr, blockTotal(payload))
		}
	}
}

// Realloc implements spec.md §4.3's shrink/grow-in-place/fallback
// decision.
func (info *Info) Realloc(ptr unsafe.Pointer, newPayload uint64) unsafe.Pointer {
	newPayload = round256(newPayload)
	headerAddr := unsafe.Add(ptr, -blockhdr.HeaderSize)
	hw := headerWord(headerAddr)
	cur := hw.Size()

	if newPayload <= cur && newPayload >= cur/2 {
		return ptr
	}

	info.lock.Acquire(spinlock.MediumBudget, info.sleeps)
	defer info.lock.Release()

	if newPayload < cur {
		// Shrink in place: split off the tail.
		tailPayload := cur - newPayload
		if tailPayload < blockOverhead+MinMedium {
			return ptr
		}
		tailPayload -= blockOverhead
		*hw = blockhdr.PackSize(newPayload, hw.Flags())
		*trailerWord(headerAddr, newPayload) = newPayload

		tailHeader := unsafe.Add(headerAddr, blockOverhead+int(newPayload))
		owner := info.ownerOf(headerAddr)
		follower := unsafe.Add(headerAddr, blockTotal(cur))
		mergeWithFollowerFree := false
		var followerPayload uint64
		if owner != nil && follower != owner.bodyEnd() && !info.isFeedBoundary(follower) {
			fw := headerWord(follower)
			if fw.HasFlag(blockhdr.IsFree) {
				followerPayload = fw.Size()
				info.unbin(follower, followerPayload)
				mergeWithFollowerFree = true
			}
		}
		if mergeWithFollowerFree {
			tailPayload += blockTotal(followerPayload)
		}
		thw := headerWord(tailHeader)
		*thw = blockhdr.PackSize(tailPayload, blockhdr.IsMedium|blockhdr.IsFree)
		*trailerWord(tailHeader, tailPayload) = tailPayload
		info.bin(tailHeader, tailPayload)
		info.setFollowerPrevFree(tailHeader, tailPayload, true)
		return ptr
	}

	// Grow: try the following block if free and large enough.
	owner := info.ownerOf(headerAddr)
	follower := unsafe.Add(headerAddr, blockTotal(cur))
	if owner != nil && follower != owner.bodyEnd() && !info.isFeedBoundary(follower) {
		fw := headerWord(follower)
		if fw.HasFlag(blockhdr.IsFree) {
			followerPayload := fw.Size()
			combined := cur + blockTotal(followerPayload)
			if combined >= newPayload {
				info.unbin(follower, followerPayload)
				if combined >= newPayload+blockTotal(MinMedium) {
					*hw = blockhdr.PackSize(newPayload, hw.Flags())
					*trailerWord(headerAddr, newPayload) = newPayload
					remainder := combined - newPayload - blockOverhead
					remHeader := unsafe.Add(headerAddr, blockOverhead+int(newPayload))
					rw := headerWord(remHeader)
					*rw = blockhdr.PackSize(remainder, blockhdr.IsMedium|blockhdr.IsFree)
					*trailerWord(remHeader, remainder) = remainder
					info.bin(remHeader, remainder)
					info.setFollowerPrevFree(remHeader, remainder, true)
				} else {
					*hw = blockhdr.PackSize(combined, hw.Flags())
					*trailerWord(headerAddr, combined) = combined
					info.setFollowerPrevFree(headerAddr, combined, false)
				}
				return ptr
			}
		}
	}

	return nil
}
