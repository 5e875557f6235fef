// Package spinlock implements the test-and-set byte locks used throughout
// the allocator: each size-class record, each medium-info record, the
// medium-prefetch slot, and the single large-block lock are all a Lock.
//
// A holder must never call back into the allocator while holding a Lock —
// the spin-then-yield discipline inside Acquire is the whole
// point, and a recursive acquire would deadlock against itself.
package spinlock

import (
	"sync/atomic"

	"code.hybscloud.com/spin"
)

// Lock is an atomic byte lock: acquire is fetch-then-exchange, release is
// a plain store. It is intentionally not a sync.Mutex — the bounded
// spin-then-yield retry budget below is the behavior the spec requires,
// not blind OS blocking.
type Lock struct {
	state atomic.Bool
}

// TryAcquire attempts a single compare-and-swap and returns immediately.
func (l *Lock) TryAcquire() bool {
	return l.state.CompareAndSwap(false, true)
}

// Release clears the lock. Plain store is sufficient: happens-before is
// established by the CAS that acquired it.
func (l *Lock) Release() {
	l.state.Store(false)
}

// Budget bounds the number of pause-spin iterations attempted before a
// thread yields to the OS scheduler. Tuned per spec.md §5: ~2500 cycles
// for medium, ~5000 for large, ≤500 for small/tiny.
type Budget int

const (
	// SmallBudget bounds small/tiny size-class lock spinning.
	SmallBudget Budget = 500
	// MediumBudget bounds medium-info lock spinning.
	MediumBudget Budget = 2500
	// LargeBudget bounds the single large-block lock spinning.
	LargeBudget Budget = 5000
)

// SleepCounter is satisfied by internal/stats' per-class contention
// counter; Acquire increments it once per yield, so callers can report
// small_getmem_sleep_count-style statistics (spec.md §4.6).
type SleepCounter interface {
	AddSleep(n uint64)
}

// Acquire spins up to budget pause cycles attempting the CAS, then
// releases the thread to the OS scheduler (spin.Wait's adaptive wait,
// which backs off to a nanosleep) and retries indefinitely. It never
// fails: the retry budget governs when to yield, not whether to give up.
func (l *Lock) Acquire(budget Budget, sleeps SleepCounter) {
	for {
		var sw spin.Wait
		for i := Budget(0); i < budget; i++ {
			if l.TryAcquire() {
				return
			}
			sw.Once()
		}
		// Bounded spin exhausted: give the OS scheduler a chance to run
		// whoever holds the lock.
		spin.Yield()
		if sleeps != nil {
			sleeps.AddSleep(1)
		}
		if l.TryAcquire() {
			return
		}
	}
}
