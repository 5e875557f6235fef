// Package lockfree implements the single-CAS free stack used to defer
// frees when a size-class or medium-info lock can't be acquired
// immediately (spec "free path": push onto the lock-less free stack and
// return; the next lock holder drains it).
//
// Push is linearizable: one CAS on the head. Drain is not linearizable: a
// single atomic swap-to-nil detaches the whole list, which the lock
// holder then walks and re-processes one element at a time under its own
// lock. No ABA protection is required — the stack is only ever drained
// under the normal lock of the owning class, and an element pushed onto
// it is a block the pusher just freed; it is never reused until drained.
package lockfree

import (
	"sync/atomic"
	"unsafe"
)

// Stack is an intrusive singly-linked stack: the "next" link is stored in
// the first machine word of the pushed block itself (the block is free,
// so its body is available to borrow as link storage), exactly as
// spec.md's design notes prescribe — no separate node allocation.
type Stack struct {
	head atomic.Pointer[byte]
}

func nextSlot(p unsafe.Pointer) *unsafe.Pointer {
	return (*unsafe.Pointer)(p)
}

// Push adds p to the stack. Safe to call from any number of goroutines
// concurrently, including concurrently with Drain.
func (s *Stack) Push(p unsafe.Pointer) {
	for {
		old := s.head.Load()
		*nextSlot(p) = unsafe.Pointer(old)
		if s.head.CompareAndSwap(old, (*byte)(p)) {
			return
		}
	}
}

// Drain detaches the entire list in one atomic swap and returns its head;
// walk it with Next until nil. Must only be called while holding the
// owning structure's lock.
func (s *Stack) Drain() unsafe.Pointer {
	old := s.head.Swap(nil)
	return unsafe.Pointer(old)
}

// Next returns the link stored at p by a prior Push.
func Next(p unsafe.Pointer) unsafe.Pointer {
	return *nextSlot(p)
}

// Empty reports whether the stack currently has no pending elements. This
// is a hint only — another goroutine may push between the check and the
// caller's next action.
func (s *Stack) Empty() bool {
	return s.head.Load() == nil
}
