package thread

import (
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/kfmt"
)

// Lock is the thread manager's recursive mutex, per spec.md §3: owner is
// nil iff the lock is free, count is nonzero iff owner is non-nil, and a
// held lock appears exactly once in its owner's intrusive lock list.
type Lock struct {
	Name string

	owner   *Thread
	count   int
	next    *Lock // next lock held by the same owner
	release Condition
}

// Acquire claims the lock. If it is already free or already held by the
// calling thread, the hold count is incremented (and, on first
// acquisition, the lock is prepended to the caller's lock list);
// otherwise the caller waits on the release condition until the owner
// becomes nil.
func (l *Lock) Acquire() {
	for {
		self := global.current
		if l.owner != nil && l.owner.State == StateExited {
			panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.Fault, Message: "lock held by a dead thread"})
		}
		if l.owner == nil {
			l.owner = self
			l.next = self.locks
			self.locks = l
			l.count++
			return
		}
		if l.owner == self {
			l.count++
			return
		}
		l.release.Wait()
	}
}

// Release gives up one level of the calling thread's hold. The caller
// must be the owner with a positive count; violating this is a
// programmer-error panic, not a recoverable failure. When the count
// reaches zero the lock is unlinked from the owner's lock list, the owner
// is cleared, and the release condition is broadcast.
func (l *Lock) Release() {
	self := global.current
	if l.owner != self || l.count == 0 {
		panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.Fault, Message: "lock release by non-owner"})
	}
	l.count--
	if l.count == 0 {
		unlinkLock(self, l)
		l.owner = nil
		l.release.Broadcast()
	}
}

// forceRelease drops the lock unconditionally, broadcasting its release
// condition, as Exit does for every lock a dying thread still holds.
func (l *Lock) forceRelease() {
	l.count = 0
	l.owner = nil
	l.release.Broadcast()
}

func unlinkLock(self *Thread, l *Lock) {
	if self.locks == l {
		self.locks = l.next
		l.next = nil
		return
	}
	for cur := self.locks; cur != nil; cur = cur.next {
		if cur.next == l {
			cur.next = l.next
			l.next = nil
			return
		}
	}
}
