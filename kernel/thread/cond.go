package thread

import "gopherv/kernel/cpu"

// Condition is a named wait list of threads, per spec.md §3: every member
// has State = StateWaiting and waitCond pointing back at this condition.
type Condition struct {
	Name string
	head *Thread
	tail *Thread
}

// enqueue appends t to the wait list under the caller's interrupts-off
// section, marking it waiting on this condition.
func (c *Condition) enqueue(t *Thread) {
	t.State = StateWaiting
	t.waitCond = c
	t.next = nil
	if c.tail == nil {
		c.head, c.tail = t, t
		return
	}
	c.tail.next = t
	c.tail = t
}

// Wait suspends the running thread on this condition. The caller must be
// in state = running-self. Wait disables interrupts across the enqueue and
// suspend, and returns with interrupts in whatever state they were in when
// called (matching cpu.SaveAndDisableInterrupts/RestoreInterrupts's
// contract).
func (c *Condition) Wait() {
	wasEnabled := cpu.SaveAndDisableInterrupts()
	c.enqueue(global.current)
	suspend()
	// suspend always returns with interrupts enabled.
	if !wasEnabled {
		cpu.DisableInterrupts()
	}
}

// Broadcast wakes every thread on this condition's wait list: each is
// unlinked, its waitCond cleared, its state set to ready, and the whole
// batch is spliced onto the tail of the ready list. Broadcast never
// switches to any of them itself.
func (c *Condition) Broadcast() {
	wasEnabled := cpu.SaveAndDisableInterrupts()

	var head, tail *Thread
	for t := c.head; t != nil; {
		next := t.next
		t.waitCond = nil
		t.State = StateReady
		t.next = nil
		if tail == nil {
			head, tail = t, t
		} else {
			tail.next = t
			tail = t
		}
		t = next
	}
	c.head, c.tail = nil, nil

	spliceReady(head, tail)
	cpu.RestoreInterrupts(wasEnabled)
}
