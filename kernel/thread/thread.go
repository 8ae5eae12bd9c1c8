// Package thread implements the cooperative, single-hart thread manager
// described in spec.md §3/§4.1: a fixed slot table of thread records, a
// ready list, conditions, recursive locks, and the suspend/context-switch
// primitive that ties them together.
//
// The scheduling shape (a slot table of process records plus a single
// swtch primitive) is grounded on Nonepf-xv6-in-go__proc.go's KProc/
// scheduler; this package generalizes that file's simple round-robin
// RUNNABLE scan into the explicit ready-list/condition/recursive-lock
// model spec.md §4.1 specifies, since the teacher's scheduler has neither
// condition variables nor lock ownership tracking.
package thread

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/heap"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mem"
)

const errModule = "thread"

// maxThreads bounds the slot table; spawn fails with OutOfThreads once it
// fills.
const maxThreads = 64

// idleSlot is the fixed slot of the idle thread, excluded from join
// targets per spec.md §4.1.
const idleSlot = 0

// mainSlot is the fixed slot assigned to the thread that calls Init — the
// boot flow already running on its own stack, adopted as a thread record
// rather than spawned.
const mainSlot = 1

// State is a thread's position in the scheduling state machine.
type State int

// The thread states named by spec.md §3.
const (
	StateUninitialized State = iota
	StateWaiting
	StateRunningSelf
	StateReady
	StateExited
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWaiting:
		return "waiting"
	case StateRunningSelf:
		return "running-self"
	case StateReady:
		return "ready"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Args carries up to eight uint64 arguments from spawn to a thread's entry
// function, standing in for the a0-a7 argument registers a real rv64
// startup trampoline would populate.
type Args [8]uint64

// EntryFunc is a thread's top-level function.
type EntryFunc func(Args)

// Thread is one slot-table entry. Fields mirror spec.md §3's Thread type.
type Thread struct {
	id   int
	Name string

	State State
	ctx   Context

	waitCond *Condition
	next     *Thread // intrusive single-list-membership pointer

	stackBase   uintptr
	stackAnchor uintptr

	parent    *Thread
	childExit Condition

	locks *Lock // head of the list of locks this thread owns

	entry EntryFunc
	args  Args
}

// ID returns the thread's slot number.
func (t *Thread) ID() int { return t.id }

// scheduler centralizes every piece of process-wide mutable state named by
// spec.md §7 ("thread slot table, the ready list... centralize them in an
// initialization-phased state struct, not scattered statics").
type scheduler struct {
	slots [maxThreads]Thread
	used  [maxThreads]bool

	readyHead, readyTail *Thread
	current               *Thread
	idle                  *Thread
	main                  *Thread

	// reap is set immediately before every contextSwitch to the thread
	// being switched away from, and consumed immediately after the switch
	// returns — by whichever thread resumes at that point, not necessarily
	// the one that set it. See afterSwitch.
	reap *Thread

	alloc      *heap.Allocator
	stackPages int
}

var global scheduler

// Init bootstraps the thread manager: the calling context becomes the main
// thread (slot mainSlot, state running-self, no stack allocated — it is
// already running on the boot stack), and an idle thread is spawned to
// occupy slot idleSlot. alloc backs thread stack allocation; stackPages is
// the number of pages given to each spawned thread's stack.
func Init(alloc *heap.Allocator, stackPages int) *kernelerr.Error {
	global = scheduler{alloc: alloc, stackPages: stackPages}

	global.slots[mainSlot].id = mainSlot
	global.slots[mainSlot].Name = "main"
	global.slots[mainSlot].State = StateRunningSelf
	global.used[mainSlot] = true
	global.current = &global.slots[mainSlot]
	global.main = global.current

	id, err := spawnLocked("idle", idleEntry, Args{})
	if err != nil {
		return err
	}
	if id != idleSlot {
		panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.Fault, Message: "idle thread did not land in slot 0"})
	}
	global.idle = &global.slots[idleSlot]
	return nil
}

// idleEntry is the idle thread's body: yield whenever another thread is
// ready (the ready-list scan in suspend handles the actual preemption),
// and otherwise park the hart until the next interrupt, per spec.md §4.1.
func idleEntry(_ Args) {
	for {
		Yield()
		cpu.DisableInterrupts()
		if global.readyHead == nil {
			cpu.WaitForInterrupt()
		}
		cpu.EnableInterrupts()
	}
}

// Spawn creates a new thread running entry with args, appended to the
// ready list. Returns OutOfThreads if the slot table is full.
func Spawn(name string, entry EntryFunc, args Args) (int, *kernelerr.Error) {
	cpu.DisableInterrupts()
	id, err := spawnLocked(name, entry, args)
	cpu.EnableInterrupts()
	return id, err
}

func spawnLocked(name string, entry EntryFunc, args Args) (int, *kernelerr.Error) {
	slot := -1
	for i := 0; i < maxThreads; i++ {
		if !global.used[i] {
			slot = i
			break
		}
	}
	if slot == -1 {
		return 0, kernelerr.New(errModule, kernelerr.OutOfThreads, "no free thread slots")
	}

	stackBase, herr := global.alloc.AllocPages(global.stackPages)
	if herr != nil {
		return 0, kernelerr.New(errModule, kernelerr.OutOfMemory, "no memory for thread stack")
	}

	t := &global.slots[slot]
	*t = Thread{
		id:          slot,
		Name:        name,
		State:       StateReady,
		stackBase:   stackBase,
		stackAnchor: stackBase + uintptr(global.stackPages)*uintptr(mem.PageSize),
		parent:      global.current,
		entry:       entry,
		args:        args,
	}
	t.ctx.RA = trampolineAddr()
	t.ctx.SP = t.stackAnchor

	global.used[slot] = true
	appendReady(t)
	return slot, nil
}

// Yield suspends the running thread with state preserved as ready.
func Yield() {
	cpu.DisableInterrupts()
	suspend()
}

// Exit terminates the running thread. For the main thread this is a
// successful halt of the whole system; it never returns either way.
func Exit() {
	cpu.DisableInterrupts()
	self := global.current

	if self == global.main {
		kfmt.Printf("main thread exited; halting\n")
		cpu.Halt()
	}

	for l := self.locks; l != nil; {
		next := l.next
		l.forceRelease()
		l = next
	}
	self.locks = nil
	self.waitCond = nil
	self.State = StateExited

	if self.parent != nil {
		self.parent.childExit.Broadcast()
	}

	suspend()
	panic("thread: suspend returned after Exit")
}

// Join waits for a specific child (tid != 0) or any child (tid == 0) to
// exit, reclaims its slot, and returns its id.
func Join(tid int) (int, *kernelerr.Error) {
	self := global.current

	if tid != 0 {
		if tid <= 0 || tid >= maxThreads || tid == idleSlot || !global.used[tid] || global.slots[tid].parent != self {
			return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "join: not a child of the running thread")
		}
		child := &global.slots[tid]
		for child.State != StateExited {
			self.childExit.Wait()
		}
		reclaim(child)
		return tid, nil
	}

	for {
		if child := firstExitedChild(self); child != nil {
			id := child.id
			reclaim(child)
			return id, nil
		}
		if !hasAnyChild(self) {
			return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "join: no children")
		}
		self.childExit.Wait()
	}
}

func firstExitedChild(self *Thread) *Thread {
	for i := 0; i < maxThreads; i++ {
		if global.used[i] && global.slots[i].parent == self && global.slots[i].State == StateExited {
			return &global.slots[i]
		}
	}
	return nil
}

func hasAnyChild(self *Thread) bool {
	for i := 0; i < maxThreads; i++ {
		if global.used[i] && global.slots[i].parent == self {
			return true
		}
	}
	return false
}

// reclaim frees child's slot: its stack was already released by
// afterSwitch once it stopped running (a thread cannot free the stack it
// is still executing on, so that happens on the far side of the switch
// away from it; this is purely bookkeeping), its children are re-parented
// to child's own parent (the joining thread), and the slot is freed for
// reuse.
func reclaim(child *Thread) {
	newParent := child.parent
	for i := 0; i < maxThreads; i++ {
		if global.used[i] && global.slots[i].parent == child {
			global.slots[i].parent = newParent
		}
	}
	freeStack(child)
	global.used[child.id] = false
	child.parent = nil
	child.State = StateUninitialized
}

func freeStack(t *Thread) {
	if t.stackAnchor == 0 {
		return
	}
	global.alloc.FreeRange(t.stackBase, global.stackPages)
	t.stackBase = 0
	t.stackAnchor = 0
}

// suspend must be called with interrupts disabled. It returns with
// interrupts enabled, at whatever later point this thread is rescheduled.
func suspend() {
	self := global.current
	if self.State == StateRunningSelf {
		self.State = StateReady
		appendReady(self)
	}

	next := popReady()
	global.reap = self
	global.current = next
	next.State = StateRunningSelf

	cpu.EnableInterrupts()
	contextSwitch(&self.ctx, &next.ctx)
	afterSwitch()
}

// afterSwitch runs immediately after every contextSwitch returns,
// regardless of which thread's call frame resumes there (all callers
// share this one function body) — see suspend's reap field.
func afterSwitch() {
	if global.reap != nil && global.reap.State == StateExited {
		freeStack(global.reap)
	}
	global.reap = nil
}

// startTrampoline is the shared startup entry every freshly spawned
// thread's context points its return address at. It runs the thread's
// entry function with its saved arguments and exits when it returns.
func startTrampoline() {
	afterSwitch()
	t := global.current
	t.entry(t.args)
	Exit()
}

// spliceReady appends an already-linked [head, tail] run onto the tail of
// the ready list in one step, as Condition.Broadcast requires.
func spliceReady(head, tail *Thread) {
	if head == nil {
		return
	}
	if global.readyTail == nil {
		global.readyHead, global.readyTail = head, tail
		return
	}
	global.readyTail.next = head
	global.readyTail = tail
}

func appendReady(t *Thread) {
	t.next = nil
	if global.readyTail == nil {
		global.readyHead, global.readyTail = t, t
		return
	}
	global.readyTail.next = t
	global.readyTail = t
}

// popReady removes and returns the ready list's head. An empty ready list
// at suspend time is the "ready list empty" corruption case spec.md §5
// lists as a fatal panic — the idle thread's invariant (always running-self
// or on the ready list) should make this unreachable.
func popReady() *Thread {
	t := global.readyHead
	if t == nil {
		panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.Fault, Message: "ready list empty at suspend"})
	}
	global.readyHead = t.next
	if global.readyHead == nil {
		global.readyTail = nil
	}
	t.next = nil
	return t
}

// Current returns the currently running thread.
func Current() *Thread {
	return global.current
}
