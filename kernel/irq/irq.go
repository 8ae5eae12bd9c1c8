// Package irq implements the PLIC-based interrupt manager: platform-level
// interrupt controller setup, per-source enable/priority, claim/complete
// dispatch, and the fatal path for unrecoverable S-mode exceptions.
//
// The package structure follows the teacher's kernel/hal.go "table of
// handlers keyed by a small integer, invoked with an opaque payload"
// shape, generalized from the teacher's fixed exception-vector table
// (kernel/irq/handler_amd64.go's HandleException/HandleExceptionWithCode)
// to the PLIC's dynamic, priority-ordered source table described in
// spec.md §4.3, and grounded on the register layout in
// tinyrange-cc__plic.go and the trap-entry cause dispatch in
// Nonepf-xv6-in-go__trap.go.
package irq

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/mmio"
	"gopherv/kernel/platform"
)

const errModule = "irq"

// PLIC register-block offsets, relative to platform.Config.PLICBase, from
// tinyrange-cc__plic.go.
const (
	priorityBase  = 0x000000
	pendingBase   = 0x001000
	enableBase    = 0x002000
	thresholdBase = 0x200000
	contextStride = 0x1000

	// context 1 is the S-mode context for hart 0 on QEMU virt (context 0
	// is hart 0 M-mode, which this kernel never runs in).
	sContext = 1

	maxPriority = 7
)

// ISR is invoked with the aux pointer recorded at EnableSource time when
// its source's interrupt is claimed.
type ISR func(aux interface{})

type sourceEntry struct {
	isr      ISR
	aux      interface{}
	priority uint32
}

// Manager owns the PLIC source table for a single S-mode hart context.
type Manager struct {
	cfg     platform.Config
	sources []sourceEntry

	timerISR ISR
	timerAux interface{}
}

// global is the process-wide interrupt manager, matching spec.md §7's
// direction that global mutable state like the PLIC ISR table live in a
// centralized, init-before-use struct rather than scattered statics.
var global Manager

// Init resets the PLIC to spec.md §4.3's documented initial state: every
// source at priority 0 (masked), every source-enable bit for the S-mode
// context set, every other context fully disabled. It then unmasks
// external and timer interrupts in sie, leaving sstatus.SIE itself for the
// boot sequence to enable once every device is attached.
func Init(cfg platform.Config) {
	global = Manager{cfg: cfg, sources: make([]sourceEntry, cfg.PLICSourceCount)}

	for src := 0; src < cfg.PLICSourceCount; src++ {
		mmio.Write32(cfg.PLICBase+priorityBase+uintptr(src)*4, 0)
	}

	enableSMode(cfg, allSourcesMask(cfg.PLICSourceCount))
	disableAllOtherContexts(cfg)

	mmio.Write32(cfg.PLICBase+thresholdBase+sContext*contextStride, 0)

	cpu.EnableExternalInterrupts()
	cpu.EnableTimerInterrupts()
}

// EnableSource records isr/aux for src and raises its priority so the PLIC
// forwards its claims to this context. priority is clamped to the
// platform maximum (7 on a standard PLIC).
func EnableSource(src int, priority uint32, isr ISR, aux interface{}) {
	if priority > maxPriority {
		priority = maxPriority
	}
	global.sources[src] = sourceEntry{isr: isr, aux: aux, priority: priority}
	mmio.Write32(global.cfg.PLICBase+priorityBase+uintptr(src)*4, priority)
}

// DisableSource masks src (priority 0) and forgets its ISR.
func DisableSource(src int) {
	global.sources[src] = sourceEntry{}
	mmio.Write32(global.cfg.PLICBase+priorityBase+uintptr(src)*4, 0)
}

// SetTimerHandler installs the direct-dispatch handler for CLINT timer
// interrupts, which spec.md §4.3 counts separately from PLIC-routed
// external interrupts.
func SetTimerHandler(isr ISR, aux interface{}) {
	global.timerISR = isr
	global.timerAux = aux
}

// claimCompleteAddr returns the one register that serves both claim and
// complete: reads claim, writes complete, per the PLIC specification.
func claimCompleteAddr(cfg platform.Config) uintptr {
	return cfg.PLICBase + thresholdBase + sContext*contextStride + 4
}

// HandleTrap is the trap-entry dispatch point: on an external interrupt it
// claims the next pending source, invokes its ISR, and writes the source
// number back to complete; on a timer interrupt it calls the timer
// handler directly; any other scause is an unrecoverable S-mode exception
// and is fatal.
func HandleTrap() {
	switch {
	case cpu.PendingExternalInterrupt():
		handleExternal()
	case cpu.PendingTimerInterrupt():
		if global.timerISR != nil {
			global.timerISR(global.timerAux)
		}
	default:
		fatalException()
	}
}

func handleExternal() {
	addr := claimCompleteAddr(global.cfg)
	src := int(mmio.Read32(addr))
	if src == 0 {
		// Spurious claim: the PLIC returns 0 when no source is pending.
		return
	}
	entry := global.sources[src]
	if entry.isr != nil {
		entry.isr(entry.aux)
	}
	mmio.Write32(addr, uint32(src))
}

// fatalException reports an unknown S-mode exception per spec.md §4.3:
// cause, saved PC and, for access/page faults, the fault address.
func fatalException() {
	cause := cpu.TrapCause()
	pc := cpu.TrapPC()

	msg := "unhandled exception"
	if isFaultCause(cause) {
		kfmt.Printf("scause=%d sepc=%x stval(fault addr)=%x\n", cause, pc, cpu.TrapValue())
	} else {
		kfmt.Printf("scause=%d sepc=%x\n", cause, pc)
	}
	// panic (not kfmt.Panic directly) so the kernel's runtime.gopanic
	// redirect is what ultimately halts — see kernel/kfmt/panic.go.
	panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.Fault, Message: msg})
}

// RISC-V exception causes with a fault address in stval: instruction/load/
// store access fault and instruction/load/store page fault.
func isFaultCause(cause uint64) bool {
	switch cause {
	case 1, 5, 7, 12, 13, 15:
		return true
	default:
		return false
	}
}

func allSourcesMask(count int) []uint32 {
	words := (count + 31) / 32
	mask := make([]uint32, words)
	for i := range mask {
		mask[i] = 0xFFFFFFFF
	}
	return mask
}

func enableSMode(cfg platform.Config, mask []uint32) {
	base := cfg.PLICBase + enableBase + sContext*contextStride
	for i, word := range mask {
		mmio.Write32(base+uintptr(i)*4, word)
	}
}

// disableAllOtherContexts clears the enable words for every context except
// the S-mode one, matching spec.md §4.3's "other contexts fully disabled".
func disableAllOtherContexts(cfg platform.Config) {
	const contextCount = 2 // hart 0 M-mode (0) and S-mode (1) on QEMU virt
	words := (cfg.PLICSourceCount + 31) / 32
	for ctx := 0; ctx < contextCount; ctx++ {
		if ctx == sContext {
			continue
		}
		base := cfg.PLICBase + enableBase + uintptr(ctx)*contextStride
		for w := 0; w < words; w++ {
			mmio.Write32(base+uintptr(w)*4, 0)
		}
	}
}
