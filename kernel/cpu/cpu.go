// Package cpu exposes the platform primitives the rest of the kernel builds
// on: CSR access, memory fences, the real-time counter, and the hart-halt
// primitive.
package cpu

const (
	// sstatusSIE is the supervisor interrupt-enable bit of sstatus.
	sstatusSIE = uint64(1) << 1
)

const (
	// sieSEIE/sieSTIE are the external- and timer-interrupt enable bits of
	// the sie CSR that kernel/irq sets during PLIC and timer init.
	sieSEIE = uint64(1) << 9
	sieSTIE = uint64(1) << 5

	// sipSEIP/sipSTIP are the corresponding pending bits of sip, used by
	// kernel/irq's dispatch loop to distinguish an external interrupt from
	// a timer interrupt on trap entry.
	sipSEIP = uint64(1) << 9
	sipSTIP = uint64(1) << 5
)

var (
	// The following indirections mirror the teacher package's cpuidFn seam:
	// each wraps an assembly-backed accessor so tests — in this package and
	// in kernel/irq, which drives its dispatch loop off the sip/scause/sepc/
	// stval accessors below — can substitute a fake implementation instead
	// of touching real CSRs.
	ReadSstatusFn      = rdSstatus
	WriteSstatusFn     = wrSstatus
	ReadSieFn          = rdSie
	WriteSieFn         = wrSie
	ReadSipFn          = rdSip
	WriteStvecFn       = wrStvec
	ReadScauseFn       = rdScause
	ReadSepcFn         = rdSepc
	ReadStvalFn        = rdStval
	ReadTimeFn         = rdTime
	WaitForInterruptFn = wfi
)

// EnableInterrupts sets sstatus.SIE, allowing S-mode interrupts to be taken.
func EnableInterrupts() {
	WriteSstatusFn(ReadSstatusFn() | sstatusSIE)
}

// DisableInterrupts clears sstatus.SIE.
func DisableInterrupts() {
	WriteSstatusFn(ReadSstatusFn() &^ sstatusSIE)
}

// InterruptsEnabled reports whether sstatus.SIE is currently set.
func InterruptsEnabled() bool {
	return ReadSstatusFn()&sstatusSIE != 0
}

// SaveAndDisableInterrupts disables interrupts and returns whether they were
// enabled beforehand, so the caller can restore the previous state with
// RestoreInterrupts. This is the primitive spec.md §5 calls for around any
// ready-list or ISR-touched wait-list update ("interrupt-disable around the
// update, not the whole lock").
func SaveAndDisableInterrupts() bool {
	wasEnabled := InterruptsEnabled()
	DisableInterrupts()
	return wasEnabled
}

// RestoreInterrupts re-enables interrupts if wasEnabled is true. Pair with
// SaveAndDisableInterrupts.
func RestoreInterrupts(wasEnabled bool) {
	if wasEnabled {
		EnableInterrupts()
	}
}

// WaitForInterrupt suspends the hart until the next interrupt arrives.
func WaitForInterrupt() {
	WaitForInterruptFn()
}

// Halt parks the hart forever, waking only to re-check nothing and go back
// to sleep. Used as the terminal action of kfmt.Panic and of thread.Exit
// when the main thread exits.
func Halt() {
	for {
		WaitForInterrupt()
	}
}

// ReadTime returns the current value of the real-time counter (spec.md §6,
// "timer frequency"; ticks are converted to wall time by kernel/timer).
func ReadTime() uint64 {
	return ReadTimeFn()
}

// FenceRW issues a full read/write memory fence.
func FenceRW() {
	fenceRW()
}

// FenceIO issues a memory fence that also orders device I/O accesses. Used
// to bracket VirtIO descriptor/ring ownership transfers (spec.md §5).
func FenceIO() {
	fenceIO()
}

// EnableExternalInterrupts sets sie.SEIE, allowing PLIC-routed external
// interrupts to be taken.
func EnableExternalInterrupts() {
	WriteSieFn(ReadSieFn() | sieSEIE)
}

// EnableTimerInterrupts sets sie.STIE, allowing CLINT timer interrupts to
// be taken.
func EnableTimerInterrupts() {
	WriteSieFn(ReadSieFn() | sieSTIE)
}

// PendingExternalInterrupt reports whether sip.SEIP is currently set.
func PendingExternalInterrupt() bool {
	return ReadSipFn()&sipSEIP != 0
}

// PendingTimerInterrupt reports whether sip.STIP is currently set.
func PendingTimerInterrupt() bool {
	return ReadSipFn()&sipSTIP != 0
}

// SetTrapVector installs addr as the supervisor trap vector base.
func SetTrapVector(addr uintptr) {
	WriteStvecFn(addr)
}

// TrapCause returns the value of the scause CSR captured at trap entry.
func TrapCause() uint64 {
	return ReadScauseFn()
}

// TrapPC returns the value of the sepc CSR (the instruction that trapped).
func TrapPC() uintptr {
	return ReadSepcFn()
}

// TrapValue returns the value of the stval CSR, which for access and page
// faults holds the offending address.
func TrapValue() uintptr {
	return ReadStvalFn()
}
