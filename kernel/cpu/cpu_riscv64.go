package cpu

// The functions below have no Go body: their implementation lives in a
// start-assembly file supplied by the board's boot collaborator (see
// spec.md §6, "Boot ROM, linker script, start assembly... are external
// collaborators"). This package states only the interfaces the kernel core
// consumes from them, exactly as the teacher package does for its
// assembly-backed port I/O and CR2 accessors.

// rdSstatus returns the value of the sstatus CSR.
func rdSstatus() uint64

// wrSstatus writes v to the sstatus CSR.
func wrSstatus(v uint64)

// rdSie returns the value of the sie (supervisor interrupt enable) CSR.
func rdSie() uint64

// wrSie writes v to the sie CSR.
func wrSie(v uint64)

// rdSip returns the value of the sip (supervisor interrupt pending) CSR.
func rdSip() uint64

// wrSip writes v to the sip CSR.
func wrSip(v uint64)

// wrStvec sets the supervisor trap vector base address.
func wrStvec(addr uintptr)

// rdScause returns the value of the scause CSR.
func rdScause() uint64

// rdSepc returns the value of the sepc CSR.
func rdSepc() uintptr

// rdStval returns the value of the stval CSR.
func rdStval() uintptr

// rdTime returns the value of the time CSR (or, under an SBI shim that
// traps it, the CLINT mtime cell it is backed by).
func rdTime() uint64

// wfi executes the wait-for-interrupt instruction, suspending the hart
// until the next interrupt.
func wfi()

// fenceRW issues a full read/write memory fence.
func fenceRW()

// fenceIO issues a memory fence that also orders device I/O accesses,
// used around VirtIO descriptor publication (spec.md §4.5, §5).
func fenceIO()
