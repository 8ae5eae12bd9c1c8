package thread

// Context holds the callee-saved register state needed to resume a
// suspended thread: the rv64 calling convention's ra, sp and s0-s11,
// following Nonepf-xv6-in-go__proc.go's Context struct field-for-field
// (this kernel drops that file's gp/tp entries, which back Go's own
// goroutine scheduler — a collaborator this freestanding kernel does not
// have).
type Context struct {
	RA  uintptr
	SP  uintptr
	S0  uintptr
	S1  uintptr
	S2  uintptr
	S3  uintptr
	S4  uintptr
	S5  uintptr
	S6  uintptr
	S7  uintptr
	S8  uintptr
	S9  uintptr
	S10 uintptr
	S11 uintptr
}

// contextSwitch saves the caller's callee-saved registers into old, then
// restores new's and resumes execution there. Has no Go body; implemented
// in start assembly exactly the way Nonepf-xv6-in-go__proc.go's swtch is
// (the "external collaborator" boundary spec.md §1 draws around start
// assembly, generalized here from that file's go:linkname'd swtch to a
// bodiless declaration consistent with kernel/cpu's CSR accessors).
func contextSwitch(old, new *Context)

// trampolineAddr returns the address the boot/spawn path installs as a
// freshly created thread's saved return address, mirroring
// Nonepf-xv6-in-go__proc.go's GetTaskStubAddr — obtaining the address of a
// Go function from assembly is itself the external-collaborator boundary,
// since Go does not expose a portable way to do this from within the
// language on a freestanding target.
func trampolineAddr() uintptr
