package kfmt

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/kernelerr"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &kernelerr.Error{Module: "rt", Kind: kernelerr.IO, Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console and halts the
// hart. Calls to Panic never return. Panic also works as a redirection
// target for calls to panic() (resolved via runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	var err *kernelerr.Error

	switch t := e.(type) {
	case *kernelerr.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error (%s): %s\n", err.Module, err.Kind.String(), err.Message)
	}
	Printf("*** kernel halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
