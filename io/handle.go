// Package io implements spec.md §4.8's uniform I/O handle: a
// close/read/write/cntl vtable plus a reference count, shared by every
// consumer that reads bytes from a backing store through a single
// interface (fs.File, the console UART, the ELF loader's input).
//
// Grounded on the teacher's device.Driver interface-table idiom
// (device/driver.go), generalized from one fixed method set per device
// class to a per-field function vtable so that, per spec.md §4.8, any
// individual operation (not just the whole handle) can be absent and
// independently rejected with `not-supported`.
package io

import "gopherv/kernel/kernelerr"

const errModule = "io"

// CntlOp names a control operation a Handle's Cntl function may support.
type CntlOp int

// The control operations spec.md §6 lists.
const (
	CntlGetEnd CntlOp = iota
	CntlSetEnd
	CntlGetPosition
	CntlSetPosition
	CntlMMap
)

// VTable is the set of backing operations a Handle dispatches to. Any
// field left nil makes that operation return `not-supported`.
type VTable struct {
	Close func()
	Read  func(buf []byte) (int, *kernelerr.Error)
	Write func(buf []byte) (int, *kernelerr.Error)
	Cntl  func(op CntlOp, arg uint64) (uint64, *kernelerr.Error)
}

// Handle is a reference-counted handle over a VTable.
type Handle struct {
	ops      VTable
	refcount int
}

// New wraps ops in a Handle with an initial reference count of one.
func New(ops VTable) *Handle {
	return &Handle{ops: ops, refcount: 1}
}

// Retain increments the reference count and returns h, so a second owner
// can share the same handle without calling New again.
func (h *Handle) Retain() *Handle {
	h.refcount++
	return h
}

// Close decrements the reference count and invokes the backing close only
// once it reaches zero.
func (h *Handle) Close() {
	h.refcount--
	if h.refcount == 0 && h.ops.Close != nil {
		h.ops.Close()
	}
}

// Read forwards to the backing read operation, or reports `not-supported`
// if none is installed.
func (h *Handle) Read(buf []byte) (int, *kernelerr.Error) {
	if h.ops.Read == nil {
		return 0, kernelerr.New(errModule, kernelerr.NotSupported, "read not supported")
	}
	return h.ops.Read(buf)
}

// Write forwards to the backing write operation, or reports
// `not-supported` if none is installed.
func (h *Handle) Write(buf []byte) (int, *kernelerr.Error) {
	if h.ops.Write == nil {
		return 0, kernelerr.New(errModule, kernelerr.NotSupported, "write not supported")
	}
	return h.ops.Write(buf)
}

// Cntl forwards to the backing control operation, or reports
// `not-supported` if none is installed.
func (h *Handle) Cntl(op CntlOp, arg uint64) (uint64, *kernelerr.Error) {
	if h.ops.Cntl == nil {
		return 0, kernelerr.New(errModule, kernelerr.NotSupported, "cntl not supported")
	}
	return h.ops.Cntl(op, arg)
}

// Null is the shared handle whose read and write always fail with
// `not-supported`, per spec.md §4.8.
var Null = New(VTable{})
