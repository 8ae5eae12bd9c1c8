// Package kmain wires every package in this module together into the
// boot sequence spec.md §2 describes: platform init, interrupt manager
// init, device manager init, thread manager init, heap init, device
// attach, enable interrupts, mount the file system, load the init
// executable, and jump to its entry point.
//
// Grounded on the teacher's kernel/kmain/kmain.go and top-level
// kernel/kmain.go: a single non-returning Kmain entered from boot
// assembly, a sequential if/else-if chain of phase calls that panics at
// the first failure, and a progress message per phase. This kernel's
// phases differ (no multiboot, no VMM, no Go-runtime bootstrap — this
// board has a fixed MMIO layout and never needs mm/vmm's paging) but the
// shape — linear, fail-fast, logged — is the same.
package kmain

import (
	"errors"
	"unsafe"

	"gopherv/device"
	"gopherv/device/uart"
	"gopherv/device/virtio/block"
	"gopherv/elf"
	"gopherv/fs"
	"gopherv/fs/bcache"
	"gopherv/io"
	"gopherv/kernel/cpu"
	"gopherv/kernel/diag"
	"gopherv/kernel/hal"
	"gopherv/kernel/heap"
	"gopherv/kernel/irq"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/platform"
	"gopherv/kernel/thread"
	"gopherv/kernel/timer"
)

// logPrefix tags every boot log line once the console is attached, via
// kfmt.PrefixWriter.
const logPrefix = "[gopherv] "

// threadStackPages is the page count handed to thread.Init for every
// spawned thread's stack.
const threadStackPages = 4

// initPath is the root-flat name of the program kmain loads and jumps
// to once boot is otherwise complete.
const initPath = "init"

// Kmain is the only Go symbol the boot assembly calls. kernelEnd is the
// first address above the loaded kernel image, supplied by that assembly
// the same way the teacher's rt0 passes kernelStart/kernelEnd into its
// own Kmain. Kmain never returns; reaching its end is a boot-sequencing
// bug and panics rather than falling off into undefined code.
//
//go:noinline
func Kmain(kernelEnd uintptr) {
	cfg := platform.QEMUVirt
	kfmt.Printf("booting on the QEMU virt board\n")

	irq.Init(cfg)
	timer.Init(cfg)
	kfmt.Printf("interrupt manager initialized\n")

	device.Reset()
	kfmt.Printf("device manager initialized\n")

	var alloc heap.Allocator
	if err := alloc.Init(kernelEnd, cfg.RAMEnd); err != nil {
		panic(err)
	}
	if err := thread.Init(&alloc, threadStackPages); err != nil {
		panic(err)
	}
	kfmt.Printf("thread manager and heap initialized: %d pages free\n", alloc.FreePageCount())

	hal.AttachAll(cfg, &alloc)

	uartDev := lookupUART()
	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: consoleLogWriter{uartDev}, Prefix: []byte(logPrefix)})
	kfmt.Printf("console attached, replaying buffered boot log\n")

	cpu.EnableInterrupts()
	kfmt.Printf("interrupts enabled\n")

	cache, root := mountRoot(&alloc)
	if _, err := diag.Spawn(cache); err != nil {
		panic(err)
	}

	entry := loadInit(root)
	console := io.New(io.VTable{Read: uartDev.Recv, Write: uartDev.Send})

	kfmt.Printf("jumping to init's entry point\n")
	entry(uintptr(unsafe.Pointer(console)))

	panic(&kernelerr.Error{Module: "kmain", Kind: kernelerr.Fault, Message: "init's entry point returned"})
}

// mountRoot locates the first attached storage device, builds a block
// cache over it, and mounts the root-flat file system spec.md §4.7
// describes.
func mountRoot(alloc *heap.Allocator) (*bcache.Cache, *fs.FileSystem) {
	names := device.Names(device.ClassStorage)
	if len(names) == 0 {
		panic(&kernelerr.Error{Module: "kmain", Kind: kernelerr.NoSuchEntry, Message: "no storage device attached"})
	}
	blk, ok := device.Lookup(device.ClassStorage, names[0]).(*block.Device)
	if !ok {
		panic(&kernelerr.Error{Module: "kmain", Kind: kernelerr.Fault, Message: "storage device does not implement the block backing interface"})
	}

	var cache bcache.Cache
	if err := cache.Init(alloc, blk, fs.BlockSize); err != nil {
		panic(err)
	}

	root, err := fs.Mount(&cache, "/")
	if err != nil {
		panic(err)
	}
	kfmt.Printf("file system mounted on %s\n", names[0])
	return &cache, root
}

// loadInit opens initPath off the already-mounted root and loads it
// through the ELF loader, per spec.md §2's boot sequence.
func loadInit(root *fs.FileSystem) elf.EntryPoint {
	f, err := root.Open(initPath)
	if err != nil {
		panic(err)
	}

	entry, err := elf.Load(f.Handle)
	if err != nil {
		panic(err)
	}
	return entry
}

// lookupUART locates the first attached UART, used both as the boot log's
// console sink and, later, as the uniform I/O handle passed to init.
func lookupUART() *uart.Device {
	names := device.Names(device.ClassSerial)
	if len(names) == 0 {
		panic(&kernelerr.Error{Module: "kmain", Kind: kernelerr.NoSuchEntry, Message: "no serial device attached"})
	}
	uartDev, ok := device.Lookup(device.ClassSerial, names[0]).(*uart.Device)
	if !ok {
		panic(&kernelerr.Error{Module: "kmain", Kind: kernelerr.Fault, Message: "serial device does not implement the console handle interface"})
	}
	return uartDev
}

// consoleLogWriter adapts a uart.Device's Send to the stdlib io.Writer
// kfmt.SetOutputSink expects, bridging the device layer's *kernelerr.Error
// returns to the plain error kfmt.PrefixWriter's Sink requires.
type consoleLogWriter struct {
	dev *uart.Device
}

func (w consoleLogWriter) Write(p []byte) (int, error) {
	n, err := w.dev.Send(p)
	if err != nil {
		return n, errors.New(err.Message)
	}
	return n, nil
}
