// Package mmio provides the volatile memory-mapped I/O primitives every
// device driver in this kernel is built on: the PLIC (kernel/irq), the
// NS8250 UART (device/uart), the Goldfish RTC (device/rtc), and the VirtIO
// transport (device/virtio).
//
// The actual load/store instructions are bodiless, backed by hand-written
// assembly (mmio_riscv64.s, not part of this source tree), the same "external collaborator" boundary the
// teacher package uses for CSR access in kernel/cpu — a plain Go store to
// a *uint32 is not guaranteed to survive the compiler's optimizer or to be
// ordered the way a hardware register requires. The iansmith-mazarin
// kernel's kernel.go mmio_write/mmio_read functions establish the same
// go:linkname-to-assembly pattern for ARM64 MMIO that this package adapts
// to rv64. Each is wrapped by an exported function variable, mirroring the
// teacher's cpuidFn seam but exported so that other packages' tests
// (kernel/irq, device/uart, device/rtc, device/virtio) can substitute a
// fake register file instead of touching real hardware.
package mmio

var (
	// Read32Fn backs Read32. Tests: fake a register file by pointing this
	// at a map lookup.
	Read32Fn = read32
	// Write32Fn backs Write32.
	Write32Fn = write32
	// Read8Fn backs Read8.
	Read8Fn = read8
	// Write8Fn backs Write8.
	Write8Fn = write8
	// Read64Fn backs Read64.
	Read64Fn = read64
	// Write64Fn backs Write64.
	Write64Fn = write64
)

// Read32 performs a volatile 32-bit load from the register at addr.
func Read32(addr uintptr) uint32 { return Read32Fn(addr) }

// Write32 performs a volatile 32-bit store of data to the register at addr.
func Write32(addr uintptr, data uint32) { Write32Fn(addr, data) }

// Read8 performs a volatile 8-bit load, used by the NS8250 UART's
// byte-wide registers.
func Read8(addr uintptr) uint8 { return Read8Fn(addr) }

// Write8 performs a volatile 8-bit store, used by the NS8250 UART's
// byte-wide registers.
func Write8(addr uintptr, data uint8) { Write8Fn(addr, data) }

// Read64 performs a volatile 64-bit load from a doubleword register. The
// Goldfish RTC driver reads its counter as two Read32 halves instead.
func Read64(addr uintptr) uint64 { return Read64Fn(addr) }

// Write64 performs a volatile 64-bit store, used by the CLINT mtimecmp
// cell kernel/timer arms on every sleep-list change.
func Write64(addr uintptr, data uint64) { Write64Fn(addr, data) }
