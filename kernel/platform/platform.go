// Package platform centralizes the board-configuration constants spec.md
// §6 requires the implementation to be supplied: PLIC/UART/RTC/VirtIO MMIO
// bases and strides, per-source IRQ numbers, RAM end, and timer frequency.
//
// This mirrors how the teacher package centralizes arch constants in
// kernel/mem/constants_amd64.go, generalized from "one struct of amd64
// paging constants" to "one struct per board" since, unlike x86, an rv64
// target has no BIOS/ACPI table to discover this information from at
// runtime — every value here is a compile-time property of the board the
// kernel is linked for.
package platform

// Config describes one board's fixed MMIO layout.
type Config struct {
	// PLICBase is the base address of the platform-level interrupt
	// controller's register window.
	PLICBase uintptr
	// PLICSourceCount is the number of interrupt sources the PLIC
	// multiplexes (source 0 is reserved and never used).
	PLICSourceCount int

	// UART0Base is the base address of the first UART's register window.
	UART0Base uintptr
	// UARTStride is the address distance between consecutive UART
	// instances' register windows.
	UARTStride uintptr
	// UARTCount is the number of UART instances present on the board.
	UARTCount int
	// UARTIRQ maps UART instance index to PLIC source number.
	UARTIRQ []int

	// RTCBase is the base address of the Goldfish RTC's register window.
	RTCBase uintptr

	// VirtIOBase is the base address of the first VirtIO MMIO slot.
	VirtIOBase uintptr
	// VirtIOStride is the address distance between consecutive VirtIO
	// MMIO slots.
	VirtIOStride uintptr
	// VirtIOCount is the number of VirtIO MMIO slots present.
	VirtIOCount int
	// VirtIOIRQ maps VirtIO slot index to PLIC source number.
	VirtIOIRQ []int

	// CLINTBase is the base address of the core-local interruptor, whose
	// mtime/mtimecmp cells back kernel/timer's tick source.
	CLINTBase uintptr

	// RAMStart and RAMEnd bound the RAM region kernel/heap manages.
	RAMStart uintptr
	RAMEnd   uintptr

	// TimerFrequency is the number of real-time-counter ticks per second.
	TimerFrequency uint64
}

// CLINTMTime returns the address of the mtime cell.
func (c Config) CLINTMTime() uintptr {
	return c.CLINTBase + 0xBFF8
}

// CLINTMTimeCmp returns the address of the mtimecmp cell for the given hart.
func (c Config) CLINTMTimeCmp(hart int) uintptr {
	return c.CLINTBase + 0x4000 + 8*uintptr(hart)
}

// UARTAddr returns the register-window base address for UART instance i.
func (c Config) UARTAddr(i int) uintptr {
	return c.UART0Base + uintptr(i)*c.UARTStride
}

// VirtIOAddr returns the register-window base address for VirtIO slot i.
func (c Config) VirtIOAddr(i int) uintptr {
	return c.VirtIOBase + uintptr(i)*c.VirtIOStride
}

// QEMUVirt is the "-machine virt" board layout used by the seed scenarios
// in spec.md §8, grounded on the physical memory map documented in
// Nonepf-xv6-in-go's memlayout.go (UART0, VIRTIO0, PLIC, CLINT) and the
// PLIC register-block offsets in tinyrange-cc's plic.go.
var QEMUVirt = Config{
	PLICBase:        0x0c000000,
	PLICSourceCount: 128,

	UART0Base:  0x10000000,
	UARTStride: 0x100,
	UARTCount:  1,
	UARTIRQ:    []int{10},

	RTCBase: 0x101000,

	VirtIOBase:   0x10001000,
	VirtIOStride: 0x1000,
	VirtIOCount:  8,
	VirtIOIRQ:    []int{1, 2, 3, 4, 5, 6, 7, 8},

	CLINTBase: 0x2000000,

	RAMStart: 0x80000000,
	RAMEnd:   0x80000000 + 128*1024*1024,

	TimerFrequency: 10000000,
}
