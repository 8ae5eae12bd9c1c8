package mmio

// The functions below have no Go body; they are implemented in an
// mmio_riscv64.s assembly file, which this source tree does not include,
// as plain load/store instructions to the given address,
// compiled with barriers that prevent the toolchain from reordering or
// eliding them the way it may a normal memory access.

func read32(addr uintptr) uint32
func write32(addr uintptr, data uint32)
func read8(addr uintptr) uint8
func write8(addr uintptr, data uint8)
func read64(addr uintptr) uint64
func write64(addr uintptr, data uint64)
