package hal

import (
	"testing"

	"gopherv/kernel/heap"
	"gopherv/kernel/irq"
	"gopherv/kernel/mmio"
	"gopherv/kernel/platform"
	"gopherv/kernel/thread"

	"gopherv/device"
	"gopherv/device/virtio"
)

// fakeBoard describes a one-UART, two-VirtIO-slot board: slot 0 is a block
// device, slot 1 an entropy device, matching the two concrete drivers
// AttachAll knows how to dispatch to.
func fakeBoard(t *testing.T) platform.Config {
	t.Helper()
	cfg := platform.QEMUVirt
	cfg.UARTCount = 1
	cfg.UARTIRQ = []int{10}
	cfg.VirtIOCount = 2
	cfg.VirtIOIRQ = []int{1, 2}

	regs := map[uintptr]uint32{}
	blockBase := cfg.VirtIOAddr(0)
	entropyBase := cfg.VirtIOAddr(1)
	regs[blockBase+0x000] = 0x74726976
	regs[blockBase+0x008] = virtio.DeviceIDBlock
	regs[blockBase+0x034] = 128
	regs[blockBase+0x100] = 8192 // capacity low word
	regs[entropyBase+0x000] = 0x74726976
	regs[entropyBase+0x008] = virtio.DeviceIDEntropy
	regs[entropyBase+0x034] = 128

	origR32, origW32 := mmio.Read32Fn, mmio.Write32Fn
	origR8, origW8 := mmio.Read8Fn, mmio.Write8Fn
	mmio.Read32Fn = func(addr uintptr) uint32 { return regs[addr] }
	mmio.Write32Fn = func(addr uintptr, v uint32) { regs[addr] = v }
	mmio.Read8Fn = func(uintptr) uint8 { return 0 }
	mmio.Write8Fn = func(uintptr, uint8) {}
	t.Cleanup(func() {
		mmio.Read32Fn, mmio.Write32Fn = origR32, origW32
		mmio.Read8Fn, mmio.Write8Fn = origR8, origW8
	})

	irq.Init(cfg)
	device.Reset()

	var alloc heap.Allocator
	const ramStart = 0x96000000
	if err := alloc.Init(ramStart, ramStart+4*1024*1024); err != nil {
		t.Fatalf("heap init failed: %v", err)
	}
	if err := thread.Init(&alloc, 1); err != nil {
		t.Fatalf("thread init failed: %v", err)
	}

	AttachAll(cfg, &alloc)
	return cfg
}

func TestAttachAllRegistersRTCAndUART(t *testing.T) {
	fakeBoard(t)

	if device.Lookup(device.ClassRTC, "rtc0") == nil {
		t.Fatal("expected rtc0 to be registered")
	}
	if device.Lookup(device.ClassSerial, "uart0") == nil {
		t.Fatal("expected uart0 to be registered")
	}
}

func TestAttachAllDispatchesVirtIOSlotsByDeviceID(t *testing.T) {
	fakeBoard(t)

	if device.Lookup(device.ClassStorage, "virtio0") == nil {
		t.Fatal("expected the block-id slot to register under storage")
	}
	if device.Lookup(device.ClassEntropy, "virtio1") == nil {
		t.Fatal("expected the entropy-id slot to register under entropy")
	}
	if device.Lookup(device.ClassEntropy, "virtio0") != nil {
		t.Fatal("expected the block slot not to also register as entropy")
	}
}
