package virtio

import (
	"testing"

	"gopherv/kernel/heap"
	"gopherv/kernel/mmio"
	"gopherv/kernel/platform"
)

const testSlot = 0

func fakeDevice(t *testing.T, deviceFeatures [2]uint32) (map[uintptr]uint32, platform.Config) {
	t.Helper()
	cfg := platform.QEMUVirt
	base := cfg.VirtIOAddr(testSlot)

	regs := map[uintptr]uint32{
		base + regMagic:       0x74726976,
		base + regQueueNumMax: 128,
	}
	featSel := 0

	origR32, origW32 := mmio.Read32Fn, mmio.Write32Fn
	mmio.Read32Fn = func(addr uintptr) uint32 {
		if addr == base+regDeviceFeatures {
			return deviceFeatures[featSel]
		}
		return regs[addr]
	}
	mmio.Write32Fn = func(addr uintptr, v uint32) {
		if addr == base+regDeviceFeaturesSel {
			featSel = int(v)
			return
		}
		regs[addr] = v
	}
	t.Cleanup(func() { mmio.Read32Fn, mmio.Write32Fn = origR32, origW32 })
	return regs, cfg
}

func TestOpenFailsWhenRequiredFeatureMissing(t *testing.T) {
	_, cfg := fakeDevice(t, [2]uint32{0, 0})

	var alloc heap.Allocator
	const ramStart = 0x91000000
	alloc.Init(ramStart, ramStart+1024*1024)

	_, err := Open(cfg, testSlot, [2]uint32{FeatureIndirectDesc, 0}, [2]uint32{}, 3, &alloc)
	if err == nil {
		t.Fatal("expected open to fail when the device lacks a required feature")
	}
}

func TestOpenSucceedsAndAttachesQueue(t *testing.T) {
	regs, cfg := fakeDevice(t, [2]uint32{FeatureIndirectDesc, FeatureRingReset})

	var alloc heap.Allocator
	const ramStart = 0x92000000
	alloc.Init(ramStart, ramStart+4*1024*1024)

	tr, err := Open(cfg, testSlot, [2]uint32{FeatureIndirectDesc, FeatureRingReset}, [2]uint32{}, 3, &alloc)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if tr.QueueSize() == 0 {
		t.Fatal("expected a nonzero negotiated queue size")
	}
	base := cfg.VirtIOAddr(testSlot)
	if regs[base+regQueueReady] != 1 {
		t.Fatal("expected QueueReady set after attach")
	}
	if regs[base+regStatus]&statusDriverOK == 0 {
		t.Fatal("expected DRIVER_OK set after a successful open")
	}
}

func TestNextFreeHeadAdvancesRoundRobin(t *testing.T) {
	_, cfg := fakeDevice(t, [2]uint32{FeatureIndirectDesc, FeatureRingReset})

	var alloc heap.Allocator
	const ramStart = 0x93000000
	alloc.Init(ramStart, ramStart+4*1024*1024)

	tr, _ := Open(cfg, testSlot, [2]uint32{FeatureIndirectDesc, FeatureRingReset}, [2]uint32{}, 3, &alloc)

	first := tr.NextFreeHead(3)
	second := tr.NextFreeHead(3)
	if second != (first+3)%tr.QueueSize() {
		t.Fatalf("expected heads 3 apart mod queue size; got %d then %d", first, second)
	}
}
