// Package virtio implements the split-virtqueue transport shared by
// device/virtio/block and device/virtio/entropy: MMIO register access,
// the driver-init feature-negotiation handshake, and virtqueue
// allocation/attachment, per spec.md §4.5's first paragraph.
//
// No example repo in the corpus carries a VirtIO driver, so the register
// offsets and descriptor/ring memory layout here follow the VirtIO 1.1
// specification's split-virtqueue and MMIO-transport chapters literally,
// the same way kernel/irq follows the PLIC specification for register
// offsets it has no corpus analog for.
package virtio

import (
	"unsafe"

	"gopherv/kernel/cpu"
	"gopherv/kernel/heap"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/mem"
	"gopherv/kernel/mmio"
	"gopherv/kernel/platform"
)

const errModule = "virtio"

// VirtIO MMIO transport register offsets (version 2, non-legacy).
const (
	regMagic            = 0x000
	regVersion          = 0x004
	regDeviceID         = 0x008
	regDeviceFeatures   = 0x010
	regDeviceFeaturesSel = 0x014
	regDriverFeatures   = 0x020
	regDriverFeaturesSel = 0x024
	regQueueSel         = 0x030
	regQueueNumMax      = 0x034
	regQueueNum         = 0x038
	regQueueReady       = 0x044
	regQueueNotify      = 0x050
	regInterruptStatus  = 0x060
	regInterruptACK     = 0x064
	regStatus           = 0x070
	regQueueDescLow     = 0x080
	regQueueDescHigh    = 0x084
	regQueueDriverLow   = 0x090 // available ring
	regQueueDriverHigh  = 0x094
	regQueueDeviceLow   = 0x0a0 // used ring
	regQueueDeviceHigh  = 0x0a4
)

// Device status bits, per the VirtIO driver-init handshake.
const (
	statusAcknowledge = 1 << 0
	statusDriver      = 1 << 1
	statusDriverOK    = 1 << 2
	statusFeaturesOK  = 1 << 3
	statusFailed      = 1 << 7
)

// Required/optional feature bits this kernel's drivers negotiate,
// addressed as (word, bit) pairs since the device exposes features as two
// 32-bit selectable windows into a 64-bit space.
const (
	FeatureIndirectDesc = 1 << 28 // word 0, bit 28: VIRTIO_F_INDIRECT_DESC
	FeatureRingReset    = 1 << 8  // word 1, bit 8 (global bit 40): VIRTIO_F_RING_RESET
	FeatureBlockSize    = 1 << 6  // word 0, bit 6: VIRTIO_BLK_F_BLK_SIZE
	FeatureTopology     = 1 << 10 // word 0, bit 10: VIRTIO_BLK_F_TOPOLOGY
)

// DeviceID values this kernel recognizes while probing a slot.
const (
	DeviceIDBlock   = 2
	DeviceIDEntropy = 4
)

// Descriptor flags.
const (
	descFlagNext     = 1 << 0
	descFlagWrite    = 1 << 1 // device-writable (DEVICE_WRITE per spec.md wording)
	descFlagIndirect = 1 << 2
)

const descSize = 16  // sizeof(struct virtq_desc)
const usedElemSize = 8 // sizeof(struct virtq_used_elem)

// Transport is one attached VirtIO MMIO slot with a single queue (index
// 0), which is all either driver in this kernel uses.
type Transport struct {
	base  uintptr
	irq   int
	alloc *heap.Allocator

	queueSize int
	descBase  uintptr
	availBase uintptr
	usedBase  uintptr

	lastUsedIdx uint16
	freeCursor  int
}

// ProbeDeviceID reads the device-id register of the VirtIO slot at
// cfg.VirtIOAddr(slot) without attaching it, so hal.AttachAll can decide
// which concrete driver to open.
func ProbeDeviceID(cfg platform.Config, slot int) uint32 {
	return mmio.Read32(cfg.VirtIOAddr(slot) + regDeviceID)
}

// Open resets the device, negotiates features (failing if any bit in
// required is unsupported; accepting whichever bits in optional the
// device also advertises), and attaches queue 0 sized to
// min(device max, 128, ticketLimit*maxDescriptors).
func Open(cfg platform.Config, slot int, required, optional [2]uint32, maxDescriptors int, alloc *heap.Allocator) (*Transport, *kernelerr.Error) {
	base := cfg.VirtIOAddr(slot)
	if mmio.Read32(base+regMagic) != 0x74726976 {
		return nil, kernelerr.New(errModule, kernelerr.InvalidArgument, "no VirtIO device at slot")
	}

	t := &Transport{base: base, irq: cfg.VirtIOIRQ[slot], alloc: alloc}

	mmio.Write32(base+regStatus, 0)
	mmio.Write32(base+regStatus, statusAcknowledge)
	mmio.Write32(base+regStatus, statusAcknowledge|statusDriver)

	devFeatures, err := negotiateFeatures(base, required, optional)
	if err != nil {
		mmio.Write32(base+regStatus, statusFailed)
		return nil, err
	}
	_ = devFeatures

	mmio.Write32(base+regStatus, statusAcknowledge|statusDriver|statusFeaturesOK)
	if mmio.Read32(base+regStatus)&statusFeaturesOK == 0 {
		mmio.Write32(base+regStatus, statusFailed)
		return nil, kernelerr.New(errModule, kernelerr.NotSupported, "device rejected feature set")
	}

	if err := t.attachQueue(maxDescriptors); err != nil {
		mmio.Write32(base+regStatus, statusFailed)
		return nil, err
	}

	mmio.Write32(base+regStatus, statusAcknowledge|statusDriver|statusFeaturesOK|statusDriverOK)
	return t, nil
}

func negotiateFeatures(base uintptr, required, optional [2]uint32) ([2]uint32, *kernelerr.Error) {
	var device [2]uint32
	for word := 0; word < 2; word++ {
		mmio.Write32(base+regDeviceFeaturesSel, uint32(word))
		device[word] = mmio.Read32(base + regDeviceFeatures)
	}

	for word := 0; word < 2; word++ {
		if required[word]&^device[word] != 0 {
			return device, kernelerr.New(errModule, kernelerr.NotSupported, "device missing a required feature")
		}
	}

	var driver [2]uint32
	for word := 0; word < 2; word++ {
		driver[word] = required[word] | (optional[word] & device[word])
		mmio.Write32(base+regDriverFeaturesSel, uint32(word))
		mmio.Write32(base+regDriverFeatures, driver[word])
	}
	return device, nil
}

// ticketLimit is the heap-derived bound spec.md §4.5 calls out
// ("min(device's max, 128, heap-derived ticket limit)"). Fixed at 64:
// enough in-flight requests for the block cache's slot count without
// dedicating an unreasonable share of early-boot heap to queue memory.
const ticketLimit = 64

func (t *Transport) attachQueue(maxDescriptors int) *kernelerr.Error {
	mmio.Write32(t.base+regQueueSel, 0)

	size := int(mmio.Read32(t.base + regQueueNumMax))
	if size > 128 {
		size = 128
	}
	if size > ticketLimit*maxDescriptors {
		size = ticketLimit * maxDescriptors
	}
	if size == 0 {
		return kernelerr.New(errModule, kernelerr.NotSupported, "device advertises a zero-length queue")
	}
	t.queueSize = size

	descPages := pagesFor(size * descSize)
	availPages := pagesFor(4 + size*2 + 2)
	usedPages := pagesFor(4 + size*usedElemSize + 2)

	descAddr, herr := t.alloc.AllocPages(descPages)
	if herr != nil {
		return kernelerr.New(errModule, kernelerr.OutOfMemory, "no memory for descriptor table")
	}
	availAddr, herr := t.alloc.AllocPages(availPages)
	if herr != nil {
		return kernelerr.New(errModule, kernelerr.OutOfMemory, "no memory for available ring")
	}
	usedAddr, herr := t.alloc.AllocPages(usedPages)
	if herr != nil {
		return kernelerr.New(errModule, kernelerr.OutOfMemory, "no memory for used ring")
	}

	zeroPages(descAddr, descPages)
	zeroPages(availAddr, availPages)
	zeroPages(usedAddr, usedPages)

	t.descBase, t.availBase, t.usedBase = descAddr, availAddr, usedAddr

	mmio.Write32(t.base+regQueueNum, uint32(size))
	mmio.Write32(t.base+regQueueDescLow, uint32(descAddr))
	mmio.Write32(t.base+regQueueDescHigh, uint32(descAddr>>32))
	mmio.Write32(t.base+regQueueDriverLow, uint32(availAddr))
	mmio.Write32(t.base+regQueueDriverHigh, uint32(availAddr>>32))
	mmio.Write32(t.base+regQueueDeviceLow, uint32(usedAddr))
	mmio.Write32(t.base+regQueueDeviceHigh, uint32(usedAddr>>32))
	mmio.Write32(t.base+regQueueReady, 1)
	return nil
}

func pagesFor(bytes int) int {
	return (bytes + mem.PageSize - 1) / mem.PageSize
}

func zeroPages(addr uintptr, pages int) {
	n := pages * mem.PageSize
	for i := 0; i < n; i++ {
		*(*byte)(unsafe.Pointer(addr + uintptr(i))) = 0
	}
}

// IRQ returns the PLIC source number this transport's notifications
// arrive on.
func (t *Transport) IRQ() int { return t.irq }

// QueueSize returns the negotiated queue length.
func (t *Transport) QueueSize() int { return t.queueSize }

// descAddr returns the address of the descriptor-table entry at index i.
func (t *Transport) descAddr(i int) uintptr {
	return t.descBase + uintptr(i)*descSize
}

// SetDesc populates descriptor i.
func (t *Transport) SetDesc(i int, addr uintptr, length uint32, write, hasNext bool, next uint16) {
	flags := uint16(0)
	if write {
		flags |= descFlagWrite
	}
	if hasNext {
		flags |= descFlagNext
	}
	p := t.descAddr(i)
	*(*uint64)(unsafe.Pointer(p)) = uint64(addr)
	*(*uint32)(unsafe.Pointer(p + 8)) = length
	*(*uint16)(unsafe.Pointer(p + 12)) = flags
	*(*uint16)(unsafe.Pointer(p + 14)) = next
}

// NextFreeHead returns the next round-robin descriptor head and advances
// the cursor by n (the request's descriptor count), per spec.md §4.5
// ("never reclaimed — the queue length must exceed the maximum in-flight
// requests").
func (t *Transport) NextFreeHead(n int) int {
	head := t.freeCursor % t.queueSize
	t.freeCursor += n
	return head
}

// PublishAvailable appends head to the available ring and notifies the
// device, bracketing the index update with full fences per spec.md §5's
// DMA-ownership-transfer rule.
func (t *Transport) PublishAvailable(head int) {
	idxAddr := t.availBase + 2
	idx := *(*uint16)(unsafe.Pointer(idxAddr))
	slot := t.availBase + 4 + uintptr(idx%uint16(t.queueSize))*2

	cpu.FenceIO()
	*(*uint16)(unsafe.Pointer(slot)) = uint16(head)
	*(*uint16)(unsafe.Pointer(idxAddr)) = idx + 1
	cpu.FenceIO()

	mmio.Write32(t.base+regQueueNotify, 0)
}

// UsedIndex returns the device's current used-ring producer index.
func (t *Transport) UsedIndex() uint16 {
	return *(*uint16)(unsafe.Pointer(t.usedBase + 2))
}

// UsedRingBase returns the base address of the used ring's backing
// memory. Exported so device/virtio/block's tests can synthesize used-
// ring entries the way the real device would, without a real suspend/
// resume cycle to drive an actual completion.
func (t *Transport) UsedRingBase() uintptr {
	return t.usedBase
}

// UsedEntry returns the (descriptor id, length) of used-ring slot i.
func (t *Transport) UsedEntry(i uint16) (id uint32, length uint32) {
	p := t.usedBase + 4 + uintptr(i%uint16(t.queueSize))*usedElemSize
	return *(*uint32)(unsafe.Pointer(p)), *(*uint32)(unsafe.Pointer(p + 4))
}

// AckInterrupt acknowledges the device's interrupt-status bits, completing
// the ISR's claim per spec.md §4.5's "finally acknowledges the interrupt
// status register".
func (t *Transport) AckInterrupt() {
	status := mmio.Read32(t.base + regInterruptStatus)
	mmio.Write32(t.base+regInterruptACK, status)
}

// regConfig is the start of the device-specific configuration space
// (capacity, block size, topology for virtio-blk).
const regConfig = 0x100

// ConfigRead32 reads a 32-bit field at offset into the device-specific
// configuration space.
func (t *Transport) ConfigRead32(offset uintptr) uint32 {
	return mmio.Read32(t.base + regConfig + offset)
}

// ConfigRead64 reads a 64-bit field as two little-endian 32-bit halves,
// which is how virtio-blk's capacity field is laid out.
func (t *Transport) ConfigRead64(offset uintptr) uint64 {
	low := t.ConfigRead32(offset)
	high := t.ConfigRead32(offset + 4)
	return uint64(high)<<32 | uint64(low)
}
