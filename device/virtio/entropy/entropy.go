// Package entropy implements the VirtIO entropy driver supplementing
// spec.md's component table: a single device-writable descriptor per
// request, submitted the same way as a block request's data descriptor,
// with the caller blocking on a single shared ticket condition until the
// used ring advances past the submitted head.
package entropy

import (
	"unsafe"

	"gopherv/kernel/heap"
	"gopherv/kernel/irq"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/platform"
	"gopherv/kernel/thread"

	"gopherv/device/virtio"
)

const errModule = "virtio-entropy"

const descriptorsPerRequest = 1

// interruptPriority sits below device/virtio/block's (2); entropy reads
// are rare boot-time/diagnostic events, not latency-sensitive.
const interruptPriority = 1

var requiredFeatures = [2]uint32{virtio.FeatureIndirectDesc, virtio.FeatureRingReset}
var optionalFeatures = [2]uint32{0, 0}

// Device is the attached VirtIO entropy instance.
type Device struct {
	t    *virtio.Transport
	open bool

	bufBase  uintptr // scratch memory the device writes random bytes into
	bufLen   int
	lock     thread.Lock
	pending  thread.Condition
	nextUsed uint16
	done     bool
}

// DriverName implements device.Driver.
func (d *Device) DriverName() string { return "virtio-rng" }

// maxRead bounds a single request so one scratch page is always enough.
const maxRead = 4096

// Open negotiates the transport and allocates the scratch page a Read
// request's single descriptor points at.
func Open(cfg platform.Config, slot int, alloc *heap.Allocator) (*Device, *kernelerr.Error) {
	t, err := virtio.Open(cfg, slot, requiredFeatures, optionalFeatures, descriptorsPerRequest, alloc)
	if err != nil {
		return nil, err
	}

	d := &Device{t: t, open: true, bufLen: maxRead}
	buf, herr := alloc.AllocPage()
	if herr != nil {
		return nil, kernelerr.New(errModule, kernelerr.OutOfMemory, "no memory for entropy scratch buffer")
	}
	d.bufBase = buf

	irq.EnableSource(t.IRQ(), interruptPriority, isr, d)
	return d, nil
}

func isr(aux interface{}) {
	aux.(*Device).HandleInterrupt()
}

// Close masks the device's interrupt source.
func (d *Device) Close() {
	d.open = false
	irq.DisableSource(d.t.IRQ())
}

// Read fills buf with random bytes from the device, capped at maxRead
// per call. The caller blocks until the device retires the request.
func (d *Device) Read(buf []byte) (int, *kernelerr.Error) {
	if !d.open {
		return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "read on closed device")
	}
	n := len(buf)
	if n > d.bufLen {
		n = d.bufLen
	}
	if n == 0 {
		return 0, nil
	}

	d.lock.Acquire()
	d.done = false
	head := d.t.NextFreeHead(descriptorsPerRequest)
	d.t.SetDesc(head, d.bufBase, uint32(n), true, false, 0)
	d.t.PublishAvailable(head)
	d.lock.Release()

	for !d.done {
		d.pending.Wait()
	}

	copy(buf[:n], unsafeBytes(d.bufBase, n))
	return n, nil
}

func unsafeBytes(addr uintptr, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = *(*byte)(unsafe.Pointer(addr + uintptr(i)))
	}
	return out
}

// HandleInterrupt drains the used ring, which for this driver only ever
// has one request type: mark the shared ticket done and broadcast.
func (d *Device) HandleInterrupt() {
	d.lock.Acquire()
	for d.nextUsed != d.t.UsedIndex() {
		d.t.UsedEntry(d.nextUsed)
		d.nextUsed++
		d.done = true
		d.pending.Broadcast()
	}
	d.lock.Release()
	d.t.AckInterrupt()
}
