// Package uart implements the NS8250-compatible serial driver described
// in spec.md §4.4: two ring buffers, not-empty/not-full conditions, an
// interrupt-driven recv/send pair, and an ISR that throttles whichever
// direction's ring has no room by masking its enable bit rather than
// dropping bytes.
//
// Grounded on spec.md §4.4's operation list directly; the ring-buffer
// indexing follows kernel/kfmt/ringbuf.go's power-of-two mask style, and
// register access goes through kernel/mmio the same way kernel/irq talks
// to the PLIC.
package uart

import (
	"gopherv/kernel/cpu"
	"gopherv/kernel/irq"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/mmio"
	"gopherv/kernel/platform"
	"gopherv/kernel/thread"
)

const errModule = "uart"

// NS8250 register offsets, relative to the UART's base address.
const (
	regRBR = 0 // receive buffer (read)
	regTHR = 0 // transmit holding (write)
	regIER = 1 // interrupt enable
	regLSR = 5 // line status
)

// IER bits.
const (
	ierDataReady = 1 << 0
	ierTHRE      = 1 << 1
)

// LSR bits.
const (
	lsrDataReady = 1 << 0
	lsrTHRE      = 1 << 5
)

// interruptPriority is the PLIC priority this driver requests for its
// source; any nonzero value enables delivery, and the UART is not
// latency-critical relative to storage or timer interrupts.
const interruptPriority = 1

// Device is one attached UART instance.
type Device struct {
	base uintptr
	src  int
	open bool

	rx, tx       ring
	rxNotEmpty   thread.Condition
	txNotFull    thread.Condition
	ier          byte
	overrunCount uint64
}

// DriverName implements device.Driver.
func (d *Device) DriverName() string { return "ns8250" }

// Open resets both rings, flushes any stale byte already latched in the
// hardware receive register, enables the data-ready interrupt, and
// registers the ISR with the interrupt manager, per spec.md §4.4.
func Open(cfg platform.Config, instance int) (*Device, *kernelerr.Error) {
	if instance < 0 || instance >= cfg.UARTCount {
		return nil, kernelerr.New(errModule, kernelerr.InvalidArgument, "no such UART instance")
	}

	d := &Device{base: cfg.UARTAddr(instance), src: cfg.UARTIRQ[instance]}
	d.rx.reset()
	d.tx.reset()
	mmio.Read8(d.base + regRBR) // flush whatever the hardware already latched

	d.ier = ierDataReady
	mmio.Write8(d.base+regIER, d.ier)

	irq.EnableSource(d.src, interruptPriority, isr, d)
	d.open = true
	return d, nil
}

// Close disables both interrupt-enable bits, masks the PLIC source, and
// wakes any thread still blocked in Recv/Send so it observes the closed
// device on its next call.
func (d *Device) Close() {
	d.ier = 0
	mmio.Write8(d.base+regIER, 0)
	irq.DisableSource(d.src)
	d.open = false
	d.rxNotEmpty.Broadcast()
	d.txNotFull.Broadcast()
}

// Recv copies up to len(buf) bytes out of the receive ring into buf,
// blocking while the ring is empty. It returns as soon as the caller's
// buffer is full or the ring has drained, whichever comes first — the
// return count may be less than len(buf).
func (d *Device) Recv(buf []byte) (int, *kernelerr.Error) {
	if !d.open {
		return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "recv on closed UART")
	}

	wasEnabled := cpu.SaveAndDisableInterrupts()
	defer cpu.RestoreInterrupts(wasEnabled)

	for d.rx.empty() {
		d.setIER(d.ier | ierDataReady)
		d.rxNotEmpty.Wait()
		if !d.open {
			return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "recv on closed UART")
		}
	}

	n := 0
	for n < len(buf) && !d.rx.empty() {
		b, _ := d.rx.pop()
		buf[n] = b
		n++
	}
	return n, nil
}

// Send copies all of buf into the transmit ring, blocking whenever the
// ring fills, and asserts the transmit-holding-empty enable after every
// burst so the ISR keeps draining it.
func (d *Device) Send(buf []byte) (int, *kernelerr.Error) {
	if !d.open {
		return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "send on closed UART")
	}

	wasEnabled := cpu.SaveAndDisableInterrupts()
	defer cpu.RestoreInterrupts(wasEnabled)

	n := 0
	for n < len(buf) {
		for n < len(buf) && !d.tx.full() {
			d.tx.push(buf[n])
			n++
		}
		d.setIER(d.ier | ierTHRE)
		if n < len(buf) {
			d.txNotFull.Wait()
			if !d.open {
				return n, kernelerr.New(errModule, kernelerr.InvalidArgument, "send on closed UART")
			}
		}
	}
	return n, nil
}

func (d *Device) setIER(v byte) {
	d.ier = v
	mmio.Write8(d.base+regIER, v)
}

// isr is the recorded ISR for this device's PLIC source. It reads line
// status once and handles at most one data-ready and one THRE condition
// per invocation, matching spec.md §4.4's single-read dispatch.
func isr(aux interface{}) {
	d := aux.(*Device)
	lsr := mmio.Read8(d.base + regLSR)

	if lsr&lsrDataReady != 0 {
		if d.rx.full() {
			d.overrunCount++
			d.setIER(d.ier &^ ierDataReady)
		} else {
			d.rx.push(mmio.Read8(d.base + regRBR))
			d.rxNotEmpty.Broadcast()
		}
	}

	if lsr&lsrTHRE != 0 {
		if b, ok := d.tx.pop(); ok {
			mmio.Write8(d.base+regTHR, b)
			d.txNotFull.Broadcast()
		} else {
			d.setIER(d.ier &^ ierTHRE)
		}
	}
}
