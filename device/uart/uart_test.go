package uart

import (
	"testing"

	"gopherv/kernel/irq"
	"gopherv/kernel/mmio"
	"gopherv/kernel/platform"
)

func fakeHardware(t *testing.T) map[uintptr]byte {
	t.Helper()
	regs := map[uintptr]byte{}
	origR32, origW32 := mmio.Read32Fn, mmio.Write32Fn
	origR8, origW8 := mmio.Read8Fn, mmio.Write8Fn
	mmio.Read32Fn = func(uintptr) uint32 { return 0 }
	mmio.Write32Fn = func(uintptr, uint32) {}
	mmio.Read8Fn = func(addr uintptr) uint8 { return regs[addr] }
	mmio.Write8Fn = func(addr uintptr, v uint8) { regs[addr] = v }
	t.Cleanup(func() {
		mmio.Read32Fn, mmio.Write32Fn = origR32, origW32
		mmio.Read8Fn, mmio.Write8Fn = origR8, origW8
	})

	irq.Init(platform.QEMUVirt)
	return regs
}

func TestOpenFlushesAndEnablesDataReady(t *testing.T) {
	regs := fakeHardware(t)
	cfg := platform.QEMUVirt

	d, err := Open(cfg, 0)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	if !d.open {
		t.Fatal("expected device marked open")
	}
	if got := regs[d.base+regIER]; got != ierDataReady {
		t.Fatalf("expected IER=%#x after open; got %#x", ierDataReady, got)
	}
}

func TestRecvDeliversFromRing(t *testing.T) {
	fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)

	d.rx.push('h')
	d.rx.push('i')

	buf := make([]byte, 8)
	n, err := d.Recv(buf)
	if err != nil {
		t.Fatalf("unexpected recv error: %v", err)
	}
	if n != 2 || string(buf[:n]) != "hi" {
		t.Fatalf("expected 2 bytes \"hi\"; got %d %q", n, buf[:n])
	}
}

func TestSendFillsRingAndAssertsTHRE(t *testing.T) {
	fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)

	n, err := d.Send([]byte("ok"))
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 bytes queued; got %d", n)
	}
	if d.ier&ierTHRE == 0 {
		t.Fatal("expected THRE enable asserted after send burst")
	}
	if d.tx.count != 2 {
		t.Fatalf("expected 2 bytes in tx ring; got %d", d.tx.count)
	}
}

func TestISRPushesDataReadyByteAndBroadcasts(t *testing.T) {
	regs := fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)

	regs[d.base+regLSR] = lsrDataReady
	regs[d.base+regRBR] = 'x'

	isr(d)

	if d.rx.empty() {
		t.Fatal("expected a byte pushed into the receive ring")
	}
	b, _ := d.rx.pop()
	if b != 'x' {
		t.Fatalf("expected 'x' in receive ring; got %q", b)
	}
}

func TestISRMasksDataReadyWhenRingFull(t *testing.T) {
	regs := fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)

	for i := 0; i < ringSize; i++ {
		d.rx.push('a')
	}
	regs[d.base+regLSR] = lsrDataReady

	isr(d)

	if d.ier&ierDataReady != 0 {
		t.Fatal("expected data-ready enable masked once the ring overruns")
	}
	if d.overrunCount != 1 {
		t.Fatalf("expected overrun counted once; got %d", d.overrunCount)
	}
}

func TestISRPopsTransmitByteWhenTHREPending(t *testing.T) {
	regs := fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)

	d.tx.push('z')
	regs[d.base+regLSR] = lsrTHRE

	isr(d)

	if got := regs[d.base+regTHR]; got != 'z' {
		t.Fatalf("expected 'z' written to THR; got %q", got)
	}
	if !d.tx.empty() {
		t.Fatal("expected transmit ring drained")
	}
}

func TestISRMasksTHREWhenTransmitRingEmpty(t *testing.T) {
	regs := fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)
	d.setIER(d.ier | ierTHRE)

	regs[d.base+regLSR] = lsrTHRE
	isr(d)

	if d.ier&ierTHRE != 0 {
		t.Fatal("expected THRE enable masked once the transmit ring drains")
	}
}

func TestCloseDisablesInterruptsAndWakesWaiters(t *testing.T) {
	fakeHardware(t)
	d, _ := Open(platform.QEMUVirt, 0)

	d.Close()

	if d.open {
		t.Fatal("expected device closed")
	}
	if d.ier != 0 {
		t.Fatalf("expected IER cleared on close; got %#x", d.ier)
	}
	if _, err := d.Recv(make([]byte, 1)); err == nil {
		t.Fatal("expected recv on a closed UART to fail")
	}
}
