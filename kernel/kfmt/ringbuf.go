package kfmt

import "io"

// bootLogRingSize bounds how much of the early boot log kfmt.Printf can
// buffer before hal.AttachAll brings up the UART and kmain calls
// SetOutputSink. Everything written before that point — platform,
// interrupt-manager, and device-manager init, per spec.md §2's boot
// sequence — has nowhere else to go yet. Must stay a power of 2 so index
// wraparound is a mask, not a modulo.
const bootLogRingSize = 2048

// bootLogRing holds kfmt.Printf's output until SetOutputSink gives it a
// real sink. SetOutputSink drains this buffer into the new sink once the
// UART is attached, so no boot-time diagnostic line is lost.
type bootLogRing struct {
	buffer         [bootLogRingSize]byte
	rIndex, wIndex int
}

// Write writes len(p) bytes from p to the bootLogRing.
func (rb *bootLogRing) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[rb.wIndex] = b
		rb.wIndex = (rb.wIndex + 1) & (bootLogRingSize - 1)
		if rb.rIndex == rb.wIndex {
			rb.rIndex = (rb.rIndex + 1) & (bootLogRingSize - 1)
		}
	}

	return len(p), nil
}

// Read reads up to len(p) bytes into p. It returns the number of bytes read (0
// <= n <= len(p)) and any error encountered.
func (rb *bootLogRing) Read(p []byte) (n int, err error) {
	switch {
	case rb.rIndex < rb.wIndex:
		// read up to min(wIndex - rIndex, len(p)) bytes
		n = rb.wIndex - rb.rIndex
		if pLen := len(p); pLen < n {
			n = pLen
		}

		copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n

		return n, nil
	case rb.rIndex > rb.wIndex:
		// Read up to min(len(buf) - rIndex, len(p)) bytes
		n = len(rb.buffer) - rb.rIndex
		if pLen := len(p); pLen < n {
			n = pLen
		}

		copy(p, rb.buffer[rb.rIndex:rb.rIndex+n])
		rb.rIndex += n

		if rb.rIndex == len(rb.buffer) {
			rb.rIndex = 0
		}

		return n, nil
	default: // rIndex == wIndex
		return 0, io.EOF
	}
}
