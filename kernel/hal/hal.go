// Package hal attaches the board's static device list, generalizing the
// teacher's hal.DetectHardware/probe pipeline (kernel/hal/hal.go) from
// probing for hotplugged hardware to walking platform.Config's fixed
// instance list, per spec.md §3/§9 and SPEC_FULL.md §4.5: this kernel has
// no PCI/ACPI bus, so every instance's MMIO base and IRQ number is a
// compile-time board property rather than something to discover.
package hal

import (
	"gopherv/kernel/heap"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/kfmt"
	"gopherv/kernel/platform"

	"gopherv/device"
	"gopherv/device/rtc"
	"gopherv/device/uart"
	"gopherv/device/virtio"
	"gopherv/device/virtio/block"
	"gopherv/device/virtio/entropy"
)

const errModule = "hal"

// instanceName formats a class-relative instance name ("uart0", "virtio2")
// the way the registry, kernel/kmain and kernel/diag address devices by.
func instanceName(prefix string, i int) string {
	return prefix + itoa(i)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

// AttachAll attaches every device the board's platform.Config describes:
// the RTC, every configured UART instance, and every VirtIO MMIO slot
// probed by device ID and dispatched to the matching driver. A slot
// carrying a device ID this kernel has no driver for (including an empty
// slot) is skipped without a log line; a device that fails to attach is
// logged and skipped. Neither is treated as fatal:
// SPEC_FULL.md §4.5 only requires the devices a board actually needs.
func AttachAll(cfg platform.Config, alloc *heap.Allocator) {
	attachRTC(cfg)

	for i := 0; i < cfg.UARTCount; i++ {
		attachUART(cfg, i)
	}

	for slot := 0; slot < cfg.VirtIOCount; slot++ {
		attachVirtIOSlot(cfg, slot, alloc)
	}
}

func attachRTC(cfg platform.Config) {
	name := "rtc0"
	_, err := device.Attach(device.ClassRTC, name, func() (device.Driver, *kernelerr.Error) {
		return rtc.Open(cfg)
	})
	logAttach(device.ClassRTC, name, err)
}

func attachUART(cfg platform.Config, i int) {
	name := instanceName("uart", i)
	_, err := device.Attach(device.ClassSerial, name, func() (device.Driver, *kernelerr.Error) {
		return uart.Open(cfg, i)
	})
	logAttach(device.ClassSerial, name, err)
}

func attachVirtIOSlot(cfg platform.Config, slot int, alloc *heap.Allocator) {
	switch virtio.ProbeDeviceID(cfg, slot) {
	case virtio.DeviceIDBlock:
		name := instanceName("virtio", slot)
		_, err := device.Attach(device.ClassStorage, name, func() (device.Driver, *kernelerr.Error) {
			return block.Open(cfg, slot, alloc)
		})
		logAttach(device.ClassStorage, name, err)
	case virtio.DeviceIDEntropy:
		name := instanceName("virtio", slot)
		_, err := device.Attach(device.ClassEntropy, name, func() (device.Driver, *kernelerr.Error) {
			return entropy.Open(cfg, slot, alloc)
		})
		logAttach(device.ClassEntropy, name, err)
	}
}

func logAttach(class device.Class, name string, err *kernelerr.Error) {
	if err != nil {
		kfmt.Printf("[hal] %s/%s: attach failed: %s\n", string(class), name, err.Message)
		return
	}
	kfmt.Printf("[hal] %s/%s: attached\n", string(class), name)
}
