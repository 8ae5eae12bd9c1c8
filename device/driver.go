// Package device is the kernel's named (class, instance) device registry:
// a capability-set interface per device class, a static attach list per
// board (this kernel has no PCI/ACPI bus to probe — every instance's MMIO
// base and IRQ number is a compile-time platform constant), and a table
// of successfully attached devices looked up by name by the boot sequence
// (kernel/kmain) and by kernel/diag.
//
// The registry shape is grounded on the teacher's device.Driver/ProbeFn
// interfaces and kernel/hal.go's probe/onDriverInit attach-and-log
// pipeline, generalized from a single active-console/active-TTY pointer
// pair to a general named-lookup table serving storage, serial, entropy
// and RTC devices, and from probing for hotplugged hardware to attaching
// a fixed board-configuration list.
package device

import "gopherv/kernel/kernelerr"

const errModule = "device"

// Class names one of the capability sets a registered device can satisfy.
type Class string

// The device classes spec.md §3 names.
const (
	ClassStorage Class = "storage"
	ClassSerial  Class = "serial"
	ClassEntropy Class = "entropy"
	ClassRTC     Class = "rtc"
)

// Driver is the minimal interface every attached device satisfies,
// mirroring the teacher's device.Driver.
type Driver interface {
	DriverName() string
	Close()
}

// AttachFn attaches one static instance (its MMIO base and IRQ already
// known from platform.Config) and returns its driver, or an error if the
// hardware did not respond as expected.
type AttachFn func() (Driver, *kernelerr.Error)

type entry struct {
	class  Class
	name   string
	driver Driver
}

// registry is the process-wide named-device table, initialization-phased
// per spec.md §9: populated once during boot attach, read-only after.
type registry struct {
	entries []entry
}

var global registry

// Reset clears the registry. Called by kernel/kmain's device-manager init
// step and by tests.
func Reset() {
	global = registry{}
}

// Register records a successfully attached driver under (class, name).
// name collisions within the same class are a boot-sequencing bug and
// panic rather than silently shadowing an existing entry.
func Register(class Class, name string, drv Driver) {
	for _, e := range global.entries {
		if e.class == class && e.name == name {
			panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.Fault, Message: "duplicate device registration: " + string(class) + "/" + name})
		}
	}
	global.entries = append(global.entries, entry{class: class, name: name, driver: drv})
}

// Lookup returns the driver registered under (class, name), or nil if
// none was attached.
func Lookup(class Class, name string) Driver {
	for _, e := range global.entries {
		if e.class == class && e.name == name {
			return e.driver
		}
	}
	return nil
}

// Names returns every registered instance name within a class, in
// attach order.
func Names(class Class) []string {
	var names []string
	for _, e := range global.entries {
		if e.class == class {
			names = append(names, e.name)
		}
	}
	return names
}

// Attach runs fn and, on success, registers its driver under (class,
// name); a failed attach is logged by the caller and not registered.
func Attach(class Class, name string, fn AttachFn) (Driver, *kernelerr.Error) {
	drv, err := fn()
	if err != nil {
		return nil, err
	}
	Register(class, name, drv)
	return drv, nil
}
