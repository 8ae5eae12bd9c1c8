package device

import (
	"testing"

	"gopherv/kernel/kernelerr"
)

type fakeDriver struct {
	name string
}

func (f *fakeDriver) DriverName() string { return f.name }
func (f *fakeDriver) Close()             {}

func TestAttachRegistersUnderClassAndName(t *testing.T) {
	defer Reset()

	drv, err := Attach(ClassSerial, "uart0", func() (Driver, *kernelerr.Error) {
		return &fakeDriver{name: "ns8250"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected attach error: %v", err)
	}
	if got := Lookup(ClassSerial, "uart0"); got != drv {
		t.Fatal("expected Lookup to return the attached driver")
	}
	if got := Lookup(ClassSerial, "uart1"); got != nil {
		t.Fatal("expected Lookup of an unattached instance to return nil")
	}
}

func TestAttachFailurePropagatesAndDoesNotRegister(t *testing.T) {
	defer Reset()

	wantErr := kernelerr.New(errModule, kernelerr.Fault, "no response")
	_, err := Attach(ClassStorage, "virtio0", func() (Driver, *kernelerr.Error) {
		return nil, wantErr
	})
	if err != wantErr {
		t.Fatalf("expected attach error propagated; got %v", err)
	}
	if got := Lookup(ClassStorage, "virtio0"); got != nil {
		t.Fatal("expected failed attach to leave no registry entry")
	}
}

func TestNamesListsInstancesWithinClass(t *testing.T) {
	defer Reset()

	Register(ClassStorage, "virtio0", &fakeDriver{name: "virtio-blk"})
	Register(ClassStorage, "virtio1", &fakeDriver{name: "virtio-blk"})
	Register(ClassSerial, "uart0", &fakeDriver{name: "ns8250"})

	names := Names(ClassStorage)
	if len(names) != 2 || names[0] != "virtio0" || names[1] != "virtio1" {
		t.Fatalf("expected [virtio0 virtio1]; got %v", names)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer Reset()
	Register(ClassRTC, "rtc0", &fakeDriver{name: "goldfish-rtc"})

	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	Register(ClassRTC, "rtc0", &fakeDriver{name: "goldfish-rtc"})
}
