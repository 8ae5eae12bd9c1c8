package sync

import "testing"

func TestMutexNestedAcquireRelease(t *testing.T) {
	var m Mutex

	m.Acquire()
	if !m.Held() {
		t.Fatal("expected mutex to be held after Acquire")
	}
	m.Acquire()
	m.Release()
	if !m.Held() {
		t.Fatal("expected mutex to still be held after inner Release")
	}
	m.Release()
	if m.Held() {
		t.Fatal("expected mutex to be free after matching Release")
	}
}

func TestMutexReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Release of an unheld mutex to panic")
		}
	}()

	var m Mutex
	m.Release()
}
