package thread

import "testing"

func TestWaitListMembership(t *testing.T) {
	orig := global
	defer func() { global = orig }()
	global.readyHead, global.readyTail = nil, nil

	var c Condition
	a := newFakeThread(10)
	b := newFakeThread(11)

	c.enqueue(a)
	c.enqueue(b)

	for _, th := range []*Thread{a, b} {
		if th.State != StateWaiting {
			t.Fatalf("thread %d: expected state waiting, got %v", th.id, th.State)
		}
		if th.waitCond != &c {
			t.Fatalf("thread %d: expected waitCond to point at the condition", th.id)
		}
	}

	found := 0
	for cur := c.head; cur != nil; cur = cur.next {
		found++
	}
	if found != 2 {
		t.Fatalf("expected 2 threads on wait list; found %d", found)
	}

	c.Broadcast()

	if c.head != nil || c.tail != nil {
		t.Fatal("expected wait list empty after broadcast")
	}
	for _, th := range []*Thread{a, b} {
		if th.waitCond != nil {
			t.Fatalf("thread %d: expected waitCond cleared after broadcast", th.id)
		}
		if th.State != StateReady {
			t.Fatalf("thread %d: expected state ready after broadcast, got %v", th.id, th.State)
		}
	}

	onReady := func(target *Thread) bool {
		for cur := global.readyHead; cur != nil; cur = cur.next {
			if cur == target {
				return true
			}
		}
		return false
	}
	if !onReady(a) || !onReady(b) {
		t.Fatal("expected both broadcast threads on the ready list")
	}
}
