package io

import (
	"testing"

	"gopherv/kernel/kernelerr"
)

func TestCloseInvokesBackingOnlyAtZeroRefcount(t *testing.T) {
	closed := 0
	h := New(VTable{Close: func() { closed++ }})
	h.Retain()

	h.Close()
	if closed != 0 {
		t.Fatalf("expected no close with one reference outstanding; got %d", closed)
	}
	h.Close()
	if closed != 1 {
		t.Fatalf("expected exactly one close once refcount reaches zero; got %d", closed)
	}
}

func TestReadWriteCntlRejectMissingOp(t *testing.T) {
	h := New(VTable{})

	if _, err := h.Read(make([]byte, 4)); err == nil || err.Kind != kernelerr.NotSupported {
		t.Fatalf("expected not-supported on a nil read op; got %v", err)
	}
	if _, err := h.Write(make([]byte, 4)); err == nil || err.Kind != kernelerr.NotSupported {
		t.Fatalf("expected not-supported on a nil write op; got %v", err)
	}
	if _, err := h.Cntl(CntlGetEnd, 0); err == nil || err.Kind != kernelerr.NotSupported {
		t.Fatalf("expected not-supported on a nil cntl op; got %v", err)
	}
}

func TestReadWriteForwardToBackingOp(t *testing.T) {
	var seen []byte
	h := New(VTable{
		Read: func(buf []byte) (int, *kernelerr.Error) {
			seen = buf
			return len(buf), nil
		},
	})

	n, err := h.Read(make([]byte, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || len(seen) != 3 {
		t.Fatalf("expected the backing op to see the full buffer; got n=%d len=%d", n, len(seen))
	}
}

func TestNullHandleAlwaysRejects(t *testing.T) {
	if _, err := Null.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected the null handle's read to fail")
	}
	if _, err := Null.Write(make([]byte, 1)); err == nil {
		t.Fatal("expected the null handle's write to fail")
	}
}
