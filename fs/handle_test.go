package fs

import (
	"testing"

	"gopherv/io"
)

func TestSeekBeyondSizeInvalid(t *testing.T) {
	f := newTestFS(t, helloImage())

	file, err := f.Open("hello")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	if _, err := file.Cntl(io.CntlSetPosition, uint64(file.size)+1); err == nil {
		t.Fatal("expected set-position beyond size to fail")
	}

	if _, err := file.Cntl(io.CntlSetPosition, uint64(file.size)); err != nil {
		t.Fatalf("expected set-position to exactly size to succeed; got %v", err)
	}
	pos, err := file.Cntl(io.CntlGetPosition, 0)
	if err != nil {
		t.Fatalf("unexpected get-position error: %v", err)
	}
	if pos != uint64(file.size) {
		t.Fatalf("expected position to be at size after seeking there; got %d", pos)
	}

	n, rerr := file.Read(make([]byte, 4))
	if rerr != nil {
		t.Fatalf("unexpected read error at end of file: %v", rerr)
	}
	if n != 0 {
		t.Fatalf("expected end-of-file read to return 0 bytes; got %d", n)
	}
}
