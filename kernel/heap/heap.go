// Package heap implements the kernel's physical-page allocator: the "heap
// init" boot step named by spec.md §2 but left otherwise unspecified. It
// supplies backing storage for thread stacks (kernel/thread) and block
// cache slot buffers (fs/bcache).
//
// The allocator is a bitmap over the page range [kernelEnd, ramEnd), one
// bit per page, tracking free/used. This generalizes the teacher's
// bootMemAllocator (kernel/mem/pmm/allocator/bootmem.go), which excludes
// the kernel image and hands out frames one at a time but cannot free them
// — this kernel needs Free, which a one-way bump allocator cannot provide.
// There is no linked free list: free pages are found by scanning the
// bitmap.
package heap

import (
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/mem"
	"gopherv/kernel/sync"
)

var errModule = "heap"

// Allocator is a bitmap-backed physical page allocator over a fixed range.
type Allocator struct {
	mu sync.Mutex

	start    uintptr // first managed page address
	numPages int
	bitmap   []byte // 1 bit per page; 1 == allocated

	nextHint int // first page to start the next first-fit scan from
}

// Init prepares the allocator to hand out pages from the range
// [kernelEnd, ramEnd), rounding kernelEnd up and ramEnd down to page
// boundaries, mirroring bootMemAllocator's kernel-image exclusion logic.
func (a *Allocator) Init(kernelEnd, ramEnd uintptr) *kernelerr.Error {
	pageSizeMinus1 := uintptr(mem.PageSize - 1)
	start := (kernelEnd + pageSizeMinus1) &^ pageSizeMinus1
	end := ramEnd &^ pageSizeMinus1

	if end <= start {
		return &kernelerr.Error{Module: errModule, Kind: kernelerr.OutOfMemory, Message: "no usable RAM above kernel image"}
	}

	a.start = start
	a.numPages = int((end - start) / uintptr(mem.PageSize))
	a.bitmap = make([]byte, (a.numPages+7)/8)
	a.nextHint = 0
	return nil
}

// TotalPages returns the number of pages under management.
func (a *Allocator) TotalPages() int {
	return a.numPages
}

// FreePageCount returns the number of currently unallocated pages.
func (a *Allocator) FreePageCount() int {
	a.mu.Acquire()
	defer a.mu.Release()

	free := 0
	for page := 0; page < a.numPages; page++ {
		if !a.bitSet(page) {
			free++
		}
	}
	return free
}

// AllocPages reserves n contiguous pages and returns the address of the
// first one. Returns OutOfMemory if no run of n free pages exists.
func (a *Allocator) AllocPages(n int) (uintptr, *kernelerr.Error) {
	if n <= 0 {
		return 0, &kernelerr.Error{Module: errModule, Kind: kernelerr.InvalidArgument, Message: "page count must be positive"}
	}

	a.mu.Acquire()
	defer a.mu.Release()

	run := 0
	for page := a.nextHint; page < a.numPages+a.nextHint; page++ {
		p := page % a.numPages
		if !a.bitSet(p) {
			run++
			if run == n {
				first := p - n + 1
				if first < 0 {
					// the run wrapped past the end; retry with a linear scan
					// starting at zero, which always finds a non-wrapping
					// run if one exists.
					return a.allocLinear(n)
				}
				a.markRange(first, n, true)
				a.nextHint = (first + n) % a.numPages
				return a.start + uintptr(first)*uintptr(mem.PageSize), nil
			}
		} else {
			run = 0
		}
	}

	return 0, &kernelerr.Error{Module: errModule, Kind: kernelerr.OutOfMemory, Message: "no free pages"}
}

// allocLinear performs a simple non-wrapping first-fit scan from page 0.
func (a *Allocator) allocLinear(n int) (uintptr, *kernelerr.Error) {
	run := 0
	for page := 0; page < a.numPages; page++ {
		if !a.bitSet(page) {
			run++
			if run == n {
				first := page - n + 1
				a.markRange(first, n, true)
				a.nextHint = (first + n) % a.numPages
				return a.start + uintptr(first)*uintptr(mem.PageSize), nil
			}
		} else {
			run = 0
		}
	}
	return 0, &kernelerr.Error{Module: errModule, Kind: kernelerr.OutOfMemory, Message: "no free pages"}
}

// AllocPage reserves a single page.
func (a *Allocator) AllocPage() (uintptr, *kernelerr.Error) {
	return a.AllocPages(1)
}

// FreeRange releases n pages starting at addr, previously returned by
// AllocPages. A misaligned address or a range outside the managed region
// is a driver-programmer error and panics, matching spec.md §7's rule that
// drivers panic only on programmer errors, not on recoverable conditions.
func (a *Allocator) FreeRange(addr uintptr, n int) {
	if uintptr(mem.PageSize) == 0 || addr < a.start {
		panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.InvalidArgument, Message: "free of address outside heap region"})
	}
	offset := addr - a.start
	if offset%uintptr(mem.PageSize) != 0 {
		panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.InvalidArgument, Message: "free of unaligned address"})
	}
	page := int(offset / uintptr(mem.PageSize))
	if page < 0 || page+n > a.numPages {
		panic(&kernelerr.Error{Module: errModule, Kind: kernelerr.InvalidArgument, Message: "free of range outside heap region"})
	}

	a.mu.Acquire()
	defer a.mu.Release()
	a.markRange(page, n, false)
}

// FreePage releases a single page.
func (a *Allocator) FreePage(addr uintptr) {
	a.FreeRange(addr, 1)
}

func (a *Allocator) bitSet(page int) bool {
	return a.bitmap[page/8]&(1<<uint(page%8)) != 0
}

func (a *Allocator) markRange(startPage, n int, used bool) {
	for page := startPage; page < startPage+n; page++ {
		idx, bit := page/8, uint(page%8)
		if used {
			a.bitmap[idx] |= 1 << bit
		} else {
			a.bitmap[idx] &^= 1 << bit
		}
	}
}
