// Package elf implements spec.md §4.9's ELF64 loader: a reader of rv64
// little-endian ET_EXEC images that places PT_LOAD segments into a fixed
// virtual window and hands back the entry address as a callable pointer.
//
// The separation between parsed header state and the raw io.Handle it was
// read from is grounded on lunixbochs-usercorn/go/loader/loader.go's
// LoaderHeader, which keeps exactly that split (arch/bits/entry fields
// plus accessors, independent of the backing file); this package
// generalizes it from a multi-arch/multi-OS binary sniffer down to the
// one rv64/ET_EXEC shape spec.md requires.
package elf

import (
	"unsafe"

	"gopherv/kernel"
	"gopherv/kernel/kernelerr"

	"gopherv/io"
)

const errModule = "elf"

const (
	headerSize = 64
	phdrSize   = 56

	classELF64     = 2
	dataLSB        = 1
	versionCurrent = 1
	typeExec       = 2
	machineRISCV   = 0xf3 // EM_RISCV

	ptLoad = 1
)

// WindowStart and WindowEnd bound the fixed virtual window every loaded
// segment and the entry point itself must lie within, per spec.md §4.9.
const (
	WindowStart uintptr = 0x80100000
	WindowEnd   uintptr = 0x81000000
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// copyToMemoryFn and zeroMemoryFn are the loader's memory-write seams,
// matching the mmio/cpu packages' ReadFn/WriteFn indirection: production
// code places segments at real physical addresses via kernel.Memcopy and
// kernel.Memset, while tests redirect these into an ordinary Go buffer
// instead of touching arbitrary memory.
var (
	copyToMemoryFn = defaultCopyToMemory
	zeroMemoryFn   = defaultZeroMemory
)

func defaultCopyToMemory(addr uintptr, buf []byte) {
	if len(buf) == 0 {
		return
	}
	kernel.Memcopy(uintptr(unsafe.Pointer(&buf[0])), addr, uintptr(len(buf)))
}

func defaultZeroMemory(addr uintptr, n uintptr) {
	kernel.Memset(addr, 0, n)
}

// header is the subset of the ELF64 file header the loader needs, parsed
// once out of the raw bytes and kept separate from the handle it came
// from.
type header struct {
	entry     uint64
	phOff     uint64
	phEntSize uint16
	phNum     uint16
}

func badFormat(msg string) *kernelerr.Error {
	return kernelerr.New(errModule, kernelerr.BadFormat, msg)
}

// EntryPoint is a loaded program's entry address, cast to a callable
// function once every PT_LOAD segment has been placed in memory. Its one
// argument stands in for a0, the register spec.md §2's boot sequence uses
// to pass the console I/O handle to the jump target, mirroring
// kernel/thread.EntryFunc's register-bank-as-Args convention.
type EntryPoint func(uintptr)

// entryPoint reinterprets a raw address as a callable function value. A Go
// func value points at a word holding the code address, so addr is stored
// in a word of its own and a pointer to that word is cast to EntryPoint.
func entryPoint(addr uintptr) EntryPoint {
	code := new(uintptr)
	*code = addr
	return *(*EntryPoint)(unsafe.Pointer(&code))
}

// Load validates h as an rv64 ET_EXEC ELF image, places every PT_LOAD
// segment into [WindowStart, WindowEnd), zero-fills each segment's bss
// tail, and returns the entry address as a callable pointer. Any
// validation failure returns bad-format; a short read returns i/o; errors
// from h propagate unchanged.
func Load(h *io.Handle) (EntryPoint, *kernelerr.Error) {
	fileSize, err := fileSize(h)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, headerSize)
	if err := readAt(h, 0, raw); err != nil {
		return nil, err
	}

	hdr, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}

	phTableEnd := hdr.phOff + uint64(hdr.phNum)*uint64(hdr.phEntSize)
	if hdr.phNum == 0 || phTableEnd > fileSize {
		return nil, badFormat("program header table does not fit inside the file")
	}

	for i := uint16(0); i < hdr.phNum; i++ {
		phdr := make([]byte, phdrSize)
		if err := readAt(h, hdr.phOff+uint64(i)*uint64(hdr.phEntSize), phdr); err != nil {
			return nil, err
		}
		if err := loadSegment(h, phdr, fileSize); err != nil {
			return nil, err
		}
	}

	return entryPoint(uintptr(hdr.entry)), nil
}

func decodeHeader(raw []byte) (header, *kernelerr.Error) {
	var hdr header
	if len(raw) < headerSize {
		return hdr, badFormat("header shorter than 64 bytes")
	}
	if raw[0] != elfMagic[0] || raw[1] != elfMagic[1] || raw[2] != elfMagic[2] || raw[3] != elfMagic[3] {
		return hdr, badFormat("missing ELF magic")
	}
	if raw[4] != classELF64 {
		return hdr, badFormat("not a 64-bit ELF")
	}
	if raw[5] != dataLSB {
		return hdr, badFormat("not little-endian")
	}
	if raw[6] != versionCurrent {
		return hdr, badFormat("unsupported ELF version")
	}

	elfType := decodeU16LE(raw[16:])
	machine := decodeU16LE(raw[18:])
	if elfType != typeExec {
		return hdr, badFormat("not an executable (ET_EXEC) image")
	}
	if machine != machineRISCV {
		return hdr, badFormat("not a RISC-V image")
	}

	ehSize := decodeU16LE(raw[52:])
	phEntSize := decodeU16LE(raw[54:])
	phNum := decodeU16LE(raw[56:])
	if ehSize != headerSize || phEntSize != phdrSize {
		return hdr, badFormat("unexpected header size")
	}

	entry := decodeU64LE(raw[24:])
	if uintptr(entry) < WindowStart || uintptr(entry) >= WindowEnd {
		return hdr, badFormat("entry address outside the loader window")
	}

	hdr.entry = entry
	hdr.phOff = decodeU64LE(raw[32:])
	hdr.phEntSize = phEntSize
	hdr.phNum = phNum
	return hdr, nil
}

func loadSegment(h *io.Handle, phdr []byte, fileSize uint64) *kernelerr.Error {
	pType := decodeU32LE(phdr[0:])
	if pType != ptLoad {
		return nil
	}

	offset := decodeU64LE(phdr[8:])
	vaddr := decodeU64LE(phdr[16:])
	fileSz := decodeU64LE(phdr[32:])
	memSz := decodeU64LE(phdr[40:])

	if memSz < fileSz {
		return badFormat("segment mem_size smaller than file_size")
	}
	destStart := uintptr(vaddr)
	destEnd := destStart + uintptr(memSz)
	if destStart < WindowStart || destEnd > WindowEnd || destEnd < destStart {
		return badFormat("segment destination outside the loader window")
	}
	if offset+fileSz > fileSize || offset+fileSz < offset {
		return badFormat("segment file slice outside the file")
	}

	if fileSz > 0 {
		buf := make([]byte, fileSz)
		if err := readAt(h, offset, buf); err != nil {
			return err
		}
		copyToMemoryFn(destStart, buf)
	}
	if bssLen := memSz - fileSz; bssLen > 0 {
		zeroMemoryFn(destStart+uintptr(fileSz), uintptr(bssLen))
	}
	return nil
}

// readAt seeks h to pos and fills buf completely, returning i/o if the
// handle runs dry before buf is full.
func readAt(h *io.Handle, pos uint64, buf []byte) *kernelerr.Error {
	if _, err := h.Cntl(io.CntlSetPosition, pos); err != nil {
		return err
	}
	var got int
	for got < len(buf) {
		n, err := h.Read(buf[got:])
		if err != nil {
			return err
		}
		if n == 0 {
			return kernelerr.New(errModule, kernelerr.IO, "short read")
		}
		got += n
	}
	return nil
}

func fileSize(h *io.Handle) (uint64, *kernelerr.Error) {
	end, err := h.Cntl(io.CntlGetEnd, 0)
	if err != nil {
		return 0, err
	}
	return end, nil
}

func decodeU16LE(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func decodeU32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeU64LE(b []byte) uint64 {
	return uint64(decodeU32LE(b)) | uint64(decodeU32LE(b[4:]))<<32
}
