package fs

import (
	"testing"

	"gopherv/kernel/heap"
	"gopherv/kernel/kernelerr"
	"gopherv/kernel/thread"

	"gopherv/fs/bcache"
	"gopherv/io"
)

// diskImage is a bcache.Backing over an in-memory, block-indexed byte
// image, standing in for the VirtIO block device a real mount would use.
type diskImage struct {
	blocks map[uint64][]byte
}

func newDiskImage() *diskImage {
	return &diskImage{blocks: map[uint64][]byte{}}
}

func (d *diskImage) setBlock(blockIdx uint32, data []byte) {
	buf := make([]byte, BlockSize)
	copy(buf, data)
	d.blocks[uint64(blockIdx)*BlockSize] = buf
}

func (d *diskImage) Fetch(pos uint64, buf []byte) (int, *kernelerr.Error) {
	if data, ok := d.blocks[pos]; ok {
		copy(buf, data)
	}
	return len(buf), nil
}

func (d *diskImage) Store(pos uint64, buf []byte) (int, *kernelerr.Error) {
	data := make([]byte, len(buf))
	copy(data, buf)
	d.blocks[pos] = data
	return len(buf), nil
}

func putU32LE(buf []byte, off int, v uint32) {
	buf[off] = byte(v)
	buf[off+1] = byte(v >> 8)
	buf[off+2] = byte(v >> 16)
	buf[off+3] = byte(v >> 24)
}

func encodeSuperblock(sb Superblock) []byte {
	buf := make([]byte, BlockSize)
	putU32LE(buf, 0, sb.BlockCount)
	putU32LE(buf, 4, sb.InodeBitmapBlocks)
	putU32LE(buf, 8, sb.BlockBitmapBlocks)
	putU32LE(buf, 12, sb.InodeBlocks)
	putU32LE(buf, 16, sb.RootInode)
	return buf
}

func encodeInode(ino Inode) []byte {
	buf := make([]byte, inodeSize)
	putU32LE(buf, 0, ino.Size)
	off := 4
	for i := 0; i < DirectCount; i++ {
		putU32LE(buf, off, ino.Direct[i])
		off += 4
	}
	putU32LE(buf, off, ino.Indirect)
	off += 4
	for i := 0; i < DIndirectCount; i++ {
		putU32LE(buf, off, ino.DIndirect[i])
		off += 4
	}
	return buf
}

func encodeDirent(inodeNum uint32, name string) []byte {
	buf := make([]byte, direntSize)
	putU32LE(buf, 0, inodeNum)
	copy(buf[4:], name)
	return buf
}

func putInodeTableEntry(block []byte, slot int, ino Inode) {
	copy(block[slot*inodeSize:], encodeInode(ino))
}

func fill(n int, b byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// newTestFS builds a fresh heap/thread/cache stack and mounts image through
// it, matching the other packages' fakeX(t) helper pattern.
func newTestFS(t *testing.T, image *diskImage) *FileSystem {
	t.Helper()
	var alloc heap.Allocator
	const ramStart = 0x97000000
	if err := alloc.Init(ramStart, ramStart+4*1024*1024); err != nil {
		t.Fatalf("heap init failed: %v", err)
	}
	if err := thread.Init(&alloc, 1); err != nil {
		t.Fatalf("thread init failed: %v", err)
	}

	var cache bcache.Cache
	if err := cache.Init(&alloc, image, BlockSize); err != nil {
		t.Fatalf("cache init failed: %v", err)
	}

	f, err := Mount(&cache, "/")
	if err != nil {
		t.Fatalf("mount failed: %v", err)
	}
	return f
}

// helloImage is spec.md §8's seed-scenario image: block 3 is the inode
// table, block 4 the root directory, block 5 holds "TEST".
func helloImage() *diskImage {
	img := newDiskImage()
	img.setBlock(0, encodeSuperblock(Superblock{
		BlockCount:        64,
		InodeBitmapBlocks: 1,
		BlockBitmapBlocks: 1,
		InodeBlocks:       1,
		RootInode:         0,
	}))

	inodeTable := make([]byte, BlockSize)
	putInodeTableEntry(inodeTable, 0, Inode{Size: direntSize, Direct: [DirectCount]uint32{4}})
	putInodeTableEntry(inodeTable, 1, Inode{Size: 4, Direct: [DirectCount]uint32{5}})
	img.setBlock(3, inodeTable)

	dir := make([]byte, BlockSize)
	copy(dir, encodeDirent(1, "hello"))
	img.setBlock(4, dir)

	img.setBlock(5, []byte("TEST"))
	return img
}

func TestSeedScenario5OpenReadHello(t *testing.T) {
	f := newTestFS(t, helloImage())

	file, err := f.Open("hello")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	buf := make([]byte, 4)
	n, rerr := file.Read(buf)
	if rerr != nil {
		t.Fatalf("unexpected read error: %v", rerr)
	}
	if n != 4 || string(buf) != "TEST" {
		t.Fatalf("expected to read \"TEST\"; got %q (n=%d)", buf[:n], n)
	}

	pos, rerr := file.Cntl(io.CntlGetPosition, 0)
	if rerr != nil {
		t.Fatalf("unexpected cntl error: %v", rerr)
	}
	if pos != 4 {
		t.Fatalf("expected get-position to report 4; got %d", pos)
	}

	end, rerr := file.Cntl(io.CntlGetEnd, 0)
	if rerr != nil {
		t.Fatalf("unexpected cntl error: %v", rerr)
	}
	if end != 4 {
		t.Fatalf("expected get-end to report 4; got %d", end)
	}
}

func TestReopenIdempotent(t *testing.T) {
	f := newTestFS(t, helloImage())

	first, err := f.Open("hello")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	buf1 := make([]byte, 4)
	n1, rerr := first.Read(buf1)
	if rerr != nil {
		t.Fatalf("unexpected read error: %v", rerr)
	}

	second, err := f.Open("hello")
	if err != nil {
		t.Fatalf("unexpected reopen error: %v", err)
	}
	buf2 := make([]byte, 4)
	n2, rerr := second.Read(buf2)
	if rerr != nil {
		t.Fatalf("unexpected read error on reopen: %v", rerr)
	}

	if n1 != n2 || string(buf1[:n1]) != string(buf2[:n2]) {
		t.Fatalf("expected identical bytes and length on reopen; got %q/%d and %q/%d", buf1[:n1], n1, buf2[:n2], n2)
	}
}

func TestOpenRejectsBadPaths(t *testing.T) {
	f := newTestFS(t, helloImage())

	for _, path := range []string{"", "\\", "/foo/bar", "a/b"} {
		if _, err := f.Open(path); err == nil || err.Kind != kernelerr.NotSupported {
			t.Fatalf("expected not-supported for path %q; got %v", path, err)
		}
	}
}

func TestOpenMissingNameReturnsNoSuchEntry(t *testing.T) {
	f := newTestFS(t, helloImage())

	if _, err := f.Open("nope"); err == nil || err.Kind != kernelerr.NoSuchEntry {
		t.Fatalf("expected no-such-entry for a missing name; got %v", err)
	}
}

// indirectImage is spec.md §8 seed scenario 6's richer image: a file
// "indirect" whose four direct blocks are 'A'..'D' and whose first
// single-indirect data block is 'E'.
func indirectImage() *diskImage {
	img := newDiskImage()
	img.setBlock(0, encodeSuperblock(Superblock{
		BlockCount:        32,
		InodeBitmapBlocks: 1,
		BlockBitmapBlocks: 1,
		InodeBlocks:       1,
		RootInode:         0,
	}))

	inodeTable := make([]byte, BlockSize)
	putInodeTableEntry(inodeTable, 0, Inode{Size: direntSize, Direct: [DirectCount]uint32{4}})
	putInodeTableEntry(inodeTable, 1, Inode{
		Size:     5 * BlockSize,
		Direct:   [DirectCount]uint32{5, 6, 7, 8},
		Indirect: 9,
	})
	img.setBlock(3, inodeTable)

	dir := make([]byte, BlockSize)
	copy(dir, encodeDirent(1, "indirect"))
	img.setBlock(4, dir)

	img.setBlock(5, fill(BlockSize, 'A'))
	img.setBlock(6, fill(BlockSize, 'B'))
	img.setBlock(7, fill(BlockSize, 'C'))
	img.setBlock(8, fill(BlockSize, 'D'))

	indirectBlock := make([]byte, BlockSize)
	putU32LE(indirectBlock, 0, 10)
	img.setBlock(9, indirectBlock)
	img.setBlock(10, fill(BlockSize, 'E'))

	return img
}

func TestSeedScenario6DirectToSingleIndirectBoundary(t *testing.T) {
	f := newTestFS(t, indirectImage())

	file, err := f.Open("indirect")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	const offset = 4*BlockSize - 8
	if _, err := file.Cntl(io.CntlSetPosition, offset); err != nil {
		t.Fatalf("unexpected set-position error: %v", err)
	}

	buf := make([]byte, 16)
	n, rerr := file.Read(buf)
	if rerr != nil {
		t.Fatalf("unexpected read error: %v", rerr)
	}
	if n != 16 {
		t.Fatalf("expected to read 16 bytes; got %d", n)
	}
	for i := 0; i < 8; i++ {
		if buf[i] != 'D' {
			t.Fatalf("expected the first 8 bytes to be 'D'; byte %d was %q", i, buf[i])
		}
	}
	for i := 8; i < 16; i++ {
		if buf[i] != 'E' {
			t.Fatalf("expected the next 8 bytes to be 'E'; byte %d was %q", i, buf[i])
		}
	}
}

// doubleIndirectImage fills logical block D+B/4 (the first double-indirect
// block) with known content ('Z'), per spec.md §8's boundary case.
func doubleIndirectImage() *diskImage {
	img := newDiskImage()
	img.setBlock(0, encodeSuperblock(Superblock{
		BlockCount:        32,
		InodeBitmapBlocks: 1,
		BlockBitmapBlocks: 1,
		InodeBlocks:       1,
		RootInode:         0,
	}))

	const logical = DirectCount + pointersPerBlock // first double-indirect logical block
	size := uint32(logical+1) * BlockSize

	inodeTable := make([]byte, BlockSize)
	putInodeTableEntry(inodeTable, 0, Inode{Size: direntSize, Direct: [DirectCount]uint32{4}})
	putInodeTableEntry(inodeTable, 1, Inode{
		Size:      size,
		DIndirect: [DIndirectCount]uint32{6},
	})
	img.setBlock(3, inodeTable)

	dir := make([]byte, BlockSize)
	copy(dir, encodeDirent(1, "double"))
	img.setBlock(4, dir)

	level1 := make([]byte, BlockSize)
	putU32LE(level1, 0, 7)
	img.setBlock(6, level1)

	level2 := make([]byte, BlockSize)
	putU32LE(level2, 0, 8)
	img.setBlock(7, level2)

	img.setBlock(8, fill(BlockSize, 'Z'))
	return img
}

func TestDoubleIndirectRead(t *testing.T) {
	f := newTestFS(t, doubleIndirectImage())

	file, err := f.Open("double")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	const logical = DirectCount + pointersPerBlock
	if _, err := file.Cntl(io.CntlSetPosition, uint64(logical)*BlockSize); err != nil {
		t.Fatalf("unexpected set-position error: %v", err)
	}

	buf := make([]byte, 1)
	n, rerr := file.Read(buf)
	if rerr != nil {
		t.Fatalf("unexpected read error: %v", rerr)
	}
	if n != 1 || buf[0] != 'Z' {
		t.Fatalf("expected the first double-indirect byte to be 'Z'; got %q (n=%d)", buf[0], n)
	}
}
