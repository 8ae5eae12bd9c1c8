// Package fs implements the read-only file-system reader described in
// spec.md §4.7: superblock, inode table, direct/single-indirect/double-
// indirect block mapping, directory scan, and mount over fs/bcache.
//
// Superblock/inode/directory-entry field order and the direct/indirect/
// double-indirect block-kind vocabulary are grounded on
// jnwhiteh-minixfs's pkg/minixfs/blocks.go and pkg/minixfs/bitmap,
// adapted from Minix's 16-bit zone-bitmap words to this format's byte-
// packed bitmaps and from Minix's variable zone size to spec.md §4.7's
// fixed 512-byte blocks.
package fs

import (
	"strings"

	"gopherv/kernel/kernelerr"
	"gopherv/kernel/thread"

	"gopherv/fs/bcache"
)

const errModule = "fs"

// BlockSize is the on-disk block size B, per spec.md §4.7.
const BlockSize = 512

// DirectCount (D) and DIndirectCount (DD) size an inode's direct and
// double-indirect pointer arrays. D = 4 is the smallest value for which
// spec.md §8's double-indirect boundary case (logical block D + B/4) and
// seed scenario 6 (the direct-to-single-indirect transition at logical
// block 4) both land where the spec describes; DD = 1 is the smallest
// value the format's "some number of double-indirect pointers" wording
// permits.
const (
	DirectCount    = 4
	DIndirectCount = 1
)

// MaxNameLen bounds a directory entry's name, chosen so the encoded entry
// (4-byte inode number + MaxNameLen+1 name bytes) divides BlockSize evenly.
const MaxNameLen = 27

const pointersPerBlock = BlockSize / 4

const direntSize = 4 + MaxNameLen + 1
const dirEntriesPerBlock = BlockSize / direntSize

// inodeSize is the padded on-disk inode record size; the encoded fields
// (size + D direct pointers + 1 indirect pointer + DD double-indirect
// pointers) take 4+DirectCount*4+4+DIndirectCount*4 = 28 bytes with
// DirectCount=4, DIndirectCount=1, padded to 32 for a clean
// inodes-per-block division.
const inodeSize = 32
const inodesPerBlock = BlockSize / inodeSize

// Superblock mirrors the five little-endian uint32 fields at block 0,
// per spec.md §6.
type Superblock struct {
	BlockCount        uint32
	InodeBitmapBlocks uint32
	BlockBitmapBlocks uint32
	InodeBlocks       uint32
	RootInode         uint32
}

// Inode is the on-disk inode record: size in bytes plus the direct,
// single-indirect, and double-indirect block pointers.
type Inode struct {
	Size      uint32
	Direct    [DirectCount]uint32
	Indirect  uint32
	DIndirect [DIndirectCount]uint32
}

// DirEntry is one on-disk directory entry: an inode number and a
// null-terminated, possibly-truncated name.
type DirEntry struct {
	InodeNumber uint32
	Name        [MaxNameLen + 1]byte
}

// FileSystem is a mounted instance: a cache reference, the parsed
// superblock, and the region starts derived from it.
type FileSystem struct {
	lock thread.Lock

	cache      *bcache.Cache
	mountPoint string
	sb         Superblock

	inodeBitmapStart uint32
	blockBitmapStart uint32
	inodeTableStart  uint32
	dataStart        uint32
}

// Mount fetches the superblock through cache, derives the on-disk
// region starts, and returns a mounted FileSystem attached under
// mountPoint. Fails `not-supported` if the cache's block size does not
// match this format's fixed block size.
func Mount(cache *bcache.Cache, mountPoint string) (*FileSystem, *kernelerr.Error) {
	if cache.BlockSize() != BlockSize {
		return nil, kernelerr.New(errModule, kernelerr.NotSupported, "cache block size does not match the file system's block size")
	}

	b, err := cache.Get(0)
	if err != nil {
		return nil, err
	}
	var sb Superblock
	decodeSuperblock(&sb, b.Data)
	cache.Release(b, false)

	f := &FileSystem{cache: cache, mountPoint: mountPoint, sb: sb}
	f.inodeBitmapStart = 1
	f.blockBitmapStart = f.inodeBitmapStart + sb.InodeBitmapBlocks
	f.inodeTableStart = f.blockBitmapStart + sb.BlockBitmapBlocks
	f.dataStart = f.inodeTableStart + sb.InodeBlocks
	return f, nil
}

// MountPoint returns the name this file system was mounted under.
func (f *FileSystem) MountPoint() string { return f.mountPoint }

func (f *FileSystem) loadInode(num uint32) (Inode, *kernelerr.Error) {
	block := f.inodeTableStart + num/inodesPerBlock
	offset := (num % inodesPerBlock) * inodeSize

	b, err := f.cache.Get(uint64(block) * BlockSize)
	if err != nil {
		return Inode{}, err
	}
	var ino Inode
	decodeInode(&ino, b.Data[offset:offset+inodeSize])
	f.cache.Release(b, false)
	return ino, nil
}

// readPointer fetches block through the cache and returns the uint32
// stored at the given pointer index within it. A zero block number is a
// null pointer along the mapping chain, per spec.md §4.7.
func (f *FileSystem) readPointer(block uint32, index uint32) (uint32, *kernelerr.Error) {
	if block == 0 {
		return 0, kernelerr.New(errModule, kernelerr.NoSuchEntry, "null pointer in block mapping chain")
	}
	b, err := f.cache.Get(uint64(block) * BlockSize)
	if err != nil {
		return 0, err
	}
	v := decodeUint32LE(b.Data[index*4:])
	f.cache.Release(b, false)
	return v, nil
}

// mapBlock resolves logical block index l of ino to a physical block
// number, per spec.md §4.7's direct/single-indirect/double-indirect
// algorithm.
func (f *FileSystem) mapBlock(ino *Inode, l uint32) (uint32, *kernelerr.Error) {
	switch {
	case l < DirectCount:
		ptr := ino.Direct[l]
		if ptr == 0 {
			return 0, kernelerr.New(errModule, kernelerr.NoSuchEntry, "unmapped direct block")
		}
		return ptr, nil

	case l < DirectCount+pointersPerBlock:
		return f.readPointer(ino.Indirect, l-DirectCount)

	default:
		l -= DirectCount + pointersPerBlock
		dIdx := l / (pointersPerBlock * pointersPerBlock)
		rem := l % (pointersPerBlock * pointersPerBlock)
		level1Offset := rem / pointersPerBlock
		level2Offset := rem % pointersPerBlock
		if dIdx >= DIndirectCount {
			return 0, kernelerr.New(errModule, kernelerr.NoSuchEntry, "logical block beyond the double-indirect range")
		}
		level1Block, err := f.readPointer(ino.DIndirect[dIdx], level1Offset)
		if err != nil {
			return 0, err
		}
		return f.readPointer(level1Block, level2Offset)
	}
}

// validatePath rejects the root-listing and path-separator cases spec.md
// §4.7's Open describes, returning the bare name to search for.
func validatePath(path string) (string, *kernelerr.Error) {
	if path == "" || path == "\\" {
		return "", kernelerr.New(errModule, kernelerr.NotSupported, "root listing is not supported")
	}
	trimmed := strings.TrimLeft(path, "/")
	if trimmed == "" {
		return "", kernelerr.New(errModule, kernelerr.NotSupported, "root listing is not supported")
	}
	if strings.Contains(trimmed, "/") {
		return "", kernelerr.New(errModule, kernelerr.NotSupported, "embedded path separators are not supported")
	}
	return trimmed, nil
}

func direntNameString(raw []byte) string {
	n := len(raw)
	for i, c := range raw {
		if c == 0 {
			n = i
			break
		}
	}
	return string(raw[:n])
}

// Open scans the root directory for name, returning a newly allocated
// File positioned at 0, or `no-such-entry` if name is not present.
func (f *FileSystem) Open(path string) (*File, *kernelerr.Error) {
	name, verr := validatePath(path)
	if verr != nil {
		return nil, verr
	}

	f.lock.Acquire()
	defer f.lock.Release()

	root, err := f.loadInode(f.sb.RootInode)
	if err != nil {
		return nil, err
	}

	total := root.Size / direntSize
	for i := uint32(0); i < total; i++ {
		logical := i / dirEntriesPerBlock
		within := i % dirEntriesPerBlock

		physical, err := f.mapBlock(&root, logical)
		if err != nil {
			return nil, err
		}
		b, err := f.cache.Get(uint64(physical) * BlockSize)
		if err != nil {
			return nil, err
		}
		var ent DirEntry
		decodeDirEntry(&ent, b.Data[within*direntSize:within*direntSize+direntSize])
		f.cache.Release(b, false)

		if ent.InodeNumber == 0 || ent.Name[0] == 0 {
			continue
		}
		if direntNameString(ent.Name[:]) != name {
			continue
		}

		ino, err := f.loadInode(ent.InodeNumber)
		if err != nil {
			return nil, err
		}
		return f.newFile(ino, ent), nil
	}
	return nil, kernelerr.New(errModule, kernelerr.NoSuchEntry, "no such directory entry")
}

func decodeUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decodeSuperblock(sb *Superblock, buf []byte) {
	sb.BlockCount = decodeUint32LE(buf[0:])
	sb.InodeBitmapBlocks = decodeUint32LE(buf[4:])
	sb.BlockBitmapBlocks = decodeUint32LE(buf[8:])
	sb.InodeBlocks = decodeUint32LE(buf[12:])
	sb.RootInode = decodeUint32LE(buf[16:])
}

func decodeInode(ino *Inode, buf []byte) {
	ino.Size = decodeUint32LE(buf[0:])
	off := 4
	for i := 0; i < DirectCount; i++ {
		ino.Direct[i] = decodeUint32LE(buf[off:])
		off += 4
	}
	ino.Indirect = decodeUint32LE(buf[off:])
	off += 4
	for i := 0; i < DIndirectCount; i++ {
		ino.DIndirect[i] = decodeUint32LE(buf[off:])
		off += 4
	}
}

func decodeDirEntry(ent *DirEntry, buf []byte) {
	ent.InodeNumber = decodeUint32LE(buf[0:])
	copy(ent.Name[:], buf[4:4+len(ent.Name)])
}
