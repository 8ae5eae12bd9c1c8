// Verify is a read-only consistency check supplementing spec.md's file
// system reader (SPEC_FULL.md §5), grounded on jnwhiteh-minixfs/cmd/fsck's
// role in that repo: walk the inode and block bitmaps, cross-check against
// every block an in-use inode actually reaches, and report blocks
// reachable from two inodes at once or marked allocated but reachable from
// none. It never writes back a repair — the writable-FS non-goal rules
// that out.
package fs

import "gopherv/kernel/kernelerr"

// VerifyReport lists the inconsistencies Verify found.
type VerifyReport struct {
	DoubleAllocatedBlocks []uint32
	OrphanedBlocks        []uint32
}

// Verify walks every in-use inode's reachable blocks and every allocated
// bitmap bit, reporting blocks reachable from more than one inode and
// blocks marked allocated but reachable from none.
func (f *FileSystem) Verify() (VerifyReport, *kernelerr.Error) {
	f.lock.Acquire()
	defer f.lock.Release()

	var report VerifyReport
	seen := map[uint32]bool{}
	mark := func(block uint32) {
		if block == 0 {
			return
		}
		if seen[block] {
			report.DoubleAllocatedBlocks = append(report.DoubleAllocatedBlocks, block)
			return
		}
		seen[block] = true
	}

	inodeCount := f.sb.InodeBlocks * inodesPerBlock
	for num := uint32(0); num < inodeCount; num++ {
		used, err := f.bitmapBit(f.inodeBitmapStart, num)
		if err != nil {
			return report, err
		}
		if !used {
			continue
		}
		ino, err := f.loadInode(num)
		if err != nil {
			return report, err
		}
		if err := f.walkInodeBlocks(&ino, mark); err != nil {
			return report, err
		}
	}

	if f.sb.BlockCount > f.dataStart {
		dataBlocks := f.sb.BlockCount - f.dataStart
		for i := uint32(0); i < dataBlocks; i++ {
			allocated, err := f.bitmapBit(f.blockBitmapStart, i)
			if err != nil {
				return report, err
			}
			block := f.dataStart + i
			if allocated && !seen[block] {
				report.OrphanedBlocks = append(report.OrphanedBlocks, block)
			}
		}
	}
	return report, nil
}

func (f *FileSystem) walkInodeBlocks(ino *Inode, mark func(uint32)) *kernelerr.Error {
	for _, d := range ino.Direct {
		mark(d)
	}
	if ino.Indirect != 0 {
		mark(ino.Indirect)
		if err := f.walkPointerBlock(ino.Indirect, mark); err != nil {
			return err
		}
	}
	for _, di := range ino.DIndirect {
		if di == 0 {
			continue
		}
		mark(di)
		if err := f.walkDIndirectBlock(di, mark); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileSystem) walkPointerBlock(block uint32, mark func(uint32)) *kernelerr.Error {
	b, err := f.cache.Get(uint64(block) * BlockSize)
	if err != nil {
		return err
	}
	for i := 0; i < pointersPerBlock; i++ {
		mark(decodeUint32LE(b.Data[i*4:]))
	}
	f.cache.Release(b, false)
	return nil
}

func (f *FileSystem) walkDIndirectBlock(block uint32, mark func(uint32)) *kernelerr.Error {
	b, err := f.cache.Get(uint64(block) * BlockSize)
	if err != nil {
		return err
	}
	var level1 [pointersPerBlock]uint32
	for i := 0; i < pointersPerBlock; i++ {
		level1[i] = decodeUint32LE(b.Data[i*4:])
	}
	f.cache.Release(b, false)

	for _, l1 := range level1 {
		if l1 == 0 {
			continue
		}
		mark(l1)
		if err := f.walkPointerBlock(l1, mark); err != nil {
			return err
		}
	}
	return nil
}

// bitmapBit reads bit idx of the byte-packed bitmap region starting at
// startBlock (8 bits per byte, byte-per-bit indices accumulating across
// block boundaries).
func (f *FileSystem) bitmapBit(startBlock uint32, idx uint32) (bool, *kernelerr.Error) {
	byteIdx := idx / 8
	bitIdx := idx % 8
	block := startBlock + byteIdx/BlockSize
	withinBlock := byteIdx % BlockSize

	b, err := f.cache.Get(uint64(block) * BlockSize)
	if err != nil {
		return false, err
	}
	bit := b.Data[withinBlock]&(1<<bitIdx) != 0
	f.cache.Release(b, false)
	return bit, nil
}
