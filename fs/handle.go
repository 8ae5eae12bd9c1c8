package fs

import (
	"gopherv/kernel/kernelerr"

	"gopherv/io"
)

// File is the file-handle record spec.md §3 describes: a uniform-I/O
// base plus cached inode, matched directory entry, position, and size.
// Invariant: 0 <= position <= size.
type File struct {
	*io.Handle

	fs       *FileSystem
	inode    Inode
	entry    DirEntry
	position uint32
	size     uint32
}

func (f *FileSystem) newFile(ino Inode, ent DirEntry) *File {
	file := &File{fs: f, inode: ino, entry: ent, size: ino.Size}
	file.Handle = io.New(io.VTable{
		Read: file.read,
		Cntl: file.cntl,
	})
	return file
}

// read implements spec.md §4.7's Read: walks block by block, copying at
// most min(len(buf), size-position) bytes. A mapping or cache error
// surfaces immediately if nothing has been delivered yet; once bytes have
// been delivered, the short count is returned instead.
func (f *File) read(buf []byte) (int, *kernelerr.Error) {
	f.fs.lock.Acquire()
	defer f.fs.lock.Release()

	remaining := f.size - f.position
	want := uint32(len(buf))
	if want > remaining {
		want = remaining
	}
	if want == 0 {
		return 0, nil
	}

	var delivered uint32
	for delivered < want {
		logical := f.position / BlockSize
		offset := f.position % BlockSize
		sliceLen := BlockSize - offset
		if sliceLen > want-delivered {
			sliceLen = want - delivered
		}

		physical, err := f.fs.mapBlock(&f.inode, logical)
		if err != nil {
			if delivered == 0 {
				return 0, err
			}
			return int(delivered), nil
		}

		b, err := f.fs.cache.Get(uint64(physical) * BlockSize)
		if err != nil {
			if delivered == 0 {
				return 0, err
			}
			return int(delivered), nil
		}
		copy(buf[delivered:delivered+sliceLen], b.Data[offset:offset+sliceLen])
		f.fs.cache.Release(b, false)

		f.position += sliceLen
		delivered += sliceLen
	}
	return int(delivered), nil
}

// cntl implements spec.md §4.7's Control: get-end, get-position,
// set-position (bounded by size). set-end and write are not supported.
func (f *File) cntl(op io.CntlOp, arg uint64) (uint64, *kernelerr.Error) {
	switch op {
	case io.CntlGetEnd:
		return uint64(f.size), nil
	case io.CntlGetPosition:
		return uint64(f.position), nil
	case io.CntlSetPosition:
		if arg > uint64(f.size) {
			return 0, kernelerr.New(errModule, kernelerr.InvalidArgument, "set-position beyond size")
		}
		f.position = uint32(arg)
		return arg, nil
	default:
		return 0, kernelerr.New(errModule, kernelerr.NotSupported, "operation not supported on a file handle")
	}
}
