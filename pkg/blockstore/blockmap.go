package blockstore

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// BlockMap is one fixed-size region of a file mapped read/write into memory.
//
// mmap offsets must be page aligned while blocks start at an arbitrary file
// offset (the header is not a page multiple), so the mapping starts at the
// page containing the block and data is the block-sized window into it.
type BlockMap struct {
	index  int
	offset int64
	region []byte
	data   []byte
}

// MapBlock maps size bytes of f starting at fileOffset. The file is grown
// with a sparse truncate if it does not yet cover the block.
func MapBlock(f *os.File, index int, fileOffset int64, size int) (*BlockMap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: invalid block size %d", ErrOutOfBlockBounds, size)
	}

	end := fileOffset + int64(size)
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, f.Name(), err)
	}
	if info.Size() < end {
		if err := f.Truncate(end); err != nil {
			return nil, fmt.Errorf("%w: grow %s to %d bytes: %v", ErrIO, f.Name(), end, err)
		}
	}

	pageSize := int64(unix.Getpagesize())
	aligned := fileOffset &^ (pageSize - 1)
	delta := int(fileOffset - aligned)

	region, err := unix.Mmap(int(f.Fd()), aligned, delta+size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap block %d of %s: %v", ErrIO, index, f.Name(), err)
	}

	return &BlockMap{
		index:  index,
		offset: fileOffset,
		region: region,
		data:   region[delta : delta+size],
	}, nil
}

// Index returns the block's position in its store
func (b *BlockMap) Index() int {
	return b.index
}

// FileOffset returns the file offset of the block's first byte
func (b *BlockMap) FileOffset() int64 {
	return b.offset
}

// Size returns the block size in bytes
func (b *BlockMap) Size() int {
	return len(b.data)
}

func (b *BlockMap) checkBounds(offset, n int) error {
	if b.data == nil {
		return ErrClosed
	}
	if offset < 0 || n < 0 || uint64(offset)+uint64(n) > uint64(len(b.data)) {
		return fmt.Errorf("%w: block %d range [%d, %d) exceeds size %d",
			ErrOutOfBlockBounds, b.index, offset, offset+n, len(b.data))
	}
	return nil
}

// Put writes p at the block-local offset
func (b *BlockMap) Put(offset int, p []byte) error {
	if err := b.checkBounds(offset, len(p)); err != nil {
		return err
	}
	copy(b.data[offset:], p)
	return nil
}

// Get returns a copy of n bytes starting at the block-local offset
func (b *BlockMap) Get(offset, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := b.GetInto(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// GetInto fills dst from the block-local offset
func (b *BlockMap) GetInto(offset int, dst []byte) error {
	if err := b.checkBounds(offset, len(dst)); err != nil {
		return err
	}
	copy(dst, b.data[offset:])
	return nil
}

// Flush writes dirty pages of the block back to the file
func (b *BlockMap) Flush() error {
	if b.region == nil {
		return ErrClosed
	}
	if err := unix.Msync(b.region, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync block %d: %v", ErrIO, b.index, err)
	}
	return nil
}

// Unmap releases the mapping. The block is unusable afterwards.
func (b *BlockMap) Unmap() error {
	if b.region == nil {
		return nil
	}
	region := b.region
	b.region = nil
	b.data = nil
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("%w: munmap block %d: %v", ErrIO, b.index, err)
	}
	return nil
}
