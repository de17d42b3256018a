// Package blockstore implements an append-only byte store over a file,
// memory-mapped as a growing sequence of fixed-size blocks.
//
// Block i covers file bytes [base + i*blockSize, base + (i+1)*blockSize),
// where base is the size of a header region the store never touches. Blocks
// are mapped lazily, strictly in order, and stay mapped until Unmap or Close.
// Appended byte ranges may start and end anywhere and span any number of
// blocks; the store keeps no per-record framing.
package blockstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/KevoDB/recstore/pkg/common/log"
)

var (
	// ErrOutOfRange is returned when a read extends past the committed bytes
	ErrOutOfRange = errors.New("read out of range")
	// ErrOutOfBlockBounds indicates broken block arithmetic and is always a bug
	ErrOutOfBlockBounds = errors.New("access out of block bounds")
	// ErrIO wraps failures of the underlying file or mapping operations
	ErrIO = errors.New("i/o failure")
	// ErrClosed is returned when operating on an unmapped or closed store
	ErrClosed = errors.New("block store is closed")
)

// Store is an append-only byte stream spanning fixed-size mapped blocks.
// A Store is not safe for concurrent writers; concurrent Reads are safe
// while no Append is in flight.
type Store struct {
	file      *os.File
	base      int64
	blockSize uint64
	blocks    []*BlockMap
	cursor    uint64
	closed    bool
	unmapped  bool

	truncateOnClose bool
	onAllocate      func(index int)
	logger          log.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for allocation and cleanup messages
func WithLogger(logger log.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithAllocateHook registers fn to be called after each new block is mapped
func WithAllocateHook(fn func(index int)) Option {
	return func(s *Store) {
		s.onAllocate = fn
	}
}

// WithTruncateOnClose controls whether Close shrinks the file to
// base+Size(). Mapping rounds the file up to a block boundary; truncating
// leaves the file length equal to the logical length. Enabled by default.
func WithTruncateOnClose(enabled bool) Option {
	return func(s *Store) {
		s.truncateOnClose = enabled
	}
}

// New creates an empty store over f. The store takes ownership of f.
func New(f *os.File, base int64, blockSize uint64, opts ...Option) (*Store, error) {
	return Open(f, base, blockSize, 0, opts...)
}

// Open creates a store over f whose first size bytes (after base) are
// already committed. Every block covering those bytes is mapped before
// Open returns. The store takes ownership of f.
func Open(f *os.File, base int64, blockSize uint64, size uint64, opts ...Option) (*Store, error) {
	if f == nil {
		return nil, errors.New("file cannot be nil")
	}
	if blockSize == 0 || blockSize > uint64(maxInt) {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	if base < 0 {
		return nil, fmt.Errorf("invalid base offset %d", base)
	}

	s := &Store{
		file:            f,
		base:            base,
		blockSize:       blockSize,
		truncateOnClose: true,
		logger:          log.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	needed := blocksFor(size, blockSize)
	for uint64(len(s.blocks)) < needed {
		if _, err := s.allocate(); err != nil {
			s.Unmap()
			return nil, err
		}
	}
	s.cursor = size

	return s, nil
}

const maxInt = int(^uint(0) >> 1)

// blocksFor returns ceil(n / blockSize)
func blocksFor(n, blockSize uint64) uint64 {
	if n == 0 {
		return 0
	}
	return (n-1)/blockSize + 1
}

// Size returns the number of committed bytes
func (s *Store) Size() uint64 {
	return s.cursor
}

// BlockSize returns the size of every block
func (s *Store) BlockSize() uint64 {
	return s.blockSize
}

// BlocksAllocated returns the number of mapped blocks
func (s *Store) BlocksAllocated() int {
	return len(s.blocks)
}

// Capacity returns the number of bytes the mapped blocks can hold
func (s *Store) Capacity() uint64 {
	return uint64(len(s.blocks)) * s.blockSize
}

// File returns the backing file
func (s *Store) File() *os.File {
	return s.file
}

// usable returns ErrClosed once the store was closed or its blocks released
func (s *Store) usable() error {
	if s.closed || s.unmapped {
		return ErrClosed
	}
	return nil
}

func (s *Store) allocate() (*BlockMap, error) {
	index := len(s.blocks)
	offset := s.base + int64(uint64(index)*s.blockSize)
	block, err := MapBlock(s.file, index, offset, int(s.blockSize))
	if err != nil {
		return nil, err
	}
	s.blocks = append(s.blocks, block)
	s.logger.Debug("Mapped block %d of %s at file offset %d", block.Index(), s.file.Name(), block.FileOffset())
	if s.onAllocate != nil {
		s.onAllocate(block.Index())
	}
	return block, nil
}

// Reserve maps enough blocks for n more bytes to be appended without
// further allocation. The cursor does not move.
func (s *Store) Reserve(n uint64) error {
	if err := s.usable(); err != nil {
		return err
	}
	needed := blocksFor(s.cursor+n, s.blockSize)
	for uint64(len(s.blocks)) < needed {
		if _, err := s.allocate(); err != nil {
			return err
		}
	}
	return nil
}

// Append writes p after the committed bytes and returns the offset at which
// it starts. Bytes that do not fit the space left in the last block go into
// newly mapped blocks, ceil((len(p)-remaining)/blockSize) of them. The
// cursor only moves once every byte is written, so a failed Append leaves
// the committed range unchanged. Empty appends return the cursor and map
// nothing.
func (s *Store) Append(p []byte) (uint64, error) {
	if err := s.usable(); err != nil {
		return 0, err
	}
	start := s.cursor
	if len(p) == 0 {
		return start, nil
	}

	pos := start
	written := 0
	for written < len(p) {
		blockIdx := pos / s.blockSize
		local := pos % s.blockSize

		var block *BlockMap
		if blockIdx < uint64(len(s.blocks)) {
			block = s.blocks[blockIdx]
		} else {
			var err error
			if block, err = s.allocate(); err != nil {
				return 0, err
			}
		}

		n := min(uint64(len(p)-written), s.blockSize-local)
		if err := block.Put(int(local), p[written:written+int(n)]); err != nil {
			return 0, err
		}
		written += int(n)
		pos += n
	}

	s.cursor = pos
	return start, nil
}

// Read returns a copy of length bytes starting at offset. The range is
// checked against the committed size before anything is allocated.
func (s *Store) Read(offset, length uint64) ([]byte, error) {
	if err := s.checkRead(offset, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if err := s.ReadInto(offset, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Store) checkRead(offset, length uint64) error {
	if err := s.usable(); err != nil {
		return err
	}
	end := offset + length
	if end < offset || end > s.cursor {
		return fmt.Errorf("%w: [%d, +%d) beyond committed size %d",
			ErrOutOfRange, offset, length, s.cursor)
	}
	return nil
}

// ReadInto fills dst with the committed bytes starting at offset
func (s *Store) ReadInto(offset uint64, dst []byte) error {
	length := uint64(len(dst))
	if err := s.checkRead(offset, length); err != nil {
		return err
	}

	blockIdx := offset / s.blockSize
	local := offset % s.blockSize
	done := uint64(0)
	for done < length {
		if blockIdx >= uint64(len(s.blocks)) {
			return fmt.Errorf("%w: block %d not mapped", ErrOutOfBlockBounds, blockIdx)
		}
		n := min(length-done, s.blockSize-local)
		if err := s.blocks[blockIdx].GetInto(int(local), dst[done:done+n]); err != nil {
			return err
		}
		done += n
		blockIdx++
		local = 0
	}
	return nil
}

// Truncate moves the cursor back to size, discarding the bytes after it.
// Mapped blocks are kept and reused by later appends.
func (s *Store) Truncate(size uint64) error {
	if err := s.usable(); err != nil {
		return err
	}
	if size > s.cursor {
		return fmt.Errorf("%w: cannot truncate to %d, size is %d", ErrOutOfRange, size, s.cursor)
	}
	s.cursor = size
	return nil
}

// Sync flushes every mapped block to the file
func (s *Store) Sync() error {
	if err := s.usable(); err != nil {
		return err
	}
	for _, b := range s.blocks {
		if err := b.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Unmap releases every mapped block. All blocks are attempted; the
// returned error joins the individual failures. Afterwards only Close
// is allowed; every other operation returns ErrClosed.
func (s *Store) Unmap() error {
	s.unmapped = true
	var errs []error
	for _, b := range s.blocks {
		if err := b.Unmap(); err != nil {
			errs = append(errs, err)
		}
	}
	s.blocks = nil
	return errors.Join(errs...)
}

// Close unmaps any remaining blocks, trims the file to its logical length
// and closes it. Unmap failures are logged and do not fail Close.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}

	if err := s.Unmap(); err != nil {
		s.logger.Warn("Failed to unmap blocks of %s: %v", s.file.Name(), err)
	}
	s.closed = true

	var truncErr error
	if s.truncateOnClose {
		if err := s.file.Truncate(s.base + int64(s.cursor)); err != nil {
			truncErr = fmt.Errorf("%w: truncate %s: %v", ErrIO, s.file.Name(), err)
		}
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIO, s.file.Name(), err)
	}
	return truncErr
}
