package blockstore

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

const testBase = 24

func createTestFile(t *testing.T) (*os.File, string) {
	path := filepath.Join(t.TempDir(), "blocks.bin")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	return f, path
}

func createTestStore(t *testing.T, blockSize uint64) (*Store, string) {
	f, path := createTestFile(t)
	s, err := New(f, testBase, blockSize)
	if err != nil {
		f.Close()
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestAppendSpansBlocks(t *testing.T) {
	s, _ := createTestStore(t, 16)

	payload := []byte("ABCDEFGHIJKLMNOPQR")
	off, err := s.Append(payload)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if off != 0 {
		t.Errorf("Expected offset 0, got %d", off)
	}

	if s.BlocksAllocated() != 2 {
		t.Fatalf("Expected 2 blocks, got %d", s.BlocksAllocated())
	}

	first, err := s.blocks[0].Get(0, 16)
	if err != nil {
		t.Fatalf("Failed to read block 0: %v", err)
	}
	if string(first) != "ABCDEFGHIJKLMNOP" {
		t.Errorf("Block 0 holds %q", first)
	}

	second, err := s.blocks[1].Get(0, 2)
	if err != nil {
		t.Fatalf("Failed to read block 1: %v", err)
	}
	if string(second) != "QR" {
		t.Errorf("Block 1 holds %q", second)
	}

	got, err := s.Read(0, uint64(len(payload)))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Read %q, expected %q", got, payload)
	}
}

func TestAppendBoundaries(t *testing.T) {
	const blockSize = 32

	for _, size := range []int{blockSize - 1, blockSize, blockSize + 1, 3*blockSize + 5} {
		s, _ := createTestStore(t, blockSize)

		// Leave the cursor mid-block so the record starts unaligned too
		for _, lead := range []int{0, 7} {
			if lead > 0 {
				if _, err := s.Append(bytes.Repeat([]byte{'x'}, lead)); err != nil {
					t.Fatalf("Lead append failed: %v", err)
				}
			}

			payload := make([]byte, size)
			rand.Read(payload)

			off, err := s.Append(payload)
			if err != nil {
				t.Fatalf("Append of %d bytes failed: %v", size, err)
			}

			got, err := s.Read(off, uint64(size))
			if err != nil {
				t.Fatalf("Read of %d bytes failed: %v", size, err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("Size %d lead %d: data mismatch", size, lead)
			}

			if want := blocksFor(s.Size(), blockSize); uint64(s.BlocksAllocated()) != want {
				t.Errorf("Size %d lead %d: %d blocks allocated, expected %d",
					size, lead, s.BlocksAllocated(), want)
			}
		}
	}
}

func TestAppendEmpty(t *testing.T) {
	s, _ := createTestStore(t, 16)

	off, err := s.Append(nil)
	if err != nil {
		t.Fatalf("Empty append failed: %v", err)
	}
	if off != 0 || s.BlocksAllocated() != 0 {
		t.Errorf("Empty append returned %d and allocated %d blocks", off, s.BlocksAllocated())
	}

	if _, err := s.Append([]byte("abc")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	off, err = s.Append([]byte{})
	if err != nil {
		t.Fatalf("Empty append failed: %v", err)
	}
	if off != 3 {
		t.Errorf("Expected empty append at cursor 3, got %d", off)
	}

	got, err := s.Read(3, 0)
	if err != nil {
		t.Fatalf("Zero-length read failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty read, got %d bytes", len(got))
	}
}

func TestReadOutOfRange(t *testing.T) {
	s, _ := createTestStore(t, 16)

	if _, err := s.Append([]byte("hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	tests := []struct {
		name   string
		offset uint64
		length uint64
	}{
		{"past end", 3, 3},
		{"start beyond", 6, 1},
		{"overflow", ^uint64(0), 2},
		{"huge length", 0, 1 << 62},
		{"max length", 1, ^uint64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Read(tt.offset, tt.length); !errors.Is(err, ErrOutOfRange) {
				t.Errorf("Expected ErrOutOfRange, got %v", err)
			}
		})
	}
}

func TestTruncateAndReuse(t *testing.T) {
	s, _ := createTestStore(t, 8)

	if _, err := s.Append([]byte("keep")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := s.Append([]byte("discarded-bytes")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	blocks := s.BlocksAllocated()

	if err := s.Truncate(4); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if s.Size() != 4 {
		t.Errorf("Expected size 4 after truncate, got %d", s.Size())
	}
	if err := s.Truncate(5); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Expected ErrOutOfRange growing via Truncate, got %v", err)
	}

	off, err := s.Append([]byte("-next"))
	if err != nil {
		t.Fatalf("Append after truncate failed: %v", err)
	}
	if off != 4 {
		t.Errorf("Expected append at 4, got %d", off)
	}
	if s.BlocksAllocated() != blocks {
		t.Errorf("Truncate should keep blocks: had %d, now %d", blocks, s.BlocksAllocated())
	}

	got, err := s.Read(0, s.Size())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got) != "keep-next" {
		t.Errorf("Read %q, expected %q", got, "keep-next")
	}
}

func TestReserve(t *testing.T) {
	allocated := 0
	f, _ := createTestFile(t)
	s, err := New(f, testBase, 16, WithAllocateHook(func(int) { allocated++ }))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	if err := s.Reserve(33); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if s.BlocksAllocated() != 3 || allocated != 3 {
		t.Errorf("Expected 3 blocks after reserving 33 bytes, got %d (hook saw %d)", s.BlocksAllocated(), allocated)
	}
	if s.Size() != 0 {
		t.Errorf("Reserve should not move the cursor, size is %d", s.Size())
	}

	if _, err := s.Append(make([]byte, 33)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if allocated != 3 {
		t.Errorf("Append into reserved space allocated more blocks: %d", allocated)
	}
}

func TestCloseAndReopen(t *testing.T) {
	f, path := createTestFile(t)
	header := bytes.Repeat([]byte{0xEE}, testBase)
	if _, err := f.WriteAt(header, 0); err != nil {
		t.Fatalf("Failed to write header: %v", err)
	}

	s, err := New(f, testBase, 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	var records [][]byte
	var offsets []uint64
	for i := 0; i < 20; i++ {
		rec := bytes.Repeat([]byte{byte('a' + i)}, i*3)
		off, err := s.Append(rec)
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		records = append(records, rec)
		offsets = append(offsets, off)
	}
	size := s.Size()

	if err := s.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != testBase+int64(size) {
		t.Errorf("File size %d, expected %d", info.Size(), testBase+int64(size))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !bytes.Equal(raw[:testBase], header) {
		t.Errorf("Header region was modified")
	}

	f, err = os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("Failed to reopen file: %v", err)
	}
	s, err = Open(f, testBase, 16, size)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	if want := int(blocksFor(size, 16)); s.BlocksAllocated() != want {
		t.Errorf("Reopen mapped %d blocks, expected %d", s.BlocksAllocated(), want)
	}

	for i, rec := range records {
		got, err := s.Read(offsets[i], uint64(len(rec)))
		if err != nil {
			t.Fatalf("Read %d after reopen failed: %v", i, err)
		}
		if !bytes.Equal(got, rec) {
			t.Errorf("Record %d mismatch after reopen", i)
		}
	}
}

func TestClosedStore(t *testing.T) {
	f, _ := createTestFile(t)
	s, err := New(f, testBase, 16)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	if _, err := s.Append([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Append, got %v", err)
	}
	if _, err := s.Read(0, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Read, got %v", err)
	}
}

func TestUnmappedStore(t *testing.T) {
	s, _ := createTestStore(t, 16)
	if _, err := s.Append([]byte("hello")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Unmap(); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}

	if _, err := s.Read(0, 5); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Read, got %v", err)
	}
	if err := s.ReadInto(0, make([]byte, 5)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from ReadInto, got %v", err)
	}
	if _, err := s.Append([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Append, got %v", err)
	}
	if err := s.Reserve(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Reserve, got %v", err)
	}
	if err := s.Sync(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Sync, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after Unmap failed: %v", err)
	}
}

func TestTruncateOnClose(t *testing.T) {
	tests := []struct {
		name     string
		truncate bool
		expected int64
	}{
		{"enabled", true, testBase + 5},
		{"disabled", false, testBase + 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, path := createTestFile(t)
			s, err := New(f, testBase, 16, WithTruncateOnClose(tt.truncate))
			if err != nil {
				t.Fatalf("Failed to create store: %v", err)
			}
			if _, err := s.Append([]byte("hello")); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if err := s.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat failed: %v", err)
			}
			if info.Size() != tt.expected {
				t.Errorf("Expected file size %d, got %d", tt.expected, info.Size())
			}
		})
	}
}

func TestBlockMapBounds(t *testing.T) {
	f, _ := createTestFile(t)
	defer f.Close()

	b, err := MapBlock(f, 0, testBase, 16)
	if err != nil {
		t.Fatalf("MapBlock failed: %v", err)
	}
	defer b.Unmap()

	info, err := f.Stat()
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != testBase+16 {
		t.Errorf("MapBlock should grow the file to %d bytes, got %d", testBase+16, info.Size())
	}

	if b.Index() != 0 || b.FileOffset() != testBase || b.Size() != 16 {
		t.Errorf("Unexpected block geometry: index %d, offset %d, size %d", b.Index(), b.FileOffset(), b.Size())
	}

	if err := b.Put(10, make([]byte, 7)); !errors.Is(err, ErrOutOfBlockBounds) {
		t.Errorf("Expected ErrOutOfBlockBounds for overflowing put, got %v", err)
	}
	if _, err := b.Get(16, 1); !errors.Is(err, ErrOutOfBlockBounds) {
		t.Errorf("Expected ErrOutOfBlockBounds for overflowing get, got %v", err)
	}
	if err := b.Put(-1, []byte{1}); !errors.Is(err, ErrOutOfBlockBounds) {
		t.Errorf("Expected ErrOutOfBlockBounds for negative offset, got %v", err)
	}

	if err := b.Put(12, []byte("tail")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := b.Get(12, 4)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "tail" {
		t.Errorf("Get returned %q", got)
	}
	if err := b.Flush(); err != nil {
		t.Errorf("Flush failed: %v", err)
	}

	// Writes go straight to the file through the mapping
	raw := make([]byte, 4)
	if _, err := f.ReadAt(raw, testBase+12); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(raw) != "tail" {
		t.Errorf("File holds %q at block offset 12", raw)
	}

	if err := b.Unmap(); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if err := b.Put(0, []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after unmap, got %v", err)
	}
}

func BenchmarkAppend(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.bin")
	f, err := os.Create(path)
	if err != nil {
		b.Fatalf("Failed to create file: %v", err)
	}
	s, err := New(f, testBase, 64*1024)
	if err != nil {
		b.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	payload := make([]byte, 1000)
	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Append(payload); err != nil {
			b.Fatalf("Append failed: %v", err)
		}
	}
}
