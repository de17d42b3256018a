package format

import (
	"fmt"

	"github.com/KevoDB/recstore/pkg/codec"
)

// EntrySize is the fixed width of an encoded IndexEntry. Entries are packed
// back to back after the header, so entry h (1-based) lives at payload
// offset (h-1)*EntrySize.
const EntrySize = 16

// IndexEntry locates one record in the data store
type IndexEntry struct {
	// Offset of the record's first byte, relative to the end of the data header
	Offset uint64
	// Length of the record in bytes
	Length uint64
}

// End returns the offset one past the record's last byte
func (e IndexEntry) End() uint64 {
	return e.Offset + e.Length
}

// Encode serializes the entry to a byte slice
func (e IndexEntry) Encode() []byte {
	result := make([]byte, 0, EntrySize)
	result = codec.AppendUint64(result, e.Offset)
	result = codec.AppendUint64(result, e.Length)
	return result
}

// DecodeEntry parses an entry from a byte slice
func DecodeEntry(data []byte) (IndexEntry, error) {
	if len(data) < EntrySize {
		return IndexEntry{}, fmt.Errorf("%w: index entry is %d bytes, expected %d",
			ErrTruncatedRecord, len(data), EntrySize)
	}
	offset, _ := codec.Uint64(data[0:8])
	length, _ := codec.Uint64(data[8:16])
	return IndexEntry{Offset: offset, Length: length}, nil
}

// EntryOffset returns the payload offset of the entry for a 1-based handle
func EntryOffset(handle uint64) uint64 {
	return (handle - 1) * EntrySize
}
