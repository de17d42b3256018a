// Package format defines the fixed-width on-disk records of a record store:
// the Header written once at the start of each file and the IndexEntry
// written once per stored record.
package format

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/KevoDB/recstore/pkg/codec"
)

const (
	// HeaderSize is the fixed size of the header in bytes
	HeaderSize = 24
)

var (
	// ErrTruncatedRecord is returned when fewer bytes than a record's width are available
	ErrTruncatedRecord = codec.ErrTruncatedRecord
	// ErrInvalidHeader is returned when a decoded header cannot describe a store
	ErrInvalidHeader = errors.New("invalid header")
)

// Header describes the geometry and identity of a store.
//
// Layout:
//   - bytes 0-7:   block size
//   - bytes 8-15:  store identifier
//   - bytes 16-23: creation time (unix milliseconds)
type Header struct {
	BlockSize uint64
	StoreID   uint64
	CreatedAt uint64
}

// NewHeader creates a header stamped with the current time
func NewHeader(blockSize, storeID uint64) *Header {
	return &Header{
		BlockSize: blockSize,
		StoreID:   storeID,
		CreatedAt: uint64(time.Now().UnixMilli()),
	}
}

// Created returns the creation time as a time.Time
func (h *Header) Created() time.Time {
	return time.UnixMilli(int64(h.CreatedAt))
}

// Encode serializes the header to a byte slice
func (h *Header) Encode() []byte {
	result := make([]byte, 0, HeaderSize)
	result = codec.AppendUint64(result, h.BlockSize)
	result = codec.AppendUint64(result, h.StoreID)
	result = codec.AppendUint64(result, h.CreatedAt)
	return result
}

// WriteTo writes the header to an io.Writer
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.Encode())
	return int64(n), err
}

// DecodeHeader parses a header from a byte slice
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes, expected %d",
			ErrTruncatedRecord, len(data), HeaderSize)
	}

	// Widths were checked above, so the codec cannot fail here
	blockSize, _ := codec.Uint64(data[0:8])
	storeID, _ := codec.Uint64(data[8:16])
	createdAt, _ := codec.Uint64(data[16:24])

	if blockSize == 0 {
		return nil, fmt.Errorf("%w: block size is zero", ErrInvalidHeader)
	}

	return &Header{
		BlockSize: blockSize,
		StoreID:   storeID,
		CreatedAt: createdAt,
	}, nil
}

// ReadHeader reads and decodes a header from the start of r
func ReadHeader(r io.ReaderAt) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !(errors.Is(err, io.EOF) && n == HeaderSize) {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: read %d header bytes, expected %d",
				ErrTruncatedRecord, n, HeaderSize)
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return DecodeHeader(buf)
}
