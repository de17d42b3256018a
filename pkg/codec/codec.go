// Package codec encodes fixed-width unsigned integers as big-endian byte
// sequences. Every on-disk integer in a record store goes through this
// package so the file format is identical on all platforms.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Uint64Size is the encoded width of a uint64
	Uint64Size = 8
	// Uint32Size is the encoded width of a uint32
	Uint32Size = 4
)

// ErrTruncatedRecord is returned when a buffer is shorter than the width being decoded
var ErrTruncatedRecord = errors.New("truncated record")

// PutUint64 writes v into the first 8 bytes of b.
func PutUint64(b []byte, v uint64) error {
	if len(b) < Uint64Size {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedRecord, Uint64Size, len(b))
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// Uint64 reads a uint64 from the first 8 bytes of b.
func Uint64(b []byte) (uint64, error) {
	if len(b) < Uint64Size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedRecord, Uint64Size, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// PutUint32 writes v into the first 4 bytes of b.
func PutUint32(b []byte, v uint32) error {
	if len(b) < Uint32Size {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedRecord, Uint32Size, len(b))
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

// Uint32 reads a uint32 from the first 4 bytes of b.
func Uint32(b []byte) (uint32, error) {
	if len(b) < Uint32Size {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedRecord, Uint32Size, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// AppendUint64 appends the big-endian encoding of v to b.
func AppendUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// AppendUint32 appends the big-endian encoding of v to b.
func AppendUint32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}
