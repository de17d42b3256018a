package main

import (
	"os"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/KevoDB/recstore/pkg/codec"
)

func lengthPrefix(n uint64) []byte {
	return codec.AppendUint64(nil, n)
}

// writeDump writes raw as a zstd stream to path
func writeDump(t *testing.T, path string, raw []byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer f.Close()
	enc, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := enc.Write(raw); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
