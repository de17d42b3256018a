package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"github.com/KevoDB/recstore/pkg/codec"
	"github.com/KevoDB/recstore/pkg/common/log"
	"github.com/KevoDB/recstore/pkg/config"
	"github.com/KevoDB/recstore/pkg/recstore"
	"github.com/KevoDB/recstore/pkg/telemetry"
)

// shell executes commands against at most one open store
type shell struct {
	cfg    *config.Config
	store  *recstore.RecordStore
	out    io.Writer
	logger log.Logger
	tel    telemetry.Telemetry
}

func newShell(cfg *config.Config, out io.Writer, logger log.Logger, tel telemetry.Telemetry) *shell {
	return &shell{cfg: cfg, out: out, logger: logger, tel: tel}
}

func (sh *shell) printf(format string, args ...interface{}) {
	fmt.Fprintf(sh.out, format, args...)
}

// execute runs one command line and reports whether the shell should exit
func (sh *shell) execute(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	ctx := context.Background()

	if strings.HasPrefix(cmd, ".") {
		switch strings.ToLower(cmd) {
		case ".help":
			sh.printf("%s", helpText)

		case ".create":
			sh.closeStore()
			cfg := sh.cfg.Clone()
			cfg.StoreName = rest
			store, err := recstore.Create(cfg, sh.storeOptions()...)
			if err != nil {
				sh.printf("Error creating store: %s\n", err)
				return false
			}
			sh.store = store
			sh.printf("Store %s created\n", store.Name())

		case ".open":
			if rest == "" {
				sh.printf("Error: Missing store name\n")
				return false
			}
			sh.closeStore()
			cfg := sh.cfg.Clone()
			cfg.StoreName = rest
			store, err := recstore.Open(cfg, sh.storeOptions()...)
			if err != nil {
				sh.printf("Error opening store: %s\n", err)
				return false
			}
			sh.store = store
			sh.printf("Store %s opened with %s records\n", store.Name(), humanize.Comma(int64(store.Len())))

		case ".close":
			if sh.store == nil {
				sh.printf("No store open\n")
				return false
			}
			name := sh.store.Name()
			if err := sh.closeStore(); err != nil {
				sh.printf("Error closing store: %s\n", err)
				return false
			}
			sh.printf("Store %s closed\n", name)

		case ".exit":
			sh.closeStore()
			sh.printf("Goodbye!\n")
			return true

		case ".stats":
			if sh.requireStore() {
				sh.printStats()
			}

		case ".sync":
			if sh.requireStore() {
				if err := sh.store.Sync(); err != nil {
					sh.printf("Error syncing store: %s\n", err)
				} else {
					sh.printf("Synced\n")
				}
			}

		case ".verify":
			if sh.requireStore() {
				res, err := verifyStore(ctx, sh.store)
				if err != nil {
					sh.printf("Verification failed: %s\n", err)
					return false
				}
				sh.printf("OK: %s records, %s, digest %016x\n",
					humanize.Comma(int64(res.Records)), humanize.Bytes(res.Bytes), res.Digest)
			}

		case ".export":
			if !sh.requireStore() {
				return false
			}
			if rest == "" {
				sh.printf("Error: Missing file argument\n")
				return false
			}
			n, err := exportStore(ctx, sh.store, rest)
			if err != nil {
				sh.printf("Error exporting: %s\n", err)
				return false
			}
			sh.printf("Exported %s records to %s\n", humanize.Comma(int64(n)), rest)

		case ".import":
			if !sh.requireStore() {
				return false
			}
			if rest == "" {
				sh.printf("Error: Missing file argument\n")
				return false
			}
			n, err := importStore(ctx, sh.store, rest)
			if err != nil {
				sh.printf("Error importing after %d records: %s\n", n, err)
				return false
			}
			sh.printf("Imported %s records from %s\n", humanize.Comma(int64(n)), rest)

		default:
			sh.printf("Unknown command: %s\n", cmd)
		}
		return false
	}

	switch strings.ToUpper(cmd) {
	case "PUT":
		if !sh.requireStore() {
			return false
		}
		handle, err := sh.store.Put(ctx, []byte(rest))
		if err != nil {
			sh.printf("Error: %s\n", err)
			return false
		}
		sh.printf("%d\n", handle)

	case "GET":
		if !sh.requireStore() {
			return false
		}
		handle, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			sh.printf("Error: invalid handle %q\n", rest)
			return false
		}
		p, err := sh.store.Get(ctx, handle)
		if err != nil {
			sh.printf("Error: %s\n", err)
			return false
		}
		sh.printf("%s\n", p)

	default:
		sh.printf("Unknown command: %s\n", cmd)
	}
	return false
}

func (sh *shell) storeOptions() []recstore.Option {
	return []recstore.Option{
		recstore.WithLogger(sh.logger),
		recstore.WithTelemetry(sh.tel),
	}
}

func (sh *shell) requireStore() bool {
	if sh.store == nil {
		sh.printf("No store open\n")
		return false
	}
	return true
}

func (sh *shell) closeStore() error {
	if sh.store == nil {
		return nil
	}
	err := sh.store.Close()
	sh.store = nil
	return err
}

func (sh *shell) printStats() {
	s := sh.store
	stats := s.Stats()

	getUint64 := func(key string) uint64 {
		if v, ok := stats[key].(uint64); ok {
			return v
		}
		return 0
	}

	sh.printf("Store:\n")
	sh.printf("  Name: %s\n", s.Name())
	sh.printf("  Data file: %s\n", s.DataFile())
	sh.printf("  Index file: %s\n", s.IndexFile())
	hdr := s.Header()
	sh.printf("  Created: %s (%s)\n", hdr.Created().Format(time.RFC3339), humanize.Time(hdr.Created()))
	sh.printf("  Block size: %s\n", humanize.IBytes(s.BlockSize()))
	sh.printf("  Records: %s\n", humanize.Comma(int64(s.Len())))
	sh.printf("  Data size: %s\n", humanize.IBytes(getUint64("data_size")))
	if size, err := s.DiskSize(); err == nil {
		sh.printf("  On disk: %s\n", humanize.IBytes(uint64(size)))
	}
	if s.Poisoned() {
		sh.printf("  Poisoned: yes, reopen to accept writes\n")
	}

	sh.printf("\nOperations:\n")
	sh.printf("  Puts: %s (%s written)\n", humanize.Comma(int64(getUint64("put_ops"))),
		humanize.IBytes(getUint64("total_bytes_written")))
	sh.printf("  Gets: %s (%s read)\n", humanize.Comma(int64(getUint64("get_ops"))),
		humanize.IBytes(getUint64("total_bytes_read")))
	for _, op := range []string{"put", "get"} {
		if latency, ok := stats[op+"_latency"].(map[string]interface{}); ok {
			if avg, ok := latency["avg_ns"].(uint64); ok {
				sh.printf("  %s avg latency: %s\n", strings.ToUpper(op), time.Duration(avg))
			}
		}
	}

	cs := s.CacheStats()
	sh.printf("\nIndex cache:\n")
	sh.printf("  Entries: %s / %s\n", humanize.Comma(int64(cs.Len)), humanize.Comma(int64(cs.Capacity)))
	sh.printf("  Hit ratio: %.2f%% (%d of %d)\n", cs.HitRatio()*100, cs.Hits, cs.Accesses)
	sh.printf("  Evictions: %d\n", cs.Evictions)

	if errs, ok := stats["errors"].(map[string]uint64); ok && len(errs) > 0 {
		sh.printf("\nErrors:\n")
		for name, count := range errs {
			sh.printf("  %s: %d\n", name, count)
		}
	}
}

// verifyResult summarizes a full scan of a store
type verifyResult struct {
	Records uint64
	Bytes   uint64
	Digest  uint64
}

// verifyStore reads every record twice, once in a scan and once through the
// index cache, and fails on the first mismatch. The digest covers every
// handle and payload in order.
func verifyStore(ctx context.Context, s *recstore.RecordStore) (verifyResult, error) {
	var res verifyResult
	digest := xxhash.New()
	var hbuf [codec.Uint64Size]byte
	var sums []uint64

	err := s.Range(ctx, func(handle uint64, p []byte) error {
		codec.PutUint64(hbuf[:], handle)
		digest.Write(hbuf[:])
		digest.Write(p)
		sums = append(sums, xxhash.Sum64(p))
		res.Records++
		res.Bytes += uint64(len(p))
		return nil
	})
	if err != nil {
		return res, err
	}

	// Lookups run after the scan; Range holds the read lock throughout
	for i, sum := range sums {
		handle := uint64(i + 1)
		got, err := s.Get(ctx, handle)
		if err != nil {
			return res, fmt.Errorf("handle %d: %w", handle, err)
		}
		if xxhash.Sum64(got) != sum {
			return res, fmt.Errorf("handle %d: scan and lookup disagree", handle)
		}
	}

	res.Digest = digest.Sum64()
	return res, nil
}

// exportStore writes every record to path as a zstd stream of
// length-prefixed payloads and returns the number of records written
func exportStore(ctx context.Context, s *recstore.RecordStore, path string) (uint64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return 0, err
	}

	var count uint64
	var lenBuf [codec.Uint64Size]byte
	err = s.Range(ctx, func(handle uint64, p []byte) error {
		codec.PutUint64(lenBuf[:], uint64(len(p)))
		if _, err := enc.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := enc.Write(p); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		enc.Close()
		return count, err
	}
	if err := enc.Close(); err != nil {
		return count, err
	}
	return count, f.Sync()
}

// maxImportRecord bounds a single record read from a dump
const maxImportRecord = 1 << 30

// importStore appends every record of a dump written by exportStore and
// returns the number of records imported
func importStore(ctx context.Context, s *recstore.RecordStore, path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer dec.Close()
	r := bufio.NewReader(dec)

	var count uint64
	var lenBuf [codec.Uint64Size]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, fmt.Errorf("record %d: %w", count+1, codec.ErrTruncatedRecord)
		}
		n, _ := codec.Uint64(lenBuf[:])
		if n > maxImportRecord {
			return count, fmt.Errorf("record %d: length %d exceeds %d", count+1, n, maxImportRecord)
		}
		p := make([]byte, n)
		if _, err := io.ReadFull(r, p); err != nil {
			return count, fmt.Errorf("record %d: %w", count+1, codec.ErrTruncatedRecord)
		}
		if _, err := s.Put(ctx, p); err != nil {
			return count, err
		}
		count++
	}
}
