package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/KevoDB/recstore/pkg/recstore"
)

// benchParams controls a single benchmark run. A run stops at Duration or
// after MaxOps operations, whichever comes first; MaxOps of 0 means no
// operation limit.
type benchParams struct {
	Duration   time.Duration
	MaxOps     int
	NumRecords int
	ValueSize  int
	Seed       int64
}

func (p benchParams) done(start time.Time, ops int) bool {
	if p.MaxOps > 0 && ops >= p.MaxOps {
		return true
	}
	return time.Since(start) >= p.Duration
}

func makeValue(size int) []byte {
	value := make([]byte, size)
	for i := range value {
		value[i] = byte(i % 256)
	}
	return value
}

// preload puts records until the store holds at least n of them
func preload(ctx context.Context, s *recstore.RecordStore, n, valueSize int) error {
	value := makeValue(valueSize)
	for s.Len() < uint64(n) {
		if _, err := s.Put(ctx, value); err != nil {
			return fmt.Errorf("preload: %w", err)
		}
	}
	return nil
}

func newResult(typ string, p benchParams, ops int, elapsed time.Duration) BenchmarkResult {
	r := BenchmarkResult{
		BenchmarkType: typ,
		NumRecords:    p.NumRecords,
		ValueSize:     p.ValueSize,
		Operations:    ops,
		Duration:      elapsed.Seconds(),
		Timestamp:     time.Now(),
	}
	if ops > 0 && elapsed > 0 {
		r.Throughput = float64(ops) / elapsed.Seconds()
		r.Latency = float64(elapsed.Microseconds()) / float64(ops)
	}
	return r
}

// runWriteBenchmark appends fixed-size records
func runWriteBenchmark(ctx context.Context, s *recstore.RecordStore, p benchParams) (BenchmarkResult, error) {
	value := makeValue(p.ValueSize)

	start := time.Now()
	ops := 0
	for !p.done(start, ops) {
		if _, err := s.Put(ctx, value); err != nil {
			return newResult("Write", p, ops, time.Since(start)), err
		}
		ops++
	}

	r := newResult("Write", p, ops, time.Since(start))
	r.BytesProcessed = uint64(ops) * uint64(p.ValueSize)
	return r, nil
}

// runReadBenchmark reads handles in order, wrapping around
func runReadBenchmark(ctx context.Context, s *recstore.RecordStore, p benchParams) (BenchmarkResult, error) {
	return runLookupBenchmark(ctx, s, p, "Read", func(i int, n uint64) uint64 {
		return uint64(i)%n + 1
	})
}

// runRandomReadBenchmark reads uniformly random handles
func runRandomReadBenchmark(ctx context.Context, s *recstore.RecordStore, p benchParams) (BenchmarkResult, error) {
	r := rand.New(rand.NewSource(p.Seed))
	return runLookupBenchmark(ctx, s, p, "RandomRead", func(_ int, n uint64) uint64 {
		return uint64(r.Int63n(int64(n))) + 1
	})
}

func runLookupBenchmark(ctx context.Context, s *recstore.RecordStore, p benchParams, typ string, next func(i int, n uint64) uint64) (BenchmarkResult, error) {
	if err := preload(ctx, s, p.NumRecords, p.ValueSize); err != nil {
		return BenchmarkResult{}, err
	}
	n := s.Len()
	if n == 0 {
		return newResult(typ, p, 0, 0), nil
	}

	before := s.CacheStats()
	start := time.Now()
	ops := 0
	var bytesRead uint64
	for !p.done(start, ops) {
		v, err := s.Get(ctx, next(ops, n))
		if err != nil {
			return newResult(typ, p, ops, time.Since(start)), err
		}
		bytesRead += uint64(len(v))
		ops++
	}

	r := newResult(typ, p, ops, time.Since(start))
	r.BytesProcessed = bytesRead
	after := s.CacheStats()
	if accesses := after.Accesses - before.Accesses; accesses > 0 {
		r.HitRate = float64(after.Hits-before.Hits) / float64(accesses) * 100
	}
	return r, nil
}

// errScanDone stops a scan that reached its time or operation limit
var errScanDone = errors.New("scan limit reached")

// runScanBenchmark scans the whole store in handle order, repeatedly
func runScanBenchmark(ctx context.Context, s *recstore.RecordStore, p benchParams) (BenchmarkResult, error) {
	if err := preload(ctx, s, p.NumRecords, p.ValueSize); err != nil {
		return BenchmarkResult{}, err
	}

	start := time.Now()
	ops := 0
	var bytesRead uint64
	for !p.done(start, ops) {
		err := s.Range(ctx, func(_ uint64, v []byte) error {
			if p.done(start, ops) {
				return errScanDone
			}
			bytesRead += uint64(len(v))
			ops++
			return nil
		})
		if err != nil && !errors.Is(err, errScanDone) {
			return newResult("Scan", p, ops, time.Since(start)), err
		}
		if s.Len() == 0 {
			break
		}
	}

	r := newResult("Scan", p, ops, time.Since(start))
	r.BytesProcessed = bytesRead
	r.EntriesPerSec = r.Throughput
	return r, nil
}

// runMixedBenchmark interleaves reads and writes, three reads per write
func runMixedBenchmark(ctx context.Context, s *recstore.RecordStore, p benchParams) (BenchmarkResult, error) {
	if err := preload(ctx, s, p.NumRecords, p.ValueSize); err != nil {
		return BenchmarkResult{}, err
	}
	value := makeValue(p.ValueSize)
	r := rand.New(rand.NewSource(p.Seed))

	start := time.Now()
	ops, reads, writes := 0, 0, 0
	for !p.done(start, ops) {
		if ops%4 == 3 || s.Len() == 0 {
			if _, err := s.Put(ctx, value); err != nil {
				return newResult("Mixed", p, ops, time.Since(start)), err
			}
			writes++
		} else {
			h := uint64(r.Int63n(int64(s.Len()))) + 1
			if _, err := s.Get(ctx, h); err != nil {
				return newResult("Mixed", p, ops, time.Since(start)), err
			}
			reads++
		}
		ops++
	}

	res := newResult("Mixed", p, ops, time.Since(start))
	if ops > 0 {
		res.ReadRatio = float64(reads) / float64(ops) * 100
		res.WriteRatio = float64(writes) / float64(ops) * 100
	}
	res.BytesProcessed = uint64(ops) * uint64(p.ValueSize)
	return res, nil
}

// benchmarks maps the -type names to their runners
var benchmarks = map[string]func(context.Context, *recstore.RecordStore, benchParams) (BenchmarkResult, error){
	"write":       runWriteBenchmark,
	"read":        runReadBenchmark,
	"random-read": runRandomReadBenchmark,
	"scan":        runScanBenchmark,
	"mixed":       runMixedBenchmark,
}

// benchmarkOrder is the order "all" runs them in
var benchmarkOrder = []string{"write", "read", "random-read", "scan", "mixed"}
