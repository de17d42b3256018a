package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KevoDB/recstore/pkg/config"
	"github.com/KevoDB/recstore/pkg/recstore"
)

func newBenchStore(t *testing.T) *recstore.RecordStore {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewDefaultConfig(dir, dir)
	cfg.BlockSize = 4096
	cfg.LRUCacheSize = 64
	s, err := recstore.Create(cfg)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quickParams() benchParams {
	return benchParams{
		Duration:   time.Minute,
		MaxOps:     200,
		NumRecords: 100,
		ValueSize:  32,
		Seed:       7,
	}
}

func TestBenchmarksRun(t *testing.T) {
	ctx := context.Background()
	for _, typ := range benchmarkOrder {
		t.Run(typ, func(t *testing.T) {
			s := newBenchStore(t)
			r, err := benchmarks[typ](ctx, s, quickParams())
			if err != nil {
				t.Fatalf("%s failed: %v", typ, err)
			}
			if r.Operations != 200 {
				t.Errorf("Expected 200 operations, got %d", r.Operations)
			}
			if r.Throughput <= 0 {
				t.Errorf("Expected positive throughput, got %f", r.Throughput)
			}
		})
	}
}

func TestWriteBenchmarkRecords(t *testing.T) {
	s := newBenchStore(t)
	r, err := runWriteBenchmark(context.Background(), s, quickParams())
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if s.Len() != 200 {
		t.Errorf("Expected 200 records, got %d", s.Len())
	}
	if r.BytesProcessed != 200*32 {
		t.Errorf("Expected %d bytes, got %d", 200*32, r.BytesProcessed)
	}
}

func TestReadBenchmarkHitRate(t *testing.T) {
	s := newBenchStore(t)
	p := quickParams()
	p.NumRecords = 50 // fits the 64-entry cache

	r, err := runReadBenchmark(context.Background(), s, p)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	// 50 cold misses, then 150 hits
	if math.Abs(r.HitRate-75) > 0.001 {
		t.Errorf("Expected 75%% hit rate, got %.3f", r.HitRate)
	}
}

func TestMixedRatios(t *testing.T) {
	s := newBenchStore(t)
	r, err := runMixedBenchmark(context.Background(), s, quickParams())
	if err != nil {
		t.Fatalf("mixed failed: %v", err)
	}
	if r.ReadRatio != 75 || r.WriteRatio != 25 {
		t.Errorf("Expected 75/25, got %.1f/%.1f", r.ReadRatio, r.WriteRatio)
	}
	if s.Len() != 150 {
		t.Errorf("Expected 100 preloaded + 50 written records, got %d", s.Len())
	}
}

func TestScanEmptyStore(t *testing.T) {
	s := newBenchStore(t)
	p := quickParams()
	p.NumRecords = 0
	r, err := runScanBenchmark(context.Background(), s, p)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if r.Operations != 0 {
		t.Errorf("Expected no operations on an empty store, got %d", r.Operations)
	}
}

func TestSelectBenchmarks(t *testing.T) {
	types, err := selectBenchmarks("write, Random-Read")
	if err != nil {
		t.Fatalf("selectBenchmarks failed: %v", err)
	}
	if len(types) != 2 || types[0] != "write" || types[1] != "random-read" {
		t.Errorf("Unexpected selection %v", types)
	}

	all, err := selectBenchmarks("all")
	if err != nil || len(all) != len(benchmarkOrder) {
		t.Errorf("Expected every benchmark for all, got %v (%v)", all, err)
	}

	if _, err := selectBenchmarks("compaction"); err == nil {
		t.Error("Expected error for unknown benchmark")
	}
}

func TestResultCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.csv")
	in := []BenchmarkResult{
		{
			BenchmarkType:  "RandomRead",
			NumRecords:     1000,
			ValueSize:      128,
			BlockSize:      65536,
			Operations:     5000,
			Duration:       1.5,
			Throughput:     3333.33,
			Latency:        300.125,
			BytesProcessed: 640000,
			HitRate:        42.5,
			Timestamp:      time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		{BenchmarkType: "Mixed", ReadRatio: 75, WriteRatio: 25, Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}

	if err := SaveResultCSV(in, path); err != nil {
		t.Fatalf("SaveResultCSV failed: %v", err)
	}
	out, err := LoadResultCSV(path)
	if err != nil {
		t.Fatalf("LoadResultCSV failed: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(out))
	}
	got := out[0]
	if got.BenchmarkType != "RandomRead" || got.BlockSize != 65536 || got.BytesProcessed != 640000 ||
		got.Operations != 5000 || got.HitRate != 42.5 || !got.Timestamp.Equal(in[0].Timestamp) {
		t.Errorf("Unexpected first result %+v", got)
	}
	if out[1].ReadRatio != 75 || out[1].WriteRatio != 25 {
		t.Errorf("Unexpected ratios %+v", out[1])
	}
}

func TestPrintResultTable(t *testing.T) {
	var buf bytes.Buffer
	PrintResultTable(&buf, nil)
	if !strings.Contains(buf.String(), "No results") {
		t.Errorf("Unexpected output for no results: %q", buf.String())
	}

	buf.Reset()
	PrintResultTable(&buf, []BenchmarkResult{{BenchmarkType: "Read", NumRecords: 10, ValueSize: 100, BlockSize: 4096, HitRate: 50}})
	if !strings.Contains(buf.String(), "50.00%") || !strings.Contains(buf.String(), "4.0 KiB") {
		t.Errorf("Unexpected table:\n%s", buf.String())
	}
}

func TestTuningSweep(t *testing.T) {
	if testing.Short() {
		t.Skip("tuning sweep creates several stores")
	}
	dir := t.TempDir()
	p := quickParams()
	p.MaxOps = 20
	p.NumRecords = 20

	if err := RunFullTuningBenchmark(dir, p); err != nil {
		t.Fatalf("RunFullTuningBenchmark failed: %v", err)
	}

	md, err := os.ReadFile(filepath.Join(dir, "recommendations.md"))
	if err != nil {
		t.Fatalf("Missing recommendations: %v", err)
	}
	for _, want := range []string{"## BlockSize", "## LRUCacheSize"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("Expected %q in recommendations", want)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "tuning_results.json")); err != nil {
		t.Errorf("Missing tuning results: %v", err)
	}
}
