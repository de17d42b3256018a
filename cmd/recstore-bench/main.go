package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/KevoDB/recstore/pkg/common/log"
	"github.com/KevoDB/recstore/pkg/config"
	"github.com/KevoDB/recstore/pkg/recstore"
	"github.com/KevoDB/recstore/pkg/telemetry"
)

const (
	defaultValueSize  = 100
	defaultNumRecords = 100000
)

var (
	// Command line flags
	benchmarkType = flag.String("type", "all", "Type of benchmark to run (write, read, random-read, scan, mixed, tune, or all)")
	duration      = flag.Duration("duration", 10*time.Second, "Duration to run each benchmark")
	numRecords    = flag.Int("records", defaultNumRecords, "Number of records read benchmarks preload")
	valueSize     = flag.Int("value-size", defaultValueSize, "Size of records in bytes")
	blockSize     = flag.Uint64("block-size", config.DefaultBlockSize, "Block size of the benchmark store")
	cacheSize     = flag.Int("cache-size", 1<<20, "Index cache capacity in entries")
	dataDir       = flag.String("data-dir", "./benchmark-data", "Directory to store benchmark data")
	seed          = flag.Int64("seed", 1, "Seed for random handle selection")
	cpuProfile    = flag.String("cpu-profile", "", "Write CPU profile to file")
	memProfile    = flag.String("mem-profile", "", "Write memory profile to file")
	resultsFile   = flag.String("results", "", "File to write results to (in addition to stdout)")
	csvFile       = flag.String("csv", "", "CSV file to write results to")
	logLevel      = flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	withTelemetry = flag.Bool("telemetry", false, "Export telemetry to stdout")
)

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	// Remove any existing benchmark data before starting
	if _, err := os.Stat(*dataDir); err == nil {
		fmt.Println("Cleaning previous benchmark data...")
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to clean benchmark directory: %v\n", err)
		}
	}
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create benchmark directory: %v\n", err)
		os.Exit(1)
	}

	params := benchParams{
		Duration:   *duration,
		NumRecords: *numRecords,
		ValueSize:  *valueSize,
		Seed:       *seed,
	}

	if strings.EqualFold(*benchmarkType, "tune") {
		fmt.Println("Running configuration tuning benchmarks...")
		if err := RunFullTuningBenchmark(*dataDir, params); err != nil {
			fmt.Fprintf(os.Stderr, "Tuning failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	level, err := log.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	telCfg.Enabled = telCfg.Enabled || *withTelemetry
	tel, err := telemetry.New(telCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	cfg := config.NewDefaultConfig(*dataDir, *dataDir)
	cfg.BlockSize = *blockSize
	cfg.LRUCacheSize = *cacheSize
	cfg.SyncOnClose = false
	s, err := recstore.Create(cfg, recstore.WithLogger(logger), recstore.WithTelemetry(tel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create record store: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	types, err := selectBenchmarks(*benchmarkType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	report := []string{
		fmt.Sprintf("Benchmark Report (%s)", time.Now().Format(time.RFC3339)),
		fmt.Sprintf("Records: %d, Value Size: %d bytes, Block Size: %d bytes, Duration: %s",
			*numRecords, *valueSize, *blockSize, *duration),
	}

	ctx := context.Background()
	var results []BenchmarkResult
	for _, typ := range types {
		fmt.Printf("Running %s benchmark...\n", typ)
		r, err := benchmarks[typ](ctx, s, params)
		r.BlockSize = s.BlockSize()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s benchmark failed: %v\n", typ, err)
		}
		results = append(results, r)
		report = append(report, FormatResult(r))
	}

	for _, line := range report {
		fmt.Println(line)
	}
	fmt.Println()
	PrintResultTable(os.Stdout, results)

	if *resultsFile != "" {
		if err := os.WriteFile(*resultsFile, []byte(strings.Join(report, "\n")), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write results to file: %v\n", err)
		}
	}
	if *csvFile != "" {
		if err := SaveResultCSV(results, *csvFile); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write CSV results: %v\n", err)
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
		} else {
			defer f.Close()
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
			}
		}
	}
}

// selectBenchmarks expands a comma-separated -type value
func selectBenchmarks(spec string) ([]string, error) {
	var types []string
	for _, typ := range strings.Split(spec, ",") {
		typ = strings.ToLower(strings.TrimSpace(typ))
		if typ == "all" {
			types = append(types, benchmarkOrder...)
			continue
		}
		if _, ok := benchmarks[typ]; !ok {
			return nil, fmt.Errorf("unknown benchmark type: %s", typ)
		}
		types = append(types, typ)
	}
	return types, nil
}
