package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KevoDB/recstore/pkg/config"
	"github.com/KevoDB/recstore/pkg/recstore"
)

// TuningResults stores the results of various configuration tuning runs
type TuningResults struct {
	Timestamp  time.Time                    `json:"timestamp"`
	Parameters []string                     `json:"parameters"`
	Results    map[string][]TuningBenchmark `json:"results"`
}

// TuningBenchmark stores the result of a single configuration test
type TuningBenchmark struct {
	ConfigName    string                 `json:"config_name"`
	ConfigValue   int                    `json:"config_value"`
	WriteResults  BenchmarkMetrics       `json:"write_results"`
	ReadResults   BenchmarkMetrics       `json:"read_results"`
	RandomResults BenchmarkMetrics       `json:"random_read_results"`
	MixedResults  BenchmarkMetrics       `json:"mixed_results"`
	StoreStats    map[string]interface{} `json:"store_stats"`
	DiskSize      int64                  `json:"disk_size"`
}

// BenchmarkMetrics stores the key metrics from a benchmark
type BenchmarkMetrics struct {
	Throughput    float64 `json:"throughput"`
	Latency       float64 `json:"latency"`
	DataProcessed uint64  `json:"data_processed"`
	Duration      float64 `json:"duration"`
	Operations    int     `json:"operations"`
	HitRate       float64 `json:"hit_rate,omitempty"`
}

func metricsOf(r BenchmarkResult) BenchmarkMetrics {
	return BenchmarkMetrics{
		Throughput:    r.Throughput,
		Latency:       r.Latency,
		DataProcessed: r.BytesProcessed,
		Duration:      r.Duration,
		Operations:    r.Operations,
		HitRate:       r.HitRate,
	}
}

// ConfigOption represents a configuration option to test
type ConfigOption struct {
	Name   string
	Values []int
	Apply  func(cfg *config.Config, v int)
}

// tuningOptions are the store parameters a tuning run sweeps
var tuningOptions = []ConfigOption{
	{
		Name:   "BlockSize",
		Values: []int{4 * 1024, 64 * 1024, 1024 * 1024},
		Apply:  func(cfg *config.Config, v int) { cfg.BlockSize = uint64(v) },
	},
	{
		Name:   "LRUCacheSize",
		Values: []int{1024, 64 * 1024, 1 << 20},
		Apply:  func(cfg *config.Config, v int) { cfg.LRUCacheSize = v },
	},
}

// RunConfigTuning runs the write, read, random-read and mixed benchmarks
// once per value of every tuning option, each against a fresh store
func RunConfigTuning(baseDir string, p benchParams) (*TuningResults, error) {
	fmt.Println("Starting configuration tuning...")

	tuningDir := filepath.Join(baseDir, fmt.Sprintf("tuning-%d", time.Now().Unix()))
	if err := os.MkdirAll(tuningDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tuning directory: %w", err)
	}

	results := &TuningResults{
		Timestamp: time.Now(),
		Results:   make(map[string][]TuningBenchmark),
	}

	for _, opt := range tuningOptions {
		results.Parameters = append(results.Parameters, opt.Name)
		for _, v := range opt.Values {
			fmt.Printf("Testing %s = %d...\n", opt.Name, v)
			tb, err := runBenchmarkWithConfig(tuningDir, opt, v, p)
			if err != nil {
				return nil, fmt.Errorf("%s=%d: %w", opt.Name, v, err)
			}
			results.Results[opt.Name] = append(results.Results[opt.Name], *tb)
		}
	}

	return results, nil
}

func runBenchmarkWithConfig(baseDir string, opt ConfigOption, value int, p benchParams) (*TuningBenchmark, error) {
	dir := filepath.Join(baseDir, fmt.Sprintf("%s-%d", strings.ToLower(opt.Name), value))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	cfg := config.NewDefaultConfig(dir, dir)
	cfg.LRUCacheSize = 64 * 1024
	cfg.SyncOnClose = false
	opt.Apply(cfg, value)

	s, err := recstore.Create(cfg)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ctx := context.Background()
	tb := &TuningBenchmark{ConfigName: opt.Name, ConfigValue: value}

	steps := []struct {
		run func(context.Context, *recstore.RecordStore, benchParams) (BenchmarkResult, error)
		out *BenchmarkMetrics
	}{
		{runWriteBenchmark, &tb.WriteResults},
		{runReadBenchmark, &tb.ReadResults},
		{runRandomReadBenchmark, &tb.RandomResults},
		{runMixedBenchmark, &tb.MixedResults},
	}
	for _, step := range steps {
		r, err := step.run(ctx, s, p)
		if err != nil {
			return nil, err
		}
		*step.out = metricsOf(r)
	}

	tb.StoreStats = s.Stats()
	if size, err := s.DiskSize(); err == nil {
		tb.DiskSize = size
	}
	return tb, nil
}

// SaveTuningResults writes results as indented JSON
func SaveTuningResults(results *TuningResults, path string) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tuning results: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// bestValue returns the option value with the highest metric
func bestValue(runs []TuningBenchmark, metric func(TuningBenchmark) float64) (int, float64) {
	best, bestScore := 0, -1.0
	for _, r := range runs {
		if score := metric(r); score > bestScore {
			best, bestScore = r.ConfigValue, score
		}
	}
	return best, bestScore
}

// generateRecommendations writes a markdown summary naming the best value
// of every option for writes, random reads and the mixed workload
func generateRecommendations(results *TuningResults, outputPath string) error {
	var b strings.Builder
	b.WriteString("# Record Store Configuration Recommendations\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", results.Timestamp.Format(time.RFC3339))

	for _, param := range results.Parameters {
		runs := results.Results[param]
		if len(runs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", param)
		fmt.Fprintf(&b, "| Value | Write ops/s | Random read ops/s | Mixed ops/s | Disk |\n")
		fmt.Fprintf(&b, "|-------|-------------|-------------------|-------------|------|\n")
		for _, r := range runs {
			fmt.Fprintf(&b, "| %s | %.0f | %.0f | %.0f | %s |\n",
				humanize.Comma(int64(r.ConfigValue)),
				r.WriteResults.Throughput, r.RandomResults.Throughput, r.MixedResults.Throughput,
				humanize.IBytes(uint64(r.DiskSize)))
		}

		w, _ := bestValue(runs, func(r TuningBenchmark) float64 { return r.WriteResults.Throughput })
		rr, _ := bestValue(runs, func(r TuningBenchmark) float64 { return r.RandomResults.Throughput })
		m, _ := bestValue(runs, func(r TuningBenchmark) float64 { return r.MixedResults.Throughput })
		fmt.Fprintf(&b, "\n- Writes: %s\n- Random reads: %s\n- Mixed: %s\n\n",
			humanize.Comma(int64(w)), humanize.Comma(int64(rr)), humanize.Comma(int64(m)))
	}

	return os.WriteFile(outputPath, []byte(b.String()), 0644)
}

// RunFullTuningBenchmark runs the tuning sweep and writes the JSON results
// and markdown recommendations into dataDir
func RunFullTuningBenchmark(dataDir string, p benchParams) error {
	results, err := RunConfigTuning(dataDir, p)
	if err != nil {
		return err
	}

	jsonPath := filepath.Join(dataDir, "tuning_results.json")
	if err := SaveTuningResults(results, jsonPath); err != nil {
		return err
	}
	mdPath := filepath.Join(dataDir, "recommendations.md")
	if err := generateRecommendations(results, mdPath); err != nil {
		return err
	}

	fmt.Printf("Tuning results written to %s\n", jsonPath)
	fmt.Printf("Recommendations written to %s\n", mdPath)
	return nil
}
