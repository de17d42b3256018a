package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
)

// BenchmarkResult stores the results of a benchmark
type BenchmarkResult struct {
	BenchmarkType  string
	NumRecords     int
	ValueSize      int
	BlockSize      uint64
	Operations     int
	Duration       float64 // seconds
	Throughput     float64 // ops/sec
	Latency        float64 // µs/op
	BytesProcessed uint64
	HitRate        float64 // index cache hit percentage, reads only
	EntriesPerSec  float64 // scans only
	ReadRatio      float64 // mixed only
	WriteRatio     float64 // mixed only
	Timestamp      time.Time
}

var csvHeader = []string{
	"Timestamp", "BenchmarkType", "NumRecords", "ValueSize", "BlockSize",
	"Operations", "Duration", "Throughput", "Latency", "BytesProcessed",
	"HitRate", "EntriesPerSec", "ReadRatio", "WriteRatio",
}

// SaveResultCSV saves benchmark results to a CSV file
func SaveResultCSV(results []BenchmarkResult, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}

	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, r := range results {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			r.BenchmarkType,
			strconv.Itoa(r.NumRecords),
			strconv.Itoa(r.ValueSize),
			strconv.FormatUint(r.BlockSize, 10),
			strconv.Itoa(r.Operations),
			fmt.Sprintf("%.2f", r.Duration),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.3f", r.Latency),
			strconv.FormatUint(r.BytesProcessed, 10),
			fmt.Sprintf("%.2f", r.HitRate),
			fmt.Sprintf("%.2f", r.EntriesPerSec),
			fmt.Sprintf("%.1f", r.ReadRatio),
			fmt.Sprintf("%.1f", r.WriteRatio),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// LoadResultCSV loads benchmark results from a CSV file
func LoadResultCSV(filename string) ([]BenchmarkResult, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}

	// Skip header
	if len(records) <= 1 {
		return []BenchmarkResult{}, nil
	}
	records = records[1:]

	results := make([]BenchmarkResult, 0, len(records))
	for _, record := range records {
		if len(record) < len(csvHeader) {
			continue
		}

		timestamp, _ := time.Parse(time.RFC3339, record[0])
		numRecords, _ := strconv.Atoi(record[2])
		valueSize, _ := strconv.Atoi(record[3])
		blockSize, _ := strconv.ParseUint(record[4], 10, 64)
		operations, _ := strconv.Atoi(record[5])
		duration, _ := strconv.ParseFloat(record[6], 64)
		throughput, _ := strconv.ParseFloat(record[7], 64)
		latency, _ := strconv.ParseFloat(record[8], 64)
		bytesProcessed, _ := strconv.ParseUint(record[9], 10, 64)
		hitRate, _ := strconv.ParseFloat(record[10], 64)
		entriesPerSec, _ := strconv.ParseFloat(record[11], 64)
		readRatio, _ := strconv.ParseFloat(record[12], 64)
		writeRatio, _ := strconv.ParseFloat(record[13], 64)

		results = append(results, BenchmarkResult{
			Timestamp:      timestamp,
			BenchmarkType:  record[1],
			NumRecords:     numRecords,
			ValueSize:      valueSize,
			BlockSize:      blockSize,
			Operations:     operations,
			Duration:       duration,
			Throughput:     throughput,
			Latency:        latency,
			BytesProcessed: bytesProcessed,
			HitRate:        hitRate,
			EntriesPerSec:  entriesPerSec,
			ReadRatio:      readRatio,
			WriteRatio:     writeRatio,
		})
	}

	return results, nil
}

// FormatResult renders one result as an indented text block
func FormatResult(r BenchmarkResult) string {
	s := fmt.Sprintf("\n%s Benchmark Results:", r.BenchmarkType)
	s += fmt.Sprintf("\n  Operations: %s", humanize.Comma(int64(r.Operations)))
	s += fmt.Sprintf("\n  Data: %s", humanize.IBytes(r.BytesProcessed))
	s += fmt.Sprintf("\n  Time: %.2f seconds", r.Duration)
	if r.Duration > 0 {
		s += fmt.Sprintf("\n  Throughput: %.2f ops/sec (%s/sec)", r.Throughput,
			humanize.IBytes(uint64(float64(r.BytesProcessed)/r.Duration)))
	}
	s += fmt.Sprintf("\n  Latency: %.3f µs/op", r.Latency)
	switch r.BenchmarkType {
	case "Read", "RandomRead":
		s += fmt.Sprintf("\n  Index cache hit rate: %.2f%%", r.HitRate)
	case "Scan":
		s += fmt.Sprintf("\n  Entries/sec: %.2f", r.EntriesPerSec)
	case "Mixed":
		s += fmt.Sprintf("\n  Reads: %.1f%%, Writes: %.1f%%", r.ReadRatio, r.WriteRatio)
	}
	return s
}

// PrintResultTable prints a formatted table of benchmark results
func PrintResultTable(w io.Writer, results []BenchmarkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results to display")
		return
	}

	line := "+-----------------+----------+---------+---------+------------+-----------+----------+"
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "| Benchmark Type  | Records  | ValSize | Block   | Throughput | Latency   | Hit Rate |")
	fmt.Fprintln(w, line)

	for _, r := range results {
		hitRateStr := "-"
		switch r.BenchmarkType {
		case "Read", "RandomRead":
			hitRateStr = fmt.Sprintf("%.2f%%", r.HitRate)
		case "Mixed":
			hitRateStr = fmt.Sprintf("R:%.0f/W:%.0f", r.ReadRatio, r.WriteRatio)
		}

		latencyUnit := "µs"
		latency := r.Latency
		if latency > 1000 {
			latencyUnit = "ms"
			latency /= 1000
		}

		fmt.Fprintf(w, "| %-15s | %8d | %7s | %7s | %10.2f | %7.2f%s | %8s |\n",
			r.BenchmarkType,
			r.NumRecords,
			humanize.IBytes(uint64(r.ValueSize)),
			humanize.IBytes(r.BlockSize),
			r.Throughput,
			latency, latencyUnit,
			hitRateStr)
	}
	fmt.Fprintln(w, line)
}
