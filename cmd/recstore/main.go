package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/recstore/pkg/common/log"
	"github.com/KevoDB/recstore/pkg/config"
	"github.com/KevoDB/recstore/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".create"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".exit"),
	readline.PcItem(".stats"),
	readline.PcItem(".sync"),
	readline.PcItem(".verify"),
	readline.PcItem(".export"),
	readline.PcItem(".import"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
)

const helpText = `
recstore - A memory-mapped append-only record store.

Usage:
  recstore [options] [store_name]  - Start, optionally opening an existing store

Commands:
  .help                   - Show this help message
  .create [NAME]          - Create a new store (random name when omitted)
  .open NAME              - Open an existing store
  .close                  - Close the current store
  .exit                   - Exit the program
  .stats                  - Show store statistics
  .sync                   - Flush mapped pages to disk
  .verify                 - Read every record and print a digest of the store
  .export FILE            - Write every record to a zstd-compressed dump
  .import FILE            - Append every record of a dump to the current store

  PUT text                - Store text as a new record and print its handle
  GET handle              - Print the record stored under handle
`

// Options holds the command line configuration
type Options struct {
	ConfigFile string
	DataPath   string
	IndexPath  string
	BlockSize  uint64
	CacheSize  int
	LogLevel   string
	Telemetry  bool
	StoreName  string
}

func main() {
	opts := parseFlags()

	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))

	cfg, err := buildConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	tel, err := buildTelemetry(opts.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed: %v", err)
		}
	}()

	sh := newShell(cfg, os.Stdout, logger, tel)
	defer sh.closeStore()

	if opts.StoreName != "" {
		sh.execute(".open " + opts.StoreName)
	}

	runInteractive(sh)
}

// parseFlags parses command line flags and returns the Options
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "recstore - A memory-mapped append-only record store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: recstore [options] [store_name]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor the list of commands, start recstore and type .help\n")
	}

	configFile := flag.String("config", "", "JSON configuration file, used instead of -data, -index, -block-size and -cache-size")
	dataPath := flag.String("data", ".", "Directory holding data files")
	indexPath := flag.String("index", "", "Directory holding index files (default: same as -data)")
	blockSize := flag.Uint64("block-size", config.DefaultBlockSize, "Block size for new stores")
	cacheSize := flag.Int("cache-size", 1<<20, "Index cache capacity in entries")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	tel := flag.Bool("telemetry", false, "Export telemetry (configured through RECSTORE_TELEMETRY_* variables)")

	flag.Parse()

	opts := Options{
		ConfigFile: *configFile,
		DataPath:   *dataPath,
		IndexPath:  *indexPath,
		BlockSize:  *blockSize,
		CacheSize:  *cacheSize,
		LogLevel:   *logLevel,
		Telemetry:  *tel,
	}
	if opts.IndexPath == "" {
		opts.IndexPath = opts.DataPath
	}
	if flag.NArg() > 0 {
		opts.StoreName = flag.Arg(0)
	}
	return opts
}

// buildConfig loads the config file when given, otherwise starts from
// defaults, and applies the command line overrides
func buildConfig(opts Options) (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigFile != "" {
		loaded, err := config.LoadConfig(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.NewDefaultConfig(opts.DataPath, opts.IndexPath)
		cfg.BlockSize = opts.BlockSize
		cfg.LRUCacheSize = opts.CacheSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildTelemetry(enabled bool) (telemetry.Telemetry, error) {
	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	if enabled {
		telCfg.Enabled = true
	}
	return telemetry.New(telCfg)
}

// runInteractive starts the interactive CLI mode
func runInteractive(sh *shell) {
	fmt.Println("recstore version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	historyFile := filepath.Join(os.TempDir(), ".recstore_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "recstore> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		if sh.store != nil {
			rl.SetPrompt(fmt.Sprintf("recstore:%s> ", sh.store.Name()))
		} else {
			rl.SetPrompt("recstore> ")
		}

		line, readErr := rl.Readline()
		if readErr != nil {
			if errors.Is(readErr, readline.ErrInterrupt) {
				if len(line) == 0 {
					break
				}
				continue
			} else if errors.Is(readErr, io.EOF) {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		if exit := sh.execute(line); exit {
			return
		}
	}
}
