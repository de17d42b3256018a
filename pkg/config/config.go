package config

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	CurrentConfigVersion = 1

	DefaultBlockSize    = 64 * 1024 // 64KB
	DefaultLRUCacheSize = 1 << 27   // entries
	MaxBlockSize        = 1 << 30   // 1GB, one mapping per block

	dataExt           = ".bin.cac"
	indexExt          = ".bin.idx"
	compressedDataExt = ".zip.cac"
	compressedIdxExt  = ".zip.idx"
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("config file not found")
)

// Config describes where a record store lives and how it is laid out.
// BlockSize only applies when creating a store; an existing store's header
// always wins on open.
type Config struct {
	Version int `json:"version"`

	// Directories holding the data (.cac) and index (.idx) files
	DataPath  string `json:"data_path"`
	IndexPath string `json:"index_path"`

	BlockSize    uint64 `json:"block_size"`
	LRUCacheSize int    `json:"lru_cache_size"` // number of index entries

	// StoreName is the base file name shared by both files. Generated on
	// create when empty; required on open.
	StoreName string `json:"store_name"`

	// Compressed only selects the .zip.* file names. No codec is applied.
	Compressed bool `json:"compressed"`

	SyncOnClose bool `json:"sync_on_close"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataPath, indexPath string) *Config {
	return &Config{
		Version:      CurrentConfigVersion,
		DataPath:     dataPath,
		IndexPath:    indexPath,
		BlockSize:    DefaultBlockSize,
		LRUCacheSize: DefaultLRUCacheSize,
		SyncOnClose:  true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.DataPath == "" {
		return fmt.Errorf("%w: data path not specified", ErrInvalidConfig)
	}

	if c.IndexPath == "" {
		return fmt.Errorf("%w: index path not specified", ErrInvalidConfig)
	}

	if c.BlockSize == 0 {
		return fmt.Errorf("%w: block size must be positive", ErrInvalidConfig)
	}

	if c.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: block size %d exceeds maximum %d", ErrInvalidConfig, c.BlockSize, MaxBlockSize)
	}

	if c.LRUCacheSize <= 0 {
		return fmt.Errorf("%w: LRU cache size must be positive", ErrInvalidConfig)
	}

	if c.StoreName != "" {
		if err := validateStoreName(c.StoreName); err != nil {
			return err
		}
	}

	return nil
}

func validateStoreName(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: store name %q is not a plain file name", ErrInvalidConfig, name)
	}
	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Clone returns a copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Config{
		Version:      c.Version,
		DataPath:     c.DataPath,
		IndexPath:    c.IndexPath,
		BlockSize:    c.BlockSize,
		LRUCacheSize: c.LRUCacheSize,
		StoreName:    c.StoreName,
		Compressed:   c.Compressed,
		SyncOnClose:  c.SyncOnClose,
	}
}

// DataFile returns the path of the data file for the configured store name
func (c *Config) DataFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ext := dataExt
	if c.Compressed {
		ext = compressedDataExt
	}
	return filepath.Join(c.DataPath, c.StoreName+ext)
}

// IndexFile returns the path of the index file for the configured store name
func (c *Config) IndexFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ext := indexExt
	if c.Compressed {
		ext = compressedIdxExt
	}
	return filepath.Join(c.IndexPath, c.StoreName+ext)
}

// GenerateStoreName returns a random decimal store name: the absolute value
// of the most significant 64 bits of a random UUID.
func GenerateStoreName() string {
	u := uuid.New()
	v := int64(binary.BigEndian.Uint64(u[:8]))
	if v < 0 {
		v = -v
	}
	if v < 0 {
		// -MinInt64 overflows back to itself
		v = 0
	}
	return strconv.FormatInt(v, 10)
}

// StoreID derives the header's 64-bit store identity from a store name.
// Decimal names (as produced by GenerateStoreName) map to their value;
// anything else is hashed.
func StoreID(name string) uint64 {
	if id, err := strconv.ParseUint(name, 10, 64); err == nil {
		return id
	}
	return xxhash.Sum64String(name)
}

// LoadConfig reads a JSON configuration file and validates it
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("", "")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration as JSON, replacing path atomically
func (c *Config) SaveConfig(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	data, err := json.MarshalIndent(c, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}
