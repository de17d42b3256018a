// Package recstore implements a persistent append-only record store.
//
// A store is a pair of files sharing a name: a data file holding the raw
// concatenated payloads and an index file holding one fixed-width
// IndexEntry per record. Both files start with the same 24-byte header and
// are memory-mapped block by block through pkg/blockstore. Records are
// addressed by dense handles starting at 1; the n-th successful Put
// returns n. Index entries are cached in an LRU keyed by handle.
//
// A RecordStore serializes writers internally; Get calls run concurrently
// with each other and wait for an in-flight Put.
package recstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/KevoDB/recstore/pkg/blockstore"
	"github.com/KevoDB/recstore/pkg/cache"
	"github.com/KevoDB/recstore/pkg/common/log"
	"github.com/KevoDB/recstore/pkg/config"
	"github.com/KevoDB/recstore/pkg/format"
	"github.com/KevoDB/recstore/pkg/stats"
	"github.com/KevoDB/recstore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RecordStore maps handles to variable-length byte payloads
type RecordStore struct {
	mu sync.RWMutex

	cfg    *config.Config
	header format.Header
	data   *blockstore.Store
	index  *blockstore.Store
	cache  *cache.LRU[uint64, format.IndexEntry]

	// entries is the number of records, and the highest valid handle
	entries  uint64
	poisoned bool
	closed   bool

	logger  log.Logger
	tel     telemetry.Telemetry
	metrics StoreMetrics
	stats   stats.Collector
}

// Create makes a new, empty store in the configured directories. A random
// store name is generated when cfg.StoreName is empty. The config is copied;
// later changes to cfg do not affect the store.
func Create(cfg *config.Config, opts ...Option) (*RecordStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", config.ErrInvalidConfig)
	}
	cfg = cfg.Clone()
	if cfg.StoreName == "" {
		cfg.StoreName = config.GenerateStoreName()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkDirs(cfg); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	s := newStore(cfg, o)
	s.header = *format.NewHeader(cfg.BlockSize, config.StoreID(cfg.StoreName))

	dataFile, err := createFile(cfg.DataFile(), &s.header)
	if err != nil {
		return nil, err
	}
	indexFile, err := createFile(cfg.IndexFile(), &s.header)
	if err != nil {
		dataFile.Close()
		os.Remove(cfg.DataFile())
		return nil, err
	}

	cleanup := func() {
		dataFile.Close()
		indexFile.Close()
		os.Remove(cfg.DataFile())
		os.Remove(cfg.IndexFile())
	}

	if s.data, err = blockstore.New(dataFile, format.HeaderSize, cfg.BlockSize, s.blockOptions(telemetry.ComponentDataStore)...); err != nil {
		cleanup()
		return nil, err
	}
	if s.index, err = blockstore.New(indexFile, format.HeaderSize, cfg.BlockSize, s.blockOptions(telemetry.ComponentIndexStore)...); err != nil {
		cleanup()
		return nil, err
	}

	s.logger.Info("Created store %s (block size %d) in %s", cfg.StoreName, cfg.BlockSize, cfg.DataPath)
	s.stats.TrackOperation(stats.OpOpen)
	return s, nil
}

// Open reopens an existing store named cfg.StoreName. The block size
// recorded in the header replaces cfg.BlockSize. Every block already
// written in either file is mapped before Open returns.
func Open(cfg *config.Config, opts ...Option) (*RecordStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", config.ErrInvalidConfig)
	}
	cfg = cfg.Clone()
	if cfg.StoreName == "" {
		return nil, fmt.Errorf("%w: store name is required to open a store", config.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkDirs(cfg); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	s := newStore(cfg, o)
	recoveryStart := s.stats.StartRecovery()

	dataFile, err := openFile(cfg.DataFile())
	if err != nil {
		return nil, err
	}
	indexFile, err := openFile(cfg.IndexFile())
	if err != nil {
		dataFile.Close()
		return nil, err
	}

	if err := s.recover(dataFile, indexFile); err != nil {
		if s.index != nil {
			s.index.Close()
		} else {
			indexFile.Close()
		}
		dataFile.Close()
		return nil, err
	}

	s.stats.FinishRecovery(recoveryStart, s.entries,
		uint64(s.data.BlocksAllocated()+s.index.BlocksAllocated()))
	s.stats.TrackOperation(stats.OpOpen)
	s.stats.TrackStoreSize(s.data.Size(), s.entries)
	s.logger.Info("Opened store %s with %d records (block size %d)",
		cfg.StoreName, s.entries, s.header.BlockSize)
	return s, nil
}

func newStore(cfg *config.Config, o *options) *RecordStore {
	s := &RecordStore{
		cfg:     cfg,
		logger:  o.logger.WithField("store", cfg.StoreName),
		tel:     o.telemetry,
		metrics: NewStoreMetrics(o.telemetry, cfg.StoreName),
		stats:   o.stats,
	}
	// Capacity was validated as positive
	s.cache, _ = cache.New[uint64, format.IndexEntry](cfg.LRUCacheSize)
	return s
}

// recover reads both headers, derives the record count from the index
// length and the data length from the last index entry, and maps both files.
func (s *RecordStore) recover(dataFile, indexFile *os.File) error {
	indexHeader, err := format.ReadHeader(indexFile)
	if err != nil {
		return fmt.Errorf("%w: index header: %w", ErrCorruptStore, err)
	}
	dataHeader, err := format.ReadHeader(dataFile)
	if err != nil {
		return fmt.Errorf("%w: data header: %w", ErrCorruptStore, err)
	}
	if dataHeader.BlockSize != indexHeader.BlockSize || dataHeader.StoreID != indexHeader.StoreID {
		return fmt.Errorf("%w: data header (block size %d, id %d) does not match index header (block size %d, id %d)",
			ErrCorruptStore, dataHeader.BlockSize, dataHeader.StoreID, indexHeader.BlockSize, indexHeader.StoreID)
	}
	if indexHeader.BlockSize > config.MaxBlockSize {
		return fmt.Errorf("%w: block size %d exceeds maximum %d", ErrCorruptStore, indexHeader.BlockSize, config.MaxBlockSize)
	}
	if s.cfg.BlockSize != indexHeader.BlockSize {
		s.logger.Debug("Using block size %d from header instead of configured %d",
			indexHeader.BlockSize, s.cfg.BlockSize)
	}
	s.header = *indexHeader
	s.cfg.BlockSize = indexHeader.BlockSize

	indexSize, err := payloadSize(indexFile)
	if err != nil {
		return err
	}
	if indexSize%format.EntrySize != 0 {
		return fmt.Errorf("%w: index holds %d bytes, not a multiple of %d: %w",
			ErrCorruptStore, indexSize, format.EntrySize, format.ErrTruncatedRecord)
	}

	s.index, err = blockstore.Open(indexFile, format.HeaderSize, s.header.BlockSize, indexSize,
		s.blockOptions(telemetry.ComponentIndexStore)...)
	if err != nil {
		return err
	}
	s.entries = indexSize / format.EntrySize

	dataSize, err := s.checkEntries()
	if err != nil {
		return err
	}

	onDisk, err := payloadSize(dataFile)
	if err != nil {
		return err
	}
	if onDisk < dataSize {
		return fmt.Errorf("%w: data file holds %d bytes, index references %d",
			ErrCorruptStore, onDisk, dataSize)
	}

	s.data, err = blockstore.Open(dataFile, format.HeaderSize, s.header.BlockSize, dataSize,
		s.blockOptions(telemetry.ComponentDataStore)...)
	return err
}

// checkEntries walks the index and returns the data size it describes.
// Records are appended back to back, so every entry must start where the
// previous one ends. Zero-filled slots left past the last record by an
// unclean shutdown break that chain and are reported as corruption.
func (s *RecordStore) checkEntries() (uint64, error) {
	buf := make([]byte, format.EntrySize)
	var end uint64
	for h := uint64(1); h <= s.entries; h++ {
		if err := s.index.ReadInto(format.EntryOffset(h), buf); err != nil {
			return 0, fmt.Errorf("%w: index entry %d: %w", ErrCorruptStore, h, err)
		}
		entry, err := format.DecodeEntry(buf)
		if err != nil {
			return 0, fmt.Errorf("%w: index entry %d: %w", ErrCorruptStore, h, err)
		}
		if entry.Offset != end {
			return 0, fmt.Errorf("%w: index entry %d starts at %d, previous record ends at %d",
				ErrCorruptStore, h, entry.Offset, end)
		}
		if entry.End() < entry.Offset {
			return 0, fmt.Errorf("%w: index entry %d overflows", ErrCorruptStore, h)
		}
		end = entry.End()
	}
	return end, nil
}

func (s *RecordStore) blockOptions(component string) []blockstore.Option {
	isIndex := component == telemetry.ComponentIndexStore
	return []blockstore.Option{
		blockstore.WithLogger(s.logger.WithField("file", component)),
		blockstore.WithAllocateHook(func(index int) {
			s.stats.TrackBlockAllocation(isIndex)
			s.metrics.RecordBlockAllocation(context.Background(), component, index)
		}),
	}
}

// Put appends p as a new record and returns its handle. The data bytes and
// the index entry are committed together: if either write fails, neither
// is visible. An I/O failure poisons the store and later Puts return
// ErrStorePoisoned until it is reopened. ctx is used for tracing only.
func (s *RecordStore) Put(ctx context.Context, p []byte) (uint64, error) {
	ctx, span := s.tel.StartSpan(ctx, "recstore.put",
		attribute.String(telemetry.AttrStoreName, s.cfg.StoreName),
		attribute.Int("bytes", len(p)),
	)
	defer span.End()
	start := time.Now()

	handle, size, err := s.put(ctx, p)

	elapsed := time.Since(start)
	s.metrics.RecordPut(ctx, elapsed, int64(len(p)), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.stats.TrackError(errorType(err))
		return 0, err
	}

	span.SetAttributes(attribute.Int64("handle", int64(handle)))
	s.stats.TrackOperationWithLatency(stats.OpPut, uint64(elapsed.Nanoseconds()))
	s.stats.TrackBytes(true, uint64(len(p)))
	s.stats.TrackStoreSize(size, handle)
	return handle, nil
}

// put appends p under the write lock and returns the new handle together
// with the committed data size.
func (s *RecordStore) put(ctx context.Context, p []byte) (uint64, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, ErrStoreClosed
	}
	if s.poisoned {
		return 0, 0, ErrStorePoisoned
	}

	// Map the index slot first so the only write that can fail after the
	// data bytes land is one that needs no allocation.
	if err := s.index.Reserve(format.EntrySize); err != nil {
		return 0, 0, s.fail(ctx, "reserve index slot", err)
	}

	committed := s.data.Size()
	offset, err := s.data.Append(p)
	if err != nil {
		return 0, 0, s.fail(ctx, "append data", err)
	}

	entry := format.IndexEntry{Offset: offset, Length: uint64(len(p))}
	if _, err := s.index.Append(entry.Encode()); err != nil {
		if terr := s.data.Truncate(committed); terr != nil {
			s.logger.Error("Failed to roll back data to %d bytes: %v", committed, terr)
		}
		return 0, 0, s.fail(ctx, "append index entry", err)
	}

	s.entries++
	return s.entries, s.data.Size(), nil
}

// fail wraps err with the failed step and poisons the store on I/O errors
func (s *RecordStore) fail(ctx context.Context, step string, err error) error {
	if errors.Is(err, blockstore.ErrIO) && !s.poisoned {
		s.poisoned = true
		s.stats.TrackPoisoned()
		s.metrics.RecordPoisoned(ctx, step)
		s.logger.Error("Store poisoned, %s failed: %v", step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// Get returns a copy of the payload stored under handle. ctx is used for
// tracing only.
func (s *RecordStore) Get(ctx context.Context, handle uint64) ([]byte, error) {
	ctx, span := s.tel.StartSpan(ctx, "recstore.get",
		attribute.String(telemetry.AttrStoreName, s.cfg.StoreName),
		attribute.Int64("handle", int64(handle)),
	)
	defer span.End()
	start := time.Now()

	p, err := s.get(ctx, handle)

	elapsed := time.Since(start)
	s.metrics.RecordGet(ctx, elapsed, int64(len(p)), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.stats.TrackError(errorType(err))
		return nil, err
	}

	s.stats.TrackOperationWithLatency(stats.OpGet, uint64(elapsed.Nanoseconds()))
	s.stats.TrackBytes(false, uint64(len(p)))
	return p, nil
}

func (s *RecordStore) get(ctx context.Context, handle uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if handle == 0 || handle > s.entries {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidHandle, handle, s.entries)
	}

	entry, hit := s.cache.Get(handle)
	s.metrics.RecordCacheLookup(ctx, hit)
	if !hit {
		var err error
		if entry, err = s.readEntry(handle); err != nil {
			return nil, err
		}
		s.cache.Add(handle, entry)
	}

	return s.data.Read(entry.Offset, entry.Length)
}

// readEntry decodes the index entry of handle straight from the index file
func (s *RecordStore) readEntry(handle uint64) (format.IndexEntry, error) {
	buf, err := s.index.Read(format.EntryOffset(handle), format.EntrySize)
	if err != nil {
		return format.IndexEntry{}, err
	}
	return format.DecodeEntry(buf)
}

// Range calls fn for every record in handle order, stopping at the first
// error fn returns. Entries are read from the index directly and do not
// disturb the cache. fn must not call Put or Close on the same store.
func (s *RecordStore) Range(ctx context.Context, fn func(handle uint64, p []byte) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := s.tel.StartSpan(ctx, "recstore.range",
		attribute.String(telemetry.AttrStoreName, s.cfg.StoreName))
	defer span.End()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	s.stats.TrackOperation(stats.OpRange)
	for h := uint64(1); h <= s.entries; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry, err := s.readEntry(h)
		if err != nil {
			return fmt.Errorf("handle %d: %w", h, err)
		}
		p, err := s.data.Read(entry.Offset, entry.Length)
		if err != nil {
			return fmt.Errorf("handle %d: %w", h, err)
		}
		if err := fn(h, p); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of records, which is also the highest valid handle
func (s *RecordStore) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

// Sync flushes dirty mapped pages of both files to disk
func (s *RecordStore) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.sync()
}

func (s *RecordStore) sync() error {
	start := time.Now()
	if err := s.data.Sync(); err != nil {
		return fmt.Errorf("sync data: %w", err)
	}
	if err := s.index.Sync(); err != nil {
		return fmt.Errorf("sync index: %w", err)
	}
	s.stats.TrackOperationWithLatency(stats.OpSync, uint64(time.Since(start).Nanoseconds()))
	return nil
}

// Close releases every mapping and closes both files, trimming each to its
// logical length. With SyncOnClose, dirty pages are flushed first. Closing
// a closed store is a no-op.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.cfg.SyncOnClose && !s.poisoned {
		if err := s.sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.data.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close data: %w", err))
	}
	if err := s.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close index: %w", err))
	}
	if err := s.metrics.Close(); err != nil {
		errs = append(errs, err)
	}
	s.cache.Purge()

	s.stats.TrackOperation(stats.OpClose)
	s.logger.Info("Closed store with %d records", s.entries)
	return errors.Join(errs...)
}

// Name returns the store name shared by both files
func (s *RecordStore) Name() string {
	return s.cfg.StoreName
}

// DataFile returns the path of the data file
func (s *RecordStore) DataFile() string {
	return s.cfg.DataFile()
}

// IndexFile returns the path of the index file
func (s *RecordStore) IndexFile() string {
	return s.cfg.IndexFile()
}

// BlockSize returns the block size recorded in the header
func (s *RecordStore) BlockSize() uint64 {
	return s.header.BlockSize
}

// Header returns a copy of the store header
func (s *RecordStore) Header() format.Header {
	return s.header
}

// Poisoned reports whether Put is refusing writes after an I/O failure
func (s *RecordStore) Poisoned() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.poisoned
}

// DiskSize returns the combined size of both files on disk. While open this
// includes the unused tail of the last mapped block of each file.
func (s *RecordStore) DiskSize() (int64, error) {
	var total int64
	for _, path := range []string{s.DataFile(), s.IndexFile()} {
		info, err := os.Stat(path)
		if err != nil {
			return 0, fmt.Errorf("%w: stat %s: %v", blockstore.ErrIO, path, err)
		}
		total += info.Size()
	}
	return total, nil
}

// CacheStats returns the index cache counters
func (s *RecordStore) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// Stats returns the collector's statistics merged with store geometry and
// cache counters
func (s *RecordStore) Stats() map[string]interface{} {
	s.mu.RLock()
	size, entries := s.dataSize(), s.entries
	var dataBlocks, indexBlocks int
	if !s.closed {
		dataBlocks, indexBlocks = s.data.BlocksAllocated(), s.index.BlocksAllocated()
	}
	s.mu.RUnlock()

	s.stats.TrackStoreSize(size, entries)
	result := s.stats.GetStats()
	result["block_size"] = s.header.BlockSize
	result["data_blocks_mapped"] = dataBlocks
	result["index_blocks_mapped"] = indexBlocks

	cs := s.cache.Stats()
	result["cache_capacity"] = cs.Capacity
	result["cache_entries"] = cs.Len
	result["cache_accesses"] = cs.Accesses
	result["cache_hits"] = cs.Hits
	result["cache_evictions"] = cs.Evictions
	result["cache_hit_ratio"] = cs.HitRatio()
	return result
}

func (s *RecordStore) dataSize() uint64 {
	if s.data == nil {
		return 0
	}
	return s.data.Size()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrInvalidHandle):
		return "invalid_handle"
	case errors.Is(err, ErrStoreClosed):
		return "store_closed"
	case errors.Is(err, ErrStorePoisoned):
		return "store_poisoned"
	case errors.Is(err, blockstore.ErrOutOfRange), errors.Is(err, format.ErrTruncatedRecord):
		return "out_of_range"
	case errors.Is(err, blockstore.ErrIO):
		return "io_failure"
	default:
		return "other"
	}
}

func checkDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.DataPath, cfg.IndexPath} {
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrPathNotFound, dir)
			}
			return fmt.Errorf("%w: stat %s: %v", blockstore.ErrIO, dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory", ErrPathNotFound, dir)
		}
	}
	return nil
}

// createFile creates path exclusively and writes the header at its start
func createFile(path string, header *format.Header) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreExists, path)
		}
		return nil, fmt.Errorf("%w: create %s: %v", blockstore.ErrIO, path, err)
	}
	if _, err := header.WriteTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: write header to %s: %v", blockstore.ErrIO, path, err)
	}
	return f, nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", blockstore.ErrIO, path, err)
	}
	return f, nil
}

// payloadSize returns the file length after the header
func payloadSize(f *os.File) (uint64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", blockstore.ErrIO, f.Name(), err)
	}
	if info.Size() < format.HeaderSize {
		return 0, fmt.Errorf("%w: %s is shorter than its header", ErrCorruptStore, f.Name())
	}
	return uint64(info.Size() - format.HeaderSize), nil
}
