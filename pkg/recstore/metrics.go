// ABOUTME: Record store telemetry metrics interface and implementation
// ABOUTME: Tracks put/get latency and bytes, index cache lookups, block allocation and poisoning

package recstore

import (
	"context"
	"time"

	"github.com/KevoDB/recstore/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// StoreMetrics defines the telemetry operations of a record store.
// All metrics are optional - implementations can safely be no-op.
type StoreMetrics interface {
	telemetry.ComponentMetrics

	// RecordPut records metrics for a put operation.
	RecordPut(ctx context.Context, duration time.Duration, bytes int64, err error)

	// RecordGet records metrics for a get operation.
	RecordGet(ctx context.Context, duration time.Duration, bytes int64, err error)

	// RecordCacheLookup records an index cache hit or miss.
	RecordCacheLookup(ctx context.Context, hit bool)

	// RecordBlockAllocation records a newly mapped block in the named file.
	RecordBlockAllocation(ctx context.Context, file string, blockIndex int)

	// RecordPoisoned records the store refusing further writes.
	RecordPoisoned(ctx context.Context, reason string)
}

type storeMetrics struct {
	tel   telemetry.Telemetry
	store string
}

// NewStoreMetrics creates metrics for the named store.
// If tel is nil, returns a no-op implementation.
func NewStoreMetrics(tel telemetry.Telemetry, storeName string) StoreMetrics {
	if tel == nil {
		return &noopStoreMetrics{}
	}
	return &storeMetrics{tel: tel, store: storeName}
}

// NewNoopStoreMetrics creates a no-op metrics implementation for testing.
func NewNoopStoreMetrics() StoreMetrics {
	return &noopStoreMetrics{}
}

func statusOf(err error) string {
	if err != nil {
		return telemetry.StatusError
	}
	return telemetry.StatusSuccess
}

func (m *storeMetrics) recordOp(ctx context.Context, op string, duration time.Duration, bytes int64, err error) {
	status := statusOf(err)

	m.tel.RecordHistogram(ctx, "recstore."+op+".duration", duration.Seconds(),
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRecordStore),
		attribute.String(telemetry.AttrStoreName, m.store),
		attribute.String(telemetry.AttrStatus, status),
	)

	m.tel.RecordCounter(ctx, "recstore.operations.total", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRecordStore),
		attribute.String(telemetry.AttrOperationType, op),
		attribute.String(telemetry.AttrStatus, status),
	)

	if err == nil {
		m.tel.RecordCounter(ctx, "recstore."+op+".bytes", bytes,
			attribute.String(telemetry.AttrComponent, telemetry.ComponentRecordStore),
			attribute.String(telemetry.AttrStoreName, m.store),
		)
	}
}

// RecordPut records put latency, outcome and payload bytes.
func (m *storeMetrics) RecordPut(ctx context.Context, duration time.Duration, bytes int64, err error) {
	m.recordOp(ctx, telemetry.OpTypePut, duration, bytes, err)
}

// RecordGet records get latency, outcome and payload bytes.
func (m *storeMetrics) RecordGet(ctx context.Context, duration time.Duration, bytes int64, err error) {
	m.recordOp(ctx, telemetry.OpTypeGet, duration, bytes, err)
}

// RecordCacheLookup records an index cache hit or miss.
func (m *storeMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := telemetry.CacheMiss
	if hit {
		result = telemetry.CacheHit
	}
	m.tel.RecordCounter(ctx, "recstore.cache.lookups", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentCache),
		attribute.String(telemetry.AttrCacheResult, result),
	)
}

// RecordBlockAllocation records a newly mapped block.
func (m *storeMetrics) RecordBlockAllocation(ctx context.Context, file string, blockIndex int) {
	m.tel.RecordCounter(ctx, "recstore.blocks.allocated", 1,
		attribute.String(telemetry.AttrComponent, file),
		attribute.String(telemetry.AttrStoreName, m.store),
	)
	m.tel.RecordHistogram(ctx, "recstore.blocks.index", float64(blockIndex),
		attribute.String(telemetry.AttrComponent, file),
	)
}

// RecordPoisoned records the store refusing further writes.
func (m *storeMetrics) RecordPoisoned(ctx context.Context, reason string) {
	m.tel.RecordCounter(ctx, "recstore.poisoned", 1,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentRecordStore),
		attribute.String(telemetry.AttrStoreName, m.store),
		attribute.String(telemetry.AttrErrorType, reason),
	)
}

// Close releases nothing; the Telemetry owner shuts it down.
func (m *storeMetrics) Close() error {
	return nil
}

type noopStoreMetrics struct{}

func (n *noopStoreMetrics) RecordPut(ctx context.Context, duration time.Duration, bytes int64, err error) {
}

func (n *noopStoreMetrics) RecordGet(ctx context.Context, duration time.Duration, bytes int64, err error) {
}

func (n *noopStoreMetrics) RecordCacheLookup(ctx context.Context, hit bool) {}

func (n *noopStoreMetrics) RecordBlockAllocation(ctx context.Context, file string, blockIndex int) {}

func (n *noopStoreMetrics) RecordPoisoned(ctx context.Context, reason string) {}

func (n *noopStoreMetrics) Close() error {
	return nil
}
