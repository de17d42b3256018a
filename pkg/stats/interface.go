package stats

import "time"

// Provider defines the interface for components that provide statistics
type Provider interface {
	// GetStats returns all statistics
	GetStats() map[string]interface{}

	// GetStatsFiltered returns statistics filtered by prefix
	GetStatsFiltered(prefix string) map[string]interface{}
}

// Collector interface defines methods for collecting statistics
type Collector interface {
	Provider

	TrackOperation(op OperationType)
	TrackOperationWithLatency(op OperationType, latencyNs uint64)
	TrackError(errorType string)
	TrackBytes(isWrite bool, bytes uint64)

	// TrackStoreSize records the logical data size and record count
	TrackStoreSize(dataBytes, records uint64)

	// TrackBlockAllocation counts a newly mapped block
	TrackBlockAllocation(index bool)

	// TrackPoisoned marks the store as refusing further writes
	TrackPoisoned()

	StartRecovery() time.Time
	FinishRecovery(startTime time.Time, entriesRecovered, blocksMapped uint64)
}

var _ Collector = (*AtomicCollector)(nil)
