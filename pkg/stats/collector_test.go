package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_TrackOperation(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpPut)
	collector.TrackOperation(OpPut)
	collector.TrackOperation(OpGet)

	stats := collector.GetStats()

	if stats["put_ops"].(uint64) != 2 {
		t.Errorf("Expected 2 put operations, got %v", stats["put_ops"])
	}
	if stats["get_ops"].(uint64) != 1 {
		t.Errorf("Expected 1 get operation, got %v", stats["get_ops"])
	}
	if _, exists := stats["last_put_time"]; !exists {
		t.Errorf("Expected last_put_time to exist in stats")
	}
	if _, exists := stats["last_get_time"]; !exists {
		t.Errorf("Expected last_get_time to exist in stats")
	}
}

func TestCollector_TrackOperationWithLatency(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperationWithLatency(OpGet, 100)
	collector.TrackOperationWithLatency(OpGet, 200)
	collector.TrackOperationWithLatency(OpGet, 300)

	stats := collector.GetStats()

	latencyStats, ok := stats["get_latency"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected get_latency to be a map, got %T", stats["get_latency"])
	}
	if count := latencyStats["count"].(uint64); count != 3 {
		t.Errorf("Expected 3 latency records, got %v", count)
	}
	if avg := latencyStats["avg_ns"].(uint64); avg != 200 {
		t.Errorf("Expected average latency 200ns, got %v", avg)
	}
	if min := latencyStats["min_ns"].(uint64); min != 100 {
		t.Errorf("Expected min latency 100ns, got %v", min)
	}
	if max := latencyStats["max_ns"].(uint64); max != 300 {
		t.Errorf("Expected max latency 300ns, got %v", max)
	}
	if stats["get_ops"].(uint64) != 3 {
		t.Errorf("Expected latency tracking to count operations, got %v", stats["get_ops"])
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewAtomicCollector()
	const numGoroutines = 10
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				switch j % 3 {
				case 0:
					collector.TrackOperationWithLatency(OpPut, uint64(j+1))
					collector.TrackBytes(true, 16)
				case 1:
					collector.TrackOperation(OpGet)
					collector.TrackBytes(false, 8)
				default:
					collector.TrackError("invalid_handle")
				}
			}
		}(i)
	}

	wg.Wait()

	stats := collector.GetStats()
	puts := stats["put_ops"].(uint64)
	gets := stats["get_ops"].(uint64)
	errs := stats["errors"].(map[string]uint64)["invalid_handle"]

	if puts+gets+errs != numGoroutines*opsPerGoroutine {
		t.Errorf("Expected %d tracked events, got %d", numGoroutines*opsPerGoroutine, puts+gets+errs)
	}
	if written := stats["total_bytes_written"].(uint64); written != puts*16 {
		t.Errorf("Expected %d bytes written, got %d", puts*16, written)
	}
	if read := stats["total_bytes_read"].(uint64); read != gets*8 {
		t.Errorf("Expected %d bytes read, got %d", gets*8, read)
	}
}

func TestCollector_GetStatsFiltered(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackOperation(OpPut)
	collector.TrackOperation(OpGet)
	collector.TrackOperation(OpSync)

	filtered := collector.GetStatsFiltered("put")
	if _, ok := filtered["put_ops"]; !ok {
		t.Error("Expected put_ops in filtered stats")
	}
	if _, ok := filtered["get_ops"]; ok {
		t.Error("Did not expect get_ops in filtered stats")
	}

	all := collector.GetStatsFiltered("")
	if len(all) != len(collector.GetStats()) {
		t.Errorf("Empty prefix should return everything")
	}
}

func TestCollector_StoreGeometry(t *testing.T) {
	collector := NewAtomicCollector()

	collector.TrackStoreSize(4096, 12)
	collector.TrackBlockAllocation(false)
	collector.TrackBlockAllocation(false)
	collector.TrackBlockAllocation(true)

	stats := collector.GetStats()
	if stats["data_size"].(uint64) != 4096 {
		t.Errorf("Expected data_size 4096, got %v", stats["data_size"])
	}
	if stats["record_count"].(uint64) != 12 {
		t.Errorf("Expected record_count 12, got %v", stats["record_count"])
	}
	if stats["data_blocks_allocated"].(uint64) != 2 {
		t.Errorf("Expected 2 data blocks, got %v", stats["data_blocks_allocated"])
	}
	if stats["index_blocks_allocated"].(uint64) != 1 {
		t.Errorf("Expected 1 index block, got %v", stats["index_blocks_allocated"])
	}
	if stats["poisoned"].(bool) {
		t.Error("Store should not be poisoned")
	}

	collector.TrackPoisoned()
	if !collector.GetStats()["poisoned"].(bool) {
		t.Error("Expected poisoned after TrackPoisoned")
	}
}

func TestCollector_RecoveryStats(t *testing.T) {
	collector := NewAtomicCollector()

	start := collector.StartRecovery()
	time.Sleep(2 * time.Millisecond)
	collector.FinishRecovery(start, 100, 3)

	recovery := collector.GetStats()["recovery"].(map[string]interface{})
	if recovery["entries_recovered"].(uint64) != 100 {
		t.Errorf("Expected 100 entries recovered, got %v", recovery["entries_recovered"])
	}
	if recovery["blocks_mapped"].(uint64) != 3 {
		t.Errorf("Expected 3 blocks mapped, got %v", recovery["blocks_mapped"])
	}
	if _, ok := recovery["recovery_duration_ms"]; !ok {
		t.Error("Expected recovery_duration_ms to be set")
	}
}
