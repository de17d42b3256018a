package cache

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestNewInvalidCapacity(t *testing.T) {
	for _, capacity := range []int{0, -1} {
		if _, err := New[int, int](capacity); !errors.Is(err, ErrInvalidCapacity) {
			t.Errorf("New(%d): expected ErrInvalidCapacity, got %v", capacity, err)
		}
	}
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	const k = 4
	c, err := New[uint64, string](k)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Access handles 1..k+1 in order, populating on miss
	for h := uint64(1); h <= k+1; h++ {
		if _, ok := c.Get(h); ok {
			t.Fatalf("Unexpected hit for %d", h)
		}
		evicted := c.Add(h, fmt.Sprint(h))
		if evicted != (h == k+1) {
			t.Errorf("Add(%d) evicted=%v", h, evicted)
		}
	}

	if c.Contains(1) {
		t.Errorf("Handle 1 should have been evicted")
	}
	for h := uint64(2); h <= k+1; h++ {
		if !c.Contains(h) {
			t.Errorf("Handle %d should still be cached", h)
		}
	}
	if c.Len() != k {
		t.Errorf("Expected %d entries, got %d", k, c.Len())
	}
}

func TestAccessOrderNotInsertionOrder(t *testing.T) {
	c, _ := New[int, int](3)
	c.Add(1, 10)
	c.Add(2, 20)
	c.Add(3, 30)

	// Touch the oldest insertion so 2 becomes least recently used
	if v, ok := c.Get(1); !ok || v != 10 {
		t.Fatalf("Get(1) = %d, %v", v, ok)
	}

	c.Add(4, 40)
	if c.Contains(2) {
		t.Errorf("Key 2 should have been evicted")
	}
	if !c.Contains(1) {
		t.Errorf("Key 1 was accessed and should survive")
	}

	if got, want := c.Keys(), []int{4, 1, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestHitCounters(t *testing.T) {
	c, _ := New[string, int](2)

	c.Get("a") // miss
	c.Add("a", 1)
	c.Get("a") // hit
	c.Get("b") // miss
	c.Add("b", 2)
	c.Get("b") // hit
	c.Get("a") // hit
	c.Peek("a")
	c.Contains("b")

	if c.Accesses() != 5 {
		t.Errorf("Expected 5 accesses, got %d", c.Accesses())
	}
	if c.Hits() != 3 {
		t.Errorf("Expected 3 hits, got %d", c.Hits())
	}
	if ratio := c.HitRatio(); ratio != 3.0/5.0 {
		t.Errorf("Expected hit ratio 0.6, got %f", ratio)
	}

	stats := c.Stats()
	if stats.Capacity != 2 || stats.Len != 2 || stats.Evictions != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestEmptyHitRatio(t *testing.T) {
	c, _ := New[int, int](1)
	if c.HitRatio() != 0 {
		t.Errorf("Expected zero hit ratio before any access, got %f", c.HitRatio())
	}
}

func TestPeekDoesNotPromote(t *testing.T) {
	c, _ := New[int, int](2)
	c.Add(1, 1)
	c.Add(2, 2)

	if v, ok := c.Peek(1); !ok || v != 1 {
		t.Fatalf("Peek(1) = %d, %v", v, ok)
	}

	c.Add(3, 3)
	if c.Contains(1) {
		t.Errorf("Peek should not have protected key 1 from eviction")
	}
}

func TestUpdateExisting(t *testing.T) {
	c, _ := New[int, string](2)
	c.Add(1, "one")
	c.Add(2, "two")

	if evicted := c.Add(1, "uno"); evicted {
		t.Errorf("Updating an existing key should not evict")
	}
	if v, _ := c.Peek(1); v != "uno" {
		t.Errorf("Expected updated value, got %q", v)
	}

	c.Add(3, "three")
	if c.Contains(2) {
		t.Errorf("Key 2 should be evicted after key 1 was refreshed")
	}
}

func TestEvictCallbackAndRemove(t *testing.T) {
	var evicted []int
	c, err := NewWithEvict[int, int](2, func(k, v int) {
		evicted = append(evicted, k)
	})
	if err != nil {
		t.Fatalf("NewWithEvict failed: %v", err)
	}

	c.Add(1, 1)
	c.Add(2, 2)
	c.Add(3, 3)
	c.Add(4, 4)

	if !reflect.DeepEqual(evicted, []int{1, 2}) {
		t.Errorf("Evicted %v, expected [1 2]", evicted)
	}
	if c.Stats().Evictions != 2 {
		t.Errorf("Expected 2 evictions, got %d", c.Stats().Evictions)
	}

	if !c.Remove(3) || c.Remove(3) {
		t.Errorf("Remove should succeed exactly once")
	}
	if got := c.Keys(); !reflect.DeepEqual(got, []int{4}) {
		t.Errorf("Keys() = %v after remove", got)
	}

	c.Purge()
	if c.Len() != 0 || len(c.Keys()) != 0 {
		t.Errorf("Purge left %d entries", c.Len())
	}
	c.Add(5, 5)
	if got := c.Keys(); !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("Keys() = %v after purge and add", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := New[int, int](64)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := (g*1000 + i) % 128
				if _, ok := c.Get(key); !ok {
					c.Add(key, i)
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("Cache exceeded capacity: %d", c.Len())
	}
	if c.Accesses() != 8000 {
		t.Errorf("Expected 8000 accesses, got %d", c.Accesses())
	}
}

func BenchmarkGetHit(b *testing.B) {
	c, _ := New[uint64, uint64](1024)
	for i := uint64(0); i < 1024; i++ {
		c.Add(i, i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(uint64(i) & 1023)
	}
}
