package monitoring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestAt(ts time.Time, status int) RequestMetric {
	return RequestMetric{
		Timestamp:       ts,
		Method:          "GET",
		Path:            "/api/v1/kitchens",
		StatusCode:      status,
		DurationSeconds: 0.05,
	}
}

func systemAt(ts time.Time, cpu float64) SystemMetric {
	return SystemMetric{
		Timestamp:     ts,
		CPUPercent:    cpu,
		MemoryPercent: 50,
		DiskPercent:   40,
	}
}

func TestStoreRetainsOnlyMostRecent(t *testing.T) {
	store := NewStore(StoreConfig{RequestHistory: 100, SystemHistory: 100, SpansPerOperation: 100})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 150; i++ {
		m := requestAt(base.Add(time.Duration(i)*time.Second), 200)
		m.Path = fmt.Sprintf("/r/%d", i)
		store.RecordRequest(m)
	}

	got := store.RequestsSince(time.Time{})
	require.Len(t, got, 100)
	// The oldest 50 were evicted; insertion order preserved.
	assert.Equal(t, "/r/50", got[0].Path)
	assert.Equal(t, "/r/149", got[99].Path)
}

func TestStoreSystemCapacityScenario(t *testing.T) {
	store := NewStore(StoreConfig{RequestHistory: 10, SystemHistory: 100, SpansPerOperation: 10})

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 120; i++ {
		store.RecordSystem(systemAt(base.Add(time.Duration(i)*time.Second), float64(i%100)))
	}

	got := store.SystemSince(time.Time{})
	require.Len(t, got, 100)
	assert.Equal(t, float64(20%100), got[0].CPUPercent)
	assert.True(t, got[0].Timestamp.Equal(base.Add(20*time.Second)))
	assert.True(t, got[99].Timestamp.Equal(base.Add(119*time.Second)))
}

func TestStoreSinceFiltering(t *testing.T) {
	store := NewStore(DefaultStoreConfig())

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		store.RecordRequest(requestAt(base.Add(time.Duration(i)*time.Minute), 200))
	}

	cutoff := base.Add(5 * time.Minute)
	got := store.RequestsSince(cutoff)
	require.Len(t, got, 5)
	for _, m := range got {
		assert.False(t, m.Timestamp.Before(cutoff))
	}
}

func TestStoreSinceFilteringOutOfOrderTimestamps(t *testing.T) {
	store := NewStore(DefaultStoreConfig())

	// Concurrent producers stamp timestamps before the store lock, so
	// insertion order can disagree with timestamp order around a cutoff.
	base := time.Now().Add(-time.Hour)
	store.RecordRequest(requestAt(base.Add(1*time.Minute), 200))
	store.RecordRequest(requestAt(base.Add(6*time.Minute), 200))
	store.RecordRequest(requestAt(base.Add(4*time.Minute), 200))
	store.RecordRequest(requestAt(base.Add(7*time.Minute), 200))

	cutoff := base.Add(5 * time.Minute)
	got := store.RequestsSince(cutoff)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.False(t, m.Timestamp.Before(cutoff))
	}
}

func TestStoreSpansEvictIndependentlyPerOperation(t *testing.T) {
	store := NewStore(StoreConfig{RequestHistory: 10, SystemHistory: 10, SpansPerOperation: 5})

	now := time.Now()
	for i := 0; i < 8; i++ {
		store.RecordSpan(PerformanceSpan{Operation: "db_query", Timestamp: now, DurationSeconds: float64(i), Success: true})
	}
	store.RecordSpan(PerformanceSpan{Operation: "auth", Timestamp: now, DurationSeconds: 1, Success: true})

	dbSpans := store.SpansSince("db_query", time.Time{})
	require.Len(t, dbSpans, 5)
	assert.Equal(t, 3.0, dbSpans[0].DurationSeconds)

	authSpans := store.SpansSince("auth", time.Time{})
	assert.Len(t, authSpans, 1)

	assert.Empty(t, store.SpansSince("unknown", time.Time{}))
	assert.ElementsMatch(t, []string{"db_query", "auth"}, store.Operations())
}

func TestStoreLatestSystem(t *testing.T) {
	store := NewStore(DefaultStoreConfig())

	_, ok := store.LatestSystem()
	assert.False(t, ok)

	base := time.Now().Add(-time.Minute)
	store.RecordSystem(systemAt(base, 10))
	store.RecordSystem(systemAt(base.Add(time.Second), 20))

	latest, ok := store.LatestSystem()
	require.True(t, ok)
	assert.Equal(t, 20.0, latest.CPUPercent)
}

func TestStoreLastRecordedAt(t *testing.T) {
	store := NewStore(DefaultStoreConfig())
	assert.True(t, store.LastRecordedAt().IsZero())

	store.RecordRequest(requestAt(time.Now(), 200))
	assert.WithinDuration(t, time.Now(), store.LastRecordedAt(), time.Second)
}

func TestStoreConcurrentWriters(t *testing.T) {
	store := NewStore(StoreConfig{RequestHistory: 500, SystemHistory: 500, SpansPerOperation: 500})

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				store.RecordRequest(requestAt(time.Now(), 200))
				store.RecordSpan(PerformanceSpan{
					Operation:       fmt.Sprintf("op-%d", g%3),
					Timestamp:       time.Now(),
					DurationSeconds: 0.01,
					Success:         true,
				})
				if i%10 == 0 {
					_ = store.RequestsSince(time.Time{})
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 500, store.RequestCount())
}
