package buffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mu-semtech/delta-notifier/metric"
)

func TestBuffer_DropOldest(t *testing.T) {
	var dropped []int
	b, err := New[int](3, WithDropCallback[int](func(i int) { dropped = append(dropped, i) }))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		b.Write(i)
	}
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, int64(2), b.Drops())
	assert.Equal(t, int64(5), b.Writes())
	assert.Equal(t, 3, b.Size())
}

func TestBuffer_DropNewest(t *testing.T) {
	b, err := New[string](2, WithOverflowPolicy[string](DropNewest))
	require.NoError(t, err)

	b.Write("a")
	b.Write("b")
	b.Write("c")
	assert.Equal(t, []string{"a", "b"}, b.Snapshot())
	assert.Equal(t, int64(1), b.Drops())
}

func TestBuffer_Retain(t *testing.T) {
	b, err := New[int](4)
	require.NoError(t, err)
	for i := 1; i <= 6; i++ {
		b.Write(i)
	}

	removed := b.Retain(func(i int) bool { return i%2 == 0 })
	assert.Equal(t, 2, removed)
	assert.Equal(t, []int{4, 6}, b.Snapshot())

	b.Write(7)
	b.Write(8)
	b.Write(9)
	assert.Equal(t, []int{6, 7, 8, 9}, b.Snapshot())
}

func TestBuffer_Clear(t *testing.T) {
	b, err := New[int](2)
	require.NoError(t, err)
	b.Write(1)
	b.Clear()
	assert.Empty(t, b.Snapshot())
	assert.Equal(t, 0, b.Size())
	assert.Equal(t, 2, b.Capacity())
}

func TestBuffer_MinimumCapacity(t *testing.T) {
	b, err := New[int](0)
	require.NoError(t, err)
	b.Write(1)
	b.Write(2)
	assert.Equal(t, []int{2}, b.Snapshot())
}

func TestBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	b, err := New[int](1, WithMetrics[int](registry, "test_ring"))
	require.NoError(t, err)
	b.Write(1)
	b.Write(2)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "delta_test_ring_dropped_total" {
			found = true
			assert.Equal(t, 1.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)

	_, err = New[int](1, WithMetrics[int](registry, "test_ring"))
	assert.Error(t, err)
}

func TestBuffer_Concurrent(t *testing.T) {
	b, err := New[int](100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b.Write(i)
				_ = b.Snapshot()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, b.Size())
	assert.Equal(t, int64(8000), b.Writes())
	assert.Equal(t, int64(7900), b.Drops())
}
