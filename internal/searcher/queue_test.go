package searcher

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/hupe1980/proxima/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueMinHeapOrder(t *testing.T) {
	q := NewQueue(false)

	rng := rand.New(rand.NewSource(1))
	want := make([]float32, 100)
	for i := range want {
		want[i] = rng.Float32() * 100
		q.Push(Item{Node: model.RowID(i), Distance: want[i]})
	}
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	for _, d := range want {
		item, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, d, item.Distance)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueMaxHeapTop(t *testing.T) {
	q := NewQueue(true)
	q.Push(Item{Node: 1, Distance: 1})
	q.Push(Item{Node: 2, Distance: 5})
	q.Push(Item{Node: 3, Distance: 3})

	top, ok := q.Top()
	require.True(t, ok)
	assert.Equal(t, float32(5), top.Distance)

	minItem, ok := q.Min()
	require.True(t, ok)
	assert.Equal(t, float32(1), minItem.Distance)
}

func TestQueuePushBoundedKeepsClosest(t *testing.T) {
	q := NewQueue(true)

	for i := 0; i < 100; i++ {
		q.PushBounded(Item{Node: model.RowID(i), Distance: float32(i)}, 10)
	}

	require.Equal(t, 10, q.Len())
	for _, item := range q.Items() {
		assert.Less(t, item.Distance, float32(10))
	}
}

func TestQueueReset(t *testing.T) {
	q := NewQueue(false)
	q.Push(Item{Node: 1, Distance: 1})
	q.Reset()
	assert.Equal(t, 0, q.Len())
}
