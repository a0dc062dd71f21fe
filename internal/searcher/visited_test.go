package searcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVisitedSetVisitAndReset(t *testing.T) {
	v := NewVisitedSet(128)

	assert.False(t, v.Visited(5))
	v.Visit(5)
	v.Visit(64)
	assert.True(t, v.Visited(5))
	assert.True(t, v.Visited(64))

	v.Reset()
	assert.False(t, v.Visited(5))
	assert.False(t, v.Visited(64))
}

func TestVisitedSetGrowsOnDemand(t *testing.T) {
	v := NewVisitedSet(16)

	v.Visit(10_000)
	assert.True(t, v.Visited(10_000))
	assert.False(t, v.Visited(10_001))
}

func TestVisitedSetEnsureCapacity(t *testing.T) {
	v := NewVisitedSet(0)
	v.EnsureCapacity(1024)
	assert.False(t, v.Visited(1023))
	v.Visit(1023)
	assert.True(t, v.Visited(1023))
}

func TestSearcherPoolReuse(t *testing.T) {
	s := Get()
	s.Visited.Visit(3)
	s.Frontier.Push(Item{Node: 3, Distance: 1})
	s.Results.Push(Item{Node: 3, Distance: 1})
	Put(s)

	s = Get()
	assert.False(t, s.Visited.Visited(3))
	assert.Equal(t, 0, s.Frontier.Len())
	assert.Equal(t, 0, s.Results.Len())
	Put(s)
}
