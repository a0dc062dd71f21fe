// Package searcher provides reusable search execution state: priority
// queues, visited tracking, and pooled scratch buffers.
package searcher

import (
	"github.com/hupe1980/proxima/model"
)

// Item is a graph node paired with its distance to the query.
// Value-based so the heap stays allocation-free.
type Item struct {
	Node     model.RowID
	Distance float32
}

// Queue is a binary heap of Items. It deliberately does not implement
// container/heap; the direct methods avoid the interface overhead in the
// search hot loop.
type Queue struct {
	isMaxHeap bool
	items     []Item
}

// NewQueue creates a queue. A max-heap keeps the worst item on top, which
// is what a bounded result set needs; a min-heap pops the closest item
// first, which is what the exploration frontier needs.
func NewQueue(isMaxHeap bool) *Queue {
	return &Queue{
		isMaxHeap: isMaxHeap,
		items:     make([]Item, 0, 16),
	}
}

// Reset clears the queue for reuse.
func (q *Queue) Reset() {
	q.items = q.items[:0]
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	return len(q.items)
}

// Top returns the root of the heap without removing it.
func (q *Queue) Top() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Min returns the item with the smallest distance. O(n) on a max-heap,
// but n is bounded by ef and stays small.
func (q *Queue) Min() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	m := q.items[0]
	for _, it := range q.items[1:] {
		if it.Distance < m.Distance {
			m = it
		}
	}
	return m, true
}

// Push inserts an item.
func (q *Queue) Push(item Item) {
	q.items = append(q.items, item)
	q.siftUp(len(q.items) - 1)
}

// PushBounded inserts into a heap capped at capacity, replacing the root
// when the new item beats it and dropping the item otherwise.
func (q *Queue) PushBounded(item Item, capacity int) {
	if len(q.items) < capacity {
		q.Push(item)
		return
	}

	top := q.items[0]
	if q.isMaxHeap {
		if item.Distance < top.Distance {
			q.items[0] = item
			q.siftDown(0)
		}
	} else {
		if item.Distance > top.Distance {
			q.items[0] = item
			q.siftDown(0)
		}
	}
}

// Pop removes and returns the root of the heap.
func (q *Queue) Pop() (Item, bool) {
	n := len(q.items)
	if n == 0 {
		return Item{}, false
	}

	item := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return item, true
}

// Items exposes the backing slice in heap order, not sorted order.
func (q *Queue) Items() []Item {
	return q.items
}

func (q *Queue) less(i, j int) bool {
	if q.isMaxHeap {
		return q.items[i].Distance > q.items[j].Distance
	}
	return q.items[i].Distance < q.items[j].Distance
}

func (q *Queue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}
		if !q.less(child, i) {
			break
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}
