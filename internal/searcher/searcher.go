package searcher

import (
	"sync"
)

// Searcher bundles the scratch state one graph traversal needs. Pooled
// instances keep the steady-state search path allocation-free.
//
// A Searcher is not safe for concurrent use; it belongs to exactly one
// goroutine between Get and Put.
type Searcher struct {
	// Visited tracks which nodes the current traversal has seen.
	Visited *VisitedSet

	// Results is a max-heap bounded to ef; its root is the current worst
	// candidate and defines the pruning radius.
	Results *Queue

	// Frontier is a min-heap of nodes still to expand, closest first.
	Frontier *Queue
}

var pool = sync.Pool{
	New: func() any {
		return New(1024)
	},
}

// New creates a Searcher sized for roughly visitedCap nodes.
func New(visitedCap int) *Searcher {
	return &Searcher{
		Visited:  NewVisitedSet(visitedCap),
		Results:  NewQueue(true),
		Frontier: NewQueue(false),
	}
}

// Get returns a reset Searcher from the pool.
func Get() *Searcher {
	s := pool.Get().(*Searcher)
	s.Reset()
	return s
}

// Put returns a Searcher to the pool.
func Put(s *Searcher) {
	pool.Put(s)
}

// Reset clears traversal state while keeping allocated capacity.
func (s *Searcher) Reset() {
	s.Visited.Reset()
	s.Results.Reset()
	s.Frontier.Reset()
}
