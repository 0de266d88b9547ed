// Package frontier holds the ordered set of URLs waiting to be crawled.
// The frontier is owned by the orchestrator's control loop and is never
// touched from worker goroutines, so it carries no locking.
package frontier

import (
	"container/heap"

	"webcrawl/pkg/models"
)

// item wraps a frontier entry for the heap.
type item struct {
	entry models.FrontierEntry
	seq   uint64 // insertion order, breaks depth ties FIFO
	index int
}

type entryHeap []*item

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	// Shallower entries first; equal depth pops in insertion order.
	if h[i].entry.Depth != h[j].entry.Depth {
		return h[i].entry.Depth < h[j].entry.Depth
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	n := len(*h)
	it := x.(*item)
	it.index = n
	*h = append(*h, it)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	*h = old[0 : n-1]
	return it
}

// Frontier is a depth-ordered min-heap of pending crawl entries.
type Frontier struct {
	h   entryHeap
	seq uint64
}

// New creates an empty Frontier.
func New() *Frontier {
	f := &Frontier{}
	heap.Init(&f.h)
	return f
}

// Push adds an entry.
func (f *Frontier) Push(entry models.FrontierEntry) {
	f.seq++
	heap.Push(&f.h, &item{entry: entry, seq: f.seq})
}

// Pop removes and returns the shallowest pending entry. The second return
// is false when the frontier is empty.
func (f *Frontier) Pop() (models.FrontierEntry, bool) {
	if len(f.h) == 0 {
		return models.FrontierEntry{}, false
	}
	it := heap.Pop(&f.h).(*item)
	return it.entry, true
}

// Len returns the number of pending entries.
func (f *Frontier) Len() int {
	return len(f.h)
}
