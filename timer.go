package ring

import (
	"container/heap"
	"time"
)

// timerHandle identifies a scheduled timeout for cancellation, matching
// original_source/ring/io_loop.py's Timeout object: cancellation nulls
// the callback rather than removing the heap entry (lazy deletion).
type timerHandle struct {
	deadline time.Time
	seq      uint64
	callback func()
}

// timerHeap is a min-heap ordered by (deadline, seq), grounded on the
// teacher's loop.go timer heap (container/heap.Interface) and on
// original_source/ring/io_loop.py's use of Python's heapq with a
// monotonically increasing tie-break counter.
type timerHeap []*timerHandle

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerHandle))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*timerHeap)(nil)
