// Package mixer provides a software output device for [playback.Scheduler].
// It keeps its own sample clock, sums every source that overlaps the frame
// being rendered and hands finished frames to an output callback.
package mixer

import "github.com/MrWong99/memoria/pkg/audio/playback"

// entry wraps a [playback.Source] waiting for its start time. The seq field
// breaks ties between sources that share a start sample.
type entry struct {
	src   *playback.Source
	start int64 // first sample index on the mixer clock
	seq   uint64
}

// sourceHeap implements [container/heap.Interface] as a min-heap ordered by
// start sample, with FIFO tie-breaking on seq.
type sourceHeap []entry

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	if h[i].start != h[j].start {
		return h[i].start < h[j].start
	}
	return h[i].seq < h[j].seq
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push appends x to the heap. Called by [container/heap.Push]; callers must
// not invoke this directly.
func (h *sourceHeap) Push(x any) {
	*h = append(*h, x.(entry))
}

// Pop removes and returns the last element. Called by [container/heap.Pop];
// callers must not invoke this directly.
func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
