package encounter

import (
	"container/heap"
	"time"
)

type intentItem struct {
	key      intentKey
	deadline time.Time
}

// intentHeap orders recorded intents by deadline. An item whose intent was
// already consumed or replaced is skipped when popped.
type intentHeap []intentItem

func (h intentHeap) Len() int           { return len(h) }
func (h intentHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h intentHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *intentHeap) Push(x any) { *h = append(*h, x.(intentItem)) }

func (h *intentHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (h *intentHeap) pushItem(it intentItem) { heap.Push(h, it) }
func (h *intentHeap) popItem() intentItem    { return heap.Pop(h).(intentItem) }
func (h intentHeap) peek() intentItem        { return h[0] }
