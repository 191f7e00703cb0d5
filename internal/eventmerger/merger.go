package eventmerger

import "container/heap"

// fifo is a per-source queue of events, already sorted by the source's
// monotonicity invariant (spec.md §3).
type fifo struct {
	id     SourceID
	events []Event
	head   int
}

func (f *fifo) empty() bool {
	return f.head >= len(f.events)
}

func (f *fifo) front() Event {
	return f.events[f.head]
}

func (f *fifo) pushBack(e Event) {
	f.events = append(f.events, e)
}

func (f *fifo) popFront() Event {
	e := f.events[f.head]
	f.head++
	// Compact occasionally so a long-lived, rarely-empty source doesn't
	// grow its backing array without bound.
	if f.head > 64 && f.head*2 > len(f.events) {
		f.events = append([]Event(nil), f.events[f.head:]...)
		f.head = 0
	}
	return e
}

// sourceHeap is a min-heap of *fifo, ordered by front timestamp with
// ties broken by source id (spec.md §3: "ties broken by source-FIFO
// insertion order, then by source id" — insertion order is already
// enforced by FIFO ordering within one source, so the heap only needs to
// break ties across sources).
type sourceHeap []*fifo

func (h sourceHeap) Len() int { return len(h) }
func (h sourceHeap) Less(i, j int) bool {
	ti, tj := h[i].front().TimestampNs, h[j].front().TimestampNs
	if ti != tj {
		return ti < tj
	}
	return h[i].id < h[j].id
}
func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x any)   { *h = append(*h, x.(*fifo)) }
func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// EventMerger is a k-way priority merge over per-source FIFOs (spec.md
// §4.2). Not safe for concurrent use — callers serialize access, per
// spec.md §5.
type EventMerger struct {
	sources map[SourceID]*fifo
	heap    sourceHeap
}

// New returns an empty EventMerger.
func New() *EventMerger {
	return &EventMerger{
		sources: make(map[SourceID]*fifo),
	}
}

// Push appends event to source's FIFO. O(log S) worst case where S is
// the number of currently non-empty sources, since pushing to a source
// that already has buffered events never touches the heap.
func (m *EventMerger) Push(source SourceID, event Event) {
	f, ok := m.sources[source]
	if !ok {
		f = &fifo{id: source}
		m.sources[source] = f
	}
	wasEmpty := f.empty()
	f.pushBack(event)
	if wasEmpty {
		heap.Push(&m.heap, f)
	}
}

// HasEvent reports whether any source has a buffered event.
func (m *EventMerger) HasEvent() bool {
	return len(m.heap) > 0
}

// Top returns the event with the minimum timestamp across all non-empty
// source FIFOs, without removing it. Panics if HasEvent is false.
func (m *EventMerger) Top() Event {
	return m.heap[0].front()
}

// TopSource returns the source id that Top's event came from.
func (m *EventMerger) TopSource() SourceID {
	return m.heap[0].id
}

// Pop removes and returns the globally oldest event, rebalancing the
// heap. Panics if HasEvent is false.
func (m *EventMerger) Pop() Event {
	f := m.heap[0]
	e := f.popFront()
	// The winning FIFO is removed from the heap root; if events remain,
	// it goes back in with its new front timestamp as key (spec.md §4.2,
	// §9 "pop+reinsert model").
	heap.Pop(&m.heap)
	if !f.empty() {
		heap.Push(&m.heap, f)
	}
	return e
}
