package tracer

import "container/heap"

// node is one unit of pending work: an address reached through a transaction
// at a given hop depth. path carries the root-to-node address chain for
// cycle detection.
type node struct {
	txID     string
	address  string
	depth    int
	parentTx string
	priority int
	path     []string
	seq      uint64
}

// frontier is a priority queue ordered by (depth asc, priority desc,
// insertion order asc). Shallow nodes drain first so the walk stays
// breadth-first; within a depth, nodes flagged by known metadata jump the
// line; the insertion tiebreak keeps traversal deterministic.
type frontier struct {
	heap nodeHeap
	seq  uint64
}

func newFrontier() *frontier {
	return &frontier{}
}

func (f *frontier) Push(n node) {
	n.seq = f.seq
	f.seq++
	heap.Push(&f.heap, n)
}

func (f *frontier) Len() int { return f.heap.Len() }

// PopBatch removes up to max nodes sharing the current minimum depth.
func (f *frontier) PopBatch(max int) []node {
	if f.heap.Len() == 0 || max <= 0 {
		return nil
	}
	depth := f.heap[0].depth
	var batch []node
	for len(batch) < max && f.heap.Len() > 0 && f.heap[0].depth == depth {
		batch = append(batch, heap.Pop(&f.heap).(node))
	}
	return batch
}

type nodeHeap []node

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].depth != h[j].depth {
		return h[i].depth < h[j].depth
	}
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x any) { *h = append(*h, x.(node)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
