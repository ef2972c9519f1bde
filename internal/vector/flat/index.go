// Package flat is an exact, in-memory nearest-neighbor index over squared
// Euclidean distance. It is built once and never modified.
package flat

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"
)

var ErrEmptyIndex = errors.New("cannot build index from zero vectors")

// Index stores vectors row-major in one slice. Row i is the embedding of
// chunk i.
type Index struct {
	dim  int
	n    int
	data []float32
}

// Build copies matrix into a new index. Every row must have the same,
// non-zero width.
func Build(matrix [][]float32) (*Index, error) {
	if len(matrix) == 0 {
		return nil, ErrEmptyIndex
	}

	dim := len(matrix[0])
	if dim == 0 {
		return nil, fmt.Errorf("vector 0 has zero dimension")
	}

	data := make([]float32, 0, dim*len(matrix))
	for i, row := range matrix {
		if len(row) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(row), dim)
		}
		data = append(data, row...)
	}

	return &Index{dim: dim, n: len(matrix), data: data}, nil
}

// Len is the number of stored vectors; zero for a nil index.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return x.n
}

func (x *Index) Dimension() int {
	if x == nil {
		return 0
	}
	return x.dim
}

// Search returns up to min(k, Len()) row indices closest to query, ordered
// by ascending squared distance with ties going to the lower index. An
// absent or empty index, k <= 0 or a query of the wrong width yields empty
// results.
func (x *Index) Search(query []float32, k int) ([]int, []float32) {
	if x.Len() == 0 || k <= 0 || len(query) != x.dim {
		return []int{}, []float32{}
	}
	k = min(k, x.n)

	h := make(maxHeap, 0, k)
	for i := 0; i < x.n; i++ {
		d := squaredL2(query, x.data[i*x.dim:(i+1)*x.dim])
		c := candidate{idx: i, dist: d}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if c.less(h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	sort.Slice(h, func(a, b int) bool { return h[a].less(h[b]) })

	indices := make([]int, len(h))
	distances := make([]float32, len(h))
	for i, c := range h {
		indices[i] = c.idx
		distances[i] = c.dist
	}
	return indices, distances
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

type candidate struct {
	idx  int
	dist float32
}

func (c candidate) less(o candidate) bool {
	if c.dist != o.dist {
		return c.dist < o.dist
	}
	return c.idx < o.idx
}

// maxHeap keeps the worst of the current best k at the root.
type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[j].less(h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(v any)        { *h = append(*h, v.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}
