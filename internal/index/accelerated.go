package index

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/viant/vec/search"

	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
)

// acceleratedIndex uses viant/vec kernels for magnitudes and euclidean
// distance, reuses the stored magnitudes for cosine and keeps only the best k
// candidates in a bounded heap instead of sorting every row.
type acceleratedIndex struct {
	metric Metric
	ids    []string
	vecs   []search.Float32s
	mags   []float32
	dim    int
}

func (i *acceleratedIndex) Build(ids []string, vectors [][]float32) error {
	dim, err := checkBuild(ids, vectors)
	if err != nil {
		return fmt.Errorf("accelerated: %w", err)
	}
	vecs := make([]search.Float32s, len(vectors))
	mags := make([]float32, len(vectors))
	for j, v := range vectors {
		vecs[j] = search.Float32s(v)
		mags[j] = vecs[j].Magnitude()
	}
	i.ids = append([]string(nil), ids...)
	i.vecs = vecs
	i.mags = mags
	i.dim = dim
	return nil
}

func (i *acceleratedIndex) Len() int {
	return len(i.ids)
}

func (i *acceleratedIndex) Dimension() int {
	return i.dim
}

func (i *acceleratedIndex) Query(query []float32, k int) ([]Hit, error) {
	if len(i.vecs) == 0 {
		return []Hit{}, nil
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", appErr.ErrDimensionMismatch, len(query), i.dim)
	}
	if k <= 0 || k > len(i.vecs) {
		k = len(i.vecs)
	}
	q := search.Float32s(query)
	qm := q.Magnitude()
	if i.metric != MetricL2 && qm == 0 {
		return []Hit{}, nil
	}
	h := make(hitHeap, 0, k+1)
	for j, v := range i.vecs {
		var hit Hit
		if i.metric == MetricL2 {
			d := float64(q.EuclideanDistance(v))
			hit = Hit{Ref: i.ids[j], Distance: d, Score: l2Score(d)}
		} else {
			if i.mags[j] == 0 {
				continue
			}
			d := 1 - dot(query, v)/(float64(qm)*float64(i.mags[j]))
			if math.IsNaN(d) {
				continue
			}
			hit = Hit{Ref: i.ids[j], Distance: d, Score: 1 - d}
		}
		hit.order = j
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}
	out := make([]Hit, len(h))
	for n := len(h) - 1; n >= 0; n-- {
		out[n] = heap.Pop(&h).(Hit)
	}
	return out, nil
}

// better orders by score, then by load order so ties match brute force.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.order < b.order
}

// hitHeap is a min-heap on quality: the root is the worst kept hit.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(a, b int) bool  { return better(h[b], h[a]) }
func (h hitHeap) Swap(a, b int)       { h[a], h[b] = h[b], h[a] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
