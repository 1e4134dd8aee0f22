package index

import (
	"fmt"
	"math"
	"sort"

	appErr "github.com/a921198345/studypartner007-sub000/internal/pkg/errors"
)

// bruteForceIndex keeps a dense matrix and scores every row per query.
type bruteForceIndex struct {
	metric Metric
	ids    []string
	vecs   [][]float32
	mags   []float64
	dim    int
}

func (i *bruteForceIndex) Build(ids []string, vectors [][]float32) error {
	dim, err := checkBuild(ids, vectors)
	if err != nil {
		return fmt.Errorf("bruteforce: %w", err)
	}
	mags := make([]float64, len(vectors))
	for j := range vectors {
		mags[j] = magnitude(vectors[j])
	}
	i.ids = append([]string(nil), ids...)
	i.vecs = append([][]float32(nil), vectors...)
	i.mags = mags
	i.dim = dim
	return nil
}

func (i *bruteForceIndex) Len() int {
	return len(i.ids)
}

func (i *bruteForceIndex) Dimension() int {
	return i.dim
}

func (i *bruteForceIndex) Query(query []float32, k int) ([]Hit, error) {
	if len(i.vecs) == 0 {
		return []Hit{}, nil
	}
	if len(query) != i.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", appErr.ErrDimensionMismatch, len(query), i.dim)
	}
	hits := make([]Hit, 0, len(i.vecs))
	switch i.metric {
	case MetricL2:
		for j, v := range i.vecs {
			d := euclidean(query, v)
			hits = append(hits, Hit{Ref: i.ids[j], Distance: d, Score: l2Score(d)})
		}
	default:
		qm := magnitude(query)
		if qm == 0 {
			return []Hit{}, nil
		}
		for j, v := range i.vecs {
			if i.mags[j] == 0 {
				continue
			}
			s := dot(query, v) / (qm * i.mags[j])
			if math.IsNaN(s) {
				continue
			}
			hits = append(hits, Hit{Ref: i.ids[j], Distance: 1 - s, Score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func magnitude(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func euclidean(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}
