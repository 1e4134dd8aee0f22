package index

import (
	"fmt"
	"strings"
)

type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	}
	return "", fmt.Errorf("unknown metric: %s", s)
}

// Hit is one neighbour. Distance is 1-cosine or the euclidean distance; Score
// grows with similarity for both metrics.
type Hit struct {
	Ref      string
	Distance float64
	Score    float64

	order int
}

// Index is an exact nearest-neighbour structure. Build replaces the contents;
// a built index is safe for concurrent queries.
type Index interface {
	Build(ids []string, vectors [][]float32) error
	// Query returns up to k hits, best first. An empty index yields no hits.
	Query(query []float32, k int) ([]Hit, error)
	Len() int
	Dimension() int
}

// New returns the accelerated implementation when requested, brute force otherwise.
func New(accelerated bool, metric Metric) Index {
	if accelerated {
		return &acceleratedIndex{metric: metric}
	}
	return &bruteForceIndex{metric: metric}
}

func l2Score(distance float64) float64 {
	return 1 / (1 + distance)
}

func checkBuild(ids []string, vectors [][]float32) (int, error) {
	if len(ids) != len(vectors) {
		return 0, fmt.Errorf("ids and vectors length mismatch: %d != %d", len(ids), len(vectors))
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	for j := range vectors {
		if len(vectors[j]) != dim {
			return 0, fmt.Errorf("inconsistent vector dims %d vs %d", len(vectors[j]), dim)
		}
	}
	return dim, nil
}
