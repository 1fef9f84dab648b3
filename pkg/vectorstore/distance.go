package vectorstore

import (
	"fmt"
	"math"

	"github.com/creastat/llmkit/pkg/types"
)

// DistanceType selects the metric used to compare vectors
type DistanceType string

const (
	DistanceCosine    DistanceType = "cosine"
	DistanceEuclidean DistanceType = "euclidean"
	DistanceDot       DistanceType = "dot"
)

// ParseDistance validates a configured metric name
func ParseDistance(s string) (DistanceType, error) {
	switch d := DistanceType(s); d {
	case DistanceCosine, DistanceEuclidean, DistanceDot:
		return d, nil
	case "":
		return DistanceCosine, nil
	default:
		return "", fmt.Errorf("unknown distance type %q", s)
	}
}

// Score maps the metric onto [0,1], higher meaning more similar.
//
//	cosine:    (1 + cos) / 2
//	euclidean: 1 / (1 + d²)
//	dot:       (1 + a·b) / 2, clamped against rounding
//
// The dot score is only meaningful for unit vectors; Store rejects others
// when configured with DistanceDot.
func (d DistanceType) Score(a, b []float32) float64 {
	switch d {
	case DistanceEuclidean:
		return 1 / (1 + squaredDistance(a, b))
	case DistanceDot:
		return clamp01((1 + dot(a, b)) / 2)
	default:
		return clamp01((1 + cosine(a, b)) / 2)
	}
}

// unitTolerance bounds how far a norm may stray from 1 under DistanceDot
const unitTolerance = 1e-3

// checkVector returns a NonUnitVectorError when d requires unit vectors and
// v is not one
func (d DistanceType) checkVector(id string, v []float32) error {
	if d != DistanceDot {
		return nil
	}
	if norm := math.Sqrt(dot(v, v)); math.Abs(norm-1) > unitTolerance {
		return &types.NonUnitVectorError{ID: id, Norm: norm}
	}
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// cosine returns 0 when either vector has zero magnitude
func cosine(a, b []float32) float64 {
	var ab, aa, bb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		ab += x * y
		aa += x * x
		bb += y * y
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
