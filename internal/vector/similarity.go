package vector

import (
	"fmt"
	"math"
)

const (
	MetricCosine     = "cosine"
	MetricL2         = "l2_norm"
	MetricDotProduct = "dot_product"
)

func KnownMetric(metric string) bool {
	switch metric {
	case MetricCosine, MetricL2, MetricDotProduct:
		return true
	}
	return false
}

// Score returns a higher-is-closer similarity of a and b under metric. L2 is
// reported as negated distance so every metric sorts the same way.
func Score(metric string, a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	switch metric {
	case MetricCosine:
		return Cosine(a, b), nil
	case MetricL2:
		return -L2(a, b), nil
	case MetricDotProduct:
		return Dot(a, b), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func Dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Cosine is 0 when either vector is all zeros.
func Cosine(a, b []float32) float64 {
	na, nb := math.Sqrt(Dot(a, a)), math.Sqrt(Dot(b, b))
	if na == 0 || nb == 0 {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

func L2(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}
