package monitoring

import (
	"math"
	"sort"
)

// nearestRank computes the p-th percentile (0 < p <= 100) of values using the
// nearest-rank method: the value at rank ceil(p/100 * n) of the sorted
// sequence. Returns NaN for an empty input. The input slice is not modified.
func nearestRank(values []float64, p float64) float64 {
	n := len(values)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p / 100.0 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
