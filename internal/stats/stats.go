// Package stats provides the small set of array statistics the
// calibration pipeline needs: mean, median, standard deviation,
// percentiles and sigma-clipped averaging.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean of vs, or 0 for an empty slice
func Mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// Median returns the median of vs without modifying the input
func Median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Std returns the population standard deviation of vs
func Std(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := Mean(vs)
	sum := 0.0
	for _, v := range vs {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(vs)))
}

// Percentile returns the p-th percentile (0..100) of vs using linear
// interpolation between adjacent ranks.
func Percentile(vs []float64, p float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := make([]float64, len(vs))
	copy(sorted, vs)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Min returns the smallest value in vs
func Min(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// Max returns the largest value in vs
func Max(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// SigmaClippedMean iteratively rejects samples more than sigmaLow
// standard deviations below or sigmaHigh above the current mean, then
// returns the mean of the survivors. Iteration stops when no sample is
// rejected or maxIter is reached. With fewer than three samples no
// clipping is attempted.
func SigmaClippedMean(vs []float64, sigmaLow, sigmaHigh float64, maxIter int) float64 {
	if len(vs) < 3 {
		return Mean(vs)
	}

	samples := make([]float64, len(vs))
	copy(samples, vs)

	for iter := 0; iter < maxIter; iter++ {
		m := Mean(samples)
		sd := Std(samples)
		if sd == 0 {
			break
		}

		kept := samples[:0]
		for _, v := range samples {
			if v < m-sigmaLow*sd || v > m+sigmaHigh*sd {
				continue
			}
			kept = append(kept, v)
		}
		if len(kept) == len(samples) || len(kept) == 0 {
			break
		}
		samples = kept
	}

	return Mean(samples)
}
