package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Method selects how a slice of scalar summaries collapses to one value.
type Method string

const (
	MethodMean           Method = "mean"
	MethodMedian         Method = "median"
	MethodWeightedMean   Method = "weighted_mean"
	MethodWeightedMedian Method = "weighted_median"
	MethodTrimmedMean    Method = "trimmed_mean"
	MethodAdaptive       Method = "adaptive"
)

// Valid reports whether m names a known aggregation method.
func (m Method) Valid() bool {
	switch m {
	case MethodMean, MethodMedian, MethodWeightedMean, MethodWeightedMedian,
		MethodTrimmedMean, MethodAdaptive:
		return true
	}
	return false
}

// DefaultTrimFraction removes this share of values from each tail before a
// trimmed mean.
const DefaultTrimFraction = 0.1

// adaptiveCVThreshold is the coefficient of variation above which the
// adaptive method falls back from the weighted mean to the robust weighted
// median.
const adaptiveCVThreshold = 0.3

var errNoValues = errors.New("no values to aggregate")

// Combine collapses values into one scalar using the given method. weights
// must be the same length as values for the weighted methods; unweighted
// methods ignore them.
func Combine(method Method, values, weights []float64) (float64, error) {
	if len(values) == 0 {
		return 0, errNoValues
	}
	switch method {
	case MethodMean:
		return mean(values), nil
	case MethodMedian:
		return median(values), nil
	case MethodWeightedMean:
		return weightedMean(values, weights)
	case MethodWeightedMedian:
		return weightedMedian(values, weights)
	case MethodTrimmedMean:
		return trimmedMean(values, weights, DefaultTrimFraction)
	case MethodAdaptive:
		if coefficientOfVariation(values) > adaptiveCVThreshold {
			return weightedMedian(values, weights)
		}
		return weightedMean(values, weights)
	default:
		return 0, fmt.Errorf("unknown aggregation method %q", method)
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func weightedMean(values, weights []float64) (float64, error) {
	if len(weights) != len(values) {
		return 0, fmt.Errorf("weights length %d does not match values length %d", len(weights), len(values))
	}
	var sum, total float64
	for i, v := range values {
		sum += v * weights[i]
		total += weights[i]
	}
	if total == 0 {
		return 0, errors.New("total weight is zero")
	}
	return sum / total, nil
}

// weightedMedian returns the value at which cumulative weight first reaches
// half the total.
func weightedMedian(values, weights []float64) (float64, error) {
	if len(weights) != len(values) {
		return 0, fmt.Errorf("weights length %d does not match values length %d", len(weights), len(values))
	}
	type pair struct{ v, w float64 }
	pairs := make([]pair, len(values))
	var total float64
	for i := range values {
		pairs[i] = pair{values[i], weights[i]}
		total += weights[i]
	}
	if total == 0 {
		return 0, errors.New("total weight is zero")
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

	var cumulative float64
	for _, p := range pairs {
		cumulative += p.w
		if cumulative >= total/2 {
			return p.v, nil
		}
	}
	return pairs[len(pairs)-1].v, nil
}

func trimmedMean(values, weights []float64, trim float64) (float64, error) {
	if len(weights) != len(values) {
		return 0, fmt.Errorf("weights length %d does not match values length %d", len(weights), len(values))
	}
	if trim < 0 || trim >= 0.5 {
		return 0, fmt.Errorf("trim fraction must be in [0, 0.5), got %v", trim)
	}
	type pair struct{ v, w float64 }
	pairs := make([]pair, len(values))
	for i := range values {
		pairs[i] = pair{values[i], weights[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].v < pairs[j].v })

	cut := int(math.Floor(float64(len(pairs)) * trim))
	kept := pairs[cut : len(pairs)-cut]
	if len(kept) == 0 {
		return 0, errors.New("no values remain after trimming")
	}

	var sum, total float64
	for _, p := range kept {
		sum += p.v * p.w
		total += p.w
	}
	if total == 0 {
		return 0, errors.New("total weight is zero after trimming")
	}
	return sum / total, nil
}

func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Abs(math.Sqrt(variance) / m)
}
