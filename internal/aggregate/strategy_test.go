package aggregate

import (
	"math"
	"testing"
)

func TestCombine(t *testing.T) {
	values := []float64{1, 2, 3, 4, 100}
	weights := []float64{1, 1, 1, 1, 1}

	tests := []struct {
		name    string
		method  Method
		values  []float64
		weights []float64
		want    float64
	}{
		{"mean", MethodMean, values, nil, 22},
		{"median odd", MethodMedian, values, nil, 3},
		{"median even", MethodMedian, []float64{1, 2, 3, 4}, nil, 2.5},
		{"weighted mean uniform", MethodWeightedMean, values, weights, 22},
		{"weighted mean skewed", MethodWeightedMean, []float64{10, 20}, []float64{3, 1}, 12.5},
		{"weighted median", MethodWeightedMedian, []float64{1, 2, 3}, []float64{1, 1, 10}, 3},
		{
			"trimmed mean drops the spike",
			MethodTrimmedMean,
			[]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100},
			[]float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
			5.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Combine(tt.method, tt.values, tt.weights)
			if err != nil {
				t.Fatalf("combine: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCombineErrors(t *testing.T) {
	if _, err := Combine(MethodMean, nil, nil); err == nil {
		t.Fatal("empty values should error")
	}
	if _, err := Combine(MethodWeightedMean, []float64{1, 2}, []float64{1}); err == nil {
		t.Fatal("length mismatch should error")
	}
	if _, err := Combine(MethodWeightedMean, []float64{1, 2}, []float64{0, 0}); err == nil {
		t.Fatal("zero total weight should error")
	}
	if _, err := Combine(Method("bogus"), []float64{1}, nil); err == nil {
		t.Fatal("unknown method should error")
	}
}

func TestAdaptiveSwitchesOnSpread(t *testing.T) {
	// Tight values: CV below the threshold, weighted mean applies.
	tight := []float64{10, 10.2, 9.8}
	weights := []float64{1, 1, 1}
	got, err := Combine(MethodAdaptive, tight, weights)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if math.Abs(got-10) > 1e-9 {
		t.Fatalf("tight adaptive = %v, want 10", got)
	}

	// One wild value blows up the CV; the weighted median shrugs it off.
	wild := []float64{10, 10, 10, 500}
	wildWeights := []float64{1, 1, 1, 1}
	got, err = Combine(MethodAdaptive, wild, wildWeights)
	if err != nil {
		t.Fatalf("combine: %v", err)
	}
	if got != 10 {
		t.Fatalf("wild adaptive = %v, want 10 (median)", got)
	}
}

func TestTrimmedMeanBounds(t *testing.T) {
	if _, err := trimmedMean([]float64{1, 2}, []float64{1, 1}, 0.5); err == nil {
		t.Fatal("trim fraction 0.5 should error")
	}
	got, err := trimmedMean([]float64{1, 2}, []float64{1, 1}, 0)
	if err != nil {
		t.Fatalf("trim 0: %v", err)
	}
	if got != 1.5 {
		t.Fatalf("untrimmed mean = %v, want 1.5", got)
	}
}

func TestMethodValid(t *testing.T) {
	for _, m := range []Method{MethodMean, MethodMedian, MethodWeightedMean,
		MethodWeightedMedian, MethodTrimmedMean, MethodAdaptive} {
		if !m.Valid() {
			t.Fatalf("%q should be valid", m)
		}
	}
	if Method("mode").Valid() {
		t.Fatal("unknown method reported valid")
	}
	if Method("").Valid() {
		t.Fatal("empty method reported valid")
	}
}
