package stats

import (
	"math"
	"testing"
)

func TestMedian(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"odd", []float64{3, 1, 2}, 2},
		{"even", []float64{4, 1, 3, 2}, 2.5},
		{"single", []float64{7}, 7},
		{"empty", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Median(tt.in); got != tt.want {
				t.Errorf("Median(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMedianDoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Median(in)
	if in[0] != 3 || in[1] != 1 || in[2] != 2 {
		t.Errorf("input mutated: %v", in)
	}
}

func TestPercentile(t *testing.T) {
	vs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := Percentile(vs, 0); got != 1 {
		t.Errorf("p0 = %v", got)
	}
	if got := Percentile(vs, 100); got != 10 {
		t.Errorf("p100 = %v", got)
	}
	if got := Percentile(vs, 50); got != 5.5 {
		t.Errorf("p50 = %v, want 5.5", got)
	}
	// p99 of 10 values interpolates near the top
	if got := Percentile(vs, 99); math.Abs(got-9.91) > 1e-9 {
		t.Errorf("p99 = %v, want 9.91", got)
	}
}

func TestStd(t *testing.T) {
	vs := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	if got := Std(vs); math.Abs(got-2) > 1e-12 {
		t.Errorf("Std = %v, want 2", got)
	}
}

func TestSigmaClippedMeanRejectsOutlier(t *testing.T) {
	// One hot pixel among consistent samples must be rejected
	vs := []float64{10, 11, 10, 9, 10, 11, 9, 10, 1000}
	got := SigmaClippedMean(vs, 3, 3, 5)
	want := Mean(vs[:8])
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("SigmaClippedMean = %v, want %v", got, want)
	}
}

func TestSigmaClippedMeanSmallSample(t *testing.T) {
	vs := []float64{5, 100}
	if got := SigmaClippedMean(vs, 3, 3, 5); got != 52.5 {
		t.Errorf("expected plain mean for <3 samples, got %v", got)
	}
}

func TestSigmaClippedMeanUniform(t *testing.T) {
	vs := []float64{7, 7, 7, 7}
	if got := SigmaClippedMean(vs, 3, 3, 5); got != 7 {
		t.Errorf("expected 7, got %v", got)
	}
}
