// SPDX-License-Identifier: MIT
package analysis

import (
	"math"
	"slices"
	"testing"
)

func TestTaper(t *testing.T) {
	bins := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1}
	Taper(bins, 3)
	want := []float64{1.0 / 3, 2.0 / 3, 1, 1, 1, 1, 1, 2.0 / 3, 1.0 / 3}
	for i := range want {
		if math.Abs(bins[i]-want[i]) > 1e-12 {
			t.Errorf("bins[%d] = %f, want %f", i, bins[i], want[i])
		}
	}
}

func TestFold(t *testing.T) {
	dst := make([]float64, 3)
	Fold(dst, []float64{1, 2, 3, 10, 20, 30})
	if !slices.Equal(dst, []float64{11, 22, 33}) {
		t.Errorf("Fold = %v", dst)
	}

	// Stale values are cleared first.
	Fold(dst, []float64{1, 1, 1})
	if !slices.Equal(dst, []float64{1, 1, 1}) {
		t.Errorf("Fold after reuse = %v", dst)
	}
}

func TestBlobFilter(t *testing.T) {
	tests := []struct {
		name       string
		strength   float64
		iterations int
		want       []float64
	}{
		{"no strength", 0, 4, []float64{4, 0, 0, 0}},
		{"half", 0.5, 1, []float64{2, 1, 0, 1}},
		{"full", 1, 1, []float64{0, 2, 0, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			folded := []float64{4, 0, 0, 0}
			BlobFilter(folded, make([]float64, 4), tt.strength, tt.iterations)
			if !slices.Equal(folded, tt.want) {
				t.Errorf("BlobFilter = %v, want %v", folded, tt.want)
			}
		})
	}
}

func TestBlobFilterPreservesEnergy(t *testing.T) {
	folded := []float64{0.1, 0.9, 0.3, 0, 0, 0.7, 0.2, 0.05, 0, 0, 0, 1.2}
	var before float64
	for _, v := range folded {
		before += v
	}

	BlobFilter(folded, make([]float64, len(folded)), 0.7, 8)

	var after float64
	for _, v := range folded {
		after += v
	}
	if math.Abs(before-after) > 1e-12 {
		t.Errorf("sum changed from %f to %f", before, after)
	}
}

func TestCompress(t *testing.T) {
	tests := []struct {
		v, exp, coef, want float64
	}{
		{0.25, 0.5, 4, 2},
		{1, 0.5, 4, 4},
		{0, 0.5, 4, 0},
		{-1, 0.5, 4, 0},
		{0.3, 1, 1, 0.3},
	}
	for _, tt := range tests {
		if got := Compress(tt.v, tt.exp, tt.coef); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Compress(%v, %v, %v) = %v, want %v", tt.v, tt.exp, tt.coef, got, tt.want)
		}
	}
}
