// SPDX-License-Identifier: MIT
package analysis

import "math"

// Taper fades the lowest and highest octave of bins linearly towards zero so
// that notes do not appear or vanish abruptly when they cross the analysed
// range. perOctave is the number of bins per octave.
func Taper(bins []float64, perOctave int) {
	n := len(bins)
	if perOctave <= 0 || n == 0 {
		return
	}
	edge := min(perOctave, n)
	for i := range edge {
		bins[i] *= float64(i+1) / float64(perOctave)
	}
	for i := n - edge; i < n; i++ {
		bins[i] *= float64(n-i) / float64(perOctave)
	}
}

// Fold sums every octave of bins onto dst. len(dst) is the number of bins per
// octave.
func Fold(dst, bins []float64) {
	clear(dst)
	if len(dst) == 0 {
		return
	}
	for i, v := range bins {
		dst[i%len(dst)] += v
	}
}

// BlobFilter smooths a circular spectrum in place by blending each bin with
// the mean of its two neighbours, iterations times. strength 0 leaves the
// input untouched, 1 replaces each bin with its neighbour mean. scratch must
// be at least len(folded) long.
func BlobFilter(folded, scratch []float64, strength float64, iterations int) {
	n := len(folded)
	if n < 3 || strength <= 0 {
		return
	}
	tmp := scratch[:n]
	for range iterations {
		copy(tmp, folded)
		for i := range folded {
			prev := tmp[(i+n-1)%n]
			next := tmp[(i+1)%n]
			folded[i] = tmp[i]*(1-strength) + (prev+next)*0.5*strength
		}
	}
}

// Compress maps an amplitude onto a display intensity,
// coefficient * v^exponent. Non-positive input yields 0.
func Compress(v, exponent, coefficient float64) float64 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return coefficient * math.Pow(v, exponent)
}
