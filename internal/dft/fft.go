// SPDX-License-Identifier: MIT
package dft

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"colorchord/pkg/bitint"
)

// fftKernel runs one Hann-windowed FFT over the largest power-of-two tail of
// the window. Each requested frequency reads the loudest FFT bin in its band,
// which runs halfway (geometrically) to its neighbours, or the interpolated
// magnitude at its centre when the band holds no FFT bin. Cheap, but low bins
// are coarse because every bin shares the same resolution.
type fftKernel struct {
	size      int
	fft       *fourier.FFT
	input     []float64
	output    []complex128
	magnitude []float64
	window    []float64
	windowSum float64
}

func (k *fftKernel) Strategy() Strategy { return FFT }

func (k *fftKernel) Reset() {
	k.size = 0
	k.fft = nil
}

// prepare pre-allocates all buffers for an FFT of size points.
func (k *fftKernel) prepare(size int) {
	k.size = size
	k.fft = fourier.NewFFT(size)
	k.input = make([]float64, size)
	k.output = make([]complex128, size/2+1)
	k.magnitude = make([]float64, size/2+1)

	// Initialize with 1.0 before applying the window, the window functions
	// multiply in place.
	k.window = make([]float64, size)
	for i := range k.window {
		k.window[i] = 1
	}
	window.Hann(k.window)
	k.windowSum = 0
	for _, c := range k.window {
		k.windowSum += c
	}
}

func (k *fftKernel) Transform(out []float64, samples []float32, req Request) {
	zero(out)
	size := bitint.FloorPowerOfTwo(len(samples))
	if size < 2 {
		return
	}
	if size != k.size {
		k.prepare(size)
	}

	tail := samples[len(samples)-size:]
	for i, s := range tail {
		k.input[i] = float64(s) * k.window[i]
	}
	k.fft.Coefficients(k.output, k.input)
	for i, c := range k.output {
		k.magnitude[i] = 2 * cmplx.Abs(c) / k.windowSum
	}

	last := len(k.magnitude) - 1
	for i, f := range req.Frequencies {
		if !audible(f, req) {
			continue
		}
		pos := f * float64(size) / req.SampleRate
		lo := int(pos)
		if lo >= last {
			out[i] = k.magnitude[last]
			continue
		}
		frac := pos - float64(lo)
		v := k.magnitude[lo]*(1-frac) + k.magnitude[lo+1]*frac

		below, above := band(req.Frequencies, i)
		scale := float64(size) / req.SampleRate
		for j := int(math.Ceil(below * scale)); j <= last && float64(j) < above*scale; j++ {
			v = max(v, k.magnitude[j])
		}
		out[i] = v
	}
}

// band returns the edges of the band around freqs[i], the geometric midpoints
// to its neighbours. A missing or unordered neighbour is mirrored from the
// other side; with neither the band is empty.
func band(freqs []float64, i int) (below, above float64) {
	f := freqs[i]
	var lo, hi float64
	if i > 0 && freqs[i-1] > 0 && freqs[i-1] < f {
		lo = freqs[i-1]
	}
	if i+1 < len(freqs) && freqs[i+1] > f {
		hi = freqs[i+1]
	}
	switch {
	case lo == 0 && hi == 0:
		return f, f
	case lo == 0:
		lo = f * f / hi
	case hi == 0:
		hi = f * f / lo
	}
	return math.Sqrt(lo * f), math.Sqrt(hi * f)
}
