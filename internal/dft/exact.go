// SPDX-License-Identifier: MIT
package dft

import (
	"math"

	"github.com/mjibson/go-dsp/window"
)

// hannWindow caches Hann coefficients and their sum for one length.
type hannWindow struct {
	coeffs []float64
	sum    float64
}

// exactKernel evaluates a Hann-windowed DFT in float64 for every bin. Each bin
// uses its own window of Q periods, so low bins see long windows and high bins
// short ones. This is the reference strategy and the most expensive one.
type exactKernel struct {
	windows map[int]hannWindow
}

func newExactKernel() *exactKernel {
	return &exactKernel{windows: make(map[int]hannWindow)}
}

func (k *exactKernel) Strategy() Strategy { return Exact }

func (k *exactKernel) Reset() {
	clear(k.windows)
}

func (k *exactKernel) window(n int) hannWindow {
	if w, ok := k.windows[n]; ok {
		return w
	}
	coeffs := window.Hann(n)
	var sum float64
	for _, c := range coeffs {
		sum += c
	}
	w := hannWindow{coeffs: coeffs, sum: sum}
	k.windows[n] = w
	return w
}

func (k *exactKernel) Transform(out []float64, samples []float32, req Request) {
	zero(out)
	if len(samples) < 2 {
		return
	}

	for i, f := range req.Frequencies {
		if !audible(f, req) {
			continue
		}
		n := windowLength(f, req, len(samples))
		w := k.window(n)
		if w.sum == 0 {
			continue
		}

		x := samples[len(samples)-n:]
		omega := angularStep(f, req.SampleRate)
		var re, im float64
		for j, s := range x {
			sin, cos := math.Sincos(omega * float64(j))
			v := float64(s) * w.coeffs[j]
			re += v * cos
			im -= v * sin
		}
		out[i] = 2 * math.Hypot(re, im) / w.sum
	}
}
