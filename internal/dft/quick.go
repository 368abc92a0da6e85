// SPDX-License-Identifier: MIT
package dft

import "math"

// renormEvery is how many phasor rotations run between renormalisations.
const renormEvery = 64

// quickKernel is a Hann-windowed DFT in float32 that visits at most about
// Speedup samples per bin by striding through long windows. Each visited
// sample is first averaged over a triangle two strides wide, which keeps
// frequencies above the stride's Nyquist from folding back onto the bin. The
// triangle's sinc^2 response is divided back out of the result.
type quickKernel struct {
	// Running sums of the window and of those sums, in float64 so the
	// differences taken by triangle stay exact enough at 8k samples.
	sum1, sum2 []float64
}

func (k *quickKernel) Strategy() Strategy { return Quick }

func (k *quickKernel) Reset() {}

// prefix fills the running sums for samples, growing them only when the
// window gets longer.
func (k *quickKernel) prefix(samples []float32) {
	n := len(samples)
	if cap(k.sum1) < n+1 {
		k.sum1 = make([]float64, n+1)
		k.sum2 = make([]float64, n+2)
	}
	k.sum1 = k.sum1[:n+1]
	k.sum2 = k.sum2[:n+2]

	k.sum1[0] = 0
	for i, s := range samples {
		k.sum1[i+1] = k.sum1[i] + float64(s)
	}
	k.sum2[0] = 0
	for i, s := range k.sum1 {
		k.sum2[i+1] = k.sum2[i] + s
	}
}

// triangle returns the samples around j weighted by a triangle of half width
// l. The triangle is cut short at the end of the window.
func (k *quickKernel) triangle(samples []float32, j, l int) float32 {
	if l <= 1 {
		return samples[j]
	}
	at := func(i int) float64 {
		return k.sum2[max(0, min(i, len(k.sum2)-1))]
	}
	mid := at(j + 1)
	v := (at(j+l+1) - mid) - (mid - at(j-l+1))
	return float32(v / float64(l*l))
}

func (k *quickKernel) Transform(out []float64, samples []float32, req Request) {
	zero(out)
	if len(samples) < 2 {
		return
	}
	speedup := req.Speedup
	if speedup < 1 {
		speedup = 1
	}
	k.prefix(samples)

	for i, f := range req.Frequencies {
		if !audible(f, req) {
			continue
		}
		n := windowLength(f, req, len(samples))
		skip := int(float64(n)/speedup) + 1
		start := len(samples) - n

		step := angularStep(f, req.SampleRate) * float64(skip)
		dr, di := float32(math.Cos(step)), float32(-math.Sin(step))
		// The Hann weight 0.5-0.5cos(2*pi*t/(n-1)) comes from a second phasor.
		hstep := 2 * math.Pi * float64(skip) / float64(n-1)
		hr, hi := float32(math.Cos(hstep)), float32(math.Sin(hstep))

		var re, im, weights float32
		pr, pi := float32(1), float32(0)
		wr, wi := float32(1), float32(0)
		count := 0
		for j := start; j < len(samples); j += skip {
			w := 0.5 - 0.5*wr
			s := k.triangle(samples, j, skip) * w
			re += s * pr
			im += s * pi
			weights += w
			pr, pi = pr*dr-pi*di, pr*di+pi*dr
			wr, wi = wr*hr-wi*hi, wr*hi+wi*hr
			count++
			if count%renormEvery == 0 {
				mag := float32(math.Sqrt(float64(pr*pr + pi*pi)))
				pr /= mag
				pi /= mag
				mag = float32(math.Sqrt(float64(wr*wr + wi*wi)))
				wr /= mag
				wi /= mag
			}
		}
		if weights <= 0 {
			continue
		}

		amp := 2 * math.Sqrt(float64(re*re+im*im)) / float64(weights)
		// Past the first lobe the triangle has removed too much to restore.
		if skip > 1 {
			x := math.Pi * f * float64(skip) / req.SampleRate
			if gain := math.Sin(x) / x; gain > 0.5 {
				amp /= gain * gain
			}
		}
		out[i] = amp
	}
}
