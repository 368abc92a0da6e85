// SPDX-License-Identifier: MIT
package dft

import "math"

const (
	sineTableBits = 10
	sineTableSize = 1 << sineTableBits
	q15One        = 32767
)

// sineTable holds one period of sin() in Q15.
var sineTable = func() [sineTableSize]int32 {
	var t [sineTableSize]int32
	for i := range t {
		t[i] = int32(math.Round(math.Sin(2*math.Pi*float64(i)/sineTableSize) * q15One))
	}
	return t
}()

// sincos looks up a 32-bit phase in the sine table.
func sincos(phase uint32) (sin, cos int64) {
	const quarter = sineTableSize / 4
	idx := phase >> (32 - sineTableBits)
	return int64(sineTable[idx]), int64(sineTable[(idx+quarter)&(sineTableSize-1)])
}

// fixedSlide is one bin of the integer sliding DFT. phase is the phase of
// the next sample for each of the three sums and lag the phase that sample
// had when it entered, n samples ago. Both advance by the same increment, so
// a sample is dropped with exactly the value it was added with.
type fixedSlide struct {
	n          int
	re, im     [3]int64
	phase, lag [3]uint32
	increment  [3]uint32
}

// fixedKernel is the integer counterpart of progressiveKernel: Q15 samples,
// a 10-bit sine table indexed by 32-bit phase accumulators, and int64 sums.
// Integer sums cancel exactly, so unlike the float32 kernel it never needs
// recomputing. Only the final Hann mix and magnitude touch floating point.
type fixedKernel struct {
	primed     bool
	bins       []fixedSlide
	history    []int32
	pos        int
	sampleRate float64
	q          float64
}

func (k *fixedKernel) Strategy() Strategy { return Fixed32 }

func (k *fixedKernel) Reset() {
	k.primed = false
}

// toQ15 converts a float sample to Q15 with saturation.
func toQ15(s float32) int32 {
	switch {
	case s >= 1:
		return q15One
	case s <= -1:
		return -q15One
	default:
		return int32(s * q15One)
	}
}

func (k *fixedKernel) prime(samples []float32, req Request) {
	if len(k.bins) != len(req.Frequencies) {
		k.bins = make([]fixedSlide, len(req.Frequencies))
	}
	if len(k.history) != len(samples) {
		k.history = make([]int32, len(samples))
	}
	for i, s := range samples {
		k.history[i] = toQ15(s)
	}
	k.pos = 0
	k.sampleRate = req.SampleRate
	k.q = req.Q

	for i, f := range req.Frequencies {
		b := &k.bins[i]
		*b = fixedSlide{}
		if !audible(f, req) {
			continue
		}
		b.n = windowLength(f, req, len(samples))
		inc := uint32(f / req.SampleRate * (1 << 32))
		delta := uint32(math.Round((1 << 32) / float64(b.n)))
		b.increment = [3]uint32{inc, inc - delta, inc + delta}

		for v, step := range b.increment {
			// Phase 0 at the first sample of the window.
			var phase uint32
			for _, x := range k.history[len(samples)-b.n:] {
				sin, cos := sincos(phase)
				b.re[v] += int64(x) * cos
				b.im[v] -= int64(x) * sin
				phase += step
			}
			b.phase[v] = phase
			b.lag[v] = 0
		}
	}
	k.primed = true
}

// push slides every bin forward by one Q15 sample.
func (k *fixedKernel) push(x int32) {
	for i := range k.bins {
		b := &k.bins[i]
		if b.n == 0 {
			continue
		}
		old := int64(k.history[(k.pos-b.n+len(k.history))%len(k.history)])
		for v := range b.re {
			sin, cos := sincos(b.phase[v])
			b.re[v] += int64(x) * cos
			b.im[v] -= int64(x) * sin
			sin, cos = sincos(b.lag[v])
			b.re[v] -= old * cos
			b.im[v] += old * sin
			b.phase[v] += b.increment[v]
			b.lag[v] += b.increment[v]
		}
	}
	k.history[k.pos] = x
	k.pos++
	if k.pos == len(k.history) {
		k.pos = 0
	}
}

func (k *fixedKernel) Transform(out []float64, samples []float32, req Request) {
	zero(out)
	if len(samples) < 2 {
		return
	}
	if !k.primed || len(k.bins) != len(req.Frequencies) || len(k.history) != len(samples) ||
		k.sampleRate != req.SampleRate || k.q != req.Q {
		k.prime(samples, req)
	} else {
		fresh := min(max(req.Fresh, 0), len(samples))
		for _, s := range samples[len(samples)-fresh:] {
			k.push(toQ15(s))
		}
	}

	const scale = float64(q15One) * float64(q15One)
	for i, b := range k.bins {
		if b.n == 0 {
			continue
		}
		// The neighbouring sums drift against the centre one by delta per
		// sample. lag holds the phases at the first sample of the window,
		// where the Hann window starts.
		sin, cos := sincos(b.lag[0] - b.lag[1])
		c, s := float64(cos)/q15One, float64(sin)/q15One

		lre, lim := float64(b.re[1]), float64(b.im[1])
		hre, him := float64(b.re[2]), float64(b.im[2])
		// lo*e^{-i theta} + hi*e^{i theta}
		mixRe := c*(lre+hre) + s*(lim-him)
		mixIm := c*(lim+him) - s*(lre-hre)

		re := 0.5*float64(b.re[0]) - 0.25*mixRe
		im := 0.5*float64(b.im[0]) - 0.25*mixIm
		out[i] = 4 * math.Hypot(re, im) / (float64(b.n) * scale)
	}
}
