// SPDX-License-Identifier: MIT
package dft

import "math"

// reprimeEvery is how many calls a float32 sliding sum runs before it is
// recomputed from the window, discarding accumulated rounding.
const reprimeEvery = 64

// slide is one bin of a sliding Hann-windowed DFT. A periodic Hann window of
// length n is 0.5 - 0.25e^{i2pi t/n} - 0.25e^{-i2pi t/n}, so the windowed sum
// at w is a mix of three rectangular sliding sums at w and w±2pi/n. Each sum
// adds the new sample and drops the one n samples back.
type slide struct {
	n    int
	sum  [3]complex64 // Rectangular sums at w, w-2pi/n, w+2pi/n.
	next [3]complex64 // Phasor of the next sample, e^{-ivT}.
	step [3]complex64 // Per-sample rotation, e^{-iv}.
	back complex64    // e^{iwn}: turns next[v] into the phasor of the dropped sample.
}

// progressiveKernel is a sliding Hann-windowed DFT in float32. It keeps a copy
// of the recent audio and updates every bin only with samples that arrived
// since the previous call, so its cost scales with the block size rather than
// the window size. Each bin covers Q periods, capped at the window length, the
// same as the exact kernel.
type progressiveKernel struct {
	primed     bool
	bins       []slide
	history    []float32
	pos        int
	calls      int
	sampleRate float64
	q          float64
}

func (k *progressiveKernel) Strategy() Strategy { return Progressive }

func (k *progressiveKernel) Reset() {
	k.primed = false
}

func (k *progressiveKernel) stale(samples []float32, req Request) bool {
	return !k.primed ||
		len(k.bins) != len(req.Frequencies) ||
		len(k.history) != len(samples) ||
		k.sampleRate != req.SampleRate ||
		k.q != req.Q ||
		k.calls >= reprimeEvery
}

// prime computes every sum directly from samples, counting time from the
// first sample of the window.
func (k *progressiveKernel) prime(samples []float32, req Request) {
	if len(k.bins) != len(req.Frequencies) {
		k.bins = make([]slide, len(req.Frequencies))
	}
	if len(k.history) != len(samples) {
		k.history = make([]float32, len(samples))
	}
	copy(k.history, samples)
	k.pos = 0
	k.calls = 0
	k.sampleRate = req.SampleRate
	k.q = req.Q

	end := len(samples)
	for i, f := range req.Frequencies {
		b := &k.bins[i]
		*b = slide{}
		if !audible(f, req) {
			continue
		}
		b.n = windowLength(f, req, len(samples))
		omega := angularStep(f, req.SampleRate)
		delta := 2 * math.Pi / float64(b.n)
		b.back = complex64(cmplxExp(omega * float64(b.n)))

		for v, nu := range [3]float64{omega, omega - delta, omega + delta} {
			rot := cmplxExp(-nu)
			p := cmplxExp(-nu * float64(end-b.n))
			var acc complex128
			for _, s := range samples[end-b.n:] {
				acc += complex(float64(s), 0) * p
				p *= rot
			}
			b.sum[v] = complex64(acc)
			b.next[v] = complex64(cmplxExp(-nu * float64(end)))
			b.step[v] = complex64(rot)
		}
	}
	k.primed = true
}

func cmplxExp(theta float64) complex128 {
	sin, cos := math.Sincos(theta)
	return complex(cos, sin)
}

// push slides every bin forward by one sample.
func (k *progressiveKernel) push(s float32) {
	for i := range k.bins {
		b := &k.bins[i]
		if b.n == 0 {
			continue
		}
		old := k.history[(k.pos-b.n+len(k.history))%len(k.history)]
		u := complex(s, 0) - complex(old, 0)*b.back
		for v := range b.sum {
			b.sum[v] += b.next[v] * u
			b.next[v] *= b.step[v]
		}
	}
	k.history[k.pos] = s
	k.pos++
	if k.pos == len(k.history) {
		k.pos = 0
	}
}

// renormalise pulls the rotating phasors back onto the unit circle.
func (k *progressiveKernel) renormalise() {
	for i := range k.bins {
		for v := range k.bins[i].next {
			p := k.bins[i].next[v]
			mag := float32(math.Sqrt(float64(real(p)*real(p) + imag(p)*imag(p))))
			if mag > 0 {
				k.bins[i].next[v] = complex(real(p)/mag, imag(p)/mag)
			}
		}
	}
}

func (k *progressiveKernel) Transform(out []float64, samples []float32, req Request) {
	zero(out)
	if len(samples) < 2 {
		return
	}
	if k.stale(samples, req) {
		k.prime(samples, req)
	} else {
		fresh := min(max(req.Fresh, 0), len(samples))
		for j, s := range samples[len(samples)-fresh:] {
			k.push(s)
			if (j+1)%renormEvery == 0 {
				k.renormalise()
			}
		}
		k.renormalise()
		k.calls++
	}

	for i, b := range k.bins {
		if b.n == 0 {
			continue
		}
		// e^{-i2pi t0/n} for the first sample t0 of the window, taken from
		// the phasors so it carries their drift too.
		lo := b.next[0] * conj64(b.next[1])
		hi := b.next[0] * conj64(b.next[2])
		x := 0.5*b.sum[0] - 0.25*lo*b.sum[1] - 0.25*hi*b.sum[2]
		mag := math.Hypot(float64(real(x)), float64(imag(x)))
		out[i] = 4 * mag / float64(b.n)
	}
}

func conj64(c complex64) complex64 {
	return complex(real(c), -imag(c))
}
