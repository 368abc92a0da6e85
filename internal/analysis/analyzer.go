// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"

	"colorchord/internal/config"
	"colorchord/internal/dft"
	"colorchord/internal/log"
)

// layout identifies everything that invalidates the bin table and the kernel
// state when it changes.
type layout struct {
	octaves  int
	bins     int
	baseHz   float64
	strategy dft.Strategy
	q        float64
}

// Analyzer turns a window of samples into a folded one-octave spectrum.
// It keeps per-bin smoothing state between frames and is not safe for
// concurrent use; the note finder drives it from a single goroutine.
type Analyzer struct {
	sampleRate float64
	kernel     dft.Kernel
	current    layout
	primed     bool

	frequencies []float64 // Centre frequency of every bin across all octaves.
	raw         []float64 // Kernel output.
	smoothed    []float64 // Amplified and dft_iir smoothed bins.
	work        []float64 // Tapered copy of smoothed, consumed by the fold.
	folded      []float64
	scratch     []float64
}

// NewAnalyzer creates an analyzer for audio at sampleRate Hz.
func NewAnalyzer(sampleRate float64) (*Analyzer, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}
	return &Analyzer{sampleRate: sampleRate}, nil
}

// SampleRate returns the sample rate fixed at construction.
func (a *Analyzer) SampleRate() float64 { return a.sampleRate }

// Frequencies returns the current bin centre frequencies, lowest first.
func (a *Analyzer) Frequencies() []float64 { return a.frequencies }

// FoldedSpectrum returns the spectrum computed by the last Process call. The
// slice is reused by the next call.
func (a *Analyzer) FoldedSpectrum() []float64 { return a.folded }

// Reset drops the smoothing state and the kernel state.
func (a *Analyzer) Reset() {
	a.primed = false
	if a.kernel != nil {
		a.kernel.Reset()
	}
}

// configure rebuilds the bin table and buffers for p when the layout changed.
func (a *Analyzer) configure(p config.Params) error {
	next := layout{
		octaves:  p.Octaves,
		bins:     p.FrequencyBins,
		baseHz:   p.EffectiveBaseHz(),
		strategy: p.Transform,
		q:        p.DFTQ,
	}
	if a.kernel != nil && next == a.current {
		return nil
	}

	if a.kernel == nil || a.kernel.Strategy() != next.strategy {
		k, err := dft.New(next.strategy)
		if err != nil {
			return err
		}
		a.kernel = k
		log.Debugf("Analysis: Transform strategy set to %s", next.strategy)
	} else {
		a.kernel.Reset()
	}

	n := next.octaves * next.bins
	a.frequencies = make([]float64, n)
	for i := range a.frequencies {
		a.frequencies[i] = next.baseHz * math.Pow(2, float64(i)/float64(next.bins))
	}
	a.raw = make([]float64, n)
	a.smoothed = make([]float64, n)
	a.work = make([]float64, n)
	a.folded = make([]float64, next.bins)
	a.scratch = make([]float64, next.bins)
	a.current = next
	a.primed = false

	log.Debugf("Analysis: %d octaves x %d bins from %.2f Hz", next.octaves, next.bins, next.baseHz)
	return nil
}

// Process analyses samples (oldest first, fresh of them new since the last
// call) with parameters p and returns the folded spectrum of length
// p.FrequencyBins. The returned slice is owned by the analyzer.
func (a *Analyzer) Process(samples []float32, fresh int, p config.Params) ([]float64, error) {
	if err := a.configure(p); err != nil {
		return nil, err
	}

	a.kernel.Transform(a.raw, samples, dft.Request{
		Frequencies: a.frequencies,
		SampleRate:  a.sampleRate,
		Q:           p.DFTQ,
		Speedup:     p.DFTSpeedup,
		Fresh:       fresh,
	})

	// Exponential smoothing across frames; dft_iir of 0 keeps only the new frame.
	keep := p.DFTIIR / (1 + p.DFTIIR)
	for i, v := range a.raw {
		v *= p.Amplification * (1 + p.Slope*float64(i))
		if a.primed {
			v = a.smoothed[i]*keep + v*(1-keep)
		}
		a.smoothed[i] = v
	}
	a.primed = true

	copy(a.work, a.smoothed)
	Taper(a.work, a.current.bins)
	Fold(a.folded, a.work)
	BlobFilter(a.folded, a.scratch, p.FilterStrength, p.FilterIterations)
	return a.folded, nil
}
