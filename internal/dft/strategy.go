// SPDX-License-Identifier: MIT
/*
Package dft provides the interchangeable transform kernels that turn a window of
audio samples into per-frequency amplitude estimates.

Five strategies trade precision for CPU cost. They all honour the same contract:

  - one output per requested frequency,
  - an output approximates the amplitude A of a sinusoid A*sin(2*pi*f*t),
  - frequencies at or above Nyquist produce 0,
  - outputs are never negative.

The analyzer only ever talks to the Kernel interface; which kernel runs is a
configuration switch.
*/
package dft

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Strategy selects a transform kernel.
type Strategy int

// Enum for available transform strategies.
const (
	Quick       Strategy = iota // Strided Hann-windowed float32 DFT, at most dft_speedup samples per bin.
	Exact                       // Hann-windowed float64 DFT over dft_q periods per bin.
	FFT                         // Single FFT over the window, interpolated at each bin.
	Progressive                 // Sliding Hann-windowed float32 DFT fed only with fresh samples.
	Fixed32                     // Sliding Hann-windowed integer DFT with a Q15 sine table.
)

// DefaultStrategy is the strategy used when none is configured.
const DefaultStrategy = Quick

// ErrUnknownStrategy is returned when a strategy name or value is not recognised.
var ErrUnknownStrategy = errors.New("unknown transform strategy")

var strategyNames = [...]string{
	Quick:       "quick",
	Exact:       "exact",
	FFT:         "fft",
	Progressive: "progressive",
	Fixed32:     "fixed32",
}

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{Quick, Exact, FFT, Progressive, Fixed32}
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s >= Quick && s <= Fixed32
}

func (s Strategy) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseStrategy converts a case-insensitive name to a Strategy. It returns
// DefaultStrategy and an error wrapping ErrUnknownStrategy for unknown names.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "quick", "":
		return Quick, nil
	case "exact", "slow":
		return Exact, nil
	case "fft":
		return FFT, nil
	case "progressive":
		return Progressive, nil
	case "fixed32", "integer", "fixed":
		return Fixed32, nil
	default:
		return DefaultStrategy, fmt.Errorf("%w: '%s'", ErrUnknownStrategy, name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so strategies can be
// written by name in YAML files and flags.
func (s *Strategy) UnmarshalText(text []byte) error {
	v, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Request describes one transform call.
type Request struct {
	Frequencies []float64 // Target frequencies in Hz, one output each.
	SampleRate  float64   // Sample rate of the input (Hz).
	Q           float64   // Periods of each frequency covered by its window (dft_q).
	Speedup     float64   // Upper bound on samples visited per bin (dft_speedup).
	Fresh       int       // Samples at the tail of the window that are new since the last call.
}

// Kernel computes amplitude estimates for a set of frequencies.
// Implementations may keep state between calls and are not safe for concurrent use.
type Kernel interface {
	// Transform writes len(req.Frequencies) amplitudes into out. samples is
	// ordered oldest-first and its tail holds the most recent audio.
	Transform(out []float64, samples []float32, req Request)
	// Reset drops any state carried between calls.
	Reset()
	// Strategy reports which strategy the kernel implements.
	Strategy() Strategy
}

// New returns a fresh kernel for s.
func New(s Strategy) (Kernel, error) {
	switch s {
	case Quick:
		return &quickKernel{}, nil
	case Exact:
		return newExactKernel(), nil
	case FFT:
		return &fftKernel{}, nil
	case Progressive:
		return &progressiveKernel{}, nil
	case Fixed32:
		return &fixedKernel{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownStrategy, int(s))
	}
}

// windowLength returns the number of samples covering q periods of f, clamped
// to [2, available].
func windowLength(f float64, req Request, available int) int {
	q := req.Q
	if q <= 0 {
		q = 1
	}
	n := int(q*req.SampleRate/f + 0.5)
	if n > available {
		n = available
	}
	if n < 2 {
		n = 2
	}
	return n
}

// audible reports whether f can be estimated at all for the request.
func audible(f float64, req Request) bool {
	return f > 0 && req.SampleRate > 0 && f < req.SampleRate/2
}

// zero clears out.
func zero(out []float64) {
	for i := range out {
		out[i] = 0
	}
}

// angularStep returns the phase advance per sample for f.
func angularStep(f, sampleRate float64) float64 {
	return 2 * math.Pi * f / sampleRate
}
