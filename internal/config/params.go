// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"sync"

	"colorchord/internal/dft"
)

// ReferenceBaseHz is the frequency of bin 0 when base_hz is left at 0 (A1).
const ReferenceBaseHz = 55.0

// Params is the flat set of note finder parameters. Every numeric field has a
// closed [min, max] range, see Validate.
type Params struct {
	Octaves                 int          `yaml:"octaves"`
	FrequencyBins           int          `yaml:"frequency_bins"`
	BaseHz                  float64      `yaml:"base_hz"`
	FilterStrength          float64      `yaml:"filter_strength"`
	FilterIterations        int          `yaml:"filter_iterations"`
	DecomposeIterations     int          `yaml:"decompose_iterations"`
	Amplification           float64      `yaml:"amplification"`
	CompressExponent        float64      `yaml:"compress_exponent"`
	CompressCoefficient     float64      `yaml:"compress_coefficient"`
	DFTSpeedup              float64      `yaml:"dft_speedup"`
	DFTQ                    float64      `yaml:"dft_q"`
	DefaultSigma            float64      `yaml:"default_sigma"`
	NoteJumpability         float64      `yaml:"note_jumpability"`
	NoteCombineDistance     float64      `yaml:"note_combine_distance"`
	Slope                   float64      `yaml:"slope"`
	NoteAttachFreqIIR       float64      `yaml:"note_attach_freq_iir"`
	NoteAttachAmpIIR        float64      `yaml:"note_attach_amp_iir"`
	NoteAttachAmpIIR2       float64      `yaml:"note_attach_amp_iir2"`
	NoteMinimumNewDistValue float64      `yaml:"note_minimum_new_distribution_value"`
	NoteOutChop             float64      `yaml:"note_out_chop"`
	DFTIIR                  float64      `yaml:"dft_iir"`
	Transform               dft.Strategy `yaml:"transform"`
}

// DefaultParams returns the parameter set used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Octaves:                 8,
		FrequencyBins:           24,
		BaseHz:                  0,
		FilterStrength:          0.5,
		FilterIterations:        1,
		DecomposeIterations:     1000,
		Amplification:           2,
		CompressExponent:        0.5,
		CompressCoefficient:     4,
		DFTSpeedup:              300,
		DFTQ:                    16,
		DefaultSigma:            1.4,
		NoteJumpability:         0.5,
		NoteCombineDistance:     0.5,
		Slope:                   0,
		NoteAttachFreqIIR:       0.4,
		NoteAttachAmpIIR:        0.2,
		NoteAttachAmpIIR2:       0.05,
		NoteMinimumNewDistValue: 0.02,
		NoteOutChop:             0.1,
		DFTIIR:                  0,
		Transform:               dft.DefaultStrategy,
	}
}

// EffectiveBaseHz resolves base_hz = 0 to ReferenceBaseHz.
func (p Params) EffectiveBaseHz() float64 {
	if p.BaseHz <= 0 {
		return ReferenceBaseHz
	}
	return p.BaseHz
}

// Parameter bounds.
const (
	MinOctaves, MaxOctaves                         = 0, 8
	MinFrequencyBins, MaxFrequencyBins             = 12, 48
	MinBaseHz, MaxBaseHz                           = 0, 20000
	MinFilterStrength, MaxFilterStrength           = 0, 1
	MinFilterIterations, MaxFilterIterations       = 1, 8
	MinDecomposeIterations, MaxDecomposeIterations = 100, 10000
	MinAmplification, MaxAmplification             = 0, 40
	MinCompressExponent, MaxCompressExponent       = 0, 10
	MinCompressCoefficient, MaxCompressCoefficient = 0, 5
	MinDFTSpeedup, MaxDFTSpeedup                   = 100, 20000
	MinDFTQ, MaxDFTQ                               = 4, 64
	MinDefaultSigma, MaxDefaultSigma               = 0, 8
	MinNoteJumpability, MaxNoteJumpability         = 0, 8
	MinNoteCombineDistance, MaxNoteCombineDistance = 0, 4
	MinSlope, MaxSlope                             = 0, 1
	MinNoteIIR, MaxNoteIIR                         = 0, 3
	MinNoteMinimumNew, MaxNoteMinimumNew           = 0, 1
	MinNoteOutChop, MaxNoteOutChop                 = 0, 1
	MinDFTIIR, MaxDFTIIR                           = 0, 10
)

// OutOfRangeError reports a parameter assignment outside its closed range.
type OutOfRangeError struct {
	Param string
	Min   float64
	Max   float64
	Found float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s: %g out of range [%g, %g]", e.Param, e.Found, e.Min, e.Max)
}

func checkRange(name string, v, lo, hi float64) error {
	// NaN fails both comparisons, so test for inclusion.
	if v >= lo && v <= hi {
		return nil
	}
	return &OutOfRangeError{Param: name, Min: lo, Max: hi, Found: v}
}

// Validate returns the first OutOfRangeError found, or an error for an
// unknown transform strategy.
func (p Params) Validate() error {
	checks := []struct {
		name      string
		v, lo, hi float64
	}{
		{"octaves", float64(p.Octaves), MinOctaves, MaxOctaves},
		{"frequency_bins", float64(p.FrequencyBins), MinFrequencyBins, MaxFrequencyBins},
		{"base_hz", p.BaseHz, MinBaseHz, MaxBaseHz},
		{"filter_strength", p.FilterStrength, MinFilterStrength, MaxFilterStrength},
		{"filter_iterations", float64(p.FilterIterations), MinFilterIterations, MaxFilterIterations},
		{"decompose_iterations", float64(p.DecomposeIterations), MinDecomposeIterations, MaxDecomposeIterations},
		{"amplification", p.Amplification, MinAmplification, MaxAmplification},
		{"compress_exponent", p.CompressExponent, MinCompressExponent, MaxCompressExponent},
		{"compress_coefficient", p.CompressCoefficient, MinCompressCoefficient, MaxCompressCoefficient},
		{"dft_speedup", p.DFTSpeedup, MinDFTSpeedup, MaxDFTSpeedup},
		{"dft_q", p.DFTQ, MinDFTQ, MaxDFTQ},
		{"default_sigma", p.DefaultSigma, MinDefaultSigma, MaxDefaultSigma},
		{"note_jumpability", p.NoteJumpability, MinNoteJumpability, MaxNoteJumpability},
		{"note_combine_distance", p.NoteCombineDistance, MinNoteCombineDistance, MaxNoteCombineDistance},
		{"slope", p.Slope, MinSlope, MaxSlope},
		{"note_attach_freq_iir", p.NoteAttachFreqIIR, MinNoteIIR, MaxNoteIIR},
		{"note_attach_amp_iir", p.NoteAttachAmpIIR, MinNoteIIR, MaxNoteIIR},
		{"note_attach_amp_iir2", p.NoteAttachAmpIIR2, MinNoteIIR, MaxNoteIIR},
		{"note_minimum_new_distribution_value", p.NoteMinimumNewDistValue, MinNoteMinimumNew, MaxNoteMinimumNew},
		{"note_out_chop", p.NoteOutChop, MinNoteOutChop, MaxNoteOutChop},
		{"dft_iir", p.DFTIIR, MinDFTIIR, MaxDFTIIR},
	}
	for _, c := range checks {
		if err := checkRange(c.name, c.v, c.lo, c.hi); err != nil {
			return err
		}
	}
	if !p.Transform.Valid() {
		return fmt.Errorf("transform: %w: %d", dft.ErrUnknownStrategy, int(p.Transform))
	}
	return nil
}

// Settings guards a Params value shared between the analysis goroutine and
// whoever tunes it. Each setter validates first and only then mutates, so a
// rejected value leaves the previous one in place. The analysis side reads a
// whole frame's worth of parameters at once through Snapshot.
type Settings struct {
	mu     sync.RWMutex
	params Params
}

// NewSettings returns Settings holding p. p is validated first.
func NewSettings(p Params) (*Settings, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Settings{params: p}, nil
}

// Snapshot returns a consistent copy of the current parameters.
func (s *Settings) Snapshot() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Replace validates p and swaps it in as a whole.
func (s *Settings) Replace(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	return nil
}

func (s *Settings) setFloat(name string, dst func(*Params) *float64, v, lo, hi float64) error {
	if err := checkRange(name, v, lo, hi); err != nil {
		return err
	}
	s.mu.Lock()
	*dst(&s.params) = v
	s.mu.Unlock()
	return nil
}

func (s *Settings) setInt(name string, dst func(*Params) *int, v, lo, hi int) error {
	if err := checkRange(name, float64(v), float64(lo), float64(hi)); err != nil {
		return err
	}
	s.mu.Lock()
	*dst(&s.params) = v
	s.mu.Unlock()
	return nil
}

// SetOctaves sets octaves, the number of octaves analysed, in [0, 8].
func (s *Settings) SetOctaves(v int) error {
	return s.setInt("octaves", func(p *Params) *int { return &p.Octaves }, v, MinOctaves, MaxOctaves)
}

// SetFrequencyBins sets frequency_bins, the bins per octave, in [12, 48].
func (s *Settings) SetFrequencyBins(v int) error {
	return s.setInt("frequency_bins", func(p *Params) *int { return &p.FrequencyBins }, v, MinFrequencyBins, MaxFrequencyBins)
}

// SetBaseHz sets base_hz, the lowest analysed frequency, in [0, 20000] Hz.
// 0 selects ReferenceBaseHz.
func (s *Settings) SetBaseHz(v float64) error {
	return s.setFloat("base_hz", func(p *Params) *float64 { return &p.BaseHz }, v, MinBaseHz, MaxBaseHz)
}

// SetFilterStrength sets filter_strength, the blob filter mix, in [0, 1].
func (s *Settings) SetFilterStrength(v float64) error {
	return s.setFloat("filter_strength", func(p *Params) *float64 { return &p.FilterStrength }, v, MinFilterStrength, MaxFilterStrength)
}

// SetFilterIterations sets filter_iterations, the blob filter passes, in [1, 8].
func (s *Settings) SetFilterIterations(v int) error {
	return s.setInt("filter_iterations", func(p *Params) *int { return &p.FilterIterations }, v, MinFilterIterations, MaxFilterIterations)
}

// SetDecomposeIterations sets decompose_iterations, the fit iteration cap, in [100, 10000].
func (s *Settings) SetDecomposeIterations(v int) error {
	return s.setInt("decompose_iterations", func(p *Params) *int { return &p.DecomposeIterations }, v, MinDecomposeIterations, MaxDecomposeIterations)
}

// SetAmplification sets amplification, the gain applied to raw bins, in [0, 40].
func (s *Settings) SetAmplification(v float64) error {
	return s.setFloat("amplification", func(p *Params) *float64 { return &p.Amplification }, v, MinAmplification, MaxAmplification)
}

// SetCompressExponent sets compress_exponent in [0, 10].
func (s *Settings) SetCompressExponent(v float64) error {
	return s.setFloat("compress_exponent", func(p *Params) *float64 { return &p.CompressExponent }, v, MinCompressExponent, MaxCompressExponent)
}

// SetCompressCoefficient sets compress_coefficient in [0, 5].
func (s *Settings) SetCompressCoefficient(v float64) error {
	return s.setFloat("compress_coefficient", func(p *Params) *float64 { return &p.CompressCoefficient }, v, MinCompressCoefficient, MaxCompressCoefficient)
}

// SetDFTSpeedup sets dft_speedup, the samples a quick bin visits, in [100, 20000].
func (s *Settings) SetDFTSpeedup(v float64) error {
	return s.setFloat("dft_speedup", func(p *Params) *float64 { return &p.DFTSpeedup }, v, MinDFTSpeedup, MaxDFTSpeedup)
}

// SetDFTQ sets dft_q, the periods covered by each bin window, in [4, 64].
func (s *Settings) SetDFTQ(v float64) error {
	return s.setFloat("dft_q", func(p *Params) *float64 { return &p.DFTQ }, v, MinDFTQ, MaxDFTQ)
}

// SetDefaultSigma sets default_sigma, the seed width of a fitted peak, in [0, 8] bins.
func (s *Settings) SetDefaultSigma(v float64) error {
	return s.setFloat("default_sigma", func(p *Params) *float64 { return &p.DefaultSigma }, v, MinDefaultSigma, MaxDefaultSigma)
}

// SetNoteJumpability sets note_jumpability, how far a note may move per frame, in [0, 8] bins.
func (s *Settings) SetNoteJumpability(v float64) error {
	return s.setFloat("note_jumpability", func(p *Params) *float64 { return &p.NoteJumpability }, v, MinNoteJumpability, MaxNoteJumpability)
}

// SetNoteCombineDistance sets note_combine_distance in [0, 4] bins.
func (s *Settings) SetNoteCombineDistance(v float64) error {
	return s.setFloat("note_combine_distance", func(p *Params) *float64 { return &p.NoteCombineDistance }, v, MinNoteCombineDistance, MaxNoteCombineDistance)
}

// SetSlope sets slope, the per-bin gain tilt, in [0, 1].
func (s *Settings) SetSlope(v float64) error {
	return s.setFloat("slope", func(p *Params) *float64 { return &p.Slope }, v, MinSlope, MaxSlope)
}

// SetNoteAttachFreqIIR sets note_attach_freq_iir in [0, 3].
func (s *Settings) SetNoteAttachFreqIIR(v float64) error {
	return s.setFloat("note_attach_freq_iir", func(p *Params) *float64 { return &p.NoteAttachFreqIIR }, v, MinNoteIIR, MaxNoteIIR)
}

// SetNoteAttachAmpIIR sets note_attach_amp_iir in [0, 3].
func (s *Settings) SetNoteAttachAmpIIR(v float64) error {
	return s.setFloat("note_attach_amp_iir", func(p *Params) *float64 { return &p.NoteAttachAmpIIR }, v, MinNoteIIR, MaxNoteIIR)
}

// SetNoteAttachAmpIIR2 sets note_attach_amp_iir2 in [0, 3].
func (s *Settings) SetNoteAttachAmpIIR2(v float64) error {
	return s.setFloat("note_attach_amp_iir2", func(p *Params) *float64 { return &p.NoteAttachAmpIIR2 }, v, MinNoteIIR, MaxNoteIIR)
}

// SetNoteMinimumNewDistributionValue sets note_minimum_new_distribution_value,
// the amplitude a peak needs to start a note, in [0, 1].
func (s *Settings) SetNoteMinimumNewDistributionValue(v float64) error {
	return s.setFloat("note_minimum_new_distribution_value", func(p *Params) *float64 { return &p.NoteMinimumNewDistValue }, v, MinNoteMinimumNew, MaxNoteMinimumNew)
}

// SetNoteOutChop sets note_out_chop, subtracted from note amplitudes on output, in [0, 1].
func (s *Settings) SetNoteOutChop(v float64) error {
	return s.setFloat("note_out_chop", func(p *Params) *float64 { return &p.NoteOutChop }, v, MinNoteOutChop, MaxNoteOutChop)
}

// SetDFTIIR sets dft_iir, the frame-to-frame smoothing of raw bins, in [0, 10].
func (s *Settings) SetDFTIIR(v float64) error {
	return s.setFloat("dft_iir", func(p *Params) *float64 { return &p.DFTIIR }, v, MinDFTIIR, MaxDFTIIR)
}

// SelectTransformStrategy switches the transform kernel from the next frame on.
func (s *Settings) SelectTransformStrategy(strategy dft.Strategy) error {
	if !strategy.Valid() {
		return fmt.Errorf("%w: %d", dft.ErrUnknownStrategy, int(strategy))
	}
	s.mu.Lock()
	s.params.Transform = strategy
	s.mu.Unlock()
	return nil
}

// TransformStrategy reports the currently selected strategy.
func (s *Settings) TransformStrategy() dft.Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params.Transform
}
