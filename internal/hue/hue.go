// SPDX-License-Identifier: MIT
//
// Package hue maps pitch classes to colours. The hue curve is not linear: it
// runs yellow, red, blue and back to yellow over one octave with breakpoints
// at 4 and 8 semitones, so neighbouring pitch classes stay visually distinct.
package hue

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Hue returns the hue, as a fraction of a turn in [0, 1), for a pitch class.
// The pitch class is reduced modulo 1 first.
func Hue(pitchClass float64) float64 {
	p := fract(pitchClass) * 12

	var h float64
	switch {
	case p < 4:
		h = (4 - p) / 24
	case p < 8:
		h = (4 - p) / 12
	default:
		h = (12-p)/8 + 1.0/6
	}
	return fract(h)
}

// fract returns x modulo 1 in [0, 1).
func fract(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	x -= math.Floor(x)
	if x >= 1 {
		x = 0
	}
	return x
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Color returns the colour for pitchClass at the given saturation and value.
func Color(pitchClass, saturation, value float64) colorful.Color {
	return colorful.Hsv(Hue(pitchClass)*360, clamp01(saturation), clamp01(value)).Clamped()
}

// PitchToRGB returns red, green and blue in [0, 1] for pitchClass.
func PitchToRGB(pitchClass, saturation, value float64) (r, g, b float64) {
	c := Color(pitchClass, saturation, value)
	return c.R, c.G, c.B
}

// PitchToHex returns the colour of pitchClass as "#rrggbb".
func PitchToHex(pitchClass, saturation, value float64) string {
	return Color(pitchClass, saturation, value).Hex()
}

// PitchToRGB24 packs the colour as 0xRRGGBB.
func PitchToRGB24(pitchClass, saturation, value float64) uint32 {
	r, g, b := Color(pitchClass, saturation, value).RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}
