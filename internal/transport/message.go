// SPDX-License-Identifier: MIT
package transport

import (
	"math"

	"colorchord/internal/analysis"
	"colorchord/internal/config"
	"colorchord/internal/hue"
	"colorchord/internal/notefinder"
)

// NoteMessage is the JSON form of one active note.
type NoteMessage struct {
	ID         uint64  `json:"id"`
	PitchClass float64 `json:"pitch"`
	Amplitude  float64 `json:"amplitude"`
	Intensity  float64 `json:"intensity"` // Compressed output amplitude in [0, 1].
	Age        int     `json:"age"`
	Color      string  `json:"color"`
}

// FrameMessage is the JSON form of a frame.
type FrameMessage struct {
	Seq    uint64        `json:"seq"`
	Time   int64         `json:"time"` // Unix milliseconds.
	Bins   int           `json:"bins"`
	Folded []float64     `json:"folded"`
	Notes  []NoteMessage `json:"notes"`
}

// Intensity maps an output amplitude to a display brightness in [0, 1].
func Intensity(amplitudeOut float64, p config.Params) float64 {
	v := analysis.Compress(amplitudeOut, p.CompressExponent, p.CompressCoefficient)
	return math.Max(0, math.Min(1, v))
}

// NewFrameMessage converts f for visualisers. Only active notes are included.
func NewFrameMessage(f *notefinder.Frame, p config.Params) FrameMessage {
	msg := FrameMessage{
		Seq:    f.Seq,
		Time:   f.Time.UnixMilli(),
		Bins:   f.Bins,
		Folded: f.Folded,
		Notes:  make([]NoteMessage, 0, len(f.Notes)),
	}
	for _, n := range f.Notes {
		if !n.Active {
			continue
		}
		intensity := Intensity(n.AmplitudeOut, p)
		msg.Notes = append(msg.Notes, NoteMessage{
			ID:         n.ID,
			PitchClass: n.PitchClass,
			Amplitude:  n.AmplitudeOut,
			Intensity:  intensity,
			Age:        n.Age,
			Color:      hue.PitchToHex(n.PitchClass, 1, intensity),
		})
	}
	return msg
}
