// SPDX-License-Identifier: MIT
//
// Package utils holds signal generators and test doubles shared by the
// package tests of the note finder.
package utils

import (
	"math"
	"sync"
)

// MockTransport implements the transport.Transport interface for testing by
// recording every message it is asked to send.
type MockTransport struct {
	mu       sync.Mutex
	Messages []any
	Closed   bool
}

// Send stores the message for later inspection instead of transmitting.
func (m *MockTransport) Send(data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, data)
	return nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Count returns the number of messages received so far.
func (m *MockTransport) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// Last returns the most recent message, or nil.
func (m *MockTransport) Last() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Messages) == 0 {
		return nil
	}
	return m.Messages[len(m.Messages)-1]
}

// GenerateSineWave returns size samples of amplitude*sin(2*pi*frequency*t).
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float32 {
	return GenerateSineWaveAt(0, size, sampleRate, frequency, amplitude)
}

// GenerateSineWaveAt is GenerateSineWave starting at sample offset, so
// consecutive blocks join without a phase jump.
func GenerateSineWaveAt(offset, size int, sampleRate, frequency, amplitude float64) []float32 {
	buffer := make([]float32, size)
	for i := range buffer {
		t := float64(offset+i) / sampleRate
		buffer[i] = float32(amplitude * math.Sin(2*math.Pi*frequency*t))
	}
	return buffer
}

// GenerateChord sums equal-amplitude sines at each frequency.
func GenerateChord(size int, sampleRate, amplitude float64, frequencies ...float64) []float32 {
	buffer := make([]float32, size)
	for _, f := range frequencies {
		for i := range buffer {
			t := float64(i) / sampleRate
			buffer[i] += float32(amplitude * math.Sin(2*math.Pi*f*t))
		}
	}
	return buffer
}

// Silence returns size zero samples.
func Silence(size int) []float32 {
	return make([]float32, size)
}

// FindPeakBin returns the index of the largest value in magnitudes[startBin:endBin+1].
// The range is clamped to the slice. Returns 0 for an empty slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}

// CircularDistance returns the shortest distance between a and b on a circle
// of the given circumference.
func CircularDistance(a, b, circumference float64) float64 {
	d := math.Mod(math.Abs(a-b), circumference)
	return math.Min(d, circumference-d)
}
