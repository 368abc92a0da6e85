// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"colorchord/internal/log"
)

// ErrRecordingLimit is returned by Recorder.Write once the maximum duration
// has been written.
var ErrRecordingLimit = errors.New("recording reached its maximum duration")

// Recorder writes interleaved float samples to a PCM WAV file.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	encoder   *wav.Encoder
	sampleBuf *audio.IntBuffer // Reusable buffer for format conversion
	channels  int
	scale     float64
	maxFrames int64 // 0 for unlimited
	frames    int64
	closed    bool
}

// NewRecorder creates filename and prepares a WAV encoder. bitDepth must be
// 16 or 24. maxDuration of zero means no limit.
func NewRecorder(filename string, sampleRate float64, channels, bitDepth int, maxDuration time.Duration) (*Recorder, error) {
	if bitDepth != 16 && bitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth %d (want 16 or 24)", bitDepth)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}

	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		file:     file,
		encoder:  wav.NewEncoder(file, int(sampleRate), bitDepth, channels, 1),
		channels: channels,
		scale:    float64(int(1)<<(bitDepth-1) - 1),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  int(sampleRate),
			},
			SourceBitDepth: bitDepth,
		},
	}
	if maxDuration > 0 {
		r.maxFrames = int64(maxDuration.Seconds() * sampleRate)
	}

	log.Infof("Recording: Writing %d-bit WAV to %s", bitDepth, filename)
	return r, nil
}

// Write appends one interleaved block. Samples are clipped to [-1, 1].
func (r *Recorder) Write(interleaved []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return os.ErrClosed
	}

	frames := int64(len(interleaved) / r.channels)
	limited := false
	if r.maxFrames > 0 && r.frames+frames >= r.maxFrames {
		frames = r.maxFrames - r.frames
		limited = true
	}
	n := int(frames) * r.channels

	if cap(r.sampleBuf.Data) < n {
		r.sampleBuf.Data = make([]int, n)
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:n]
	for i, s := range interleaved[:n] {
		v := math.Max(-1, math.Min(1, float64(s)))
		r.sampleBuf.Data[i] = int(math.Round(v * r.scale))
	}

	if n > 0 {
		if err := r.encoder.Write(r.sampleBuf); err != nil {
			return fmt.Errorf("failed to write WAV data: %w", err)
		}
		r.frames += frames
	}
	if limited {
		return ErrRecordingLimit
	}
	return nil
}

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close finalises the WAV header and closes the file. It is safe to call more
// than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if err := r.encoder.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// RecordingFilename returns a timestamped WAV path inside dir, creating dir
// when needed.
func RecordingFilename(dir string, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording directory: %w", err)
	}
	return filepath.Join(dir, "colorchord_"+t.Format("20060102_150405")+".wav"), nil
}

// StartRecording begins writing the raw captured input to filename.
func (e *Engine) StartRecording(filename string, bitDepth int, maxDuration time.Duration) error {
	if e.IsRecording() {
		return fmt.Errorf("already recording")
	}

	r, err := NewRecorder(filename, e.config.SampleRate, e.config.InputChannels, bitDepth, maxDuration)
	if err != nil {
		return err
	}
	if !e.recorder.CompareAndSwap(nil, r) {
		r.Close()
		os.Remove(filename)
		return fmt.Errorf("already recording")
	}
	return nil
}

// IsRecording reports whether captured input is being written to a file.
func (e *Engine) IsRecording() bool {
	return e.recorder.Load() != nil
}

// StopRecording closes the active recording, and waits for one the capture
// callback ended on its own to be finalised.
func (e *Engine) StopRecording() error {
	defer e.finishing.Wait()

	r := e.recorder.Swap(nil)
	if r == nil {
		return nil
	}
	return r.Close()
}
