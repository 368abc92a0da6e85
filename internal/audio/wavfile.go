// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"

	"colorchord/internal/ring"
)

// WAVFile is a decoded PCM file down-mixed to mono in [-1, 1].
type WAVFile struct {
	Samples    []float32
	SampleRate float64
	Channels   int
	BitDepth   int
}

// LoadWAV decodes a PCM WAV file.
func LoadWAV(path string) (*WAVFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	channels := max(1, int(dec.NumChans))
	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%s: unsupported bit depth %d", path, bitDepth)
	}

	scale := 1 / float32(int64(1)<<(bitDepth-1))
	bias := 0
	if bitDepth == 8 {
		bias = 128 // 8-bit WAV is unsigned.
	}
	interleaved := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		interleaved[i] = float32(v-bias) * scale
	}

	mono := make([]float32, len(interleaved)/channels)
	mono = downmix(mono, interleaved, channels)

	return &WAVFile{
		Samples:    mono,
		SampleRate: float64(dec.SampleRate),
		Channels:   channels,
		BitDepth:   bitDepth,
	}, nil
}

// Duration returns the playing time of the file.
func (w *WAVFile) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / w.SampleRate * float64(time.Second))
}

// Play pushes the file to sink in blocks. With pace set, blocks are released
// at the file's sample rate, the way a capture device would deliver them.
func (w *WAVFile) Play(ctx context.Context, sink SampleSink, block int, pace bool) error {
	if block < 1 {
		return fmt.Errorf("invalid block size %d", block)
	}

	var tick <-chan time.Time
	if pace {
		ticker := time.NewTicker(time.Duration(float64(block) / w.SampleRate * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	for start := 0; start < len(w.Samples); start += block {
		if err := ctx.Err(); err != nil {
			return err
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-tick:
			}
		}
		sink.PushSamples(w.Samples[start:min(start+block, len(w.Samples))])
	}
	return nil
}

// Windows slides an analysis window of the given size over the file, block
// samples at a time, and calls fn with each window (oldest sample first) and
// the number of samples new to it. Windows before the first full one are
// zero-padded at the front. fn must not keep win.
func (w *WAVFile) Windows(window, block int, fn func(win []float32, fresh int) error) error {
	if window < 1 || block < 1 {
		return fmt.Errorf("invalid window %d or block %d", window, block)
	}

	buf := ring.New(window)
	win := make([]float32, window)
	for start := 0; start < len(w.Samples); start += block {
		chunk := w.Samples[start:min(start+block, len(w.Samples))]
		buf.Write(chunk)
		win = buf.ReadLinearized(win)
		if err := fn(win, min(len(chunk), window)); err != nil {
			return err
		}
	}
	return nil
}
