// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadWAVErrors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.wav")
	if err := os.WriteFile(garbage, []byte("definitely not RIFF data"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.wav"), garbage} {
		if _, err := LoadWAV(path); err == nil {
			t.Errorf("LoadWAV(%s) expected error", filepath.Base(path))
		}
	}
}

func TestWAVFileDuration(t *testing.T) {
	w := &WAVFile{Samples: make([]float32, 24000), SampleRate: 48000}
	if got := w.Duration(); got != 500*time.Millisecond {
		t.Errorf("Duration() = %v, want 500ms", got)
	}
	if got := (&WAVFile{}).Duration(); got != 0 {
		t.Errorf("empty Duration() = %v", got)
	}
}

func TestWAVFileWindows(t *testing.T) {
	w := &WAVFile{Samples: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, SampleRate: testSampleRate}

	type call struct {
		win   []float32
		fresh int
	}
	var calls []call
	err := w.Windows(4, 3, func(win []float32, fresh int) error {
		calls = append(calls, call{slices.Clone(win), fresh})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []call{
		{[]float32{0, 1, 2, 3}, 3},
		{[]float32{3, 4, 5, 6}, 3},
		{[]float32{6, 7, 8, 9}, 3},
		{[]float32{7, 8, 9, 10}, 1},
	}
	if len(calls) != len(want) {
		t.Fatalf("got %d windows, want %d", len(calls), len(want))
	}
	for i := range want {
		if !slices.Equal(calls[i].win, want[i].win) || calls[i].fresh != want[i].fresh {
			t.Errorf("window %d = %v (fresh %d), want %v (fresh %d)",
				i, calls[i].win, calls[i].fresh, want[i].win, want[i].fresh)
		}
	}
}

func TestWAVFileWindowsStopsOnError(t *testing.T) {
	w := &WAVFile{Samples: make([]float32, 100), SampleRate: testSampleRate}
	stop := errors.New("stop")
	n := 0
	err := w.Windows(8, 10, func([]float32, int) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Errorf("err = %v after %d calls", err, n)
	}
	if err := w.Windows(0, 10, nil); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestWAVFilePlay(t *testing.T) {
	w := &WAVFile{Samples: []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, SampleRate: testSampleRate}

	for _, pace := range []bool{false, true} {
		sink := &captureSink{}
		if err := w.Play(context.Background(), sink, 3, pace); err != nil {
			t.Fatal(err)
		}
		if len(sink.blocks) != 4 || !slices.Equal(sink.blocks[3], []float32{10}) {
			t.Errorf("pace=%v: blocks = %v", pace, sink.blocks)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Play(ctx, &captureSink{}, 3, true); !errors.Is(err, context.Canceled) {
		t.Errorf("Play with cancelled context = %v", err)
	}
	if err := w.Play(context.Background(), &captureSink{}, 0, false); err == nil {
		t.Error("expected error for zero block size")
	}
}
