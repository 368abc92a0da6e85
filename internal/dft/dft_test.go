// SPDX-License-Identifier: MIT
package dft

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"colorchord/pkg/utils"
)

const (
	testSampleRate = 48000
	testWindow     = 8192
	testAmplitude  = 0.5
)

func testRequest(freqs ...float64) Request {
	return Request{
		Frequencies: freqs,
		SampleRate:  testSampleRate,
		Q:           16,
		Speedup:     300,
		Fresh:       1024,
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    Strategy
		wantErr bool
	}{
		{"quick", Quick, false},
		{"QUICK", Quick, false},
		{"", Quick, false},
		{"exact", Exact, false},
		{"fft", FFT, false},
		{"Progressive", Progressive, false},
		{"fixed32", Fixed32, false},
		{"integer", Fixed32, false},
		{"wavelet", DefaultStrategy, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseStrategy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStrategy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnknownStrategy) {
				t.Errorf("expected ErrUnknownStrategy, got %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseStrategy(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStrategyTextRoundTrip(t *testing.T) {
	for _, s := range Strategies() {
		text, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v): %v", s, err)
		}
		var back Strategy
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q): %v", text, err)
		}
		if back != s {
			t.Errorf("round trip %v -> %q -> %v", s, text, back)
		}
	}

	if _, err := Strategy(42).MarshalText(); err == nil {
		t.Error("expected error marshalling an unknown strategy")
	}
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	if _, err := New(Strategy(-1)); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("New(-1) error = %v, want ErrUnknownStrategy", err)
	}
	for _, s := range Strategies() {
		k, err := New(s)
		if err != nil {
			t.Fatalf("New(%v): %v", s, err)
		}
		if k.Strategy() != s {
			t.Errorf("kernel reports %v, want %v", k.Strategy(), s)
		}
	}
}

// TestKernelsEstimateAmplitude checks the shared contract: a sine of amplitude
// A reads as roughly A at its own frequency and as little elsewhere.
func TestKernelsEstimateAmplitude(t *testing.T) {
	tests := []struct {
		strategy  Strategy
		tolerance float64 // relative, at the tone frequency
	}{
		{Exact, 0.03},
		{Quick, 0.08},
		{FFT, 0.10},
		{Progressive, 0.05},
		{Fixed32, 0.06},
	}

	samples := utils.GenerateSineWave(testWindow, testSampleRate, 440, testAmplitude)

	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			k, err := New(tt.strategy)
			if err != nil {
				t.Fatal(err)
			}
			out := make([]float64, 2)
			k.Transform(out, samples, testRequest(440, 880))

			if rel := math.Abs(out[0]-testAmplitude) / testAmplitude; rel > tt.tolerance {
				t.Errorf("amplitude at 440 Hz = %.4f, want %.2f ±%.0f%%", out[0], testAmplitude, tt.tolerance*100)
			}
			if out[1] > 0.1*testAmplitude {
				t.Errorf("leakage at 880 Hz = %.4f, want < %.3f", out[1], 0.1*testAmplitude)
			}
		})
	}
}

func TestKernelsIgnoreInaudibleFrequencies(t *testing.T) {
	samples := utils.GenerateSineWave(testWindow, testSampleRate, 440, testAmplitude)

	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			k, _ := New(s)
			out := []float64{-1, -1, -1}
			k.Transform(out, samples, testRequest(0, testSampleRate/2, 30000))
			for i, v := range out {
				if v != 0 {
					t.Errorf("out[%d] = %f, want 0", i, v)
				}
			}
		})
	}
}

func TestKernelsSilenceIsZero(t *testing.T) {
	samples := utils.Silence(testWindow)
	freqs := []float64{55, 110, 220, 440, 880, 1760}

	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			k, _ := New(s)
			out := make([]float64, len(freqs))
			k.Transform(out, samples, testRequest(freqs...))
			for i, v := range out {
				if v != 0 {
					t.Errorf("out[%d] = %g, want 0 for silence", i, v)
				}
			}
		})
	}
}

func TestKernelsHandleShortInput(t *testing.T) {
	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			k, _ := New(s)
			out := make([]float64, 1)
			k.Transform(out, nil, testRequest(440))
			k.Transform(out, []float32{0.5}, testRequest(440))
			if out[0] < 0 || math.IsNaN(out[0]) {
				t.Errorf("out = %f, want finite non-negative", out[0])
			}
		})
	}
}

// TestProgressiveKernelsDecayAfterTone feeds silence as fresh blocks and
// expects the streaming accumulators to leak away.
func TestProgressiveKernelsDecayAfterTone(t *testing.T) {
	for _, s := range []Strategy{Progressive, Fixed32} {
		t.Run(s.String(), func(t *testing.T) {
			k, _ := New(s)
			out := make([]float64, 1)
			req := testRequest(440)

			k.Transform(out, utils.GenerateSineWave(testWindow, testSampleRate, 440, testAmplitude), req)
			loud := out[0]

			silence := utils.Silence(testWindow)
			for range 16 {
				k.Transform(out, silence, req)
			}
			if out[0] > loud*0.01 {
				t.Errorf("amplitude after silence = %f, want < 1%% of %f", out[0], loud)
			}

			k.Reset()
			k.Transform(out, silence, req)
			if out[0] != 0 {
				t.Errorf("amplitude after reset on silence = %f, want 0", out[0])
			}
		})
	}
}

// TestKernelsLeakageFloor reads a tone across two octaves and checks the
// frequencies a third of an octave or more away. A rectangular window leaves
// about 8% of the amplitude there, enough for the decomposer to report extra
// notes.
func TestKernelsLeakageFloor(t *testing.T) {
	const far = 8 // Bins at 24 per octave.
	for _, tone := range []float64{98, 440, 503.68, 3000} {
		freqs := make([]float64, 0, 49)
		for k := -24; k <= 24; k++ {
			freqs = append(freqs, tone*math.Pow(2, float64(k)/24))
		}
		samples := utils.GenerateSineWave(testWindow, testSampleRate, tone, testAmplitude)

		for _, s := range Strategies() {
			t.Run(fmt.Sprintf("%s/%gHz", s, tone), func(t *testing.T) {
				k, _ := New(s)
				out := make([]float64, len(freqs))
				k.Transform(out, samples, testRequest(freqs...))
				for i, v := range out {
					if i > 24-far && i < 24+far {
						continue
					}
					if v > 0.03*testAmplitude {
						t.Errorf("%.1f Hz reads %.4f, want < %.4f", freqs[i], v, 0.03*testAmplitude)
					}
				}
			})
		}
	}
}

// TestStreamingKernelsMatchExact feeds a continuous tone block by block, past
// the point where the float32 sums are recomputed, and compares every frame
// with the exact kernel on the same window.
func TestStreamingKernelsMatchExact(t *testing.T) {
	const block = 1024
	freqs := []float64{110, 220, 415.3, 440, 466.16, 880, 3520}
	req := testRequest(freqs...)
	req.Fresh = block

	for _, s := range []Strategy{Progressive, Fixed32} {
		t.Run(s.String(), func(t *testing.T) {
			k, _ := New(s)
			exact, _ := New(Exact)
			got := make([]float64, len(freqs))
			want := make([]float64, len(freqs))

			for frame := range 3 * reprimeEvery / 2 {
				offset := frame*block - testWindow
				samples := utils.GenerateSineWaveAt(offset, testWindow, testSampleRate, 440, testAmplitude)
				k.Transform(got, samples, req)
				exact.Transform(want, samples, req)
				for i := range freqs {
					if math.Abs(got[i]-want[i]) > 0.01 {
						t.Fatalf("frame %d: %.2f Hz = %.4f, exact %.4f", frame, freqs[i], got[i], want[i])
					}
				}
			}
		})
	}
}

func TestKernelsHotPath(t *testing.T) {
	samples := utils.GenerateSineWave(testWindow, testSampleRate, 440, testAmplitude)
	out := make([]float64, 4)
	req := testRequest(110, 220, 440, 880)

	for _, s := range Strategies() {
		t.Run(s.String(), func(t *testing.T) {
			k, _ := New(s)
			// Warm-up call allocates the workspace.
			k.Transform(out, samples, req)
			allocs := testing.AllocsPerRun(20, func() {
				k.Transform(out, samples, req)
			})

			if allocs > 0 {
				t.Errorf("Expected zero allocations in %s transform hot path, got %.1f", s, allocs)
			}
		})
	}
}

func BenchmarkTransform(b *testing.B) {
	samples := utils.GenerateSineWave(testWindow, testSampleRate, 440, testAmplitude)
	freqs := make([]float64, 5*24)
	for i := range freqs {
		freqs[i] = 55 * math.Pow(2, float64(i)/24)
	}

	for _, s := range Strategies() {
		b.Run(s.String(), func(b *testing.B) {
			k, _ := New(s)
			out := make([]float64, len(freqs))
			req := testRequest(freqs...)

			b.ReportAllocs()
			b.ResetTimer()

			for b.Loop() {
				k.Transform(out, samples, req)
			}
		})
	}
}
