// SPDX-License-Identifier: MIT
/*
Package audio captures sound and hands it to the note finder:
- Capture through PortAudio with float32 samples
- Mono down-mix of multi-channel input
- RMS noise gate that silences quiet blocks instead of skipping them
- WAV recording of the raw input
- WAV file playback for offline analysis

Thread Safety:
- The capture callback only touches pre-allocated buffers
- Gate settings and the active recorder are swapped atomically
- A recording that hits its limit is closed on its own goroutine
- Locks OS thread during audio processing
*/
package audio

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"colorchord/internal/config"
	"colorchord/internal/log"

	"github.com/gordonklaus/portaudio"
)

// SampleSink receives mono blocks from the capture callback. PushSamples must
// not block.
type SampleSink interface {
	PushSamples(block []float32) bool
}

type Engine struct {
	// Core configuration and state.
	config config.AudioConfig
	sink   SampleSink

	// Audio input handling.
	inputBuffer  []float32 // Interleaved copy of the callback buffer
	monoBuffer   []float32
	inputDevice  *portaudio.DeviceInfo
	inputLatency time.Duration
	inputStream  *portaudio.Stream

	// Noise gate for signal conditioning.
	gateEnabled   atomic.Bool
	gateThreshold atomic.Uint64 // math.Float64bits of the RMS threshold

	recorder  atomic.Pointer[Recorder]
	finishing sync.WaitGroup // Recorders closed off the capture thread.

	blocks atomic.Uint64
	gated  atomic.Uint64
}

// NewEngine resolves the configured input device and prepares buffers. The
// stream is not opened until StartInputStream.
func NewEngine(cfg config.AudioConfig, sink SampleSink) (*Engine, error) {
	if sink == nil {
		return nil, fmt.Errorf("audio engine needs a sample sink")
	}
	inputDevice, err := InputDevice(cfg.InputDevice)
	if err != nil {
		return nil, err
	}
	if cfg.InputChannels > inputDevice.MaxInputChannels {
		return nil, fmt.Errorf("device %s has %d input channels, %d requested",
			inputDevice.Name, inputDevice.MaxInputChannels, cfg.InputChannels)
	}

	engine := newEngine(cfg, sink)
	engine.inputDevice = inputDevice
	if cfg.LowLatency {
		engine.inputLatency = inputDevice.DefaultLowInputLatency
	} else {
		engine.inputLatency = inputDevice.DefaultHighInputLatency
	}
	return engine, nil
}

func newEngine(cfg config.AudioConfig, sink SampleSink) *Engine {
	cfg.InputChannels = max(1, cfg.InputChannels)
	e := &Engine{
		config:      cfg,
		sink:        sink,
		inputBuffer: make([]float32, cfg.FramesPerBuffer*cfg.InputChannels),
		monoBuffer:  make([]float32, cfg.FramesPerBuffer),
	}
	e.SetGateThreshold(cfg.GateThreshold)
	if cfg.GateThreshold > 0 {
		e.EnableGate()
	}
	return e
}

func (e *Engine) StartInputStream() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: e.config.InputChannels,
			Device:   e.inputDevice,
			Latency:  e.inputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: e.config.FramesPerBuffer,
		SampleRate:      e.config.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInputStream)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	e.inputStream = stream

	if err := e.inputStream.Start(); err != nil {
		e.inputStream.Close()
		e.inputStream = nil
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	log.Infof("Audio: Capturing from %s at %.0f Hz, %d channel(s), %d frames per buffer",
		e.inputDevice.Name, e.config.SampleRate, e.config.InputChannels, e.config.FramesPerBuffer)
	return nil
}

func (e *Engine) StopInputStream() error {
	if e.inputStream != nil {
		if err := e.inputStream.Stop(); err != nil {
			return err
		}

		if err := e.inputStream.Close(); err != nil {
			return err
		}

		e.inputStream = nil
	}

	return nil
}

// processInputStream is the capture callback.
// Performance Critical:
// - Runs in a dedicated OS thread (LockOSThread)
// - Uses pre-allocated buffers only
// - No dynamic allocations in the hot path
func (e *Engine) processInputStream(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	n := copy(e.inputBuffer, in)

	if r := e.recorder.Load(); r != nil {
		if err := r.Write(e.inputBuffer[:n]); err != nil && e.recorder.CompareAndSwap(r, nil) {
			// Finalising the WAV header is file I/O, keep it off this thread.
			e.finishing.Add(1)
			go e.finishRecording(r, err)
		}
	}

	e.processBuffer(e.inputBuffer[:n])
}

// finishRecording closes a recorder the capture callback dropped after err.
func (e *Engine) finishRecording(r *Recorder, err error) {
	defer e.finishing.Done()

	if errors.Is(err, ErrRecordingLimit) {
		log.Infof("Audio: Recording finished after %d frames", r.Frames())
	} else {
		log.Errorf("Audio: Recording stopped: %v", err)
	}
	if err := r.Close(); err != nil {
		log.Errorf("Audio: Failed to finalise recording: %v", err)
	}
}

// processBuffer down-mixes, gates and forwards one interleaved block.
// Performance Critical (Hot Path):
// - No allocations
func (e *Engine) processBuffer(buffer []float32) {
	mono := downmix(e.monoBuffer, buffer, e.config.InputChannels)

	e.blocks.Add(1)
	if e.gateEnabled.Load() && rms(mono) < e.GetGateThreshold() {
		// Silence keeps the analysis clock running so held notes decay.
		clear(mono)
		e.gated.Add(1)
	}

	e.sink.PushSamples(mono)
}

// downmix averages interleaved channels into dst and returns the used part.
func downmix(dst, interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		n := copy(dst, interleaved)
		return dst[:n]
	}

	frames := min(len(interleaved)/channels, len(dst))
	scale := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for _, s := range interleaved[i*channels : (i+1)*channels] {
			sum += s
		}
		dst[i] = sum * scale
	}
	return dst[:frames]
}

func rms(block []float32) float64 {
	if len(block) == 0 {
		return 0
	}
	var sum float64
	for _, s := range block {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(block)))
}

// Blocks returns the number of blocks captured.
func (e *Engine) Blocks() uint64 { return e.blocks.Load() }

// Gated returns the number of blocks silenced by the gate.
func (e *Engine) Gated() uint64 { return e.gated.Load() }

func (e *Engine) Close() error {
	if err := e.StopRecording(); err != nil {
		return err
	}

	return e.StopInputStream()
}
