// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"colorchord/cmd"
	"colorchord/internal/audio"
	"colorchord/internal/config"
	"colorchord/internal/hue"
	"colorchord/internal/log"
	"colorchord/internal/notefinder"
	"colorchord/internal/transport"
	"colorchord/internal/transport/udp"
	"colorchord/internal/tui"
	"colorchord/pkg/build"
)

// logFile receives log output while a TUI owns the terminal.
const logFile = "colorchord.log"

// main is the entry point. The program flow is divided into three phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Parse command line arguments and configuration
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - PortAudio callback feeding the note finder
//   - Analysis loop
//   - Visualiser outputs and the terminal UI
//
// 3. Shutdown Phase (Cold Path):
//   - Cancelled by a signal or by quitting the UI
//   - Stop capture and recording, close outputs
func main() {
	if err := build.Initialize(); err != nil {
		log.Fatalf("%v", err)
	}

	opts, err := cmd.ParseArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	if opts == nil {
		return // Help or version flag.
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, opts *cmd.Options) error {
	switch opts.Command {
	case cmd.CommandVersion:
		fmt.Println(build.GetBuildFlags())
		return nil
	case cmd.CommandList:
		return listDevices(opts)
	case cmd.CommandAnalyze:
		if opts.Realtime {
			return playFile(ctx, opts)
		}
		return analyzeFile(opts)
	default:
		return capture(ctx, opts)
	}
}

func listDevices(opts *cmd.Options) error {
	if opts.Interactive {
		sel, err := tui.StartDeviceListUI()
		if err != nil || sel == nil {
			return err
		}
		fmt.Printf("Selected [%d] %s at %.0f Hz\nRun with: %s -d %d -s %.0f\n",
			sel.Device.ID, sel.Device.Name, sel.SampleRate,
			build.GetBuildFlags().Name, sel.Device.ID, sel.SampleRate)
		return nil
	}

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()
	return audio.ListDevices(os.Stdout)
}

func newNoteFinder(cfg *config.Config, sampleRate float64) (*notefinder.NoteFinder, error) {
	return notefinder.New(sampleRate,
		notefinder.WithRingSize(cfg.Audio.RingSize),
		notefinder.WithQueueDepth(cfg.Audio.QueueDepth),
		notefinder.WithParams(cfg.NoteFinder),
	)
}

// capture runs the live pipeline until ctx is cancelled or the UI quits.
func capture(ctx context.Context, opts *cmd.Options) error {
	cfg := opts.Config

	if err := audio.Initialize(); err != nil {
		return err
	}
	defer audio.Terminate()

	nf, err := newNoteFinder(cfg, cfg.Audio.SampleRate)
	if err != nil {
		return err
	}
	engine, err := audio.NewEngine(cfg.Audio, nf)
	if err != nil {
		return err
	}

	return serve(ctx, opts, nf, func(ctx context.Context) error {
		// CRITICAL: Start of real-time audio processing.
		if err := engine.StartInputStream(); err != nil {
			return err
		}
		if cfg.Recording.Enabled {
			if err := startRecording(engine, opts); err != nil {
				engine.Close()
				return err
			}
		}

		<-ctx.Done()

		if engine.IsRecording() {
			log.Infof("Recording: Saved")
		}
		log.Infof("Audio: %d blocks captured, %d gated", engine.Blocks(), engine.Gated())
		return engine.Close()
	})
}

func startRecording(engine *audio.Engine, opts *cmd.Options) error {
	rec := opts.Config.Recording
	filename := opts.OutputFile
	if filename == "" {
		var err error
		filename, err = audio.RecordingFilename(rec.OutputDir, time.Now())
		if err != nil {
			return err
		}
	}
	return engine.StartRecording(filename, rec.BitDepth, time.Duration(rec.MaxDuration)*time.Second)
}

// playFile feeds a WAV file through the live pipeline at its natural speed.
func playFile(ctx context.Context, opts *cmd.Options) error {
	w, err := audio.LoadWAV(opts.File)
	if err != nil {
		return err
	}
	nf, err := newNoteFinder(opts.Config, w.SampleRate)
	if err != nil {
		return err
	}
	log.Infof("Analyze: %s, %.0f Hz, %d channel(s), %s", opts.File, w.SampleRate, w.Channels, w.Duration())

	return serve(ctx, opts, nf, func(ctx context.Context) error {
		err := w.Play(ctx, nf, opts.Config.Audio.FramesPerBuffer, true)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err == nil && opts.Headless {
			return errDone
		}
		<-ctx.Done()
		return err
	})
}

var errDone = errors.New("done")

// serve runs the analysis loop, the configured outputs, the UI and produce
// under one errgroup. Any of them finishing with an error, or the UI quitting,
// cancels the others.
func serve(parent context.Context, opts *cmd.Options, nf *notefinder.NoteFinder, produce func(context.Context) error) error {
	cfg := opts.Config

	// Outputs are opened before anything runs so a bad address fails fast.
	var outputs []transport.Transport
	if cfg.Transport.WebSocketEnabled {
		wst, err := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddress)
		if err != nil {
			return err
		}
		outputs = append(outputs, wst)
	}
	if opts.Headless {
		outputs = append(outputs, transport.NewLoggingTransport())
	}

	var publisher *udp.UDPPublisher
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			closeAll(outputs)
			return err
		}
		publisher, err = udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender, nf, nf)
		if err != nil {
			sender.Close()
			closeAll(outputs)
			return err
		}
		defer sender.Close()
	}

	if !opts.Headless {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			closeAll(outputs)
			return err
		}
		defer f.Close()
		log.SetOutput(f)
		defer log.SetOutput(os.Stderr)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return nf.Run(ctx) })
	g.Go(func() error { return produce(ctx) })

	for _, t := range outputs {
		relay(ctx, g, nf, t)
	}
	if publisher != nil {
		publisher.Start()
		g.Go(func() error {
			<-ctx.Done()
			return publisher.Stop()
		})
	}

	if !opts.Headless {
		g.Go(func() error {
			err := tui.StartNoteUI(nf)
			cancel()
			return err
		})
	}

	err := g.Wait()
	if errors.Is(err, errDone) {
		err = nil
	}
	log.Infof("NoteFinder: %d frames analysed, %d snapshots dropped", nf.Frames(), nf.Dropped())
	return err
}

func closeAll(ts []transport.Transport) {
	for _, t := range ts {
		t.Close()
	}
}

// relay forwards frames to t until ctx ends, then closes t.
func relay(ctx context.Context, g *errgroup.Group, nf *notefinder.NoteFinder, t transport.Transport) {
	frames, unsubscribe := nf.Subscribe(8)
	g.Go(func() error {
		defer t.Close()
		defer unsubscribe()
		return transport.Relay(ctx, frames, nf, t)
	})
}

// analyzeFile runs a WAV file through the note finder as fast as possible
// and prints the notes of every frame that has any.
func analyzeFile(opts *cmd.Options) error {
	cfg := opts.Config
	w, err := audio.LoadWAV(opts.File)
	if err != nil {
		return err
	}
	nf, err := newNoteFinder(cfg, w.SampleRate)
	if err != nil {
		return err
	}

	block := cfg.Audio.FramesPerBuffer
	var pos int
	err = w.Windows(cfg.Audio.RingSize, block, func(win []float32, fresh int) error {
		pos += fresh
		f, err := nf.Process(win, fresh)
		if err != nil {
			return err
		}
		active := f.ActiveNotes()
		if len(active) == 0 {
			return nil
		}

		p := nf.Snapshot()
		var sb strings.Builder
		fmt.Fprintf(&sb, "%8.3fs", float64(pos)/w.SampleRate)
		for _, n := range active {
			intensity := transport.Intensity(n.AmplitudeOut, p)
			fmt.Fprintf(&sb, "  %-2s %.3f %s", tui.NoteName(n.PitchClass, p.EffectiveBaseHz()),
				intensity, hue.PitchToHex(n.PitchClass, 1, intensity))
		}
		fmt.Println(sb.String())
		return nil
	})
	if err != nil {
		return err
	}

	log.Infof("Analyze: %d frames from %s (%s)", nf.Frames(), opts.File, w.Duration())
	return nil
}
