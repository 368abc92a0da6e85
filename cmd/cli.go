// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"colorchord/internal/config"
	"colorchord/internal/dft"
	"colorchord/internal/log"
	"colorchord/pkg/build"
)

// Commands selected by ParseArgs.
const (
	CommandRun     = ""
	CommandList    = "list"
	CommandAnalyze = "analyze"
	CommandVersion = "version"
)

// Options is the parsed command line: the merged configuration plus what to do
// with it.
type Options struct {
	Config      *config.Config
	Command     string
	File        string // WAV input for analyze.
	OutputFile  string // Recording path; empty picks a timestamped name.
	Headless    bool   // No TUI, log frames instead.
	Interactive bool   // Device picker for list.
	Realtime    bool   // Play analyze input at its natural speed.
}

type flagValues struct {
	configPath  string
	device      int
	channels    int
	sampleRate  float64
	frames      int
	lowLatency  bool
	record      bool
	verbose     bool
	transform   string
	octaves     int
	bins        int
	baseHz      float64
	gate        float64
	wsAddr      string
	udpTarget   string
	ringSize    int
	amplify     float64
	minNewValue float64
}

// ParseArgs parses args (without the program name). Configuration is loaded
// from the file named by --config, or the default locations, and flags the
// user set explicitly override it.
func ParseArgs(args []string) (*Options, error) {
	buildInfo := build.GetBuildFlags()
	options := &Options{}
	var fv flagValues

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(fv.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(cfg, cmd.Flags(), &fv); err != nil {
				return err
			}
			options.Config = cfg
			configureLogging(cfg)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandRun
			return nil
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandList
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&options.Interactive, "interactive", "i", false,
		"Pick a device and sample rate interactively")
	rootCmd.AddCommand(listCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Run a WAV file through the note finder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandAnalyze
			options.File = args[0]
			return nil
		},
	}
	analyzeCmd.Flags().BoolVar(&options.Realtime, "realtime", false,
		"Play the file at its natural speed and show the live view")
	rootCmd.AddCommand(analyzeCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		RunE: func(cmd *cobra.Command, args []string) error {
			options.Command = CommandVersion
			return nil
		},
	})

	defaults := config.Default()
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&fv.configPath, "config", "",
		"Configuration file (default: ./config.yaml or ./colorchord.yaml)")

	// Audio Device Configuration
	pf.IntVarP(&fv.device, "device", "d", defaults.Audio.InputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")
	pf.IntVarP(&fv.channels, "channels", "c", defaults.Audio.InputChannels,
		"Number of channels to capture, down-mixed to mono")
	pf.Float64VarP(&fv.sampleRate, "sample-rate", "s", defaults.Audio.SampleRate,
		"Sample rate, measured in Hertz (Hz)")
	pf.IntVarP(&fv.frames, "frames-per-buffer", "b", defaults.Audio.FramesPerBuffer,
		"The number of frames per buffer (affects latency)")
	pf.BoolVarP(&fv.lowLatency, "low-latency", "l", defaults.Audio.LowLatency,
		"Use low latency mode for real-time processing")
	pf.IntVar(&fv.ringSize, "window", defaults.Audio.RingSize,
		"Analysis window in samples")
	pf.Float64Var(&fv.gate, "gate", defaults.Audio.GateThreshold,
		"Noise gate RMS threshold, 0 disables")

	// Recording Configuration
	pf.BoolVarP(&fv.record, "record", "r", defaults.Recording.Enabled,
		"Record audio from the specified input device")
	pf.StringVarP(&options.OutputFile, "output", "o", "",
		"Recording file name. Default is colorchord_YYYYMMDD_HHMMSS.wav in the recording directory")

	// Note finder
	pf.StringVarP(&fv.transform, "transform", "t", defaults.NoteFinder.Transform.String(),
		"Transform strategy: quick, exact, fft, progressive or fixed32")
	pf.IntVar(&fv.octaves, "octaves", defaults.NoteFinder.Octaves, "Octaves analysed")
	pf.IntVar(&fv.bins, "bins", defaults.NoteFinder.FrequencyBins, "Frequency bins per octave")
	pf.Float64Var(&fv.baseHz, "base-hz", defaults.NoteFinder.BaseHz, "Lowest analysed frequency, 0 for 55 Hz")
	pf.Float64Var(&fv.amplify, "amplify", defaults.NoteFinder.Amplification, "Spectrum amplification")
	pf.Float64Var(&fv.minNewValue, "min-new", defaults.NoteFinder.NoteMinimumNewDistValue,
		"Minimum peak amplitude that starts a new note")

	// Outputs
	pf.StringVar(&fv.wsAddr, "ws-addr", "",
		"Serve note frames over WebSocket on this address (e.g. 127.0.0.1:8080)")
	pf.StringVar(&fv.udpTarget, "udp", "",
		"Send note packets over UDP to this address (e.g. 127.0.0.1:9090)")
	pf.BoolVar(&options.Headless, "headless", false, "Run without the terminal UI")

	// Debug Configuration
	pf.BoolVarP(&fv.verbose, "verbose", "v", false, "Show verbose output")

	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	if options.Config == nil {
		// --help or --version ran instead of a command.
		return nil, nil
	}
	return options, nil
}

// applyFlags copies explicitly set flags over cfg. Note finder parameters go
// through the validated setters so out-of-range values are rejected with
// *config.OutOfRangeError.
func applyFlags(cfg *config.Config, flags *pflag.FlagSet, fv *flagValues) error {
	changed := flags.Changed

	if changed("device") {
		cfg.Audio.InputDevice = fv.device
	}
	if changed("channels") {
		cfg.Audio.InputChannels = fv.channels
	}
	if changed("sample-rate") {
		cfg.Audio.SampleRate = fv.sampleRate
	}
	if changed("frames-per-buffer") {
		cfg.Audio.FramesPerBuffer = fv.frames
	}
	if changed("low-latency") {
		cfg.Audio.LowLatency = fv.lowLatency
	}
	if changed("window") {
		cfg.Audio.RingSize = fv.ringSize
	}
	if changed("gate") {
		cfg.Audio.GateThreshold = fv.gate
	}
	if changed("record") {
		cfg.Recording.Enabled = fv.record
	}
	if changed("ws-addr") {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = fv.wsAddr
	}
	if changed("udp") {
		cfg.Transport.UDPEnabled = true
		cfg.Transport.UDPTargetAddress = fv.udpTarget
	}
	if fv.verbose {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	settings, err := config.NewSettings(cfg.NoteFinder)
	if err != nil {
		return fmt.Errorf("notefinder: %w", err)
	}
	setters := []struct {
		flag string
		set  func() error
	}{
		{"transform", func() error {
			s, err := dft.ParseStrategy(fv.transform)
			if err != nil {
				return err
			}
			return settings.SelectTransformStrategy(s)
		}},
		{"octaves", func() error { return settings.SetOctaves(fv.octaves) }},
		{"bins", func() error { return settings.SetFrequencyBins(fv.bins) }},
		{"base-hz", func() error { return settings.SetBaseHz(fv.baseHz) }},
		{"amplify", func() error { return settings.SetAmplification(fv.amplify) }},
		{"min-new", func() error { return settings.SetNoteMinimumNewDistributionValue(fv.minNewValue) }},
	}
	for _, s := range setters {
		if !changed(s.flag) {
			continue
		}
		if err := s.set(); err != nil {
			return fmt.Errorf("--%s: %w", s.flag, err)
		}
	}
	cfg.NoteFinder = settings.Snapshot()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func configureLogging(cfg *config.Config) {
	level, _ := log.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = log.LevelDebug
	}
	log.SetLevel(level)
}
