// SPDX-License-Identifier: MIT
/*
Package notefinder is the engine that turns a stream of mono samples into
tracked notes.

Three contexts are involved:

  - the producer (an audio callback or a file reader) calls PushSamples, which
    copies the block into the ring buffer and hands a linearised snapshot to
    the analysis goroutine without blocking;
  - Run consumes snapshots in arrival order and runs analysis, peak
    decomposition and tracking for each;
  - consumers read Latest, Notes and FoldedSpectrum, or Subscribe to a bounded
    channel of frames, and never hold up analysis.

Parameters live in the embedded Settings; a change is picked up at the start
of the next frame.
*/
package notefinder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"colorchord/internal/analysis"
	"colorchord/internal/config"
	"colorchord/internal/dft"
	"colorchord/internal/log"
	"colorchord/internal/notes"
	"colorchord/internal/ring"
)

// Defaults for New.
const (
	DefaultRingSize   = 8192
	DefaultQueueDepth = 4
)

// Frame is the result of one analysis pass. Frames are immutable once
// published and may be shared between consumers.
type Frame struct {
	Seq           uint64
	Time          time.Time
	Strategy      dft.Strategy
	Bins          int
	Folded        []float64
	Distributions []notes.Distribution
	Notes         []notes.Note
}

// ActiveNotes returns the notes of f with a non-zero output amplitude.
func (f *Frame) ActiveNotes() []notes.Note {
	out := make([]notes.Note, 0, len(f.Notes))
	for _, n := range f.Notes {
		if n.Active {
			out = append(out, n)
		}
	}
	return out
}

type snapshot struct {
	samples []float32
	fresh   int
}

type options struct {
	ringSize   int
	queueDepth int
	params     config.Params
}

// Option configures a NoteFinder.
type Option func(*options)

// WithRingSize sets the analysis window in samples.
func WithRingSize(n int) Option {
	return func(o *options) { o.ringSize = n }
}

// WithQueueDepth sets how many snapshots may wait for the analyzer before new
// ones are dropped.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}

// WithParams sets the initial parameters.
func WithParams(p config.Params) Option {
	return func(o *options) { o.params = p }
}

// NoteFinder owns the ring buffer, the analysis state and the tracked notes
// for one stream at a fixed sample rate. The embedded Settings exposes one
// validated setter per parameter.
type NoteFinder struct {
	*config.Settings

	sampleRate float64

	// Producer side. PushSamples must be called from one goroutine at a time.
	ring    *ring.Buffer
	pending int
	free    chan []float32
	queue   chan snapshot

	// Analysis side, guarded by procMu so that Process and Run do not overlap.
	procMu     sync.Mutex
	analyzer   *analysis.Analyzer
	decomposer *notes.Decomposer
	tracker    *notes.Tracker
	dists      []notes.Distribution
	seq        uint64

	latest atomic.Pointer[Frame]

	subMu   sync.RWMutex
	subs    map[chan *Frame]struct{}
	stopped bool

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a note finder for audio at sampleRate Hz.
func New(sampleRate float64, opts ...Option) (*NoteFinder, error) {
	o := options{
		ringSize:   DefaultRingSize,
		queueDepth: DefaultQueueDepth,
		params:     config.DefaultParams(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ringSize < 2 {
		return nil, fmt.Errorf("ring size must be at least 2, got %d", o.ringSize)
	}
	if o.queueDepth < 1 {
		return nil, fmt.Errorf("queue depth must be at least 1, got %d", o.queueDepth)
	}

	settings, err := config.NewSettings(o.params)
	if err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	analyzer, err := analysis.NewAnalyzer(sampleRate)
	if err != nil {
		return nil, err
	}

	// Every buffer is either free, queued or being analysed, so the pool
	// never needs to grow.
	poolSize := o.queueDepth + 1
	free := make(chan []float32, poolSize)
	for range poolSize {
		free <- make([]float32, o.ringSize)
	}

	log.Infof("NoteFinder: %.0f Hz, window %d samples, queue depth %d, transform %s",
		sampleRate, o.ringSize, o.queueDepth, o.params.Transform)

	return &NoteFinder{
		Settings:   settings,
		sampleRate: sampleRate,
		ring:       ring.New(o.ringSize),
		free:       free,
		queue:      make(chan snapshot, o.queueDepth),
		analyzer:   analyzer,
		decomposer: notes.NewDecomposer(),
		tracker:    notes.NewTracker(o.params.FrequencyBins),
		subs:       make(map[chan *Frame]struct{}),
	}, nil
}

// SampleRate returns the sample rate fixed at construction.
func (nf *NoteFinder) SampleRate() float64 { return nf.sampleRate }

// WindowSize returns the ring buffer capacity in samples.
func (nf *NoteFinder) WindowSize() int { return nf.ring.Cap() }

// PushSamples feeds one block of mono samples. It never blocks and never
// allocates: when the analyzer lags the snapshot is dropped and the samples
// only live on in the ring buffer. Returns false when a snapshot was dropped.
func (nf *NoteFinder) PushSamples(block []float32) bool {
	nf.ring.Write(block)
	nf.pending += len(block)

	var buf []float32
	select {
	case buf = <-nf.free:
	default:
		nf.dropped.Add(1)
		return false
	}

	buf = nf.ring.ReadLinearized(buf)
	fresh := min(nf.pending, len(buf))

	select {
	case nf.queue <- snapshot{samples: buf, fresh: fresh}:
		nf.pending = 0
		return true
	default:
		nf.free <- buf
		nf.dropped.Add(1)
		return false
	}
}

// Run analyses queued snapshots until ctx is cancelled. Subscriber channels
// are closed when Run returns.
func (nf *NoteFinder) Run(ctx context.Context) error {
	defer nf.closeSubscribers()
	log.Debugf("NoteFinder: Analysis loop started")

	for {
		select {
		case <-ctx.Done():
			log.Debugf("NoteFinder: Analysis loop stopped")
			return nil
		case snap := <-nf.queue:
			if _, err := nf.Process(snap.samples, snap.fresh); err != nil {
				log.Errorf("NoteFinder: Frame dropped: %v", err)
			}
			nf.free <- snap.samples
		}
	}
}

// Process runs one frame synchronously on samples (oldest first, the last
// fresh of them new) and publishes the result.
func (nf *NoteFinder) Process(samples []float32, fresh int) (*Frame, error) {
	nf.procMu.Lock()
	defer nf.procMu.Unlock()

	p := nf.Snapshot()
	folded, err := nf.analyzer.Process(samples, fresh, p)
	if err != nil {
		return nil, err
	}
	nf.dists = nf.decomposer.Decompose(nf.dists, folded, p)
	nf.tracker.Update(nf.dists, p)

	nf.seq++
	frame := &Frame{
		Seq:           nf.seq,
		Time:          time.Now(),
		Strategy:      p.Transform,
		Bins:          p.FrequencyBins,
		Folded:        append([]float64(nil), folded...),
		Distributions: append([]notes.Distribution(nil), nf.dists...),
		Notes:         nf.tracker.Notes(nil),
	}
	nf.publish(frame)
	return frame, nil
}

func (nf *NoteFinder) publish(frame *Frame) {
	nf.latest.Store(frame)
	nf.frames.Add(1)

	nf.subMu.RLock()
	defer nf.subMu.RUnlock()
	for ch := range nf.subs {
		select {
		case ch <- frame:
		default:
			// Slow consumer, it will catch up with a later frame.
		}
	}
}

// Latest returns the most recent frame, or nil before the first one.
func (nf *NoteFinder) Latest() *Frame {
	return nf.latest.Load()
}

// Notes returns the notes of the latest frame. The slice is shared, do not
// modify it.
func (nf *NoteFinder) Notes() []notes.Note {
	if f := nf.Latest(); f != nil {
		return f.Notes
	}
	return nil
}

// FoldedSpectrum returns the folded spectrum of the latest frame, or zeros of
// the configured width before the first frame. The slice is shared, do not
// modify it.
func (nf *NoteFinder) FoldedSpectrum() []float64 {
	if f := nf.Latest(); f != nil {
		return f.Folded
	}
	return make([]float64, nf.Snapshot().FrequencyBins)
}

// Subscribe returns a channel receiving every frame the consumer keeps up
// with, buffered by n. Frames are skipped rather than queued when the buffer
// is full. cancel detaches and closes the channel.
func (nf *NoteFinder) Subscribe(n int) (frames <-chan *Frame, cancel func()) {
	ch := make(chan *Frame, max(1, n))

	nf.subMu.Lock()
	if nf.stopped {
		close(ch)
		nf.subMu.Unlock()
		return ch, func() {}
	}
	nf.subs[ch] = struct{}{}
	nf.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			nf.subMu.Lock()
			defer nf.subMu.Unlock()
			if _, ok := nf.subs[ch]; ok {
				delete(nf.subs, ch)
				close(ch)
			}
		})
	}
}

func (nf *NoteFinder) closeSubscribers() {
	nf.subMu.Lock()
	defer nf.subMu.Unlock()
	nf.stopped = true
	for ch := range nf.subs {
		delete(nf.subs, ch)
		close(ch)
	}
}

// Frames returns the number of frames analysed.
func (nf *NoteFinder) Frames() uint64 { return nf.frames.Load() }

// Dropped returns the number of snapshots dropped because the analyzer lagged.
func (nf *NoteFinder) Dropped() uint64 { return nf.dropped.Load() }

// Reset clears the analysis state and all notes. The ring buffer belongs to
// the producer and is left alone.
func (nf *NoteFinder) Reset() {
	nf.procMu.Lock()
	defer nf.procMu.Unlock()
	nf.analyzer.Reset()
	nf.tracker.Reset()
}
