// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"colorchord/internal/hue"
	"colorchord/internal/log"
	"colorchord/internal/notefinder"
	"colorchord/internal/transport"
)

// UDPPublisher periodically fetches the latest note frame, packs it into the
// binary format described in packet.go and sends it over UDP using a
// UDPSender. It runs in a separate goroutine managed by Start and Stop.
type UDPPublisher struct {
	sender   *UDPSender            // The underlying UDP sender instance.
	source   transport.FrameSource // Where frames come from.
	params   transport.ParamSource // Presentation parameters.
	interval time.Duration         // The interval at which packets are sent.

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	sequenceNum uint32 // Monotonically increasing sequence number for packets.

	// Reused between packets.
	notes        []Note
	folded       []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to 16ms (~60Hz).
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source transport.FrameSource, params transport.ParamSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil || params == nil {
		return nil, fmt.Errorf("UDPPublisher: frame and parameter sources cannot be nil")
	}

	if interval <= 0 {
		interval = 16 * time.Millisecond // Default to ~60Hz if invalid
		log.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}
	log.Infof("UDPPublisher: Initializing (Interval: %s, Target: %s)", interval, sender.Target())

	return &UDPPublisher{
		sender:       sender,
		source:       source,
		params:       params,
		interval:     interval,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		log.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{} // Reset stopOnce for this run

	// Local copies so the goroutine does not race Stop.
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		log.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				log.Debugf("UDPPublisher: Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop gracefully signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		log.Debugf("UDPPublisher: Stop called but not running.")
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	log.Debugf("UDPPublisher: Publisher goroutine finished.")
	return nil
}

// buildPacket packs f into the reusable packet buffer.
func (p *UDPPublisher) buildPacket(f *notefinder.Frame) ([]byte, error) {
	params := p.params.Snapshot()

	p.notes = p.notes[:0]
	for _, n := range f.Notes {
		if !n.Active {
			continue
		}
		intensity := transport.Intensity(n.AmplitudeOut, params)
		p.notes = append(p.notes, Note{
			ID:         uint32(n.ID),
			PitchClass: float32(n.PitchClass),
			Intensity:  float32(intensity),
			RGB:        hue.PitchToRGB24(n.PitchClass, 1, intensity),
		})
	}

	p.folded = p.folded[:0]
	for _, v := range f.Folded {
		p.folded = append(p.folded, float32(v))
	}

	p.sequenceNum++
	h := Header{
		Sequence:  p.sequenceNum,
		Timestamp: time.Now().UnixNano(),
		Bins:      uint16(len(p.folded)),
		NoteCount: uint16(len(p.notes)),
	}
	if err := encode(p.packetBuffer, h, p.notes, p.folded); err != nil {
		return nil, err
	}
	return p.packetBuffer.Bytes(), nil
}

// buildAndSendPacket runs on every tick. Nothing is sent before the first
// frame exists.
func (p *UDPPublisher) buildAndSendPacket() {
	f := p.source.Latest()
	if f == nil {
		return
	}

	packet, err := p.buildPacket(f)
	if err != nil {
		log.Errorf("UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}

	if err := p.sender.Send(packet); err == nil {
		log.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packet))
	}
}

// Close implements the io.Closer interface. It gracefully stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

// Ensure UDPPublisher satisfies the io.Closer interface at compile time.
var _ interface{ Close() error } = (*UDPPublisher)(nil)
