// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"colorchord/internal/log"
)

// LoggingTransport implements the Transport interface by logging a summary of
// each message at debug level. Useful in headless runs without a visualiser.
type LoggingTransport struct {
	sent atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	log.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	lt.sent.Add(1)
	switch m := data.(type) {
	case FrameMessage:
		log.Debugf("LoggingTransport: frame %d, %d notes", m.Seq, len(m.Notes))
		for _, n := range m.Notes {
			log.Debugf("LoggingTransport:   note %d pitch %.3f intensity %.3f %s", n.ID, n.PitchClass, n.Intensity, n.Color)
		}
	default:
		log.Debugf("LoggingTransport: %T %+v", data, data)
	}
	return nil // Logging transport never fails to "send"
}

// Sent returns the number of messages received.
func (lt *LoggingTransport) Sent() uint64 { return lt.sent.Load() }

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	log.Debugf("LoggingTransport: Close called.")
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
