// SPDX-License-Identifier: MIT
//
// Package transport pushes note frames to visualisers.
package transport

import (
	"context"

	"colorchord/internal/config"
	"colorchord/internal/log"
	"colorchord/internal/notefinder"
)

// Transport defines a generic interface for sending processed data or events.
// Implementations should be thread-safe and must not block the caller for
// long.
type Transport interface {
	Send(data any) error
	Close() error
}

// FrameSource provides the most recent analysis frame.
type FrameSource interface {
	Latest() *notefinder.Frame
}

// ParamSource provides the parameters that shape presentation.
type ParamSource interface {
	Snapshot() config.Params
}

// Relay forwards every frame received on frames to t as a FrameMessage until
// ctx is cancelled or frames is closed. Send errors are logged and do not
// stop the relay.
func Relay(ctx context.Context, frames <-chan *notefinder.Frame, params ParamSource, t Transport) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := t.Send(NewFrameMessage(f, params.Snapshot())); err != nil {
				log.Debugf("Relay: Send failed: %v", err)
			}
		}
	}
}
