// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Bin Count         | uint16         | 2            | Folded bins (B)         |
| Note Count        | uint16         | 2            | Active notes (N)        |
| Notes             | []Note         | N * 16       | See below               |
| Folded Spectrum   | []float32      | B * 4        | One octave of energy    |
+-----------------------------------------------------------------------------+

Each note is ID (uint32), pitch class (float32, octaves in [0, 1)),
intensity (float32, [0, 1]) and colour (uint32, 0x00RRGGBB).
*/

// Header is the fixed part of a packet.
type Header struct {
	Sequence  uint32
	Timestamp int64
	Bins      uint16
	NoteCount uint16
}

// Note is the wire form of one active note.
type Note struct {
	ID         uint32
	PitchClass float32
	Intensity  float32
	RGB        uint32
}

const (
	headerSize = 16
	noteSize   = 16
)

// Packet is a decoded packet.
type Packet struct {
	Header
	Notes  []Note
	Folded []float32
}

// ErrShortPacket is returned by Decode when the packet is truncated.
var ErrShortPacket = errors.New("short packet")

// encode writes a packet into buf, which is reset first.
func encode(buf *bytes.Buffer, h Header, notes []Note, folded []float32) error {
	buf.Reset()
	if err := binary.Write(buf, binary.BigEndian, h); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, notes); err != nil {
		return err
	}
	return binary.Write(buf, binary.BigEndian, folded)
}

// Decode parses a packet produced by UDPPublisher.
func Decode(b []byte) (Packet, error) {
	var p Packet
	r := bytes.NewReader(b)
	if err := binary.Read(r, binary.BigEndian, &p.Header); err != nil {
		return p, fmt.Errorf("%w: header: %v", ErrShortPacket, err)
	}

	want := headerSize + int(p.NoteCount)*noteSize + int(p.Bins)*4
	if len(b) < want {
		return p, fmt.Errorf("%w: %d bytes, want %d", ErrShortPacket, len(b), want)
	}

	p.Notes = make([]Note, p.NoteCount)
	p.Folded = make([]float32, p.Bins)
	if err := binary.Read(r, binary.BigEndian, p.Notes); err != nil {
		return p, err
	}
	if err := binary.Read(r, binary.BigEndian, p.Folded); err != nil {
		return p, err
	}
	return p, nil
}
