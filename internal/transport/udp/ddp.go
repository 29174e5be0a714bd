// SPDX-License-Identifier: MIT
package udp

import (
	"context"
	"encoding/binary"

	"circlights/internal/color"
)

const (
	// DDPPort is the Distributed Display Protocol port.
	DDPPort = 4048

	// DDPMaxData is the payload limit of one DDP packet, 480 RGB LEDs.
	DDPMaxData = 1440

	ddpHeaderLen = 10

	ddpVersion1 = 0x40
	ddpPush     = 0x01
	ddpTypeRGB8 = 0x0B
	ddpIDOutput = 0x01
)

/*
DDP packet header (BigEndian)

|<- 1 ->|<- 1 ->|<- 1 ->|<- 1 ->|<------ 4 bytes ------>|<- 2 bytes ->|<-- N -->|
+-------+-------+-------+-------+-----------------------+-------------+---------+
| flags |  seq  | type  |  id   |   data offset (byte)  | data length |  RGB..  |
+-------+-------+-------+-------+-----------------------+-------------+---------+

flags: version 1 (0x40), push (0x01) set on the last packet of a frame so
the device displays only complete frames. seq cycles 1..15 per frame.
*/

// DDPEncoder splits frames into DDP packets. It keeps the sequence
// counter and a reusable packet buffer and is not safe for concurrent use.
type DDPEncoder struct {
	seq byte
	buf []byte
}

// Encode calls emit once per packet of the frame. The packet slice is
// reused after emit returns.
func (e *DDPEncoder) Encode(colors []color.RGB, emit func(packet []byte) error) error {
	e.seq = e.seq%15 + 1
	total := len(colors) * 3
	if cap(e.buf) < ddpHeaderLen+DDPMaxData {
		e.buf = make([]byte, 0, ddpHeaderLen+DDPMaxData)
	}
	if total == 0 {
		return emit(e.header(0, 0, true))
	}
	for offset := 0; offset < total; offset += DDPMaxData {
		n := min(DDPMaxData, total-offset)
		pkt := e.header(offset, n, offset+n == total)
		for _, c := range colors[offset/3 : (offset+n)/3] {
			pkt = append(pkt, c.R, c.G, c.B)
		}
		if err := emit(pkt); err != nil {
			return err
		}
	}
	return nil
}

func (e *DDPEncoder) header(offset, length int, last bool) []byte {
	flags := byte(ddpVersion1)
	if last {
		flags |= ddpPush
	}
	b := append(e.buf[:0], flags, e.seq, ddpTypeRGB8, ddpIDOutput)
	b = binary.BigEndian.AppendUint32(b, uint32(offset))
	b = binary.BigEndian.AppendUint16(b, uint16(length))
	return b
}

// DDPSender streams frames to a device with DDP.
type DDPSender struct {
	sender *Sender
	enc    DDPEncoder
}

// NewDDPSender dials host on the DDP port unless address already names
// a port.
func NewDDPSender(address string) (*DDPSender, error) {
	s, err := NewSender(withPort(address, DDPPort))
	if err != nil {
		return nil, err
	}
	return &DDPSender{sender: s}, nil
}

func (d *DDPSender) SendFrame(ctx context.Context, colors []color.RGB) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.enc.Encode(colors, d.sender.Send)
}

func (d *DDPSender) Close() error { return d.sender.Close() }
