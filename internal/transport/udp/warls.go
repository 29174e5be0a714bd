// SPDX-License-Identifier: MIT
package udp

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"circlights/internal/color"
)

const (
	// WLEDPort is the WLED realtime UDP port for WARLS.
	WLEDPort = 21324

	// WARLSMaxLEDs is the largest strip WARLS can address with its one
	// byte index.
	WARLSMaxLEDs = 255

	warlsProtocol = 1
)

/*
WARLS packet (WLED realtime, protocol 1)

|<- 1 ->|<- 1 ->|<--------------- 4 bytes per LED --------------->|
+-------+-------+-------+-------+-------+-------+-------+---------+
| proto |timeout| index |   R   |   G   |   B   | index | ...     |
|  (1)  | (sec) |       |       |       |       |       |         |
+-------+-------+-------+-------+-------+-------+-------+---------+

timeout is how long WLED stays in realtime mode after the last packet;
255 means never return to normal mode.
*/

// EncodeWARLS appends the WARLS packet for colors to dst.
func EncodeWARLS(dst []byte, colors []color.RGB, timeout byte) ([]byte, error) {
	if len(colors) > WARLSMaxLEDs {
		return dst, fmt.Errorf("WARLS supports at most %d LEDs, got %d", WARLSMaxLEDs, len(colors))
	}
	dst = append(dst, warlsProtocol, timeout)
	for i, c := range colors {
		dst = append(dst, byte(i), c.R, c.G, c.B)
	}
	return dst, nil
}

// WARLSSender streams frames to a WLED device with the WARLS protocol.
type WARLSSender struct {
	sender  *Sender
	timeout byte
	buf     []byte
}

// NewWARLSSender dials host on the WLED realtime port unless address
// already names a port.
func NewWARLSSender(address string, timeout byte) (*WARLSSender, error) {
	s, err := NewSender(withPort(address, WLEDPort))
	if err != nil {
		return nil, err
	}
	return &WARLSSender{sender: s, timeout: timeout}, nil
}

func (w *WARLSSender) SendFrame(ctx context.Context, colors []color.RGB) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	w.buf, err = EncodeWARLS(w.buf[:0], colors, w.timeout)
	if err != nil {
		return err
	}
	return w.sender.Send(w.buf)
}

func (w *WARLSSender) Close() error { return w.sender.Close() }

// withPort adds port to address when it has none.
func withPort(address string, port int) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(port))
}
