// SPDX-License-Identifier: MIT
package udp

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"circlights/internal/color"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []color.RGB {
	out := make([]color.RGB, n)
	for i := range out {
		out[i] = color.RGB{R: byte(i), G: byte(i * 2), B: byte(i * 3)}
	}
	return out
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readPacket(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestEncodeWARLS(t *testing.T) {
	pkt, err := EncodeWARLS(nil, []color.RGB{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}}, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 0, 1, 2, 3, 1, 4, 5, 6}, pkt)

	_, err = EncodeWARLS(nil, ramp(WARLSMaxLEDs+1), 2)
	assert.Error(t, err)
}

func TestDDPEncoderSplitsFrames(t *testing.T) {
	var enc DDPEncoder
	var packets [][]byte
	collect := func(p []byte) error {
		packets = append(packets, append([]byte(nil), p...))
		return nil
	}

	colors := ramp(600)
	require.NoError(t, enc.Encode(colors, collect))
	require.Len(t, packets, 2)

	first, second := packets[0], packets[1]
	assert.Equal(t, byte(0x40), first[0], "no push on the first packet")
	assert.Equal(t, byte(0x41), second[0], "push on the last packet")
	assert.Equal(t, byte(1), first[1])
	assert.Equal(t, byte(0x0B), first[2])
	assert.Equal(t, byte(0x01), first[3])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(first[4:8]))
	assert.Equal(t, uint16(DDPMaxData), binary.BigEndian.Uint16(first[8:10]))
	assert.Len(t, first, ddpHeaderLen+DDPMaxData)

	assert.Equal(t, uint32(DDPMaxData), binary.BigEndian.Uint32(second[4:8]))
	assert.Equal(t, uint16(120*3), binary.BigEndian.Uint16(second[8:10]))
	// LED 480 starts the second payload.
	assert.Equal(t, []byte{colors[480].R, colors[480].G, colors[480].B}, second[10:13])

	packets = nil
	require.NoError(t, enc.Encode(colors[:10], collect))
	require.Len(t, packets, 1)
	assert.Equal(t, byte(2), packets[0][1], "sequence advances per frame")
	assert.Equal(t, byte(0x41), packets[0][0])
}

func TestDDPSequenceWraps(t *testing.T) {
	var enc DDPEncoder
	var seq byte
	for range 15 {
		require.NoError(t, enc.Encode(ramp(1), func(p []byte) error { seq = p[1]; return nil }))
	}
	assert.Equal(t, byte(15), seq)
	require.NoError(t, enc.Encode(ramp(1), func(p []byte) error { seq = p[1]; return nil }))
	assert.Equal(t, byte(1), seq, "sequence never uses 0")
}

func TestWARLSSenderLoopback(t *testing.T) {
	conn := listen(t)
	s, err := NewWARLSSender(conn.LocalAddr().String(), 3)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SendFrame(context.Background(), ramp(3)))
	assert.Equal(t, []byte{1, 3, 0, 0, 0, 0, 1, 1, 2, 3, 2, 2, 4, 6}, readPacket(t, conn))
}

func TestDDPSenderLoopback(t *testing.T) {
	conn := listen(t)
	s, err := NewDDPSender(conn.LocalAddr().String())
	require.NoError(t, err)

	require.NoError(t, s.SendFrame(context.Background(), ramp(500)))
	first := readPacket(t, conn)
	second := readPacket(t, conn)
	assert.Len(t, first, ddpHeaderLen+DDPMaxData)
	assert.Len(t, second, ddpHeaderLen+20*3)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SendFrame(context.Background(), ramp(1)), net.ErrClosed)
}

func TestSendFrameHonorsContext(t *testing.T) {
	conn := listen(t)
	s, err := NewWARLSSender(conn.LocalAddr().String(), 1)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SendFrame(ctx, ramp(1)), context.Canceled)
}

func TestWithPort(t *testing.T) {
	assert.Equal(t, "10.0.0.5:21324", withPort("10.0.0.5", WLEDPort))
	assert.Equal(t, "10.0.0.5:9999", withPort("10.0.0.5:9999", WLEDPort))
	assert.Equal(t, "wled.local:4048", withPort("wled.local", DDPPort))
}
