// SPDX-License-Identifier: MIT

// Package udp carries frames to LED controllers over the WLED realtime
// protocols.
package udp

import (
	"fmt"
	"net"
	"sync"

	applog "circlights/internal/log"
)

// Sender writes datagrams to one remote address.
type Sender struct {
	conn   *net.UDPConn
	target *net.UDPAddr
	mu     sync.Mutex // Protects conn during Close
	closed bool
}

// NewSender dials the target, given as "host:port".
func NewSender(targetAddress string) (*Sender, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	// No local bind needed for sending.
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	applog.Debugf("UDP Sender: Connection established to %s", conn.RemoteAddr())

	return &Sender{
		conn:   conn,
		target: udpAddr,
	}, nil
}

// Send transmits data as a single datagram.
func (s *Sender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return net.ErrClosed
	}
	if _, err := s.conn.Write(data); err != nil {
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Calling it twice is a no-op.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	applog.Debugf("UDP Sender: Closing connection to %s", s.target)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}

var _ interface{ Close() error } = (*Sender)(nil)
