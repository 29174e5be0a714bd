// SPDX-License-Identifier: MIT
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	applog "circlights/internal/log"
)

const writeWait = time.Second

// wsHub tracks connected telemetry clients. Every client owns its own
// engine subscription, so a slow client only loses its own messages.
type wsHub struct {
	mu      sync.Mutex
	clients map[string]*websocket.Conn
	wg      sync.WaitGroup
	closed  bool
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[string]*websocket.Conn)}
}

// add registers conn, failing once the hub is closed.
func (h *wsHub) add(id string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[id] = conn
	h.wg.Add(1)
	return true
}

func (h *wsHub) remove(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		applog.Infof("API: Telemetry client %s disconnected, total: %d", id, n)
		h.wg.Done()
	}
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// closeAll closes every connection; their handlers then clean up.
func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, conn := range h.clients {
		conn.Close()
	}
}

func (h *wsHub) wait() { h.wg.Wait() }

// handleWebSocket upgrades the connection and streams telemetry until the
// client goes away or the server closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("API: Websocket upgrade failed: %v", err)
		return
	}
	id := uuid.NewString()
	if !s.hub.add(id, conn) {
		conn.Close()
		return
	}
	defer s.hub.remove(id)
	applog.Infof("API: Telemetry client %s connected from %s, total: %d", id, r.RemoteAddr, s.hub.count())

	sub, cancel := s.ctrl.Subscribe(s.buffer)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sub {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				applog.Debugf("API: Telemetry client %s: %v", id, err)
				conn.Close()
				return
			}
		}
		// The engine stopped; tell the client.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "pipeline stopped"), time.Now().Add(writeWait))
		conn.Close()
	}()

	// Clients only talk to us to close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	conn.Close()
	<-writerDone
}
