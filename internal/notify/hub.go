// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubClientBuffer = 16
	hubWriteTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays payloads to every connected WebSocket client as text
// messages. Each client has a small buffer; when it is full the payload is
// dropped for that client only.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	last    []byte
}

type hubClient struct {
	ch      chan []byte
	dropped uint64
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log.With("sink", "websocket"),
		clients: make(map[*hubClient]struct{}),
	}
}

// Send implements Sink.
func (h *Hub) Send(payload []byte) {
	p := append([]byte(nil), payload...)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = p
	for c := range h.clients {
		select {
		case c.ch <- p:
		default:
			c.dropped++
		}
	}
}

// Last returns the most recent payload, or nil before the first one.
func (h *Hub) Last() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add() *hubClient {
	c := &hubClient{ch: make(chan []byte, hubClientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	dropped := c.dropped
	h.mu.Unlock()
	if dropped > 0 {
		h.log.Debug("websocket client dropped payloads", "dropped", dropped)
	}
}

// ServeHTTP upgrades the request and streams payloads until the client
// goes away. Messages sent by the client are read and discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	c := h.add()
	defer h.remove(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
				return
			}
		}
	}
}
