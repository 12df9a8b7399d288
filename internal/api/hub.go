package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

type HubConfig struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	// SendBuffer is the number of frames queued per connection before it is dropped
	// as a slow consumer.
	SendBuffer int
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 8 << 10,
		SendBuffer:     256,
	}
}

// FrameHandler handles one inbound frame of a connection.
type FrameHandler func(ctx context.Context, connID string, frame []byte)

// Hub tracks the open websocket connections and the game rooms they are subscribed to.
// It implements session.Broadcaster: sends are queued and never block.
type Hub struct {
	c HubConfig

	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]struct{}
}

type client struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	rooms []string
}

var _ session.Broadcaster = (*Hub)(nil)

func NewHub(c HubConfig) *Hub {
	d := DefaultHubConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}

	return &Hub{
		c:       c,
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

// Serve registers conn and passes its frames to handle until the connection closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, handle FrameHandler) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.c.SendBuffer),
	}

	h.register(c)
	defer func() {
		h.unregister(c)
		conn.Close()
	}()

	go h.writePump(c)
	h.readPump(ctx, c, handle)
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	telemetry.Connections.Inc()
	slog.Debug("hub: connection registered", "conn", c.id)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)

	for _, code := range c.rooms {
		members := h.rooms[code]
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
	close(c.send)

	telemetry.Connections.Dec()
	slog.Debug("hub: connection unregistered", "conn", c.id)
}

func (h *Hub) readPump(ctx context.Context, c *client, handle FrameHandler) {
	c.conn.SetReadLimit(h.c.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.c.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.c.PongTimeout))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.WarnContext(ctx, "hub: unexpected close", "conn", c.id, "error", err)
			}
			return
		}

		handle(ctx, c.id, frame)
		_ = c.conn.SetReadDeadline(time.Now().Add(h.c.PongTimeout))
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.c.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.c.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("hub: write failed", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.c.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("hub: ping failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}

// Subscribe adds connID to the room of a game. Unknown connections are ignored.
func (h *Hub) Subscribe(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return
	}

	members, ok := h.rooms[code]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[code] = members
	}
	if _, in := members[connID]; in {
		return
	}
	members[connID] = struct{}{}
	c.rooms = append(c.rooms, code)
}

func (h *Hub) SendToOne(connID string, m session.Message) {
	frame, ok := encode(m)
	if !ok {
		return
	}

	h.mu.RLock()
	c, found := h.clients[connID]
	slow := found && !enqueue(c, frame)
	h.mu.RUnlock()

	if slow {
		h.evict(c)
	}
}

func (h *Hub) SendToRoom(code string, m session.Message) {
	frame, ok := encode(m)
	if !ok {
		return
	}

	var slow []*client

	h.mu.RLock()
	for id := range h.rooms[code] {
		if c := h.clients[id]; c != nil && !enqueue(c, frame) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.evict(c)
	}
}

// Len returns the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

func (h *Hub) evict(c *client) {
	slog.Warn("hub: send buffer full, dropping connection", "conn", c.id)
	h.unregister(c)
	c.conn.Close()
}

// enqueue must be called with the hub lock held, so that send is still open.
func enqueue(c *client, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func encode(m session.Message) ([]byte, bool) {
	b, err := json.Marshal(m)
	if err != nil {
		slog.Error("hub: marshal message failed", "type", m.Type, "error", err)
		return nil, false
	}
	return b, true
}
