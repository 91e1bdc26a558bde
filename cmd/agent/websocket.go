// WebSocket push of store-change events to UI clients.
package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/interntrack/internal/logging"
	"github.com/kimhsiao/interntrack/internal/offline/event"
	"github.com/kimhsiao/interntrack/internal/uuid"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Only allow connections from localhost
		host := r.Host
		if i := strings.LastIndex(host, ":"); i >= 0 {
			host = host[:i]
		}
		return host == "localhost" || host == "127.0.0.1"
	},
}

// WSClient represents a WebSocket client connection.
type WSClient struct {
	id            string
	conn          *websocket.Conn
	send          chan wsMessage
	hub           *WSHub
	mu            sync.Mutex
	subscriptions map[string]bool
}

// wsMessage pairs the serialized envelope with its event name so delivery
// can honor per-client subscriptions.
type wsMessage struct {
	name string
	data []byte
}

// WSEnvelope wraps all pushed events.
type WSEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// WSHub maintains active client connections and fans events out to them.
type WSHub struct {
	clients    map[string]*WSClient
	broadcast  chan wsMessage
	register   chan *WSClient
	unregister chan *WSClient
	logger     *logging.Logger
}

// NewWSHub creates a hub and starts its dispatch loop.
func NewWSHub() *WSHub {
	hub := &WSHub{
		clients:    make(map[string]*WSClient),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		logger:     logging.Get(),
	}
	go hub.run()
	return hub
}

// AttachBus forwards every store event published on the bus to clients.
func (h *WSHub) AttachBus(bus *event.Bus) {
	bus.Subscribe(func(e event.Event) {
		h.Broadcast(string(e.Name), e.Payload)
	})
}

// run manages client connections and broadcasts.
func (h *WSHub) run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client.id] = client
			h.logger.Debug("WebSocket client connected", map[string]interface{}{
				"client": client.id,
				"total":  len(h.clients),
			})

		case client := <-h.unregister:
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
			}
			h.logger.Debug("WebSocket client disconnected", map[string]interface{}{
				"client": client.id,
				"total":  len(h.clients),
			})

		case message := <-h.broadcast:
			for _, client := range h.clients {
				if !client.wants(message.name) {
					continue
				}
				select {
				case client.send <- message:
				default:
					// Client send buffer is full, drop the connection
					close(client.send)
					delete(h.clients, client.id)
				}
			}
		}
	}
}

// Broadcast pushes an event to all subscribed clients.
func (h *WSHub) Broadcast(name string, data interface{}) {
	envelope := WSEnvelope{
		Type:      name,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Error("Failed to marshal event", err, map[string]interface{}{"event": name})
		return
	}

	h.broadcast <- wsMessage{name: name, data: bytes}
}

// wants reports whether the client should receive an event. A client with
// no explicit subscriptions receives everything.
func (c *WSClient) wants(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[name]
}

// readPump pumps control messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("WebSocket read error", map[string]interface{}{"error": err.Error()})
			}
			break
		}

		var msg struct {
			Action string   `json:"action"`
			Events []string `json:"events"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Action {
		case "subscribe":
			c.mu.Lock()
			for _, name := range msg.Events {
				c.subscriptions[name] = true
			}
			c.mu.Unlock()
			c.sendControl("subscribe_ack", msg.Events)

		case "unsubscribe":
			c.mu.Lock()
			for _, name := range msg.Events {
				delete(c.subscriptions, name)
			}
			c.mu.Unlock()

		case "ping":
			c.sendControl("pong", nil)
		}
	}
}

// writePump pumps messages to the WebSocket connection.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendControl answers a client control message.
func (c *WSClient) sendControl(action string, events []string) {
	envelope := map[string]interface{}{
		"action":    action,
		"timestamp": time.Now().Unix(),
	}
	if events != nil {
		envelope["subscribed"] = events
	}

	bytes, _ := json.Marshal(envelope)
	select {
	case c.send <- wsMessage{name: action, data: bytes}:
	default:
	}
}

// HandleWebSocket handles WebSocket connections.
func HandleWebSocket(hub *WSHub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
			return
		}

		client := &WSClient{
			id:            uuid.New(),
			conn:          conn,
			send:          make(chan wsMessage, 256),
			hub:           hub,
			subscriptions: make(map[string]bool),
		}

		hub.register <- client

		go client.writePump()
		go client.readPump()
	}
}
