// Package fanout delivers displayable module responses to overlay surfaces.
//
// Two delivery paths exist: a WebSocket hub that browser overlays connect to
// directly, subscribing to the entities they render, and an optional HTTP
// forwarder that posts the same payloads to an external overlay ingest URL.
// Both are fed by the dispatch engine after successful executions.
package fanout

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Overlays are served from arbitrary origins (OBS browser sources).
		return true
	},
}

// clientAction is the JSON control message an overlay client sends.
type clientAction struct {
	Action   string `json:"action"`
	EntityID string `json:"entity_id"`
}

// Client is one overlay WebSocket connection and its entity subscriptions.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	entities map[string]bool
	mu       sync.Mutex
}

// Hub maintains the set of connected overlay clients and fans payloads out to
// the clients subscribed to each entity.
type Hub struct {
	clients    map[*Client]bool
	entitySubs map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg

	mu sync.RWMutex
}

type broadcastMsg struct {
	entityID string
	data     []byte
}

// NewHub creates a Hub. Run must be started in a goroutine before use.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		entitySubs: make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 256),
	}
}

// Run drives the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.detach(client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			var stale []*Client
			for client := range h.entitySubs[msg.entityID] {
				select {
				case client.send <- msg.data:
				default:
					// Send buffer full: a wedged overlay must not back up
					// the dispatch path. Drop the client.
					stale = append(stale, client)
				}
			}
			for _, client := range stale {
				h.detach(client)
				close(client.send)
			}
			h.mu.Unlock()
		}
	}
}

// detach removes a client from the registry and all subscriber sets.
// Caller holds h.mu.
func (h *Hub) detach(client *Client) {
	delete(h.clients, client)
	client.mu.Lock()
	for id := range client.entities {
		if subs, ok := h.entitySubs[id]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.entitySubs, id)
			}
		}
	}
	client.mu.Unlock()
}

// Broadcast queues a payload for every client subscribed to the entity.
func (h *Hub) Broadcast(entityID string, data []byte) {
	h.broadcast <- broadcastMsg{entityID: entityID, data: data}
}

// Subscribers reports how many clients currently watch an entity.
func (h *Hub) Subscribers(entityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entitySubs[entityID])
}

func (h *Hub) subscribe(client *Client, entityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	client.entities[entityID] = true
	client.mu.Unlock()

	if h.entitySubs[entityID] == nil {
		h.entitySubs[entityID] = make(map[*Client]bool)
	}
	h.entitySubs[entityID][client] = true
}

func (h *Hub) unsubscribe(client *Client, entityID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	delete(client.entities, entityID)
	client.mu.Unlock()

	if subs, ok := h.entitySubs[entityID]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.entitySubs, entityID)
		}
	}
}

// readPump consumes subscribe/unsubscribe control messages from the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("overlay client closed unexpectedly")
			}
			return
		}

		var action clientAction
		if err := json.Unmarshal(message, &action); err != nil {
			log.Debug().Err(err).Msg("invalid overlay control message")
			continue
		}

		switch action.Action {
		case "subscribe":
			if action.EntityID != "" {
				c.hub.subscribe(c, action.EntityID)
			}
		case "unsubscribe":
			if action.EntityID != "" {
				c.hub.unsubscribe(c, action.EntityID)
			}
		default:
			log.Debug().Str("action", action.Action).Msg("unknown overlay action")
		}
	}
}

// writePump pushes queued payloads to the client connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		w, err := c.conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		_, _ = w.Write(message)
		if err := w.Close(); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ServeWs upgrades an HTTP request to a WebSocket overlay connection and
// registers it with the hub.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("overlay upgrade failed")
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		entities: make(map[string]bool),
	}

	hub.register <- client

	go client.writePump()
	go client.readPump()
}
