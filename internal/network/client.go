package network

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/malfunction-engine/internal/events"
)

const (
	writeWait = 10 * time.Second

	// A subscriber that sends no pong within pongWait is dropped.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Subscription messages are small; anything bigger is a misbehaving peer.
	maxMessageSize = 4096
)

// Subscription narrows what a client receives. Empty lists mean everything
// except clock ticks.
type Subscription struct {
	Action   string             `json:"action"` // "subscribe"
	Entities []string           `json:"entities,omitempty"`
	Types    []events.EventType `json:"types,omitempty"`
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	entities map[string]bool
	types    map[events.EventType]bool
}

// NewClient wraps an upgraded connection. Call Register, then run both pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.sendBuffer),
	}
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		close(c.send)
	}
}

func (c *Client) subscribe(s Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities, c.types = nil, nil
	if len(s.Entities) > 0 {
		c.entities = make(map[string]bool, len(s.Entities))
		for _, e := range s.Entities {
			c.entities[e] = true
		}
	}
	if len(s.Types) > 0 {
		c.types = make(map[events.EventType]bool, len(s.Types))
		for _, t := range s.Types {
			c.types[t] = true
		}
	}
}

func (c *Client) wants(e events.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.types == nil {
		if e.Type == events.EventTypeTimeTick {
			return false
		}
	} else if !c.types[e.Type] {
		return false
	}
	return c.entities == nil || c.entities[e.EntityID]
}

// ReadPump reads subscription changes until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnf("WebSocket read: %v", err)
			}
			break
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWSMessage(true)
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.hub.logger.Warnf("Bad WebSocket message: %v", err)
			continue
		}
		if sub.Action != "subscribe" {
			c.hub.logger.Warnf("Unknown WebSocket action %q", sub.Action)
			continue
		}
		c.subscribe(sub)
		c.hub.logger.Debugf("Client subscribed: entities=%v types=%v", sub.Entities, sub.Types)
	}
}

// WritePump forwards matching events to the peer, one JSON message per frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the hub.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
