package network

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
)

type envelope struct {
	event events.Event
	data  []byte
}

// Hub maintains the set of active clients and broadcasts engine events to
// the ones subscribed to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	logger     *logger.Logger
	metrics    *metrics.Collector

	pollInterval time.Duration
	sendBuffer   int
}

// NewHub initializes a new WebSocket Hub.
func NewHub(log *logger.Logger, cfg config.ServerConfig) *Hub {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.ClientSendBuffer < 1 {
		cfg.ClientSendBuffer = 256
	}
	return &Hub{
		broadcast:    make(chan envelope, cfg.BroadcastBuffer),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		clients:      make(map[*Client]bool),
		logger:       log,
		pollInterval: cfg.PollInterval,
		sendBuffer:   cfg.ClientSendBuffer,
	}
}

func (h *Hub) SetMetrics(c *metrics.Collector) {
	h.metrics = c
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket Hub shutting down.")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.connections(1)
			h.logger.Info("New WebSocket client connected")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.connections(-1)
				h.logger.Info("WebSocket client disconnected")
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(msg.event) {
					continue
				}
				select {
				case client.send <- msg.data:
					if h.metrics != nil {
						h.metrics.RecordWSMessage(false)
					}
				default:
					// Slow consumer.
					close(client.send)
					delete(h.clients, client)
					h.connections(-1)
					if h.metrics != nil {
						h.metrics.RecordWSError()
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) connections(delta int) {
	if h.metrics != nil {
		h.metrics.RecordWSConnection(delta)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastEvent serializes an event and queues it for every subscribed client.
func (h *Hub) BroadcastEvent(ctx context.Context, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Errorf("Failed to serialize %s for WebSocket broadcast: %v", event.Type, err)
		return
	}
	select {
	case h.broadcast <- envelope{event: event, data: data}:
	case <-ctx.Done():
	}
}

// EventReader is the name the hub's poller reads the EventLog under.
const EventReader = "hub"

// StartEventPoller polls the EventLog and pushes new events to the Hub, so
// the Hub runs independently from the engine's dispatch loop while picking
// up the same events.
func (h *Hub) StartEventPoller(ctx context.Context, eventLog *events.EventLog) {
	offset := eventLog.Offset()
	eventLog.Register(EventReader, offset)
	go func() {
		poll := time.NewTicker(h.pollInterval)
		defer poll.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
				var batch []events.Event
				batch, offset = eventLog.Since(offset)
				for _, event := range batch {
					h.BroadcastEvent(ctx, event)
				}
				eventLog.Ack(EventReader, offset)
			}
		}
	}()
}
