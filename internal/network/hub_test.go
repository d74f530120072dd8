package network

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
)

type streamFixture struct {
	log     *events.EventLog
	hub     *Hub
	metrics *metrics.Collector
	conn    *websocket.Conn
}

func newStream(t *testing.T) *streamFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	el := events.NewEventLog(nil)
	hub := NewHub(logger.NewNop(), config.ServerConfig{
		PollInterval:     5 * time.Millisecond,
		BroadcastBuffer:  16,
		ClientSendBuffer: 16,
	})
	c := metrics.New(prometheus.NewRegistry())
	hub.SetMetrics(c)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, el)

	api := NewAPI(testEngine(t), hub, nil, nil, logger.NewNop())
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return &streamFixture{log: el, hub: hub, metrics: c, conn: conn}
}

func (f *streamFixture) next(t *testing.T) events.Event {
	t.Helper()
	require.NoError(t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e events.Event
	require.NoError(t, f.conn.ReadJSON(&e))
	return e
}

func TestHubStreamsEventsWithoutTicks(t *testing.T) {
	f := newStream(t)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WSConnections))

	f.log.Append(events.Event{Type: events.EventTypeTimeTick, EntityID: "MISSION_CLOCK"})
	f.log.Append(events.Event{
		Type:     events.EventTypeFaultTriggered,
		EntityID: "Hab",
		Payload:  events.FaultPayload{IncidentID: 1, Fault: "Air Leak"},
	})

	got := f.next(t)
	assert.Equal(t, events.EventTypeFaultTriggered, got.Type)
	assert.Equal(t, "Hab", got.EntityID)
	payload, ok := got.Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Air Leak", payload["fault"])
}

func TestHubSubscriptionFiltersByEntity(t *testing.T) {
	f := newStream(t)

	require.NoError(t, f.conn.WriteJSON(Subscription{Action: "subscribe", Entities: []string{"Lab"}}))
	require.Eventually(t, func() bool {
		f.hub.mu.Lock()
		defer f.hub.mu.Unlock()
		for c := range f.hub.clients {
			c.mu.RLock()
			subscribed := c.entities != nil
			c.mu.RUnlock()
			if subscribed {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WSMessages.WithLabelValues("in")))

	f.log.Append(events.Event{Type: events.EventTypeFaultTriggered, EntityID: "Hab"})
	f.log.Append(events.Event{Type: events.EventTypeFaultFixed, EntityID: "Lab"})

	got := f.next(t)
	assert.Equal(t, "Lab", got.EntityID)
	assert.Equal(t, events.EventTypeFaultFixed, got.Type)
}

func TestClientWants(t *testing.T) {
	c := &Client{}
	tick := events.Event{Type: events.EventTypeTimeTick, EntityID: "MISSION_CLOCK"}
	fault := events.Event{Type: events.EventTypeFaultTriggered, EntityID: "Hab"}

	assert.False(t, c.wants(tick))
	assert.True(t, c.wants(fault))

	c.subscribe(Subscription{Types: []events.EventType{events.EventTypeTimeTick}})
	assert.True(t, c.wants(tick))
	assert.False(t, c.wants(fault))

	c.subscribe(Subscription{Entities: []string{"Lab"}})
	assert.False(t, c.wants(fault))
	assert.True(t, c.wants(events.Event{Type: events.EventTypeAccident, EntityID: "Lab"}))
}

func TestHubDropsClientOnDisconnect(t *testing.T) {
	f := newStream(t)
	require.NoError(t, f.conn.Close())
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.WSConnections))
}
