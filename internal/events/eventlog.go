// Package events provides the append-only incident log of the engine.
// Every fault, repair and maintenance flag is recorded here and fanned out
// to the dispatch loop, the WebSocket hub and durable storage.
package events

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of an engine event.
type EventType string

const (
	EventTypeTimeTick           EventType = "TIME_TICK"
	EventTypeFaultTriggered     EventType = "FAULT_TRIGGERED"
	EventTypeFaultFixed         EventType = "FAULT_FIXED"
	EventTypeMaintenanceFlagged EventType = "MAINTENANCE_FLAGGED"
	EventTypePartsShortfall     EventType = "PARTS_SHORTFALL"
	EventTypeAccident           EventType = "ACCIDENT"
)

// Cause classifies who or what set off a fault.
type Cause string

const (
	CauseHumanFactors     Cause = "HUMAN_FACTORS"
	CauseProgrammingError Cause = "PROGRAMMING_ERROR"
	CausePartsFailure     Cause = "PARTS_FAILURE"
	CauseActsOfGod        Cause = "ACTS_OF_GOD"
)

// Event is an immutable record of something that happened to an entity.
type Event struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Type       EventType   `json:"type"`
	EntityID   string      `json:"entity_id"` // entity whose manager emitted it
	ActorID    string      `json:"actor_id"`  // who or what caused it
	Payload    interface{} `json:"payload"`
	MissionSol int         `json:"mission_sol"`
	Millisol   float64     `json:"millisol"`
}

// FaultPayload is attached to FAULT_TRIGGERED and FAULT_FIXED events.
type FaultPayload struct {
	IncidentID  int64  `json:"incident_id"`
	Fault       string `json:"fault"`
	Severity    int    `json:"severity"`
	Cause       Cause  `json:"cause"`
	WhileDoing  string `json:"while_doing,omitempty"`
	WhoAffected string `json:"who_affected,omitempty"`
	Grouping    string `json:"grouping,omitempty"`
}

// PartsPayload lists part quantities for maintenance and shortfall events.
type PartsPayload struct {
	Parts map[string]int `json:"parts"`
}

// EventPersister defines how an event is durably stored.
type EventPersister interface {
	Append(event Event) error
}

// compactEvery is how many offsets the slowest reader must advance before
// consumed ticks are dropped again.
const compactEvery = 256

// EventLog is the in-memory append-only log. Appends are written through to
// the persister, if any, outside the log's lock.
//
// Every event gets an offset when appended. Offsets never shift, so readers
// can resume with Since even after consumed ticks have been dropped.
type EventLog struct {
	mu        sync.RWMutex
	events    []Event
	offsets   []int // offset of events[i], ascending
	next      int
	persister EventPersister
	onError   func(Event, error)

	dropTicks bool
	readers   map[string]int
	compacted int
}

// NewEventLog creates a new event log with an optional persister.
func NewEventLog(persister EventPersister) *EventLog {
	return &EventLog{
		events:    make([]Event, 0),
		persister: persister,
	}
}

// OnPersistError installs a callback for failed write-throughs.
func (el *EventLog) OnPersistError(fn func(Event, error)) {
	el.mu.Lock()
	el.onError = fn
	el.mu.Unlock()
}

// Append adds a new event to the log. Events are immutable once appended.
func (el *EventLog) Append(event Event) {
	if event.ID == "" {
		event.ID = GenerateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	el.mu.Lock()
	el.events = append(el.events, event)
	el.offsets = append(el.offsets, el.next)
	el.next++
	persister, onError := el.persister, el.onError
	el.mu.Unlock()

	if persister != nil {
		if err := persister.Append(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// Publish is Append under the name collaborators use.
func (el *EventLog) Publish(event Event) {
	el.Append(event)
}

// GetByEntity returns all events emitted for an entity.
func (el *EventLog) GetByEntity(entityID string) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []Event
	for _, e := range el.events {
		if e.EntityID == entityID {
			result = append(result, e)
		}
	}
	return result
}

// GetByType returns all events of one type.
func (el *EventLog) GetByType(t EventType) []Event {
	el.mu.RLock()
	defer el.mu.RUnlock()

	var result []Event
	for _, e := range el.events {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

// Since returns the retained events appended at or after offset and the
// offset to resume from.
func (el *EventLog) Since(offset int) ([]Event, int) {
	el.mu.RLock()
	defer el.mu.RUnlock()
	i := sort.SearchInts(el.offsets, offset)
	if i >= len(el.events) {
		return nil, el.next
	}
	out := make([]Event, len(el.events)-i)
	copy(out, el.events[i:])
	return out, el.next
}

// Offset is the offset the next appended event will get.
func (el *EventLog) Offset() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.next
}

// DropConsumedTicks makes the log forget TIME_TICK events once every
// registered reader has acknowledged them. Other events are kept. With no
// registered reader nothing is dropped.
func (el *EventLog) DropConsumedTicks() {
	el.mu.Lock()
	el.dropTicks = true
	el.mu.Unlock()
}

// Register adds a reader positioned at offset.
func (el *EventLog) Register(reader string, offset int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if el.readers == nil {
		el.readers = make(map[string]int)
	}
	el.readers[reader] = offset
}

// Ack records that reader has consumed everything before offset. Unknown
// readers are ignored.
func (el *EventLog) Ack(reader string, offset int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if _, ok := el.readers[reader]; !ok {
		return
	}
	el.readers[reader] = offset
	if !el.dropTicks {
		return
	}
	low := el.next
	for _, o := range el.readers {
		low = min(low, o)
	}
	if low-el.compacted < compactEvery {
		return
	}
	el.compactTicks(low)
}

func (el *EventLog) compactTicks(before int) {
	n := 0
	for i, e := range el.events {
		if e.Type == EventTypeTimeTick && el.offsets[i] < before {
			continue
		}
		el.events[n], el.offsets[n] = e, el.offsets[i]
		n++
	}
	clear(el.events[n:])
	el.events, el.offsets = el.events[:n], el.offsets[:n]
	el.compacted = before
}

// Replay returns a copy of every retained event.
func (el *EventLog) Replay() []Event {
	out, _ := el.Since(0)
	return out
}

// Len is the number of retained events.
func (el *EventLog) Len() int {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return len(el.events)
}

// GenerateEventID creates a unique event identifier.
func GenerateEventID() string {
	return uuid.NewString()
}
