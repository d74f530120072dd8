package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/MRamiBalles/malfunction-engine/internal/events"
)

const writeTimeout = 5 * time.Second

// EventWriter adapts an EventRepository to events.EventPersister. Clock
// ticks are not persisted.
type EventWriter struct {
	repo    EventRepository
	observe func(time.Duration, error)
}

// NewEventWriter wraps repo. observe, if non-nil, is told the latency and
// outcome of every write.
func NewEventWriter(repo EventRepository, observe func(time.Duration, error)) *EventWriter {
	return &EventWriter{repo: repo, observe: observe}
}

func (w *EventWriter) Append(e events.Event) error {
	if e.Type == events.EventTypeTimeTick {
		return nil
	}
	rec, err := RecordFromEvent(e)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	start := time.Now()
	err = w.repo.Append(ctx, rec)
	if w.observe != nil {
		w.observe(time.Since(start), err)
	}
	return err
}

// RecordFromEvent flattens an engine event into a ledger row.
func RecordFromEvent(e events.Event) (IncidentRecord, error) {
	rec := IncidentRecord{
		ID:         e.ID,
		EntityID:   e.EntityID,
		EventType:  string(e.Type),
		ActorID:    e.ActorID,
		MissionSol: e.MissionSol,
		Millisol:   e.Millisol,
		Timestamp:  e.Timestamp,
	}
	switch p := e.Payload.(type) {
	case events.FaultPayload:
		rec.IncidentID, rec.Fault = p.IncidentID, p.Fault
	case *events.FaultPayload:
		rec.IncidentID, rec.Fault = p.IncidentID, p.Fault
	}

	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return rec, errors.Wrapf(err, "marshal %s payload", e.Type)
	}
	var payload interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return rec, errors.Wrapf(err, "flatten %s payload", e.Type)
	}
	switch v := payload.(type) {
	case map[string]interface{}:
		rec.Payload = v
	case nil:
		rec.Payload = map[string]interface{}{}
	default:
		rec.Payload = map[string]interface{}{"value": v}
	}
	return rec, nil
}
