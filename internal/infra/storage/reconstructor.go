// Package storage - reconstructor.go
// Rebuilds learned reliability and entity histories from what was persisted.
package storage

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
)

// Reconstructor restores engine state from storage. It is used for:
// 1. Warm start: learned probabilities, part figures and incident ids
// 2. Entity recap: what happened to an entity while nobody watched
// 3. Auditing and debugging
type Reconstructor struct {
	eventRepo       EventRepository
	reliabilityRepo ReliabilityRepository
}

func NewReconstructor(eventRepo EventRepository, reliabilityRepo ReliabilityRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo, reliabilityRepo: reliabilityRepo}
}

// Snapshot saves the model and every registered part.
func (r *Reconstructor) Snapshot(ctx context.Context, model *malfunction.ReliabilityModel, parts *part.Registry) error {
	all := parts.All()
	recs := make([]PartRecord, len(all))
	for i, p := range all {
		recs[i] = PartRecord{PartID: p.ID, Stats: p.Stats()}
	}
	return r.reliabilityRepo.SaveModel(ctx, model.Snapshot(), recs)
}

// Restore loads the latest snapshot into model and parts, and makes the
// selector's next incident id follow the last one on record. Parts and
// faults no longer in the catalog are ignored.
func (r *Reconstructor) Restore(ctx context.Context, model *malfunction.ReliabilityModel, parts *part.Registry, sel *malfunction.Selector) (int, error) {
	faults, partRecs, err := r.reliabilityRepo.LoadModel(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "load reliability snapshot")
	}
	model.Restore(faults)

	restored := 0
	for _, rec := range partRecs {
		if p, ok := parts.Get(rec.PartID); ok {
			p.Restore(rec.Stats)
			restored++
		}
	}

	last, err := r.eventRepo.LastIncidentID(ctx)
	if err != nil {
		return restored, err
	}
	sel.ContinueFrom(last)
	return restored, nil
}

// ResumeTime is the mission time of the latest persisted incident, where a
// warm start picks up the clock. The bool is false on a fresh ledger.
func (r *Reconstructor) ResumeTime(ctx context.Context) (marstime.MarsTime, bool, error) {
	return r.eventRepo.LastMissionTime(ctx)
}

// EntityHistory is an entity's incident record rebuilt from the ledger.
type EntityHistory struct {
	EntityID     string           `json:"entity_id"`
	Faults       int              `json:"faults"`
	Fixes        int              `json:"fixes"`
	Maintenances int              `json:"maintenances"`
	Shortfalls   map[string]int   `json:"shortfalls"`
	Open         map[int64]string `json:"open"` // incident id -> fault
	LastFault    string           `json:"last_fault,omitempty"`
}

// RebuildEntityHistory replays the entity's ledger.
func (r *Reconstructor) RebuildEntityHistory(ctx context.Context, entityID string) (*EntityHistory, error) {
	recs, err := r.eventRepo.GetByEntity(ctx, entityID)
	if err != nil {
		return nil, errors.Wrapf(err, "events for %s", entityID)
	}

	h := &EntityHistory{
		EntityID:   entityID,
		Shortfalls: make(map[string]int),
		Open:       make(map[int64]string),
	}
	for _, rec := range recs {
		r.applyRecord(h, rec)
	}
	return h, nil
}

func (r *Reconstructor) applyRecord(h *EntityHistory, rec IncidentRecord) {
	switch events.EventType(rec.EventType) {
	case events.EventTypeFaultTriggered:
		h.Faults++
		h.Open[rec.IncidentID] = rec.Fault
		h.LastFault = rec.Fault
	case events.EventTypeFaultFixed:
		h.Fixes++
		delete(h.Open, rec.IncidentID)
	case events.EventTypeMaintenanceFlagged:
		h.Maintenances++
	case events.EventTypePartsShortfall:
		if parts, ok := rec.Payload["parts"].(map[string]interface{}); ok {
			for name, n := range parts {
				if f, ok := n.(float64); ok {
					h.Shortfalls[name] += int(f)
				}
			}
		}
	}
}

// RecapEvent is a simplified event for an entity's recap.
type RecapEvent struct {
	When      string `json:"when"`
	EventType string `json:"event_type"`
	Summary   string `json:"summary"` // Human-readable description
	Impact    string `json:"impact"`  // "POSITIVE", "NEGATIVE", "NEUTRAL"
}

// GenerateRecap lists what happened to an entity from sinceSol onwards.
func (r *Reconstructor) GenerateRecap(ctx context.Context, entityID string, sinceSol int) ([]RecapEvent, error) {
	recs, err := r.eventRepo.GetByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var recap []RecapEvent
	for _, rec := range recs {
		if rec.MissionSol < sinceSol {
			continue
		}
		recap = append(recap, RecapEvent{
			When:      fmt.Sprintf("Sol %d %07.3f", rec.MissionSol, rec.Millisol),
			EventType: rec.EventType,
			Summary:   r.summarizeRecord(rec),
			Impact:    r.determineImpact(rec),
		})
	}
	return recap, nil
}

func (r *Reconstructor) summarizeRecord(rec IncidentRecord) string {
	switch events.EventType(rec.EventType) {
	case events.EventTypeFaultTriggered:
		cause, _ := rec.Payload["cause"].(string)
		return fmt.Sprintf("%s (incident %d), probable cause %s.", rec.Fault, rec.IncidentID, cause)
	case events.EventTypeFaultFixed:
		who, _ := rec.Payload["who_affected"].(string)
		if who == "" {
			return fmt.Sprintf("%s (incident %d) fixed.", rec.Fault, rec.IncidentID)
		}
		return fmt.Sprintf("%s (incident %d) fixed by %s.", rec.Fault, rec.IncidentID, who)
	case events.EventTypeMaintenanceFlagged:
		return "Inspection found parts due for replacement."
	case events.EventTypePartsShortfall:
		return "Repair stalled for lack of parts."
	case events.EventTypeAccident:
		return fmt.Sprintf("Accident caused by %s.", rec.ActorID)
	default:
		return "Something happened."
	}
}

func (r *Reconstructor) determineImpact(rec IncidentRecord) string {
	switch events.EventType(rec.EventType) {
	case events.EventTypeFaultTriggered, events.EventTypePartsShortfall, events.EventTypeAccident:
		return "NEGATIVE"
	case events.EventTypeFaultFixed:
		return "POSITIVE"
	default:
		return "NEUTRAL"
	}
}
