// Package storage provides the persistence layer for the malfunction engine.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"time"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
)

// IncidentRecord mirrors the engine event structure for persistence.
// The engine packages should NOT import this; use interfaces instead.
type IncidentRecord struct {
	ID         string                 `json:"id" db:"id"`
	EntityID   string                 `json:"entity_id" db:"entity_id"`
	EventType  string                 `json:"event_type" db:"event_type"`
	ActorID    string                 `json:"actor_id" db:"actor_id"`
	IncidentID int64                  `json:"incident_id" db:"incident_id"`
	Fault      string                 `json:"fault" db:"fault"`
	Payload    map[string]interface{} `json:"payload" db:"payload"`
	MissionSol int                    `json:"mission_sol" db:"mission_sol"`
	Millisol   float64                `json:"millisol" db:"millisol"`
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
}

// EventRepository defines the interface for incident persistence.
type EventRepository interface {
	// Append adds a new record to the immutable ledger.
	Append(ctx context.Context, rec IncidentRecord) error

	// GetByEntity retrieves all records emitted for an entity, oldest first.
	GetByEntity(ctx context.Context, entityID string) ([]IncidentRecord, error)

	// GetByType retrieves all records of one event type, oldest first.
	GetByType(ctx context.Context, eventType string) ([]IncidentRecord, error)

	// LastIncidentID returns the highest incident id on record, or 0.
	LastIncidentID(ctx context.Context) (int64, error)

	// LastMissionTime returns the mission time of the latest record. The
	// bool is false when the ledger is empty.
	LastMissionTime(ctx context.Context) (marstime.MarsTime, bool, error)
}

// PartRecord is the persisted reliability of one part.
type PartRecord struct {
	PartID part.ID    `json:"part_id" db:"part_id"`
	Stats  part.Stats `json:"stats"`
}

// ReliabilityRepository stores snapshots of the learned reliability state.
type ReliabilityRepository interface {
	// SaveModel upserts every fault's learned state and every part's figures.
	SaveModel(ctx context.Context, faults []malfunction.FaultLearning, parts []PartRecord) error

	// LoadModel returns the latest saved state; both slices are empty when
	// nothing was ever saved.
	LoadModel(ctx context.Context) ([]malfunction.FaultLearning, []PartRecord, error)
}
