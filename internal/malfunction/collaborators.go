// Package malfunction is the probabilistic fault and repair engine. Each
// entity that can break owns a Manager; the Manager is advanced by clock
// pulses, rolls for faults, tracks repair progress on each Occurrence and
// schedules preventive maintenance. A shared Selector picks faults from the
// catalog and a shared ReliabilityModel learns from every incident.
//
// A Manager and its occurrences must only be driven from one goroutine at a
// time. Selector, ReliabilityModel and parts are safe for concurrent use.
package malfunction

import (
	"sync/atomic"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/medical"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
)

// Actor is whoever or whatever caused a fault.
type Actor interface {
	UnitName() string
	UnitKind() unit.Kind
}

// Person is someone who can be hurt or stressed by a fault.
type Person interface {
	UnitName() string
	AddComplaint(c *medical.Complaint)
	AddStress(amount float64)
}

// Entity is a unit that owns a Manager.
type Entity interface {
	Actor
	// Grouping is the settlement or vehicle the entity belongs to.
	Grouping() string
	// AffectedPeople are those exposed to the entity's faults.
	AffectedPeople() []Person
}

// Categorized is implemented by buildings that declare a function.
type Categorized interface {
	Category() unit.Category
}

// Tasked is implemented by actors that can report what they were doing.
type Tasked interface {
	Task() string
}

// Tempered is implemented by actors whose temperament scales accidents.
type Tempered interface {
	Temperament() int
}

// ItemStore holds discrete parts.
type ItemStore interface {
	// RetrieveItem removes up to n units and returns the shortfall.
	RetrieveItem(id part.ID, n int) int
	ItemStored(id part.ID) int
	StoreMass(resource string, kg float64)
}

// ResourceStore holds bulk resources.
type ResourceStore interface {
	RetrieveAmount(resource string, amount float64) float64
	AmountStored(resource string) float64
}

// EventSink receives fault and repair events.
type EventSink interface {
	Publish(e events.Event)
}

// MedicalLookup resolves complaint types.
type MedicalLookup interface {
	ComplaintByType(t medical.ComplaintType) (*medical.Complaint, bool)
}

// Clock reports the current mission time.
type Clock interface {
	Now() marstime.MarsTime
}

// MaintenanceFulfillment hears about parts a manager needs for maintenance.
// Implementations are called from parallel entity ticks.
type MaintenanceFulfillment interface {
	RetrieveMaintenanceParts(e Entity)
	// RecordShortfall receives the missing quantity of each part just
	// requested; zero means the request was met in full.
	RecordShortfall(e Entity, shortfall map[*part.MaintenanceScope]int)
}

// Services are the process-wide collaborators shared by every Manager.
type Services struct {
	Selector    *Selector
	Model       *ReliabilityModel
	Events      EventSink
	Medical     MedicalLookup
	Clock       Clock
	Fulfillment MaintenanceFulfillment
	Log         *logger.Logger
	// NoFailures, when set and true, suppresses every new fault.
	NoFailures *atomic.Bool
}

func (s Services) failuresSuppressed() bool {
	return s.NoFailures != nil && s.NoFailures.Load()
}
