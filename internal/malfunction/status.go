package malfunction

import (
	"sort"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
)

const wearAccidentFactor = 1.0

func (m *Manager) HasFault() bool {
	return len(m.occurrences) > 0
}

// Faults returns the active occurrences in trigger order.
func (m *Manager) Faults() []*Occurrence {
	out := make([]*Occurrence, len(m.occurrences))
	copy(out, m.occurrences)
	return out
}

// MostSeriousFault returns the unfixed occurrence with the highest severity.
func (m *Manager) MostSeriousFault() *Occurrence {
	var result *Occurrence
	for _, o := range m.occurrences {
		if o.IsFixed() {
			continue
		}
		if result == nil || o.def.Severity > result.def.Severity {
			result = o
		}
	}
	return result
}

// MostSeriousFaultNeeding returns the highest-severity occurrence that
// carries category c, is not done with it and has a free worker slot.
// Ties go to the earliest triggered.
func (m *Manager) MostSeriousFaultNeeding(c fault.WorkCategory) *Occurrence {
	var result *Occurrence
	for _, o := range m.occurrences {
		if !o.NeedsWork(c) || o.OpenSlots(c) <= 0 {
			continue
		}
		if result == nil || o.def.Severity > result.def.Severity {
			result = o
		}
	}
	return result
}

// AllFaultsNeeding returns every occurrence with outstanding work in
// category c, most severe first.
func (m *Manager) AllFaultsNeeding(c fault.WorkCategory) []*Occurrence {
	var out []*Occurrence
	for _, o := range m.occurrences {
		if o.NeedsWork(c) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].def.Severity > out[j].def.Severity })
	return out
}

func (m *Manager) WearCondition() float64 {
	return m.currentWearCondPercent
}

func (m *Manager) MalfunctionProbability() float64 {
	return m.malfunctionProbability
}

func (m *Manager) MaintenanceProbability() float64 {
	return m.maintenanceProbability
}

func (m *Manager) TimeSinceLastMaintenance() float64 {
	return m.effTimeSinceLastMaint
}

func (m *Manager) InspectionWindow() float64 {
	return m.standardInspectionWindow
}

func (m *Manager) BaseMaintenanceWorkTime() float64 {
	return m.baseMaintWorkTime
}

func (m *Manager) InspectionWorkCompleted() float64 {
	return m.inspectionTimeCompleted
}

func (m *Manager) NumberOfMaintenances() int {
	return m.numMaintenances
}

func (m *Manager) NumberOfFaults() int {
	return m.numFaults
}

func (m *Manager) OxygenFlowModifier() float64 {
	return m.oxygenFlowModifier
}

// Cooldown is the number of sampled intervals left before faults can fire.
func (m *Manager) Cooldown() int {
	return m.delay
}

// AccidentModifier grows as the entity wears out. It is 0 with failures
// disabled.
func (m *Manager) AccidentModifier() float64 {
	if m.svc.failuresSuppressed() {
		return 0
	}
	return (100 - m.currentWearCondPercent) / 100 * wearAccidentFactor
}

// AdjustedCondition compares remaining wear life with the total life the
// entity has been credited, including time already used.
func (m *Manager) AdjustedCondition() float64 {
	return m.currentWearLifeTime / (m.baseWearLifeTime + m.cumulativeTime) * 100
}

// ReduceWearLifeTime knocks a fraction off three quarters of the remaining
// wear life, e.g. after physical damage.
func (m *Manager) ReduceWearLifeTime(fraction float64) {
	m.currentWearLifeTime = .25*m.currentWearLifeTime + .75*(1-fraction)*m.currentWearLifeTime
	m.updateWearCondition()
}

// EstimatedFaultsPerOrbit blends a prior with the faults seen so far. The
// fault counter restarts when the orbit rolls over.
func (m *Manager) EstimatedFaultsPerOrbit() float64 {
	if m.svc.Clock == nil {
		return (float64(m.numFaults) + estimatedFaultsPerOrbit) / 2
	}
	now := m.svc.Clock.Now()
	orbits := (now.TotalMillisols() - m.startedAt.TotalMillisols()) / marstime.MillisolsPerSol / marstime.SolsPerOrbit

	var avg float64
	if orbits < 1 {
		avg = (float64(m.numFaults) + estimatedFaultsPerOrbit) / 2
	} else {
		avg = (1 + float64(m.numFaults)) / orbits
	}
	if now.Orbit != m.orbitCache {
		m.orbitCache = now.Orbit
		m.numFaults = 0
	}
	return avg
}

// RepairPartDemand estimates the parts this entity's scopes will consume.
func (m *Manager) RepairPartDemand() map[part.ID]float64 {
	return m.svc.Selector.AggregatePartDemand(m.scopes)
}

// FaultStatus summarises one active occurrence.
type FaultStatus struct {
	IncidentID   int64          `json:"incident_id"`
	Name         string         `json:"name"`
	Severity     int            `json:"severity"`
	PercentFixed float64        `json:"percent_fixed"`
	Traumatized  string         `json:"traumatized,omitempty"`
	PartsNeeded  map[string]int `json:"parts_needed,omitempty"`
	Work         []Progress     `json:"work"`
}

// Status summarises the manager for reporting.
type Status struct {
	Entity                 string         `json:"entity"`
	Kind                   string         `json:"kind"`
	Grouping               string         `json:"grouping"`
	Scopes                 []string       `json:"scopes"`
	WearCondition          float64        `json:"wear_condition"`
	MalfunctionProbability float64        `json:"malfunction_probability"`
	MaintenanceProbability float64        `json:"maintenance_probability"`
	TimeSinceMaintenance   float64        `json:"time_since_maintenance"`
	InspectionWindow       float64        `json:"inspection_window"`
	OxygenFlow             float64        `json:"oxygen_flow"`
	Cooldown               int            `json:"cooldown"`
	Faults                 int            `json:"faults"`
	Maintenances           int            `json:"maintenances"`
	MaintenanceParts       map[string]int `json:"maintenance_parts,omitempty"`
	Active                 []FaultStatus  `json:"active"`
}

func (m *Manager) Status() Status {
	s := Status{
		Entity:                 m.entityName(),
		Kind:                   string(m.entity.UnitKind()),
		Grouping:               m.entity.Grouping(),
		Scopes:                 m.Scopes(),
		WearCondition:          m.currentWearCondPercent,
		MalfunctionProbability: m.malfunctionProbability,
		MaintenanceProbability: m.maintenanceProbability,
		TimeSinceMaintenance:   m.effTimeSinceLastMaint,
		InspectionWindow:       m.standardInspectionWindow,
		OxygenFlow:             m.oxygenFlowModifier,
		Cooldown:               m.delay,
		Faults:                 m.numFaults,
		Maintenances:           m.numMaintenances,
		Active:                 make([]FaultStatus, 0, len(m.occurrences)),
	}
	if len(m.partsNeededForMaintenance) > 0 {
		s.MaintenanceParts = partNames(m.partsNeededForMaintenance)
	}
	for _, o := range m.occurrences {
		fs := FaultStatus{
			IncidentID:   o.id,
			Name:         o.def.Name,
			Severity:     o.def.Severity,
			PercentFixed: o.PercentageFixed(),
			Traumatized:  o.traumatized,
		}
		if len(o.parts) > 0 {
			fs.PartsNeeded = partNames(o.parts)
		}
		for _, c := range fault.WorkCategories {
			if p, ok := o.Progress(c); ok {
				fs.Work = append(fs.Work, p)
			}
		}
		s.Active = append(s.Active, fs)
	}
	return s
}
