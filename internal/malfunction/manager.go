package malfunction

import (
	"math"
	"sort"
	"strings"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/medical"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

const (
	inspectionFrequency     = 75.0
	estimatedFaultsPerOrbit = 5.0
	maintToMalRatio         = 5.0
	maintenanceLowerLimit   = 0.0
	upperLimit              = 2.0
	lowQualityInspection    = 200.0
	highQualityInspection   = 2000.0
	accidentStress          = 5.0
	wearMalfunctionFactor   = 0.01
	sampleFrequency         = 7
	scoreDefault            = 50.0
	maxAccidentModifier     = 2.9

	// MaxDelay is the cooldown, in sampled intervals, after a fault or a
	// maintenance flag during which no new fault is rolled.
	MaxDelay = 100
	// Oxygen is the life-support effect that throttles oxygen flow.
	Oxygen = "oxygen"
	// FullFlow is the oxygen flow modifier with no faults.
	FullFlow = 100.0
)

// Option configures a Manager at construction.
type Option func(*managerOptions)

type managerOptions struct {
	resources     ResourceStore
	insideRepair  bool
	preDeployment bool
}

// WithResources sets the store faults drain resources from.
func WithResources(rs ResourceStore) Option {
	return func(o *managerOptions) { o.resources = rs }
}

// WithoutInsideRepair marks the entity as having no pressurised interior,
// so indoor repair work is never generated for it.
func WithoutInsideRepair() Option {
	return func(o *managerOptions) { o.insideRepair = false }
}

// WithPreDeployment starts the entity with wear accrued while the base was
// being set up.
func WithPreDeployment() Option {
	return func(o *managerOptions) { o.preDeployment = true }
}

// Manager tracks wear, faults and maintenance for one entity.
type Manager struct {
	entity    Entity
	svc       Services
	rng       *random.Source
	log       *logger.Logger
	resources ResourceStore

	supportInsideRepair bool

	scopes   []string
	scopeSet map[string]struct{}
	scopeMap map[string][]*part.MaintenanceScope

	delay           int
	faultedThisTick bool

	numFaults       int
	numMaintenances int
	orbitCache      int
	startedAt       marstime.MarsTime

	cumulativeFatigue  float64
	oxygenFlowModifier float64

	malfunctionProbability float64
	maintenanceProbability float64

	effTimeSinceLastMaint    float64
	baseMaintWorkTime        float64
	inspectionTimeCompleted  float64
	standardInspectionWindow float64

	currentWearCondPercent float64
	cumulativeTime         float64
	currentWearLifeTime    float64
	baseWearLifeTime       float64

	partsNeededForMaintenance map[*part.MaintenanceScope]int
	occurrences               []*Occurrence
}

// NewManager creates the manager for entity. wearLifeTime is the expected
// service life in millisols; maintWorkTime is the inspection labour needed
// for one maintenance.
func NewManager(entity Entity, wearLifeTime, maintWorkTime float64, svc Services, rng *random.Source, opts ...Option) *Manager {
	o := managerOptions{insideRepair: true}
	for _, opt := range opts {
		opt(&o)
	}
	log := svc.Log
	if log == nil {
		log = logger.NewNop()
	}
	if wearLifeTime <= 0 {
		wearLifeTime = 1
	}

	m := &Manager{
		entity:                    entity,
		svc:                       svc,
		rng:                       rng,
		log:                       log.With("entity", entity.UnitName()),
		resources:                 o.resources,
		supportInsideRepair:       o.insideRepair,
		scopeSet:                  make(map[string]struct{}),
		scopeMap:                  make(map[string][]*part.MaintenanceScope),
		oxygenFlowModifier:        FullFlow,
		baseMaintWorkTime:         maintWorkTime,
		baseWearLifeTime:          wearLifeTime,
		currentWearLifeTime:       wearLifeTime,
		currentWearCondPercent:    100,
		partsNeededForMaintenance: make(map[*part.MaintenanceScope]int),
	}
	if svc.Clock != nil {
		m.startedAt = svc.Clock.Now()
		m.orbitCache = m.startedAt.Orbit
	}

	factor, deployMax := windowFactor(entity)
	m.standardInspectionWindow = factor * wearLifeTime / inspectionFrequency
	if o.preDeployment {
		deployed := rng.Uniform(0, deployMax) + 1_000_000.0/m.standardInspectionWindow
		m.currentWearLifeTime = wearLifeTime - deployed
		m.cumulativeTime = deployed
		m.effTimeSinceLastMaint = deployed
		m.updateWearCondition()
	}
	return m
}

// windowFactor scales the inspection window by the kind of entity and
// gives the longest pre-deployment use it may have seen.
func windowFactor(e Entity) (factor, deployMax float64) {
	switch e.UnitKind() {
	case unit.KindEVASuit:
		return 0.5, 250
	case unit.KindVehicle:
		return 0.75, 500
	case unit.KindBuilding:
		cat := unit.CategoryNone
		if c, ok := e.(Categorized); ok {
			cat = c.Category()
		}
		switch cat {
		case unit.CategoryPower:
			return 0.5, 4000
		case unit.CategoryERV:
			return 0.75, 3000
		case unit.CategoryHabitat:
			return 1.0, 2000
		case unit.CategoryConnection:
			return 1.5, 1000
		}
	}
	return 1.0, 2000
}

func (m *Manager) entityName() string {
	return m.entity.UnitName()
}

// Entity returns the unit this manager looks after.
func (m *Manager) Entity() Entity {
	return m.entity
}

// AddScope registers subsystems the entity contains. Names are normalized.
func (m *Manager) AddScope(scopes ...string) {
	for _, s := range scopes {
		key := part.NormalizeScope(s)
		if key == "" {
			continue
		}
		if _, ok := m.scopeSet[key]; ok {
			continue
		}
		m.scopeSet[key] = struct{}{}
		m.scopes = append(m.scopes, key)
	}
	sort.Strings(m.scopes)
}

// Scopes returns the entity's scopes, sorted.
func (m *Manager) Scopes() []string {
	out := make([]string, len(m.scopes))
	copy(out, m.scopes)
	return out
}

// InitScopes copies the catalog's maintenance entries for every scope the
// entity has. Call it once after the scopes are added.
func (m *Manager) InitScopes(idx part.ScopeIndex) {
	m.scopeMap = idx.CloneFor(m.scopes)
}

// TimePassing runs one full tick for the entity: wear and fault rolls,
// inspection, then the effects of faults still unfixed.
func (m *Manager) TimePassing(pulse marstime.Pulse) {
	m.Advance(pulse)
	m.Inspect(pulse.Elapsed)
	if len(m.occurrences) > 0 {
		m.setLifeSupportModifiers(pulse.Elapsed)
		m.depleteResources(pulse.Elapsed)
	}
}

func (m *Manager) updateWearCondition() {
	m.currentWearCondPercent = math.Max(0, m.currentWearLifeTime) / m.baseWearLifeTime * 100
}

// Advance accrues wear and fatigue for the pulse and, on a sampled
// interval with the cooldown expired, rolls for a fault. It reports
// whether a fault was triggered.
func (m *Manager) Advance(pulse marstime.Pulse) bool {
	m.faultedThisTick = false
	elapsed := pulse.Elapsed

	m.cumulativeTime += elapsed
	m.effTimeSinceLastMaint += elapsed
	m.currentWearLifeTime -= elapsed * m.rng.Uniform(.75, 1.25)
	m.updateWearCondition()

	m.cumulativeFatigue += elapsed
	if m.cumulativeFatigue > 1 {
		portion := m.cumulativeFatigue / 2
		for i := 0; i < 2; i++ {
			if s, ok := m.pickOneScope(); ok {
				m.InjectFatigue(s, portion)
			}
		}
		m.cumulativeFatigue = 0
	}

	if !pulse.NewIntMillisol ||
		(pulse.Time.MillisolInt()%sampleFrequency)*m.rng.IntRange(-4, 4) != 0 {
		return false
	}

	m.delay--
	if m.delay > 0 {
		return false
	}

	inspectFactor := m.effTimeSinceLastMaint/m.standardInspectionWindow + .1
	wearFactor := (100 - m.currentWearCondPercent) * wearMalfunctionFactor
	chance := elapsed * inspectFactor * wearFactor
	m.malfunctionProbability = 1 - math.Exp(-chance)

	if elapsed > 0 && m.rng.Percent(m.malfunctionProbability) {
		m.delay = MaxDelay
		if m.selectFault(m.entity) {
			m.faultedThisTick = true
			return true
		}
	}
	return false
}

// Inspect rolls for a maintenance need. It does nothing on a tick in which
// a fault fired, and it never touches the fault cooldown.
func (m *Manager) Inspect(elapsed float64) {
	if m.faultedThisTick {
		return
	}
	chance := m.malfunctionProbability * (1 + float64(m.numMaintenances)/5.0) * maintToMalRatio
	m.maintenanceProbability = math.Max(maintenanceLowerLimit, math.Min(2*upperLimit, chance))

	if elapsed <= 0 || !m.rng.Percent(m.maintenanceProbability) {
		return
	}
	if len(m.partsNeededForMaintenance) > 0 {
		return
	}
	m.generateNewMaintenanceParts()
	if len(m.partsNeededForMaintenance) == 0 {
		return
	}
	m.log.Infof("Maintenance flagged, %d part type(s) needed", len(m.partsNeededForMaintenance))
	m.publish(events.EventTypeMaintenanceFlagged, m.entityName(), events.PartsPayload{Parts: partNames(m.partsNeededForMaintenance)})
	if m.svc.Fulfillment != nil {
		m.svc.Fulfillment.RetrieveMaintenanceParts(m.entity)
	}
}

// InspectAndTrackParts consumes pending maintenance parts when they are all
// in stock, otherwise runs an ordinary inspection.
func (m *Manager) InspectAndTrackParts(elapsed float64, store ItemStore) {
	if m.MaintenancePartsInStorage(store) {
		m.ConsumeMaintenanceParts(store)
		return
	}
	m.Inspect(elapsed)
}

// RecordInspectionWork adds maintenance labour and reports whether more is
// still needed. Completing the base work time counts as one maintenance and
// restores wear life.
func (m *Manager) RecordInspectionWork(t float64) bool {
	m.inspectionTimeCompleted += t
	if m.inspectionTimeCompleted < m.baseMaintWorkTime {
		return true
	}
	m.inspectionTimeCompleted = 0
	m.effTimeSinceLastMaint = 0
	m.numMaintenances++

	restored := m.currentWearLifeTime + t*m.rng.Uniform(lowQualityInspection, highQualityInspection)
	ceiling := m.baseWearLifeTime - m.cumulativeTime*m.rng.Uniform(.95, 1)
	m.currentWearLifeTime = math.Min(restored, ceiling)
	m.updateWearCondition()
	m.log.Infof("Maintenance #%d completed, wear condition %.1f%%", m.numMaintenances, m.currentWearCondPercent)
	return false
}

func (m *Manager) selectFault(actor Actor) bool {
	if m.svc.Selector == nil {
		return false
	}
	def := m.svc.Selector.Pick(m.rng, m.scopes)
	if def == nil {
		return false
	}
	return m.TriggerFault(def, actor) != nil
}

// TriggerFault creates an occurrence of def caused by actor, publishes it
// and feeds it to the reliability model. It returns nil when failures are
// globally suppressed or no Selector hands out incident ids.
func (m *Manager) TriggerFault(def *fault.Definition, actor Actor) *Occurrence {
	if m.svc.failuresSuppressed() {
		m.log.Debugf("%s suppressed: failures disabled", def.Name)
		return nil
	}
	if m.svc.Selector == nil {
		m.log.Warnf("%s dropped: no fault selector configured", def.Name)
		return nil
	}
	o := newOccurrence(m, m.svc.Selector.NextIncidentID(), def, m.rng)
	if m.svc.Clock != nil {
		o.triggeredAt = m.svc.Clock.Now()
	}
	if actor != nil && actor.UnitKind() == unit.KindPerson {
		o.traumatized = actor.UnitName()
	}
	m.occurrences = append(m.occurrences, o)
	m.numFaults++

	m.registerFault(o, actor)

	if len(o.parts) == 0 {
		m.log.Debugf("%s needs no repair parts", def.Name)
	} else if m.svc.Model != nil {
		m.svc.Model.Update(o, o.triggeredAt)
	}
	if o.traumatized != "" {
		m.issueMedicalComplaints(o)
	}
	if o.IsFixed() {
		m.removeFixed(o)
	}
	return o
}

func (m *Manager) registerFault(o *Occurrence, actor Actor) {
	p := events.FaultPayload{
		IncidentID:  o.id,
		Fault:       o.def.Name,
		Severity:    o.def.Severity,
		Cause:       events.CausePartsFailure,
		WhoAffected: "N/A",
		Grouping:    m.entity.Grouping(),
	}
	actorID := m.entityName()
	if actor != nil {
		actorID = actor.UnitName()
		switch actor.UnitKind() {
		case unit.KindPerson:
			p.Cause = events.CauseHumanFactors
			p.WhileDoing = taskOf(actor)
			p.WhoAffected = actor.UnitName()
		case unit.KindRobot:
			p.Cause = events.CauseProgrammingError
			p.WhileDoing = taskOf(actor)
			p.WhoAffected = actor.UnitName()
		case unit.KindBuilding:
			if strings.Contains(o.def.Name, fault.MeteoriteImpactDamage) {
				p.Cause = events.CauseActsOfGod
			}
		default:
			if actor.UnitName() != m.entityName() {
				p.WhoAffected = actor.UnitName()
			}
		}
	}
	m.publish(events.EventTypeFaultTriggered, actorID, p)
	m.log.Warnf("%s (incident %d), probable cause: %s, affecting %s", o.def.Name, o.id, p.Cause, p.WhoAffected)
}

func taskOf(a Actor) string {
	if t, ok := a.(Tasked); ok {
		return t.Task()
	}
	return ""
}

// issueMedicalComplaints rolls each of the fault's complaints against every
// person exposed to the entity.
func (m *Manager) issueMedicalComplaints(o *Occurrence) {
	if len(o.def.MedicalComplaints) == 0 || m.svc.Medical == nil {
		return
	}
	types := make([]string, 0, len(o.def.MedicalComplaints))
	for t := range o.def.MedicalComplaints {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, person := range m.entity.AffectedPeople() {
		for _, t := range types {
			if !m.rng.Percent(o.def.MedicalComplaints[t]) {
				continue
			}
			c, ok := m.svc.Medical.ComplaintByType(medical.ComplaintType(t))
			if !ok {
				m.log.Warnf("%s: unknown medical complaint %s", o.def.Name, t)
				continue
			}
			person.AddComplaint(c)
			m.log.Infof("%s suffered %s from %s", person.UnitName(), c.Name, o.def.Name)
		}
	}
}

// removeFixed is called by an occurrence whose last category completed.
func (m *Manager) removeFixed(o *Occurrence) {
	idx := -1
	for i, cur := range m.occurrences {
		if cur == o {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	m.occurrences = append(m.occurrences[:idx], m.occurrences[idx+1:]...)

	if _, ok := o.def.LifeSupportEffects[Oxygen]; ok {
		m.oxygenFlowModifier = FullFlow
		m.log.Info("Oxygen flow restored")
	}

	chief, _ := o.MostProductiveRepairer()
	m.publish(events.EventTypeFaultFixed, m.entityName(), events.FaultPayload{
		IncidentID:  o.id,
		Fault:       o.def.Name,
		Severity:    o.def.Severity,
		WhoAffected: chief,
		Grouping:    m.entity.Grouping(),
	})
	m.log.Infof("%s (incident %d) fixed, led by %q", o.def.Name, o.id, chief)
}

func (m *Manager) publish(t events.EventType, actorID string, payload interface{}) {
	if m.svc.Events == nil {
		return
	}
	e := events.Event{
		Type:     t,
		EntityID: m.entityName(),
		ActorID:  actorID,
		Payload:  payload,
	}
	if m.svc.Clock != nil {
		now := m.svc.Clock.Now()
		e.MissionSol, e.Millisol = now.MissionSol, now.Millisol
	}
	m.svc.Events.Publish(e)
}

// ClaimRepairParts takes the occurrence's needed parts from store, fits
// whatever is in stock and reports any shortfall. It returns what was used.
func (m *Manager) ClaimRepairParts(store ItemStore, o *Occurrence) map[*part.MaintenanceScope]int {
	consumed := make(map[*part.MaintenanceScope]int)
	shortfall := make(map[*part.MaintenanceScope]int)
	report := make(map[*part.MaintenanceScope]int)
	for _, e := range o.sortedParts() {
		n := o.parts[e]
		missing := store.RetrieveItem(e.Part.ID, n)
		if got := n - missing; got > 0 {
			o.RepairWithParts(e, got, store)
			consumed[e] = got
		}
		if missing > 0 {
			shortfall[e] = missing
		}
		report[e] = missing
	}
	if len(shortfall) > 0 {
		m.log.Warnf("%s short of %d part type(s)", o.def.Name, len(shortfall))
		m.publish(events.EventTypePartsShortfall, m.entityName(), events.PartsPayload{Parts: partNames(shortfall)})
	}
	if m.svc.Fulfillment != nil && len(report) > 0 {
		m.svc.Fulfillment.RecordShortfall(m.entity, report)
	}
	return consumed
}

func partNames(parts map[*part.MaintenanceScope]int) map[string]int {
	out := make(map[string]int, len(parts))
	for e, n := range parts {
		out[e.Part.Name] += n
	}
	return out
}
