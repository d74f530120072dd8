package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/crew"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/inventory"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

const (
	// DefaultShift is how long a crew member works one job before handing
	// it over, in millisols.
	DefaultShift = 250.0
	// accidentChance is the percent chance per millisol of repair work that
	// a fully worn entity causes an accident.
	accidentChance = 0.05
)

type jobKind int

const (
	repairJob jobKind = iota
	maintenanceJob
)

type assignment struct {
	kind     jobKind
	site     *Site
	manager  *malfunction.Manager
	fault    *malfunction.Occurrence
	category fault.WorkCategory
	shiftEnd float64
	entered  bool
}

type shortKey struct {
	entity string
	part   part.ID
}

type shortage struct {
	name     string
	grouping string
	quantity int
}

// RepairCrewSystem sends idle crew to the most serious fault of their
// settlement, fetches the repair parts and carries out maintenance. It is
// also the engine's maintenance fulfillment: shortfalls reported by the
// managers are delivered by the next resupply.
type RepairCrewSystem struct {
	logger  *logger.Logger
	metrics *metrics.Collector
	rng     *random.Source
	faults  *FaultSystem

	crew        []*crew.Member
	stores      map[string]*inventory.Inventory
	assignments map[string]*assignment
	claimed     map[*malfunction.Occurrence]bool

	shiftLength     float64
	resupplyEvery   int
	lastResupplySol int

	mu         sync.Mutex
	requested  map[string]bool
	shortfalls map[shortKey]shortage
}

func NewRepairCrewSystem(fs *FaultSystem, log *logger.Logger, rng *random.Source) *RepairCrewSystem {
	return &RepairCrewSystem{
		logger:      log,
		rng:         rng,
		faults:      fs,
		stores:      make(map[string]*inventory.Inventory),
		assignments: make(map[string]*assignment),
		claimed:     make(map[*malfunction.Occurrence]bool),
		shiftLength: DefaultShift,
		requested:   make(map[string]bool),
		shortfalls:  make(map[shortKey]shortage),
	}
}

func (rs *RepairCrewSystem) SetMetrics(c *metrics.Collector) {
	rs.metrics = c
}

// SetShift changes the shift length in millisols.
func (rs *RepairCrewSystem) SetShift(millisols float64) {
	if millisols > 0 {
		rs.shiftLength = millisols
	}
}

// SetResupply delivers outstanding shortfalls every n sols; 0 disables it.
func (rs *RepairCrewSystem) SetResupply(sols, fromSol int) {
	rs.resupplyEvery = sols
	rs.lastResupplySol = fromSol
}

func (rs *RepairCrewSystem) RegisterCrew(m *crew.Member) {
	rs.crew = append(rs.crew, m)
	sort.Slice(rs.crew, func(i, j int) bool { return rs.crew[i].ID < rs.crew[j].ID })
}

// RegisterStore sets the parts store shared by a settlement.
func (rs *RepairCrewSystem) RegisterStore(grouping string, inv *inventory.Inventory) {
	rs.stores[grouping] = inv
}

func (rs *RepairCrewSystem) Store(grouping string) (*inventory.Inventory, bool) {
	inv, ok := rs.stores[grouping]
	return inv, ok
}

// RetrieveMaintenanceParts marks the entity for a maintenance visit.
func (rs *RepairCrewSystem) RetrieveMaintenanceParts(e malfunction.Entity) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.requested[e.UnitName()] = true
}

// RecordShortfall keeps the latest missing quantity per entity and part. A
// zero quantity means the part is no longer short and drops the entry.
func (rs *RepairCrewSystem) RecordShortfall(e malfunction.Entity, missing map[*part.MaintenanceScope]int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for entry, n := range missing {
		key := shortKey{entity: e.UnitName(), part: entry.Part.ID}
		if n <= 0 {
			delete(rs.shortfalls, key)
			continue
		}
		rs.shortfalls[key] = shortage{
			name:     entry.Part.Name,
			grouping: e.Grouping(),
			quantity: n,
		}
	}
}

// Shortfalls sums the outstanding shortfalls by part name.
func (rs *RepairCrewSystem) Shortfalls() map[string]int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]int)
	for _, s := range rs.shortfalls {
		out[s.name] += s.quantity
	}
	return out
}

// OnTimeTick delivers resupplies, advances the current jobs and hands out
// new ones to whoever is idle.
func (rs *RepairCrewSystem) OnTimeTick(pulse marstime.Pulse) {
	if rs.resupplyEvery > 0 && pulse.Time.MissionSol-rs.lastResupplySol >= rs.resupplyEvery {
		rs.resupply()
		rs.lastResupplySol = pulse.Time.MissionSol
	}

	now := pulse.Time.TotalMillisols()
	for _, m := range rs.crew {
		if a, ok := rs.assignments[m.ID]; ok {
			rs.work(m, a, pulse, now)
			continue
		}
		rs.assign(m, now)
	}
}

func (rs *RepairCrewSystem) resupply() {
	rs.mu.Lock()
	delivered := rs.shortfalls
	rs.shortfalls = make(map[shortKey]shortage)
	rs.mu.Unlock()

	total := 0
	for key, s := range delivered {
		if inv, ok := rs.stores[s.grouping]; ok {
			inv.AddItem(key.part, s.quantity)
			total += s.quantity
		}
	}
	if total > 0 {
		rs.logger.Infof("Resupply delivered %d part(s)", total)
	}
}

func (rs *RepairCrewSystem) work(m *crew.Member, a *assignment, pulse marstime.Pulse, now float64) {
	if a.kind == maintenanceJob {
		if !a.manager.RecordInspectionWork(pulse.Elapsed) {
			rs.logger.Infof("%s finished maintenance on %s", m.Name, a.site.Name)
			if rs.metrics != nil {
				rs.metrics.RecordMaintenance()
			}
			rs.release(m, a)
		}
		return
	}

	if !isActive(a.manager, a.fault) || a.fault.IsWorkDone(a.category) {
		rs.release(m, a)
		return
	}
	if now >= a.shiftEnd {
		a.fault.LeaveWork(a.category, m.Name)
		rs.logger.Debugf("%s handed over %s on %s", m.Name, a.fault.Name(), a.site.Name)
		rs.release(m, a)
		return
	}

	left := a.fault.AddWorkTime(a.category, pulse.Elapsed, m.Name)
	if rs.rng.Percent(a.manager.AccidentModifier() * accidentChance * pulse.Elapsed) {
		a.manager.CreateAccident(a.site.Name, m)
	}
	if left > 0 || a.fault.IsWorkDone(a.category) {
		rs.release(m, a)
	}
}

func isActive(m *malfunction.Manager, o *malfunction.Occurrence) bool {
	for _, cur := range m.Faults() {
		if cur == o {
			return true
		}
	}
	return false
}

// assign gives m the most serious repair it can start in its settlement,
// or failing that a maintenance visit.
func (rs *RepairCrewSystem) assign(m *crew.Member, now float64) {
	store := rs.stores[m.Grouping]

	var best *assignment
	for _, sm := range rs.faults.registered() {
		if sm.site.Grouping() != m.Grouping {
			continue
		}
		for _, c := range fault.WorkCategories {
			o := sm.manager.MostSeriousFaultNeeding(c)
			if o == nil || (best != nil && o.Severity() <= best.fault.Severity()) {
				continue
			}
			if !rs.partsReady(sm.manager, o, store) {
				continue
			}
			best = &assignment{kind: repairJob, site: sm.site, manager: sm.manager, fault: o, category: c}
		}
	}
	if best != nil {
		best.fault.AddWorkTime(best.category, 0, m.Name)
		best.shiftEnd = now + rs.shiftLength
		m.SetTask(fmt.Sprintf("Repairing %s on %s", best.fault.Name(), best.site.Name))
		rs.start(m, best)
		return
	}

	for _, sm := range rs.faults.registered() {
		if sm.site.Grouping() != m.Grouping || rs.beingMaintained(sm.site) {
			continue
		}
		if !rs.maintenanceDue(sm) {
			continue
		}
		if sm.manager.AreMaintenancePartsNeeded() {
			if store == nil || !sm.manager.MaintenancePartsInStorage(store) {
				continue
			}
			sm.manager.ConsumeMaintenanceParts(store)
		}
		rs.mu.Lock()
		delete(rs.requested, sm.site.Name)
		rs.mu.Unlock()
		m.SetTask("Maintaining " + sm.site.Name)
		rs.start(m, &assignment{kind: maintenanceJob, site: sm.site, manager: sm.manager})
		return
	}
}

// partsReady claims the parts o still needs and reports whether it can be
// worked on. After the first claim, o is only retried once the store holds
// at least one of the missing parts.
func (rs *RepairCrewSystem) partsReady(mgr *malfunction.Manager, o *malfunction.Occurrence, store *inventory.Inventory) bool {
	needed := o.RepairParts()
	if len(needed) == 0 {
		delete(rs.claimed, o)
		return true
	}
	if store == nil {
		return false
	}
	if rs.claimed[o] && !anyInStock(store, needed) {
		return false
	}
	rs.claimed[o] = true
	mgr.ClaimRepairParts(store, o)
	if len(o.RepairParts()) == 0 {
		delete(rs.claimed, o)
		return true
	}
	return false
}

func anyInStock(store *inventory.Inventory, needed map[*part.MaintenanceScope]int) bool {
	for e := range needed {
		if store.ItemStored(e.Part.ID) > 0 {
			return true
		}
	}
	return false
}

func (rs *RepairCrewSystem) maintenanceDue(sm *siteManager) bool {
	rs.mu.Lock()
	requested := rs.requested[sm.site.Name]
	rs.mu.Unlock()
	return requested || sm.manager.TimeSinceLastMaintenance() >= sm.manager.InspectionWindow()
}

func (rs *RepairCrewSystem) beingMaintained(s *Site) bool {
	for _, a := range rs.assignments {
		if a.kind == maintenanceJob && a.site == s {
			return true
		}
	}
	return false
}

func (rs *RepairCrewSystem) start(m *crew.Member, a *assignment) {
	for _, o := range a.site.Occupants() {
		if o == m {
			a.entered = false
			rs.assignments[m.ID] = a
			return
		}
	}
	a.site.Enter(m)
	a.entered = true
	rs.assignments[m.ID] = a
}

func (rs *RepairCrewSystem) release(m *crew.Member, a *assignment) {
	if a.entered {
		a.site.Leave(m)
	}
	m.SetTask("")
	delete(rs.assignments, m.ID)
}

// Assignment reports what a crew member is working on, if anything.
func (rs *RepairCrewSystem) Assignment(memberID string) (site string, faultName string, ok bool) {
	a, ok := rs.assignments[memberID]
	if !ok {
		return "", "", false
	}
	if a.fault != nil {
		faultName = a.fault.Name()
	}
	return a.site.Name, faultName, true
}
