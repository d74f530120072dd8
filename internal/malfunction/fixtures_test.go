package malfunction

import (
	"sync"
	"sync/atomic"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/crew"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/medical"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

type fakeEntity struct {
	name     string
	kind     unit.Kind
	category unit.Category
	grouping string
	people   []*crew.Member
}

func (e *fakeEntity) UnitName() string        { return e.name }
func (e *fakeEntity) UnitKind() unit.Kind     { return e.kind }
func (e *fakeEntity) Category() unit.Category { return e.category }
func (e *fakeEntity) Grouping() string        { return e.grouping }
func (e *fakeEntity) AffectedPeople() []Person {
	out := make([]Person, len(e.people))
	for i, p := range e.people {
		out[i] = p
	}
	return out
}

type fakeClock struct {
	now marstime.MarsTime
}

func (c *fakeClock) Now() marstime.MarsTime { return c.now }

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) ofType(t events.EventType) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingFulfillment struct {
	retrieved  int
	shortfalls []map[*part.MaintenanceScope]int
}

func (f *recordingFulfillment) RetrieveMaintenanceParts(Entity) {
	f.retrieved++
}

func (f *recordingFulfillment) RecordShortfall(_ Entity, s map[*part.MaintenanceScope]int) {
	f.shortfalls = append(f.shortfalls, s)
}

type fakeStore struct {
	items  map[part.ID]int
	masses map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: map[part.ID]int{}, masses: map[string]float64{}}
}

func (s *fakeStore) RetrieveItem(id part.ID, n int) int {
	have := s.items[id]
	if have >= n {
		s.items[id] = have - n
		return 0
	}
	s.items[id] = 0
	return n - have
}

func (s *fakeStore) ItemStored(id part.ID) int { return s.items[id] }

func (s *fakeStore) StoreMass(resource string, kg float64) { s.masses[resource] += kg }

func (s *fakeStore) RetrieveAmount(resource string, amount float64) float64 {
	if amount > s.masses[resource] {
		amount = s.masses[resource]
	}
	s.masses[resource] -= amount
	return amount
}

func (s *fakeStore) AmountStored(resource string) float64 { return s.masses[resource] }

const (
	valveID  part.ID = 1
	fanID    part.ID = 2
	wrenchID part.ID = 3
)

type fixture struct {
	parts       *part.Registry
	scopes      part.ScopeIndex
	catalog     *fault.Catalog
	model       *ReliabilityModel
	selector    *Selector
	sink        *recordingSink
	clock       *fakeClock
	fulfillment *recordingFulfillment
	noFailures  *atomic.Bool
	medical     *medical.Registry
}

func airLeak() *fault.Definition {
	return &fault.Definition{
		Name:        "Air Leak",
		Severity:    60,
		Probability: 10,
		Effort:      map[fault.WorkCategory]fault.Effort{fault.EVA: {WorkTime: 10, Workers: 2}},
		Systems:     []string{"life support"},
		ResourceEffects: map[string]float64{
			"oxygen": 2,
		},
		LifeSupportEffects: map[string]float64{Oxygen: -5},
		MedicalComplaints:  map[string]float64{"SUFFOCATION": 100},
		Parts: []fault.RepairPart{
			{PartID: valveID, Name: "valve", Number: 1, Probability: 60},
			{PartID: fanID, Name: "fan", Number: 1, Probability: 40},
		},
	}
}

func shortCircuit() *fault.Definition {
	return &fault.Definition{
		Name:        "Short Circuit",
		Severity:    30,
		Probability: 20,
		Effort: map[fault.WorkCategory]fault.Effort{
			fault.Indoor: {WorkTime: 10, Workers: 1},
			fault.EVA:    {WorkTime: 5, Workers: 1},
		},
		Systems: []string{"power"},
		Parts:   []fault.RepairPart{{PartID: wrenchID, Name: "wrench", Number: 1, Probability: 100}},
	}
}

func newFixture(defs ...*fault.Definition) *fixture {
	valve := part.New(valveID, "valve", 0.5, false, 400)
	fan := part.New(fanID, "fan", 2, false, 600)
	wrench := part.New(wrenchID, "wrench", 1, true, 0)

	idx := part.ScopeIndex{}
	idx.Add(part.MaintenanceScope{Scope: "life support", Part: valve, Probability: 100, MaxNumber: 1})
	idx.Add(part.MaintenanceScope{Scope: "life support", Part: fan, Probability: 100, MaxNumber: 2})
	idx.Add(part.MaintenanceScope{Scope: "power", Part: wrench, Probability: 100, MaxNumber: 1})

	catalog := fault.NewCatalog(defs)
	log := logger.NewNop()
	model := NewReliabilityModel(catalog, log)
	return &fixture{
		parts:       part.NewRegistry(valve, fan, wrench),
		scopes:      idx,
		catalog:     catalog,
		model:       model,
		selector:    NewSelector(catalog, model, log),
		sink:        &recordingSink{},
		clock:       &fakeClock{now: marstime.New(10, 0)},
		fulfillment: &recordingFulfillment{},
		noFailures:  &atomic.Bool{},
		medical:     medical.NewRegistry(&medical.Complaint{Type: "SUFFOCATION", Name: "Suffocation", Seriousness: 80}),
	}
}

func (f *fixture) services() Services {
	return Services{
		Selector:    f.selector,
		Model:       f.model,
		Events:      f.sink,
		Medical:     f.medical,
		Clock:       f.clock,
		Fulfillment: f.fulfillment,
		Log:         logger.NewNop(),
		NoFailures:  f.noFailures,
	}
}

func (f *fixture) manager(e *fakeEntity, seed uint64, opts ...Option) *Manager {
	m := NewManager(e, 1000, 50, f.services(), random.New(seed), opts...)
	m.AddScope("Life_Support", "power")
	m.InitScopes(f.scopes)
	return m
}

func habitat(people ...*crew.Member) *fakeEntity {
	return &fakeEntity{name: "Lander Hab", kind: unit.KindBuilding, category: unit.CategoryHabitat, grouping: "Base", people: people}
}

// pulses feeds n one-millisol pulses, each crossing a whole millisol.
func pulses(m *Manager, clock *fakeClock, n int) {
	for i := 0; i < n; i++ {
		p := marstime.Next(int64(i+1), clock.now, 1)
		clock.now = p.Time
		m.TimePassing(p)
	}
}
