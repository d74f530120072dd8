package malfunction

import (
	"testing"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// attach registers a hand-built occurrence with exact EVA work on m.
func attach(m *Manager, def *fault.Definition, expected float64, workers int) *Occurrence {
	o := &Occurrence{
		id:      m.svc.Selector.NextIncidentID(),
		def:     def,
		manager: m,
		parts:   map[*part.MaintenanceScope]int{},
	}
	o.progress[fault.EVA] = &repairProgress{
		expected: expected,
		desired:  workers,
		active:   map[string]float64{},
		departed: map[string]float64{},
	}
	m.occurrences = append(m.occurrences, o)
	return o
}

func TestInsideRepairUnsupportedDropsIndoorWork(t *testing.T) {
	f := newFixture(shortCircuit())
	m := f.manager(habitat(), 21, WithoutInsideRepair())
	def, _ := f.catalog.ByName("Short Circuit")

	o := m.TriggerFault(def, nil)
	require.NotNil(t, o)
	assert.False(t, o.HasWork(fault.Indoor))
	assert.True(t, o.HasWork(fault.EVA))
	_, ok := o.Progress(fault.Indoor)
	assert.False(t, ok)
}

func TestAddWorkTimeCompletesAndRemoves(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 3)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 5, 2)

	left := o.AddWorkTime(fault.EVA, 3, "Alice")
	assert.Zero(t, left)
	p, _ := o.Progress(fault.EVA)
	assert.Equal(t, 3.0, p.Completed)
	assert.True(t, m.HasFault())

	left = o.AddWorkTime(fault.EVA, 4, "Alice")
	assert.Equal(t, 2.0, left)
	p, _ = o.Progress(fault.EVA)
	assert.Equal(t, 5.0, p.Completed)
	assert.True(t, o.IsFixed())
	assert.False(t, m.HasFault())

	fixed := f.sink.ofType(events.EventTypeFaultFixed)
	require.Len(t, fixed, 1)
	payload := fixed[0].Payload.(events.FaultPayload)
	assert.Equal(t, "Alice", payload.WhoAffected)
	assert.Equal(t, o.ID(), payload.IncidentID)
}

func TestLeaveWorkHistory(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 4)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 10, 3)

	o.AddWorkTime(fault.EVA, 0, "Bob")
	o.AddWorkTime(fault.EVA, 2.5, "Carol")
	p, _ := o.Progress(fault.EVA)
	require.Equal(t, 2, p.ActiveWorkers)

	assert.True(t, o.LeaveWork(fault.EVA, "Bob"))
	assert.True(t, o.LeaveWork(fault.EVA, "Carol"))
	assert.False(t, o.LeaveWork(fault.EVA, "Carol"))

	p, _ = o.Progress(fault.EVA)
	assert.Zero(t, p.ActiveWorkers)
	assert.NotContains(t, p.Departed, "Bob")
	assert.Equal(t, 2.5, p.Departed["Carol"])

	// A returning worker picks up their earlier contribution.
	o.AddWorkTime(fault.EVA, 1, "Carol")
	p, _ = o.Progress(fault.EVA)
	assert.Equal(t, 3.5, p.Contributions["Carol"])
	assert.NotContains(t, p.Departed, "Carol")
}

func TestUndeclaredCategoryReturnsTime(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 5)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 10, 1)

	assert.Equal(t, 4.0, o.AddWorkTime(fault.Indoor, 4, "Dan"))
	assert.Equal(t, 4.0, o.AddWorkTime(fault.WorkCategory(9), 4, "Dan"))
	assert.True(t, o.IsWorkDone(fault.Indoor))
	assert.False(t, o.LeaveWork(fault.Indoor, "Dan"))
	assert.Zero(t, o.OpenSlots(fault.Indoor))
}

func TestProgressOfUndeclaredCategoryIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixture(airLeak())
	svc := f.services()
	svc.Log = logger.FromZap(zap.New(core))
	m := NewManager(habitat(), 1000, 50, svc, random.New(6))
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 10, 1)

	_, ok := o.Progress(fault.Indoor)
	assert.False(t, ok)
	entries := logs.FilterMessage("Air Leak has no INDOOR work").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)

	_, ok = o.Progress(fault.EVA)
	assert.True(t, ok)
	assert.Equal(t, 1, logs.Len())
}

func TestWorkerSlotsNeverNegative(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 6)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 100, 2)

	assert.Zero(t, o.AddWorkTime(fault.EVA, 1, "a"))
	assert.Zero(t, o.AddWorkTime(fault.EVA, 1, "b"))
	assert.Equal(t, 1.0, o.AddWorkTime(fault.EVA, 1, "c"))
	assert.Zero(t, o.OpenSlots(fault.EVA))

	p, _ := o.Progress(fault.EVA)
	assert.Equal(t, "a", p.Chief)
	assert.Equal(t, "b", p.Deputy)
	assert.LessOrEqual(t, p.ActiveWorkers, p.DesiredWorkers)

	o.LeaveWork(fault.EVA, "a")
	assert.Equal(t, 1, o.OpenSlots(fault.EVA))
	assert.Zero(t, o.AddWorkTime(fault.EVA, 1, "c"))
}

func TestWorkConservation(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 7)
	def, _ := f.catalog.ByName("Air Leak")
	rng := random.New(99)
	workers := []string{"a", "b", "c", "d"}

	for round := 0; round < 50; round++ {
		o := attach(m, def, rng.Uniform(1, 40), 3)
		for i := 0; i < 40; i++ {
			before, _ := o.Progress(fault.EVA)
			tm := rng.Uniform(-1, 6)
			w := workers[rng.IntN(len(workers))]
			left := o.AddWorkTime(fault.EVA, tm, w)
			after, _ := o.Progress(fault.EVA)

			require.LessOrEqual(t, after.Completed, after.Expected)
			require.GreaterOrEqual(t, after.Completed, before.Completed)
			require.InDelta(t, tm, after.Completed-before.Completed+left, 1e-9)
			if rng.Percent(20) {
				o.LeaveWork(fault.EVA, w)
			}
		}
	}
}

func TestMostProductiveRepairer(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 8)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 100, 3)

	_, ok := o.MostProductiveRepairer()
	assert.False(t, ok)

	o.AddWorkTime(fault.EVA, 0, "Idle")
	name, ok := o.MostProductiveRepairer()
	assert.False(t, ok, "joining without working is no contribution")
	assert.Empty(t, name)

	o.AddWorkTime(fault.EVA, 2, "zed")
	o.AddWorkTime(fault.EVA, 2, "amy")
	o.AddWorkTime(fault.EVA, 1, "kim")
	name, ok = o.MostProductiveRepairer()
	assert.True(t, ok)
	assert.Equal(t, "amy", name)

	o.LeaveWork(fault.EVA, "zed")
	o.AddWorkTime(fault.EVA, 1, "amy")
	o.AddWorkTime(fault.EVA, 3, "kim")
	name, _ = o.MostProductiveRepairer()
	assert.Equal(t, "kim", name)
}

func TestRepairWithPartsDepositsWaste(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 9)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 10, 1)
	fan := m.scopeMap["life support"][1]
	o.parts[fan] = 2

	store := newFakeStore()
	o.RepairWithParts(fan, 1, store)
	assert.Equal(t, 1, o.RepairParts()[fan])
	o.RepairWithParts(fan, 5, store)
	assert.NotContains(t, o.RepairParts(), fan)
	assert.InDelta(t, 4.0, store.masses[WasteResource], 1e-9)
}

func TestPercentageFixed(t *testing.T) {
	f := newFixture(airLeak())
	m := f.manager(habitat(), 10)
	def, _ := f.catalog.ByName("Air Leak")
	o := attach(m, def, 8, 1)
	o.AddWorkTime(fault.EVA, 2, "a")
	assert.InDelta(t, 25, o.PercentageFixed(), 1e-9)
}
