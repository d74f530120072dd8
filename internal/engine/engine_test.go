package engine

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/crew"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/inventory"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/catalog"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
)

const testCatalog = `
parts:
  - {id: 1, name: valve, mass: 0.5, mtbf: 400}
resources: [oxygen]
complaints:
  - {type: SUFFOCATION, name: Suffocation, seriousness: 80}
scopes:
  life support:
    - {part: valve, probability: 100, max_number: 1}
faults:
  - name: Air Leak
    severity: 60
    probability: 50
    work:
      inside: {time: 10, workers: 1}
    systems: [life support]
    parts:
      - {part: valve, number: 1, probability: 100}
  - name: Fan Stall
    severity: 20
    probability: 50
    work:
      inside: {time: 10, workers: 1}
    systems: [heating]
`

// A wear life this long keeps the random fault and maintenance rolls at
// practically zero, so only the faults a test triggers happen.
const quietWearLife = 1e12

func testEngine(t *testing.T, mutate func(*config.EngineConfig)) *Engine {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)

	cfg := config.DefaultConfig().Engine
	cfg.MillisolsPerTick = 10
	cfg.Workers = 4
	cfg.Seed = 7
	cfg.SnapshotEvery = 0
	cfg.ResupplyEvery = 0
	if mutate != nil {
		mutate(&cfg)
	}
	return NewEngine(events.NewEventLog(nil), logger.NewNop(), cat, cfg)
}

func addQuietSite(e *Engine, name string, scopes ...string) *Site {
	s := NewSite(name, unit.KindBuilding, unit.CategoryHabitat, "Alpha")
	e.AddSite(s, SiteSpec{WearLifeTime: quietWearLife, MaintWorkTime: 30, Scopes: scopes})
	return s
}

func trigger(t *testing.T, e *Engine, site, faultName string) *malfunction.Occurrence {
	t.Helper()
	m, ok := e.Manager(site)
	require.True(t, ok)
	def, ok := e.catalog.Faults.ByName(faultName)
	require.True(t, ok)
	o := m.TriggerFault(def, nil)
	require.NotNil(t, o)
	return o
}

func stepUntil(t *testing.T, e *Engine, max int, done func() bool) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < max; i++ {
		if done() {
			return
		}
		e.Step(ctx)
	}
	require.True(t, done(), "condition not reached after %d steps", max)
}

func stockedStore(n int) *inventory.Inventory {
	inv := inventory.New("Alpha")
	if n > 0 {
		inv.AddItem(part.ID(1), n)
	}
	return inv
}

func TestCrewRepairsMostSeriousFaultFirst(t *testing.T) {
	e := testEngine(t, nil)
	addQuietSite(e, "Lab", "heating")
	addQuietSite(e, "Hab", "life support")
	ada := crew.NewMember("c1", "Ada", crew.RoleEngineer, "Alpha")
	e.AddCrew(ada)
	store := stockedStore(1)
	e.AddStore("Alpha", store)

	trigger(t, e, "Lab", "Fan Stall")
	trigger(t, e, "Hab", "Air Leak")

	e.Step(context.Background())
	site, faultName, ok := e.repairSystem.Assignment("c1")
	require.True(t, ok)
	assert.Equal(t, "Hab", site)
	assert.Equal(t, "Air Leak", faultName)
	assert.Equal(t, 0, store.ItemStored(part.ID(1)), "the valve is claimed before work starts")
	assert.Equal(t, "Repairing Air Leak on Hab", ada.Task())

	hab, _ := e.Manager("Hab")
	lab, _ := e.Manager("Lab")
	stepUntil(t, e, 20, func() bool { return !hab.HasFault() })
	assert.True(t, lab.HasFault())

	stepUntil(t, e, 20, func() bool { return !lab.HasFault() })

	fixed := e.EventLog().GetByType(events.EventTypeFaultFixed)
	require.Len(t, fixed, 2)
	first := fixed[0].Payload.(events.FaultPayload)
	assert.Equal(t, "Air Leak", first.Fault)
	assert.Equal(t, "Ada", first.WhoAffected)
	assert.Equal(t, "Fan Stall", fixed[1].Payload.(events.FaultPayload).Fault)

	e.Step(context.Background())
	_, _, busy := e.repairSystem.Assignment("c1")
	assert.False(t, busy)
	assert.Empty(t, ada.Task())
}

func TestCrewStaysInOwnSettlement(t *testing.T) {
	e := testEngine(t, nil)
	addQuietSite(e, "Lab", "heating")
	e.AddCrew(crew.NewMember("c1", "Ada", crew.RoleEngineer, "Beta"))

	trigger(t, e, "Lab", "Fan Stall")
	for i := 0; i < 5; i++ {
		e.Step(context.Background())
	}
	_, _, ok := e.repairSystem.Assignment("c1")
	assert.False(t, ok)
	lab, _ := e.Manager("Lab")
	assert.True(t, lab.HasFault())
}

func TestShortfallDeliveredByResupply(t *testing.T) {
	e := testEngine(t, func(c *config.EngineConfig) {
		c.MillisolsPerTick = 100
		c.ResupplyEvery = 1
	})
	addQuietSite(e, "Hab", "life support")
	e.AddCrew(crew.NewMember("c1", "Ada", crew.RoleEngineer, "Alpha"))
	store := stockedStore(0)
	e.AddStore("Alpha", store)

	trigger(t, e, "Hab", "Air Leak")
	e.Step(context.Background())
	e.Step(context.Background())

	assert.Equal(t, map[string]int{"valve": 1}, e.Shortfalls())
	assert.Len(t, e.EventLog().GetByType(events.EventTypePartsShortfall), 1, "an unchanged shortfall is reported once")
	_, _, ok := e.repairSystem.Assignment("c1")
	assert.False(t, ok)

	hab, _ := e.Manager("Hab")
	stepUntil(t, e, 40, func() bool { return !hab.HasFault() })
	assert.Empty(t, e.Shortfalls())
	assert.Equal(t, 0, store.ItemStored(part.ID(1)))
}

func TestMaintenanceOnRequest(t *testing.T) {
	e := testEngine(t, nil)
	hab := addQuietSite(e, "Hab", "life support")
	e.AddCrew(crew.NewMember("c1", "Ada", crew.RoleEngineer, "Alpha"))
	e.AddStore("Alpha", stockedStore(0))

	m, _ := e.Manager("Hab")
	e.repairSystem.RetrieveMaintenanceParts(hab)
	e.Step(context.Background())
	site, faultName, ok := e.repairSystem.Assignment("c1")
	require.True(t, ok)
	assert.Equal(t, "Hab", site)
	assert.Empty(t, faultName)

	stepUntil(t, e, 10, func() bool { return m.NumberOfMaintenances() == 1 })
	assert.Zero(t, m.TimeSinceLastMaintenance())
}

func TestRepairerOccupiesSiteOnlyWhileWorking(t *testing.T) {
	e := testEngine(t, nil)
	hab := addQuietSite(e, "Hab", "life support")
	ada := crew.NewMember("c1", "Ada", crew.RoleEngineer, "Alpha")
	e.AddCrew(ada)
	e.AddStore("Alpha", stockedStore(1))

	trigger(t, e, "Hab", "Air Leak")
	e.Step(context.Background())
	assert.Equal(t, []*crew.Member{ada}, hab.Occupants())

	m, _ := e.Manager("Hab")
	stepUntil(t, e, 20, func() bool { return !m.HasFault() })
	e.Step(context.Background())
	assert.Empty(t, hab.Occupants())
}

func TestNoFailuresSwitch(t *testing.T) {
	e := testEngine(t, func(c *config.EngineConfig) { c.NoFailures = true })
	addQuietSite(e, "Hab", "life support")
	assert.True(t, e.NoFailures())

	m, _ := e.Manager("Hab")
	def, _ := e.catalog.Faults.ByName("Air Leak")
	assert.Nil(t, m.TriggerFault(def, nil))

	e.SetNoFailures(false)
	assert.NotNil(t, m.TriggerFault(def, nil))
}

func TestStepProcessesEveryManagerAndRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)
	e := testEngine(t, nil)
	e.SetMetrics(c)
	names := []string{"A", "B", "C", "D", "E"}
	for _, n := range names {
		s := NewSite(n, unit.KindVehicle, unit.CategoryNone, "Alpha")
		e.AddSite(s, SiteSpec{WearLifeTime: quietWearLife, MaintWorkTime: 30, Scopes: []string{"heating"}})
	}

	for i := 0; i < 3; i++ {
		e.Step(context.Background())
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(c.Ticks))
	assert.Equal(t, marstime.New(1, 30), e.Now())

	statuses := e.Statuses()
	require.Len(t, statuses, len(names))
	for i, st := range statuses {
		assert.Equal(t, names[i], st.Entity)
		assert.Less(t, st.WearCondition, 100.0)
		assert.Equal(t, st.WearCondition, testutil.ToFloat64(c.WearCondition.WithLabelValues(st.Entity)))
	}

	trigger(t, e, "A", "Fan Stall")
	e.Step(context.Background())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FaultsTotal.WithLabelValues("Fan Stall", string(events.CausePartsFailure))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ActiveFaults.WithLabelValues("A")))
}

type countingSnapshotter struct {
	calls int
}

func (s *countingSnapshotter) Snapshot(context.Context, *malfunction.ReliabilityModel, *part.Registry) error {
	s.calls++
	return nil
}

func TestSnapshotEverySol(t *testing.T) {
	e := testEngine(t, func(c *config.EngineConfig) {
		c.MillisolsPerTick = 250
		c.SnapshotEvery = 1
	})
	snap := &countingSnapshotter{}
	e.SetSnapshotter(snap)

	for i := 0; i < 8; i++ {
		e.Step(context.Background())
	}
	assert.Equal(t, 2, snap.calls)
	assert.Equal(t, 3, e.Now().MissionSol)
}

func TestQueries(t *testing.T) {
	e := testEngine(t, nil)
	addQuietSite(e, "Hab", "life support")

	st, ok := e.Status("Hab")
	require.True(t, ok)
	assert.Equal(t, []string{"life support"}, st.Scopes)
	_, ok = e.Status("Nowhere")
	assert.False(t, ok)

	s, ok := e.Site("Hab")
	require.True(t, ok)
	assert.Equal(t, "Alpha", s.Grouping())

	parts := e.PartStats()
	require.Len(t, parts, 1)
	assert.Equal(t, "valve", parts[0].Name)
	assert.Equal(t, 400.0, parts[0].MTBF)

	// Air Leak: 1 valve x 100% x 50%
	assert.InDelta(t, 0.5, e.FleetDemand()["valve"], 1e-9)
}

func TestDispatchedTicksAreNotRetained(t *testing.T) {
	cat, err := catalog.Parse([]byte(testCatalog))
	require.NoError(t, err)
	cfg := config.DefaultConfig().Engine
	cfg.MillisolsPerTick = 10
	cfg.Seed = 7
	cfg.SnapshotEvery = 0
	cfg.ResupplyEvery = 0

	el := events.NewEventLog(nil)
	el.DropConsumedTicks()
	e := NewEngine(el, logger.NewNop(), cat, cfg)
	addQuietSite(e, "Hab", "life support")
	trigger(t, e, "Hab", "Air Leak")

	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		e.Step(ctx)
	}

	assert.GreaterOrEqual(t, el.Offset(), 1001)
	assert.Less(t, el.Len(), 300)
	assert.Len(t, el.GetByType(events.EventTypeFaultTriggered), 1)
}

func TestPanickingManagerDoesNotStopOthers(t *testing.T) {
	e := testEngine(t, nil)
	addQuietSite(e, "Hab", "life support")
	e.faultSystem.RegisterSite(NewSite("Broken", unit.KindBuilding, unit.CategoryHabitat, "Alpha"), nil)

	hab, _ := e.Manager("Hab")
	before := hab.TimeSinceLastMaintenance()
	err := e.faultSystem.OnTimeTick(context.Background(), marstime.Pulse{Number: 3, Elapsed: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Broken: tick 3 panicked")
	assert.Greater(t, hab.TimeSinceLastMaintenance(), before)
}

func TestShortfallClearedWhenPartsArriveElsewhere(t *testing.T) {
	e := testEngine(t, func(c *config.EngineConfig) { c.MillisolsPerTick = 100 })
	addQuietSite(e, "Hab", "life support")
	e.AddCrew(crew.NewMember("c1", "Ada", crew.RoleEngineer, "Alpha"))
	store := stockedStore(0)
	e.AddStore("Alpha", store)

	trigger(t, e, "Hab", "Air Leak")
	e.Step(context.Background())
	require.Equal(t, map[string]int{"valve": 1}, e.Shortfalls())

	store.AddItem(part.ID(1), 1)
	hab, _ := e.Manager("Hab")
	stepUntil(t, e, 40, func() bool { return !hab.HasFault() })
	assert.Empty(t, e.Shortfalls())

	e.repairSystem.resupply()
	assert.Zero(t, store.ItemStored(part.ID(1)), "a met shortfall is not delivered again")
}

const longRepairCatalog = `
parts:
  - {id: 1, name: valve, mass: 0.5, mtbf: 400}
scopes:
  life support:
    - {part: valve, probability: 100, max_number: 1}
faults:
  - name: Hull Breach
    severity: 90
    probability: 100
    work:
      inside: {time: 100, workers: 1}
    systems: [life support]
`

func TestCrewHandsOverAtShiftEnd(t *testing.T) {
	cat, err := catalog.Parse([]byte(longRepairCatalog))
	require.NoError(t, err)
	cfg := config.DefaultConfig().Engine
	cfg.MillisolsPerTick = 10
	cfg.Seed = 7
	cfg.SnapshotEvery = 0
	cfg.ResupplyEvery = 0
	cfg.ShiftMillisols = 20
	e := NewEngine(events.NewEventLog(nil), logger.NewNop(), cat, cfg)
	assert.Equal(t, 20.0, e.repairSystem.shiftLength)

	addQuietSite(e, "Hab", "life support")
	e.AddCrew(crew.NewMember("c1", "Ada", crew.RoleEngineer, "Alpha"))
	o := trigger(t, e, "Hab", "Hull Breach")

	ctx := context.Background()
	e.Step(ctx)
	_, faultName, ok := e.repairSystem.Assignment("c1")
	require.True(t, ok)
	assert.Equal(t, "Hull Breach", faultName)

	e.Step(ctx)
	e.Step(ctx)
	_, _, ok = e.repairSystem.Assignment("c1")
	assert.False(t, ok, "the shift is over")
	progress, ok := o.Progress(fault.Indoor)
	require.True(t, ok)
	assert.InDelta(t, 10, progress.Completed, 1e-9)
	assert.Zero(t, progress.ActiveWorkers)
}

func TestShiftDefaultsWhenUnset(t *testing.T) {
	e := testEngine(t, func(c *config.EngineConfig) { c.ShiftMillisols = 0 })
	assert.Equal(t, DefaultShift, e.repairSystem.shiftLength)
}

func TestOverrideTimeResumesClock(t *testing.T) {
	e := testEngine(t, func(c *config.EngineConfig) { c.MillisolsPerTick = 100 })
	addQuietSite(e, "Hab", "life support")
	e.OverrideTime(40, 950, 0)
	assert.Equal(t, 40, e.lastSnapshot)
	assert.Equal(t, 40, e.repairSystem.lastResupplySol)

	trigger(t, e, "Hab", "Air Leak")
	triggered := e.EventLog().GetByType(events.EventTypeFaultTriggered)
	require.Len(t, triggered, 1)
	assert.Equal(t, 40, triggered[0].MissionSol)

	pulse := e.Step(context.Background())
	assert.Equal(t, 41, pulse.Time.MissionSol)
	assert.InDelta(t, 50, pulse.Time.Millisol, 1e-6)
	assert.Equal(t, int64(1), pulse.Number)
}
