package engine

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/crew"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/inventory"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/catalog"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

const pollInterval = 100 * time.Millisecond

// Snapshotter persists the learned reliability state.
type Snapshotter interface {
	Snapshot(ctx context.Context, model *malfunction.ReliabilityModel, parts *part.Registry) error
}

// SiteSpec describes how a site wears and what it contains.
type SiteSpec struct {
	WearLifeTime  float64 // millisols
	MaintWorkTime float64 // millisols of inspection per maintenance
	Scopes        []string
	Options       []malfunction.Option
}

// simClock holds the time of the pulse being processed so events are
// stamped with the simulated time, not the ticker's latest.
type simClock struct {
	mu  sync.RWMutex
	now marstime.MarsTime
}

func (c *simClock) Now() marstime.MarsTime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *simClock) set(t marstime.MarsTime) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Engine is the central orchestrator that wires the event log to the fault
// and repair systems.
type Engine struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	ticker   *Ticker
	metrics  *metrics.Collector

	// Sub-systems
	faultSystem  *FaultSystem
	repairSystem *RepairCrewSystem

	// Shared by every manager
	catalog    *catalog.Catalog
	selector   *malfunction.Selector
	model      *malfunction.ReliabilityModel
	clock      *simClock
	rng        *random.Source
	noFailures atomic.Bool

	snapshotter   Snapshotter
	snapshotEvery int
	lastSnapshot  int

	// mu guards managers and crew against API readers while a tick runs.
	mu                 sync.RWMutex
	lastProcessedEvent int
}

// EventReader is the name the engine reads the EventLog under.
const EventReader = "engine"

// NewEngine builds the shared selector and reliability model from the
// catalog and the systems that drive them.
func NewEngine(eventLog *events.EventLog, log *logger.Logger, cat *catalog.Catalog, cfg config.EngineConfig) *Engine {
	rng := random.NewUnseeded()
	if cfg.Seed != 0 {
		rng = random.New(cfg.Seed)
	}
	model := malfunction.NewReliabilityModel(cat.Faults, log)

	e := &Engine{
		eventLog: eventLog,
		logger:   log,
		ticker: NewTicker(eventLog, log, TickerConfig{
			Rate:             cfg.TickRate,
			MillisolsPerTick: cfg.MillisolsPerTick,
			StartSol:         cfg.StartSol,
		}),
		catalog:       cat,
		selector:      malfunction.NewSelector(cat.Faults, model, log),
		model:         model,
		clock:         &simClock{now: marstime.New(cfg.StartSol, 0)},
		rng:           rng,
		snapshotEvery: cfg.SnapshotEvery,
		lastSnapshot:  cfg.StartSol,
	}
	e.noFailures.Store(cfg.NoFailures)
	eventLog.Register(EventReader, 0)

	e.faultSystem = NewFaultSystem(eventLog, log, cfg.Workers)
	e.repairSystem = NewRepairCrewSystem(e.faultSystem, log, rng.Split())
	e.repairSystem.SetResupply(cfg.ResupplyEvery, cfg.StartSol)
	e.repairSystem.SetShift(cfg.ShiftMillisols)
	return e
}

// SetMetrics enables instrumentation of ticks, events and entities.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
	e.faultSystem.SetMetrics(c)
	e.repairSystem.SetMetrics(c)
}

// SetSnapshotter saves the model through s every snapshotEvery sols.
func (e *Engine) SetSnapshotter(s Snapshotter) {
	e.snapshotter = s
}

func (e *Engine) services() malfunction.Services {
	return malfunction.Services{
		Selector:    e.selector,
		Model:       e.model,
		Events:      e.eventLog,
		Medical:     e.catalog.Medical,
		Clock:       e.clock,
		Fulfillment: e.repairSystem,
		Log:         e.logger,
		NoFailures:  &e.noFailures,
	}
}

// AddSite creates the manager for a site and registers it with the fault
// and repair systems.
func (e *Engine) AddSite(s *Site, spec SiteSpec) *malfunction.Manager {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := malfunction.NewManager(s, spec.WearLifeTime, spec.MaintWorkTime, e.services(), e.rng.Split(), spec.Options...)
	m.AddScope(spec.Scopes...)
	m.InitScopes(e.catalog.Scopes)
	e.faultSystem.RegisterSite(s, m)
	e.logger.Infof("Site registered: %s (%s) scopes=%v", s.Name, s.Kind, m.Scopes())
	return m
}

func (e *Engine) AddCrew(m *crew.Member) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repairSystem.RegisterCrew(m)
}

// AddStore sets the parts store of a settlement.
func (e *Engine) AddStore(grouping string, inv *inventory.Inventory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repairSystem.RegisterStore(grouping, inv)
}

// Start spawns the Ticker and the event processor loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("Starting malfunction engine...")
	go e.ticker.Start(ctx)
	go e.processEvents(ctx)
}

func (e *Engine) Stop() {
	e.ticker.Stop()
}

// Step advances the clock one pulse and processes everything it caused.
// It is the synchronous path used by headless runs and tests; do not mix
// it with Start.
func (e *Engine) Step(ctx context.Context) marstime.Pulse {
	pulse := e.ticker.Step()
	e.drain(ctx)
	return pulse
}

// OverrideTime places the clock directly, for warm starts. Snapshot and
// resupply schedules restart from sol. Call it before Start.
func (e *Engine) OverrideTime(sol int, millisol float64, pulseCount int64) {
	e.ticker.SetTime(sol, millisol, pulseCount)
	e.clock.set(marstime.New(sol, millisol))
	e.lastSnapshot = sol
	e.repairSystem.SetResupply(e.repairSystem.resupplyEvery, sol)
}

func (e *Engine) processEvents(ctx context.Context) {
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Event processor stopped.")
			return
		case <-poll.C:
			e.drain(ctx)
		}
	}
}

// drain dispatches every event appended since the last call, including the
// ones dispatching itself produces.
func (e *Engine) drain(ctx context.Context) {
	for {
		batch, next := e.eventLog.Since(e.lastProcessedEvent)
		e.lastProcessedEvent = next
		if len(batch) == 0 {
			e.eventLog.Ack(EventReader, next)
			return
		}
		for _, event := range batch {
			e.dispatch(ctx, event)
		}
	}
}

// dispatch routes an event to the subsystems that react to it.
func (e *Engine) dispatch(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.EventTypeTimeTick:
		pulse, ok := event.Payload.(marstime.Pulse)
		if !ok {
			e.logger.Warnf("TIME_TICK %s without a pulse payload", event.ID)
			return
		}
		e.onTimeTick(ctx, pulse)

	case events.EventTypeFaultTriggered:
		if p, ok := event.Payload.(events.FaultPayload); ok && e.metrics != nil {
			e.metrics.RecordFault(p.Fault, string(p.Cause))
		}

	case events.EventTypeFaultFixed:
		if p, ok := event.Payload.(events.FaultPayload); ok && e.metrics != nil {
			e.metrics.RecordFix(p.Fault)
		}

	case events.EventTypePartsShortfall:
		if p, ok := event.Payload.(events.PartsPayload); ok && e.metrics != nil {
			e.metrics.RecordShortfall(p.Parts)
		}
	}
}

func (e *Engine) onTimeTick(ctx context.Context, pulse marstime.Pulse) {
	start := time.Now()

	e.mu.Lock()
	e.clock.set(pulse.Time)
	_ = e.faultSystem.OnTimeTick(ctx, pulse)
	e.repairSystem.OnTimeTick(pulse)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordTick(time.Since(start))
	}

	sol := pulse.Time.MissionSol
	if e.snapshotter != nil && e.snapshotEvery > 0 && sol-e.lastSnapshot >= e.snapshotEvery {
		e.lastSnapshot = sol
		if err := e.snapshotter.Snapshot(ctx, e.model, e.catalog.Parts); err != nil {
			e.logger.Errorf("Reliability snapshot at sol %d failed: %v", sol, err)
		} else {
			e.logger.Debugf("Reliability snapshot saved at sol %d", sol)
		}
	}
}

// SetNoFailures toggles the global switch that suppresses new faults.
func (e *Engine) SetNoFailures(v bool) {
	e.noFailures.Store(v)
	e.logger.Warnf("No-failures mode set to %t", v)
}

func (e *Engine) NoFailures() bool {
	return e.noFailures.Load()
}

// Statuses returns a snapshot of every site, ordered by name.
func (e *Engine) Statuses() []malfunction.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sites := e.faultSystem.registered()
	out := make([]malfunction.Status, len(sites))
	for i, sm := range sites {
		out[i] = sm.manager.Status()
	}
	return out
}

func (e *Engine) Status(name string) (malfunction.Status, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.faultSystem.Manager(name)
	if !ok {
		return malfunction.Status{}, false
	}
	return m.Status(), true
}

// PartStat is a part's current reliability figures.
type PartStat struct {
	ID   part.ID `json:"id"`
	Name string  `json:"name"`
	part.Stats
}

// PartStats lists every catalog part, ordered by id.
func (e *Engine) PartStats() []PartStat {
	all := e.catalog.Parts.All()
	out := make([]PartStat, len(all))
	for i, p := range all {
		out[i] = PartStat{ID: p.ID, Name: p.Name, Stats: p.Stats()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FleetDemand sums the expected repair part demand of every site, keyed by
// part name.
func (e *Engine) FleetDemand() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64)
	for _, sm := range e.faultSystem.registered() {
		for id, n := range sm.manager.RepairPartDemand() {
			name := "unknown"
			if p, ok := e.catalog.Parts.Get(id); ok {
				name = p.Name
			}
			out[name] += n
		}
	}
	return out
}

// Shortfalls returns the parts waiting for the next resupply.
func (e *Engine) Shortfalls() map[string]int {
	return e.repairSystem.Shortfalls()
}

// Now returns the time of the last processed pulse.
func (e *Engine) Now() marstime.MarsTime {
	return e.clock.Now()
}

func (e *Engine) EventLog() *events.EventLog {
	return e.eventLog
}

func (e *Engine) Model() *malfunction.ReliabilityModel {
	return e.model
}

func (e *Engine) Selector() *malfunction.Selector {
	return e.selector
}

// Site returns a registered site by name.
func (e *Engine) Site(name string) (*Site, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sm, ok := e.faultSystem.sites[name]
	if !ok {
		return nil, false
	}
	return sm.site, true
}

// Manager returns the manager of a site, for callers that drive it
// directly. It must not be used while the engine is running.
func (e *Engine) Manager(name string) (*malfunction.Manager, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.faultSystem.Manager(name)
}
