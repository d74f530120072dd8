package malfunction

import (
	"math"
	"sort"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

const (
	// minWorkTime is the smallest sampled effort that still counts as work.
	minWorkTime = 0.01
	// workTimeCeiling caps a sampled effort at this multiple of the mean.
	workTimeCeiling = 5.0
	// WasteResource receives the mass of parts used up in repairs.
	WasteResource = "solid waste"
)

type repairProgress struct {
	expected  float64
	completed float64
	desired   int
	chief     string
	deputy    string
	active    map[string]float64
	departed  map[string]float64
}

func (p *repairProgress) done() bool {
	return p.completed >= p.expected
}

func (p *repairProgress) openSlots() int {
	n := p.desired - len(p.active)
	if n < 0 {
		return 0
	}
	return n
}

func (p *repairProgress) join(worker string) {
	p.active[worker] = p.departed[worker]
	delete(p.departed, worker)
	switch {
	case p.chief == "":
		p.chief = worker
	case p.deputy == "" && worker != p.chief:
		p.deputy = worker
	}
}

// Progress is a read-only view of one category's repair work.
type Progress struct {
	Category       fault.WorkCategory `json:"category"`
	Expected       float64            `json:"expected"`
	Completed      float64            `json:"completed"`
	DesiredWorkers int                `json:"desired_workers"`
	ActiveWorkers  int                `json:"active_workers"`
	Chief          string             `json:"chief,omitempty"`
	Deputy         string             `json:"deputy,omitempty"`
	Contributions  map[string]float64 `json:"contributions"`
	Departed       map[string]float64 `json:"departed,omitempty"`
}

// Occurrence is one live fault on one entity.
type Occurrence struct {
	id          int64
	def         *fault.Definition
	manager     *Manager
	progress    [fault.NumWorkCategories]*repairProgress
	parts       map[*part.MaintenanceScope]int
	traumatized string
	triggeredAt marstime.MarsTime
}

// newOccurrence samples the actual effort for each declared category and
// resolves the repair parts from the most fatigued scope the fault shares
// with the manager.
func newOccurrence(m *Manager, id int64, def *fault.Definition, rng *random.Source) *Occurrence {
	o := &Occurrence{
		id:      id,
		def:     def,
		manager: m,
		parts:   make(map[*part.MaintenanceScope]int),
	}
	for _, c := range fault.WorkCategories {
		eff, ok := def.Effort[c]
		if !ok {
			continue
		}
		if c == fault.Indoor && !m.supportInsideRepair {
			continue
		}
		actual := rng.PositiveGaussian(eff.WorkTime, eff.WorkTime, workTimeCeiling*eff.WorkTime)
		if actual < minWorkTime {
			continue
		}
		workers := eff.Workers
		if workers < 1 {
			workers = 1
		}
		o.progress[c] = &repairProgress{
			expected: actual,
			desired:  workers,
			active:   make(map[string]float64),
			departed: make(map[string]float64),
		}
	}
	o.resolveParts(rng)
	return o
}

func (o *Occurrence) resolveParts(rng *random.Source) {
	shared := o.def.SharedScopes(o.manager.scopeSet)
	best, bestFatigue := "", -1.0
	for _, s := range shared {
		f := 0.0
		for _, e := range o.manager.scopeMap[s] {
			f += e.Fatigue()
		}
		if f > bestFatigue {
			best, bestFatigue = s, f
		}
	}
	if best == "" {
		return
	}
	for _, e := range o.manager.scopeMap[best] {
		for i := 0; i < e.MaxNumber; i++ {
			if rng.Percent(e.Probability) {
				o.parts[e]++
			}
		}
	}
}

func (o *Occurrence) ID() int64 {
	return o.id
}

func (o *Occurrence) Name() string {
	return o.def.Name
}

func (o *Occurrence) Severity() int {
	return o.def.Severity
}

func (o *Occurrence) Definition() *fault.Definition {
	return o.def
}

func (o *Occurrence) TriggeredAt() marstime.MarsTime {
	return o.triggeredAt
}

// Traumatized names the person hurt when the fault struck, if anyone.
func (o *Occurrence) Traumatized() string {
	return o.traumatized
}

// RepairParts returns a copy of the parts still needed.
func (o *Occurrence) RepairParts() map[*part.MaintenanceScope]int {
	out := make(map[*part.MaintenanceScope]int, len(o.parts))
	for k, v := range o.parts {
		out[k] = v
	}
	return out
}

func (o *Occurrence) sortedParts() []*part.MaintenanceScope {
	keys := make([]*part.MaintenanceScope, 0, len(o.parts))
	for k := range o.parts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Part.ID < keys[j].Part.ID })
	return keys
}

func (o *Occurrence) progressFor(c fault.WorkCategory) *repairProgress {
	if !c.Valid() {
		return nil
	}
	return o.progress[c]
}

// HasWork reports whether the occurrence carries work of category c.
func (o *Occurrence) HasWork(c fault.WorkCategory) bool {
	return o.progressFor(c) != nil
}

// IsWorkDone reports whether category c is complete. Categories the
// occurrence does not carry count as done.
func (o *Occurrence) IsWorkDone(c fault.WorkCategory) bool {
	p := o.progressFor(c)
	return p == nil || p.done()
}

// NeedsWork reports whether category c is carried and still incomplete.
func (o *Occurrence) NeedsWork(c fault.WorkCategory) bool {
	p := o.progressFor(c)
	return p != nil && !p.done()
}

// IsFixed reports whether every carried category is complete.
func (o *Occurrence) IsFixed() bool {
	for _, p := range o.progress {
		if p != nil && !p.done() {
			return false
		}
	}
	return true
}

// OpenSlots is the number of workers category c can still take.
func (o *Occurrence) OpenSlots(c fault.WorkCategory) int {
	p := o.progressFor(c)
	if p == nil {
		return 0
	}
	return p.openSlots()
}

// Progress returns a snapshot of category c.
func (o *Occurrence) Progress(c fault.WorkCategory) (Progress, bool) {
	p := o.progressFor(c)
	if p == nil {
		o.manager.log.Debugf("%s has no %s work", o.def.Name, c)
		return Progress{}, false
	}
	snap := Progress{
		Category:       c,
		Expected:       p.expected,
		Completed:      p.completed,
		DesiredWorkers: p.desired,
		ActiveWorkers:  len(p.active),
		Chief:          p.chief,
		Deputy:         p.deputy,
		Contributions:  make(map[string]float64, len(p.active)),
		Departed:       make(map[string]float64, len(p.departed)),
	}
	for k, v := range p.active {
		snap.Contributions[k] = v
	}
	for k, v := range p.departed {
		snap.Departed[k] = v
	}
	return snap, true
}

// PercentageFixed is completed over expected work across categories.
func (o *Occurrence) PercentageFixed() float64 {
	expected, completed := 0.0, 0.0
	for _, p := range o.progress {
		if p == nil {
			continue
		}
		expected += p.expected
		completed += p.completed
	}
	if expected <= 0 {
		return 100
	}
	return completed / expected * 100
}

// AddWorkTime applies up to t millisols of worker's effort to category c and
// returns the time left over. A worker not yet on the job takes a free slot,
// even with no time to give, or is turned away with all of t returned. Finishing the last open
// category removes the occurrence from its manager.
func (o *Occurrence) AddWorkTime(c fault.WorkCategory, t float64, worker string) float64 {
	p := o.progressFor(c)
	if p == nil {
		o.manager.log.Warnf("%s on %s has no %s repair work", o.def.Name, o.manager.entityName(), c)
		return t
	}
	if p.done() {
		return t
	}
	if _, onJob := p.active[worker]; !onJob {
		if p.openSlots() <= 0 {
			o.manager.log.Debugf("%s turned away from %s %s repair: no free slot", worker, o.def.Name, c)
			return t
		}
		p.join(worker)
	}
	if t <= 0 {
		return t
	}

	remaining := p.expected - p.completed
	used := math.Min(t, remaining)
	if used == remaining {
		p.completed = p.expected
	} else {
		p.completed += used
	}
	p.active[worker] += used

	if p.done() && o.IsFixed() {
		o.manager.removeFixed(o)
	}
	return t - used
}

// LeaveWork takes worker off category c, keeping their contribution so it is
// restored if they return. It reports whether the worker was on the job.
func (o *Occurrence) LeaveWork(c fault.WorkCategory, worker string) bool {
	p := o.progressFor(c)
	if p == nil {
		return false
	}
	contrib, ok := p.active[worker]
	if !ok {
		return false
	}
	delete(p.active, worker)
	if contrib > 0 {
		p.departed[worker] += contrib
	}
	return true
}

// MostProductiveRepairer returns the worker with the largest contribution
// across all categories, counting departed workers. Ties go to the
// lexicographically smallest name. Workers who joined but put in no time
// do not count.
func (o *Occurrence) MostProductiveRepairer() (string, bool) {
	totals := make(map[string]float64)
	for _, p := range o.progress {
		if p == nil {
			continue
		}
		for w, v := range p.active {
			totals[w] += v
		}
		for w, v := range p.departed {
			totals[w] += v
		}
	}
	best, bestTime := "", 0.0
	for w, v := range totals {
		if v <= 0 {
			continue
		}
		if v > bestTime || (v == bestTime && w < best) {
			best, bestTime = w, v
		}
	}
	return best, best != ""
}

// RepairWithParts marks quantity units of a needed part as fitted and sends
// their mass to store as waste.
func (o *Occurrence) RepairWithParts(entry *part.MaintenanceScope, quantity int, store ItemStore) {
	need, ok := o.parts[entry]
	if !ok || quantity <= 0 {
		return
	}
	used := quantity
	if used > need {
		used = need
	}
	if need-used <= 0 {
		delete(o.parts, entry)
	} else {
		o.parts[entry] = need - used
	}
	if store != nil && entry.Part.MassKg > 0 {
		store.StoreMass(WasteResource, entry.Part.MassKg*float64(used))
	}
}
