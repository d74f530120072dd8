package malfunction

import (
	"math"
	"sort"
	"sync"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
)

const (
	maxProbability   = 100.0
	faultGrowth      = 1.1
	faultRateFactor  = 0.1
	weightSmoothing  = 0.9
	weightFeedback   = 0.1
	percentOfTotal   = 100.0
	minWeightBalance = 1e-12
)

// FaultLearning is the learned state of one fault: its current probability
// and the weight of each candidate repair part.
type FaultLearning struct {
	Fault       string             `json:"fault"`
	Probability float64            `json:"probability"`
	Parts       []fault.RepairPart `json:"parts"`
}

// Adjustment describes one learning step, for logs and tests.
type Adjustment struct {
	Fault          string
	PartID         part.ID
	Failures       int
	OldProbability float64
	NewProbability float64
	OldWeight      float64
	NewWeight      float64
}

// ReliabilityModel learns fault probabilities and repair part weights from
// the incidents that actually happen. It is shared process-wide.
type ReliabilityModel struct {
	mu     sync.Mutex
	faults map[string]*FaultLearning
	log    *logger.Logger
}

// NewReliabilityModel seeds the learned state from the catalog.
func NewReliabilityModel(catalog *fault.Catalog, log *logger.Logger) *ReliabilityModel {
	if log == nil {
		log = logger.NewNop()
	}
	m := &ReliabilityModel{faults: make(map[string]*FaultLearning), log: log}
	for _, d := range catalog.All() {
		parts := make([]fault.RepairPart, len(d.Parts))
		copy(parts, d.Parts)
		m.faults[d.Name] = &FaultLearning{Fault: d.Name, Probability: d.Probability, Parts: parts}
	}
	return m
}

// FaultProbability is the current percent probability of a fault, or 0 if
// the fault is unknown.
func (m *ReliabilityModel) FaultProbability(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.faults[name]; ok {
		return l.Probability
	}
	return 0
}

// RepairParts returns a copy of the fault's candidate parts with their
// current weights.
func (m *ReliabilityModel) RepairParts(name string) []fault.RepairPart {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.faults[name]
	if !ok {
		return nil
	}
	out := make([]fault.RepairPart, len(l.Parts))
	copy(out, l.Parts)
	return out
}

// Update folds an incident into the model. For each non-consumable part the
// occurrence needs, the part's failure record is updated first, then the
// fault probability and the part's repair weight are raised from the new
// figures.
func (m *ReliabilityModel) Update(o *Occurrence, now marstime.MarsTime) []Adjustment {
	needed := o.RepairParts()
	entries := make([]*part.MaintenanceScope, 0, len(needed))
	for e := range needed {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Part.ID < entries[j].Part.ID })

	var out []Adjustment
	for _, e := range entries {
		p := e.Part
		if p.Consumable {
			continue
		}
		n := needed[e]
		before, after := p.RecordFailures(n, now.FractionalSol())

		m.mu.Lock()
		l, ok := m.faults[o.Name()]
		if !ok {
			m.mu.Unlock()
			continue
		}
		adj := Adjustment{Fault: o.Name(), PartID: p.ID, Failures: n, OldProbability: l.Probability}
		l.Probability = math.Min(maxProbability,
			math.Max(l.Probability*faultGrowth, l.Probability+faultRateFactor*after.FailureRate))
		adj.NewProbability = l.Probability
		adj.OldWeight, adj.NewWeight = l.reweigh(p.ID, before.Reliability, after.Reliability)
		m.mu.Unlock()

		m.log.Debugf("[%s] %s failed x%d: fault probability %.4f -> %.4f, part weight %.3f -> %.3f",
			o.Name(), p.Name, n, adj.OldProbability, adj.NewProbability, adj.OldWeight, adj.NewWeight)
		out = append(out, adj)
	}
	return out
}

// reweigh moves the named part's weight toward its reliability-scaled value
// and takes the difference from the other candidates in proportion to their
// weights. Every weight stays within [0, 100].
func (l *FaultLearning) reweigh(id part.ID, oldRel, newRel float64) (oldW, newW float64) {
	idx := -1
	total := 0.0
	for i, rp := range l.Parts {
		total += rp.Probability
		if rp.PartID == id {
			idx = i
		}
	}
	if idx < 0 {
		return 0, 0
	}
	oldW = l.Parts[idx].Probability
	if newRel <= 0 {
		return oldW, oldW
	}
	target := oldW * oldRel / newRel * total / percentOfTotal
	newW = math.Min(maxProbability, weightSmoothing*oldW+weightFeedback*target)
	l.Parts[idx].Probability = newW

	delta := newW - oldW
	others := total - oldW
	if others <= minWeightBalance {
		return oldW, newW
	}
	for i := range l.Parts {
		if i == idx {
			continue
		}
		w := l.Parts[i].Probability
		w -= delta * w / others
		l.Parts[i].Probability = math.Max(0, math.Min(maxProbability, w))
	}
	return oldW, newW
}

// Snapshot returns the learned state of every fault, ordered by name.
func (m *ReliabilityModel) Snapshot() []FaultLearning {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FaultLearning, 0, len(m.faults))
	for _, l := range m.faults {
		parts := make([]fault.RepairPart, len(l.Parts))
		copy(parts, l.Parts)
		out = append(out, FaultLearning{Fault: l.Fault, Probability: l.Probability, Parts: parts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fault < out[j].Fault })
	return out
}

// Restore overwrites learned state for faults still in the catalog. Part
// weights are matched by part id; unknown parts are ignored.
func (m *ReliabilityModel) Restore(state []FaultLearning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range state {
		l, ok := m.faults[s.Fault]
		if !ok {
			continue
		}
		l.Probability = math.Max(0, math.Min(maxProbability, s.Probability))
		for _, saved := range s.Parts {
			for i := range l.Parts {
				if l.Parts[i].PartID == saved.PartID {
					l.Parts[i].Probability = saved.Probability
				}
			}
		}
	}
}
