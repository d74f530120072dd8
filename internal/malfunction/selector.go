package malfunction

import (
	"sync/atomic"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
)

// Selector picks faults from the catalog for a set of scopes and hands out
// process-wide incident ids.
type Selector struct {
	catalog   *fault.Catalog
	model     *ReliabilityModel
	incidents atomic.Int64
	log       *logger.Logger
}

func NewSelector(catalog *fault.Catalog, model *ReliabilityModel, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.NewNop()
	}
	return &Selector{catalog: catalog, model: model, log: log}
}

func (s *Selector) Catalog() *fault.Catalog {
	return s.catalog
}

// NextIncidentID returns a fresh id, strictly greater than any issued before.
func (s *Selector) NextIncidentID() int64 {
	return s.incidents.Add(1)
}

// ContinueFrom makes the next id follow last. Used after restoring from storage.
func (s *Selector) ContinueFrom(last int64) {
	for {
		cur := s.incidents.Load()
		if cur >= last || s.incidents.CompareAndSwap(cur, last) {
			return
		}
	}
}

// Pick chooses at most one definition among those matching scopes. The
// candidates are shuffled and a draw in [0, total) walks their current
// probabilities; the chosen one is then accepted with a second trial at its
// own probability, so a pick may yield nil.
func (s *Selector) Pick(rng *random.Source, scopes []string) *fault.Definition {
	candidates := s.catalog.Matching(fault.ScopeSet(scopes))
	if len(candidates) == 0 {
		return nil
	}

	type weighted struct {
		def *fault.Definition
		p   float64
	}
	pool := make([]weighted, len(candidates))
	total := 0.0
	for i, d := range candidates {
		pool[i] = weighted{def: d, p: s.model.FaultProbability(d.Name)}
		total += pool[i].p
	}
	if total <= 0 {
		return nil
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	r := rng.Uniform(0, total)
	var chosen *weighted
	for i := range pool {
		if r < pool[i].p {
			chosen = &pool[i]
			break
		}
		r -= pool[i].p
	}
	if chosen == nil {
		s.log.Warnf("fault draw fell past the total weight %.6f, taking %s", total, pool[0].def.Name)
		chosen = &pool[0]
	}

	if !rng.Percent(chosen.p) {
		return nil
	}
	return chosen.def
}

// AggregatePartDemand estimates how many of each part the scopes will
// consume: the sum over matching faults of number x weight% x probability%.
func (s *Selector) AggregatePartDemand(scopes []string) map[part.ID]float64 {
	demand := make(map[part.ID]float64)
	for _, d := range s.catalog.Matching(fault.ScopeSet(scopes)) {
		fp := s.model.FaultProbability(d.Name)
		for _, rp := range s.model.RepairParts(d.Name) {
			demand[rp.PartID] += float64(rp.Number) * rp.Probability / 100 * fp / 100
		}
	}
	return demand
}
