package malfunction

import (
	"math"
	"sort"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
)

// setLifeSupportModifiers throttles oxygen flow while oxygen faults are
// unfixed, in proportion to the work still outstanding.
func (m *Manager) setLifeSupportModifiers(elapsed float64) {
	k := m.entity.UnitKind()
	if k != unit.KindBuilding && k != unit.KindVehicle && k != unit.KindEVASuit {
		return
	}
	temp := 0.0
	for _, o := range m.occurrences {
		effect, ok := o.def.LifeSupportEffects[Oxygen]
		if !ok || o.IsFixed() {
			continue
		}
		temp += effect * (100 - o.PercentageFixed()) / 100
	}
	if temp >= 0 {
		return
	}
	m.oxygenFlowModifier = math.Max(0, m.oxygenFlowModifier+temp*elapsed)
	if m.oxygenFlowModifier < FullFlow {
		m.log.Warnf("Oxygen flow at %.1f%%", m.oxygenFlowModifier)
	}
}

// depleteResources drains resources named by unfixed faults.
func (m *Manager) depleteResources(elapsed float64) {
	if m.resources == nil {
		return
	}
	for _, o := range m.occurrences {
		if o.IsFixed() || len(o.def.ResourceEffects) == 0 {
			continue
		}
		remaining := (100 - o.PercentageFixed()) / 100
		names := make([]string, 0, len(o.def.ResourceEffects))
		for r := range o.def.ResourceEffects {
			names = append(names, r)
		}
		sort.Strings(names)
		for _, r := range names {
			amount := o.def.ResourceEffects[r] * elapsed * remaining / 100
			if stored := m.resources.AmountStored(r); amount > stored {
				amount = stored
			}
			if amount > 0 {
				m.resources.RetrieveAmount(r, amount)
			}
		}
	}
}

// CreateAccident rolls a series of faults caused by actor, each follow-up
// a third as likely as the last, scaled by the actor's temperament. People
// exposed to the entity are stressed if anything broke.
func (m *Manager) CreateAccident(location string, actor Actor) bool {
	score := scoreDefault
	if t, ok := actor.(Tempered); ok {
		score = float64(t.Temperament())
	}
	mod := math.Min(maxAccidentModifier, math.Max(0, score/scoreDefault))

	chance := 100.0
	hasFault := false
	for m.rng.Percent(chance) {
		if m.selectFault(actor) {
			hasFault = true
		}
		chance = chance / 3 * mod
	}
	if !hasFault {
		return false
	}

	who := ""
	if actor != nil {
		who = actor.UnitName()
	}
	m.log.Warnf("Accident at %s caused by %s", location, who)
	for _, p := range m.entity.AffectedPeople() {
		p.AddStress(accidentStress)
	}
	m.publish(events.EventTypeAccident, who, location)
	return true
}
