package malfunction

import (
	"sort"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
)

// InjectFatigue spreads fatigue over the scope's entries. Each entry gets
// up to MaxNumber trials at its probability; every success charges it its
// part's failure rate times an even share, until the budget runs out.
func (m *Manager) InjectFatigue(scope string, fatigue float64) {
	entries := m.scopeMap[part.NormalizeScope(scope)]
	if len(entries) == 0 || fatigue <= 0 {
		return
	}
	share := fatigue / float64(len(entries))
	remaining := fatigue
	for _, e := range entries {
		rate := e.Part.FailureRate()
		for i := 0; i < e.MaxNumber && remaining > 0; i++ {
			if !m.rng.Percent(e.Probability) {
				continue
			}
			charge := share
			if remaining < share {
				charge = remaining
			}
			e.AddFatigue(rate * charge)
			remaining -= charge
		}
	}
}

func (m *Manager) pickOneScope() (string, bool) {
	if len(m.scopes) == 0 {
		return "", false
	}
	return m.scopes[m.rng.IntN(len(m.scopes))], true
}

// pickHighFatigueScope returns the scope with the strictly highest total
// fatigue; a manager with no fatigue anywhere has none.
func (m *Manager) pickHighFatigueScope() (string, bool) {
	best, highest := "", 0.0
	for _, s := range m.scopes {
		sum := 0.0
		for _, e := range m.scopeMap[s] {
			sum += e.Fatigue()
		}
		if sum > highest {
			best, highest = s, sum
		}
	}
	return best, best != ""
}

func (m *Manager) generateNewMaintenanceParts() {
	scope, ok := m.pickHighFatigueScope()
	if !ok {
		return
	}
	for _, e := range m.scopeMap[scope] {
		if m.rng.Percent(e.Probability) {
			m.partsNeededForMaintenance[e] += m.rng.RegressionInt(e.MaxNumber)
		}
	}
}

// MaintenanceParts returns a copy of the parts pending for maintenance.
func (m *Manager) MaintenanceParts() map[*part.MaintenanceScope]int {
	out := make(map[*part.MaintenanceScope]int, len(m.partsNeededForMaintenance))
	for k, v := range m.partsNeededForMaintenance {
		out[k] = v
	}
	return out
}

func (m *Manager) AreMaintenancePartsNeeded() bool {
	return len(m.partsNeededForMaintenance) > 0
}

func (m *Manager) sortedMaintenanceParts() []*part.MaintenanceScope {
	keys := make([]*part.MaintenanceScope, 0, len(m.partsNeededForMaintenance))
	for k := range m.partsNeededForMaintenance {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Part.ID < keys[j].Part.ID })
	return keys
}

// MaintenancePartsInStorage reports whether every pending part is in stock.
// Missing quantities are reported to the fulfillment collaborator.
func (m *Manager) MaintenancePartsInStorage(store ItemStore) bool {
	if len(m.partsNeededForMaintenance) == 0 {
		return false
	}
	shortfall := make(map[*part.MaintenanceScope]int)
	for _, e := range m.sortedMaintenanceParts() {
		need := m.partsNeededForMaintenance[e]
		if have := store.ItemStored(e.Part.ID); have < need {
			shortfall[e] = need - have
		}
	}
	if len(shortfall) == 0 {
		return true
	}
	if m.svc.Fulfillment != nil {
		m.svc.Fulfillment.RecordShortfall(m.entity, shortfall)
	}
	return false
}

// ConsumeMaintenanceParts takes pending parts from store. Entries fully
// supplied have their fatigue reset; missing quantities stay pending and are
// reported. It returns the total number of parts still missing, or -1 if
// nothing was pending.
func (m *Manager) ConsumeMaintenanceParts(store ItemStore) int {
	if len(m.partsNeededForMaintenance) == 0 {
		return -1
	}
	shortfall := make(map[*part.MaintenanceScope]int)
	report := make(map[*part.MaintenanceScope]int)
	missingTotal := 0
	for _, e := range m.sortedMaintenanceParts() {
		need := m.partsNeededForMaintenance[e]
		missing := store.RetrieveItem(e.Part.ID, need)
		report[e] = missing
		if missing == 0 {
			e.ResetFatigue()
			continue
		}
		shortfall[e] = missing
		missingTotal += missing
	}
	m.partsNeededForMaintenance = shortfall
	if m.svc.Fulfillment != nil {
		m.svc.Fulfillment.RecordShortfall(m.entity, report)
	}
	if missingTotal > 0 {
		m.log.Warnf("Maintenance short of %d part(s)", missingTotal)
	}
	return missingTotal
}

