package part

import (
	"sort"
	"strings"
)

// NormalizeScope folds a scope name so "Life_Support" and "life support" match.
func NormalizeScope(s string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "_", " ")))
}

// MaintenanceScope binds a part to a subsystem with the chance that a unit
// of it is needed in a repair and the most units ever needed at once.
// Fatigue accumulates per entity, so each manager works on its own copy.
type MaintenanceScope struct {
	Scope       string  `json:"scope"`
	Part        *Part   `json:"-"`
	Probability float64 `json:"probability"` // percent
	MaxNumber   int     `json:"max_number"`

	fatigue float64
}

func (m *MaintenanceScope) Fatigue() float64 {
	return m.fatigue
}

func (m *MaintenanceScope) AddFatigue(f float64) {
	m.fatigue += f
}

func (m *MaintenanceScope) ResetFatigue() {
	m.fatigue = 0
}

// ScopeIndex holds the catalog's scope entries keyed by normalized scope.
type ScopeIndex map[string][]MaintenanceScope

// Add appends an entry under its normalized scope.
func (idx ScopeIndex) Add(entry MaintenanceScope) {
	key := NormalizeScope(entry.Scope)
	entry.Scope = key
	idx[key] = append(idx[key], entry)
}

// CloneFor returns fresh, zero-fatigue copies of the entries for the given
// scopes. Entries within a scope are ordered by part id.
func (idx ScopeIndex) CloneFor(scopes []string) map[string][]*MaintenanceScope {
	out := make(map[string][]*MaintenanceScope, len(scopes))
	for _, s := range scopes {
		key := NormalizeScope(s)
		templates := idx[key]
		if len(templates) == 0 {
			continue
		}
		entries := make([]*MaintenanceScope, 0, len(templates))
		for _, t := range templates {
			e := t
			e.fatigue = 0
			entries = append(entries, &e)
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].Part.ID < entries[j].Part.ID })
		out[key] = entries
	}
	return out
}
