package engine

import (
	"sort"
	"sync"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/crew"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
)

// Site is a malfunctionable unit of a settlement: a building, a rover or a
// suit. The people inside it are the ones a fault can hurt.
type Site struct {
	Name  string        `json:"name"`
	Kind  unit.Kind     `json:"kind"`
	Class unit.Category `json:"category,omitempty"`
	Group string        `json:"grouping"`

	mu        sync.RWMutex
	occupants map[string]*crew.Member
}

func NewSite(name string, kind unit.Kind, category unit.Category, grouping string) *Site {
	return &Site{
		Name:      name,
		Kind:      kind,
		Class:     category,
		Group:     grouping,
		occupants: make(map[string]*crew.Member),
	}
}

func (s *Site) UnitName() string        { return s.Name }
func (s *Site) UnitKind() unit.Kind     { return s.Kind }
func (s *Site) Category() unit.Category { return s.Class }
func (s *Site) Grouping() string        { return s.Group }

// Enter places a crew member in the site.
func (s *Site) Enter(m *crew.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occupants[m.ID] = m
}

func (s *Site) Leave(m *crew.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.occupants, m.ID)
}

// Occupants returns everyone inside, ordered by id.
func (s *Site) Occupants() []*crew.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*crew.Member, 0, len(s.occupants))
	for _, m := range s.occupants {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AffectedPeople returns the human occupants; robots are not hurt.
func (s *Site) AffectedPeople() []malfunction.Person {
	var out []malfunction.Person
	for _, m := range s.Occupants() {
		if m.UnitKind() == unit.KindPerson {
			out = append(out, m)
		}
	}
	return out
}
