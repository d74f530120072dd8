// Package crew defines the people and robots who carry out repairs and who
// suffer when things break.
// This package is PURE and must NOT import any infrastructure packages.
package crew

import (
	"sync"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/medical"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
)

// Role is the crew member's specialty.
type Role string

const (
	RoleEngineer   Role = "Engineer"
	RoleTechnician Role = "Technician"
	RoleScientist  Role = "Scientist"
	RoleDoctor     Role = "Doctor"
)

const maxStress = 100

// Member is a settler or robot. Stress and complaints may be touched from
// several entity managers at once, so they sit behind a lock.
type Member struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        Role      `json:"role"`
	Kind        unit.Kind `json:"kind"`
	Grouping    string    `json:"grouping"` // settlement the member lives in
	Neuroticism int       `json:"neuroticism"`

	mu         sync.Mutex
	stress     float64
	complaints []medical.ComplaintType
	task       string
}

// NewMember creates a settler with a neutral temperament.
func NewMember(id, name string, role Role, grouping string) *Member {
	return &Member{
		ID:          id,
		Name:        name,
		Role:        role,
		Kind:        unit.KindPerson,
		Grouping:    grouping,
		Neuroticism: 50,
	}
}

// NewRobot creates a crew robot.
func NewRobot(id, name, grouping string) *Member {
	m := NewMember(id, name, RoleTechnician, grouping)
	m.Kind = unit.KindRobot
	m.Neuroticism = 0
	return m
}

// UnitName and UnitKind let a member stand in as the actor behind a fault.
func (m *Member) UnitName() string {
	return m.Name
}

func (m *Member) UnitKind() unit.Kind {
	return m.Kind
}

func (m *Member) Temperament() int {
	return m.Neuroticism
}

// AddStress raises stress, capped at 100. Robots do not feel stress.
func (m *Member) AddStress(amount float64) {
	if m.Kind == unit.KindRobot {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stress += amount
	if m.stress > maxStress {
		m.stress = maxStress
	}
	if m.stress < 0 {
		m.stress = 0
	}
}

func (m *Member) Stress() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stress
}

// AddComplaint records a complaint. Repeated complaints are kept once.
func (m *Member) AddComplaint(c *medical.Complaint) {
	if c == nil || m.Kind == unit.KindRobot {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.complaints {
		if have == c.Type {
			return
		}
	}
	m.complaints = append(m.complaints, c.Type)
}

func (m *Member) Complaints() []medical.ComplaintType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]medical.ComplaintType, len(m.complaints))
	copy(out, m.complaints)
	return out
}

func (m *Member) HasComplaint(t medical.ComplaintType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, have := range m.complaints {
		if have == t {
			return true
		}
	}
	return false
}

// SetTask records what the member is doing, for fault cause reports.
func (m *Member) SetTask(task string) {
	m.mu.Lock()
	m.task = task
	m.mu.Unlock()
}

func (m *Member) Task() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.task
}
