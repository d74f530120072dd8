// Package fault holds the immutable catalog of fault definitions: what can
// break, how bad it is, which subsystems it affects and the repair effort.
// This package is PURE and must NOT import any infrastructure packages.
package fault

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
)

// WorkCategory is a kind of repair labour. The set is closed.
type WorkCategory int

const (
	Indoor WorkCategory = iota
	EVA

	NumWorkCategories = 2
)

// WorkCategories lists every category in declaration order.
var WorkCategories = [NumWorkCategories]WorkCategory{Indoor, EVA}

// MeteoriteImpactDamage names the fault caused by meteorite strikes.
const MeteoriteImpactDamage = "Meteorite Impact Damage"

func (c WorkCategory) String() string {
	switch c {
	case Indoor:
		return "INDOOR"
	case EVA:
		return "EVA"
	default:
		return "UNKNOWN"
	}
}

func (c WorkCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *WorkCategory) UnmarshalText(b []byte) error {
	parsed, ok := ParseWorkCategory(string(b))
	if !ok {
		return errors.Errorf("unknown work category %q", string(b))
	}
	*c = parsed
	return nil
}

// Valid reports whether c is one of the declared categories.
func (c WorkCategory) Valid() bool {
	return c >= 0 && c < NumWorkCategories
}

// ParseWorkCategory accepts "indoor", "inside", "general" and "eva" in any case.
func ParseWorkCategory(s string) (WorkCategory, bool) {
	switch part.NormalizeScope(s) {
	case "indoor", "inside", "general":
		return Indoor, true
	case "eva", "outside":
		return EVA, true
	}
	return 0, false
}

// Effort is the declared repair work for one category.
type Effort struct {
	WorkTime float64 `json:"work_time"` // millisols
	Workers  int     `json:"workers"`
}

// RepairPart is a candidate part for a fault with its learned weight.
type RepairPart struct {
	PartID      part.ID `json:"part_id"`
	Name        string  `json:"name"`
	Number      int     `json:"number"`
	Probability float64 `json:"probability"` // percent
}

// Definition is an immutable fault template.
type Definition struct {
	Name        string  `json:"name"`
	Severity    int     `json:"severity"`    // 1..100
	Probability float64 `json:"probability"` // base, percent

	Effort map[WorkCategory]Effort `json:"effort"`
	// Systems are normalized scope names this fault can hit.
	Systems []string `json:"systems"`

	ResourceEffects    map[string]float64 `json:"resource_effects"`     // kg per millisol drained
	LifeSupportEffects map[string]float64 `json:"life_support_effects"` // e.g. oxygen flow change
	MedicalComplaints  map[string]float64 `json:"medical_complaints"`   // complaint type -> percent

	Parts []RepairPart `json:"parts"`
}

// Declares reports whether the definition lists work for category c.
func (d *Definition) Declares(c WorkCategory) bool {
	_, ok := d.Effort[c]
	return ok
}

// AffectsAny reports whether any of the definition's systems is in scopes.
func (d *Definition) AffectsAny(scopes map[string]struct{}) bool {
	for _, s := range d.Systems {
		if _, ok := scopes[s]; ok {
			return true
		}
	}
	return false
}

// SharedScopes returns the definition's systems present in scopes, sorted.
func (d *Definition) SharedScopes(scopes map[string]struct{}) []string {
	var out []string
	for _, s := range d.Systems {
		if _, ok := scopes[s]; ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Catalog is the ordered, read-only set of definitions.
type Catalog struct {
	defs   []*Definition
	byName map[string]*Definition
}

// NewCatalog indexes defs by name. Systems are normalized in place.
func NewCatalog(defs []*Definition) *Catalog {
	c := &Catalog{defs: defs, byName: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		for i, s := range d.Systems {
			d.Systems[i] = part.NormalizeScope(s)
		}
		c.byName[d.Name] = d
	}
	return c
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []*Definition {
	return c.defs
}

func (c *Catalog) ByName(name string) (*Definition, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Matching returns, in catalog order, the definitions affecting any scope.
func (c *Catalog) Matching(scopes map[string]struct{}) []*Definition {
	var out []*Definition
	for _, d := range c.defs {
		if d.AffectsAny(scopes) {
			out = append(out, d)
		}
	}
	return out
}

// ScopeSet normalizes scope names into a lookup set.
func ScopeSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		set[part.NormalizeScope(s)] = struct{}{}
	}
	return set
}
