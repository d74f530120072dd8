// Package catalog loads the fault catalog document: parts, resources,
// medical complaints, maintenance scopes and fault definitions. Any
// dangling reference rejects the whole document.
package catalog

import (
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/medical"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
)

var (
	ErrUnknownPart      = errors.New("unknown part")
	ErrUnknownResource  = errors.New("unknown resource")
	ErrUnknownComplaint = errors.New("unknown medical complaint")
	ErrUnknownCategory  = errors.New("unknown work category")
	ErrDuplicate        = errors.New("duplicate entry")
)

// Document is the on-disk shape of the catalog.
type Document struct {
	Parts      []PartDoc             `yaml:"parts" validate:"dive"`
	Resources  []string              `yaml:"resources" validate:"dive,required"`
	Complaints []ComplaintDoc        `yaml:"complaints" validate:"dive"`
	Scopes     map[string][]ScopeDoc `yaml:"scopes" validate:"dive,dive"`
	Faults     []FaultDoc            `yaml:"faults" validate:"required,dive"`
}

type PartDoc struct {
	ID         int     `yaml:"id" validate:"gt=0"`
	Name       string  `yaml:"name" validate:"required"`
	MassKg     float64 `yaml:"mass" validate:"gte=0"`
	Consumable bool    `yaml:"consumable"`
	MTBF       float64 `yaml:"mtbf" validate:"gte=0"` // sols, 0 takes the default
}

type ComplaintDoc struct {
	Type        string `yaml:"type" validate:"required"`
	Name        string `yaml:"name" validate:"required"`
	Seriousness int    `yaml:"seriousness" validate:"gte=1,lte=100"`
}

// ScopeDoc is one maintenance entry of a scope.
type ScopeDoc struct {
	Part        string  `yaml:"part" validate:"required"`
	Probability float64 `yaml:"probability" validate:"gte=0,lte=100"`
	MaxNumber   int     `yaml:"max_number" validate:"gte=1"`
}

type EffortDoc struct {
	Time    float64 `yaml:"time" validate:"gte=0"`
	Workers int     `yaml:"workers" validate:"gte=1"`
}

type RepairPartDoc struct {
	Part        string  `yaml:"part" validate:"required"`
	Number      int     `yaml:"number" validate:"gte=1"`
	Probability float64 `yaml:"probability" validate:"gte=0,lte=100"`
}

type FaultDoc struct {
	Name               string               `yaml:"name" validate:"required"`
	Severity           int                  `yaml:"severity" validate:"gte=1,lte=100"`
	Probability        float64              `yaml:"probability" validate:"gte=0,lte=100"`
	Work               map[string]EffortDoc `yaml:"work" validate:"dive"`
	Systems            []string             `yaml:"systems" validate:"required,dive,required"`
	ResourceEffects    map[string]float64   `yaml:"resource_effects"`
	LifeSupportEffects map[string]float64   `yaml:"life_support_effects"`
	MedicalComplaints  map[string]float64   `yaml:"medical_complaints" validate:"dive,gte=0,lte=100"`
	Parts              []RepairPartDoc      `yaml:"parts" validate:"dive"`
}

// Catalog is the resolved, cross-checked catalog.
type Catalog struct {
	Faults    *fault.Catalog
	Parts     *part.Registry
	Scopes    part.ScopeIndex
	Medical   *medical.Registry
	Resources []string
}

// Load reads and resolves the catalog file at path.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read catalog %s", path)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "catalog %s", path)
	}
	return c, nil
}

// Parse decodes, validates and resolves a catalog document.
func Parse(b []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if err := validator.New().Struct(&doc); err != nil {
		return nil, errors.Wrap(err, "invalid catalog")
	}
	return doc.resolve()
}

func (d *Document) resolve() (*Catalog, error) {
	parts := make([]*part.Part, 0, len(d.Parts))
	byName := make(map[string]*part.Part, len(d.Parts))
	ids := make(map[int]struct{}, len(d.Parts))
	for _, p := range d.Parts {
		if _, ok := byName[p.Name]; ok {
			return nil, errors.Wrapf(ErrDuplicate, "part %q", p.Name)
		}
		if _, ok := ids[p.ID]; ok {
			return nil, errors.Wrapf(ErrDuplicate, "part id %d", p.ID)
		}
		ids[p.ID] = struct{}{}
		np := part.New(part.ID(p.ID), p.Name, p.MassKg, p.Consumable, p.MTBF)
		byName[p.Name] = np
		parts = append(parts, np)
	}

	resources := make(map[string]struct{}, len(d.Resources))
	for _, r := range d.Resources {
		resources[r] = struct{}{}
	}

	complaints := make([]*medical.Complaint, 0, len(d.Complaints))
	complaintTypes := make(map[string]struct{}, len(d.Complaints))
	for _, c := range d.Complaints {
		complaintTypes[c.Type] = struct{}{}
		complaints = append(complaints, &medical.Complaint{
			Type:        medical.ComplaintType(c.Type),
			Name:        c.Name,
			Seriousness: c.Seriousness,
		})
	}

	idx := part.ScopeIndex{}
	scopeNames := make([]string, 0, len(d.Scopes))
	for s := range d.Scopes {
		scopeNames = append(scopeNames, s)
	}
	sort.Strings(scopeNames)
	for _, s := range scopeNames {
		for _, e := range d.Scopes[s] {
			p, ok := byName[e.Part]
			if !ok {
				return nil, errors.Wrapf(ErrUnknownPart, "scope %q: %q", s, e.Part)
			}
			idx.Add(part.MaintenanceScope{Scope: s, Part: p, Probability: e.Probability, MaxNumber: e.MaxNumber})
		}
	}

	defs := make([]*fault.Definition, 0, len(d.Faults))
	seen := make(map[string]struct{}, len(d.Faults))
	for _, f := range d.Faults {
		if _, ok := seen[f.Name]; ok {
			return nil, errors.Wrapf(ErrDuplicate, "fault %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		def, err := f.resolve(byName, resources, complaintTypes)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return &Catalog{
		Faults:    fault.NewCatalog(defs),
		Parts:     part.NewRegistry(parts...),
		Scopes:    idx,
		Medical:   medical.NewRegistry(complaints...),
		Resources: append([]string(nil), d.Resources...),
	}, nil
}

func (f *FaultDoc) resolve(parts map[string]*part.Part, resources, complaints map[string]struct{}) (*fault.Definition, error) {
	def := &fault.Definition{
		Name:               f.Name,
		Severity:           f.Severity,
		Probability:        f.Probability,
		Effort:             make(map[fault.WorkCategory]fault.Effort, len(f.Work)),
		Systems:            append([]string(nil), f.Systems...),
		ResourceEffects:    f.ResourceEffects,
		LifeSupportEffects: f.LifeSupportEffects,
		MedicalComplaints:  f.MedicalComplaints,
	}
	for name, w := range f.Work {
		c, ok := fault.ParseWorkCategory(name)
		if !ok {
			return nil, errors.Wrapf(ErrUnknownCategory, "fault %q: %q", f.Name, name)
		}
		def.Effort[c] = fault.Effort{WorkTime: w.Time, Workers: w.Workers}
	}
	for r := range f.ResourceEffects {
		if _, ok := resources[r]; !ok {
			return nil, errors.Wrapf(ErrUnknownResource, "fault %q: %q", f.Name, r)
		}
	}
	for r := range f.LifeSupportEffects {
		if _, ok := resources[r]; !ok {
			return nil, errors.Wrapf(ErrUnknownResource, "fault %q life support: %q", f.Name, r)
		}
	}
	for c := range f.MedicalComplaints {
		if _, ok := complaints[c]; !ok {
			return nil, errors.Wrapf(ErrUnknownComplaint, "fault %q: %q", f.Name, c)
		}
	}
	for _, rp := range f.Parts {
		p, ok := parts[rp.Part]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownPart, "fault %q: %q", f.Name, rp.Part)
		}
		def.Parts = append(def.Parts, fault.RepairPart{
			PartID:      p.ID,
			Name:        p.Name,
			Number:      rp.Number,
			Probability: rp.Probability,
		})
	}
	return def, nil
}
