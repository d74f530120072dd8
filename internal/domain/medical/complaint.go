// Package medical holds the complaints a fault can inflict on the people
// exposed to it.
// This package is PURE and must NOT import any infrastructure packages.
package medical

import "sort"

// ComplaintType identifies a complaint, e.g. "SUFFOCATION" or "BURNS".
type ComplaintType string

type Complaint struct {
	Type        ComplaintType `json:"type"`
	Name        string        `json:"name"`
	Seriousness int           `json:"seriousness"` // 1..100
}

// Registry resolves complaint types to their definitions.
type Registry struct {
	byType map[ComplaintType]*Complaint
}

func NewRegistry(complaints ...*Complaint) *Registry {
	r := &Registry{byType: make(map[ComplaintType]*Complaint, len(complaints))}
	for _, c := range complaints {
		r.byType[c.Type] = c
	}
	return r
}

func (r *Registry) ComplaintByType(t ComplaintType) (*Complaint, bool) {
	c, ok := r.byType[t]
	return c, ok
}

func (r *Registry) Types() []ComplaintType {
	out := make([]ComplaintType, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
