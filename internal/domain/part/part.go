// Package part defines repair parts, their observed reliability and the
// maintenance scopes that map a subsystem to the parts that wear in it.
// This package is PURE and must NOT import any infrastructure packages.
package part

import (
	"math"
	"sort"
	"sync"
)

// ID identifies a part type in the catalog.
type ID int

const (
	// DefaultMTBF is the mean time between failures, in sols, assumed for a
	// part the catalog gives no figure for.
	DefaultMTBF = 668.6
	// MinReliability keeps the reliability strictly positive so it can be
	// used as a divisor.
	MinReliability = 0.01
)

// Stats is a snapshot of a part's reliability figures.
type Stats struct {
	StartSol    float64 `json:"start_sol"`
	CumFailures int     `json:"cum_failures"`
	MTBF        float64 `json:"mtbf"`
	FailureRate float64 `json:"failure_rate"`
	Reliability float64 `json:"reliability"`
}

// Part is a process-wide part type. Reliability figures are shared by every
// entity that uses the part and are updated under the part's own lock.
type Part struct {
	ID         ID      `json:"id"`
	Name       string  `json:"name"`
	MassKg     float64 `json:"mass_kg"`
	Consumable bool    `json:"consumable"`

	mu    sync.Mutex
	stats Stats
}

// New creates a part whose clock starts at sol 1 with the given baseline MTBF.
func New(id ID, name string, massKg float64, consumable bool, baseMTBF float64) *Part {
	if baseMTBF <= 0 {
		baseMTBF = DefaultMTBF
	}
	p := &Part{ID: id, Name: name, MassKg: massKg, Consumable: consumable}
	p.stats = Stats{StartSol: 1, MTBF: baseMTBF}
	p.stats.FailureRate, p.stats.Reliability = derive(baseMTBF)
	return p
}

func derive(mtbf float64) (rate, reliability float64) {
	rate = 1 / mtbf
	reliability = math.Max(MinReliability, 100*math.Exp(-1/mtbf))
	return rate, reliability
}

// Stats returns the current reliability figures.
func (p *Part) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// FailureRate is failures per sol.
func (p *Part) FailureRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.FailureRate
}

// RecordFailures adds n failures observed at the given fractional sol and
// recomputes MTBF, failure rate and reliability. It returns the figures
// before and after the update.
func (p *Part) RecordFailures(n int, atSol float64) (before, after Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	before = p.stats
	if n <= 0 {
		return before, before
	}
	p.stats.CumFailures += n
	solsInUse := math.Max(atSol-p.stats.StartSol, 1)
	p.stats.MTBF = solsInUse / float64(p.stats.CumFailures)
	p.stats.FailureRate, p.stats.Reliability = derive(p.stats.MTBF)
	return before, p.stats
}

// Restore replaces the figures with previously persisted ones.
func (p *Part) Restore(s Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.MTBF <= 0 {
		return
	}
	p.stats = s
}

// Registry indexes the catalog's parts by id and by name.
type Registry struct {
	byID   map[ID]*Part
	byName map[string]*Part
}

func NewRegistry(parts ...*Part) *Registry {
	r := &Registry{byID: make(map[ID]*Part), byName: make(map[string]*Part)}
	for _, p := range parts {
		r.byID[p.ID] = p
		r.byName[p.Name] = p
	}
	return r
}

func (r *Registry) Get(id ID) (*Part, bool) {
	p, ok := r.byID[id]
	return p, ok
}

func (r *Registry) ByName(name string) (*Part, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// All returns the parts ordered by id.
func (r *Registry) All() []*Part {
	out := make([]*Part, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
