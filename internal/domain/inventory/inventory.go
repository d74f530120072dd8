// Package inventory stores discrete parts and bulk resources for a
// settlement or vehicle.
// This package is PURE and must NOT import any infrastructure packages.
package inventory

import (
	"sort"
	"sync"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
)

// Inventory is safe for concurrent use; several entity managers share the
// settlement store.
type Inventory struct {
	Name string

	mu      sync.Mutex
	items   map[part.ID]int
	amounts map[string]float64
}

func New(name string) *Inventory {
	return &Inventory{
		Name:    name,
		items:   make(map[part.ID]int),
		amounts: make(map[string]float64),
	}
}

// AddItem stocks n units of a part.
func (inv *Inventory) AddItem(id part.ID, n int) {
	if n <= 0 {
		return
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.items[id] += n
}

// RetrieveItem removes up to n units and returns how many were missing.
func (inv *Inventory) RetrieveItem(id part.ID, n int) int {
	if n <= 0 {
		return 0
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	have := inv.items[id]
	if have >= n {
		inv.items[id] = have - n
		return 0
	}
	inv.items[id] = 0
	return n - have
}

func (inv *Inventory) ItemStored(id part.ID) int {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.items[id]
}

// StoreAmount adds kg of a bulk resource.
func (inv *Inventory) StoreAmount(resource string, kg float64) {
	if kg <= 0 {
		return
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.amounts[resource] += kg
}

// StoreMass is StoreAmount under the name repair code uses for waste.
func (inv *Inventory) StoreMass(resource string, kg float64) {
	inv.StoreAmount(resource, kg)
}

// RetrieveAmount removes up to amount kg and returns what was actually taken.
func (inv *Inventory) RetrieveAmount(resource string, amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	have := inv.amounts[resource]
	if amount > have {
		amount = have
	}
	inv.amounts[resource] = have - amount
	return amount
}

func (inv *Inventory) AmountStored(resource string) float64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.amounts[resource]
}

// ItemSnapshot returns a copy of the part stock ordered by id.
func (inv *Inventory) ItemSnapshot() []ItemCount {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := make([]ItemCount, 0, len(inv.items))
	for id, n := range inv.items {
		out = append(out, ItemCount{PartID: id, Quantity: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PartID < out[j].PartID })
	return out
}

// ItemCount is a quantity of a part in stock.
type ItemCount struct {
	PartID   part.ID `json:"part_id"`
	Quantity int     `json:"quantity"`
}
