// Package unit classifies the things that can own a malfunction manager or
// cause a fault: buildings, vehicles, suits, robots and people.
// This package is PURE and must NOT import any infrastructure packages.
package unit

// Kind identifies the class of a unit.
type Kind string

const (
	KindPerson   Kind = "PERSON"
	KindRobot    Kind = "ROBOT"
	KindBuilding Kind = "BUILDING"
	KindVehicle  Kind = "VEHICLE"
	KindEVASuit  Kind = "EVA_SUIT"
	KindOther    Kind = "OTHER"
)

// Category refines a building by function. It drives how often the
// building is expected to be inspected.
type Category string

const (
	CategoryNone       Category = ""
	CategoryPower      Category = "POWER"
	CategoryERV        Category = "ERV" // environmental regulation
	CategoryHabitat    Category = "HABITAT"
	CategoryConnection Category = "CONNECTION" // hallways and tunnels
)

// IsCrewed reports whether the kind can carry out work on its own.
func (k Kind) IsCrewed() bool {
	return k == KindPerson || k == KindRobot
}
