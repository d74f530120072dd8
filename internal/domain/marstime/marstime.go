// Package marstime models the mission clock: orbits, mission sols and
// millisols (a thousandth of a sol).
package marstime

import (
	"fmt"
	"math"
)

const (
	MillisolsPerSol = 1000.0
	// SolsPerOrbit is the mean length of a Martian year in sols.
	SolsPerOrbit = 668.6
	FirstOrbit   = 1
)

// MarsTime is an instant on the mission clock. MissionSol starts at 1.
type MarsTime struct {
	Orbit      int     `json:"orbit"`
	MissionSol int     `json:"mission_sol"`
	Millisol   float64 `json:"millisol"`
}

// New builds a time from a mission sol and millisol, deriving the orbit.
func New(missionSol int, millisol float64) MarsTime {
	if missionSol < 1 {
		missionSol = 1
	}
	return MarsTime{
		Orbit:      FirstOrbit + int(float64(missionSol-1)/SolsPerOrbit),
		MissionSol: missionSol,
		Millisol:   millisol,
	}
}

// MillisolInt is the whole millisol within the current sol.
func (t MarsTime) MillisolInt() int {
	return int(t.Millisol)
}

// TotalMillisols is the time elapsed since the start of the mission.
func (t MarsTime) TotalMillisols() float64 {
	return float64(t.MissionSol-1)*MillisolsPerSol + t.Millisol
}

// FractionalSol expresses the instant in sols, e.g. 12.25 for millisol 250 of sol 12.
func (t MarsTime) FractionalSol() float64 {
	return float64(t.MissionSol) + t.Millisol/MillisolsPerSol
}

// Add advances the clock, carrying whole sols.
func (t MarsTime) Add(millisols float64) MarsTime {
	total := t.Millisol + millisols
	sols := int(math.Floor(total / MillisolsPerSol))
	return New(t.MissionSol+sols, total-float64(sols)*MillisolsPerSol)
}

func (t MarsTime) String() string {
	return fmt.Sprintf("Orbit %02d Sol %d %07.3f", t.Orbit, t.MissionSol, t.Millisol)
}

// Pulse is one advance of the simulation clock.
type Pulse struct {
	Number  int64    `json:"number"`
	Elapsed float64  `json:"elapsed"` // millisols since the previous pulse
	Time    MarsTime `json:"time"`
	// NewIntMillisol is set when the pulse crossed a whole millisol.
	NewIntMillisol bool `json:"new_int_millisol"`
}

// Next builds the pulse that follows from advancing t by elapsed millisols.
func Next(number int64, t MarsTime, elapsed float64) Pulse {
	next := t.Add(elapsed)
	crossed := next.MissionSol != t.MissionSol || next.MillisolInt() != t.MillisolInt()
	return Pulse{Number: number, Elapsed: elapsed, Time: next, NewIntMillisol: crossed}
}
