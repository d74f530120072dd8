// Package engine drives the malfunction managers of a settlement: a Mars
// clock emits TIME_TICK events, the fault system advances every manager in
// parallel and the repair crews work off faults and maintenance.
package engine

// The Ticker does not touch managers directly. It appends TIME_TICK events
// to the EventLog and the systems react when the engine dispatches them.
