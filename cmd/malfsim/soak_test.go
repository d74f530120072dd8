package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/engine"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/catalog"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
)

func demoEngine(t *testing.T) (*engine.Engine, *demoWorld) {
	t.Helper()
	cat, err := catalog.Load("../../configs/catalog.yaml")
	require.NoError(t, err)
	cfg := config.SoakConfig().Engine
	cfg.Seed = 11
	cfg.MillisolsPerTick = 10
	eng := engine.NewEngine(events.NewEventLog(nil), logger.NewNop(), cat, cfg)
	return eng, populate(eng, cat)
}

func TestPopulateRegistersDemoSettlement(t *testing.T) {
	eng, w := demoEngine(t)

	require.Len(t, w.Sites, len(demoSites))
	require.Len(t, w.Crew, 5)
	assert.Len(t, w.Sites[0].Occupants(), 5)
	assert.Len(t, w.Sites[0].AffectedPeople(), 4, "the robot is not hurt by faults")

	statuses := eng.Statuses()
	require.Len(t, statuses, len(demoSites))
	for _, st := range statuses {
		assert.Equal(t, settlement, st.Grouping)
		assert.NotEmpty(t, st.Scopes, st.Entity)
	}

	hab, ok := eng.Status("Lander Hab 1")
	require.True(t, ok)
	assert.Less(t, hab.WearCondition, 100.0, "the hab starts with pre-deployment wear")

	suit, ok := eng.Status("EVA Suit 1")
	require.True(t, ok)
	assert.Equal(t, string(unit.KindEVASuit), suit.Kind)
	assert.Equal(t, 100.0, suit.WearCondition)
}

func TestSimulateAndReport(t *testing.T) {
	eng, w := demoEngine(t)

	pulses := simulate(context.Background(), eng, 2)
	assert.Equal(t, int64(200), pulses)
	assert.Equal(t, 3, eng.Now().MissionSol)

	var out bytes.Buffer
	report(&out, eng, w, pulses, 0)
	s := out.String()
	assert.Contains(t, s, settlement)
	assert.Contains(t, s, "Lander Hab 1")
	assert.Contains(t, s, "Expected part demand")
	assert.Contains(t, s, "valve")
}

func TestDemoSettlementSuffersFaults(t *testing.T) {
	eng, w := demoEngine(t)
	require.False(t, eng.NoFailures())

	simulate(context.Background(), eng, 60)
	triggered := eng.EventLog().GetByType(events.EventTypeFaultTriggered)
	require.NotEmpty(t, triggered, "sixty sols of wear must break something")
	assert.NotEmpty(t, countFaults(triggered))

	var out bytes.Buffer
	report(&out, eng, w, 6000, 0)
	payload, ok := triggered[0].Payload.(events.FaultPayload)
	require.True(t, ok)
	assert.Contains(t, out.String(), payload.Fault)
}

func TestCountFaults(t *testing.T) {
	fault := func(name string) events.Event {
		return events.Event{Type: events.EventTypeFaultTriggered, Payload: events.FaultPayload{Fault: name}}
	}
	got := countFaults([]events.Event{fault("B"), fault("A"), fault("B"), fault("C")})
	assert.Equal(t, []faultCount{{"B", 2}, {"A", 1}, {"C", 1}}, got)
}
