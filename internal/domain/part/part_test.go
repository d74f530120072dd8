package part

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPartHasPositiveRate(t *testing.T) {
	p := New(1, "filter", 1.5, false, 0)
	s := p.Stats()
	assert.InDelta(t, DefaultMTBF, s.MTBF, 1e-9)
	assert.Greater(t, s.FailureRate, 0.0)
	assert.Greater(t, s.Reliability, 0.0)
	assert.LessOrEqual(t, s.Reliability, 100.0)
}

func TestRecordFailuresRaisesRate(t *testing.T) {
	p := New(2, "valve", 0.4, false, 500)
	before, after := p.RecordFailures(2, 101)
	assert.Equal(t, 0, before.CumFailures)
	assert.Equal(t, 2, after.CumFailures)
	assert.InDelta(t, 50, after.MTBF, 1e-9)
	assert.Greater(t, after.FailureRate, before.FailureRate)
	assert.Less(t, after.Reliability, before.Reliability)
}

func TestRecordFailuresWithinFirstSol(t *testing.T) {
	p := New(3, "seal", 0.1, false, 500)
	_, after := p.RecordFailures(1, 1.2)
	assert.InDelta(t, 1, after.MTBF, 1e-9)
	assert.GreaterOrEqual(t, after.Reliability, MinReliability)
}

func TestRecordZeroFailuresIsNoop(t *testing.T) {
	p := New(4, "fan", 2, false, 300)
	before, after := p.RecordFailures(0, 50)
	assert.Equal(t, before, after)
}

func TestCloneForIsolatesFatigue(t *testing.T) {
	valve := New(1, "valve", 1, false, 0)
	fan := New(2, "fan", 1, false, 0)
	idx := ScopeIndex{}
	idx.Add(MaintenanceScope{Scope: "Life_Support", Part: fan, Probability: 20, MaxNumber: 1})
	idx.Add(MaintenanceScope{Scope: "life support", Part: valve, Probability: 50, MaxNumber: 2})

	a := idx.CloneFor([]string{"LIFE SUPPORT"})
	b := idx.CloneFor([]string{"life support", "unknown"})
	require.Len(t, a["life support"], 2)
	assert.NotContains(t, b, "unknown")
	assert.Equal(t, valve, a["life support"][0].Part)

	a["life support"][0].AddFatigue(3)
	assert.InDelta(t, 3, a["life support"][0].Fatigue(), 1e-9)
	assert.Zero(t, b["life support"][0].Fatigue())
}

func TestRegistryLookups(t *testing.T) {
	r := NewRegistry(New(5, "b", 1, false, 0), New(2, "a", 1, false, 0))
	p, ok := r.ByName("a")
	require.True(t, ok)
	assert.Equal(t, ID(2), p.ID)
	_, ok = r.Get(9)
	assert.False(t, ok)
	all := r.All()
	assert.Equal(t, ID(2), all[0].ID)
}
