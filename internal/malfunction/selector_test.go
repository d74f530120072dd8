package malfunction

import (
	"sync"
	"testing"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentIDsUniqueUnderConcurrency(t *testing.T) {
	f := newFixture()
	const workers, each = 8, 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*each)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last := int64(0)
			for i := 0; i < each; i++ {
				id := f.selector.NextIncidentID()
				assert.Greater(t, id, last)
				last = id
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, workers*each)
}

func TestContinueFromNeverGoesBack(t *testing.T) {
	f := newFixture()
	f.selector.ContinueFrom(41)
	assert.Equal(t, int64(42), f.selector.NextIncidentID())
	f.selector.ContinueFrom(10)
	assert.Equal(t, int64(43), f.selector.NextIncidentID())
}

func TestPickNoMatchingFault(t *testing.T) {
	f := newFixture(airLeak())
	assert.Nil(t, f.selector.Pick(random.New(1), []string{"kitchen"}))
	assert.Nil(t, f.selector.Pick(random.New(1), nil))
}

func TestPickZeroProbabilityNeverChosen(t *testing.T) {
	never := airLeak()
	never.Probability = 0
	f := newFixture(never)
	rng := random.New(2)
	for i := 0; i < 1000; i++ {
		require.Nil(t, f.selector.Pick(rng, []string{"life support"}))
	}
}

func TestPickCertainFaultAlwaysChosen(t *testing.T) {
	certain := airLeak()
	certain.Probability = 100
	never := shortCircuit()
	never.Systems = []string{"life support"}
	never.Probability = 0
	f := newFixture(certain, never)
	rng := random.New(3)
	for i := 0; i < 1000; i++ {
		d := f.selector.Pick(rng, []string{"life support"})
		require.NotNil(t, d)
		require.Equal(t, "Air Leak", d.Name)
	}
}

func TestPickAcceptanceTrialRejects(t *testing.T) {
	f := newFixture(airLeak())
	rng := random.New(4)
	picked := 0
	const n = 5000
	for i := 0; i < n; i++ {
		if f.selector.Pick(rng, []string{"life support"}) != nil {
			picked++
		}
	}
	// A lone candidate at 10% is drawn every time but accepted about one time in ten.
	assert.InDelta(t, 0.10, float64(picked)/n, 0.03)
}

func TestAggregatePartDemand(t *testing.T) {
	f := newFixture(airLeak(), shortCircuit())

	demand := f.selector.AggregatePartDemand([]string{"life support"})
	assert.InDelta(t, 0.06, demand[valveID], 1e-9)
	assert.InDelta(t, 0.04, demand[fanID], 1e-9)
	assert.NotContains(t, demand, wrenchID)

	all := f.selector.AggregatePartDemand([]string{"life support", "power"})
	assert.InDelta(t, 0.2, all[wrenchID], 1e-9)
}

func TestCatalogMatchingIgnoresScopeCase(t *testing.T) {
	f := newFixture(airLeak())
	got := f.catalog.Matching(fault.ScopeSet([]string{"Life_Support"}))
	require.Len(t, got, 1)
	assert.Equal(t, "Air Leak", got[0].Name)
}
