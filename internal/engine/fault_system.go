package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
)

type siteManager struct {
	site    *Site
	manager *malfunction.Manager
}

// FaultSystem advances every registered manager on each clock pulse. The
// managers are independent, so they are ticked in parallel.
type FaultSystem struct {
	eventLog *events.EventLog
	logger   *logger.Logger
	metrics  *metrics.Collector
	workers  int

	sites map[string]*siteManager
	order []string
}

func NewFaultSystem(el *events.EventLog, log *logger.Logger, workers int) *FaultSystem {
	if workers < 1 {
		workers = 1
	}
	return &FaultSystem{
		eventLog: el,
		logger:   log,
		workers:  workers,
		sites:    make(map[string]*siteManager),
	}
}

// SetMetrics enables per-entity gauges.
func (fs *FaultSystem) SetMetrics(c *metrics.Collector) {
	fs.metrics = c
}

// RegisterSite adds a site's manager. A later registration under the same
// name replaces the earlier one.
func (fs *FaultSystem) RegisterSite(s *Site, m *malfunction.Manager) {
	if _, ok := fs.sites[s.Name]; !ok {
		fs.order = append(fs.order, s.Name)
		sort.Strings(fs.order)
	}
	fs.sites[s.Name] = &siteManager{site: s, manager: m}
}

func (fs *FaultSystem) Manager(name string) (*malfunction.Manager, bool) {
	sm, ok := fs.sites[name]
	if !ok {
		return nil, false
	}
	return sm.manager, true
}

// registered returns the sites with their managers, ordered by name.
func (fs *FaultSystem) registered() []*siteManager {
	out := make([]*siteManager, 0, len(fs.order))
	for _, name := range fs.order {
		out = append(out, fs.sites[name])
	}
	return out
}

// OnTimeTick runs TimePassing on every manager. A panicking manager is
// logged and does not stop the others.
func (fs *FaultSystem) OnTimeTick(ctx context.Context, pulse marstime.Pulse) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(fs.workers)

	for _, name := range fs.order {
		sm := fs.sites[name]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Errorf("%s: tick %d panicked: %v", sm.site.Name, pulse.Number, r)
				}
			}()
			sm.manager.TimePassing(pulse)
			return nil
		})
	}
	err := g.Wait()
	if err != nil {
		fs.logger.Errorf("Fault system: %v", err)
	}

	if fs.metrics != nil {
		for _, name := range fs.order {
			m := fs.sites[name].manager
			fs.metrics.SetEntity(name, len(m.Faults()), m.WearCondition())
		}
	}
	return err
}
