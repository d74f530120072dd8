package main

import (
	"github.com/MRamiBalles/malfunction-engine/internal/domain/crew"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/inventory"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/unit"
	"github.com/MRamiBalles/malfunction-engine/internal/engine"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/catalog"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
)

const (
	settlement = "Schiaparelli Point"

	buildingWearLife = 334_800.0
	vehicleWearLife  = 668_000.0
	suitWearLife     = 334_000.0
	maintWorkTime    = 100.0

	stockPerPart      = 2
	stockPerResource  = 500.0 // kg
	preDeploymentSite = "Lander Hab 1"
)

type siteSeed struct {
	name     string
	kind     unit.Kind
	category unit.Category
	wearLife float64
	scopes   []string
}

var demoSites = []siteSeed{
	{"Lander Hab 1", unit.KindBuilding, unit.CategoryHabitat, buildingWearLife, []string{"life support", "structure", "heating", "water recycling"}},
	{"Greenhouse 1", unit.KindBuilding, unit.CategoryERV, buildingWearLife, []string{"life support", "water recycling", "heating"}},
	{"Solar Array 1", unit.KindBuilding, unit.CategoryPower, buildingWearLife, []string{"power generation", "structure"}},
	{"Hallway 1", unit.KindBuilding, unit.CategoryConnection, buildingWearLife, []string{"structure", "life support"}},
	{"Rover Opportunity", unit.KindVehicle, unit.CategoryNone, vehicleWearLife, []string{"rover", "life support"}},
	{"EVA Suit 1", unit.KindEVASuit, unit.CategoryNone, suitWearLife, []string{"eva suit"}},
}

// demoWorld is what populate registered with the engine.
type demoWorld struct {
	Sites []*engine.Site
	Crew  []*crew.Member
	Store *inventory.Inventory
}

// populate registers the demo settlement: its sites, a stocked store and a
// small crew living in the hab.
func populate(eng *engine.Engine, cat *catalog.Catalog) *demoWorld {
	store := inventory.New(settlement)
	for _, p := range cat.Parts.All() {
		store.AddItem(p.ID, stockPerPart)
	}
	for _, r := range cat.Resources {
		store.StoreAmount(r, stockPerResource)
	}
	eng.AddStore(settlement, store)

	w := &demoWorld{Store: store}
	for _, seed := range demoSites {
		site := engine.NewSite(seed.name, seed.kind, seed.category, settlement)
		opts := []malfunction.Option{malfunction.WithResources(store)}
		if seed.kind == unit.KindEVASuit {
			opts = append(opts, malfunction.WithoutInsideRepair())
		}
		if seed.name == preDeploymentSite {
			opts = append(opts, malfunction.WithPreDeployment())
		}
		eng.AddSite(site, engine.SiteSpec{
			WearLifeTime:  seed.wearLife,
			MaintWorkTime: maintWorkTime,
			Scopes:        seed.scopes,
			Options:       opts,
		})
		w.Sites = append(w.Sites, site)
	}

	w.Crew = []*crew.Member{
		crew.NewMember("C01", "Valentina Reyes", crew.RoleEngineer, settlement),
		crew.NewMember("C02", "Tomasz Nowak", crew.RoleTechnician, settlement),
		crew.NewMember("C03", "Amara Okafor", crew.RoleScientist, settlement),
		crew.NewMember("C04", "Jun Watanabe", crew.RoleDoctor, settlement),
		crew.NewRobot("R01", "RepairBot Alpha", settlement),
	}
	hab := w.Sites[0]
	for _, m := range w.Crew {
		hab.Enter(m)
		eng.AddCrew(m)
	}
	return w
}
