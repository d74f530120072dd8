package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/malfunction-engine/internal/engine"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/catalog"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
)

var (
	soakSols       int
	soakSeed       uint64
	soakWorkers    int
	soakTickSize   float64
	soakCatalog    string
	soakNoFailures bool
)

var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Run the demo settlement headless at full speed and print a report",
	Long: `soak advances the demo settlement for a number of sols as fast as possible with a
fixed seed, then prints the incidents, repairs, maintenances and expected part demand.`,
	RunE: runSoak,
}

func init() {
	d := config.SoakConfig()
	soakCmd.Flags().IntVar(&soakSols, "sols", 30, "Number of sols to simulate")
	soakCmd.Flags().Uint64Var(&soakSeed, "seed", 1, "Random seed")
	soakCmd.Flags().IntVar(&soakWorkers, "workers", d.Engine.Workers, "Parallel entity workers")
	soakCmd.Flags().Float64Var(&soakTickSize, "millisols-per-tick", 1, "Simulated millisols per pulse")
	soakCmd.Flags().StringVar(&soakCatalog, "catalog", d.Catalog.Path, "Path to the fault catalog")
	soakCmd.Flags().BoolVar(&soakNoFailures, "no-failures", false, "Suppress every new fault")
}

func runSoak(cmd *cobra.Command, args []string) error {
	cfg := config.SoakConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Engine.Seed = soakSeed
	cfg.Engine.Workers = soakWorkers
	cfg.Engine.MillisolsPerTick = soakTickSize
	cfg.Engine.NoFailures = soakNoFailures
	cfg.Engine.SnapshotEvery = 0
	if cmd.Flags().Changed("catalog") || configPath == "" {
		cfg.Catalog.Path = soakCatalog
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	appLogger := logger.New(cfg.Log)
	defer appLogger.Sync()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventLog := events.NewEventLog(nil)
	eng := engine.NewEngine(eventLog, appLogger, cat, cfg.Engine)
	world := populate(eng, cat)

	started := time.Now()
	pulses := simulate(ctx, eng, soakSols)
	report(cmd.OutOrStdout(), eng, world, pulses, time.Since(started))
	return nil
}

// simulate steps the engine until sols whole sols have passed or ctx ends.
func simulate(ctx context.Context, eng *engine.Engine, sols int) int64 {
	end := eng.Now().MissionSol + sols
	var n int64
	for eng.Now().MissionSol < end && ctx.Err() == nil {
		eng.Step(ctx)
		n++
	}
	return n
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
)

func report(out io.Writer, eng *engine.Engine, world *demoWorld, pulses int64, took time.Duration) {
	el := eng.EventLog()
	faults := el.GetByType(events.EventTypeFaultTriggered)
	fixes := el.GetByType(events.EventTypeFaultFixed)

	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%s after %s pulses (%s, now %s)",
		settlement, humanize.Comma(pulses), took.Round(time.Millisecond), eng.Now())))
	fmt.Fprintf(out, "%s incidents, %s fixed, %s parts shortfalls, %s accidents\n\n",
		humanize.Comma(int64(len(faults))),
		humanize.Comma(int64(len(fixes))),
		humanize.Comma(int64(len(el.GetByType(events.EventTypePartsShortfall)))),
		humanize.Comma(int64(len(el.GetByType(events.EventTypeAccident)))))

	fmt.Fprintln(out, sectionStyle.Render("Entities"))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tWEAR %\tFAULTS\tOPEN\tMAINTENANCES\tOXYGEN FLOW")
	for _, st := range eng.Statuses() {
		fmt.Fprintf(tw, "%s\t%.1f\t%d\t%d\t%d\t%.1f\n",
			st.Entity, st.WearCondition, st.Faults, len(st.Active), st.Maintenances, st.OxygenFlow)
	}
	tw.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, sectionStyle.Render("Incidents"))
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAULT\tCOUNT")
	for _, row := range countFaults(faults) {
		fmt.Fprintf(tw, "%s\t%d\n", row.name, row.count)
	}
	tw.Flush()

	fmt.Fprintln(out)
	fmt.Fprintln(out, sectionStyle.Render("Expected part demand"))
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PART\tEXPECTED\tAWAITING RESUPPLY\tIN STORE")
	demand := eng.FleetDemand()
	shortfalls := eng.Shortfalls()
	for _, p := range eng.PartStats() {
		stored := world.Store.ItemStored(p.ID)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", p.Name, humanize.FtoaWithDigits(demand[p.Name], 4), shortfalls[p.Name], stored)
	}
	tw.Flush()
}

type faultCount struct {
	name  string
	count int
}

func countFaults(triggered []events.Event) []faultCount {
	counts := make(map[string]int)
	for _, e := range triggered {
		if p, ok := e.Payload.(events.FaultPayload); ok {
			counts[p.Fault]++
		}
	}
	out := make([]faultCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, faultCount{name, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].name < out[j].name
	})
	return out
}
