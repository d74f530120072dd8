package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/MRamiBalles/malfunction-engine/internal/engine"
	"github.com/MRamiBalles/malfunction-engine/internal/events"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/catalog"
	"github.com/MRamiBalles/malfunction-engine/internal/infra/storage"
	"github.com/MRamiBalles/malfunction-engine/internal/network"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/config"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
	"github.com/MRamiBalles/malfunction-engine/internal/platform/metrics"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine in real time with the HTTP API and event stream",
	RunE:  runServe,
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	appLogger := logger.New(cfg.Log)
	defer appLogger.Sync()
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Infof("Loading fault catalog from %s", cfg.Catalog.Path)
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.New(reg)

	var (
		persister events.EventPersister
		recon     *storage.Reconstructor
	)
	if cfg.Storage.SQLitePath != "" {
		appLogger.Infof("Initializing SQLite database %s", cfg.Storage.SQLitePath)
		db, err := storage.InitSQLite(cfg.Storage.SQLitePath, cfg.Storage.MaxOpenConns)
		if err != nil {
			return err
		}
		defer db.Close()
		eventRepo := storage.NewSQLiteEventRepository(db)
		persister = storage.NewEventWriter(eventRepo, mc.RecordEventWrite)
		recon = storage.NewReconstructor(eventRepo, storage.NewSQLiteReliabilityRepository(db))
	} else {
		appLogger.Warn("No sqlite_path configured, incidents will not be persisted")
	}

	eventLog := events.NewEventLog(persister)
	eventLog.DropConsumedTicks()
	eventLog.OnPersistError(func(e events.Event, err error) {
		appLogger.Errorf("Persisting %s for %s failed: %v", e.Type, e.EntityID, err)
	})

	eng := engine.NewEngine(eventLog, appLogger, cat, cfg.Engine)
	eng.SetMetrics(mc)

	var history network.History
	if recon != nil {
		restored, err := recon.Restore(ctx, eng.Model(), cat.Parts, eng.Selector())
		if err != nil {
			return errors.Wrap(err, "restore reliability model")
		}
		appLogger.Infof("Restored %d part record(s) from the last snapshot", restored)
		if at, ok, err := recon.ResumeTime(ctx); err != nil {
			return errors.Wrap(err, "resume mission time")
		} else if ok {
			eng.OverrideTime(at.MissionSol, at.Millisol, 0)
			appLogger.Infof("Resuming at %s", at)
		}
		eng.SetSnapshotter(recon)
		history = recon
	}

	world := populate(eng, cat)
	appLogger.Infof("Demo settlement %q: %d sites, %d crew", settlement, len(world.Sites), len(world.Crew))

	eng.Start(ctx)

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(appLogger, cfg.Server)
	hub.SetMetrics(mc)
	go hub.Run(ctx)
	hub.StartEventPoller(ctx, eventLog)

	api := network.NewAPI(eng, hub, history, reg, appLogger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLogger.Infof("API listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "api server")
		}
	}

	appLogger.Info("Shutting down...")
	eng.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("API shutdown: %v", err)
	}
	if recon != nil {
		if err := recon.Snapshot(shutdownCtx, eng.Model(), cat.Parts); err != nil {
			appLogger.Errorf("Final reliability snapshot failed: %v", err)
		}
	}
	return nil
}
