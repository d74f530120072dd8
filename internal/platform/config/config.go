// Package config loads runtime settings from a YAML file with MALF_*
// environment overrides.
package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/MRamiBalles/malfunction-engine/internal/platform/logger"
)

const envPrefix = "MALF"

type Config struct {
	Log     logger.Config `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Storage StorageConfig `mapstructure:"storage"`
	Server  ServerConfig  `mapstructure:"server"`
}

// EngineConfig drives the simulation clock and the fault workers.
type EngineConfig struct {
	TickRate         time.Duration `mapstructure:"tick_rate" validate:"gt=0"`
	MillisolsPerTick float64       `mapstructure:"millisols_per_tick" validate:"gt=0"`
	Workers          int           `mapstructure:"workers" validate:"gte=1"`
	Seed             uint64        `mapstructure:"seed"` // 0 seeds from entropy
	NoFailures       bool          `mapstructure:"no_failures"`
	StartSol         int           `mapstructure:"start_sol" validate:"gte=1"`
	ResupplyEvery    int           `mapstructure:"resupply_every"`                   // sols between parts deliveries, 0 disables
	SnapshotEvery    int           `mapstructure:"snapshot_every"`                   // sols between model snapshots, 0 disables
	ShiftMillisols   float64       `mapstructure:"shift_millisols" validate:"gte=0"` // work before a repairer hands over, 0 keeps the default
}

type CatalogConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type StorageConfig struct {
	SQLitePath   string `mapstructure:"sqlite_path"` // empty runs without persistence
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// ServerConfig covers the HTTP API and the WebSocket hub.
type ServerConfig struct {
	Addr             string        `mapstructure:"addr" validate:"required"`
	Mode             string        `mapstructure:"mode" validate:"oneof=debug release test"`
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BroadcastBuffer  int           `mapstructure:"broadcast_buffer" validate:"gte=1"`
	ClientSendBuffer int           `mapstructure:"client_send_buffer" validate:"gte=1"`
}

// DefaultConfig returns sensible defaults for a single-node server.
func DefaultConfig() *Config {
	numCPU := runtime.NumCPU()

	return &Config{
		Log: logger.Config{
			Level:      "info",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		},
		Engine: EngineConfig{
			TickRate:         time.Second,
			MillisolsPerTick: 1,
			Workers:          numCPU, // one per CPU, manager ticks are CPU bound
			StartSol:         1,
			ResupplyEvery:    7,
			SnapshotEvery:    1,
			ShiftMillisols:   250,
		},
		Catalog: CatalogConfig{Path: "configs/catalog.yaml"},
		Storage: StorageConfig{
			SQLitePath:   "malfunction.db",
			MaxOpenConns: 1, // sqlite serialises writers anyway
		},
		Server: ServerConfig{
			Addr:             ":8080",
			Mode:             "release",
			PollInterval:     100 * time.Millisecond,
			BroadcastBuffer:  256,
			ClientSendBuffer: 64,
		},
	}
}

// SoakConfig returns aggressive settings for headless runs at full speed.
func SoakConfig() *Config {
	cfg := DefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Engine.TickRate = time.Millisecond
	cfg.Engine.Workers = runtime.NumCPU() * 2
	cfg.Engine.ResupplyEvery = 14
	cfg.Engine.SnapshotEvery = 0
	cfg.Storage.SQLitePath = ""
	return cfg
}

// Load reads path (if non-empty) over the defaults and applies MALF_*
// environment overrides, e.g. MALF_ENGINE_SEED=42.
func Load(path string) (*Config, error) {
	vp := viper.New()
	setDefaults(vp, DefaultConfig())
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	if path != "" {
		vp.SetConfigFile(path)
		if err := vp.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func setDefaults(vp *viper.Viper, d *Config) {
	vp.SetDefault("log.filepath", d.Log.Filepath)
	vp.SetDefault("log.level", d.Log.Level)
	vp.SetDefault("log.max_size", d.Log.MaxSize)
	vp.SetDefault("log.max_age", d.Log.MaxAge)
	vp.SetDefault("log.max_backups", d.Log.MaxBackups)
	vp.SetDefault("log.compress", d.Log.Compress)
	vp.SetDefault("log.development", d.Log.Development)

	vp.SetDefault("engine.tick_rate", d.Engine.TickRate)
	vp.SetDefault("engine.millisols_per_tick", d.Engine.MillisolsPerTick)
	vp.SetDefault("engine.workers", d.Engine.Workers)
	vp.SetDefault("engine.seed", d.Engine.Seed)
	vp.SetDefault("engine.no_failures", d.Engine.NoFailures)
	vp.SetDefault("engine.start_sol", d.Engine.StartSol)
	vp.SetDefault("engine.resupply_every", d.Engine.ResupplyEvery)
	vp.SetDefault("engine.snapshot_every", d.Engine.SnapshotEvery)
	vp.SetDefault("engine.shift_millisols", d.Engine.ShiftMillisols)

	vp.SetDefault("catalog.path", d.Catalog.Path)

	vp.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	vp.SetDefault("storage.max_open_conns", d.Storage.MaxOpenConns)

	vp.SetDefault("server.addr", d.Server.Addr)
	vp.SetDefault("server.mode", d.Server.Mode)
	vp.SetDefault("server.poll_interval", d.Server.PollInterval)
	vp.SetDefault("server.broadcast_buffer", d.Server.BroadcastBuffer)
	vp.SetDefault("server.client_send_buffer", d.Server.ClientSendBuffer)
}
