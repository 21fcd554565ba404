package internal

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sipeed/modclaw/pkg/audit"
	"github.com/sipeed/modclaw/pkg/bus"
	"github.com/sipeed/modclaw/pkg/commands"
	"github.com/sipeed/modclaw/pkg/config"
	"github.com/sipeed/modclaw/pkg/logger"
	"github.com/sipeed/modclaw/pkg/ratelimit"
	"github.com/sipeed/modclaw/pkg/store"
	"github.com/sipeed/modclaw/pkg/store/memory"
	"github.com/sipeed/modclaw/pkg/store/sqlite"
)

const Logo = "🛡"

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

func GetConfigPath() string {
	return config.ResolveRuntimePaths().ConfigPath
}

// LoadConfig reads the config file and applies its log settings.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(GetConfigPath())
	if err != nil {
		return nil, err
	}
	if err := applyLogSettings(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyLogSettings(cfg *config.Config) error {
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	logger.SetLevel(level)

	if cfg.Log.File != "" {
		if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
			return fmt.Errorf("enabling file logging: %w", err)
		}
	}
	return nil
}

// Backend is a store implementation that can also be seeded and closed.
type Backend interface {
	store.Seeder
	Stores() store.Stores
}

// App is the fully wired command engine used by the CLI sub-commands.
type App struct {
	Config     *config.Config
	Backend    Backend
	Stores     store.Stores
	Registry   *commands.Registry
	Dispatcher *commands.Dispatcher
	Bus        *bus.MessageBus
	Limiter    *ratelimit.Limiter
	Audit      *audit.Logger

	closers []func() error
}

// OpenBackend opens the store selected by cfg.Storage.Driver.
func OpenBackend(cfg *config.Config) (Backend, func() error, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverMemory, "":
		return memory.New(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// NewApp wires stores, registry, limiter, audit log and dispatcher from cfg.
func NewApp(cfg *config.Config) (*App, error) {
	backend, closeBackend, err := OpenBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	app := &App{
		Config:  cfg,
		Backend: backend,
		Stores:  backend.Stores(),
		Bus:     bus.NewMessageBus(cfg.Feedback.BufferSize),
		closers: []func() error{closeBackend},
	}

	deps := commands.Deps{Stores: app.Stores, Config: cfg}
	app.Registry, err = commands.NewRegistry(
		commands.Static(commands.BuiltinDefinitions(deps)...),
		commands.WithElevatedRoles(cfg.Commands.ElevatedRoles...),
		commands.WithSearchLimit(cfg.Commands.SearchLimit),
	)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("building command registry: %w", err)
	}

	opts := []commands.DispatcherOption{commands.WithPrefixes(cfg.Commands.Prefixes...)}
	if cfg.RateLimits.Enabled {
		app.Limiter = ratelimit.NewLimiter(ratelimit.Config{
			Enabled:        true,
			MaxInvocations: cfg.RateLimits.MaxInvocations,
			Window:         cfg.RateLimits.Window(),
		})
		opts = append(opts, commands.WithLimiter(app.Limiter))
	} else {
		opts = append(opts, commands.WithLimiter(nil))
	}
	if cfg.Audit.Enabled {
		auditCfg := audit.DefaultConfig()
		auditCfg.LogFilePath = cfg.Audit.LogFilePath
		if cfg.Audit.SecretKey != "" {
			auditCfg.SecretKey = []byte(cfg.Audit.SecretKey)
		}
		app.Audit, err = audit.New(auditCfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("opening audit log: %w", err)
		}
		app.closers = append(app.closers, app.Audit.Close)
		opts = append(opts, commands.WithAuditor(app.Audit))
	}

	app.Dispatcher = commands.NewDispatcher(app.Registry, app.Bus, opts...)
	return app, nil
}

// StartMaintenance drops idle rate limit windows until ctx is done.
func (a *App) StartMaintenance(ctx context.Context) {
	if a.Limiter == nil {
		return
	}
	window := a.Config.RateLimits.Window()
	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.Limiter.Cleanup(2 * window); n > 0 {
					logger.DebugCF("app", "Dropped idle rate limit windows", map[string]any{"count": n})
				}
			}
		}
	}()
}

func (a *App) Close() error {
	a.Bus.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// FormatVersion returns the version string with optional git commit
func FormatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

// FormatBuildInfo returns build time and go version info
func FormatBuildInfo() (string, string) {
	build := buildTime
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return build, goVer
}

// GetVersion returns the version string
func GetVersion() string {
	return version
}
