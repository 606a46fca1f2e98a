package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"grimm.is/toggled/internal/api"
	"grimm.is/toggled/internal/audit"
	"grimm.is/toggled/internal/config"
	"grimm.is/toggled/internal/coordinator"
	"grimm.is/toggled/internal/events"
	"grimm.is/toggled/internal/health"
	"grimm.is/toggled/internal/logging"
	"grimm.is/toggled/internal/metrics"
	"grimm.is/toggled/internal/notification"
	"grimm.is/toggled/internal/ratelimit"
	"grimm.is/toggled/internal/registry"
	"grimm.is/toggled/internal/scheduler"
	"grimm.is/toggled/internal/toggle"
)

// Scheduler tasks registered next to the snapshot poll.
const (
	AuditPruneTaskID       = "audit-prune"
	LimiterCleanupTaskID   = "ratelimit-cleanup"
	limiterCleanupInterval = 10 * time.Minute
)

// Daemon is a fully wired toggled instance.
type Daemon struct {
	Config      *config.Config
	Device      Device
	Coordinator *coordinator.Coordinator
	Registry    *registry.Registry
	Audit       *audit.Store
	API         *api.Server
	Hub         *events.Hub
	Health      *health.Checker
	Alerts      *notification.Dispatcher

	logger *logging.Logger
}

// NewDaemon wires the components described by cfg without starting them.
func NewDaemon(cfg *config.Config, logger *logging.Logger) (*Daemon, error) {
	types := entityTypes(cfg)
	specs, err := toggle.Collections(types)
	if err != nil {
		return nil, err
	}

	dev, target, err := openDevice(cfg, specs, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("device configured", "target", target, "types", types)

	d := &Daemon{
		Config: cfg,
		Device: dev,
		Hub:    events.NewHub(),
		Health: health.NewChecker(5*time.Second, nil),
		logger: logger,
	}
	m := metrics.Get()

	d.Coordinator, err = coordinator.New(dev, coordinator.Config{
		Interval: cfg.Interval(),
		Hub:      d.Hub,
		Metrics:  m,
		Logger:   logger.WithComponent("coordinator"),
	})
	if err != nil {
		return nil, err
	}
	sched := d.Coordinator.Scheduler()
	d.Health.Register("snapshot", health.Snapshot(d.Coordinator, 3*cfg.Interval()))
	d.Health.Register("refresh", health.Task(sched, coordinator.RefreshTaskID))

	rcfg := registry.Config{
		Types:        types,
		Writer:       dev,
		Refresher:    d.Coordinator,
		Capabilities: d.Coordinator,
		Snapshots:    d.Coordinator,
		Notifier:     events.NewToggleNotifier(d.Hub),
		Hub:          d.Hub,
		Metrics:      m,
		Logger:       logger.WithComponent("registry"),
	}

	if cfg.AuditEnabled() {
		store, err := audit.NewStore(cfg.Audit.Path, cfg.Audit.RetentionDays, nil)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		d.Audit = store
		rcfg.Audit = store
		d.Health.Register("audit", health.Store(store))

		err = sched.AddTask(&scheduler.Task{
			ID:       AuditPruneTaskID,
			Name:     "Prune audit trail",
			Schedule: scheduler.Daily(3, 30),
			Enabled:  true,
			Timeout:  time.Minute,
			Func: func(ctx context.Context) error {
				n, err := store.Prune(ctx)
				if err == nil && n > 0 {
					logger.Info("audit entries pruned", "count", n)
				}
				return err
			},
		})
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	if len(cfg.Notify) > 0 {
		d.Alerts = notification.NewDispatcher(cfg.Notify, logger.WithComponent("notification"))
	}

	d.Registry, err = registry.New(rcfg)
	if err != nil {
		d.closeAudit()
		return nil, err
	}

	if cfg.APIEnabled() {
		trusted, err := cfg.API.TrustedProxyPrefixes()
		if err != nil {
			d.closeAudit()
			return nil, err
		}
		opts := api.ServerOptions{
			Toggles:    d.Registry,
			Status:     d.Coordinator,
			Hub:        d.Hub,
			Metrics:    m,
			Health:     d.Health,
			Logger:     logger.WithComponent("api"),
			APIKey:     cfg.API.APIKey,
			APIKeyHash: cfg.API.APIKeyHash,

			TrustedProxies: trusted,
		}
		if d.Audit != nil {
			opts.Audit = d.Audit
		}
		if cfg.API.RateLimit > 0 {
			limiter := ratelimit.NewLimiter(cfg.API.RateLimit, time.Minute, nil)
			opts.Limiter = limiter
			err = sched.AddTask(&scheduler.Task{
				ID:       LimiterCleanupTaskID,
				Name:     "Drop idle rate limit buckets",
				Schedule: scheduler.Every(limiterCleanupInterval),
				Enabled:  true,
				Func: func(ctx context.Context) error {
					limiter.CleanupExpired(limiterCleanupInterval)
					return nil
				},
			})
			if err != nil {
				d.closeAudit()
				return nil, err
			}
		}
		d.API, err = api.NewServer(opts)
		if err != nil {
			d.closeAudit()
			return nil, err
		}
	}
	return d, nil
}

// Run starts polling and serving and blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Registry.Run(ctx)
	}()
	if d.Alerts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Alerts.Run(ctx, d.Hub)
		}()
	}

	d.Coordinator.Start()

	errCh := make(chan error, 1)
	if d.API != nil && l != nil {
		go func() {
			errCh <- d.API.Serve(l)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	d.logger.Info("shutting down")
	if d.API != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.API.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("API shutdown", "error", err)
		}
		stop()
	}
	d.Coordinator.Stop()
	cancel()
	wg.Wait()
	d.closeAudit()
	return runErr
}

func (d *Daemon) closeAudit() {
	if d.Audit != nil {
		d.Audit.Close()
		d.Audit = nil
	}
}

// RunDaemon loads configFile and runs until SIGINT or SIGTERM. SIGHUP
// re-reads the logging level.
func RunDaemon(configFile string) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	d, err := NewDaemon(cfg, logger)
	if err != nil {
		return err
	}

	var l net.Listener
	if d.API != nil {
		l, err = net.Listen("tcp", cfg.API.Listen)
		if err != nil {
			d.closeAudit()
			return fmt.Errorf("listen %s: %w", cfg.API.Listen, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					reloadLogLevel(configFile, logger)
				default:
					logger.Info("received signal, shutting down", "signal", sig)
					cancel()
					return
				}
			}
		}
	}()

	err = d.Run(ctx, l)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func reloadLogLevel(configFile string, logger *logging.Logger) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		logger.Error("failed to reload configuration", "error", err)
		return
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Error("failed to reload log level", "error", err)
		return
	}
	logger.SetLevel(level)
	logger.Info("log level reloaded", "level", level.String())
}
