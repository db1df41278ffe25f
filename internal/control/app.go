package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/aiguard/internal/core/config"
	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/infra/invoker"
	"github.com/vietddude/aiguard/internal/infra/telemetry"
	"github.com/vietddude/aiguard/internal/resilience/backoff"
	"github.com/vietddude/aiguard/internal/resilience/health"
	"github.com/vietddude/aiguard/internal/resilience/orchestrator"
	"github.com/vietddude/aiguard/internal/resilience/queue"
	"github.com/vietddude/aiguard/internal/resilience/report"
	"github.com/vietddude/aiguard/internal/resilience/status"
)

// App owns the resilience service lifecycle.
type App struct {
	cfg      *config.AppConfig
	stores   *Stores
	tracker  *health.Tracker
	reporter *report.Reporter
	orch     *orchestrator.Orchestrator
	registry *invoker.Registry
	sweeper  *orchestrator.Sweeper

	monitor      *status.Monitor
	statusServer *status.Server
	grpcHealth   *status.GRPCHealth

	log    *slog.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an App with every dependency initialized.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app, err := NewWithStores(ctx, cfg, stores)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	return app, nil
}

// NewWithStores wires the service on already opened stores.
func NewWithStores(ctx context.Context, cfg *config.AppConfig, stores *Stores) (*App, error) {
	log := slog.Default().With("component", "app")
	rc := cfg.Resilience
	calc := backoff.Calculator{Cap: rc.BackoffCap}

	// 1. Capability health, restored from the previous run when enabled
	tracker := health.NewTracker(rc.FallbackThreshold)
	if rc.PersistHealth && stores.Health != nil {
		states, err := stores.Health.LoadAll(ctx)
		if err != nil {
			log.Warn("Failed to restore capability health", "error", err)
		} else {
			tracker.Restore(states)
			log.Info("Restored capability health", "count", len(states))
		}
	}

	// 2. Retry queue
	q := queue.New(stores.Tickets, queue.Config{
		MaxAttempts: rc.MaxAttempts,
		BatchSize:   rc.BatchSize,
		Backoff:     calc,
	})

	// 3. Telemetry
	sink, err := buildSink(cfg.Reporter.Sink, stores)
	if err != nil {
		return nil, err
	}
	rep := report.New(sink, report.Config{
		QueueSize:       cfg.Reporter.QueueSize,
		Workers:         cfg.Reporter.Workers,
		MaxRetries:      cfg.Reporter.MaxRetries,
		RetryBase:       cfg.Reporter.RetryBase,
		DeliveryTimeout: cfg.Reporter.DeliveryTimeout,
		HashSalt:        cfg.Reporter.HashSalt,
		Breaker: report.BreakerConfig{
			FailureThreshold: cfg.Reporter.Breaker.FailureThreshold,
			Timeout:          cfg.Reporter.Breaker.Timeout,
			MaxRequests:      cfg.Reporter.Breaker.MaxRequests,
		},
	})

	// 4. Orchestrator
	orch, err := orchestrator.New(orchestrator.Options{
		Tracker:           tracker,
		Queue:             q,
		Reporter:          rep,
		Backoff:           calc,
		Fallbacks:         rc.Fallbacks,
		AutoQueue:         rc.AutoQueue,
		CountNonRetryable: rc.CountNonRetryable,
		InvokeTimeout:     rc.InvokeTimeout,
		SweepConcurrency:  rc.SweepConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// 5. Redelivery endpoints
	registry := invoker.NewRegistry()
	for _, c := range cfg.Capabilities {
		registry.Register(c.Name, invoker.NewHTTPInvoker(string(c.Name), c.URL, c.Timeout))
		log.Info("Registered capability endpoint", "capability", c.Name, "url", c.URL)
	}

	app := &App{
		cfg:      cfg,
		stores:   stores,
		tracker:  tracker,
		reporter: rep,
		orch:     orch,
		registry: registry,
		log:      log,
	}

	sweeper := orchestrator.NewSweeper(orch, registry, rc.SweepInterval)
	if rc.PersistHealth {
		sweeper.OnTick = func(ctx context.Context, _ orchestrator.SweepSummary) {
			app.saveHealth(ctx)
		}
	}
	app.sweeper = sweeper

	// 6. Status surfaces
	app.monitor = status.NewMonitor(orch, rep, registry)
	app.statusServer = status.NewServer(app.monitor, cfg.Server.Port)
	if cfg.Server.GRPCPort > 0 {
		app.grpcHealth = status.NewGRPCHealth(cfg.Server.GRPCPort, tracker.Snapshot())
		app.grpcHealth.Watch(orch)
	}

	return app, nil
}

func buildSink(kind string, stores *Stores) (report.Sink, error) {
	logSink := telemetry.NewLogSink(nil)
	switch kind {
	case "", "log":
		return logSink, nil
	case "postgres", "both":
		if stores.Events == nil {
			return nil, fmt.Errorf("reporter sink %s needs an event store", kind)
		}
		if kind == "postgres" {
			return stores.Events, nil
		}
		return telemetry.MultiSink{logSink, stores.Events}, nil
	default:
		return nil, fmt.Errorf("unknown reporter sink %q", kind)
	}
}

// Orchestrator exposes the resilience entry point to embedding callers.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orch
}

// Monitor exposes the status aggregator.
func (a *App) Monitor() *status.Monitor {
	return a.monitor
}

// Sweeper exposes the retry sweeper.
func (a *App) Sweeper() *orchestrator.Sweeper {
	return a.sweeper
}

// Start starts the app and all its components.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	a.reporter.Start(ctx)

	if a.stores.DB != nil {
		a.stores.DB.StartMetricsCollector(ctx)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sweeper.Start(ctx)
	}()

	go func() {
		if err := a.statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Status server failed", "error", err)
		}
	}()

	if a.grpcHealth != nil {
		go func() {
			if err := a.grpcHealth.Start(); err != nil {
				a.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	a.log.Info("Resilience service started",
		"port", a.cfg.Server.Port,
		"grpc_port", a.cfg.Server.GRPCPort,
		"capabilities", a.registry.Capabilities(),
		"storage", a.cfg.Storage.Driver,
	)
	return nil
}

// RunOnce performs a single retry sweep without starting the servers.
// Telemetry workers are started so failed redeliveries are reported; Stop
// flushes them.
func (a *App) RunOnce(ctx context.Context) orchestrator.SweepSummary {
	a.reporter.Start(ctx)
	return a.sweeper.RunOnce(ctx)
}

// Stop stops the app. It waits for the sweeper, flushes telemetry and
// persists health before closing the stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping resilience service...")

	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	var errs []error
	if a.grpcHealth != nil {
		a.grpcHealth.Stop()
	}
	errs = append(errs, a.statusServer.Stop(ctx))

	a.orch.Close()
	a.reporter.Close()

	if a.cfg.Resilience.PersistHealth {
		a.saveHealth(ctx)
	}

	errs = append(errs, a.registry.Close())
	errs = append(errs, a.stores.Close())
	return errors.Join(errs...)
}

func (a *App) saveHealth(ctx context.Context) {
	if a.stores.Health == nil {
		return
	}
	if err := a.stores.Health.SaveAll(ctx, a.tracker.Snapshot()); err != nil {
		a.log.Warn("Failed to persist capability health", "error", err)
	}
}

// Health returns the current capability health, for CLI reporting.
func (a *App) Health() []domain.CapabilityHealth {
	return a.tracker.Snapshot()
}
