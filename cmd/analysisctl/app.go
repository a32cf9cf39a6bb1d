package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/exaring/otelpgx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	app "github.com/ahrav/analysis-armada/internal/app/analysis"
	"github.com/ahrav/analysis-armada/internal/config"
	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/infra/eventbus/kafka"
	"github.com/ahrav/analysis-armada/internal/infra/storage/analysis/memory"
	"github.com/ahrav/analysis-armada/internal/infra/storage/analysis/postgres"
	"github.com/ahrav/analysis-armada/internal/infra/storage/analysis/sqlite"
	"github.com/ahrav/analysis-armada/internal/plugins"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
	"github.com/ahrav/analysis-armada/pkg/common/otel"
)

const serviceType = "analysisctl"

// store is satisfied by every task and record store.
type store interface {
	domain.Destination
	domain.RecordRepository
	GetTask(ctx context.Context, id uuid.UUID) (domain.TaskSnapshot, error)
}

// application bundles the wired components for one command invocation.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	tracer   trace.Tracer
	meter    metric.MeterProvider
	store    store
	registry *app.Registry

	closers []func(ctx context.Context)
}

// appOptions selects which parts of the application a command needs.
type appOptions struct {
	// worker builds a registry over an in-memory record store and keeps
	// stdout free for the worker protocol.
	worker bool
	// logOutput defaults to stderr.
	logOutput io.Writer
}

func newApplication(ctx context.Context, cfg *config.Config, opts appOptions) (_ *application, err error) {
	out := opts.logOutput
	if out == nil {
		out = os.Stderr
	}

	a := &application{cfg: cfg, log: newLogger(out, cfg, opts.worker)}
	defer func() {
		if err != nil {
			a.Close(ctx)
		}
	}()

	a.tracer = tracenoop.NewTracerProvider().Tracer(serviceType)
	a.meter = metricnoop.NewMeterProvider()
	if cfg.Telemetry.Enabled && !opts.worker {
		hostname, _ := os.Hostname()
		tp, mp, teardown, err := otel.InitTelemetry(a.log, otel.Config{
			ServiceName:      cfg.Telemetry.ServiceName,
			ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
			Probability:      cfg.Telemetry.SamplingRatio,
			ResourceAttributes: map[string]string{
				"library.language": "go",
				"host.name":        hostname,
			},
			InsecureExporter: cfg.Telemetry.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("initializing telemetry: %w", err)
		}
		a.closers = append(a.closers, teardown)
		a.tracer = tp.Tracer(cfg.Telemetry.ServiceName)
		a.meter = mp
	}

	if opts.worker {
		a.store = memory.NewStore()
	} else {
		s, closeStore, err := openStore(ctx, cfg.Storage, a.log, a.tracer)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.closers = append(a.closers, func(context.Context) { closeStore() })
	}

	policy, ok := app.PolicyByName(cfg.Plugins.Policy)
	if !ok {
		return nil, fmt.Errorf("unknown plugin policy %q", cfg.Plugins.Policy)
	}
	regOpts := []app.RegistryOption{app.WithPolicy(policy)}
	if len(cfg.Plugins.Dirs) > 0 {
		regOpts = append(regOpts, app.WithPluginDirs(cfg.Plugins.Dirs...))
	}
	a.registry = app.NewRegistry(plugins.Builtin(), a.store, a.log, a.tracer, regOpts...)
	if err := a.registry.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading services: %w", err)
	}
	return a, nil
}

// Environment builds the dispatch environment, wrapping the store with an
// event publisher when events are enabled.
func (a *application) Environment(ctx context.Context, workerArgs []string) (*app.Environment, error) {
	mode, err := app.ParseMode(a.cfg.Environment.DefaultMode)
	if err != nil {
		return nil, err
	}

	envMetrics, err := app.NewEnvironmentMetrics(a.meter)
	if err != nil {
		return nil, fmt.Errorf("creating environment metrics: %w", err)
	}

	opts := []app.EnvironmentOption{
		app.WithDefaultMode(mode),
		app.WithWorkerCommand(app.SelfWorkerCommand(workerArgs...)),
		app.WithMetrics(envMetrics),
	}
	if r := a.cfg.Environment.NotifyRate; r > 0 {
		opts = append(opts, app.WithNotifyRate(rate.Limit(r), max(a.cfg.Environment.NotifyBurst, 1)))
	}

	var dest domain.Destination = a.store
	if a.cfg.Events.Enabled {
		pubMetrics, err := kafka.NewPublisherMetrics(a.meter)
		if err != nil {
			return nil, fmt.Errorf("creating publisher metrics: %w", err)
		}
		publisher, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
			Brokers:         a.cfg.Events.Brokers,
			TaskEventsTopic: a.cfg.Events.Topic,
			ClientID:        a.cfg.Events.ClientID,
			DialTimeout:     a.cfg.Events.DialTimeout,
		}, a.cfg.Events.ConnectTimeout, a.log, pubMetrics, a.tracer)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(ctx context.Context) {
			if err := publisher.Close(); err != nil {
				a.log.Warn(ctx, "closing event publisher", "error", err)
			}
		})
		dest = app.NewEventingDestination(a.store, publisher, a.log)
	}

	return app.NewEnvironment(a.registry, dest, a.log, a.tracer, opts...), nil
}

// Close releases resources in reverse acquisition order.
func (a *application) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func newLogger(w io.Writer, cfg *config.Config, worker bool) *logger.Logger {
	hostname, _ := os.Hostname()
	role := "cli"
	if worker {
		role = "worker"
	}
	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
		"role":     role,
	}
	traceIDFn := func(ctx context.Context) string { return otel.GetTraceID(ctx) }
	return logger.NewWithMetadata(w, logger.ParseLevel(cfg.Log.Level), serviceType, traceIDFn, logger.Events{}, metadata)
}

// openStore connects the configured store and returns a func releasing it.
func openStore(ctx context.Context, cfg config.StorageConfig, log *logger.Logger, tracer trace.Tracer) (store, func(), error) {
	switch cfg.Driver {
	case config.StorageMemory:
		return memory.NewStore(), func() {}, nil

	case config.StorageSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return sqlite.NewStore(db, tracer), func() { _ = db.Close() }, nil

	case config.StoragePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse db config: %w", err)
		}
		poolCfg.MaxConns = cfg.MaxConns
		poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open db: %w", err)
		}
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info(ctx, "migrations applied")
		}
		return postgres.NewStore(pool, tracer), pool.Close, nil

	default:
		return nil, nil, errors.New("unknown storage driver " + string(cfg.Driver))
	}
}
