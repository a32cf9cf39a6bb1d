package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

// Mode selects how a run is dispatched.
type Mode string

const (
	// ModeLocal runs the service synchronously in the caller's goroutine.
	ModeLocal Mode = "local"
	// ModeThread runs the service on its own goroutine.
	ModeThread Mode = "thread"
	// ModeProcess runs the service in a child worker process.
	ModeProcess Mode = "process"
)

// ParseMode converts a string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeLocal, ModeThread, ModeProcess:
		return m, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// RunRequest describes a single service run.
type RunRequest struct {
	Service string
	Object  domain.Object
	User    string
	// Mode defaults to the environment's default mode.
	Mode Mode
	// Force skips the duplicate-run and applicability checks. It never
	// bypasses the supported type and required field checks.
	Force bool
	// CustomConfig overlays raw per-run values on the stored configuration.
	CustomConfig map[string]any
}

// Environment validates run requests, resolves their configuration, creates
// their tasks and dispatches them. It is safe for concurrent use.
type Environment struct {
	registry *Registry
	dest     domain.Destination

	defaultMode Mode
	dispatchers map[Mode]dispatcher
	workerCmd   WorkerCommand

	notifyLimit rate.Limit
	notifyBurst int

	metrics EnvironmentMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// EnvironmentOption configures an Environment.
type EnvironmentOption func(*Environment)

// WithDefaultMode sets the mode used when a request does not name one.
func WithDefaultMode(m Mode) EnvironmentOption {
	return func(e *Environment) { e.defaultMode = m }
}

// WithWorkerCommand sets the command process mode launches for each run.
func WithWorkerCommand(cmd WorkerCommand) EnvironmentOption {
	return func(e *Environment) { e.workerCmd = cmd }
}

// WithNotifyRate limits how often a run may push intermediate task updates
// to the destination. Updates above the limit are dropped.
func WithNotifyRate(limit rate.Limit, burst int) EnvironmentOption {
	return func(e *Environment) {
		e.notifyLimit = limit
		e.notifyBurst = burst
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m EnvironmentMetrics) EnvironmentOption {
	return func(e *Environment) { e.metrics = m }
}

// NewEnvironment creates an Environment dispatching runs of registry's
// services and reporting them to dest.
func NewEnvironment(
	registry *Registry,
	dest domain.Destination,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...EnvironmentOption,
) *Environment {
	e := &Environment{
		registry:    registry,
		dest:        dest,
		defaultMode: ModeThread,
		workerCmd:   SelfWorkerCommand(),
		metrics:     noopMetrics{},
		logger:      logger.With("component", "analysis_environment"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatchers = map[Mode]dispatcher{
		ModeLocal:   localDispatcher{},
		ModeThread:  threadDispatcher{},
		ModeProcess: &processDispatcher{command: e.workerCmd, logger: e.logger.With("dispatcher", "process")},
	}
	return e
}

// RunService checks a request against the service's preconditions and
// dispatches it. Precondition failures are returned as ErrServiceUnavailable,
// *domain.ConfigError or *domain.AnalysisError and never create a task. In
// thread and process modes the returned handle's run may still be in flight.
func (e *Environment) RunService(ctx context.Context, req RunRequest) (*Handle, error) {
	mode := req.Mode
	if mode == "" {
		mode = e.defaultMode
	}
	ctx, span := e.tracer.Start(ctx, "analysis_environment.run_service",
		trace.WithAttributes(
			attribute.String("service", req.Service),
			attribute.String("mode", string(mode)),
			attribute.Bool("force", req.Force),
		))
	defer span.End()

	d, ok := e.dispatchers[mode]
	if !ok {
		err := fmt.Errorf("unknown dispatch mode %q", mode)
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid mode")
		return nil, err
	}
	if req.Object == nil {
		return nil, errors.New("run request has no object")
	}
	obj := req.Object
	span.SetAttributes(
		attribute.String("object_type", obj.Type()),
		attribute.String("object_id", obj.ID()),
	)

	svc, err := e.registry.Service(req.Service)
	if err != nil {
		return nil, e.reject(ctx, span, req.Service, "unavailable", err)
	}
	def := svc.Definition()

	rec, err := e.registry.Record(ctx, def.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read service record")
		return nil, fmt.Errorf("reading record for %s: %w", def.Name, err)
	}
	if !e.registry.IsEnabled(rec) {
		return nil, e.reject(ctx, span, def.Name, "disabled", domain.UnavailableError(def.Name, "disabled"))
	}
	if rec.Misconfigured() {
		return nil, e.reject(ctx, span, def.Name, "misconfigured",
			&domain.ConfigError{Service: def.Name, Reason: "service is misconfigured"})
	}

	if !def.SupportedForType(obj.Type()) {
		return nil, e.reject(ctx, span, def.Name, string(domain.ReasonUnsupportedType), &domain.AnalysisError{
			Service: def.Name, ObjectType: obj.Type(), ObjectID: obj.ID(), Reason: domain.ReasonUnsupportedType,
		})
	}
	if field := def.MissingField(obj); field != "" {
		return nil, e.reject(ctx, span, def.Name, string(domain.ReasonMissingFields), &domain.AnalysisError{
			Service: def.Name, ObjectType: obj.Type(), ObjectID: obj.ID(), Reason: domain.ReasonMissingFields,
			Detail: "missing " + field,
		})
	}

	plugin := svc.New()
	if !req.Force && !def.Rerunnable {
		exists, err := e.dest.ResultsExist(ctx, def.Name, obj.Type(), obj.ID())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to check existing results")
			return nil, fmt.Errorf("checking existing results: %w", err)
		}
		if exists {
			return nil, e.reject(ctx, span, def.Name, string(domain.ReasonDuplicate), &domain.AnalysisError{
				Service: def.Name, ObjectType: obj.Type(), ObjectID: obj.ID(), Reason: domain.ReasonDuplicate,
			})
		}
		if !domain.ValidFor(plugin, obj) {
			return nil, e.reject(ctx, span, def.Name, string(domain.ReasonDeclined), &domain.AnalysisError{
				Service: def.Name, ObjectType: obj.Type(), ObjectID: obj.ID(), Reason: domain.ReasonDeclined,
			})
		}
	}

	cfg, err := resolveConfig(def, plugin, rec.Config, req.CustomConfig)
	if err != nil {
		return nil, e.reject(ctx, span, def.Name, "invalid_config", err)
	}

	task := domain.NewTask(def, obj, req.User, domain.WithTaskConfig(def.PublicConfig(cfg)))
	if err := task.Start(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("task_id", task.ID().String()))
	if err := e.dest.AddTask(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to add task")
		return nil, fmt.Errorf("adding task %s: %w", task.ID(), err)
	}

	handle := newHandle(task, mode)
	notify, complete := e.notifyCallback(), e.completeCallback(handle)
	opts := []domain.ExecutionOption{
		domain.WithNotify(notify),
		domain.WithComplete(complete),
	}
	if e.notifyBurst > 0 {
		opts = append(opts, domain.WithNotifyLimiter(rate.NewLimiter(e.notifyLimit, e.notifyBurst)))
	}
	execution := domain.NewExecution(plugin, cfg, opts...)
	if err := execution.SetTask(task); err != nil {
		return nil, err
	}

	e.metrics.IncRunsStarted(ctx, def.Name, mode)
	e.metrics.AddActiveTasks(ctx, 1)
	e.logger.Info(ctx, "dispatching analysis run",
		"service", def.Name,
		"task_id", task.ID().String(),
		"object_type", obj.Type(),
		"object_id", obj.ID(),
		"mode", string(mode),
	)

	d.dispatch(ctx, &run{
		service:   svc,
		config:    cfg,
		task:      task,
		execution: execution,
		notify:    notify,
		complete:  complete,
		notifyRate: notifyRate{
			limit: e.notifyLimit,
			burst: e.notifyBurst,
		},
	})
	span.SetStatus(codes.Ok, "run dispatched")
	return handle, nil
}

func (e *Environment) reject(ctx context.Context, span trace.Span, service, reason string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "run rejected")
	e.metrics.IncRunsRejected(ctx, service, reason)
	e.logger.Debug(ctx, "analysis run rejected", "service", service, "reason", reason, "error", err)
	return err
}

// resolveConfig overlays custom values on the stored configuration, validates
// the result and resolves select indexes into their literal choices.
func resolveConfig(def domain.Definition, plugin domain.Plugin, stored domain.Config, custom map[string]any) (domain.Config, error) {
	cfg := stored.Clone()
	for key, raw := range custom {
		opt, ok := def.Option(key)
		if !ok {
			return nil, &domain.ConfigError{Service: def.Name, Option: key, Reason: "unknown option"}
		}
		v, err := opt.ParseValue(raw)
		if err != nil {
			return nil, err
		}
		cfg[key] = v
	}

	if err := domain.ValidateConfig(plugin, cfg); err != nil {
		return nil, err
	}

	for _, opt := range def.DefaultConfig {
		if opt.Type() != domain.OptionSelect && opt.Type() != domain.OptionMultiSelect {
			continue
		}
		v, err := opt.ReplaceValue(cfg[opt.Name()])
		if err != nil {
			return nil, err
		}
		cfg[opt.Name()] = v
	}
	return cfg, nil
}

func (e *Environment) notifyCallback() domain.TaskCallback {
	return func(ctx context.Context, t *domain.Task) {
		if err := e.dest.UpdateTask(ctx, t); err != nil {
			e.logger.Error(ctx, "failed to update task", "task_id", t.ID().String(), "error", err)
		}
	}
}

// completeCallback persists the finished task and releases the handle.
func (e *Environment) completeCallback(h *Handle) domain.TaskCallback {
	return func(ctx context.Context, t *domain.Task) {
		if err := e.dest.FinishTask(ctx, t); err != nil {
			e.logger.Error(ctx, "failed to finish task", "task_id", t.ID().String(), "error", err)
		}

		status := t.Status()
		e.metrics.AddActiveTasks(ctx, -1)
		if finished := t.FinishDate(); !finished.IsZero() {
			e.metrics.ObserveTaskDuration(ctx, t.Service(), status.String(), finished.Sub(t.StartDate()))
		}
		e.logger.Info(ctx, "analysis run finished",
			"service", t.Service(),
			"task_id", t.ID().String(),
			"status", status.String(),
		)
		h.close()
	}
}

// Triage runs every triage service against obj. Services whose
// preconditions reject the object are skipped.
func (e *Environment) Triage(ctx context.Context, obj domain.Object, user string, mode Mode) ([]*Handle, error) {
	ctx, span := e.tracer.Start(ctx, "analysis_environment.triage",
		trace.WithAttributes(
			attribute.String("object_type", obj.Type()),
			attribute.String("object_id", obj.ID()),
		))
	defer span.End()

	names, err := e.registry.TriageServices(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list triage services")
		return nil, fmt.Errorf("listing triage services: %w", err)
	}

	var handles []*Handle
	for _, name := range names {
		h, err := e.RunService(ctx, RunRequest{Service: name, Object: obj, User: user, Mode: mode})
		if err != nil {
			if isPrecondition(err) {
				e.logger.Debug(ctx, "triage skipped service", "service", name, "error", err)
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "triage run failed")
			return handles, fmt.Errorf("triage run of %s: %w", name, err)
		}
		handles = append(handles, h)
	}
	span.SetAttributes(attribute.Int("runs_dispatched", len(handles)))
	span.SetStatus(codes.Ok, "triage dispatched")
	return handles, nil
}

func isPrecondition(err error) bool {
	var analysisErr *domain.AnalysisError
	var cfgErr *domain.ConfigError
	return errors.As(err, &analysisErr) || errors.As(err, &cfgErr) || errors.Is(err, domain.ErrServiceUnavailable)
}

// WaitAll blocks until every handle's run finished or ctx is done.
func WaitAll(ctx context.Context, handles ...*Handle) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			_, err := h.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

type noopMetrics struct{}

func (noopMetrics) IncRunsStarted(context.Context, string, Mode)                        {}
func (noopMetrics) IncRunsRejected(context.Context, string, string)                     {}
func (noopMetrics) ObserveTaskDuration(context.Context, string, string, time.Duration) {}
func (noopMetrics) AddActiveTasks(context.Context, int64)                               {}
