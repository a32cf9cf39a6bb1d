// Package analysis provides the application services that discover analysis
// plugins, track their stored registrations and dispatch runs against
// threat-intel objects.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

// ManifestFile is the file every plugin directory must contain.
const ManifestFile = "service.yaml"

// manifest binds a plugin directory to a compiled-in catalog entry.
type manifest struct {
	// Entry names the catalog factory to load.
	Entry string `yaml:"entry"`
	// Name, when set, must match the name the plugin declares.
	Name string `yaml:"name,omitempty"`
}

// Service is a registered analysis service.
type Service struct {
	def     domain.Definition
	factory domain.Factory
}

// Definition returns the service's declarative metadata.
func (s Service) Definition() domain.Definition { return s.def }

// New creates a fresh plugin instance for a single run.
func (s Service) New() domain.Plugin { return s.factory() }

// Registry discovers services from the catalog, registers them against the
// record repository and answers lookups. It is safe for concurrent use.
type Registry struct {
	catalog *domain.Catalog
	records domain.RecordRepository
	dirs    []string
	policy  Policy

	mu       sync.RWMutex
	services map[string]Service
	order    []string

	logger *logger.Logger
	tracer trace.Tracer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPluginDirs restricts discovery to the plugin directories found under
// each root. Without roots every catalog entry is loaded.
func WithPluginDirs(roots ...string) RegistryOption {
	return func(r *Registry) { r.dirs = append(r.dirs, roots...) }
}

// WithPolicy overrides the policy deciding which services are enabled and
// which run on triage.
func WithPolicy(p Policy) RegistryOption {
	return func(r *Registry) { r.policy = p }
}

// NewRegistry creates an empty registry. Call Load to populate it.
func NewRegistry(
	catalog *domain.Catalog,
	records domain.RecordRepository,
	logger *logger.Logger,
	tracer trace.Tracer,
	opts ...RegistryOption,
) *Registry {
	r := &Registry{
		catalog:  catalog,
		records:  records,
		policy:   AllowAll{},
		services: make(map[string]Service),
		logger:   logger.With("component", "service_registry"),
		tracer:   tracer,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load discovers every service and runs the registration pass. Services that
// fail discovery are logged and skipped; only record storage failures abort
// the load. A successful Load replaces the previously registered set.
func (r *Registry) Load(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "service_registry.load",
		trace.WithAttributes(attribute.Int("plugin_roots", len(r.dirs))))
	defer span.End()

	factories := r.discoverFactories(ctx)

	services := make(map[string]Service)
	var order []string
	for _, f := range factories {
		for _, svc := range r.expand(ctx, f, 0) {
			name := svc.def.Name
			if _, dup := services[name]; dup {
				r.logger.Warn(ctx, "duplicate service name, keeping first", "service", name)
				continue
			}
			services[name] = svc
			order = append(order, name)
		}
	}

	for _, name := range order {
		if err := r.register(ctx, services[name]); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to register service")
			return fmt.Errorf("registering service %s: %w", name, err)
		}
	}

	r.mu.Lock()
	r.services = services
	r.order = order
	r.mu.Unlock()

	span.SetAttributes(attribute.Int("services_registered", len(order)))
	span.SetStatus(codes.Ok, "services loaded")
	r.logger.Info(ctx, "services loaded", "count", len(order))
	return nil
}

// discoverFactories resolves the factories to load, either every catalog
// entry or the entries named by the manifests under the plugin roots.
func (r *Registry) discoverFactories(ctx context.Context) []domain.Factory {
	if len(r.dirs) == 0 {
		var out []domain.Factory
		for _, entry := range r.catalog.Entries() {
			f, _ := r.catalog.Lookup(entry)
			out = append(out, f)
		}
		return out
	}

	var out []domain.Factory
	for _, root := range r.dirs {
		dirs, err := os.ReadDir(root)
		if err != nil {
			r.logger.Warn(ctx, "skipping unreadable plugin root", "root", root, "error", err)
			continue
		}
		// ReadDir returns entries sorted by name, which keeps discovery deterministic.
		for _, d := range dirs {
			if !d.IsDir() {
				continue
			}
			dir := filepath.Join(root, d.Name())
			m, err := readManifest(dir)
			if err != nil {
				r.logger.Warn(ctx, "skipping plugin directory", "dir", dir, "error", err)
				continue
			}
			f, ok := r.catalog.Lookup(m.Entry)
			if !ok {
				r.logger.Warn(ctx, "skipping plugin with unknown entry", "dir", dir, "entry", m.Entry)
				continue
			}
			if m.Name != "" {
				if name := f().Definition().Name; name != m.Name {
					r.logger.Warn(ctx, "skipping plugin whose manifest name does not match",
						"dir", dir, "manifest_name", m.Name, "declared_name", name)
					continue
				}
			}
			out = append(out, f)
		}
	}
	return out
}

func readManifest(dir string) (manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return manifest{}, fmt.Errorf("parsing %s: %w", ManifestFile, err)
	}
	if m.Entry == "" {
		return manifest{}, fmt.Errorf("%s: entry is required", ManifestFile)
	}
	return m, nil
}

// maxFamilyDepth bounds recursion through nested families.
const maxFamilyDepth = 8

// expand returns the concrete services reachable from f, recursing through families.
func (r *Registry) expand(ctx context.Context, f domain.Factory, depth int) []Service {
	p := f()
	def := p.Definition()

	var out []Service
	if def.IsConcrete() {
		if _, err := def.ParseVersion(); err != nil {
			r.logger.Warn(ctx, "skipping service with invalid version", "service", def.Name, "error", err)
		} else {
			out = append(out, Service{def: def, factory: f})
		}
	} else {
		r.logger.Debug(ctx, "skipping non-concrete plugin", "name", def.Name)
	}

	if fam, ok := p.(domain.Family); ok {
		if depth >= maxFamilyDepth {
			r.logger.Warn(ctx, "plugin family nested too deeply", "name", def.Name)
			return out
		}
		for _, member := range fam.Members() {
			out = append(out, r.expand(ctx, member, depth+1)...)
		}
	}
	return out
}

// register reconciles the stored record of svc with its current definition.
// Stored values win over declared defaults for options that still exist. A
// configuration that fails validation marks the record misconfigured.
func (r *Registry) register(ctx context.Context, svc Service) error {
	def := svc.def
	rec, err := r.records.GetRecord(ctx, def.Name)
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		rec = domain.NewServiceRecord(def.Name)
	case err != nil:
		return err
	}

	merged := def.BuildDefaultConfig()
	for k := range merged {
		if v, ok := rec.Config[k]; ok {
			merged[k] = v
		}
	}

	plugin := svc.New()
	var cfgErr error
	if b, ok := plugin.(domain.ConfigBuilder); ok {
		built, err := b.BuildConfig(merged)
		if err != nil {
			cfgErr = err
		} else {
			merged = built
		}
	}
	if cfgErr == nil {
		cfgErr = domain.ValidateConfig(plugin, merged)
	}

	rec.Config = merged
	rec.Description = def.Description
	rec.Version = def.Version
	rec.UpdatedAt = time.Now().UTC()
	if cfgErr != nil {
		rec.Status = domain.RecordMisconfigured
		r.logger.Warn(ctx, "service misconfigured", "service", def.Name, "error", cfgErr)
	} else {
		rec.Status = domain.RecordAvailable
	}

	return r.records.SaveRecord(ctx, rec)
}

// Service returns the registered service called name.
func (r *Registry) Service(name string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	if !ok {
		return Service{}, domain.UnavailableError(name, "not registered")
	}
	return svc, nil
}

// Names returns every registered service name in discovery order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Record returns the stored registration of a registered service.
func (r *Registry) Record(ctx context.Context, name string) (*domain.ServiceRecord, error) {
	if _, err := r.Service(name); err != nil {
		return nil, err
	}
	return r.records.GetRecord(ctx, name)
}

// Records returns the stored registrations of every registered service.
func (r *Registry) Records(ctx context.Context) ([]*domain.ServiceRecord, error) {
	names := r.Names()
	out := make([]*domain.ServiceRecord, 0, len(names))
	for _, name := range names {
		rec, err := r.records.GetRecord(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("reading record for %s: %w", name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// EnabledServices returns the registered services the policy allows to run.
func (r *Registry) EnabledServices(ctx context.Context) ([]string, error) {
	return r.filter(ctx, r.policy.Enabled)
}

// TriageServices returns the enabled services the policy runs on triage.
func (r *Registry) TriageServices(ctx context.Context) ([]string, error) {
	return r.filter(ctx, func(rec *domain.ServiceRecord) bool {
		return r.policy.Enabled(rec) && r.policy.RunOnTriage(rec)
	})
}

func (r *Registry) filter(ctx context.Context, keep func(*domain.ServiceRecord) bool) ([]string, error) {
	recs, err := r.Records(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rec := range recs {
		if keep(rec) {
			out = append(out, rec.Name)
		}
	}
	return out, nil
}

// IsEnabled reports whether the policy allows the service behind rec to run.
func (r *Registry) IsEnabled(rec *domain.ServiceRecord) bool { return r.policy.Enabled(rec) }

// SetEnabled toggles the stored enabled flag of a service.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return r.updateRecord(ctx, name, func(rec *domain.ServiceRecord) error {
		rec.Enabled = enabled
		return nil
	})
}

// SetTriage toggles whether a service runs on triage.
func (r *Registry) SetTriage(ctx context.Context, name string, triage bool) error {
	return r.updateRecord(ctx, name, func(rec *domain.ServiceRecord) error {
		rec.RunOnTriage = triage
		return nil
	})
}

// UpdateConfig parses and validates submitted values and stores them as the
// service's configuration. Options absent from values keep their stored
// value. A successful update clears the misconfigured status.
func (r *Registry) UpdateConfig(ctx context.Context, name string, values map[string]any) error {
	svc, err := r.Service(name)
	if err != nil {
		return err
	}
	def := svc.def

	return r.updateRecord(ctx, name, func(rec *domain.ServiceRecord) error {
		cfg := rec.Config.Clone()
		for key, raw := range values {
			opt, ok := def.Option(key)
			if !ok {
				return &domain.ConfigError{Service: name, Option: key, Reason: "unknown option"}
			}
			v, err := opt.ParseValue(raw)
			if err != nil {
				return err
			}
			cfg[key] = v
		}
		if err := domain.ValidateConfig(svc.New(), cfg); err != nil {
			return err
		}
		rec.Config = cfg
		rec.Status = domain.RecordAvailable
		return nil
	})
}

func (r *Registry) updateRecord(ctx context.Context, name string, fn func(*domain.ServiceRecord) error) error {
	ctx, span := r.tracer.Start(ctx, "service_registry.update_record",
		trace.WithAttributes(attribute.String("service", name)))
	defer span.End()

	rec, err := r.Record(ctx, name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read record")
		return err
	}
	if err := fn(rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record update rejected")
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	if err := r.records.SaveRecord(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save record")
		return fmt.Errorf("saving record for %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "record updated")
	return nil
}
