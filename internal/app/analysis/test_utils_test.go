package analysis

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	domain "github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/pkg/common/logger"
)

// fakeRecords is an in-memory domain.RecordRepository.
type fakeRecords struct {
	mu      sync.Mutex
	records map[string]domain.ServiceRecord
	saves   int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]domain.ServiceRecord)}
}

func (f *fakeRecords) GetRecord(_ context.Context, name string) (*domain.ServiceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[name]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	rec.Config = rec.Config.Clone()
	return &rec, nil
}

func (f *fakeRecords) SaveRecord(_ context.Context, rec *domain.ServiceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	cp.Config = rec.Config.Clone()
	f.records[rec.Name] = cp
	f.saves++
	return nil
}

func (f *fakeRecords) ListRecords(context.Context) ([]*domain.ServiceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ServiceRecord
	for _, name := range slices.Sorted(maps.Keys(f.records)) {
		rec := f.records[name]
		out = append(out, &rec)
	}
	return out, nil
}

// fakeDestination records every call made by the environment.
type fakeDestination struct {
	mu       sync.Mutex
	existing map[string]bool
	added    []*domain.Task
	updates  int
	finished []domain.TaskSnapshot
}

func newFakeDestination() *fakeDestination {
	return &fakeDestination{existing: make(map[string]bool)}
}

func (f *fakeDestination) markExisting(service, objectType, objectID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existing[service+"/"+objectType+"/"+objectID] = true
}

func (f *fakeDestination) ResultsExist(_ context.Context, service, objectType, objectID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[service+"/"+objectType+"/"+objectID], nil
}

func (f *fakeDestination) AddTask(_ context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, task)
	return nil
}

func (f *fakeDestination) UpdateTask(context.Context, *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeDestination) FinishTask(_ context.Context, task *domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, task.Snapshot())
	return nil
}

func (f *fakeDestination) finishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finished)
}

func (f *fakeDestination) addedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added)
}

// mockDestination implements domain.Destination for failure paths.
type mockDestination struct{ mock.Mock }

func (m *mockDestination) ResultsExist(ctx context.Context, service, objectType, objectID string) (bool, error) {
	args := m.Called(ctx, service, objectType, objectID)
	return args.Bool(0), args.Error(1)
}

func (m *mockDestination) AddTask(ctx context.Context, task *domain.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockDestination) UpdateTask(ctx context.Context, task *domain.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *mockDestination) FinishTask(ctx context.Context, task *domain.Task) error {
	return m.Called(ctx, task).Error(0)
}

// testPlugin is a configurable plugin used across the package tests.
type testPlugin struct {
	def      domain.Definition
	analyze  func(ctx context.Context, run *domain.Execution, obj domain.Object) error
	validFor func(obj domain.Object) bool
}

func (p *testPlugin) Definition() domain.Definition { return p.def }

func (p *testPlugin) Analyze(ctx context.Context, run *domain.Execution, obj domain.Object) error {
	if p.analyze == nil {
		return nil
	}
	return p.analyze(ctx, run, obj)
}

func (p *testPlugin) ValidFor(obj domain.Object) bool {
	if p.validFor == nil {
		return true
	}
	return p.validFor(obj)
}

// strictPlugin rejects any configuration whose threshold is negative.
type strictPlugin struct{ testPlugin }

func (p *strictPlugin) ValidateConfig(cfg domain.Config) error {
	if n, _ := cfg.Int("threshold"); n < 0 {
		return &domain.ConfigError{Service: p.def.Name, Option: "threshold", Reason: "must not be negative"}
	}
	return nil
}

// builderPlugin derives its api_url option at registration time.
type builderPlugin struct{ testPlugin }

func (p *builderPlugin) BuildConfig(merged domain.Config) (domain.Config, error) {
	out := merged.Clone()
	if out.String("api_url") == "" {
		out["api_url"] = "https://intel.example/api"
	}
	return out, nil
}

// familyPlugin groups members under a non-concrete parent.
type familyPlugin struct {
	members []domain.Factory
}

func (p *familyPlugin) Definition() domain.Definition { return domain.Definition{Name: "family"} }
func (p *familyPlugin) Analyze(context.Context, *domain.Execution, domain.Object) error {
	return errors.New("family is not runnable")
}
func (p *familyPlugin) Members() []domain.Factory { return p.members }

func echoDefinition() domain.Definition {
	return domain.Definition{
		Name:           "echo",
		Version:        "1.0.0",
		Description:    "Echoes its configuration",
		SupportedTypes: []string{"Sample"},
		RequiredFields: []string{"md5"},
		DefaultConfig: []domain.ConfigOption{
			domain.MustConfigOption("mode", domain.OptionSelect, domain.WithChoices("fast", "deep"), domain.WithDefault(1)),
			domain.MustConfigOption("tags", domain.OptionList, domain.WithDefault([]string{})),
		},
	}
}

// echoAnalyze records the resolved mode and queues the payload as an artifact.
func echoAnalyze(ctx context.Context, run *domain.Execution, obj domain.Object) error {
	cfg := run.Config()
	if err := run.AddResult("mode", cfg.String("mode"), nil); err != nil {
		return err
	}
	for _, tag := range cfg.Strings("tags") {
		if err := run.AddResult("tag", tag, nil); err != nil {
			return err
		}
	}
	run.Notify(ctx)
	if p, ok := obj.(*domain.Target); ok && len(p.Data) > 0 {
		if _, err := run.AddFile(p.Data, domain.FileOptions{Filename: "carved.bin"}); err != nil {
			return err
		}
	}
	return nil
}

func testCatalog() *domain.Catalog {
	c := domain.NewCatalog()
	c.Register("echo", func() domain.Plugin {
		return &testPlugin{def: echoDefinition(), analyze: echoAnalyze}
	})
	c.Register("crash", func() domain.Plugin {
		def := echoDefinition()
		def.Name = "crash"
		def.Rerunnable = true
		return &testPlugin{def: def, analyze: func(context.Context, *domain.Execution, domain.Object) error {
			panic("corrupt sample")
		}}
	})
	return c
}

func testSample() *domain.Target {
	return &domain.Target{
		ObjectID:   "sample-1",
		ObjectType: "Sample",
		Attrs:      map[string]any{"md5": "d41d8cd98f00b204e9800998ecf8427e"},
		Data:       []byte("MZ\x90\x00"),
	}
}

func newTestRegistry(t *testing.T, catalog *domain.Catalog, records domain.RecordRepository, opts ...RegistryOption) *Registry {
	t.Helper()
	r := NewRegistry(catalog, records, logger.Noop(), noop.NewTracerProvider().Tracer("test"), opts...)
	require.NoError(t, r.Load(context.Background()))
	return r
}
