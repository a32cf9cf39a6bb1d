// Package memory provides in-memory implementations of the analysis
// persistence ports for tests, local runs and the worker process.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/infra/storage"
)

var (
	_ analysis.Destination      = (*Store)(nil)
	_ analysis.RecordRepository = (*Store)(nil)
)

// Store keeps service records, task snapshots and materialized objects in maps.
type Store struct {
	mu      sync.RWMutex
	records map[string]analysis.ServiceRecord
	tasks   map[uuid.UUID]analysis.TaskSnapshot
	objects map[string]*storage.StoredObject
	now     func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]analysis.ServiceRecord),
		tasks:   make(map[uuid.UUID]analysis.TaskSnapshot),
		objects: make(map[string]*storage.StoredObject),
		now:     time.Now,
	}
}

// GetRecord returns a copy of the stored record for name.
func (s *Store) GetRecord(_ context.Context, name string) (*analysis.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[name]
	if !ok {
		return nil, analysis.ErrRecordNotFound
	}
	rec.Config = rec.Config.Clone()
	return &rec, nil
}

// SaveRecord stores a copy of rec, replacing any previous record of the same name.
func (s *Store) SaveRecord(_ context.Context, rec *analysis.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	cp.Config = rec.Config.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	s.records[rec.Name] = cp
	return nil
}

// ListRecords returns every record ordered by name.
func (s *Store) ListRecords(context.Context) ([]*analysis.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*analysis.ServiceRecord, 0, len(s.records))
	for _, name := range slices.Sorted(maps.Keys(s.records)) {
		rec := s.records[name]
		rec.Config = rec.Config.Clone()
		out = append(out, &rec)
	}
	return out, nil
}

// ResultsExist reports whether any task of service has been stored for the object.
func (s *Store) ResultsExist(_ context.Context, service, objectType, objectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.tasks {
		if snap.Service == service && snap.ObjectType == objectType && snap.ObjectID == objectID {
			return true, nil
		}
	}
	return false, nil
}

// AddTask stores the initial snapshot of task.
func (s *Store) AddTask(_ context.Context, task *analysis.Task) error {
	snap := task.Snapshot()
	snap.Artifacts = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[snap.ID] = snap
	return nil
}

// UpdateTask replaces the stored snapshot of task.
func (s *Store) UpdateTask(ctx context.Context, task *analysis.Task) error {
	return s.AddTask(ctx, task)
}

// FinishTask stores the terminal snapshot and materializes queued artifacts.
func (s *Store) FinishTask(_ context.Context, task *analysis.Task) error {
	snap := task.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, obj := range storage.MaterializeArtifacts(snap, s.now()) {
		key := storage.ObjectKey(obj.Type, obj.ID)
		if existing, ok := s.objects[key]; ok {
			existing.Relationships = append(existing.Relationships, obj.Relationships...)
			continue
		}
		obj := obj
		s.objects[key] = &obj
	}

	snap.Artifacts = nil
	s.tasks[snap.ID] = snap
	return nil
}

// Task returns the stored snapshot for id.
func (s *Store) Task(id uuid.UUID) (analysis.TaskSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.tasks[id]
	return snap, ok
}

// GetTask returns the stored snapshot for id, or analysis.ErrTaskNotFound.
func (s *Store) GetTask(_ context.Context, id uuid.UUID) (analysis.TaskSnapshot, error) {
	snap, ok := s.Task(id)
	if !ok {
		return analysis.TaskSnapshot{}, analysis.ErrTaskNotFound
	}
	return snap, nil
}

// Tasks returns the stored snapshots for one object, oldest first.
func (s *Store) Tasks(objectType, objectID string) []analysis.TaskSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []analysis.TaskSnapshot
	for _, snap := range s.tasks {
		if snap.ObjectType == objectType && snap.ObjectID == objectID {
			out = append(out, snap)
		}
	}
	slices.SortFunc(out, func(a, b analysis.TaskSnapshot) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Object returns a copy of the materialized object.
func (s *Store) Object(objectType, id string) (storage.StoredObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[storage.ObjectKey(objectType, id)]
	if !ok {
		return storage.StoredObject{}, false
	}
	cp := *obj
	cp.Relationships = slices.Clone(obj.Relationships)
	return cp, true
}

// Objects returns the number of materialized objects.
func (s *Store) Objects() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
