package analysis

import (
	"context"
	"time"
)

// Destination is the persistence port analysis runs report to. Implementations
// must tolerate UpdateTask being called from a goroutine other than the one
// that called AddTask.
type Destination interface {
	// ResultsExist reports whether service already has stored results for the object.
	ResultsExist(ctx context.Context, service, objectType, objectID string) (bool, error)

	// AddTask persists a newly started task.
	AddTask(ctx context.Context, task *Task) error

	// UpdateTask persists the task's current state. It may be called any number of times.
	UpdateTask(ctx context.Context, task *Task) error

	// FinishTask persists the terminal state of the task and materializes any
	// queued artifacts. It is called exactly once per task.
	FinishTask(ctx context.Context, task *Task) error
}

// RecordStatus describes whether a registered service's stored configuration is usable.
type RecordStatus string

const (
	RecordAvailable     RecordStatus = "available"
	RecordMisconfigured RecordStatus = "misconfigured"
)

// ServiceRecord is the persisted registration of a service: its stored
// configuration and the flags the default policies read.
type ServiceRecord struct {
	Name        string
	Version     string
	Description string
	Config      Config
	Status      RecordStatus
	Enabled     bool
	RunOnTriage bool
	UpdatedAt   time.Time
}

// NewServiceRecord returns the record created the first time a service registers.
func NewServiceRecord(name string) *ServiceRecord {
	return &ServiceRecord{
		Name:        name,
		Config:      make(Config),
		Status:      RecordAvailable,
		Enabled:     true,
		RunOnTriage: true,
	}
}

// Misconfigured reports whether the stored configuration failed validation.
func (r *ServiceRecord) Misconfigured() bool { return r.Status == RecordMisconfigured }

// RecordRepository stores service registrations.
type RecordRepository interface {
	// GetRecord returns the record for name, or ErrRecordNotFound.
	GetRecord(ctx context.Context, name string) (*ServiceRecord, error)

	// SaveRecord inserts or replaces the record. The last writer wins.
	SaveRecord(ctx context.Context, rec *ServiceRecord) error

	// ListRecords returns every stored record ordered by name.
	ListRecords(ctx context.Context) ([]*ServiceRecord, error)
}
