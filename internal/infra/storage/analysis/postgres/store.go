// Package postgres implements the analysis persistence ports on PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/infra/storage"
)

var (
	_ analysis.Destination      = (*Store)(nil)
	_ analysis.RecordRepository = (*Store)(nil)
)

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Store persists service records, tasks and materialized objects in PostgreSQL.
type Store struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a PostgreSQL-backed analysis store with tracing.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{db: pool, tracer: tracer}
}

func dbAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+len(extra))
	attrs = append(attrs, defaultDBAttributes...)
	return append(attrs, extra...)
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: !t.IsZero()}
}

// GetRecord loads the service record for name.
func (s *Store) GetRecord(ctx context.Context, name string) (*analysis.ServiceRecord, error) {
	var rec *analysis.ServiceRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_service_record",
		dbAttrs(attribute.String("service", name)),
		func(ctx context.Context) error {
			row := s.db.QueryRow(ctx, `
				SELECT name, version, description, config, status, enabled, run_on_triage, updated_at
				FROM service_records WHERE name = $1`, name)

			var err error
			rec, err = scanRecord(row)
			if errors.Is(err, pgx.ErrNoRows) {
				return analysis.ErrRecordNotFound
			}
			return err
		})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveRecord upserts rec.
func (s *Store) SaveRecord(ctx context.Context, rec *analysis.ServiceRecord) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_service_record",
		dbAttrs(attribute.String("service", rec.Name)),
		func(ctx context.Context) error {
			cfg, err := json.Marshal(rec.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal service config: %w", err)
			}

			_, err = s.db.Exec(ctx, `
				INSERT INTO service_records (name, version, description, config, status, enabled, run_on_triage, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
				ON CONFLICT (name) DO UPDATE SET
					version = EXCLUDED.version,
					description = EXCLUDED.description,
					config = EXCLUDED.config,
					status = EXCLUDED.status,
					enabled = EXCLUDED.enabled,
					run_on_triage = EXCLUDED.run_on_triage,
					updated_at = NOW()`,
				rec.Name, rec.Version, rec.Description, cfg, string(rec.Status), rec.Enabled, rec.RunOnTriage,
			)
			if err != nil {
				return fmt.Errorf("failed to save service record: %w", err)
			}
			return nil
		})
}

// ListRecords returns every service record ordered by name.
func (s *Store) ListRecords(ctx context.Context) ([]*analysis.ServiceRecord, error) {
	var records []*analysis.ServiceRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_service_records", dbAttrs(),
		func(ctx context.Context) error {
			rows, err := s.db.Query(ctx, `
				SELECT name, version, description, config, status, enabled, run_on_triage, updated_at
				FROM service_records ORDER BY name`)
			if err != nil {
				return fmt.Errorf("failed to list service records: %w", err)
			}
			defer rows.Close()

			for rows.Next() {
				rec, err := scanRecord(rows)
				if err != nil {
					return err
				}
				records = append(records, rec)
			}
			return rows.Err()
		})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*analysis.ServiceRecord, error) {
	var (
		rec    analysis.ServiceRecord
		cfg    []byte
		status string
	)
	if err := row.Scan(
		&rec.Name, &rec.Version, &rec.Description, &cfg, &status,
		&rec.Enabled, &rec.RunOnTriage, &rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = analysis.RecordStatus(status)
	if err := json.Unmarshal(cfg, &rec.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config of %s: %w", rec.Name, err)
	}
	if rec.Config == nil {
		rec.Config = make(analysis.Config)
	}
	return &rec, nil
}

// ResultsExist reports whether a task of service has been stored for the object.
func (s *Store) ResultsExist(ctx context.Context, service, objectType, objectID string) (bool, error) {
	var exists bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.results_exist",
		dbAttrs(
			attribute.String("service", service),
			attribute.String("object_type", objectType),
			attribute.String("object_id", objectID),
		),
		func(ctx context.Context) error {
			return s.db.QueryRow(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM analysis_tasks
					WHERE service = $1 AND object_type = $2 AND object_id = $3
				)`, service, objectType, objectID).Scan(&exists)
		})
	return exists, err
}

// AddTask inserts the initial state of task.
func (s *Store) AddTask(ctx context.Context, task *analysis.Task) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.add_task", taskAttrs(task),
		func(ctx context.Context) error {
			return upsertTask(ctx, s.db, task.Snapshot())
		})
}

// UpdateTask writes the task's current state.
func (s *Store) UpdateTask(ctx context.Context, task *analysis.Task) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_task", taskAttrs(task),
		func(ctx context.Context) error {
			return upsertTask(ctx, s.db, task.Snapshot())
		})
}

// FinishTask writes the terminal state of task and materializes its queued
// artifacts in a single transaction.
func (s *Store) FinishTask(ctx context.Context, task *analysis.Task) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.finish_task", taskAttrs(task),
		func(ctx context.Context) error {
			snap := task.Snapshot()
			objects := storage.MaterializeArtifacts(snap, time.Now())

			return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
				if err := upsertTask(ctx, tx, snap); err != nil {
					return err
				}
				for _, obj := range objects {
					if err := insertObject(ctx, tx, obj); err != nil {
						return err
					}
				}
				return nil
			})
		})
}

func taskAttrs(task *analysis.Task) []attribute.KeyValue {
	return dbAttrs(
		attribute.String("task_id", task.ID().String()),
		attribute.String("service", task.Service()),
	)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertTask(ctx context.Context, db execer, snap analysis.TaskSnapshot) error {
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal task config: %w", err)
	}
	logJSON, err := json.Marshal(nonNil(snap.Log))
	if err != nil {
		return fmt.Errorf("failed to marshal task log: %w", err)
	}
	results, err := json.Marshal(nonNil(snap.Results))
	if err != nil {
		return fmt.Errorf("failed to marshal task results: %w", err)
	}

	_, err = db.Exec(ctx, `
		INSERT INTO analysis_tasks (
			id, service, service_version, object_type, object_id, username, status,
			config, log, results, created_at, start_date, finish_date, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			log = EXCLUDED.log,
			results = EXCLUDED.results,
			start_date = EXCLUDED.start_date,
			finish_date = EXCLUDED.finish_date,
			updated_at = NOW()`,
		pgtype.UUID{Bytes: snap.ID, Valid: true},
		snap.Service, snap.ServiceVersion, snap.ObjectType, snap.ObjectID, snap.Username,
		string(snap.Status), cfg, logJSON, results,
		timestamptz(snap.CreatedAt), timestamptz(snap.StartDate), timestamptz(snap.FinishDate),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

func insertObject(ctx context.Context, db execer, obj storage.StoredObject) error {
	_, err := db.Exec(ctx, `
		INSERT INTO analysis_objects (object_type, id, filename, md5, sha256, size, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (object_type, id) DO NOTHING`,
		obj.Type, obj.ID, obj.Filename, obj.MD5, obj.SHA256, int64(obj.Size), obj.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert object %s: %w", obj.ID, err)
	}

	for _, rel := range obj.Relationships {
		_, err := db.Exec(ctx, `
			INSERT INTO analysis_relationships (
				object_type, object_id, relationship, related_type, related_id, service, task_id, discovered_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (object_type, object_id, task_id) DO NOTHING`,
			obj.Type, obj.ID, rel.Type, rel.ObjectType, rel.ObjectID, rel.Service,
			pgtype.UUID{Bytes: rel.TaskID, Valid: true}, rel.DiscoveredAt,
		)
		if err != nil {
			return fmt.Errorf("failed to relate object %s: %w", obj.ID, err)
		}
	}
	return nil
}

// GetTask loads the stored snapshot of a task.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (analysis.TaskSnapshot, error) {
	var snap analysis.TaskSnapshot
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_task", dbAttrs(attribute.String("task_id", id.String())),
		func(ctx context.Context) error {
			var (
				status                string
				cfg, logJSON, results []byte
				startDate, finishDate pgtype.Timestamptz
			)
			err := s.db.QueryRow(ctx, `
				SELECT id, service, service_version, object_type, object_id, username, status,
					config, log, results, created_at, start_date, finish_date
				FROM analysis_tasks WHERE id = $1`, pgtype.UUID{Bytes: id, Valid: true}).Scan(
				&snap.ID, &snap.Service, &snap.ServiceVersion, &snap.ObjectType, &snap.ObjectID,
				&snap.Username, &status, &cfg, &logJSON, &results, &snap.CreatedAt, &startDate, &finishDate,
			)
			if errors.Is(err, pgx.ErrNoRows) {
				return analysis.ErrTaskNotFound
			}
			if err != nil {
				return err
			}

			snap.Status = analysis.TaskStatus(status)
			snap.StartDate = startDate.Time
			snap.FinishDate = finishDate.Time
			if err := json.Unmarshal(cfg, &snap.Config); err != nil {
				return fmt.Errorf("failed to unmarshal task config: %w", err)
			}
			if err := json.Unmarshal(logJSON, &snap.Log); err != nil {
				return fmt.Errorf("failed to unmarshal task log: %w", err)
			}
			if err := json.Unmarshal(results, &snap.Results); err != nil {
				return fmt.Errorf("failed to unmarshal task results: %w", err)
			}
			return nil
		})
	return snap, err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
