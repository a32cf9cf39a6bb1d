// Package sqlite implements the analysis persistence ports on an embedded
// SQLite database for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/ahrav/analysis-armada/internal/domain/analysis"
	"github.com/ahrav/analysis-armada/internal/infra/storage"
)

var (
	_ analysis.Destination      = (*Store)(nil)
	_ analysis.RecordRepository = (*Store)(nil)
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "sqlite"),
}

const schema = `
CREATE TABLE IF NOT EXISTS service_records (
	name          TEXT PRIMARY KEY,
	version       TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	config        TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'available',
	enabled       BOOLEAN NOT NULL DEFAULT 1,
	run_on_triage BOOLEAN NOT NULL DEFAULT 1,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS analysis_tasks (
	id              TEXT PRIMARY KEY,
	service         TEXT NOT NULL,
	service_version TEXT NOT NULL DEFAULT '',
	object_type     TEXT NOT NULL,
	object_id       TEXT NOT NULL,
	username        TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	config          TEXT NOT NULL DEFAULT '{}',
	log             TEXT NOT NULL DEFAULT '[]',
	results         TEXT NOT NULL DEFAULT '[]',
	created_at      INTEGER NOT NULL,
	start_date      INTEGER NOT NULL DEFAULT 0,
	finish_date     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_analysis_tasks_object ON analysis_tasks(service, object_type, object_id);
CREATE TABLE IF NOT EXISTS analysis_objects (
	object_type TEXT NOT NULL,
	id          TEXT NOT NULL,
	filename    TEXT NOT NULL DEFAULT '',
	md5         TEXT NOT NULL,
	sha256      TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	data        BLOB,
	PRIMARY KEY (object_type, id)
);
CREATE TABLE IF NOT EXISTS analysis_relationships (
	object_type   TEXT NOT NULL,
	object_id     TEXT NOT NULL,
	relationship  TEXT NOT NULL,
	related_type  TEXT NOT NULL,
	related_id    TEXT NOT NULL,
	service       TEXT NOT NULL,
	task_id       TEXT NOT NULL,
	discovered_at INTEGER NOT NULL,
	PRIMARY KEY (object_type, object_id, task_id)
);`

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout=5000&_pragma=journal_mode=WAL"
	if path == ":memory:" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite init schema: %w", err)
	}
	return db, nil
}

// Store persists service records, tasks and materialized objects in SQLite.
type Store struct {
	db     *sql.DB
	tracer trace.Tracer
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB, tracer trace.Tracer) *Store {
	return &Store{db: db, tracer: tracer}
}

func attrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(defaultDBAttributes)+len(extra))
	out = append(out, defaultDBAttributes...)
	return append(out, extra...)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// GetRecord loads the service record for name.
func (s *Store) GetRecord(ctx context.Context, name string) (*analysis.ServiceRecord, error) {
	var rec *analysis.ServiceRecord
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.get_service_record", attrs(attribute.String("service", name)),
		func(ctx context.Context) error {
			row := s.db.QueryRowContext(ctx, `
				SELECT name, version, description, config, status, enabled, run_on_triage, updated_at
				FROM service_records WHERE name = ?`, name)
			var err error
			rec, err = scanRecord(row)
			if errors.Is(err, sql.ErrNoRows) {
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
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.save_service_record", attrs(attribute.String("service", rec.Name)),
		func(ctx context.Context) error {
			cfg, err := json.Marshal(rec.Config)
			if err != nil {
				return fmt.Errorf("failed to marshal service config: %w", err)
			}
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO service_records (name, version, description, config, status, enabled, run_on_triage, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET
					version = excluded.version,
					description = excluded.description,
					config = excluded.config,
					status = excluded.status,
					enabled = excluded.enabled,
					run_on_triage = excluded.run_on_triage,
					updated_at = excluded.updated_at`,
				rec.Name, rec.Version, rec.Description, string(cfg), string(rec.Status),
				rec.Enabled, rec.RunOnTriage, time.Now().UnixNano(),
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
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.list_service_records", attrs(),
		func(ctx context.Context) error {
			rows, err := s.db.QueryContext(ctx, `
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

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*analysis.ServiceRecord, error) {
	var (
		rec       analysis.ServiceRecord
		cfg       string
		status    string
		updatedAt int64
	)
	if err := row.Scan(&rec.Name, &rec.Version, &rec.Description, &cfg, &status,
		&rec.Enabled, &rec.RunOnTriage, &updatedAt); err != nil {
		return nil, err
	}
	rec.Status = analysis.RecordStatus(status)
	rec.UpdatedAt = fromUnixNano(updatedAt)
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
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
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.results_exist",
		attrs(attribute.String("service", service), attribute.String("object_id", objectID)),
		func(ctx context.Context) error {
			return s.db.QueryRowContext(ctx, `
				SELECT EXISTS (
					SELECT 1 FROM analysis_tasks WHERE service = ? AND object_type = ? AND object_id = ?
				)`, service, objectType, objectID).Scan(&exists)
		})
	return exists, err
}

// AddTask inserts the initial state of task.
func (s *Store) AddTask(ctx context.Context, task *analysis.Task) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.add_task", taskAttrs(task),
		func(ctx context.Context) error {
			return upsertTask(ctx, s.db, task.Snapshot())
		})
}

// UpdateTask writes the task's current state.
func (s *Store) UpdateTask(ctx context.Context, task *analysis.Task) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.update_task", taskAttrs(task),
		func(ctx context.Context) error {
			return upsertTask(ctx, s.db, task.Snapshot())
		})
}

// FinishTask writes the terminal state of task and materializes its queued
// artifacts in one transaction.
func (s *Store) FinishTask(ctx context.Context, task *analysis.Task) error {
	return storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.finish_task", taskAttrs(task),
		func(ctx context.Context) error {
			snap := task.Snapshot()
			objects := storage.MaterializeArtifacts(snap, time.Now())

			tx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				return err
			}
			defer func() { _ = tx.Rollback() }()

			if err := upsertTask(ctx, tx, snap); err != nil {
				return err
			}
			for _, obj := range objects {
				if err := insertObject(ctx, tx, obj); err != nil {
					return err
				}
			}
			return tx.Commit()
		})
}

func taskAttrs(task *analysis.Task) []attribute.KeyValue {
	return attrs(attribute.String("task_id", task.ID().String()), attribute.String("service", task.Service()))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertTask(ctx context.Context, db execer, snap analysis.TaskSnapshot) error {
	cfg, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal task config: %w", err)
	}
	logJSON, err := json.Marshal(snap.Log)
	if err != nil {
		return fmt.Errorf("failed to marshal task log: %w", err)
	}
	results, err := json.Marshal(snap.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal task results: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO analysis_tasks (
			id, service, service_version, object_type, object_id, username, status,
			config, log, results, created_at, start_date, finish_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			log = excluded.log,
			results = excluded.results,
			start_date = excluded.start_date,
			finish_date = excluded.finish_date`,
		snap.ID.String(), snap.Service, snap.ServiceVersion, snap.ObjectType, snap.ObjectID, snap.Username,
		string(snap.Status), string(cfg), string(logJSON), string(results),
		unixNano(snap.CreatedAt), unixNano(snap.StartDate), unixNano(snap.FinishDate),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

func insertObject(ctx context.Context, db execer, obj storage.StoredObject) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO analysis_objects (object_type, id, filename, md5, sha256, size, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(object_type, id) DO NOTHING`,
		obj.Type, obj.ID, obj.Filename, obj.MD5, obj.SHA256, obj.Size, obj.Data,
	); err != nil {
		return fmt.Errorf("failed to insert object %s: %w", obj.ID, err)
	}

	for _, rel := range obj.Relationships {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO analysis_relationships (
				object_type, object_id, relationship, related_type, related_id, service, task_id, discovered_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(object_type, object_id, task_id) DO NOTHING`,
			obj.Type, obj.ID, rel.Type, rel.ObjectType, rel.ObjectID, rel.Service,
			rel.TaskID.String(), unixNano(rel.DiscoveredAt),
		); err != nil {
			return fmt.Errorf("failed to relate object %s: %w", obj.ID, err)
		}
	}
	return nil
}

// GetTask loads the stored snapshot of a task.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (analysis.TaskSnapshot, error) {
	var snap analysis.TaskSnapshot
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.get_task", attrs(attribute.String("task_id", id.String())),
		func(ctx context.Context) error {
			var (
				rawID, status                string
				cfg, logJSON, results        string
				createdAt, started, finished int64
			)
			err := s.db.QueryRowContext(ctx, `
				SELECT id, service, service_version, object_type, object_id, username, status,
					config, log, results, created_at, start_date, finish_date
				FROM analysis_tasks WHERE id = ?`, id.String()).Scan(
				&rawID, &snap.Service, &snap.ServiceVersion, &snap.ObjectType, &snap.ObjectID, &snap.Username,
				&status, &cfg, &logJSON, &results, &createdAt, &started, &finished,
			)
			if errors.Is(err, sql.ErrNoRows) {
				return analysis.ErrTaskNotFound
			}
			if err != nil {
				return err
			}

			if snap.ID, err = uuid.Parse(rawID); err != nil {
				return fmt.Errorf("failed to parse task id: %w", err)
			}
			snap.Status = analysis.TaskStatus(status)
			snap.CreatedAt = fromUnixNano(createdAt)
			snap.StartDate = fromUnixNano(started)
			snap.FinishDate = fromUnixNano(finished)
			for _, f := range []struct {
				raw string
				dst any
			}{{cfg, &snap.Config}, {logJSON, &snap.Log}, {results, &snap.Results}} {
				if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
					return fmt.Errorf("failed to unmarshal task %s: %w", id, err)
				}
			}
			return nil
		})
	return snap, err
}

// ObjectRelationships returns the relationship types recorded for a stored object.
func (s *Store) ObjectRelationships(ctx context.Context, objectType, id string) ([]storage.Relationship, error) {
	var rels []storage.Relationship
	err := storage.ExecuteAndTrace(ctx, s.tracer, "sqlite.object_relationships", attrs(attribute.String("object_id", id)),
		func(ctx context.Context) error {
			rows, err := s.db.QueryContext(ctx, `
				SELECT relationship, related_type, related_id, service, task_id, discovered_at
				FROM analysis_relationships WHERE object_type = ? AND object_id = ?
				ORDER BY discovered_at`, objectType, id)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var (
					rel    storage.Relationship
					taskID string
					at     int64
				)
				if err := rows.Scan(&rel.Type, &rel.ObjectType, &rel.ObjectID, &rel.Service, &taskID, &at); err != nil {
					return err
				}
				if rel.TaskID, err = uuid.Parse(taskID); err != nil {
					return err
				}
				rel.DiscoveredAt = fromUnixNano(at)
				rels = append(rels, rel)
			}
			return rows.Err()
		})
	return rels, err
}
