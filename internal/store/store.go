// Package store persists Execution records in Postgres. Every query is
// scoped by organizationId so one tenant can never read, list, or delete
// another tenant's rows; a miss is reported as apierror.NotFound rather than
// distinguishing "doesn't exist" from "exists in another org" (spec §6).
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/volaticloud/runbox/internal/apierror"
	"github.com/volaticloud/runbox/internal/execution"
)

// Store wraps a Postgres connection pool for the executions table.
type Store struct {
	db *sql.DB
}

// Open connects to postgresURL and verifies the connection with a ping.
func Open(postgresURL string) (*Store, error) {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db}, nil
}

// New wraps an already-open database handle, e.g. for tests against sqlmock.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the executions table if it does not already exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			task_id          TEXT NOT NULL,
			organization_id  TEXT NOT NULL,
			status           TEXT NOT NULL,
			image            TEXT NOT NULL,
			command          TEXT NOT NULL,
			config           JSONB NOT NULL,
			tests            JSONB NOT NULL,
			folder           TEXT NOT NULL DEFAULT '',
			start_time       TIMESTAMPTZ NOT NULL,
			end_time         TIMESTAMPTZ,
			output           TEXT NOT NULL DEFAULT '',
			error            TEXT NOT NULL DEFAULT '',
			analysis         TEXT NOT NULL DEFAULT '',
			reports_base_url TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (organization_id, task_id)
		);
		CREATE INDEX IF NOT EXISTS executions_org_start_idx
			ON executions (organization_id, start_time DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate executions table: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the row for (organizationId, taskId), matching
// the queue's at-least-once redelivery semantics: the Worker may reprocess
// the same job and must be able to re-assert the same terminal status
// idempotently (spec §3 invariants).
func (s *Store) Upsert(ctx context.Context, e *execution.Execution) error {
	cfg, err := json.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	tests, err := json.Marshal(e.Tests)
	if err != nil {
		return fmt.Errorf("failed to marshal tests: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (
			task_id, organization_id, status, image, command, config, tests, folder,
			start_time, end_time, output, error, analysis, reports_base_url,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (organization_id, task_id) DO UPDATE SET
			status = EXCLUDED.status,
			image = EXCLUDED.image,
			command = EXCLUDED.command,
			config = EXCLUDED.config,
			tests = EXCLUDED.tests,
			folder = EXCLUDED.folder,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			analysis = EXCLUDED.analysis,
			reports_base_url = EXCLUDED.reports_base_url,
			updated_at = EXCLUDED.updated_at
	`,
		e.TaskID, e.OrganizationID, string(e.Status), e.Image, e.Command, cfg, tests, e.Folder,
		e.StartTime, nullTime(e.EndTime), e.Output, e.Error, e.Analysis, e.ReportsBaseURL,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert execution %s/%s: %w", e.OrganizationID, e.TaskID, err)
	}
	return nil
}

// Get returns the execution for (organizationID, taskID), or a NotFound
// apierror if it doesn't exist in this org.
func (s *Store) Get(ctx context.Context, organizationID, taskID string) (*execution.Execution, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE organization_id = $1 AND task_id = $2`, organizationID, taskID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.New(apierror.NotFound, "execution not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s/%s: %w", organizationID, taskID, err)
	}
	return e, nil
}

// ListRecent returns up to limit executions for organizationID, most
// recently started first.
func (s *Store) ListRecent(ctx context.Context, organizationID string, limit int) ([]*execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE organization_id = $1
		ORDER BY start_time DESC NULLS LAST
		LIMIT $2
	`, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions for %s: %w", organizationID, err)
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the execution for (organizationID, taskID). Deleting a
// task that belongs to a different org, or doesn't exist, returns NotFound;
// this keeps cross-tenant existence from leaking through a differentiated
// error.
func (s *Store) Delete(ctx context.Context, organizationID, taskID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM executions WHERE organization_id = $1 AND task_id = $2
	`, organizationID, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete execution %s/%s: %w", organizationID, taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return apierror.New(apierror.NotFound, "execution not found", nil)
	}
	return nil
}

const selectColumns = `
	SELECT task_id, organization_id, status, image, command, config, tests, folder,
		start_time, end_time, output, error, analysis, reports_base_url,
		created_at, updated_at
	FROM executions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*execution.Execution, error) {
	var e execution.Execution
	var status string
	var cfg, tests []byte
	var endTime sql.NullTime

	err := row.Scan(
		&e.TaskID, &e.OrganizationID, &status, &e.Image, &e.Command, &cfg, &tests, &e.Folder,
		&e.StartTime, &endTime, &e.Output, &e.Error, &e.Analysis, &e.ReportsBaseURL,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = execution.Status(status)
	if err := json.Unmarshal(cfg, &e.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := json.Unmarshal(tests, &e.Tests); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tests: %w", err)
	}
	if endTime.Valid {
		e.EndTime = &endTime.Time
	}
	return &e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
