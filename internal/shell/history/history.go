// Package history journals finished deployment runs to a local SQLite
// database. The orchestrator only appends; the journal exists so an operator
// can reconstruct what past runs did and when.
package history

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/glaciereq/memstack/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Store
// =============================================================================

// Store is the run journal.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the journal database and runs migrations.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	return &Store{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Journal Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID            string `db:"id"`
	StartedAt     string `db:"started_at"`
	FinishedAt    string `db:"finished_at"`
	Status        string `db:"status"`
	FailureReason string `db:"failure_reason"`
	Stages        string `db:"stages"`
	Checks        string `db:"checks"`
}

// Record journals a terminal run. Recording a non-terminal run is an error:
// the journal holds outcomes, not progress.
func (s *Store) Record(ctx context.Context, run *domain.DeploymentRun) error {
	if !run.Terminal() {
		return fmt.Errorf("refusing to record non-terminal run %s", run.ID)
	}

	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stage results: %w", err)
	}
	checks, err := json.Marshal(run.Checks)
	if err != nil {
		return fmt.Errorf("marshal check results: %w", err)
	}

	row := runRow{
		ID:            run.ID,
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339Nano),
		FinishedAt:    run.FinishedAt.UTC().Format(time.RFC3339Nano),
		Status:        string(run.Status),
		FailureReason: run.FailureReason,
		Stages:        string(stages),
		Checks:        string(checks),
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO runs (id, started_at, finished_at, status, failure_reason, stages, checks)
		VALUES (:id, :started_at, :finished_at, :status, :failure_reason, :stages, :checks)`,
		row)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.DeploymentRun, error) {
	if limit <= 0 {
		limit = 10
	}

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, started_at, finished_at, status, failure_reason, stages, checks
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}

	runs := make([]domain.DeploymentRun, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func rowToRun(row runRow) (domain.DeploymentRun, error) {
	startedAt, err := time.Parse(time.RFC3339Nano, row.StartedAt)
	if err != nil {
		return domain.DeploymentRun{}, fmt.Errorf("parse started_at for run %s: %w", row.ID, err)
	}
	finishedAt, err := time.Parse(time.RFC3339Nano, row.FinishedAt)
	if err != nil {
		return domain.DeploymentRun{}, fmt.Errorf("parse finished_at for run %s: %w", row.ID, err)
	}

	run := domain.DeploymentRun{
		ID:            row.ID,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Status:        domain.RunStatus(row.Status),
		FailureReason: row.FailureReason,
	}
	if err := json.Unmarshal([]byte(row.Stages), &run.Stages); err != nil {
		return domain.DeploymentRun{}, fmt.Errorf("unmarshal stages for run %s: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Checks), &run.Checks); err != nil {
		return domain.DeploymentRun{}, fmt.Errorf("unmarshal checks for run %s: %w", row.ID, err)
	}
	return run, nil
}
