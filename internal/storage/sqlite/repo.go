package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"htmlgrader/internal/storage"
)

// SQLite's default host-parameter limit is generous, but a bounded batch
// keeps statements readable in query logs.
const checkBatchSize = 400

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native TIMESTAMPTZ type, so graded_at is stored as an
// RFC3339Nano TEXT value for reliable round-trips with modernc.org/sqlite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN and verifies connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

var createSQL = []string{
	`CREATE TABLE IF NOT EXISTS ` + sqlIdent(storage.RunsTable) + ` (
	"id" INTEGER PRIMARY KEY AUTOINCREMENT,
	"source" TEXT NOT NULL,
	"mode" TEXT NOT NULL,
	"checks_file" TEXT NOT NULL,
	"graded_at" TEXT NOT NULL,
	"passed" INTEGER NOT NULL,
	"total" INTEGER NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ` + sqlIdent(storage.ChecksTable) + ` (
	"run_id" INTEGER NOT NULL REFERENCES ` + sqlIdent(storage.RunsTable) + `("id"),
	"selector" TEXT NOT NULL,
	"present" INTEGER NOT NULL,
	UNIQUE ("run_id", "selector")
)`,
}

// EnsureTables creates grade_runs and grade_checks when missing.
func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, stmt := range createSQL {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create tables: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run row and its checks in one transaction.
func (r *Repo) SaveRun(ctx context.Context, run storage.Run) (id int64, err error) {
	checks := run.NormalizedChecks()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO `+sqlIdent(storage.RunsTable)+
			` ("source", "mode", "checks_file", "graded_at", "passed", "total") VALUES (?, ?, ?, ?, ?, ?)`,
		run.Source, run.Mode, run.ChecksFile, formatSQLiteTime(run.GradedAt), storage.CountPassed(checks), len(checks),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert run: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, err
	}

	for _, batch := range storage.Batches(checks, checkBatchSize) {
		q, args := buildInsertChecksSQL(id, batch)
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("sqlite: insert checks: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// buildInsertChecksSQL relies on the UNIQUE(run_id, selector) constraint:
// "INSERT OR IGNORE" makes repeated keys a no-op.
func buildInsertChecksSQL(runID int64, checks []storage.Check) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT OR IGNORE INTO ")
	b.WriteString(sqlIdent(storage.ChecksTable))
	b.WriteString(` ("run_id", "selector", "present") VALUES `)

	args := make([]any, 0, len(checks)*3)
	for i, c := range checks {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?)")
		present := 0
		if c.Present {
			present = 1
		}
		args = append(args, runID, c.Selector, present)
	}
	return b.String(), args
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
