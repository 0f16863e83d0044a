package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"htmlgrader/internal/storage"
)

// Three parameters per check; well below the 65535 parameter limit.
const checkBatchSize = 1000

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func createSQL() []string {
	runs := pgIdent(storage.RunsTable)
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + runs + ` (
	"id" BIGSERIAL PRIMARY KEY,
	"source" TEXT NOT NULL,
	"mode" TEXT NOT NULL,
	"checks_file" TEXT NOT NULL,
	"graded_at" TIMESTAMPTZ NOT NULL,
	"passed" INTEGER NOT NULL,
	"total" INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + pgIdent(storage.ChecksTable) + ` (
	"run_id" BIGINT NOT NULL REFERENCES ` + runs + ` ("id"),
	"selector" TEXT NOT NULL,
	"present" BOOLEAN NOT NULL,
	UNIQUE ("run_id", "selector")
)`,
	}
}

// EnsureTables creates grade_runs and grade_checks when missing.
func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, stmt := range createSQL() {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create tables: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run row and its checks in one transaction.
func (r *Repo) SaveRun(ctx context.Context, run storage.Run) (int64, error) {
	checks := run.NormalizedChecks()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO `+pgIdent(storage.RunsTable)+
			` ("source", "mode", "checks_file", "graded_at", "passed", "total") VALUES ($1, $2, $3, $4, $5, $6) RETURNING "id"`,
		run.Source, run.Mode, run.ChecksFile, run.GradedAt.UTC(), storage.CountPassed(checks), len(checks),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert run: %w", err)
	}

	for _, batch := range storage.Batches(checks, checkBatchSize) {
		q, args := buildInsertChecksSQL(id, batch)
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("postgres: insert checks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// buildInsertChecksSQL constructs a single INSERT statement and its args.
//
// ON CONFLICT (run_id, selector) DO NOTHING keeps the insert idempotent.
func buildInsertChecksSQL(runID int64, checks []storage.Check) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(storage.ChecksTable))
	b.WriteString(` ("run_id", "selector", "present") VALUES `)

	args := make([]any, 0, len(checks)*3)
	p := 1
	for i, c := range checks {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d, $%d, $%d)", p, p+1, p+2)
		args = append(args, runID, c.Selector, c.Present)
		p += 3
	}
	b.WriteString(` ON CONFLICT ("run_id", "selector") DO NOTHING;`)
	return b.String(), args
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}
