package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"htmlgrader/internal/storage"
)

// SQL Server caps a statement at 2100 parameters; three per check.
const checkBatchSize = 500

// Repo implements storage.Repository for Microsoft SQL Server.
//
// SQL Server has no CREATE TABLE IF NOT EXISTS, so DDL is wrapped in an
// OBJECT_ID guard. The run id comes back through OUTPUT INSERTED.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens a Repo using database/sql and the "sqlserver" driver, and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func createSQL() []string {
	return []string{
		wrapCreateIfMissing(storage.RunsTable, strings.Join([]string{
			"[id] BIGINT IDENTITY(1,1) PRIMARY KEY",
			"[source] NVARCHAR(2048) NOT NULL",
			"[mode] NVARCHAR(16) NOT NULL",
			"[checks_file] NVARCHAR(1024) NOT NULL",
			"[graded_at] DATETIMEOFFSET NOT NULL",
			"[passed] INT NOT NULL",
			"[total] INT NOT NULL",
		}, ", ")),
		wrapCreateIfMissing(storage.ChecksTable, strings.Join([]string{
			"[run_id] BIGINT NOT NULL REFERENCES " + mssqlIdent(storage.RunsTable) + " ([id])",
			"[selector] NVARCHAR(450) NOT NULL",
			"[present] BIT NOT NULL",
			"CONSTRAINT [uq_grade_checks_run_selector] UNIQUE ([run_id], [selector])",
		}, ", ")),
	}
}

// EnsureTables creates grade_runs and grade_checks when missing.
func (r *Repo) EnsureTables(ctx context.Context) error {
	for _, stmt := range createSQL() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mssql: create tables: %w", err)
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

	err = tx.QueryRowContext(ctx,
		"INSERT INTO "+mssqlIdent(storage.RunsTable)+
			" ([source], [mode], [checks_file], [graded_at], [passed], [total]) OUTPUT INSERTED.[id] VALUES (@p1, @p2, @p3, @p4, @p5, @p6)",
		run.Source, run.Mode, run.ChecksFile, run.GradedAt, storage.CountPassed(checks), len(checks),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("mssql: insert run: %w", err)
	}

	for _, batch := range storage.Batches(checks, checkBatchSize) {
		q, args := buildInsertChecksSQL(id, batch)
		if _, err = tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("mssql: insert checks: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// buildInsertChecksSQL builds a single INSERT ... VALUES statement.
//
// Unlike Postgres ON CONFLICT, SQL Server does not collapse duplicate keys
// inside VALUES; callers pass checks already deduped by
// storage.Run.NormalizedChecks.
func buildInsertChecksSQL(runID int64, checks []storage.Check) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlIdent(storage.ChecksTable))
	b.WriteString(" ([run_id], [selector], [present]) VALUES ")

	args := make([]any, 0, len(checks)*3)
	p := 1
	for i, c := range checks {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "(@p%d, @p%d, @p%d)", p, p+1, p+2)
		args = append(args, runID, c.Selector, c.Present)
		p += 3
	}
	return b.String(), args
}

func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		tableName,
		mssqlIdent(tableName),
		innerDefs,
	)
}

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB so SaveRun can be tested without
// a server.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is satisfied by *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error   { return s.tx.Commit() }
func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn = (*sqlDB)(nil)
	_ txConn = (*sqlTx)(nil)
)
