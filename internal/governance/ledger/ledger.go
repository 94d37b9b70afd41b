// Package ledger is the Action Ledger: a narrow db_session adapter the
// Workflow Gate's audit_history and test_verification checks query.
// It mirrors the reference's Postgres core.audit_runs/core.action_results
// tables (original_source/src/mind/logic/engines/workflow_gate/checks/
// {audit,tests,alignment}.py) with a local SQLite-backed implementation;
// callers may substitute any other Session, since the concrete
// relational driver/ORM is an adapter per spec.md §1.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSessionFactory is returned when an Audit Context has no configured
// ledger factory but a check asks for a Session.
var ErrNoSessionFactory = errors.New("ledger: no session factory configured")

// AuditRun is one row of core.audit_runs: a record that an audit
// started at a point in time and whether it passed.
type AuditRun struct {
	AuditID   string
	StartedAt time.Time
	Passed    bool
}

// ActionResult is one row of core.action_results: the outcome of a
// single recorded action (a test run, an alignment attempt, ...).
type ActionResult struct {
	ActionType   string
	FilePath     string
	OK           bool
	ErrorMessage string
	CreatedAt    time.Time
}

// Session is the narrow interface the Workflow Gate's DB-backed checks
// depend on. A Session is acquired per check invocation and released
// promptly — never held across a suspension point (spec.md §5).
type Session interface {
	// RecentFailedAudits counts core.audit_runs rows with passed=false
	// started within the last window, grounded on AuditHistoryCheck.
	RecentFailedAudits(ctx context.Context, window time.Duration) (int, error)
	// LatestActionResult returns the most recent action_results row for
	// actionType (and, if filePath is non-empty, scoped to that file),
	// grounded on TestVerificationCheck/AlignmentVerificationCheck.
	LatestActionResult(ctx context.Context, actionType, filePath string) (*ActionResult, error)
	// RecordAuditRun appends a row to core.audit_runs.
	RecordAuditRun(ctx context.Context, run AuditRun) error
	// RecordActionResult appends a row to core.action_results.
	RecordActionResult(ctx context.Context, result ActionResult) error
	// Close releases the session. Safe to call multiple times.
	Close() error
}

// Ledger owns the backing SQLite database and constructs Sessions.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed Action Ledger at
// dbPath and ensures its schema exists.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open action ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init action ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_runs (
	audit_id   TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	passed     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS action_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	action_type   TEXT NOT NULL,
	file_path     TEXT,
	ok            INTEGER NOT NULL,
	error_message TEXT,
	created_at    TEXT NOT NULL
);
`

// NewSession returns a Session backed by this Ledger's database. The
// returned Session's Close is a no-op (the underlying connection pool is
// owned by the Ledger), matching the "acquire per operation, never
// long-held" policy of spec.md §9 without paying a new-connection cost
// per check.
func (l *Ledger) NewSession(ctx context.Context) (Session, error) {
	return &sqliteSession{db: l.db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

type sqliteSession struct {
	db *sql.DB
}

func (s *sqliteSession) RecentFailedAudits(ctx context.Context, window time.Duration) (int, error) {
	cutoff := time.Now().Add(-window).UTC().Format(time.RFC3339)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_runs WHERE passed = 0 AND started_at > ?`, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("query recent failed audits: %w", err)
	}
	return count, nil
}

func (s *sqliteSession) LatestActionResult(ctx context.Context, actionType, filePath string) (*ActionResult, error) {
	query := `SELECT action_type, file_path, ok, error_message, created_at FROM action_results WHERE action_type = ?`
	args := []any{actionType}
	if filePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filePath)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, query, args...)
	var result ActionResult
	var ok int
	var createdAt string
	var errMsg sql.NullString
	if err := row.Scan(&result.ActionType, &result.FilePath, &ok, &errMsg, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query latest action result: %w", err)
	}
	result.OK = ok != 0
	result.ErrorMessage = errMsg.String
	parsed, err := time.Parse(time.RFC3339, createdAt)
	if err == nil {
		result.CreatedAt = parsed
	}
	return &result, nil
}

func (s *sqliteSession) RecordAuditRun(ctx context.Context, run AuditRun) error {
	passed := 0
	if run.Passed {
		passed = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO audit_runs (audit_id, started_at, passed) VALUES (?, ?, ?)`,
		run.AuditID, run.StartedAt.UTC().Format(time.RFC3339), passed,
	)
	if err != nil {
		return fmt.Errorf("record audit run: %w", err)
	}
	return nil
}

func (s *sqliteSession) RecordActionResult(ctx context.Context, result ActionResult) error {
	ok := 0
	if result.OK {
		ok = 1
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO action_results (action_type, file_path, ok, error_message, created_at) VALUES (?, ?, ?, ?, ?)`,
		result.ActionType, result.FilePath, ok, result.ErrorMessage, createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record action result: %w", err)
	}
	return nil
}

func (s *sqliteSession) Close() error { return nil }
