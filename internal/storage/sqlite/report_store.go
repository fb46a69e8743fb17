package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/regress"
)

// ReportStore implements regression report persistence backed by SQLite.
type ReportStore struct {
	db *DB
}

// NewReportStore creates a new SQLite-backed report store.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save persists a report and its cases in one transaction.
func (s *ReportStore) Save(r *regress.Report) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO regression_runs (id, started_at, finished_at, total, passed, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.StartedAt, r.FinishedAt, r.Total, r.Passed, r.Failed, r.Skipped,
	)
	if err != nil {
		return fmt.Errorf("insert regression run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO regression_cases (run_id, seq, problem_id, language, kind, ok, skipped,
			failure_reason, diagnostics, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare case insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range r.Cases {
		diags, err := json.Marshal(c.Diagnostics)
		if err != nil {
			return fmt.Errorf("marshal diagnostics: %w", err)
		}
		_, err = stmt.Exec(r.ID.String(), i, c.ProblemID, c.Language, string(c.Kind),
			boolToInt(c.OK), boolToInt(c.Skipped), string(c.FailureReason), string(diags),
			int64(c.Duration))
		if err != nil {
			return fmt.Errorf("insert case %s: %w", c.ProblemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// Get retrieves a report with all its cases.
func (s *ReportStore) Get(id uuid.UUID) (*regress.Report, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, total, passed, failed, skipped
		FROM regression_runs WHERE id = ?`, id.String())
	r, err := scanReport(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT problem_id, language, kind, ok, skipped, failure_reason, diagnostics, duration_ns
		FROM regression_cases WHERE run_id = ? ORDER BY seq`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c             regress.Case
			kind, reason  string
			ok, skipped   int
			diags         string
			durationNanos int64
		)
		if err := rows.Scan(&c.ProblemID, &c.Language, &kind, &ok, &skipped, &reason, &diags, &durationNanos); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Kind = regress.CaseKind(kind)
		c.OK = ok != 0
		c.Skipped = skipped != 0
		c.FailureReason = domain.ErrorKind(reason)
		c.Duration = time.Duration(durationNanos)
		if err := json.Unmarshal([]byte(diags), &c.Diagnostics); err != nil {
			return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
		r.Cases = append(r.Cases, c)
	}
	return r, rows.Err()
}

// List returns the most recent reports, newest first, without their cases.
func (s *ReportStore) List(limit int) ([]*regress.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, total, passed, failed, skipped
		FROM regression_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []*regress.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// ProblemFailure is one failed case of a problem in the history.
type ProblemFailure struct {
	ProblemID     string
	Language      string
	Kind          regress.CaseKind
	FailureReason domain.ErrorKind
	At            time.Time
}

// ProblemFailures returns the recorded failures of one problem, newest first.
func (s *ReportStore) ProblemFailures(problemID string, limit int) ([]ProblemFailure, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT c.problem_id, c.language, c.kind, c.failure_reason, r.started_at
		FROM regression_cases c
		JOIN regression_runs r ON r.id = c.run_id
		WHERE c.problem_id = ? AND c.ok = 0 AND c.skipped = 0
		ORDER BY r.started_at DESC LIMIT ?`, problemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query problem failures: %w", err)
	}
	defer rows.Close()

	var out []ProblemFailure
	for rows.Next() {
		var (
			f            ProblemFailure
			kind, reason string
		)
		if err := rows.Scan(&f.ProblemID, &f.Language, &kind, &reason, &f.At); err != nil {
			return nil, fmt.Errorf("scan problem failure: %w", err)
		}
		f.Kind = regress.CaseKind(kind)
		f.FailureReason = domain.ErrorKind(reason)
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(row scanner) (*regress.Report, error) {
	var (
		r  regress.Report
		id string
	)
	err := row.Scan(&id, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Passed, &r.Failed, &r.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, regress.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	if r.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse report id: %w", err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
