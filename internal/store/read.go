package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/config"
	"github.com/roach88/mcpcheck/internal/faults"
)

// ErrNotFound is returned when a run id is not in the store.
var ErrNotFound = errors.New("run not found")

// RunSummary is one row of run history, without its cases.
type RunSummary struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Suite      string    `json:"suite"`
	Server     string    `json:"server"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// OK reports whether the run had no failed case.
func (r RunSummary) OK() bool {
	return r.Failed == 0
}

// RunFilter narrows ListRuns. Zero values select everything.
type RunFilter struct {
	Server string
	// FailedOnly keeps runs with at least one failed case.
	FailedOnly bool
	// Limit caps the number of runs returned; 0 means no limit.
	Limit int
}

// ListRuns returns run summaries, most recent first.
// Ordering is by seq DESC, id COLLATE BINARY ASC so ties are impossible.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListRuns(ctx context.Context, f RunFilter) ([]RunSummary, error) {
	query := `
		SELECT seq, id, suite, server, started_at, duration_ms, passed, failed, skipped
		FROM runs
		WHERE (? = '' OR server = ?)
		  AND (? = 0 OR failed > 0)
		ORDER BY seq DESC, id COLLATE BINARY ASC`
	args := []any{f.Server, f.Server, boolInt(f.FailedOnly)}
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		r, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun reconstructs a stored suite result and its configuration.
// Returns ErrNotFound if the id is unknown.
func (s *Store) ReadRun(ctx context.Context, id string) (*compliance.SuiteResult, config.HarnessConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, suite, server, started_at, duration_ms, passed, failed, skipped, config
		FROM runs
		WHERE id = ?
	`, id)

	var (
		sum     RunSummary
		started string
		cfgJSON string
	)
	err := row.Scan(&sum.Seq, &sum.ID, &sum.Suite, &sum.Server, &started,
		&sum.DurationMs, &sum.Passed, &sum.Failed, &sum.Skipped, &cfgJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, config.HarnessConfig{}, fmt.Errorf("read run %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, config.HarnessConfig{}, fmt.Errorf("read run %q: %w", id, err)
	}
	startedAt, err := parseTime(started)
	if err != nil {
		return nil, config.HarnessConfig{}, err
	}
	cfg, err := unmarshalConfig(cfgJSON)
	if err != nil {
		return nil, config.HarnessConfig{}, err
	}

	tests, err := s.readCases(ctx, id)
	if err != nil {
		return nil, config.HarnessConfig{}, err
	}

	return &compliance.SuiteResult{
		Name:       sum.Suite,
		RunID:      sum.ID,
		Server:     sum.Server,
		Tests:      tests,
		Passed:     sum.Passed,
		Failed:     sum.Failed,
		Skipped:    sum.Skipped,
		DurationMs: sum.DurationMs,
		StartedAt:  startedAt,
	}, cfg, nil
}

// readCases returns the cases of one run in recorded order.
func (s *Store) readCases(ctx context.Context, runID string) ([]compliance.TestCase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, name, status, duration_ms, error, kind, detail
		FROM test_cases
		WHERE run_id = ?
		ORDER BY ordinal ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query test cases: %w", err)
	}
	defer rows.Close()

	tests := []compliance.TestCase{}
	for rows.Next() {
		var (
			tc                     compliance.TestCase
			category, status, kind string
		)
		if err := rows.Scan(&category, &tc.Name, &status, &tc.DurationMs, &tc.Error, &kind, &tc.Detail); err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		tc.Category = compliance.Category(category)
		tc.Status = compliance.Status(status)
		tc.Kind = faults.Kind(kind)
		tests = append(tests, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test cases: %w", err)
	}
	return tests, nil
}

// CaseHistory returns the recorded outcomes of one case on one server,
// most recent run first. It is what `history --case` prints to spot flaky
// checks.
func (s *Store) CaseHistory(ctx context.Context, server string, category compliance.Category, name string, limit int) ([]CaseOutcome, error) {
	query := `
		SELECT r.id, r.seq, c.status, c.duration_ms, c.error
		FROM test_cases c
		JOIN runs r ON c.run_id = r.id
		WHERE r.server = ? AND c.category = ? AND c.name = ?
		ORDER BY r.seq DESC, r.id COLLATE BINARY ASC`
	args := []any{server, string(category), name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query case history: %w", err)
	}
	defer rows.Close()

	out := []CaseOutcome{}
	for rows.Next() {
		var (
			o      CaseOutcome
			status string
		)
		if err := rows.Scan(&o.RunID, &o.Seq, &status, &o.DurationMs, &o.Error); err != nil {
			return nil, fmt.Errorf("scan case history: %w", err)
		}
		o.Status = compliance.Status(status)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case history: %w", err)
	}
	return out, nil
}

// CaseOutcome is one run's result for a single case.
type CaseOutcome struct {
	RunID      string            `json:"runId"`
	Seq        int64             `json:"seq"`
	Status     compliance.Status `json:"status"`
	DurationMs int64             `json:"durationMs"`
	Error      string            `json:"error,omitempty"`
}

// scanSummary scans a run row without the config column.
func scanSummary(rows *sql.Rows) (RunSummary, error) {
	var (
		r       RunSummary
		started string
	)
	if err := rows.Scan(&r.Seq, &r.ID, &r.Suite, &r.Server, &started,
		&r.DurationMs, &r.Passed, &r.Failed, &r.Skipped); err != nil {
		return RunSummary{}, fmt.Errorf("scan run: %w", err)
	}
	t, err := parseTime(started)
	if err != nil {
		return RunSummary{}, err
	}
	r.StartedAt = t
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
