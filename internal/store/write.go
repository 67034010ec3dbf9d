package store

import (
	"context"
	"fmt"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/config"
)

// WriteRun records a suite result and the configuration it ran with.
// Returns whether a new run was inserted.
//
// Uses ON CONFLICT(id) DO NOTHING for idempotency - writing the same run id
// again leaves the stored run and its cases untouched.
func (s *Store) WriteRun(ctx context.Context, res *compliance.SuiteResult, cfg config.HarnessConfig) (inserted bool, err error) {
	if res == nil {
		return false, fmt.Errorf("write run: nil result")
	}
	if res.RunID == "" {
		return false, fmt.Errorf("write run: empty run id")
	}

	cfgJSON, err := marshalConfig(cfg)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}

	// Run and cases are written atomically
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(id, suite, server, started_at, duration_ms, passed, failed, skipped, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		res.RunID,
		res.Name,
		res.Server,
		formatTime(res.StartedAt),
		res.DurationMs,
		res.Passed,
		res.Failed,
		res.Skipped,
		cfgJSON,
	)
	if err != nil {
		return false, fmt.Errorf("write run: insert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write run: rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO test_cases
		(run_id, ordinal, category, name, status, duration_ms, error, kind, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return false, fmt.Errorf("write run: prepare cases: %w", err)
	}
	defer stmt.Close()

	for i, tc := range res.Tests {
		if _, err := stmt.ExecContext(ctx,
			res.RunID,
			i,
			string(tc.Category),
			tc.Name,
			string(tc.Status),
			tc.DurationMs,
			tc.Error,
			string(tc.Kind),
			tc.Detail,
		); err != nil {
			return false, fmt.Errorf("write run: case %d (%s): %w", i, tc.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("write run: commit: %w", err)
	}
	return true, nil
}

// DeleteRun removes a run and its cases. Deleting a missing run is not an
// error.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}
