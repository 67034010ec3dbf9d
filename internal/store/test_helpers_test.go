package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/faults"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestResult creates a suite result with one case of each status.
func createTestResult(runID, server string) *compliance.SuiteResult {
	res := &compliance.SuiteResult{
		Name:       compliance.SuiteName,
		RunID:      runID,
		Server:     server,
		DurationMs: 42,
		StartedAt:  time.Date(2025, 1, 1, 12, 30, 0, 500, time.UTC),
		Tests: []compliance.TestCase{
			{Name: "initialize handshake", Category: compliance.CategoryInitialization, Status: compliance.StatusPassed, DurationMs: 3},
			{Name: "list tools", Category: compliance.CategoryTools, Status: compliance.StatusSkipped, Error: "server does not advertise tools"},
			{
				Name:       "invalid params",
				Category:   compliance.CategoryErrorHandling,
				Status:     compliance.StatusFailed,
				DurationMs: 5,
				Error:      "ASSERTION_FAILURE: invalid params: expected error code -32602, got -32603",
				Kind:       faults.KindAssertion,
			},
		},
	}
	res.Passed, res.Skipped, res.Failed = 1, 1, 1
	return res
}
