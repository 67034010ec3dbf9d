package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/config"
)

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res := createTestResult("run-1", "fake")
	cfg := config.HarnessConfig{
		Name:       "fake",
		ServerPath: "./server.js",
		Args:       []string{"--stdio"},
		Env:        map[string]string{"DEBUG": "1"},
		TimeoutMs:  1500,
		Transport:  config.TransportStdio,
	}

	inserted, err := s.WriteRun(ctx, res, cfg)
	if err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	if !inserted {
		t.Fatal("WriteRun() inserted = false for a new run")
	}

	got, gotCfg, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if diff := cmp.Diff(res, got); diff != "" {
		t.Errorf("ReadRun() result mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg, gotCfg); diff != "" {
		t.Errorf("ReadRun() config mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteRun_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res := createTestResult("run-1", "fake")
	if _, err := s.WriteRun(ctx, res, config.HarnessConfig{}); err != nil {
		t.Fatalf("first WriteRun() failed: %v", err)
	}

	// Same id with different content is ignored
	changed := createTestResult("run-1", "other")
	inserted, err := s.WriteRun(ctx, changed, config.HarnessConfig{})
	if err != nil {
		t.Fatalf("second WriteRun() failed: %v", err)
	}
	if inserted {
		t.Error("second WriteRun() inserted = true, want false")
	}

	got, _, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if got.Server != "fake" {
		t.Errorf("Server = %q, want original %q", got.Server, "fake")
	}

	var cases int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM test_cases").Scan(&cases); err != nil {
		t.Fatalf("count cases: %v", err)
	}
	if cases != 3 {
		t.Errorf("test_cases rows = %d, want 3", cases)
	}
}

func TestWriteRun_Rejects(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteRun(ctx, nil, config.HarnessConfig{}); err == nil {
		t.Error("WriteRun(nil) should fail")
	}
	if _, err := s.WriteRun(ctx, createTestResult("", "fake"), config.HarnessConfig{}); err == nil {
		t.Error("WriteRun() with empty run id should fail")
	}
}

func TestWriteRun_InvalidStatusRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	res := createTestResult("run-bad", "fake")
	res.Tests[2].Status = "BROKEN"
	if _, err := s.WriteRun(ctx, res, config.HarnessConfig{}); err == nil {
		t.Fatal("WriteRun() with invalid status should fail")
	}

	_, _, err := s.ReadRun(ctx, "run-bad")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadRun() after rollback = %v, want ErrNotFound", err)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.ReadRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadRun() = %v, want ErrNotFound", err)
	}
}

func TestListRuns_OrderAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, server := range []string{"a", "b", "a", "a"} {
		res := createTestResult(fmt.Sprintf("run-%d", i), server)
		if i == 3 {
			// a clean run
			res.Tests = res.Tests[:1]
			res.Passed, res.Failed, res.Skipped = 1, 0, 0
		}
		if _, err := s.WriteRun(ctx, res, config.HarnessConfig{}); err != nil {
			t.Fatalf("WriteRun(%d) failed: %v", i, err)
		}
	}

	ids := func(runs []RunSummary) []string {
		out := make([]string, len(runs))
		for i, r := range runs {
			out[i] = r.ID
		}
		return out
	}

	tests := []struct {
		name   string
		filter RunFilter
		want   []string
	}{
		{"all, newest first", RunFilter{}, []string{"run-3", "run-2", "run-1", "run-0"}},
		{"by server", RunFilter{Server: "a"}, []string{"run-3", "run-2", "run-0"}},
		{"failed only", RunFilter{Server: "a", FailedOnly: true}, []string{"run-2", "run-0"}},
		{"limit", RunFilter{Limit: 2}, []string{"run-3", "run-2"}},
		{"no match", RunFilter{Server: "zzz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := s.ListRuns(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListRuns() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(runs)); diff != "" {
				t.Errorf("ListRuns() ids mismatch (-want +got):\n%s", diff)
			}
		})
	}

	runs, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if !runs[0].OK() || runs[0].Passed != 1 {
		t.Errorf("latest run = %+v, want one passing case", runs[0])
	}
}

func TestCaseHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res := createTestResult(fmt.Sprintf("run-%d", i), "fake")
		if i == 1 {
			res.Tests[2].Status = compliance.StatusPassed
			res.Tests[2].Error = ""
			res.Failed, res.Passed = 0, 2
		}
		if _, err := s.WriteRun(ctx, res, config.HarnessConfig{}); err != nil {
			t.Fatalf("WriteRun(%d) failed: %v", i, err)
		}
	}

	got, err := s.CaseHistory(ctx, "fake", compliance.CategoryErrorHandling, "invalid params", 0)
	if err != nil {
		t.Fatalf("CaseHistory() failed: %v", err)
	}
	var statuses []compliance.Status
	for _, o := range got {
		statuses = append(statuses, o.Status)
	}
	want := []compliance.Status{compliance.StatusFailed, compliance.StatusPassed, compliance.StatusFailed}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Errorf("CaseHistory() statuses mismatch (-want +got):\n%s", diff)
	}
	if got[0].RunID != "run-2" {
		t.Errorf("first outcome run = %q, want run-2", got[0].RunID)
	}
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.WriteRun(ctx, createTestResult("run-1", "fake"), config.HarnessConfig{}); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() failed: %v", err)
	}

	var cases int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM test_cases").Scan(&cases); err != nil {
		t.Fatalf("count cases: %v", err)
	}
	if cases != 0 {
		t.Errorf("test_cases rows after delete = %d, want 0", cases)
	}
	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Errorf("second DeleteRun() = %v, want nil", err)
	}
}

func TestMarshalConfig_Canonical(t *testing.T) {
	a, err := marshalConfig(config.HarnessConfig{Env: map[string]string{"B": "2", "A": "1"}, ServerPath: "x"})
	if err != nil {
		t.Fatalf("marshalConfig() failed: %v", err)
	}
	b, err := marshalConfig(config.HarnessConfig{ServerPath: "x", Env: map[string]string{"A": "1", "B": "2"}})
	if err != nil {
		t.Fatalf("marshalConfig() failed: %v", err)
	}
	if a != b {
		t.Errorf("marshalConfig() not deterministic:\n%s\n%s", a, b)
	}
}
