package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RequestLifecycle(t *testing.T) {
	r := NewRecorder("fake")

	r.RequestSent("tools/list", true)
	r.RequestSent("notifications/initialized", false)
	assert.Equal(t, 1.0, promtest.ToFloat64(r.pending))

	r.RequestDone("tools/list", OutcomeResult, 20*time.Millisecond)
	assert.Equal(t, 0.0, promtest.ToFloat64(r.pending))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.responses.WithLabelValues("tools/list", OutcomeResult)))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.requests.WithLabelValues("notifications/initialized")))
}

func TestRecorder_Cases(t *testing.T) {
	r := NewRecorder("fake")
	r.CaseFinished("tools", "PASSED")
	r.CaseFinished("tools", "PASSED")
	r.CaseFinished("tools", "FAILED")

	assert.Equal(t, 2.0, promtest.ToFloat64(r.cases.WithLabelValues("tools", "PASSED")))
	assert.Equal(t, 1.0, promtest.ToFloat64(r.cases.WithLabelValues("tools", "FAILED")))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.RequestSent("ping", true)
		r.RequestDone("ping", OutcomeTimeout, time.Second)
		r.Uncorrelated()
		r.Notification()
		r.CaseFinished("jsonrpc", "FAILED")
		r.SuiteFinished(time.Second)
	})
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "none.prom")))
	assert.Nil(t, r.Registry())
}

func TestRecorder_IndependentRegistries(t *testing.T) {
	a := NewRecorder("a")
	b := NewRecorder("b")
	a.Uncorrelated()

	assert.Equal(t, 1.0, promtest.ToFloat64(a.uncorrelated))
	assert.Equal(t, 0.0, promtest.ToFloat64(b.uncorrelated))
}

func TestWriteTextfile(t *testing.T) {
	a := NewRecorder("alpha")
	b := NewRecorder("beta")
	a.CaseFinished("initialization", "PASSED")
	b.CaseFinished("initialization", "FAILED")

	path := filepath.Join(t.TempDir(), "mcpcheck.prom")
	require.NoError(t, WriteTextfile(path, Gatherers(a, nil, b)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `mcpcheck_test_cases_total{category="initialization",server="alpha",status="PASSED"} 1`), text)
	assert.True(t, strings.Contains(text, `mcpcheck_test_cases_total{category="initialization",server="beta",status="FAILED"} 1`), text)
}
