package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/roach88/mcpcheck/internal/config"
	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/harness"
	"github.com/roach88/mcpcheck/internal/jsonrpc"
	"github.com/roach88/mcpcheck/internal/metrics"
	"github.com/roach88/mcpcheck/internal/transport"
	"github.com/roach88/mcpcheck/internal/validate"
)

// RunContext is the state shared by the cases of one run. Cases later in the
// run read what earlier cases discovered (the handshake result, listed
// tools) instead of asking the server again.
type RunContext struct {
	ctx       context.Context
	tr        transport.Transport
	h         *harness.Harness
	cfg       config.HarnessConfig
	clock     Clock
	logger    *slog.Logger
	metrics   *metrics.Recorder
	validator *validate.Validator
	result    *SuiteResult

	// startErr is set when the server never became usable.
	startErr error

	initAttempted bool
	init          *harness.InitializeResult

	tools           []harness.Tool
	toolsListed     bool
	resources       []harness.Resource
	resourcesListed bool
	prompts         []harness.Prompt
	promptsListed   bool
}

// skipError marks a case as SKIPPED.
type skipError struct{ reason string }

func (e *skipError) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

// panicError carries a recovered panic and its stack.
type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// run executes one case and records it. Nothing a case does can abort the
// run: errors and panics become FAILED cases.
func (rc *RunContext) run(cat Category, name string, fn func(rc *RunContext) error) {
	tc := TestCase{Name: name, Category: cat}
	if rc.startErr != nil {
		tc.Status = StatusFailed
		tc.Kind = faults.KindStartupFailure
		tc.Error = startFailure(rc.startErr)
		rc.record(tc, rc.startErr)
		return
	}

	start := rc.clock.Now()
	err := rc.protect(fn)
	tc.DurationMs = rc.clock.Now().Sub(start).Milliseconds()

	var se *skipError
	switch {
	case err == nil:
		tc.Status = StatusPassed
	case errors.As(err, &se):
		tc.Status = StatusSkipped
		tc.Error = se.reason
	case faults.IsStartupFailure(err):
		tc.Status = StatusFailed
		tc.Kind = faults.KindStartupFailure
		tc.Error = startFailure(err)
	default:
		tc.Status = StatusFailed
		tc.Kind = faults.KindOf(err)
		tc.Error = faults.Message(err)
	}
	rc.record(tc, err)
}

func (rc *RunContext) protect(fn func(rc *RunContext) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(rc)
}

func (rc *RunContext) record(tc TestCase, err error) {
	if rc.cfg.Debug && tc.Status == StatusFailed && err != nil {
		var pe *panicError
		if errors.As(err, &pe) {
			tc.Detail = fmt.Sprintf("%v\n%s", pe.value, pe.stack)
		} else {
			tc.Detail = fmt.Sprintf("%+v", err)
		}
	}
	rc.result.add(tc)
	rc.metrics.CaseFinished(string(tc.Category), string(tc.Status))

	attrs := []any{"category", tc.Category, "name", tc.Name, "status", tc.Status, "duration_ms", tc.DurationMs}
	if tc.Status == StatusFailed {
		rc.logger.Info("test case", append(attrs, "error", tc.Error)...)
		return
	}
	rc.logger.Debug("test case", attrs...)
}

// inferStartup turns the first failure on a server that never produced a
// byte into a startup failure, so later cases report it as such.
func (rc *RunContext) inferStartup(err error) error {
	if err == nil || rc.startErr != nil {
		return err
	}
	if faults.KindOf(err) != faults.KindTransport || rc.h.Stats().Received != 0 {
		return err
	}
	// The write side can notice the exit before the read side does.
	select {
	case <-rc.tr.Done():
	case <-time.After(rc.cfg.StartupProbe()):
		return err
	}
	rc.startErr = faults.Startup("server exited before responding", err)
	return rc.startErr
}

// handshake performs initialize followed by notifications/initialized once
// per run.
func (rc *RunContext) handshake() error {
	if rc.initAttempted {
		if rc.init == nil {
			return faults.Assertf(harness.MethodInitialize, "initialize handshake did not succeed")
		}
		return nil
	}
	rc.initAttempted = true

	params := harness.DefaultInitializeParams()
	params.ProtocolVersion = rc.cfg.ProtocolVersion
	resp, err := rc.h.Initialize(rc.ctx, params)
	if err != nil {
		return rc.inferStartup(err)
	}
	if err := rc.checkMessage(harness.MethodInitialize, resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return faults.Protocolf(harness.MethodInitialize, "server rejected initialize: %s", resp.Error)
	}

	// A missing protocolVersion is reported by its own case.
	res := rc.validator.ValidateInitializeResult(resp.Result)
	var vs []validate.Violation
	for _, v := range res.Violations {
		if v.Field != "protocolVersion" {
			vs = append(vs, v)
		}
	}
	if len(vs) > 0 {
		return faults.Protocolf(harness.MethodInitialize, "invalid initialize result: %s", validate.Result{Violations: vs})
	}

	init, err := harness.Decode[harness.InitializeResult](resp)
	if err != nil {
		return faults.Wrap(faults.KindProtocolViolation, harness.MethodInitialize, "undecodable initialize result", err)
	}
	rc.init = init
	if err := rc.h.Initialized(rc.ctx); err != nil {
		return rc.inferStartup(err)
	}
	rc.logger.Debug("handshake complete", "protocol_version", init.ProtocolVersion)
	return nil
}

// requireCapability skips when the handshake succeeded but the server did
// not advertise name. A failed handshake leaves capabilities unknown, so
// the case proceeds.
func (rc *RunContext) requireCapability(name string) error {
	if rc.init != nil && !rc.init.HasCapability(name) {
		return skip("server does not advertise %s", name)
	}
	return nil
}

// checkMessage validates the envelope of a response.
func (rc *RunContext) checkMessage(op string, resp *jsonrpc.Envelope) error {
	if resp == nil || len(resp.Raw) == 0 {
		return nil
	}
	res := validate.ValidateMessage(resp.Raw)
	if !res.Valid {
		return faults.Protocolf(op, "invalid response envelope: %s", res)
	}
	return nil
}

// success checks a response is a valid success and returns its raw result.
func (rc *RunContext) success(op string, resp *jsonrpc.Envelope, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, rc.inferStartup(err)
	}
	if err := rc.checkMessage(op, resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, faults.Assertf(op, "server returned error: %s", resp.Error)
	}
	return resp.Result, nil
}

// expectError checks a response is an error object and returns it.
func (rc *RunContext) expectError(op string, resp *jsonrpc.Envelope, err error) (*jsonrpc.ErrorObject, error) {
	if err != nil {
		return nil, rc.inferStartup(err)
	}
	if err := rc.checkMessage(op, resp); err != nil {
		return nil, err
	}
	if resp.Error == nil {
		return nil, faults.Assertf(op, "expected an error response, got a result")
	}
	return resp.Error, nil
}

// expectCode checks a response is an error carrying one of codes.
func (rc *RunContext) expectCode(op string, resp *jsonrpc.Envelope, err error, codes ...int) error {
	e, err := rc.expectError(op, resp, err)
	if err != nil {
		return err
	}
	for _, c := range codes {
		if e.Code == c {
			return nil
		}
	}
	want := make([]string, len(codes))
	for i, c := range codes {
		want[i] = fmt.Sprint(c)
	}
	return faults.Assertf(op, "expected error code %s, got %d (%s)", strings.Join(want, " or "), e.Code, e.Message)
}
