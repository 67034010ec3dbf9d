package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/mcpcheck/internal/config"
	"github.com/roach88/mcpcheck/internal/faults"
	"github.com/roach88/mcpcheck/internal/harness"
	"github.com/roach88/mcpcheck/internal/metrics"
	"github.com/roach88/mcpcheck/internal/transport"
	"github.com/roach88/mcpcheck/internal/validate"
)

// Clock provides the readings used for durations and StartedAt.
type Clock interface {
	Now() time.Time
}

// RunIDGenerator produces the identifier stamped on each SuiteResult.
type RunIDGenerator interface {
	Generate() string
}

// TransportFactory builds the transport for one run.
type TransportFactory func(cfg config.HarnessConfig) transport.Transport

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type uuidRunID struct{}

func (uuidRunID) Generate() string { return uuid.NewString() }

// ProcessTransport is the default TransportFactory: it spawns cfg.ServerPath.
func ProcessTransport(logger *slog.Logger) TransportFactory {
	return func(cfg config.HarnessConfig) transport.Transport {
		return transport.NewProcess(transport.ProcessConfig{
			Path:          cfg.ServerPath,
			Args:          cfg.Args,
			Env:           cfg.EnvList(),
			Dir:           cfg.Dir,
			StartupProbe:  cfg.StartupProbe(),
			ShutdownGrace: cfg.ShutdownGrace(),
			Logger:        logger,
		})
	}
}

// Option configures a Suite.
type Option func(*Suite)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Suite) { s.clock = c }
}

// WithTransportFactory replaces subprocess spawning.
func WithTransportFactory(f TransportFactory) Option {
	return func(s *Suite) { s.newTransport = f }
}

// WithRunIDGenerator replaces random run ids.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(s *Suite) { s.runIDs = g }
}

// WithLogger sets the logger for the suite and everything it drives.
func WithLogger(l *slog.Logger) Option {
	return func(s *Suite) { s.logger = l }
}

// WithMetrics records request and case metrics on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Suite) { s.metrics = r }
}

// Suite runs the compliance categories against one server.
//
// A Suite is single use: Run executes once and later calls return the same
// result.
type Suite struct {
	cfg          config.HarnessConfig
	categories   []Category
	clock        Clock
	newTransport TransportFactory
	runIDs       RunIDGenerator
	logger       *slog.Logger
	metrics      *metrics.Recorder

	mu     sync.Mutex
	state  State
	result *SuiteResult
}

// New creates a suite for cfg. Defaults are applied before validation.
func New(cfg config.HarnessConfig, opts ...Option) (*Suite, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cats, err := ParseCategories(cfg.Categories)
	if err != nil {
		return nil, err
	}
	s := &Suite{
		cfg:        cfg,
		categories: cats,
		clock:      realClock{},
		runIDs:     uuidRunID{},
		state:      StateNotStarted,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("server", cfg.Name)
	if s.newTransport == nil {
		s.newTransport = ProcessTransport(s.logger)
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Suite) Config() config.HarnessConfig {
	return s.cfg
}

// State returns the current lifecycle state.
func (s *Suite) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Suite) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("suite state", "state", st)
}

// Run starts the server, executes every selected category in order, tears
// the server down and returns the report. It never returns an error: every
// failure, including a server that does not start, is recorded as a FAILED
// case.
func (s *Suite) Run(ctx context.Context) (res *SuiteResult) {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return s.wait()
	}
	s.state = StateServerStarting
	s.mu.Unlock()

	started := s.clock.Now()
	result := &SuiteResult{
		Name:      SuiteName,
		RunID:     s.runIDs.Generate(),
		Server:    s.cfg.Name,
		Tests:     []TestCase{},
		StartedAt: started,
	}
	s.logger.Info("suite starting", "run_id", result.RunID, "path", s.cfg.ServerPath)

	rc := &RunContext{
		ctx:       ctx,
		cfg:       s.cfg,
		clock:     s.clock,
		logger:    s.logger,
		metrics:   s.metrics,
		validator: validate.MustNew(),
		result:    result,
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("suite panicked", "panic", r, "stack", string(debug.Stack()))
		}
		s.teardown(rc)
		elapsed := s.clock.Now().Sub(started)
		result.DurationMs = elapsed.Milliseconds()
		s.metrics.SuiteFinished(elapsed)
		s.logger.Info("suite finished",
			"passed", result.Passed,
			"failed", result.Failed,
			"skipped", result.Skipped,
			"duration_ms", result.DurationMs,
		)
		s.mu.Lock()
		s.result = result
		s.state = StateDone
		s.mu.Unlock()
		res = result
	}()

	if err := s.start(rc); err != nil {
		s.logger.Warn("server failed to start", "error", err)
		rc.startErr = err
	}

	s.setState(StateRunning)
	if rc.startErr == nil && !s.selected(CategoryInitialization) {
		if err := rc.protect(func(rc *RunContext) error { return rc.handshake() }); err != nil {
			s.logger.Warn("handshake failed", "error", err)
		}
	}
	for _, cat := range s.categories {
		runCategory(rc, cat)
	}
	return result
}

// start creates the transport, starts the server and attaches a harness.
// A panic in any of these is reported as a startup failure.
func (s *Suite) start(rc *RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = faults.Startup("server start panicked", &panicError{value: r, stack: debug.Stack()})
		}
	}()
	rc.tr = s.newTransport(s.cfg)
	if err := rc.tr.Start(rc.ctx); err != nil {
		return err
	}
	rc.h = harness.New(rc.tr, harness.Options{
		Timeout: s.cfg.Timeout(),
		Logger:  s.logger,
		Metrics: s.metrics,
		Debug:   s.cfg.Debug,
	})
	return nil
}

// wait returns the finished result, or a snapshot if Run is still going in
// another goroutine.
func (s *Suite) wait() *SuiteResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		return s.result
	}
	return &SuiteResult{Name: SuiteName, Server: s.cfg.Name, Tests: []TestCase{}}
}

func (s *Suite) selected(c Category) bool {
	for _, cat := range s.categories {
		if cat == c {
			return true
		}
	}
	return false
}

// teardown stops the server. Errors and panics are logged and never change
// the outcome.
func (s *Suite) teardown(rc *RunContext) {
	s.setState(StateStopping)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("teardown panicked", "panic", r)
		}
	}()
	var err error
	switch {
	case rc.h != nil:
		stats := rc.h.Stats()
		s.logger.Debug("harness stats",
			"sent", stats.Sent,
			"received", stats.Received,
			"uncorrelated", stats.Uncorrelated,
			"notifications", stats.Notifications,
		)
		err = rc.h.Close()
	case rc.tr != nil:
		err = rc.tr.Stop()
	}
	if err != nil {
		s.logger.Warn("teardown", "error", err)
	}
}

func runCategory(rc *RunContext, cat Category) {
	switch cat {
	case CategoryInitialization:
		runInitialization(rc)
	case CategoryTools:
		runTools(rc)
	case CategoryResources:
		runResources(rc)
	case CategoryPrompts:
		runPrompts(rc)
	case CategoryErrorHandling:
		runErrorHandling(rc)
	case CategoryJSONRPC:
		runJSONRPC(rc)
	}
}

// Run is a convenience for New followed by Suite.Run.
func Run(ctx context.Context, cfg config.HarnessConfig, opts ...Option) (*SuiteResult, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx), nil
}

// startFailureMessage is the prefix of every case recorded after the server
// failed to start.
const startFailureMessage = "server failed to start"

func startFailure(err error) string {
	return startFailureMessage + ": " + faults.Message(err)
}
