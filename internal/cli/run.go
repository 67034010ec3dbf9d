package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/mcpcheck/internal/compliance"
	"github.com/roach88/mcpcheck/internal/config"
	"github.com/roach88/mcpcheck/internal/metrics"
	"github.com/roach88/mcpcheck/internal/reference"
	"github.com/roach88/mcpcheck/internal/store"
	"github.com/roach88/mcpcheck/internal/transport"
)

// referenceName labels the in-process reference server in reports.
const referenceName = "mcpcheck-reference"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath      string
	Servers         []string
	Args            []string
	Env             []string
	Timeout         time.Duration
	Debug           bool
	Categories      []string
	ProtocolVersion string
	Parallel        int
	Database        string
	MetricsFile     string
	Reference       bool

	// Clock, RunIDs and Transports override suite collaborators (for testing).
	// Transports replaces the process transport for every configured server.
	Clock      compliance.Clock
	RunIDs     compliance.RunIDGenerator
	Transports compliance.TransportFactory
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [server ...] [-- server-args]",
		Short: "Run the compliance suite against MCP servers",
		Long: `Launch each MCP server as a child process speaking newline-delimited
JSON-RPC on stdio, run the compliance suite against it and report every
test case.

Servers come from positional arguments, --server and the servers list of
--config. Flags override values from the config file. Arguments after --
are passed to every server.

Exit status is 1 when any case failed and 2 when the command itself failed.

Example:
  mcpcheck run ./my-server
  mcpcheck run --config servers.yaml --parallel 4 --db history.db
  mcpcheck run --category tools --timeout 2s node -- dist/index.js`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers := args
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				servers = args[:dash]
				opts.Args = append(opts.Args, args[dash:]...)
			}
			opts.Servers = append(opts.Servers, servers...)
			return runSuites(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	cmd.Flags().StringArrayVar(&opts.Servers, "server", nil, "server executable to check (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "argument passed to every server (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Env, "env", nil, "KEY=VALUE added to every server environment (repeatable)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-call response timeout (default 5s)")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "record failure detail and log every frame")
	cmd.Flags().StringSliceVar(&opts.Categories, "category", nil, "run only these categories (repeatable)")
	cmd.Flags().StringVar(&opts.ProtocolVersion, "protocol-version", "", "protocol revision to request in initialize")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 1, "number of servers checked concurrently")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record results in this SQLite database")
	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&opts.Reference, "reference", false, "also check the built-in reference server in-process")

	return cmd
}

// target is one server to check and how to reach it.
type target struct {
	cfg     config.HarnessConfig
	factory compliance.TransportFactory
}

func runSuites(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := newFormatter(opts.RootOptions, cmd)

	targets, err := resolveTargets(opts, logger)
	if err != nil {
		_ = formatter.Error(CodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	suites := make([]*compliance.Suite, len(targets))
	recorders := make([]*metrics.Recorder, len(targets))
	for i, t := range targets {
		suiteOpts := []compliance.Option{
			compliance.WithLogger(logger),
			compliance.WithTransportFactory(t.factory),
		}
		if opts.MetricsFile != "" {
			recorders[i] = metrics.NewRecorder(t.cfg.Name)
			suiteOpts = append(suiteOpts, compliance.WithMetrics(recorders[i]))
		}
		if opts.Clock != nil {
			suiteOpts = append(suiteOpts, compliance.WithClock(opts.Clock))
		}
		if opts.RunIDs != nil {
			suiteOpts = append(suiteOpts, compliance.WithRunIDGenerator(opts.RunIDs))
		}
		s, err := compliance.New(t.cfg, suiteOpts...)
		if err != nil {
			_ = formatter.Error(CodeConfig, err.Error(), t.cfg.Name)
			return WrapExitError(ExitCommandError, fmt.Sprintf("server %q", t.cfg.ServerPath), err)
		}
		suites[i] = s
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	parallel := opts.Parallel
	if parallel < 1 {
		parallel = 1
	}
	results := make([]*compliance.SuiteResult, len(suites))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, s := range suites {
		g.Go(func() error {
			logger.Info("checking server", "server", s.Config().Name)
			results[i] = s.Run(gctx)
			return nil
		})
	}
	_ = g.Wait()

	if opts.Database != "" {
		if err := recordResults(ctx, opts.Database, results, suites, logger); err != nil {
			_ = formatter.Error(CodeStore, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to record results", err)
		}
	}

	if opts.MetricsFile != "" {
		if err := metrics.WriteTextfile(opts.MetricsFile, metrics.Gatherers(recorders...)); err != nil {
			_ = formatter.Error(CodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
		logger.Debug("metrics written", "path", opts.MetricsFile)
	}

	report := runReport{results: results, styles: newStyles(useColor(opts.RootOptions, cmd.OutOrStdout()))}
	if err := formatter.Success(report); err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if failed := report.failed(); failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d test case(s) failed", failed))
	}
	return nil
}

// resolveTargets builds one configuration per server: file settings first,
// then flag overrides.
func resolveTargets(opts *RunOptions, logger *slog.Logger) ([]target, error) {
	var (
		shared config.HarnessConfig
		cfgs   []config.HarnessConfig
	)
	if opts.ConfigPath != "" {
		f, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		shared = f.HarnessConfig
		shared.ServerPath = ""
		shared.Name = ""
		cfgs = f.Configs()
	}
	for _, path := range opts.Servers {
		cfgs = append(cfgs, shared.Merge(config.HarnessConfig{ServerPath: path}))
	}

	over, err := opts.overrides()
	if err != nil {
		return nil, err
	}

	factory := opts.Transports
	if factory == nil {
		factory = compliance.ProcessTransport(logger)
	}

	targets := make([]target, 0, len(cfgs)+1)
	for _, c := range cfgs {
		c = c.Merge(over)
		c.ApplyDefaults()
		targets = append(targets, target{cfg: c, factory: factory})
	}
	if opts.Reference {
		c := shared.Merge(config.HarnessConfig{Name: referenceName, ServerPath: referenceName}).Merge(over)
		c.ApplyDefaults()
		targets = append(targets, target{cfg: c, factory: func(config.HarnessConfig) transport.Transport {
			return transport.NewPipe(reference.Serve)
		}})
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no server to check: pass a server path, --server, --config or --reference")
	}
	return targets, nil
}

// overrides collects the flag values that replace config file settings.
func (o *RunOptions) overrides() (config.HarnessConfig, error) {
	over := config.HarnessConfig{
		Args:            o.Args,
		Debug:           o.Debug,
		ProtocolVersion: o.ProtocolVersion,
		Categories:      o.Categories,
	}
	if o.Timeout < 0 {
		return over, fmt.Errorf("--timeout must not be negative (got %s)", o.Timeout)
	}
	over.TimeoutMs = int(o.Timeout / time.Millisecond)

	if len(o.Env) > 0 {
		over.Env = make(map[string]string, len(o.Env))
		for _, kv := range o.Env {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return over, fmt.Errorf("invalid --env %q: want KEY=VALUE", kv)
			}
			over.Env[k] = v
		}
	}
	return over, nil
}

func recordResults(ctx context.Context, path string, results []*compliance.SuiteResult, suites []*compliance.Suite, logger *slog.Logger) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	// Record even when the run was interrupted
	ctx = context.WithoutCancel(ctx)
	for i, res := range results {
		inserted, err := st.WriteRun(ctx, res, suites[i].Config())
		if err != nil {
			return fmt.Errorf("run %s: %w", res.RunID, err)
		}
		logger.Debug("run recorded", "run_id", res.RunID, "inserted", inserted)
	}
	return nil
}
