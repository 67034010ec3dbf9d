package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/mcpcheck/internal/faults"
)

// Defaults applied to a zero ProcessConfig.
const (
	DefaultStartupProbe  = 100 * time.Millisecond
	DefaultShutdownGrace = 2 * time.Second

	// stderrTailSize bounds the diagnostic stderr kept per process.
	stderrTailSize = 4096
)

// ProcessConfig describes the server to spawn.
type ProcessConfig struct {
	// Path is the executable or script entry point.
	Path string

	// Args are passed after Path (or after the interpreter's script argument).
	Args []string

	// Env entries (KEY=VALUE) are appended to the current environment.
	Env []string

	// Dir is the working directory. Empty uses the current one.
	Dir string

	// StartupProbe is how long the process must stay alive after spawn
	// before it is considered started.
	StartupProbe time.Duration

	// ShutdownGrace is how long Stop waits after SIGTERM before killing.
	ShutdownGrace time.Duration

	Logger *slog.Logger
}

// Process is a Transport over a child process's standard streams.
type Process struct {
	cfg    ProcessConfig
	logger *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *io.PipeReader
	stderr *tailBuffer

	writeMu sync.Mutex

	done    chan struct{}
	waitErr error // valid after done is closed

	startOnce sync.Once
	started   bool
	stopOnce  sync.Once
	stopErr   error
}

var _ Transport = (*Process)(nil)

// NewProcess creates a process transport. Nothing is spawned until Start.
func NewProcess(cfg ProcessConfig) *Process {
	if cfg.StartupProbe <= 0 {
		cfg.StartupProbe = DefaultStartupProbe
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Process{
		cfg:    cfg,
		logger: logger.With("server", cfg.Path),
		stderr: newTailBuffer(stderrTailSize),
		done:   make(chan struct{}),
	}
}

// Command resolves the interpreter for a server entry point.
// Scripts are run through their usual interpreter; anything else is
// executed directly.
func Command(path string, args []string) (string, []string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return "node", append([]string{path}, args...)
	case ".py":
		return "python3", append([]string{path}, args...)
	case ".ts":
		return "npx", append([]string{"tsx", path}, args...)
	default:
		return path, append([]string(nil), args...)
	}
}

// Start spawns the server and waits out the startup probe.
func (p *Process) Start(ctx context.Context) error {
	err := errors.New("process already started")
	p.startOnce.Do(func() {
		err = p.start(ctx)
	})
	return err
}

func (p *Process) start(ctx context.Context) error {
	if p.cfg.Path == "" {
		return faults.Startup("no server path configured", nil)
	}

	name, args := Command(p.cfg.Path, p.cfg.Args)
	cmd := exec.Command(name, args...)
	cmd.Dir = p.cfg.Dir
	if len(p.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), p.cfg.Env...)
	}
	cmd.Stderr = p.stderr
	// Bounds Wait when a grandchild keeps the output pipes open
	cmd.WaitDelay = p.cfg.ShutdownGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return faults.Startup("open stdin", err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return faults.Startup(fmt.Sprintf("spawn %s", name), err)
	}

	p.cmd = cmd
	p.stdin = stdin
	p.stdout = pr
	p.started = true
	p.logger.Debug("server spawned", "pid", cmd.Process.Pid, "command", name, "args", args)

	go func() {
		// Wait returns only after stdout has been fully copied into pw
		p.waitErr = cmd.Wait()
		pw.Close()
		close(p.done)
		p.logger.Debug("server exited", "error", p.waitErr)
	}()

	timer := time.NewTimer(p.cfg.StartupProbe)
	defer timer.Stop()

	select {
	case <-p.done:
		return faults.Startup(p.exitMessage(), p.waitErr)
	case <-ctx.Done():
		_ = p.Stop()
		return faults.Startup("startup interrupted", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (p *Process) exitMessage() string {
	msg := "server exited during startup"
	if tail := p.Stderr(); tail != "" {
		msg += "; stderr: " + tail
	}
	return msg
}

// Send writes p to the server's stdin.
func (p *Process) Send(b []byte) error {
	if !p.started {
		return faults.New(faults.KindTransport, "send", "process not started")
	}
	select {
	case <-p.done:
		return faults.Wrap(faults.KindTransport, "send", "server exited", p.waitErr)
	default:
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := p.stdin.Write(b); err != nil {
		return faults.Wrap(faults.KindTransport, "send", "write to server stdin", err)
	}
	return nil
}

// Receive returns the server's stdout.
func (p *Process) Receive() io.Reader {
	if p.stdout == nil {
		return strings.NewReader("")
	}
	return p.stdout
}

// Done is closed once the process has exited and stdout is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the process exit error once Done is closed, nil before.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// Stderr returns the last bytes the server wrote to stderr.
func (p *Process) Stderr() string {
	return strings.TrimSpace(p.stderr.String())
}

// Stop closes stdin, sends SIGTERM, waits the grace period and kills the
// process if it is still alive.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopErr = p.stop()
	})
	return p.stopErr
}

func (p *Process) stop() error {
	if !p.started {
		return nil
	}

	var result *multierror.Error

	p.writeMu.Lock()
	if err := p.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("close stdin: %w", err))
	}
	p.writeMu.Unlock()

	select {
	case <-p.done:
		return result.ErrorOrNil()
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		result = multierror.Append(result, fmt.Errorf("terminate: %w", err))
	}

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-p.done:
		return result.ErrorOrNil()
	case <-grace.C:
	}

	p.logger.Warn("server ignored SIGTERM, killing", "grace", p.cfg.ShutdownGrace)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		result = multierror.Append(result, fmt.Errorf("kill: %w", err))
	}
	<-p.done
	return result.ErrorOrNil()
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
