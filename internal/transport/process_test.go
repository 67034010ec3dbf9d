package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mcpcheck/internal/faults"
)

// TestHelperProcess is not a real test. It is the child process spawned by
// the tests below, selected by HELPER_MODE.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	switch os.Getenv("HELPER_MODE") {
	case "exit":
		fmt.Fprintln(os.Stderr, "fatal: missing configuration")
		os.Exit(3)
	case "echo":
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Println(scanner.Text())
		}
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		io.Copy(io.Discard, os.Stdin)
		time.Sleep(time.Hour)
	}
}

func helperConfig(mode string) ProcessConfig {
	return ProcessConfig{
		Path:          os.Args[0],
		Args:          []string{"-test.run=TestHelperProcess", "--"},
		Env:           []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		StartupProbe:  50 * time.Millisecond,
		ShutdownGrace: 200 * time.Millisecond,
	}
}

func TestCommand_Interpreters(t *testing.T) {
	tests := []struct {
		path     string
		wantName string
		wantArgs []string
	}{
		{"server.js", "node", []string{"server.js", "--stdio"}},
		{"server.mjs", "node", []string{"server.mjs", "--stdio"}},
		{"server.py", "python3", []string{"server.py", "--stdio"}},
		{"server.ts", "npx", []string{"tsx", "server.ts", "--stdio"}},
		{"./bin/server", "./bin/server", []string{"--stdio"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			name, args := Command(tt.path, []string{"--stdio"})
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestProcess_EchoRoundTrip(t *testing.T) {
	p := NewProcess(helperConfig("echo"))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	require.NoError(t, p.Send([]byte("{\"jsonrpc\":\"2.0\"}\n")))

	line, err := bufio.NewReader(p.Receive()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "{\"jsonrpc\":\"2.0\"}\n", line)
}

func TestProcess_StopClosesStream(t *testing.T) {
	p := NewProcess(helperConfig("echo"))
	require.NoError(t, p.Start(context.Background()))

	require.NoError(t, p.Stop())
	assert.NoError(t, p.Stop(), "second stop is a no-op")

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	_, err := io.ReadAll(p.Receive())
	assert.NoError(t, err, "stream ends with EOF")

	err = p.Send([]byte("late\n"))
	assert.True(t, faults.Is(err, faults.KindTransport))
}

func TestProcess_ExitDuringStartup(t *testing.T) {
	cfg := helperConfig("exit")
	cfg.StartupProbe = 10 * time.Second
	p := NewProcess(cfg)
	err := p.Start(context.Background())
	require.Error(t, err)

	assert.True(t, faults.IsStartupFailure(err))
	assert.Contains(t, err.Error(), "server exited during startup")
	assert.Contains(t, err.Error(), "missing configuration")
	assert.NoError(t, p.Stop())
}

func TestProcess_SpawnFailure(t *testing.T) {
	p := NewProcess(ProcessConfig{Path: "/nonexistent/mcp-server"})
	err := p.Start(context.Background())

	require.Error(t, err)
	assert.True(t, faults.IsStartupFailure(err))
	assert.NoError(t, p.Stop(), "stop after failed start is a no-op")
}

func TestProcess_KillsAfterGrace(t *testing.T) {
	cfg := helperConfig("stubborn")
	p := NewProcess(cfg)
	require.NoError(t, p.Start(context.Background()))

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.GreaterOrEqual(t, time.Since(start), cfg.ShutdownGrace)

	select {
	case <-p.Done():
	default:
		t.Fatal("process still running after Stop")
	}
}

func TestProcess_StartTwice(t *testing.T) {
	p := NewProcess(helperConfig("echo"))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	assert.Error(t, p.Start(context.Background()))
}

func TestTailBuffer_KeepsLastBytes(t *testing.T) {
	tb := newTailBuffer(5)
	tb.Write([]byte("abc"))
	tb.Write([]byte("defgh"))
	assert.Equal(t, "defgh", tb.String())
}
