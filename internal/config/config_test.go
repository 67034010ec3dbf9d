package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, TransportStdio, c.Transport)
	assert.Equal(t, 5*time.Second, c.Timeout())
	assert.Equal(t, DefaultProtocolVersion, c.ProtocolVersion)
	assert.Equal(t, 100*time.Millisecond, c.StartupProbe())
	assert.Equal(t, 2*time.Second, c.ShutdownGrace())
	assert.False(t, c.Debug)
}

func TestApplyDefaults_NameFromPath(t *testing.T) {
	c := HarnessConfig{ServerPath: "/opt/servers/weather.js", TimeoutMs: 250}
	c.ApplyDefaults()
	assert.Equal(t, "weather.js", c.Name)
	assert.Equal(t, 250*time.Millisecond, c.Timeout(), "explicit values survive")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     HarnessConfig
		wantErr string
	}{
		{"valid", HarnessConfig{ServerPath: "./server", Transport: "stdio"}, ""},
		{"missing path", HarnessConfig{Transport: "stdio"}, "serverPath is required"},
		{"http transport", HarnessConfig{ServerPath: "x", Transport: "http"}, `transport "http" is not supported`},
		{"negative timeout", HarnessConfig{ServerPath: "x", TimeoutMs: -1}, "timeoutMs must not be negative"},
		{"bad env", HarnessConfig{ServerPath: "x", Env: map[string]string{"A=B": "c"}}, "invalid env name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	err := HarnessConfig{Transport: "sse", TimeoutMs: -5}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serverPath is required")
	assert.Contains(t, err.Error(), "sse")
	assert.Contains(t, err.Error(), "timeoutMs")
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "mcpcheck.yaml", `
timeoutMs: 1500
debug: true
env:
  LOG_LEVEL: debug
servers:
  - name: weather
    serverPath: ./bin/weather
    args: ["--stdio"]
  - serverPath: /usr/local/bin/files
    timeoutMs: 9000
    env:
      ROOT: /tmp
`)

	f, err := Load(path)
	require.NoError(t, err)

	cfgs := f.Configs()
	require.Len(t, cfgs, 2)

	assert.Equal(t, "weather", cfgs[0].Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "bin/weather"), cfgs[0].ServerPath)
	assert.Equal(t, []string{"--stdio"}, cfgs[0].Args)
	assert.Equal(t, 1500, cfgs[0].TimeoutMs)
	assert.True(t, cfgs[0].Debug)

	assert.Equal(t, "files", cfgs[1].Name)
	assert.Equal(t, 9000, cfgs[1].TimeoutMs)
	assert.Equal(t, []string{"LOG_LEVEL=debug", "ROOT=/tmp"}, cfgs[1].EnvList())
	assert.Equal(t, TransportStdio, cfgs[1].Transport)
}

func TestLoad_YAMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "bad.yaml", "serverPath: ./s\ntimeout: 5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "mcpcheck.toml", `
serverPath = "server.py"
timeoutMs = 3000
categories = ["initialization", "tools"]

[env]
PYTHONUNBUFFERED = "1"
`)

	f, err := Load(path)
	require.NoError(t, err)

	cfgs := f.Configs()
	require.Len(t, cfgs, 1)
	assert.Equal(t, "server.py", cfgs[0].ServerPath, "bare names are not resolved")
	assert.Equal(t, 3000, cfgs[0].TimeoutMs)
	assert.Equal(t, []string{"initialization", "tools"}, cfgs[0].Categories)
	assert.Equal(t, []string{"PYTHONUNBUFFERED=1"}, cfgs[0].EnvList())
}

func TestLoad_TOMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "bad.toml", "serverPath = \"s\"\nretries = 3\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown fields: retries")
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	path := writeFile(t, "config.json", "{}")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestConfigs_NoServer(t *testing.T) {
	f := &File{HarnessConfig: HarnessConfig{TimeoutMs: 10}}
	assert.Empty(t, f.Configs())
}

func TestMerge(t *testing.T) {
	base := HarnessConfig{ServerPath: "a", TimeoutMs: 100, Env: map[string]string{"A": "1"}}
	got := base.Merge(HarnessConfig{TimeoutMs: 200, Env: map[string]string{"B": "2"}, Debug: true})

	assert.Equal(t, "a", got.ServerPath)
	assert.Equal(t, 200, got.TimeoutMs)
	assert.True(t, got.Debug)
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, got.Env)
	assert.Equal(t, map[string]string{"A": "1"}, base.Env, "base is not mutated")
}
