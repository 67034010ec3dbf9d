// Package config holds the harness configuration and loads it from YAML or
// TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	TransportStdio         = "stdio"
	DefaultTimeoutMs       = 5000
	DefaultProtocolVersion = "2025-06-18"
	DefaultStartupProbeMs  = 100
	DefaultShutdownGraceMs = 2000
)

// HarnessConfig describes one server under test and how to drive it.
type HarnessConfig struct {
	// Name labels the server in reports. Defaults to the base name of ServerPath.
	Name string `yaml:"name" toml:"name" json:"name,omitempty"`

	// ServerPath is the executable or script entry point.
	ServerPath string `yaml:"serverPath" toml:"serverPath" json:"serverPath"`

	Args []string          `yaml:"args" toml:"args" json:"args,omitempty"`
	Env  map[string]string `yaml:"env" toml:"env" json:"env,omitempty"`
	Dir  string            `yaml:"dir" toml:"dir" json:"dir,omitempty"`

	// Transport must be "stdio".
	Transport string `yaml:"transport" toml:"transport" json:"transport"`

	// TimeoutMs bounds each awaited call.
	TimeoutMs int `yaml:"timeoutMs" toml:"timeoutMs" json:"timeoutMs"`

	// Debug records failure detail on test cases and logs every frame.
	Debug bool `yaml:"debug" toml:"debug" json:"debug,omitempty"`

	ProtocolVersion string `yaml:"protocolVersion" toml:"protocolVersion" json:"protocolVersion"`
	StartupProbeMs  int    `yaml:"startupProbeMs" toml:"startupProbeMs" json:"startupProbeMs"`
	ShutdownGraceMs int    `yaml:"shutdownGraceMs" toml:"shutdownGraceMs" json:"shutdownGraceMs"`

	// Categories restricts the run to the named categories. Empty runs all.
	Categories []string `yaml:"categories" toml:"categories" json:"categories,omitempty"`
}

// Default returns a configuration with every default applied and no server.
func Default() HarnessConfig {
	var c HarnessConfig
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields.
func (c *HarnessConfig) ApplyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = DefaultProtocolVersion
	}
	if c.StartupProbeMs == 0 {
		c.StartupProbeMs = DefaultStartupProbeMs
	}
	if c.ShutdownGraceMs == 0 {
		c.ShutdownGraceMs = DefaultShutdownGraceMs
	}
	if c.Name == "" && c.ServerPath != "" {
		c.Name = filepath.Base(c.ServerPath)
	}
}

// Validate reports every problem with the configuration.
func (c HarnessConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ServerPath) == "" {
		errs = append(errs, errors.New("serverPath is required"))
	}
	if c.Transport != "" && c.Transport != TransportStdio {
		errs = append(errs, fmt.Errorf("transport %q is not supported (only %q)", c.Transport, TransportStdio))
	}
	if c.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("timeoutMs must not be negative (got %d)", c.TimeoutMs))
	}
	if c.StartupProbeMs < 0 {
		errs = append(errs, fmt.Errorf("startupProbeMs must not be negative (got %d)", c.StartupProbeMs))
	}
	if c.ShutdownGraceMs < 0 {
		errs = append(errs, fmt.Errorf("shutdownGraceMs must not be negative (got %d)", c.ShutdownGraceMs))
	}
	for k := range c.Env {
		if k == "" || strings.Contains(k, "=") {
			errs = append(errs, fmt.Errorf("invalid env name %q", k))
		}
	}
	return errors.Join(errs...)
}

// Timeout is TimeoutMs as a duration.
func (c HarnessConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// StartupProbe is StartupProbeMs as a duration.
func (c HarnessConfig) StartupProbe() time.Duration {
	return time.Duration(c.StartupProbeMs) * time.Millisecond
}

// ShutdownGrace is ShutdownGraceMs as a duration.
func (c HarnessConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMs) * time.Millisecond
}

// EnvList renders Env as sorted KEY=VALUE entries.
func (c HarnessConfig) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Merge returns c with every non-zero field of over applied on top.
func (c HarnessConfig) Merge(over HarnessConfig) HarnessConfig {
	out := c
	if over.Name != "" {
		out.Name = over.Name
	}
	if over.ServerPath != "" {
		out.ServerPath = over.ServerPath
	}
	if len(over.Args) > 0 {
		out.Args = append([]string(nil), over.Args...)
	}
	if len(over.Env) > 0 {
		env := make(map[string]string, len(c.Env)+len(over.Env))
		for k, v := range c.Env {
			env[k] = v
		}
		for k, v := range over.Env {
			env[k] = v
		}
		out.Env = env
	}
	if over.Dir != "" {
		out.Dir = over.Dir
	}
	if over.Transport != "" {
		out.Transport = over.Transport
	}
	if over.TimeoutMs != 0 {
		out.TimeoutMs = over.TimeoutMs
	}
	if over.Debug {
		out.Debug = true
	}
	if over.ProtocolVersion != "" {
		out.ProtocolVersion = over.ProtocolVersion
	}
	if over.StartupProbeMs != 0 {
		out.StartupProbeMs = over.StartupProbeMs
	}
	if over.ShutdownGraceMs != 0 {
		out.ShutdownGraceMs = over.ShutdownGraceMs
	}
	if len(over.Categories) > 0 {
		out.Categories = append([]string(nil), over.Categories...)
	}
	return out
}

// File is the on-disk configuration: shared settings plus an optional list
// of servers, each overriding the shared settings.
type File struct {
	HarnessConfig `yaml:",inline"`

	Servers []HarnessConfig `yaml:"servers" toml:"servers"`
}

// Configs returns one configuration per server, shared settings merged in
// and defaults applied. A file without a servers list yields its shared
// settings as the single server, if it names one.
func (f *File) Configs() []HarnessConfig {
	var out []HarnessConfig
	if len(f.Servers) == 0 {
		if f.ServerPath == "" {
			return nil
		}
		c := f.HarnessConfig
		c.ApplyDefaults()
		return []HarnessConfig{c}
	}
	for _, s := range f.Servers {
		c := f.HarnessConfig.Merge(s)
		// Name is per server, never inherited
		c.Name = s.Name
		c.ApplyDefaults()
		out = append(out, c)
	}
	return out
}

// Load reads a configuration file. The format follows the extension:
// .yaml/.yml or .toml. Unknown fields are rejected in both formats.
// Relative server paths containing a directory are resolved against the
// file's directory.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&f); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("failed to parse TOML: unknown fields: %s", strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", ext)
	}

	base := filepath.Dir(path)
	f.ServerPath = resolvePath(base, f.ServerPath)
	for i := range f.Servers {
		f.Servers[i].ServerPath = resolvePath(base, f.Servers[i].ServerPath)
	}
	return &f, nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) || !strings.ContainsRune(p, '/') {
		return p
	}
	return filepath.Join(base, p)
}
