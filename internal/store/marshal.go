package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/mcpcheck/internal/config"
	"github.com/roach88/mcpcheck/internal/jsonrpc"
)

// timeLayout is used for started_at. Fixed width so TEXT sorts correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalConfig converts a HarnessConfig to canonical JSON TEXT for storage.
// Canonical key order keeps identical configs byte-identical.
func marshalConfig(cfg config.HarnessConfig) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	canon, err := jsonrpc.Canonical(data)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(canon), nil
}

// unmarshalConfig parses config TEXT. Rows written without a config hold "{}".
func unmarshalConfig(data string) (config.HarnessConfig, error) {
	var cfg config.HarnessConfig
	if data == "" || data == "{}" {
		return cfg, nil
	}
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return config.HarnessConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse started_at %q: %w", s, err)
	}
	return t, nil
}
