package strategy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the operator-editable scenario file merged over built-in
// defaults. Keys the current version does not know about survive a
// load/save round trip untouched.
type Config struct {
	DetectionInterval time.Duration
	HistorySize       int
	Scenarios         map[Scenario]Params
	Default           Params

	// raw holds the file as decoded, so unknown keys are preserved on
	// Save.
	raw map[string]any
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		DetectionInterval: 30 * time.Second,
		HistorySize:       50,
		Scenarios:         DefaultScenarios(),
		Default:           DefaultParams(),
		raw:               map[string]any{},
	}
}

// LoadConfig reads the scenario file and merges it over defaults:
// present keys override, missing keys default, unknown keys are kept
// for Save. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	cfg.raw = raw

	if v, ok := asFloat(raw["detectionIntervalSeconds"]); ok && v > 0 {
		cfg.DetectionInterval = time.Duration(v * float64(time.Second))
	}
	if v, ok := asFloat(raw["historySize"]); ok && int(v) > 0 {
		cfg.HistorySize = int(v)
	}
	if m, ok := raw["default"].(map[string]any); ok {
		cfg.Default = overlayParams(cfg.Default, m)
	}
	if scenarios, ok := raw["scenarios"].(map[string]any); ok {
		for name, v := range scenarios {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			base, known := cfg.Scenarios[Scenario(name)]
			if !known {
				base = cfg.Default
			}
			cfg.Scenarios[Scenario(name)] = overlayParams(base, m)
		}
	}
	return cfg, nil
}

// Save writes the config back, folding current values into whatever
// else the file contained.
func (c *Config) Save(path string) error {
	if path == "" {
		return fmt.Errorf("strategy config path is required")
	}
	raw := c.raw
	if raw == nil {
		raw = map[string]any{}
	}
	raw["detectionIntervalSeconds"] = int(c.DetectionInterval / time.Second)
	raw["historySize"] = c.HistorySize
	raw["default"] = foldParams(raw["default"], c.Default)

	scenarios, _ := raw["scenarios"].(map[string]any)
	if scenarios == nil {
		scenarios = map[string]any{}
	}
	for name, params := range c.Scenarios {
		scenarios[string(name)] = foldParams(scenarios[string(name)], params)
	}
	raw["scenarios"] = scenarios

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal strategy config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ParamsFor resolves the bundle for a scenario, falling back to the
// default bundle for unknown or failed classifications.
func (c *Config) ParamsFor(sc Scenario) Params {
	if p, ok := c.Scenarios[sc]; ok {
		return p
	}
	return c.Default
}

// overlayParams applies the keys present in m over base; absent keys
// keep their base value.
func overlayParams(base Params, m map[string]any) Params {
	if v, ok := m["compression"].(bool); ok {
		base.Compression = v
	}
	if v, ok := asFloat(m["poolSize"]); ok {
		base.PoolSize = int(v)
	}
	if v, ok := asFloat(m["connExpirySeconds"]); ok {
		base.ConnExpirySeconds = int(v)
	}
	if v, ok := asFloat(m["timeoutSeconds"]); ok {
		base.TimeoutSeconds = int(v)
	}
	if v, ok := asFloat(m["retryCount"]); ok {
		base.RetryCount = int(v)
	}
	if v, ok := asFloat(m["retryDelaySeconds"]); ok {
		base.RetryDelaySeconds = v
	}
	if v, ok := asFloat(m["batchSize"]); ok {
		base.BatchSize = int(v)
	}
	if v, ok := asFloat(m["cacheTTLSeconds"]); ok {
		base.CacheTTLSeconds = int(v)
	}
	if v, ok := m["minimalPayload"].(bool); ok {
		base.MinimalPayload = v
	}
	if v, ok := m["exponentialBackoff"].(bool); ok {
		base.ExponentialBackoff = v
	}
	if v, ok := m["resumeOnFailure"].(bool); ok {
		base.ResumeOnFailure = v
	}
	return base
}

// foldParams writes the known keys into the existing map for the
// entry, preserving any unknown keys alongside them.
func foldParams(existing any, p Params) map[string]any {
	m, _ := existing.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	m["compression"] = p.Compression
	m["poolSize"] = p.PoolSize
	m["connExpirySeconds"] = p.ConnExpirySeconds
	m["timeoutSeconds"] = p.TimeoutSeconds
	m["retryCount"] = p.RetryCount
	m["retryDelaySeconds"] = p.RetryDelaySeconds
	m["batchSize"] = p.BatchSize
	m["cacheTTLSeconds"] = p.CacheTTLSeconds
	m["minimalPayload"] = p.MinimalPayload
	m["exponentialBackoff"] = p.ExponentialBackoff
	m["resumeOnFailure"] = p.ResumeOnFailure
	return m
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
