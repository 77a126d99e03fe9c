// Package strategy measures network quality, classifies a scenario,
// and retunes the transport, channel, and cache parameters bound to
// it.
package strategy

import "time"

// Scenario names a network-quality classification. Exactly one is
// active at a time.
type Scenario string

const (
	ScenarioDefault          Scenario = "default"
	ScenarioLocal            Scenario = "local"
	ScenarioLowBandwidth     Scenario = "low_bandwidth"
	ScenarioVeryLowBandwidth Scenario = "very_low_bandwidth"
	ScenarioHighLatency      Scenario = "high_latency"
	ScenarioVeryHighLatency  Scenario = "very_high_latency"
	ScenarioUnstable         Scenario = "unstable"
	ScenarioVeryUnstable     Scenario = "very_unstable"
	ScenarioProxyTransfer    Scenario = "proxy_transfer"
)

// Params is the parameter bundle bound to a scenario. Switching
// scenarios swaps the whole bundle atomically.
type Params struct {
	Compression        bool    `yaml:"compression"`
	PoolSize           int     `yaml:"poolSize"`
	ConnExpirySeconds  int     `yaml:"connExpirySeconds"`
	TimeoutSeconds     int     `yaml:"timeoutSeconds"`
	RetryCount         int     `yaml:"retryCount"`
	RetryDelaySeconds  float64 `yaml:"retryDelaySeconds"`
	BatchSize          int     `yaml:"batchSize"`
	CacheTTLSeconds    int     `yaml:"cacheTTLSeconds"`
	MinimalPayload     bool    `yaml:"minimalPayload"`
	ExponentialBackoff bool    `yaml:"exponentialBackoff"`
	ResumeOnFailure    bool    `yaml:"resumeOnFailure"`
}

// Timeout returns the call timeout as a duration.
func (p Params) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// RetryDelay returns the initial retry delay as a duration.
func (p Params) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelaySeconds * float64(time.Second))
}

// CacheTTL returns the result-cache TTL as a duration.
func (p Params) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLSeconds) * time.Second
}

// ConnExpiry returns the pooled-connection expiry as a duration.
func (p Params) ConnExpiry() time.Duration {
	return time.Duration(p.ConnExpirySeconds) * time.Second
}

// DefaultParams is the fallback bundle used before any classification
// succeeds and whenever classification fails.
func DefaultParams() Params {
	return Params{
		Compression:       true,
		PoolSize:          5,
		ConnExpirySeconds: 300,
		TimeoutSeconds:    60,
		RetryCount:        3,
		RetryDelaySeconds: 1,
		BatchSize:         5,
		CacheTTLSeconds:   60,
	}
}

// DefaultScenarios is the built-in scenario table. Values lean harder
// on compression, retries, and caching the worse the link gets.
func DefaultScenarios() map[Scenario]Params {
	return map[Scenario]Params{
		ScenarioLocal: {
			Compression:       false,
			PoolSize:          5,
			ConnExpirySeconds: 300,
			TimeoutSeconds:    60,
			RetryCount:        2,
			RetryDelaySeconds: 1,
			BatchSize:         10,
			CacheTTLSeconds:   30,
		},
		ScenarioLowBandwidth: {
			Compression:       true,
			PoolSize:          10,
			ConnExpirySeconds: 300,
			TimeoutSeconds:    120,
			RetryCount:        5,
			RetryDelaySeconds: 2,
			BatchSize:         3,
			CacheTTLSeconds:   120,
		},
		ScenarioVeryLowBandwidth: {
			Compression:       true,
			PoolSize:          12,
			ConnExpirySeconds: 300,
			TimeoutSeconds:    180,
			RetryCount:        8,
			RetryDelaySeconds: 3,
			BatchSize:         1,
			CacheTTLSeconds:   180,
			MinimalPayload:    true,
		},
		ScenarioHighLatency: {
			Compression:       true,
			PoolSize:          8,
			ConnExpirySeconds: 300,
			TimeoutSeconds:    180,
			RetryCount:        3,
			RetryDelaySeconds: 3,
			BatchSize:         2,
			CacheTTLSeconds:   180,
		},
		ScenarioVeryHighLatency: {
			Compression:       true,
			PoolSize:          6,
			ConnExpirySeconds: 300,
			TimeoutSeconds:    240,
			RetryCount:        5,
			RetryDelaySeconds: 5,
			BatchSize:         1,
			CacheTTLSeconds:   240,
		},
		ScenarioUnstable: {
			Compression:       true,
			PoolSize:          5,
			ConnExpirySeconds: 120,
			TimeoutSeconds:    240,
			RetryCount:        8,
			RetryDelaySeconds: 1,
			BatchSize:         1,
			CacheTTLSeconds:   60,
			ResumeOnFailure:   true,
		},
		ScenarioVeryUnstable: {
			Compression:        true,
			PoolSize:           3,
			ConnExpirySeconds:  120,
			TimeoutSeconds:     300,
			RetryCount:         10,
			RetryDelaySeconds:  2,
			BatchSize:          1,
			CacheTTLSeconds:    30,
			ResumeOnFailure:    true,
			ExponentialBackoff: true,
		},
		ScenarioProxyTransfer: {
			Compression:       true,
			PoolSize:          10,
			ConnExpirySeconds: 300,
			TimeoutSeconds:    150,
			RetryCount:        5,
			RetryDelaySeconds: 2,
			BatchSize:         4,
			CacheTTLSeconds:   90,
		},
	}
}
