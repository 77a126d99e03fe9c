package config

import (
	"os"
	"path/filepath"
)

func DefaultConfigDir() string {
	if v := os.Getenv("RELAYEXEC_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".relayexec")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config")
}

func DefaultQueueDir() string {
	return filepath.Join(DefaultConfigDir(), "queue")
}

func DefaultStrategyPath() string {
	return filepath.Join(DefaultConfigDir(), "strategy.yaml")
}
