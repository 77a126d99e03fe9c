package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mkorolik/relayexec/internal/transport"
)

// Config models a kubeconfig-style file with named endpoint contexts.
type Config struct {
	CurrentContext string              `yaml:"currentContext"`
	Contexts       map[string]*Context `yaml:"contexts"`
}

// Context encodes connection and persistence details for one endpoint.
type Context struct {
	// Server is the remote endpoint as host:port.
	Server string `yaml:"server"`

	// Proxy, when set (host:port), tunnels the connection through an
	// HTTP CONNECT proxy.
	Proxy string `yaml:"proxy,omitempty"`

	// PasswordEnv names the environment variable holding the auth
	// password. The password itself never lives in the file.
	PasswordEnv string `yaml:"passwordEnv,omitempty"`

	// Disguise shapes the TLS handshake like browser traffic.
	Disguise bool `yaml:"disguise"`

	// QueueDir holds durable queue state; QueueStore selects the
	// backend ("file" or "sqlite", default file).
	QueueDir   string `yaml:"queueDir,omitempty"`
	QueueStore string `yaml:"queueStore,omitempty"`

	// StrategyConfig points at the scenario parameter file.
	StrategyConfig string `yaml:"strategyConfig,omitempty"`

	TimeoutSeconds int `yaml:"timeoutSeconds,omitempty"`
}

// ErrContextNotFound indicates the requested context is missing.
var ErrContextNotFound = errors.New("context not found")

// Load decodes the config file. Missing files return (nil, nil).
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to disk, creating parent directories if needed.
func (c *Config) Save(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(expanded, data, 0o600); err != nil {
		return err
	}
	return nil
}

// Resolve picks a context either by explicit name or the currentContext value.
func (c *Config) Resolve(name string) (*Context, string, error) {
	if c == nil {
		return nil, "", nil
	}
	ctxName := strings.TrimSpace(name)
	if ctxName == "" {
		ctxName = c.CurrentContext
	}
	if ctxName == "" {
		return nil, "", nil
	}
	ctx, ok := c.Contexts[ctxName]
	if !ok {
		return nil, ctxName, fmt.Errorf("%w: %s", ErrContextNotFound, ctxName)
	}
	return ctx, ctxName, nil
}

// Endpoint translates the context's address fields into a dialable
// endpoint description.
func (c *Context) Endpoint() (transport.Endpoint, error) {
	host, port, err := splitHostPort(c.Server)
	if err != nil {
		return transport.Endpoint{}, fmt.Errorf("server address: %w", err)
	}
	ep := transport.Endpoint{Host: host, Port: port, UseDisguise: c.Disguise}
	if strings.TrimSpace(c.Proxy) != "" {
		phost, pport, err := splitHostPort(c.Proxy)
		if err != nil {
			return transport.Endpoint{}, fmt.Errorf("proxy address: %w", err)
		}
		ep.Proxy = &transport.Proxy{Host: phost, Port: pport}
	}
	return ep, nil
}

// Password reads the auth password from the configured environment
// variable, falling back to RELAYEXEC_PASSWORD.
func (c *Context) Password() string {
	if c.PasswordEnv != "" {
		return os.Getenv(c.PasswordEnv)
	}
	return os.Getenv("RELAYEXEC_PASSWORD")
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
