package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cliconfig "github.com/mkorolik/relayexec/internal/cli/config"
	"github.com/mkorolik/relayexec/internal/client"
	"github.com/mkorolik/relayexec/internal/queue"
	"github.com/mkorolik/relayexec/internal/transport"
)

type rootOptions struct {
	configPath  string
	contextName string
	server      string
	proxy       string
	disguise    bool
	queueDir    string
	queueStore  string
	strategy    string
	timeout     time.Duration
	logJSON     bool
	verbose     bool

	endpoint transport.Endpoint
	password string
	logger   *slog.Logger
}

// prepare resolves connection settings in precedence order: flags,
// then the config context, then environment, then defaults.
func (r *rootOptions) prepare() error {
	_ = godotenv.Load()

	cfg, err := cliconfig.Load(r.configPath)
	if err != nil {
		return err
	}
	ctx, _, err := cfg.Resolve(r.contextName)
	if err != nil {
		return err
	}

	if ctx != nil {
		if r.server == "" {
			r.server = ctx.Server
		}
		if r.proxy == "" {
			r.proxy = ctx.Proxy
		}
		if !r.disguise {
			r.disguise = ctx.Disguise
		}
		if r.queueDir == "" {
			r.queueDir = ctx.QueueDir
		}
		if r.queueStore == "" {
			r.queueStore = ctx.QueueStore
		}
		if r.strategy == "" {
			r.strategy = ctx.StrategyConfig
		}
		if r.timeout == 0 && ctx.TimeoutSeconds > 0 {
			r.timeout = time.Duration(ctx.TimeoutSeconds) * time.Second
		}
		r.password = ctx.Password()
	} else {
		r.password = os.Getenv("RELAYEXEC_PASSWORD")
	}

	if r.server == "" {
		return fmt.Errorf("no server configured: pass --server or set one in %s", r.configPath)
	}
	if r.queueDir == "" {
		r.queueDir = cliconfig.DefaultQueueDir()
	}
	if r.strategy == "" {
		r.strategy = cliconfig.DefaultStrategyPath()
	}

	resolved := &cliconfig.Context{Server: r.server, Proxy: r.proxy, Disguise: r.disguise}
	r.endpoint, err = resolved.Endpoint()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if r.verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if r.logJSON {
		r.logger = slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	} else {
		r.logger = slog.New(slog.NewTextHandler(os.Stderr, hopts))
	}
	return nil
}

// newClient opens the queue store and builds a running client. The
// caller owns Shutdown.
func (r *rootOptions) newClient() (*client.Client, error) {
	var store queue.Store
	var err error
	switch strings.ToLower(strings.TrimSpace(r.queueStore)) {
	case "", "file":
		store, err = queue.NewFileStore(r.queueDir)
	case "sqlite":
		store, err = queue.OpenSQLiteStore(r.queueDir)
	default:
		return nil, fmt.Errorf("unknown queue store %q (want file or sqlite)", r.queueStore)
	}
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	c, err := client.New(client.Options{
		Endpoint:       r.endpoint,
		Password:       r.password,
		Store:          store,
		StrategyConfig: r.strategy,
		Logger:         r.logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return c, nil
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "relayexec",
		Short: "Remote command execution over disguised pooled connections",
	}
	defaultConfig := os.Getenv("RELAYEXEC_CONFIG")
	if defaultConfig == "" {
		defaultConfig = cliconfig.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to relayexec config file (default $HOME/.relayexec/config)")
	rootCmd.PersistentFlags().StringVar(&opts.contextName, "context", "", "context name within the config (overrides currentContext)")
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "", "endpoint host:port (overrides config)")
	rootCmd.PersistentFlags().StringVar(&opts.proxy, "proxy", "", "HTTP CONNECT proxy host:port")
	rootCmd.PersistentFlags().BoolVar(&opts.disguise, "disguise", false, "shape the TLS handshake like browser traffic")
	rootCmd.PersistentFlags().StringVar(&opts.queueDir, "queue-dir", "", "directory for durable queue state")
	rootCmd.PersistentFlags().StringVar(&opts.queueStore, "queue-store", "", "queue backend: file or sqlite")
	rootCmd.PersistentFlags().StringVar(&opts.strategy, "strategy-config", "", "path to the scenario parameter file")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "remote execution budget (overrides the context's timeoutSeconds)")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs instead of text")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		// Context management only edits the config file; it must work
		// before any server is reachable or even configured.
		for c := cmd; c != nil; c = c.Parent() {
			if c.Name() == "context" {
				return nil
			}
		}
		return opts.prepare()
	}

	rootCmd.AddCommand(newContextCmd(opts))
	rootCmd.AddCommand(newExecCmd(opts))
	rootCmd.AddCommand(newBatchCmd(opts))
	rootCmd.AddCommand(newEnqueueCmd(opts))
	rootCmd.AddCommand(newQueueCmd(opts))
	rootCmd.AddCommand(newCancelCmd(opts))
	rootCmd.AddCommand(newNetCmd(opts))
	rootCmd.AddCommand(newServerCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
