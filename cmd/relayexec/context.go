package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	cliconfig "github.com/mkorolik/relayexec/internal/cli/config"
)

func newContextCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Manage named endpoint contexts in the config file",
	}
	cmd.AddCommand(newContextListCmd(root))
	cmd.AddCommand(newContextUseCmd(root))
	cmd.AddCommand(newContextSetCmd(root))
	return cmd
}

func newContextListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured contexts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil || len(cfg.Contexts) == 0 {
				fmt.Fprintln(os.Stdout, "no contexts configured")
				return nil
			}
			names := make([]string, 0, len(cfg.Contexts))
			for name := range cfg.Contexts {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CURRENT\tNAME\tSERVER\tPROXY\tDISGUISE")
			for _, name := range names {
				ctx := cfg.Contexts[name]
				marker := ""
				if name == cfg.CurrentContext {
					marker = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n", marker, name, ctx.Server, ctx.Proxy, ctx.Disguise)
			}
			return w.Flush()
		},
	}
}

func newContextUseCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Make a context the default for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				return fmt.Errorf("%w: %s", cliconfig.ErrContextNotFound, args[0])
			}
			if _, _, err := cfg.Resolve(args[0]); err != nil {
				return err
			}
			cfg.CurrentContext = args[0]
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "switched to context %q\n", args[0])
			return nil
		},
	}
}

func newContextSetCmd(root *rootOptions) *cobra.Command {
	var (
		server      string
		proxy       string
		passwordEnv string
		disguise    bool
		queueDir    string
		queueStore  string
		strategy    string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or update a context; only the given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cliconfig.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &cliconfig.Config{}
			}
			if cfg.Contexts == nil {
				cfg.Contexts = map[string]*cliconfig.Context{}
			}
			ctx, ok := cfg.Contexts[args[0]]
			if !ok {
				ctx = &cliconfig.Context{}
				cfg.Contexts[args[0]] = ctx
			}

			flags := cmd.Flags()
			if flags.Changed("server") {
				ctx.Server = server
			}
			if flags.Changed("proxy") {
				ctx.Proxy = proxy
			}
			if flags.Changed("password-env") {
				ctx.PasswordEnv = passwordEnv
			}
			if flags.Changed("disguise") {
				ctx.Disguise = disguise
			}
			if flags.Changed("queue-dir") {
				ctx.QueueDir = queueDir
			}
			if flags.Changed("queue-store") {
				ctx.QueueStore = queueStore
			}
			if flags.Changed("strategy-config") {
				ctx.StrategyConfig = strategy
			}
			if flags.Changed("timeout") {
				ctx.TimeoutSeconds = int(timeout / time.Second)
			}
			if ctx.Server == "" {
				return fmt.Errorf("context %q has no server: pass --server host:port", args[0])
			}
			if cfg.CurrentContext == "" {
				cfg.CurrentContext = args[0]
			}
			if err := cfg.Save(root.configPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "context %q saved\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "endpoint host:port")
	cmd.Flags().StringVar(&proxy, "proxy", "", "HTTP CONNECT proxy host:port")
	cmd.Flags().StringVar(&passwordEnv, "password-env", "", "environment variable holding the auth password")
	cmd.Flags().BoolVar(&disguise, "disguise", false, "shape the TLS handshake like browser traffic")
	cmd.Flags().StringVar(&queueDir, "queue-dir", "", "directory for durable queue state")
	cmd.Flags().StringVar(&queueStore, "queue-store", "", "queue backend: file or sqlite")
	cmd.Flags().StringVar(&strategy, "strategy-config", "", "path to the scenario parameter file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "default remote execution budget for this context")
	return cmd
}
