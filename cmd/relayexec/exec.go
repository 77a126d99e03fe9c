package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkorolik/relayexec/internal/client"
)

func newExecCmd(root *rootOptions) *cobra.Command {
	var (
		noCache         bool
		waitRestart     bool
		restartInterval time.Duration
		restartMaxWait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "exec <target> <command>",
		Short: "Run a command on a target and print its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			out, err := c.Execute(cmd.Context(), args[0], args[1], client.ExecOptions{
				Timeout:              root.timeout,
				UseCache:             !noCache,
				WaitForRestart:       waitRestart,
				RestartCheckInterval: restartInterval,
				RestartMaxWait:       restartMaxWait,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the result cache (use for mutating commands)")
	cmd.Flags().BoolVar(&waitRestart, "wait-restart", false, "after dispatch, poll until the endpoint answers again")
	cmd.Flags().DurationVar(&restartInterval, "restart-interval", 0, "probe interval while waiting for restart")
	cmd.Flags().DurationVar(&restartMaxWait, "restart-max-wait", 0, "give up waiting for restart after this long")
	return cmd
}

func newBatchCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <target> <command>...",
		Short: "Run several commands serially on one target",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			results, err := c.ExecuteBatch(cmd.Context(), args[0], args[1:], root.timeout)
			for _, command := range args[1:] {
				out, ok := results[command]
				if !ok {
					continue
				}
				fmt.Fprintf(os.Stdout, "$ %s\n%s\n", command, out)
			}
			return err
		},
	}
	return cmd
}
