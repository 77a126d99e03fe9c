package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkorolik/relayexec/internal/queue"
)

func newEnqueueCmd(root *rootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "enqueue <target> <command>",
		Short: "Append a command to the durable work queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			done := make(chan queue.Item, 1)
			item := c.Enqueue(args[0], args[1], func(it queue.Item) { done <- it })
			fmt.Fprintf(os.Stdout, "enqueued %s (sequence %d)\n", item.ID, item.Sequence)
			if !wait {
				return nil
			}
			select {
			case it := <-done:
				printItemOutcome(it)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the item reaches a terminal state")
	return cmd
}

func newQueueCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the durable work queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()
			printItems(c.QueueItems())
			return nil
		},
	}
	cmd.AddCommand(newQueueStatusCmd(root))
	cmd.AddCommand(newQueueDrainCmd(root))
	return cmd
}

func newQueueStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-state item counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()
			s := c.QueueStatus()
			fmt.Fprintf(os.Stdout, "total %d: pending %d, processing %d, completed %d, failed %d\n",
				s.Total, s.Pending, s.Processing, s.Completed, s.Failed)
			return nil
		},
	}
}

func newQueueDrainCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run until every pending item has an outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			for {
				s := c.QueueStatus()
				if s.Pending+s.Processing == 0 {
					printItems(c.QueueItems())
					return nil
				}
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(200 * time.Millisecond):
				}
			}
		},
	}
}

func newCancelCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a still-pending queue item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()
			if !c.Cancel(args[0]) {
				return fmt.Errorf("item %s is not pending (already dispatched, finished, or unknown)", args[0])
			}
			fmt.Fprintf(os.Stdout, "cancelled %s\n", args[0])
			return nil
		},
	}
}

func printItems(items []queue.Item) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tSTATUS\tTARGET\tCOMMAND\tENQUEUED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			it.Sequence, it.ID, it.Status, it.Target, it.Command,
			it.EnqueuedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func printItemOutcome(it queue.Item) {
	if it.Status == queue.StatusFailed {
		fmt.Fprintf(os.Stdout, "%s failed: %s\n", it.ID, it.Error)
		return
	}
	fmt.Fprintf(os.Stdout, "%s completed:\n%s\n", it.ID, it.Result)
}
