package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newNetCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "net",
		Short: "Measure the link and show the active scenario",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			status := c.SampleNow(cmd.Context())
			fmt.Fprintf(os.Stdout, "scenario: %s\n", status.Scenario)
			if !status.Known {
				fmt.Fprintln(os.Stdout, "no successful measurement yet")
				return nil
			}
			verdict := "unstable"
			if status.Stable {
				verdict = "stable"
			}
			fmt.Fprintf(os.Stdout, "link: %s (latency %.1f ms, bandwidth %.3f MB/s)\n",
				verdict, status.LatencyMs, status.BandwidthMBs)
			return nil
		},
	}
	cmd.AddCommand(newNetTrendCmd(root))
	return cmd
}

func newNetTrendCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trend",
		Short: "Show retained measurements, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()

			c.SampleNow(cmd.Context())
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tLATENCY_MS\tBANDWIDTH_MBS")
			for _, s := range c.NetworkTrend() {
				fmt.Fprintf(tw, "%s\t%.1f\t%.3f\n", s.Timestamp.Format(time.TimeOnly), s.LatencyMs, s.BandwidthMBs)
			}
			return tw.Flush()
		},
	}
}

func newServerCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Query endpoint metadata",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Print the endpoint's initialize metadata",
		RunE: func(c2 *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()
			out, err := c.ServerInfo(c2.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, out)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "Print the endpoint's tool listing",
		RunE: func(c2 *cobra.Command, _ []string) error {
			c, err := root.newClient()
			if err != nil {
				return err
			}
			defer c.Shutdown()
			out, err := c.ListTools(c2.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, out)
			return nil
		},
	})
	return cmd
}
