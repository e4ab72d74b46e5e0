package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/cohost/internal/config"
)

func newSweepCmd() *cobra.Command {
	var (
		configPath string
		timeoutMs  int
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Demote stale active sessions to incomplete",
		Long: `Runs one heartbeat sweep. Active sessions whose last heartbeat is older
than the timeout become incomplete and can be resumed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd, configPath, timeoutMs)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "heartbeat timeout in ms (default heartbeat.timeout_ms)")
	return cmd
}

func runSweep(cmd *cobra.Command, configPath string, timeoutMs int) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	timeout := a.Monitor.Policy().Timeout
	if timeoutMs != 0 {
		timeout = time.Duration(config.ClampTimeoutMs(timeoutMs)) * time.Millisecond
	}
	ids, err := a.Monitor.SweepWith(context.Background(), timeout)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintf(out, "  %s -> incomplete\n", id)
	}
	fmt.Fprintf(out, "Swept %d session(s) (timeout %s)\n", len(ids), timeout)
	return nil
}
