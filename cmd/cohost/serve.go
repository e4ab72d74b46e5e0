package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/cohost/internal/server"
	"github.com/zulandar/cohost/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		accessLog  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recording API server",
		Long: `Starts the HTTP API for sessions, audio tracks, transcript and resume.
When heartbeat.sweep_schedule is set, stale sessions are demoted to
incomplete on that schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, accessLog)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&accessLog, "access-log", false, "log every HTTP request")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, accessLog bool) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if port == 0 {
		port = a.Config.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	var wg sync.WaitGroup
	if schedule := a.Config.Heartbeat.SweepSchedule; schedule != "" {
		sc, err := sweeper.New(schedule, a.Monitor)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sc.Run(ctx)
		}()
		fmt.Fprintf(out, "Heartbeat sweep scheduled %q (timeout %s)\n", schedule, a.Monitor.Policy().Timeout)
	}

	err = server.Start(ctx, server.StartOpts{
		Deps:      a.ServerDeps(),
		Port:      port,
		Out:       out,
		AccessLog: accessLog,
	})
	cancel()
	wg.Wait()
	return err
}
