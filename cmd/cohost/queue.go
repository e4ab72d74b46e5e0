package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/cohost/internal/app"
	"github.com/zulandar/cohost/internal/config"
	"github.com/zulandar/cohost/internal/queue"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the offline transcript queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueSendCmd())
	cmd.AddCommand(newQueueRetryCmd())
	return cmd
}

func newQueueListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued transcript messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	return cmd
}

func runQueueList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	q, closeQueue, err := app.OpenQueue(ctx, cfg, nil, false)
	if err != nil {
		return err
	}
	defer closeQueue()

	entries, err := q.Pending(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSPEAKER\tTS_MS\tQUEUED\tTEXT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", e.SessionID, e.Speaker, e.TsMs, formatTime(&e.QueuedAt), truncate(e.Text, 60))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d queued message(s) in %s backend\n", len(entries), cfg.Queue.Backend)
	return nil
}

func newQueueRetryCmd() *cobra.Command {
	var (
		configPath string
		local      bool
	)

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Replay queued messages in order",
		Long: `Sends queued messages oldest first and stops at the first failure.
By default messages go to queue.server_url. With --local they are written
straight into the configured database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueRetry(cmd, configPath, local)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	cmd.Flags().BoolVar(&local, "local", false, "write to the database instead of the API server")
	return cmd
}

func runQueueRetry(cmd *cobra.Command, configPath string, local bool) error {
	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, configPath, local)
	if err != nil {
		return err
	}
	defer closeQueue()

	res, err := q.RetryAll(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sent %d, skipped %d already stored, %d remaining\n", res.Sent, res.Dropped, res.Remaining)
	if res.Err != nil {
		return fmt.Errorf("replay stopped: %w", res.Err)
	}
	return nil
}

func newQueueSendCmd() *cobra.Command {
	var (
		configPath string
		local      bool
		entry      queue.Entry
	)

	cmd := &cobra.Command{
		Use:   "send <session-id>",
		Short: "Append a transcript message, queueing it if delivery fails",
		Long: `Sends one transcript message. When the target is unreachable, or older
messages are still queued, the message is queued and delivered by
"cohost queue retry" in order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry.SessionID = args[0]
			return runQueueSend(cmd, configPath, local, entry)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	cmd.Flags().BoolVar(&local, "local", false, "write to the database instead of the API server")
	cmd.Flags().StringVar(&entry.Speaker, "speaker", "", "speaker role (human, ai)")
	cmd.Flags().StringVar(&entry.Text, "text", "", "message text")
	cmd.Flags().Int64Var(&entry.TsMs, "ts-ms", 0, "offset from session start in ms")
	cmd.MarkFlagRequired("speaker")
	cmd.MarkFlagRequired("text")
	return cmd
}

func runQueueSend(cmd *cobra.Command, configPath string, local bool, e queue.Entry) error {
	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, configPath, local)
	if err != nil {
		return err
	}
	defer closeQueue()

	delivered, err := q.Submit(ctx, e)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if delivered {
		fmt.Fprintf(out, "Sent message at %dms to session %s\n", e.TsMs, e.SessionID)
		return nil
	}
	n, err := q.Len(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Queued message at %dms (%d pending); run \"cohost queue retry\" to deliver\n", e.TsMs, n)
	return nil
}

// openQueue opens the configured queue. With local set, deliveries go to the
// database through a composed App instead of the API server.
func openQueue(ctx context.Context, configPath string, local bool) (*queue.Queue, func(), error) {
	if !local {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		return app.OpenQueue(ctx, cfg, nil, false)
	}

	a, err := openApp(configPath)
	if err != nil {
		return nil, nil, err
	}
	q, closeQueue, err := app.OpenQueue(ctx, a.Config, a.Transcript, true)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return q, func() {
		closeQueue()
		a.Close()
	}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
