package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/cohost/internal/models"
	"github.com/zulandar/cohost/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and finish recording sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionFinishCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(cmd, configPath, status)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, incomplete, completed)")
	return cmd
}

func runSessionList(cmd *cobra.Command, configPath, status string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.Ledger.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTITLE\tCREATED\tLAST HEARTBEAT")
	shown := 0
	for _, s := range sessions {
		if status != "" && s.Status != status {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Status, s.Title, formatTime(&s.CreatedAt), formatTime(s.LastHeartbeat))
		shown++
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d session(s)\n", shown)
	return nil
}

func newSessionShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its tracks and transcript size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	return cmd
}

func runSessionShow(cmd *cobra.Command, configPath, id string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Ledger.Get(id)
	if err != nil {
		return err
	}
	tracks, err := a.Audio.Tracks(id)
	if err != nil {
		return err
	}
	count, err := a.Transcript.Count(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session:   %s\n", s.ID)
	fmt.Fprintf(out, "Title:     %s\n", s.Title)
	fmt.Fprintf(out, "Status:    %s\n", s.Status)
	fmt.Fprintf(out, "Created:   %s\n", formatTime(&s.CreatedAt))
	fmt.Fprintf(out, "Heartbeat: %s\n", formatTime(s.LastHeartbeat))
	if s.CompletedAt != nil {
		fmt.Fprintf(out, "Completed: %s (%s)\n", formatTime(s.CompletedAt), s.CompletedAt.Sub(s.CreatedAt).Round(time.Second))
	}
	if settings, err := session.DecodeSettings(s.Settings); err == nil {
		fmt.Fprintf(out, "Model:     %s (voice %s)\n", settings.Model, settings.Voice)
	}
	fmt.Fprintf(out, "Messages:  %d\n\n", count)
	printTracks(cmd, tracks)
	return nil
}

func printTracks(cmd *cobra.Command, tracks []models.AudioFile) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SPEAKER\tSEGMENT\tSIZE\tDURATION\tFINALIZED\tPATH")
	for _, t := range tracks {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1fs\t%t\t%s\n", t.Speaker, t.SegmentNumber, t.Size, t.Duration, t.Finalized, t.FilePath)
	}
	w.Flush()
}

func newSessionFinishCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "finish <session-id>",
		Short: "Finalize a session's tracks and mark it completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionFinish(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	return cmd
}

func runSessionFinish(cmd *cobra.Command, configPath, id string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Audio.FinalizeAll(id)
	if err != nil {
		return err
	}
	s, err := a.Ledger.Finish(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s completed (%d track(s) finalized)\n", s.ID, n)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
