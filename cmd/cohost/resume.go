package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Inspect and resume incomplete sessions",
	}

	cmd.AddCommand(newResumeStatusCmd())
	cmd.AddCommand(newResumeOpenCmd())
	return cmd
}

func newResumeStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show whether a session can resume and what it would re-seed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResumeStatus(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	return cmd
}

func runResumeStatus(cmd *cobra.Command, configPath, id string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	ok, reason := a.Planner.CanResume(id)
	if !ok {
		fmt.Fprintf(out, "Session %s cannot resume: %s\n", id, reason)
		return nil
	}

	segment, err := a.Planner.ComputeNextSegment(id)
	if err != nil {
		return err
	}
	rc, err := a.Planner.GetResumeContext(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s can resume at segment %d\n", id, segment)
	fmt.Fprintf(out, "History: %d turn(s)\n", len(rc.ConversationHistory))
	if rc.ContextSummary != "" {
		fmt.Fprintf(out, "\n%s\n", rc.ContextSummary)
	}
	return nil
}

func newResumeOpenCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "open <session-id>",
		Short: "Finalize prior segments and open the next one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResumeOpen(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	return cmd
}

func runResumeOpen(cmd *cobra.Command, configPath, id string) error {
	a, err := openApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.Planner.Resume(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s resumed at segment %d (%d turn(s) of history)\n\n",
		plan.SessionID, plan.Segment, len(plan.Context.ConversationHistory))
	printTracks(cmd, plan.Tracks)
	return nil
}
