package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/cohost/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var (
		configPath     string
		legacySpeakers bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the cohost tables",
		Long: `Migrates the sessions, audio_files and messages tables.
With --legacy-speakers, rows recorded under the old host names are
rewritten to the human and ai roles.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath, legacySpeakers)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to cohost config file")
	cmd.Flags().BoolVar(&legacySpeakers, "legacy-speakers", false, "rewrite legacy speaker names to human/ai")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string, legacySpeakers bool) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if legacySpeakers {
		report, err := db.MigrateLegacySpeakers(gormDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Rewrote legacy speakers: %d audio files, %d messages\n", report.AudioFiles, report.Messages)
	}
	return nil
}
