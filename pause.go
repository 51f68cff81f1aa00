package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause syncing",
		Long: `Pause all syncing. An optional duration argument (e.g. "2h", "30m")
schedules automatic resume after the interval; without one, syncing
stays paused until 'notesync resume'.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPause,
	}
}

func runPause(cmd *cobra.Command, args []string) error {
	var d time.Duration

	if len(args) == 1 {
		parsed, err := time.ParseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		d = parsed
	}

	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.Pause(cmd.Context(), d); err != nil {
		return err
	}

	if d > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Paused for %s.\n", d)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "Paused until resumed.")
	}

	return nil
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume syncing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.Resume(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Resumed.")

			return nil
		},
	}
}
