package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state, statistics, and queue counts",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.service.GetSyncInfo(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	state := "idle"
	if info.Syncing {
		state = "syncing"
	}

	if info.Paused {
		state = "paused"
	}

	fmt.Fprintf(out, "State:        %s\n", state)
	fmt.Fprintf(out, "Last sync:    %s\n", formatNano(info.Stats.LastSyncAt))
	fmt.Fprintf(out, "Total syncs:  %d (%.0f%% success)\n",
		info.Stats.TotalSyncs, info.Stats.SuccessRate()*100)

	if info.Stats.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s\n", info.Stats.LastError)
	}

	fmt.Fprintf(out, "Queue:        %d pending, %d in progress, %d failed (%d total)\n",
		info.QueueStats.Pending, info.QueueStats.InProgress,
		info.QueueStats.Failed, info.QueueStats.Total())

	return nil
}
