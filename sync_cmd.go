package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/notesync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [path]",
		Short: "Run a sync pass",
		Long: `Run a full synchronization pass: diff the local cache against the
remote bucket, queue the resulting operations, and drain the queue.
With a path argument, only that note is synchronized.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = shutdownContext(ctx, a.logger)

	var result *sync.BatchResult

	if len(args) == 1 {
		result, err = a.service.SyncFile(ctx, args[0])
	} else {
		if _, err := a.queue.RecoverInProgress(ctx); err != nil {
			return err
		}

		result, err = a.service.FullSync(ctx)
	}

	if err != nil {
		return err
	}

	printBatchResult(cmd, result)

	return nil
}

func printBatchResult(cmd *cobra.Command, res *sync.BatchResult) {
	if flagQuiet {
		return
	}

	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Synced %d, failed %d, conflicts %d in %s\n",
		len(res.SuccessfulKeys), len(res.ErrorsByKey), len(res.Conflicts), res.Duration.Round(timePrecision))

	succeeded := append([]string(nil), res.SuccessfulKeys...)
	sort.Strings(succeeded)

	for _, path := range succeeded {
		fmt.Fprintf(out, "  ok       %s\n", path)
	}

	failedPaths := make([]string, 0, len(res.ErrorsByKey))
	for path := range res.ErrorsByKey {
		failedPaths = append(failedPaths, path)
	}

	sort.Strings(failedPaths)

	for _, path := range failedPaths {
		fmt.Fprintf(out, "  failed   %s: %s\n", path, res.ErrorsByKey[path])
	}

	for _, conflict := range res.Conflicts {
		fmt.Fprintf(out, "  conflict %s (%s, %s severity)\n", conflict.Path, conflict.Type, conflict.Severity)
	}
}
