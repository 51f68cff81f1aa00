package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "Scan for conflicts and list unresolved ones",
		Long: `Scan every note for divergence between the local cache and the remote
bucket, then list the conflicts that need a resolution. Low-severity
conflicts are resolved automatically when sync.auto_resolve is set.`,
		RunE: runConflicts,
	}
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.manager.CheckForConflicts(shutdownContext(ctx, a.logger))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if len(pending) == 0 {
		fmt.Fprintln(out, "No conflicts.")
		return nil
	}

	rows := make([][]string, 0, len(pending))

	for _, res := range pending {
		suggestions := a.detector.SuggestedResolutions(res.Type)

		names := make([]string, len(suggestions))
		for i, s := range suggestions {
			names[i] = string(s)
		}

		rows = append(rows, []string{
			res.Path,
			string(res.Type),
			string(res.Severity),
			strings.Join(names, ", "),
		})
	}

	printTable(out, []string{"PATH", "TYPE", "SEVERITY", "RESOLUTIONS"}, rows)
	fmt.Fprintf(out, "\n%d conflict(s). Resolve with 'notesync resolve <path> <resolution>'.\n", len(pending))

	return nil
}
