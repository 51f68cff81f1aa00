package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/notesync/internal/sync"
)

var flagPreview bool

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <path> <resolution>",
		Short: "Resolve a conflict",
		Long: `Resolve the conflict on a note with one of the strategies:

  keep_local   upload the local version, overwriting remote
  keep_remote  overwrite the local cache with the remote version
  merge        combine both versions between <<<<<<< LOCAL / >>>>>>> REMOTE markers
  create_both  keep both versions under <path>_local and <path>_remote

Local content is backed up before any destructive strategy.`,
		Args: cobra.ExactArgs(2),
		RunE: runResolve,
	}

	cmd.Flags().BoolVar(&flagPreview, "preview", false, "show the resulting content without applying")

	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	path, resolution := args[0], sync.Resolution(args[1])

	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	detection, err := a.detector.DetectFileConflict(ctx, path)
	if err != nil {
		return err
	}

	if detection == nil {
		return fmt.Errorf("no conflict on %s: local and remote agree", path)
	}

	out := cmd.OutOrStdout()

	if flagPreview {
		preview := a.resolver.PreviewResolution(detection.Conflict, resolution)
		if !preview.Success {
			return preview.Err
		}

		if len(preview.CreatedFiles) > 0 {
			fmt.Fprintf(out, "Would create: %v\n", preview.CreatedFiles)
			return nil
		}

		out.Write(preview.ResultContent)

		return nil
	}

	a.manager.Report(*detection)

	result, err := a.manager.Resolve(ctx, path, resolution)
	if err != nil {
		return err
	}

	if len(result.CreatedFiles) > 0 {
		fmt.Fprintf(out, "Resolved %s with %s, created %v\n", path, resolution, result.CreatedFiles)
	} else {
		fmt.Fprintf(out, "Resolved %s with %s\n", path, resolution)
	}

	return nil
}
