package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/notesync/internal/sync"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the notes directory and sync continuously",
		Long: `Run the auto-sync daemon: watch the notes directory for changes,
sync each changed note after the debounce window, and run a full sync
periodically per autosync.sync_interval. Stops on SIGINT/SIGTERM.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := shutdownContext(cmd.Context(), a.logger)

	notesDir := a.cfg.Sync.NotesDir
	if _, err := os.Stat(notesDir); err != nil {
		return fmt.Errorf("notes directory %s: %w", notesDir, err)
	}

	if _, err := a.queue.RecoverInProgress(ctx); err != nil {
		return err
	}

	a.auto.Enable(ctx)
	defer a.auto.Disable()

	a.auto.OnAppStart(ctx)

	watcher := sync.NewWatcher(notesDir, a.service, a.auto, a.logger)

	return watcher.Watch(ctx)
}
