package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/peterbourgon/ff/v4"

	"github.com/tchaudhry91/shellhist/internal/history"
)

const watchDebounce = 300 * time.Millisecond

func (a *app) watchCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("watch").SetParent(parent)
	return &ff.Command{
		Name:      "watch",
		Usage:     "shellhist watch",
		ShortHelp: "Print commands as other sessions save them, until interrupted",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			return runWatch(ctx, a.openHistory(), a.stdout)
		},
	}
}

// runWatch merges external changes whenever the history file changes and prints the
// commands that became visible.
func runWatch(ctx context.Context, h *history.History, w io.Writer) error {
	path, err := h.Path()
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("private sessions have no history file to watch")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	// The file is replaced on rewrite, so watch its directory.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	h.IncorporateExternalChanges()
	known := h.GetHistory()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("history watcher error", "err", err)
		case <-timer.C:
			h.IncorporateExternalChanges()
			current := h.GetHistory()
			for _, text := range newlyVisible(known, current) {
				fmt.Fprintln(w, text)
			}
			known = current
		}
	}
}

// newlyVisible returns the texts of current absent from before, oldest first. Both lists
// are most recent first.
func newlyVisible(before, current []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, text := range before {
		seen[text] = struct{}{}
	}
	var added []string
	for i := len(current) - 1; i >= 0; i-- {
		if _, ok := seen[current[i]]; !ok {
			added = append(added, current[i])
		}
	}
	return added
}
