package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/tchaudhry91/shellhist/internal/history"
	"github.com/tchaudhry91/shellhist/internal/shell"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app carries the root flags and the streams every subcommand writes to.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer
	vars           shell.Vars

	session  *string
	private  *bool
	dataDir  *string
	dbPath   *string
	logLevel *string

	hist *history.History
}

// openHistory returns the History for the selected session, creating it on first use.
func (a *app) openHistory() *history.History {
	if a.hist != nil {
		return a.hist
	}
	if *a.private || history.InPrivateMode(a.vars) {
		history.StartPrivateMode(a.vars)
		*a.session = ""
	}
	name := *a.session
	if name != "" {
		name = history.SessionID(shell.Vars{history.SessionEnv: name})
	}

	// Each invocation is a session of its own; round up so it sees commands that earlier
	// invocations stamped within the current second.
	opts := []history.Option{history.WithBoundary(time.Now().Truncate(time.Second).Add(time.Second))}
	if *a.dataDir != "" {
		opts = append(opts, history.WithDataDir(*a.dataDir))
	}
	a.hist = history.New(name, opts...)
	return a.hist
}

// indexPath returns --db, defaulting to a file next to the history files.
func (a *app) indexPath() (string, error) {
	if *a.dbPath != "" {
		return *a.dbPath, nil
	}
	dir := *a.dataDir
	if dir == "" {
		var err error
		if dir, err = history.DefaultDataDir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "index.db"), nil
}

// finish lets background detection settle and flushes anything unwritten.
func (a *app) finish() {
	if a.hist == nil {
		return
	}
	a.hist.Wait()
	a.hist.Save()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		vars:   shell.Current(),
	}

	// Root flags (common to all subcommands)
	rootFlags := ff.NewFlagSet("shellhist")
	a.session = rootFlags.StringLong("session", history.SessionID(a.vars), "history session name (empty for private mode)")
	a.private = rootFlags.BoolLong("private", "private mode: nothing is written to disk")
	a.dataDir = rootFlags.StringLong("data-dir", "", "directory holding history files")
	a.dbPath = rootFlags.StringLong("db", "", "SQLite index path (default: DATA_DIR/index.db)")
	a.logLevel = rootFlags.StringLong("log-level", "warn", "log level: debug, info, warn, error")
	_ = rootFlags.StringLong("config", defaultConfigPath(), "YAML config file")

	rootCmd := &ff.Command{
		Name:  "shellhist",
		Usage: "shellhist [FLAGS] SUBCOMMAND ...",
		ShortHelp: "Shared command history for interactive shells. " +
			"Many shells append to one history file per session, " +
			"which is periodically compacted and can be searched, imported, exported and indexed.",
		Flags: rootFlags,
		Subcommands: []*ff.Command{
			a.addCommand(rootFlags),
			a.searchCommand(rootFlags),
			a.listCommand(rootFlags),
			a.deleteCommand(rootFlags),
			a.clearCommand(rootFlags),
			a.simpleCommand(rootFlags, "clear-session", "Forget this session's commands, keeping other sessions' history", runClearSession),
			a.simpleCommand(rootFlags, "merge", "Make commands saved by other sessions visible", runMerge),
			a.simpleCommand(rootFlags, "save", "Write unsaved commands to the history file", runSave),
			a.simpleCommand(rootFlags, "vacuum", "Rewrite the history file without duplicates and deleted commands", runVacuum),
			a.importCommand(rootFlags),
			a.simpleCommand(rootFlags, "migrate", "Move a history file from the old config location", runMigrate),
			a.exportCommand(rootFlags),
			a.watchCommand(rootFlags),
			a.indexCommand(rootFlags),
			a.ftsCommand(rootFlags),
			a.wizardCommand(rootFlags),
		},
	}

	if err := rootCmd.Parse(args,
		ff.WithEnvVarPrefix("SHELLHIST"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(parseYAMLConfig),
		ff.WithConfigAllowMissingFile(),
		ff.WithConfigIgnoreUndefinedFlags(),
	); err != nil {
		help := rootCmd
		if selected := rootCmd.GetSelected(); selected != nil {
			help = selected
		}
		fmt.Fprintf(stderr, "%s\n", ffhelp.Command(help))
		if errors.Is(err, ff.ErrHelp) {
			return nil
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}

	if err := setupLogging(stderr, *a.logLevel); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}

	err := rootCmd.Run(ctx)
	a.finish()
	if err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(stderr, "%s\n", ffhelp.Command(rootCmd))
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return err
	}
	return nil
}

// simpleCommand builds a subcommand without flags or arguments that acts on the History.
func (a *app) simpleCommand(parent *ff.FlagSet, name, help string, fn func(h *history.History, w io.Writer) error) *ff.Command {
	flags := ff.NewFlagSet(name).SetParent(parent)
	return &ff.Command{
		Name:      name,
		Usage:     "shellhist " + name,
		ShortHelp: help,
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%s takes no arguments", name)
			}
			return fn(a.openHistory(), a.stdout)
		},
	}
}
