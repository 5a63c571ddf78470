package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/sahilm/fuzzy"

	"github.com/tchaudhry91/shellhist/internal/history"
	"github.com/tchaudhry91/shellhist/internal/index"
)

func parsePersistMode(name string) (history.PersistMode, error) {
	switch name {
	case "disk":
		return history.PersistDisk, nil
	case "memory":
		return history.PersistMemory, nil
	case "ephemeral":
		return history.PersistEphemeral, nil
	default:
		return 0, fmt.Errorf("unknown persist mode %q", name)
	}
}

func (a *app) addCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("add").SetParent(parent)
	mode := flags.StringLong("mode", "disk", "where the command lives: disk, memory or ephemeral")
	detect := flags.BoolLong("detect", "record the files the command refers to")
	return &ff.Command{
		Name:      "add",
		Usage:     "shellhist add [--mode MODE] [--detect] COMMAND...",
		ShortHelp: "Add a command to the history",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			return runAdd(a.openHistory(), a, *mode, *detect, args)
		},
	}
}

func runAdd(h *history.History, a *app, modeName string, detect bool, args []string) error {
	mode, err := parsePersistMode(modeName)
	if err != nil {
		return err
	}
	text := strings.Join(args, " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("no command given")
	}

	switch {
	case detect:
		h.AddPendingWithFileDetection(text, a.vars, mode)
		h.ResolvePending()
	case mode == history.PersistDisk:
		h.AddCommandline(text)
	default:
		h.Add(history.Item{Contents: text, Mode: mode}, false)
	}
	return nil
}

func (a *app) searchCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("search").SetParent(parent)
	typ := flags.StringLong("type", "contains", "match type: exact, contains, prefix, line-prefix, glob, prefix-glob, subsequence")
	caseSensitive := flags.BoolLong("case-sensitive", "match case exactly")
	maxItems := flags.IntLong("max", 0, "limit the number of results (0 is unlimited)")
	showTime := flags.BoolLong("show-time", "print each command's time before it")
	timeFormat := flags.StringLong("time-format", "2006-01-02 15:04:05", "Go time layout used with --show-time")
	null := flags.BoolLong("null", "terminate results with NUL instead of newline")
	reverse := flags.BoolLong("reverse", "print oldest results first")
	rank := flags.BoolLong("fuzzy", "rank commands by fuzzy match score instead")
	return &ff.Command{
		Name:      "search",
		Usage:     "shellhist search [FLAGS] [TERM...]",
		ShortHelp: "Search the history, most recent first",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			h := a.openHistory()
			if *rank {
				return runFuzzySearch(h, a.stdout, strings.Join(args, " "), *maxItems)
			}
			searchType, err := history.ParseSearchType(*typ)
			if err != nil {
				return err
			}
			opts := history.SearchOptions{
				Type:          searchType,
				Terms:         args,
				CaseSensitive: *caseSensitive,
				MaxItems:      *maxItems,
				NullTerminate: *null,
				Reverse:       *reverse,
			}
			if *showTime {
				opts.TimeFormat = "# " + *timeFormat + "\n"
			}
			return h.Search(ctx, opts, a.stdout)
		},
	}
}

func runFuzzySearch(h *history.History, w io.Writer, pattern string, maxItems int) error {
	if pattern == "" {
		return history.ErrEmptySearchTerm
	}
	matches := fuzzy.Find(pattern, h.GetHistory())
	for i, match := range matches {
		if maxItems > 0 && i >= maxItems {
			break
		}
		fmt.Fprintln(w, match.Str)
	}
	return nil
}

func (a *app) listCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("list").SetParent(parent)
	maxItems := flags.IntLong("max", 0, "limit the number of items (0 is unlimited)")
	return &ff.Command{
		Name:      "list",
		Usage:     "shellhist list [--max N]",
		ShortHelp: "List history items by index, most recent first",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			return runList(a.openHistory(), a.stdout, *maxItems)
		},
	}
}

func runList(h *history.History, w io.Writer, maxItems int) error {
	size := h.Size()
	for idx := 1; idx <= size; idx++ {
		if maxItems > 0 && idx > maxItems {
			break
		}
		item, ok := h.ItemAtIndex(idx)
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%5d  %s\n", idx, item.Contents)
	}
	return nil
}

func (a *app) deleteCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("delete").SetParent(parent)
	typ := flags.StringLong("type", "exact", "match type used to select commands")
	caseSensitive := flags.BoolLong("case-sensitive", "match case exactly")
	return &ff.Command{
		Name:      "delete",
		Usage:     "shellhist delete [--type TYPE] TERM...",
		ShortHelp: "Delete matching commands from every session",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			searchType, err := history.ParseSearchType(*typ)
			if err != nil {
				return err
			}
			return runDelete(ctx, a.openHistory(), a.stdout, searchType, *caseSensitive, args)
		},
	}
}

func runDelete(ctx context.Context, h *history.History, w io.Writer, typ history.SearchType, caseSensitive bool, terms []string) error {
	if len(terms) == 0 {
		return fmt.Errorf("nothing to delete")
	}
	var flags history.SearchFlags
	if !caseSensitive {
		flags = history.IgnoreCase
	}

	var matched []string
	seen := make(map[string]bool)
	for _, term := range terms {
		if term == "" {
			return history.ErrEmptySearchTerm
		}
		s := history.NewSearch(h, term, typ, flags, 0)
		for s.GoToNextMatch(ctx, history.Backward) {
			if text := s.CurrentString(); !seen[text] {
				seen[text] = true
				matched = append(matched, text)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, text := range matched {
		h.Remove(text)
		fmt.Fprintf(w, "Deleted: %s\n", text)
	}
	if len(matched) > 0 {
		h.Save()
	}
	return nil
}

func (a *app) clearCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("clear").SetParent(parent)
	force := flags.BoolLong("force", "confirm removal of the whole history file")
	return &ff.Command{
		Name:      "clear",
		Usage:     "shellhist clear --force",
		ShortHelp: "Irreversibly remove all history of this session's file",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			if !*force {
				return fmt.Errorf("refusing to clear history without --force")
			}
			a.openHistory().Clear()
			return nil
		},
	}
}

func runClearSession(h *history.History, w io.Writer) error {
	h.ClearSession()
	return nil
}

func runMerge(h *history.History, w io.Writer) error {
	h.IncorporateExternalChanges()
	fmt.Fprintf(w, "%d commands visible\n", len(h.GetHistory()))
	return nil
}

func runSave(h *history.History, w io.Writer) error {
	h.Save()
	return nil
}

func runVacuum(h *history.History, w io.Writer) error {
	h.Vacuum()
	return nil
}

func runMigrate(h *history.History, w io.Writer) error {
	migrated, err := h.PopulateFromConfigPath()
	if err != nil {
		return fmt.Errorf("failed to migrate history: %w", err)
	}
	if migrated {
		fmt.Fprintln(w, "Migrated history from the old config directory")
	} else {
		fmt.Fprintln(w, "No history to migrate")
	}
	return nil
}

func (a *app) importCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("import").SetParent(parent)
	format := flags.StringLong("format", "bash", "input format: bash, zsh or export")
	return &ff.Command{
		Name:      "import",
		Usage:     "shellhist import [--format FORMAT] [FILE|DIRECTORY...]",
		ShortHelp: "Import commands from other shells' history files (stdin without arguments)",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			return runImport(a.openHistory(), a.stdin, a.stdout, *format, args)
		},
	}
}

// expandHistoryPaths replaces each directory argument with the *history files inside it.
func expandHistoryPaths(paths []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		fileInfo, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if fileInfo.IsDir() {
			entries, err := os.ReadDir(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read directory %s: %w", path, err)
			}

			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), "history") {
					files = append(files, filepath.Join(path, entry.Name()))
				}
			}
		} else {
			files = append(files, path)
		}
	}

	return files, nil
}

func importFrom(h *history.History, format string, r io.Reader) (int, error) {
	switch format {
	case "bash":
		return h.PopulateFromBash(r)
	case "zsh":
		return h.PopulateFromZsh(r)
	case "export":
		return h.ImportExport(r)
	default:
		return 0, fmt.Errorf("unknown import format %q", format)
	}
}

func runImport(h *history.History, stdin io.Reader, w io.Writer, format string, args []string) error {
	if len(args) == 0 {
		n, err := importFrom(h, format, stdin)
		if err != nil {
			return fmt.Errorf("failed to import from stdin: %w", err)
		}
		fmt.Fprintf(w, "stdin: %d imported\n", n)
		return nil
	}

	files, err := expandHistoryPaths(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no history files found")
	}

	total := 0
	for _, file := range files {
		f, err := os.Open(file)
		if err != nil {
			fmt.Fprintf(w, "Error opening %s: %v\n", file, err)
			continue
		}
		n, err := importFrom(h, format, f)
		f.Close()
		if err != nil {
			fmt.Fprintf(w, "Error importing %s: %v\n", file, err)
			continue
		}
		fmt.Fprintf(w, "%s: %d imported\n", file, n)
		total += n
	}

	fmt.Fprintf(w, "\n✓ Import complete: %d commands\n", total)
	return nil
}

func (a *app) exportCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("export").SetParent(parent)
	compress := flags.BoolLong("compress", "zstd-compress the output")
	output := flags.StringLong("output", "", "write to this file instead of stdout")
	return &ff.Command{
		Name:      "export",
		Usage:     "shellhist export [--compress] [--output FILE]",
		ShortHelp: "Write the visible history in history file format",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			return runExport(a.openHistory(), a.stdout, *output, *compress)
		},
	}
}

func runExport(h *history.History, stdout io.Writer, output string, compress bool) error {
	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	n, err := h.Export(w, history.ExportOptions{Compress: compress})
	if err != nil {
		return fmt.Errorf("failed to export history: %w", err)
	}
	if output != "" {
		fmt.Fprintf(stdout, "Exported %d commands to %s\n", n, output)
	}
	return nil
}

func (a *app) indexCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("index").SetParent(parent)
	top := flags.IntLong("top", 5, "number of frequent commands to show")
	return &ff.Command{
		Name:      "index",
		Usage:     "shellhist index [--top N]",
		ShortHelp: "Mirror this session's history into the SQLite search index",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			dbPath, err := a.indexPath()
			if err != nil {
				return err
			}
			return runIndex(a.openHistory(), a.stdout, dbPath, *top)
		},
	}
}

func runIndex(h *history.History, w io.Writer, dbPath string, top int) error {
	if h.Name() == "" {
		return fmt.Errorf("private sessions are not indexed")
	}

	db, err := index.InitDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	h.IncorporateExternalChanges()
	items := h.Items()
	inserted, ignored, err := index.SyncHistory(db, h.Name(), index.EntriesFromItems(h.Name(), items))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d indexed, %d skipped\n", h.Name(), inserted, ignored)

	stats, err := index.GetDBStats(db)
	if err != nil {
		fmt.Fprintf(w, "Warning: could not get DB stats: %v\n", err)
	} else {
		fmt.Fprintf(w, "\nDatabase stats:\n")
		fmt.Fprintf(w, "  Total commands: %d\n", stats["total_commands"])
		fmt.Fprintf(w, "  Total sessions: %d\n", stats["total_sessions"])
	}

	if top > 0 {
		frequent, err := index.GetFrequentCommands(db, "", top)
		if err != nil {
			return err
		}
		if len(frequent) > 0 {
			fmt.Fprintf(w, "\nMost shared commands:\n")
			for _, fc := range frequent {
				fmt.Fprintf(w, "  %3d  %s\n", fc.Count, fc.Command)
			}
		}
	}
	return nil
}

func (a *app) ftsCommand(parent *ff.FlagSet) *ff.Command {
	flags := ff.NewFlagSet("fts").SetParent(parent)
	session := flags.StringLong("in", "", "only search this session (default: all)")
	since := flags.DurationLong("since", 0, "only commands newer than this, e.g. 24h")
	limit := flags.IntLong("limit", 50, "maximum number of results")
	prefix := flags.BoolLong("prefix", "match the start of commands instead of words")
	return &ff.Command{
		Name:      "fts",
		Usage:     "shellhist fts [FLAGS] QUERY...",
		ShortHelp: "Full-text search across every indexed session",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			dbPath, err := a.indexPath()
			if err != nil {
				return err
			}
			return runFTS(a.stdout, dbPath, ftsParams{
				query:   strings.Join(args, " "),
				session: *session,
				since:   *since,
				limit:   *limit,
				prefix:  *prefix,
			})
		},
	}
}

type ftsParams struct {
	query   string
	session string
	since   time.Duration
	limit   int
	prefix  bool
}

func runFTS(w io.Writer, dbPath string, p ftsParams) error {
	if _, err := os.Stat(dbPath); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no index at %s, run 'shellhist index' first", dbPath)
	}

	db, err := index.InitDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var results []index.SearchResult
	if p.prefix {
		results, err = index.SearchByPrefix(db, p.query, p.limit)
	} else {
		opts := index.SearchOptions{Query: p.query, Session: p.session, Limit: p.limit}
		if p.since > 0 {
			opts.Since = float64(time.Now().Add(-p.since).Unix())
		}
		results, err = index.SearchCommands(db, opts)
	}
	if err != nil {
		return err
	}

	for _, r := range results {
		fmt.Fprintf(w, "%s  %-12s  %s\n", r.Time().Format("2006-01-02 15:04"), r.Session, r.Command)
	}
	return nil
}
