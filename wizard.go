package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/tchaudhry91/shellhist/internal/history"
	"github.com/tchaudhry91/shellhist/internal/index"
)

const maxHistoryContext = 10

// WizardRequest contains the input for generating a command
type WizardRequest struct {
	Query    string // Natural language query
	PWD      string // Current working directory
	Hostname string // Machine name
}

// WizardResponse contains the generated command
type WizardResponse struct {
	Command   string        `json:"command"`
	Source    string        `json:"source"` // "cache" or "llm"
	Query     string        `json:"query"`
	Latency   time.Duration `json:"latency_ms"`
	FromCache bool          `json:"from_cache"`
}

// Wizard generates shell commands from natural language, using the session's history as
// context and the index database as a cache of accepted answers.
type Wizard struct {
	llm  LLMClient
	db   *sql.DB
	hist *history.History
}

// NewWizard creates a new Wizard. llm may be nil, in which case only cached answers work.
func NewWizard(db *sql.DB, hist *history.History, llm LLMClient) *Wizard {
	return &Wizard{
		llm:  llm,
		db:   db,
		hist: hist,
	}
}

// Generate produces a shell command from a natural language query
func (w *Wizard) Generate(ctx context.Context, req WizardRequest) (*WizardResponse, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	// Check cache first
	cached, err := index.GetWizardCache(w.db, query)
	if err != nil {
		slog.Debug("wizard cache lookup failed", "query", query, "err", err)
	}
	if cached != nil {
		return &WizardResponse{
			Command:   cached.Command,
			Source:    "cache",
			Query:     query,
			Latency:   time.Since(start),
			FromCache: true,
		}, nil
	}

	// No cache hit - generate with LLM
	if w.llm == nil || !w.llm.IsAvailable(ctx) {
		return nil, fmt.Errorf("LLM not available and no cached result")
	}

	// Gather history context
	historyContext := w.gatherHistoryContext(ctx, query)

	// Build prompts
	systemPrompt := w.buildSystemPrompt()
	userPrompt := w.buildUserPrompt(req, historyContext)

	// Generate command
	response, err := w.llm.Complete(ctx, userPrompt, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("LLM generation failed: %w", err)
	}

	// Parse and clean the response
	command := w.parseResponse(response)
	if command == "" {
		return nil, fmt.Errorf("LLM returned empty or invalid command")
	}

	return &WizardResponse{
		Command:   command,
		Source:    "llm",
		Query:     query,
		Latency:   time.Since(start),
		FromCache: false,
	}, nil
}

// CacheCommand stores a query→command mapping (called when user runs the command)
func (w *Wizard) CacheCommand(query, command string) error {
	return index.SetWizardCache(w.db, query, command)
}

// gatherHistoryContext returns up to maxHistoryContext recent commands containing any of
// the query's keywords.
func (w *Wizard) gatherHistoryContext(ctx context.Context, query string) []string {
	if w.hist == nil {
		return nil
	}
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}

	var commands []string
	seen := make(map[string]bool)
	for _, keyword := range keywords {
		s := history.NewSearch(w.hist, keyword, history.Contains, history.IgnoreCase, 0)
		for len(commands) < maxHistoryContext && s.GoToNextMatch(ctx, history.Backward) {
			cmd := s.CurrentString()
			if seen[cmd] {
				continue
			}
			seen[cmd] = true
			commands = append(commands, cmd)
		}
		if len(commands) >= maxHistoryContext {
			break
		}
	}
	return commands
}

// extractKeywords pulls relevant keywords from the query for history search
func extractKeywords(query string) []string {
	// Common words to ignore
	stopWords := map[string]bool{
		"a": true, "an": true, "the": true, "is": true, "are": true,
		"was": true, "were": true, "be": true, "been": true, "being": true,
		"have": true, "has": true, "had": true, "do": true, "does": true,
		"did": true, "will": true, "would": true, "could": true, "should": true,
		"may": true, "might": true, "must": true, "shall": true,
		"i": true, "me": true, "my": true, "we": true, "our": true,
		"you": true, "your": true, "he": true, "she": true, "it": true,
		"they": true, "them": true, "their": true,
		"this": true, "that": true, "these": true, "those": true,
		"what": true, "which": true, "who": true, "whom": true,
		"how": true, "when": true, "where": true, "why": true,
		"all": true, "any": true, "both": true, "each": true,
		"few": true, "more": true, "most": true, "some": true,
		"show": true, "get": true, "find": true, "list": true, "display": true,
		"give": true, "tell": true, "can": true, "please": true,
		"want": true, "need": true, "like": true,
		"to": true, "of": true, "in": true, "for": true, "on": true,
		"with": true, "at": true, "by": true, "from": true, "as": true,
		"into": true, "through": true, "during": true, "before": true,
		"after": true, "above": true, "below": true, "between": true,
		"and": true, "or": true, "but": true, "not": true,
	}

	// Extract words, keeping only meaningful ones
	words := regexp.MustCompile(`[a-zA-Z0-9_\-\.]+`).FindAllString(strings.ToLower(query), -1)

	var keywords []string
	seen := make(map[string]bool)
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if stopWords[word] {
			continue
		}
		if seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}

	return keywords
}

func (w *Wizard) buildSystemPrompt() string {
	return `You are a shell command generator. Convert natural language requests into executable shell commands.

RULES:
- Output ONLY the shell command, nothing else
- No explanations, no markdown, no code blocks
- Use common Unix/Linux commands
- Prefer simple, readable commands
- If multiple commands needed, chain with && or use subshells
- Use appropriate flags for human-readable output where applicable
- If the request is ambiguous, make reasonable assumptions

EXAMPLES:
User: "list all files including hidden"
Output: ls -la

User: "find large files over 100MB"
Output: find . -type f -size +100M

User: "show disk usage"
Output: df -h

User: "count lines in all python files"
Output: find . -name "*.py" -exec wc -l {} +`
}

func (w *Wizard) buildUserPrompt(req WizardRequest, historyContext []string) string {
	var sb strings.Builder

	sb.WriteString("Convert this request to a shell command:\n")
	sb.WriteString(req.Query)
	sb.WriteString("\n")

	if req.PWD != "" {
		sb.WriteString("\nCurrent directory: ")
		sb.WriteString(req.PWD)
		sb.WriteString("\n")
	}

	if req.Hostname != "" {
		sb.WriteString("Machine: ")
		sb.WriteString(req.Hostname)
		sb.WriteString("\n")
	}

	if len(historyContext) > 0 {
		sb.WriteString("\nRelevant commands from user's history (for context/patterns):\n")
		for _, cmd := range historyContext {
			// Truncate very long commands
			if len(cmd) > 100 {
				cmd = cmd[:100] + "..."
			}
			sb.WriteString("- ")
			sb.WriteString(cmd)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nShell command:")

	return sb.String()
}

func (w *Wizard) parseResponse(response string) string {
	// Clean up the response
	response = strings.TrimSpace(response)

	// Remove markdown code blocks if present
	response = strings.TrimPrefix(response, "```bash")
	response = strings.TrimPrefix(response, "```shell")
	response = strings.TrimPrefix(response, "```sh")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	// Take only the first line if multiple lines (unless it's a multi-line command)
	lines := strings.Split(response, "\n")
	if len(lines) > 1 {
		// Check if it looks like a multi-line command (continuation or chained)
		firstLine := strings.TrimSpace(lines[0])
		if !strings.HasSuffix(firstLine, "\\") && !strings.HasSuffix(firstLine, "&&") && !strings.HasSuffix(firstLine, "|") {
			response = firstLine
		}
	}

	// Remove any leading $ or # (shell prompts)
	response = strings.TrimPrefix(response, "$ ")
	response = strings.TrimPrefix(response, "# ")

	return response
}

func (a *app) wizardCommand(parent *ff.FlagSet) *ff.Command {
	defaults := DefaultLLMConfig()
	flags := ff.NewFlagSet("wizard").SetParent(parent)
	baseURL := flags.StringLong("base-url", defaults.BaseURL, "OpenAI-compatible API endpoint")
	apiKey := flags.StringLong("api-key", defaults.APIKey, "API key for the endpoint")
	model := flags.StringLong("model", defaults.Model, "model name")
	timeout := flags.DurationLong("timeout", defaults.Timeout, "LLM request timeout")
	list := flags.BoolLong("list", "list cached answers")
	clearCache := flags.BoolLong("clear", "forget every cached answer")
	forget := flags.BoolLong("forget", "forget the cached answer for QUERY")
	remember := flags.StringLong("remember", "", "cache COMMAND as the answer for QUERY")
	return &ff.Command{
		Name:      "wizard",
		Usage:     "shellhist wizard [FLAGS] QUERY...",
		ShortHelp: "Turn a natural language request into a shell command",
		Flags:     flags,
		Exec: func(ctx context.Context, args []string) error {
			dbPath, err := a.indexPath()
			if err != nil {
				return err
			}
			db, err := index.InitDB(dbPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			query := strings.Join(args, " ")
			switch {
			case *list:
				return runWizardList(db, a)
			case *clearCache:
				return index.ClearWizardCache(db)
			case *forget:
				return index.DeleteWizardCacheEntry(db, query)
			case *remember != "":
				return NewWizard(db, nil, nil).CacheCommand(query, *remember)
			}

			client, err := NewLLMClient(LLMConfig{
				BaseURL: *baseURL,
				APIKey:  *apiKey,
				Model:   *model,
				Timeout: *timeout,
			})
			if err != nil {
				return err
			}
			return runWizard(ctx, NewWizard(db, a.openHistory(), client), a, query)
		},
	}
}

func runWizard(ctx context.Context, w *Wizard, a *app, query string) error {
	hostname, _ := os.Hostname()
	resp, err := w.Generate(ctx, WizardRequest{
		Query:    query,
		PWD:      a.vars["PWD"],
		Hostname: hostname,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, resp.Command)
	slog.Info("wizard answered", "source", resp.Source, "latency", resp.Latency)
	return nil
}

func runWizardList(db *sql.DB, a *app) error {
	entries, err := index.ListWizardCache(db, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(a.stdout, "%3d  %-30s  %s\n", e.RunCount, e.QueryOriginal, e.Command)
	}
	return nil
}
