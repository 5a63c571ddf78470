package history

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tchaudhry91/shellhist/internal/shell"
)

// bashRejectedChars are constructs that do not translate to our shell.
const bashRejectedChars = "`{*\t\\"

var bashRejectedSequences = []string{"[[", "]]", "((", "))", "<<"}

// shouldImportBashLine applies a conservative filter to a trimmed bash history line.
func shouldImportBashLine(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	if strings.ContainsAny(line, bashRejectedChars) {
		return false
	}
	for _, seq := range bashRejectedSequences {
		if strings.Contains(line, seq) {
			return false
		}
	}
	return shell.CheckSyntax(line) == nil
}

type zshEntry struct {
	when     time.Time
	duration int
	command  string
}

// parseZshHistory reads zsh extended history (": <start>:<elapsed>;<command>"). Lines that
// do not start a new entry continue the previous multi-line command.
func parseZshHistory(r io.Reader) ([]zshEntry, error) {
	var (
		entries  []zshEntry
		current  strings.Builder
		when     int64
		duration int
		have     bool
	)
	flush := func() {
		if have && current.Len() > 0 {
			if cmd := strings.TrimSpace(current.String()); cmd != "" {
				entries = append(entries, zshEntry{
					when:     time.Unix(when, 0),
					duration: duration,
					command:  cmd,
				})
			}
		}
		current.Reset()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, ": ") {
			if have {
				current.WriteString("\n")
				current.WriteString(line)
			}
			continue
		}

		meta, cmd, ok := strings.Cut(line[2:], ";")
		if !ok {
			continue
		}
		start, elapsed, ok := strings.Cut(meta, ":")
		if !ok {
			continue
		}
		flush()

		if ts, err := strconv.ParseInt(strings.TrimSpace(start), 10, 64); err == nil {
			when = ts
		}
		if d, err := strconv.Atoi(strings.TrimSpace(elapsed)); err == nil {
			duration = d
		}
		current.WriteString(cmd)
		have = true
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return entries, nil
}
