package shell

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// syncWriteCommands are commands after which the shell may not live long enough to run a
// background task, plus echo, which never takes file arguments.
var syncWriteCommands = map[string]bool{
	"exec":    true,
	"exit":    true,
	"reboot":  true,
	"restart": true,
	"echo":    true,
}

// Analysis is what the history engine needs to know about a command line.
type Analysis struct {
	// PotentialPaths are argument sources (unexpanded) that could name files.
	PotentialPaths []string
	// NeedsSyncWrite is set when the line runs a command that may end the process.
	NeedsSyncWrite bool
}

// Analyze parses line and collects path-like arguments. A line that does not parse yields
// an empty Analysis.
func Analyze(line string) Analysis {
	var a Analysis
	file, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		return a
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst:
			return false
		case *syntax.CallExpr:
			if len(n.Args) == 0 {
				return true
			}
			if syncWriteCommands[wordValue(n.Args[0])] {
				a.NeedsSyncWrite = true
			}
			for _, arg := range n.Args[1:] {
				src := wordSource(line, arg)
				if couldBePath(src) {
					a.PotentialPaths = append(a.PotentialPaths, src)
				}
			}
		}
		return true
	})
	return a
}

// CheckSyntax reports whether line is a complete, valid bash command line.
func CheckSyntax(line string) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	if _, err := parser.Parse(strings.NewReader(line), ""); err != nil {
		return fmt.Errorf("failed to parse command line: %w", err)
	}
	return nil
}

// couldBePath treats anything with a leading dash as an option, not a path.
func couldBePath(s string) bool {
	return s != "" && !strings.HasPrefix(s, "-")
}

func wordSource(line string, w *syntax.Word) string {
	start, end := int(w.Pos().Offset()), int(w.End().Offset())
	if start < 0 || end > len(line) || start > end {
		return w.Lit()
	}
	return line[start:end]
}

// wordValue returns the unquoted value of a static word, or "" if it needs expansion.
func wordValue(w *syntax.Word) string {
	if lit := w.Lit(); lit != "" {
		return lit
	}
	value, err := literal(w, nil)
	if err != nil {
		return ""
	}
	return value
}
