package shell

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// ErrNotAWord is returned when a path candidate does not parse as exactly one shell word.
var ErrNotAWord = errors.New("not a single shell word")

// ExpandPath expands variables, tildes and quoting in src, which must be the source of a
// single shell word. Command and process substitutions are refused; wildcards are left as is.
func ExpandPath(src string, vars Vars) (string, error) {
	word, err := parseWord(src)
	if err != nil {
		return "", err
	}
	return literal(word, vars)
}

// ContainsWildcard reports whether src has an unquoted, unescaped glob metacharacter.
func ContainsWildcard(src string) bool {
	var single, double bool
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case single:
			if c == '\'' {
				single = false
			}
		case c == '\\':
			i++
		case c == '"':
			double = !double
		case double:
		case c == '\'':
			single = true
		case c == '*', c == '?', c == '[':
			return true
		}
	}
	return false
}

func parseWord(src string) (*syntax.Word, error) {
	// Prefix a no-op command so that words such as a=b are parsed as arguments.
	file, err := syntax.NewParser().Parse(strings.NewReader(": "+src), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse %q: %w", src, err)
	}
	if len(file.Stmts) != 1 {
		return nil, ErrNotAWord
	}
	call, ok := file.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) != 2 {
		return nil, ErrNotAWord
	}
	return call.Args[1], nil
}

func literal(word *syntax.Word, vars Vars) (string, error) {
	cfg := &expand.Config{
		Env: expand.ListEnviron(vars.Environ()...),
	}
	value, err := expand.Literal(cfg, word)
	if err != nil {
		return "", fmt.Errorf("failed to expand word: %w", err)
	}
	return value, nil
}
