package history

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

// SearchType selects how a search term is compared with item contents.
type SearchType uint8

const (
	// Exact matches the whole command.
	Exact SearchType = iota
	// Contains matches anywhere in the command.
	Contains
	// Prefix matches the start of the command.
	Prefix
	// LinePrefix matches the start of any line of the command.
	LinePrefix
	// ContainsGlob matches a wildcard pattern anywhere in the command.
	ContainsGlob
	// PrefixGlob matches a wildcard pattern at the start of the command.
	PrefixGlob
	// ContainsSubsequence matches when the term's characters appear in order.
	ContainsSubsequence
	// MatchEverything matches every item.
	MatchEverything
)

var searchTypeNames = map[string]SearchType{
	"exact":       Exact,
	"contains":    Contains,
	"prefix":      Prefix,
	"line-prefix": LinePrefix,
	"glob":        ContainsGlob,
	"prefix-glob": PrefixGlob,
	"subsequence": ContainsSubsequence,
	"everything":  MatchEverything,
}

// ParseSearchType maps a CLI name such as "prefix" or "glob" to a SearchType.
func ParseSearchType(name string) (SearchType, error) {
	typ, ok := searchTypeNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown search type %q", name)
	}
	return typ, nil
}

func (t SearchType) String() string {
	for name, typ := range searchTypeNames {
		if typ == t {
			return name
		}
	}
	return "unknown"
}

// matcher is a compiled search term.
type matcher struct {
	term          string
	typ           SearchType
	caseSensitive bool
	pattern       glob.Glob
}

func newMatcher(term string, typ SearchType, caseSensitive bool) (*matcher, error) {
	m := &matcher{term: term, typ: typ, caseSensitive: caseSensitive}
	switch typ {
	case ContainsGlob, PrefixGlob:
		pattern := globPattern(term)
		if typ == ContainsGlob && !strings.HasPrefix(pattern, "*") {
			pattern = "*" + pattern
		}
		if !strings.HasSuffix(pattern, "*") || strings.HasSuffix(pattern, `\*`) {
			pattern += "*"
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile search pattern %q: %w", term, err)
		}
		m.pattern = g
	}
	return m, nil
}

func (m *matcher) match(contents string) bool {
	if !m.caseSensitive {
		contents = strings.ToLower(contents)
	}
	switch m.typ {
	case Exact:
		return contents == m.term
	case Contains:
		return strings.Contains(contents, m.term)
	case Prefix:
		return strings.HasPrefix(contents, m.term)
	case LinePrefix:
		for _, line := range strings.Split(contents, "\n") {
			if strings.HasPrefix(line, m.term) {
				return true
			}
		}
		return false
	case ContainsGlob, PrefixGlob:
		return m.pattern.Match(contents)
	case ContainsSubsequence:
		return isSubsequence(m.term, contents)
	case MatchEverything:
		return true
	}
	return false
}

// globPattern converts a history wildcard (only * and ?, with backslash escapes) into a
// gobwas pattern in which every other metacharacter is literal.
func globPattern(term string) string {
	var b strings.Builder
	escaped := false
	for _, r := range term {
		switch {
		case escaped:
			b.WriteString(glob.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '*' || r == '?':
			b.WriteRune(r)
		default:
			b.WriteString(glob.QuoteMeta(string(r)))
		}
	}
	if escaped {
		b.WriteString(glob.QuoteMeta(`\`))
	}
	return b.String()
}

func isSubsequence(needle, haystack string) bool {
	for needle != "" {
		r, size := utf8.DecodeRuneInString(needle)
		idx := strings.IndexRune(haystack, r)
		if idx < 0 {
			return false
		}
		_, hsize := utf8.DecodeRuneInString(haystack[idx:])
		haystack = haystack[idx+hsize:]
		needle = needle[size:]
	}
	return true
}
