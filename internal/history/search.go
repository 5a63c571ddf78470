package history

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"syscall"
)

// ErrEmptySearchTerm is returned when asked to search for "".
var ErrEmptySearchTerm = errors.New("searching for the empty string isn't allowed")

// SearchDirection is the direction a Search moves in.
type SearchDirection uint8

const (
	// Backward moves toward older items.
	Backward SearchDirection = iota
	// Forward moves toward newer items.
	Forward
)

// SearchFlags modify a Search.
type SearchFlags uint8

const (
	// IgnoreCase compares lowercased text.
	IgnoreCase SearchFlags = 1 << iota
	// NoDedup returns repeated texts.
	NoDedup
)

// Search is a cursor over a History that yields matching items one at a time. It is
// invalidated by any mutation of the History; check IsStale and start a new one.
type Search struct {
	history    *History
	origTerm   string
	searchType SearchType
	flags      SearchFlags
	matcher    *matcher

	currentItem  Item
	hasCurrent   bool
	currentIndex int
	seen         map[string]struct{}
	generation   uint64
}

// NewSearch starts a search at startIndex; 0 starts before the most recent item.
func NewSearch(h *History, term string, typ SearchType, flags SearchFlags, startIndex int) *Search {
	s := &Search{
		history:      h,
		origTerm:     term,
		searchType:   typ,
		flags:        flags,
		currentIndex: startIndex,
		seen:         make(map[string]struct{}),
		generation:   h.Generation(),
	}
	canon := term
	if s.IgnoresCase() {
		canon = strings.ToLower(term)
	}
	m, err := newMatcher(canon, typ, !s.IgnoresCase())
	if err != nil {
		slog.Debug("invalid search pattern matches nothing", "term", term, "err", err)
	}
	s.matcher = m
	return s
}

// OriginalTerm returns the term as given.
func (s *Search) OriginalTerm() string {
	return s.origTerm
}

// IgnoresCase reports whether the search is case-insensitive.
func (s *Search) IgnoresCase() bool {
	return s.flags&IgnoreCase != 0
}

func (s *Search) dedup() bool {
	return s.flags&NoDedup == 0
}

// IsStale reports whether the History changed since the search began.
func (s *Search) IsStale() bool {
	return s.history.Generation() != s.generation
}

// PrepareToSearchAfterDeletion steps back so the next Backward match re-examines the
// slot of the item that was just removed.
func (s *Search) PrepareToSearchAfterDeletion() {
	if s.currentIndex > 0 {
		s.currentIndex--
	}
	s.currentItem = Item{}
	s.hasCurrent = false
}

// GoToNextMatch moves to the next match in dir and reports whether one was found. Once a
// direction is exhausted it keeps returning false. Cancelling ctx stops the walk early and
// leaves the cursor where it was.
func (s *Search) GoToNextMatch(ctx context.Context, dir SearchDirection) bool {
	invalid := 0
	if dir == Backward {
		invalid = math.MaxInt
	}
	if s.currentIndex == invalid {
		return false
	}

	index := s.currentIndex
	for {
		if ctx.Err() != nil {
			return false
		}
		if dir == Backward {
			index++
		} else {
			index--
		}

		item, ok := s.history.ItemAtIndex(index)
		if !ok {
			s.currentIndex = invalid
			s.currentItem = Item{}
			s.hasCurrent = false
			return false
		}

		if s.matcher == nil || !s.matcher.match(item.Contents) {
			continue
		}
		if s.dedup() {
			if _, dup := s.seen[item.Contents]; dup {
				continue
			}
			s.seen[item.Contents] = struct{}{}
		}

		s.currentItem = item
		s.hasCurrent = true
		s.currentIndex = index
		return true
	}
}

// CurrentItem returns the current match, or false when there is none.
func (s *Search) CurrentItem() (Item, bool) {
	return s.currentItem, s.hasCurrent
}

// CurrentString returns the text of the current match.
func (s *Search) CurrentString() string {
	return s.currentItem.Contents
}

// CurrentIndex returns the 1-based index of the current match.
func (s *Search) CurrentIndex() int {
	return s.currentIndex
}

// SearchOptions drive History.Search.
type SearchOptions struct {
	Type          SearchType
	Terms         []string
	CaseSensitive bool
	// MaxItems limits the output; 0 means unlimited.
	MaxItems int
	// TimeFormat, a Go time layout, is written before each record when set.
	TimeFormat    string
	NullTerminate bool
	// Reverse prints oldest matches first.
	Reverse bool
}

// Search writes matching items to w, most recent first. Without terms every item
// matches. Cancelling ctx stops the search and keeps what was written.
func (h *History) Search(ctx context.Context, opts SearchOptions, w io.Writer) error {
	remaining := opts.MaxItems
	if remaining <= 0 {
		remaining = math.MaxInt
	}
	out := bufio.NewWriter(w)
	var collected []string
	var writeErr error

	emit := func(item Item) bool {
		if remaining == 0 {
			return false
		}
		remaining--
		record := formatRecord(item, opts.TimeFormat, opts.NullTerminate)
		if opts.Reverse {
			collected = append(collected, record)
			return true
		}
		if _, err := out.WriteString(record); err != nil {
			writeErr = err
			return false
		}
		return true
	}

	searchOne := func(typ SearchType, term string, caseSensitive bool) {
		var flags SearchFlags
		if !caseSensitive {
			flags = IgnoreCase
		}
		s := NewSearch(h, term, typ, flags, 0)
		for ctx.Err() == nil && s.GoToNextMatch(ctx, Backward) {
			if !emit(s.currentItem) {
				return
			}
		}
	}

	if len(opts.Terms) == 0 {
		searchOne(MatchEverything, "", false)
	} else {
		for _, term := range opts.Terms {
			if term == "" {
				return ErrEmptySearchTerm
			}
			searchOne(opts.Type, term, opts.CaseSensitive)
		}
	}

	for i := len(collected) - 1; i >= 0 && writeErr == nil; i-- {
		_, writeErr = out.WriteString(collected[i])
	}
	if writeErr == nil {
		writeErr = out.Flush()
	}
	// A reader that went away is not a search failure.
	if isClosedWriter(writeErr) {
		slog.Debug("history search output stopped", "err", writeErr)
		return nil
	}
	if writeErr != nil {
		return fmt.Errorf("failed to write search results: %w", writeErr)
	}
	return nil
}

func isClosedWriter(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func formatRecord(item Item, timeFormat string, nullTerminate bool) string {
	var b strings.Builder
	if timeFormat != "" {
		b.WriteString(item.Timestamp.Local().Format(timeFormat))
	}
	b.WriteString(item.Contents)
	if nullTerminate {
		b.WriteByte(0)
	} else {
		b.WriteByte('\n')
	}
	return b.String()
}
