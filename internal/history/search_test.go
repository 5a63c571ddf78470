package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	tests := []struct {
		name          string
		term          string
		typ           SearchType
		caseSensitive bool
		contents      string
		want          bool
	}{
		{"exact hit", "ls -la", Exact, true, "ls -la", true},
		{"exact miss", "ls", Exact, true, "ls -la", false},
		{"contains", "la", Contains, true, "ls -la", true},
		{"contains case", "LA", Contains, true, "ls -la", false},
		{"contains ignoring case", "la", Contains, false, "LS -LA", true},
		{"prefix", "git", Prefix, true, "git status", true},
		{"prefix miss", "status", Prefix, true, "git status", false},
		{"line prefix second line", "echo", LinePrefix, true, "cd /tmp\necho hi", true},
		{"line prefix miss", "hi", LinePrefix, true, "cd /tmp\necho hi", false},
		{"glob anywhere", "st*s", ContainsGlob, true, "git status", true},
		{"glob question", "g?t", ContainsGlob, true, "git status", true},
		{"glob literal brackets", "[a]", ContainsGlob, true, "echo [a]", true},
		{"glob literal brackets miss", "[a]", ContainsGlob, true, "echo a", false},
		{"glob escaped star", `a\*`, ContainsGlob, true, "echo a*", true},
		{"glob escaped star miss", `a\*`, ContainsGlob, true, "echo ab", false},
		{"prefix glob", "git*us", PrefixGlob, true, "git status", true},
		{"prefix glob anchored", "status*", PrefixGlob, true, "git status", false},
		{"subsequence", "gst", ContainsSubsequence, true, "git status", true},
		{"subsequence order", "tsg", ContainsSubsequence, true, "git status", false},
		{"subsequence unicode", "héo", ContainsSubsequence, true, "echo héllo", true},
		{"everything", "", MatchEverything, true, "anything", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := newMatcher(tt.term, tt.typ, tt.caseSensitive)
			if err != nil {
				t.Fatalf("newMatcher() error = %v", err)
			}
			if got := m.match(tt.contents); got != tt.want {
				t.Errorf("match(%q) with %s %q = %v, want %v", tt.contents, tt.typ, tt.term, got, tt.want)
			}
			item := Item{Contents: tt.contents}
			if got := item.MatchesSearch(tt.term, tt.typ, tt.caseSensitive); got != tt.want {
				t.Errorf("MatchesSearch(%q) on %q = %v, want %v", tt.term, tt.contents, got, tt.want)
			}
		})
	}
}

func TestParseSearchType(t *testing.T) {
	for name, want := range searchTypeNames {
		got, err := ParseSearchType(name)
		if err != nil || got != want {
			t.Errorf("ParseSearchType(%q) = %v, %v; want %v", name, got, err, want)
		}
		if got.String() != name {
			t.Errorf("%v.String() = %q, want %q", got, got.String(), name)
		}
	}
	if _, err := ParseSearchType("fuzzy-ish"); err == nil {
		t.Error("ParseSearchType(unknown) succeeded, want error")
	}
}

// memoryHistory returns a private History with cmds added oldest first.
func memoryHistory(t *testing.T, cmds ...string) *History {
	t.Helper()
	h := New("", WithDataDir(t.TempDir()), WithConfigDir(t.TempDir()))
	for _, cmd := range cmds {
		h.AddCommandline(cmd)
	}
	return h
}

func collect(ctx context.Context, s *Search, dir SearchDirection) []string {
	var out []string
	for s.GoToNextMatch(ctx, dir) {
		out = append(out, s.CurrentString())
	}
	return out
}

func TestSearchBackwardDedups(t *testing.T) {
	h := memoryHistory(t, "git add", "ls", "git commit", "git add", "pwd")
	ctx := context.Background()

	s := NewSearch(h, "git", Prefix, 0, 0)
	require.Equal(t, []string{"git add", "git commit"}, collect(ctx, s, Backward))
	require.False(t, s.GoToNextMatch(ctx, Backward), "exhausted direction stays exhausted")

	s = NewSearch(h, "GIT", Prefix, IgnoreCase|NoDedup, 0)
	require.Equal(t, []string{"git add", "git commit"}, collect(ctx, s, Backward))
}

func TestSearchForwardReturnsTowardRecent(t *testing.T) {
	h := memoryHistory(t, "echo 1", "echo 2", "echo 3")
	ctx := context.Background()

	s := NewSearch(h, "echo", Prefix, NoDedup, 0)
	require.Equal(t, []string{"echo 3", "echo 2", "echo 1"}, collect(ctx, s, Backward))

	s = NewSearch(h, "echo", Prefix, NoDedup, 4)
	require.Equal(t, []string{"echo 1", "echo 2", "echo 3"}, collect(ctx, s, Forward))
	require.Equal(t, 0, s.CurrentIndex())
}

func TestSearchCancellation(t *testing.T) {
	h := memoryHistory(t, "make test", "make build")

	s := NewSearch(h, "make", Prefix, 0, 0)
	require.True(t, s.GoToNextMatch(context.Background(), Backward))
	require.Equal(t, "make build", s.CurrentString())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, s.GoToNextMatch(ctx, Backward))
	require.Equal(t, 1, s.CurrentIndex(), "cancelled walk leaves the cursor in place")
	item, ok := s.CurrentItem()
	require.True(t, ok)
	require.Equal(t, "make build", item.Contents)

	require.True(t, s.GoToNextMatch(context.Background(), Backward))
	require.Equal(t, "make test", s.CurrentString())
}

func TestSearchAfterDeletion(t *testing.T) {
	h := memoryHistory(t, "rm a", "rm b", "rm c")
	ctx := context.Background()

	s := NewSearch(h, "rm", Prefix, 0, 0)
	require.True(t, s.GoToNextMatch(ctx, Backward))
	require.True(t, s.GoToNextMatch(ctx, Backward))
	require.Equal(t, "rm b", s.CurrentString())

	h.Remove("rm b")
	require.True(t, s.IsStale())

	s.PrepareToSearchAfterDeletion()
	require.True(t, s.GoToNextMatch(ctx, Backward))
	require.Equal(t, "rm a", s.CurrentString())
}

func TestSearchStaleness(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *History)
	}{
		{"add", func(h *History) { h.Add(Item{Contents: "new"}, false) }},
		{"add commandline", func(h *History) { h.AddCommandline("new") }},
		{"remove", func(h *History) { h.Remove("one") }},
		{"remove ephemeral", func(h *History) { h.RemoveEphemeralItems() }},
		{"resolve pending", func(h *History) { h.ResolvePending() }},
		{"clear", func(h *History) { h.Clear() }},
		{"clear session", func(h *History) { h.ClearSession() }},
		{"incorporate external changes", func(h *History) { h.IncorporateExternalChanges() }},
		{"bash import", func(h *History) { h.PopulateFromBash(bytes.NewBufferString("ls\n")) }},
		{"zsh import", func(h *History) { h.PopulateFromZsh(bytes.NewBufferString(": 1:0;ls\n")) }},
		{"path detection", func(h *History) {
			h.AddPendingWithFileDetection("cat x", nil, PersistMemory)
			h.Wait()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := memoryHistory(t, "one", "two")
			s := NewSearch(h, "o", Contains, 0, 0)
			require.False(t, s.IsStale())

			tt.mutate(h)
			require.True(t, s.IsStale())
		})
	}
}

func TestHistorySearchOutput(t *testing.T) {
	h := memoryHistory(t, "ls /tmp", "cd /tmp", "ls /var", "echo done")
	ctx := context.Background()

	tests := []struct {
		name string
		opts SearchOptions
		want string
	}{
		{
			name: "all items",
			opts: SearchOptions{},
			want: "echo done\nls /var\ncd /tmp\nls /tmp\n",
		},
		{
			name: "contains with limit",
			opts: SearchOptions{Type: Contains, Terms: []string{"tmp"}, MaxItems: 1},
			want: "cd /tmp\n",
		},
		{
			name: "reverse",
			opts: SearchOptions{Type: Prefix, Terms: []string{"ls"}, Reverse: true},
			want: "ls /tmp\nls /var\n",
		},
		{
			name: "null terminated",
			opts: SearchOptions{Type: Exact, Terms: []string{"echo done"}, NullTerminate: true},
			want: "echo done\x00",
		},
		{
			name: "case insensitive",
			opts: SearchOptions{Type: Prefix, Terms: []string{"ECHO"}},
			want: "echo done\n",
		},
		{
			name: "case sensitive",
			opts: SearchOptions{Type: Prefix, Terms: []string{"ECHO"}, CaseSensitive: true},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			require.NoError(t, h.Search(ctx, tt.opts, &out))
			require.Equal(t, tt.want, out.String())
		})
	}
}

type errWriter struct{ err error }

func (w errWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestHistorySearchWriteErrors(t *testing.T) {
	h := memoryHistory(t, "ls /tmp", "cd /tmp")
	diskFull := errors.New("no space left on device")

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"broken pipe", fmt.Errorf("write /dev/stdout: %w", syscall.EPIPE), nil},
		{"closed file", os.ErrClosed, nil},
		{"other failure", diskFull, diskFull},
	}
	for _, tt := range tests {
		for _, reverse := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s reverse=%t", tt.name, reverse), func(t *testing.T) {
				err := h.Search(context.Background(), SearchOptions{Reverse: reverse}, errWriter{tt.err})
				if tt.wantErr == nil {
					require.NoError(t, err)
					return
				}
				require.ErrorIs(t, err, tt.wantErr)
			})
		}
	}
}

func TestHistorySearchRejectsEmptyTerm(t *testing.T) {
	h := memoryHistory(t, "ls")
	var out bytes.Buffer
	err := h.Search(context.Background(), SearchOptions{Type: Contains, Terms: []string{""}}, &out)
	require.ErrorIs(t, err, ErrEmptySearchTerm)
}

func TestHistorySearchTimeFormat(t *testing.T) {
	when := time.Date(2024, 1, 4, 16, 0, 0, 0, time.Local)
	h := New("", WithDataDir(t.TempDir()), WithClock(func() time.Time { return when }))
	h.AddCommandline("uptime")

	var out bytes.Buffer
	require.NoError(t, h.Search(context.Background(), SearchOptions{TimeFormat: "# 2006-01-02\n"}, &out))
	require.Equal(t, "# 2024-01-04\nuptime\n", out.String())
}
