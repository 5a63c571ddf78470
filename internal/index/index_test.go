package index

import (
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tchaudhry91/shellhist/internal/history"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInitDB(t *testing.T) {
	tmpDir := t.TempDir()

	dbPath := filepath.Join(tmpDir, "nested", "test.db")
	db, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("InitDB() error = %v", err)
	}
	defer db.Close()

	if err := CreateSchema(db); err != nil {
		t.Errorf("CreateSchema() second call error = %v", err)
	}
}

func TestEntriesFromItems(t *testing.T) {
	items := []history.Item{
		{Contents: "cmd1", Timestamp: time.Unix(1000, 0)},
		{Contents: "cmd2", Timestamp: time.Unix(1000, 0)},
		{Contents: "cmd3", Timestamp: time.Unix(1000, 0), RequiredPaths: []string{"a"}},
		{Contents: "cmd4", Timestamp: time.Unix(1001, 0)},
	}

	entries := EntriesFromItems("work", items)
	want := []float64{1000, 1000.001, 1000.002, 1001}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, entry := range entries {
		if entry.Timestamp != want[i] {
			t.Errorf("entry %d timestamp = %v, want %v", i, entry.Timestamp, want[i])
		}
		if entry.Session != "work" {
			t.Errorf("entry %d session = %q, want work", i, entry.Session)
		}
	}
	if !reflect.DeepEqual(entries[2].Paths, []string{"a"}) {
		t.Errorf("entry 2 paths = %q, want [a]", entries[2].Paths)
	}
}

func TestSyncHistory(t *testing.T) {
	db := openTestDB(t)

	entries := []Entry{
		{Timestamp: 1000.0, Command: "ls"},
		{Timestamp: 1000.001, Command: "pwd"},
		{Timestamp: 2000.0, Command: "git status"},
		{Timestamp: 2000.0, Command: "duplicate timestamp"},
	}

	inserted, ignored, err := SyncHistory(db, "work", entries)
	if err != nil {
		t.Fatalf("SyncHistory() error = %v", err)
	}
	if inserted != 3 || ignored != 1 {
		t.Errorf("SyncHistory() = %d inserted, %d ignored; want 3, 1", inserted, ignored)
	}

	// A second sync replaces the session instead of adding to it.
	inserted, ignored, err = SyncHistory(db, "work", entries[:2])
	if err != nil {
		t.Fatalf("SyncHistory() second call error = %v", err)
	}
	if inserted != 2 || ignored != 0 {
		t.Errorf("SyncHistory() second call = %d inserted, %d ignored; want 2, 0", inserted, ignored)
	}

	if _, _, err := SyncHistory(db, "home", []Entry{{Timestamp: 3000, Command: "ls"}}); err != nil {
		t.Fatalf("SyncHistory() other session error = %v", err)
	}

	stats, err := GetDBStats(db)
	if err != nil {
		t.Fatalf("GetDBStats() error = %v", err)
	}
	if stats["total_commands"] != 3 {
		t.Errorf("total_commands = %d, want 3", stats["total_commands"])
	}
	if stats["total_sessions"] != 2 {
		t.Errorf("total_sessions = %d, want 2", stats["total_sessions"])
	}
	if stats["session_work"] != 2 {
		t.Errorf("session_work = %d, want 2", stats["session_work"])
	}

	// The FTS index must not keep rows from the replaced sync.
	results, err := SearchCommands(db, SearchOptions{Query: "git"})
	if err != nil {
		t.Fatalf("SearchCommands() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("SearchCommands('git') after resync returned %d results, want 0", len(results))
	}
}

func TestSearchCommands(t *testing.T) {
	db := openTestDB(t)

	if _, _, err := SyncHistory(db, "work", []Entry{
		{Timestamp: 1000.0, Command: "ls -la"},
		{Timestamp: 1001.0, Command: "git status"},
		{Timestamp: 1002.0, Command: "git commit"},
	}); err != nil {
		t.Fatalf("SyncHistory() error = %v", err)
	}
	if _, _, err := SyncHistory(db, "home", []Entry{
		{Timestamp: 2000.0, Command: "echo hello"},
	}); err != nil {
		t.Fatalf("SyncHistory() error = %v", err)
	}

	tests := []struct {
		name      string
		opts      SearchOptions
		wantCount int
		wantFirst string
	}{
		{"all commands", SearchOptions{}, 4, "echo hello"},
		{"fts search", SearchOptions{Query: "git"}, 2, "git commit"},
		{"fts prefix", SearchOptions{Query: "stat"}, 1, "git status"},
		{"fts quotes are literal", SearchOptions{Query: `"git`}, 2, "git commit"},
		{"session filter", SearchOptions{Session: "work"}, 3, "git commit"},
		{"no results", SearchOptions{Query: "nonexistent"}, 0, ""},
		{"with limit", SearchOptions{Limit: 2}, 2, "echo hello"},
		{"with since filter", SearchOptions{Since: 1500.0}, 1, "echo hello"},
		{"with until filter", SearchOptions{Until: 1001.5}, 2, "git status"},
		{"with since and until", SearchOptions{Since: 1000.5, Until: 1002.5}, 2, "git commit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := SearchCommands(db, tt.opts)
			if err != nil {
				t.Fatalf("SearchCommands() error = %v", err)
			}
			if len(results) != tt.wantCount {
				t.Fatalf("SearchCommands() returned %d results, want %d", len(results), tt.wantCount)
			}
			if tt.wantCount > 0 && results[0].Command != tt.wantFirst {
				t.Errorf("SearchCommands()[0].Command = %q, want %q", results[0].Command, tt.wantFirst)
			}
		})
	}
}

func TestSearchByPrefix(t *testing.T) {
	db := openTestDB(t)

	if _, _, err := SyncHistory(db, "work", []Entry{
		{Timestamp: 1000.0, Command: "git status"},
		{Timestamp: 1001.0, Command: "go test ./..."},
		{Timestamp: 1002.0, Command: "git push"},
		{Timestamp: 1003.0, Command: "100%_done"},
	}); err != nil {
		t.Fatalf("SyncHistory() error = %v", err)
	}

	results, err := SearchByPrefix(db, "git", 0)
	if err != nil {
		t.Fatalf("SearchByPrefix() error = %v", err)
	}
	var got []string
	for _, r := range results {
		got = append(got, r.Command)
	}
	if want := []string{"git push", "git status"}; !reflect.DeepEqual(got, want) {
		t.Errorf("SearchByPrefix('git') = %q, want %q", got, want)
	}

	// LIKE wildcards in the prefix are literal.
	results, err = SearchByPrefix(db, "100%", 0)
	if err != nil {
		t.Fatalf("SearchByPrefix() error = %v", err)
	}
	if len(results) != 1 {
		t.Errorf("SearchByPrefix('100%%') returned %d results, want 1", len(results))
	}
}

func TestGetFrequentCommands(t *testing.T) {
	db := openTestDB(t)

	for i, session := range []string{"a", "b", "c"} {
		entries := []Entry{{Timestamp: float64(1000 + i), Command: "make"}}
		if session != "c" {
			entries = append(entries, Entry{Timestamp: float64(2000 + i), Command: "make test"})
		}
		if _, _, err := SyncHistory(db, session, entries); err != nil {
			t.Fatalf("SyncHistory() error = %v", err)
		}
	}

	results, err := GetFrequentCommands(db, "", 0)
	if err != nil {
		t.Fatalf("GetFrequentCommands() error = %v", err)
	}
	if len(results) != 2 || results[0].Command != "make" || results[0].Count != 3 {
		t.Errorf("GetFrequentCommands() = %+v, want make x3 first", results)
	}

	results, err = GetFrequentCommands(db, "test", 0)
	if err != nil {
		t.Fatalf("GetFrequentCommands() error = %v", err)
	}
	if len(results) != 1 || results[0].Count != 2 {
		t.Errorf("GetFrequentCommands('test') = %+v, want make test x2", results)
	}
}

func TestWizardCache(t *testing.T) {
	db := openTestDB(t)

	entry, err := GetWizardCache(db, "list files")
	if err != nil {
		t.Fatalf("GetWizardCache() error = %v", err)
	}
	if entry != nil {
		t.Fatalf("GetWizardCache() on empty cache = %+v, want nil", entry)
	}

	if err := SetWizardCache(db, "List  Files", "ls -la"); err != nil {
		t.Fatalf("SetWizardCache() error = %v", err)
	}
	if err := SetWizardCache(db, "list files", "ls -lah"); err != nil {
		t.Fatalf("SetWizardCache() second call error = %v", err)
	}

	entry, err = GetWizardCache(db, "  LIST FILES ")
	if err != nil {
		t.Fatalf("GetWizardCache() error = %v", err)
	}
	if entry == nil {
		t.Fatal("GetWizardCache() = nil, want entry")
	}
	if entry.Command != "ls -lah" || entry.RunCount != 2 || entry.QueryOriginal != "List  Files" {
		t.Errorf("GetWizardCache() = %+v, want ls -lah with run_count 2", entry)
	}

	if err := SetWizardCache(db, "disk usage", "df -h"); err != nil {
		t.Fatalf("SetWizardCache() error = %v", err)
	}
	entries, err := ListWizardCache(db, 0)
	if err != nil {
		t.Fatalf("ListWizardCache() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("ListWizardCache() returned %d entries, want 2", len(entries))
	}

	if err := DeleteWizardCacheEntry(db, "Disk Usage"); err != nil {
		t.Fatalf("DeleteWizardCacheEntry() error = %v", err)
	}
	if entry, _ := GetWizardCache(db, "disk usage"); entry != nil {
		t.Errorf("entry still cached after delete: %+v", entry)
	}

	if err := ClearWizardCache(db); err != nil {
		t.Fatalf("ClearWizardCache() error = %v", err)
	}
	entries, err = ListWizardCache(db, 0)
	if err != nil {
		t.Fatalf("ListWizardCache() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("ListWizardCache() after clear returned %d entries, want 0", len(entries))
	}
}

func TestSearchResultTime(t *testing.T) {
	r := SearchResult{Timestamp: 1000.5}
	if got := r.Time(); got.Unix() != 1000 || got.Nanosecond() != 500000000 {
		t.Errorf("Time() = %v, want 1000.5s", got)
	}
}

func TestExpandTilde(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"tilde path", "~/test.db"},
		{"absolute path", "/tmp/test.db"},
		{"relative path", "test.db"},
		{"tilde only", "~"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandTilde(tt.input)
			if len(result) == 0 {
				t.Errorf("expandTilde(%q) returned empty", tt.input)
			}
			if tt.name == "tilde path" && result == tt.input {
				t.Errorf("expandTilde(%q) should expand tilde, got %q", tt.input, result)
			}
		})
	}
}
