// Package index mirrors session histories into SQLite for full-text search across sessions,
// and stores the wizard's query cache.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/tchaudhry91/shellhist/internal/history"

	_ "modernc.org/sqlite"
)

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		usr, err := user.Current()
		if err != nil {
			return path
		}
		return filepath.Join(usr.HomeDir, strings.TrimPrefix(path, "~/"))
	}
	return path
}

// Entry is one history item as stored in the index.
type Entry struct {
	Session   string
	Timestamp float64 // Unix timestamp with subsecond precision
	Command   string
	Paths     []string
}

// EntriesFromItems converts items, oldest first, into entries. Items sharing a second get
// millisecond offsets so that every (session, timestamp) pair is unique.
func EntriesFromItems(session string, items []history.Item) []Entry {
	perSecond := make(map[int64]int)
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		ts := item.Timestamp.Unix()
		index := perSecond[ts]
		perSecond[ts] = index + 1

		entries = append(entries, Entry{
			Session:   session,
			Timestamp: float64(ts) + float64(index)*0.001,
			Command:   item.Contents,
			Paths:     item.RequiredPaths,
		})
	}
	return entries
}

func InitDB(dbPath string) (*sql.DB, error) {
	expandedPath := expandTilde(dbPath)

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", expandedPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := CreateSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

func CreateSchema(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS commands (
			session TEXT NOT NULL,
			timestamp REAL NOT NULL,
			command TEXT NOT NULL,
			paths TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session, timestamp)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_timestamp ON commands(timestamp DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_session ON commands(session);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS commands_fts USING fts5(
			command,
			content='commands',
			content_rowid='rowid'
		);`,
		// Triggers keep the FTS index in sync
		`CREATE TRIGGER IF NOT EXISTS commands_ai AFTER INSERT ON commands BEGIN
			INSERT INTO commands_fts(rowid, command) VALUES (new.rowid, new.command);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS commands_ad AFTER DELETE ON commands BEGIN
			INSERT INTO commands_fts(commands_fts, rowid, command) VALUES ('delete', old.rowid, old.command);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS commands_au AFTER UPDATE ON commands BEGIN
			INSERT INTO commands_fts(commands_fts, rowid, command) VALUES ('delete', old.rowid, old.command);
			INSERT INTO commands_fts(rowid, command) VALUES (new.rowid, new.command);
		END;`,
		// Natural language → command mappings
		`CREATE TABLE IF NOT EXISTS wizard_cache (
			query_normalized TEXT PRIMARY KEY,
			query_original TEXT NOT NULL,
			command TEXT NOT NULL,
			run_count INTEGER DEFAULT 1,
			last_used REAL NOT NULL,
			created_at REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_wizard_last_used ON wizard_cache(last_used DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_wizard_run_count ON wizard_cache(run_count DESC);`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}

	return nil
}

// SyncHistory replaces the rows of session with entries in one transaction. It returns the
// number of rows written and the number dropped as duplicates.
func SyncHistory(db *sql.DB, session string, entries []Entry) (int, int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM commands WHERE session = ?`, session); err != nil {
		return 0, 0, fmt.Errorf("failed to clear session %q: %w", session, err)
	}

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO commands (session, timestamp, command, paths)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, entry := range entries {
		result, err := stmt.Exec(session, entry.Timestamp, entry.Command, strings.Join(entry.Paths, "\n"))
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert command: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, len(entries) - inserted, nil
}

func GetDBStats(db *sql.DB) (map[string]int64, error) {
	stats := make(map[string]int64)

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM commands").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count commands: %w", err)
	}
	stats["total_commands"] = count

	if err := db.QueryRow("SELECT COUNT(DISTINCT session) FROM commands").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	stats["total_sessions"] = count

	if err := db.QueryRow("SELECT COUNT(*) FROM wizard_cache").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count wizard cache: %w", err)
	}
	stats["wizard_cache"] = count

	rows, err := db.Query("SELECT session, COUNT(*) as count FROM commands GROUP BY session ORDER BY count DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query session stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var session string
		var sessionCount int64
		if err := rows.Scan(&session, &sessionCount); err != nil {
			continue
		}
		stats["session_"+session] = sessionCount
	}

	return stats, rows.Err()
}

type SearchResult struct {
	Command   string
	Session   string
	Timestamp float64
}

// Time returns the result's timestamp.
func (r SearchResult) Time() time.Time {
	sec := int64(r.Timestamp)
	return time.Unix(sec, int64((r.Timestamp-float64(sec))*1e9))
}

type SearchOptions struct {
	Query   string
	Session string // "" searches every session
	Limit   int
	Since   float64 // Unix timestamp, 0 means no filter
	Until   float64 // Unix timestamp, 0 means no filter
}

func SearchCommands(db *sql.DB, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 500
	}

	var queryBuilder strings.Builder
	var args []any

	queryBuilder.WriteString("SELECT command, session, timestamp FROM commands WHERE 1=1")

	if ftsQuery := buildFTSQuery(opts.Query); ftsQuery != "" {
		queryBuilder.WriteString(" AND rowid IN (SELECT rowid FROM commands_fts WHERE commands_fts MATCH ?)")
		args = append(args, ftsQuery)
	}

	if opts.Session != "" {
		queryBuilder.WriteString(" AND session = ?")
		args = append(args, opts.Session)
	}

	if opts.Since > 0 {
		queryBuilder.WriteString(" AND timestamp >= ?")
		args = append(args, opts.Since)
	}
	if opts.Until > 0 {
		queryBuilder.WriteString(" AND timestamp <= ?")
		args = append(args, opts.Until)
	}

	queryBuilder.WriteString(" ORDER BY timestamp DESC LIMIT ?")
	args = append(args, opts.Limit)

	rows, err := db.Query(queryBuilder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search commands: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var result SearchResult
		if err := rows.Scan(&result.Command, &result.Session, &result.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

func buildFTSQuery(query string) string {
	parts := strings.Fields(query)
	if len(parts) == 0 {
		return ""
	}
	for i, part := range parts {
		parts[i] = `"` + escapeFTS(part) + `"*`
	}
	return strings.Join(parts, " ")
}

// escapeFTS doubles quotes so the term can be wrapped in an FTS5 string.
func escapeFTS(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

// SearchByPrefix returns commands starting with prefix, most recent first.
func SearchByPrefix(db *sql.DB, prefix string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT command, session, timestamp FROM commands
		WHERE substr(command, 1, length(?)) = ?
		ORDER BY timestamp DESC
		LIMIT ?`

	rows, err := db.Query(query, prefix, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search by prefix: %w", err)
	}
	defer rows.Close()

	return scanResults(rows)
}

// FrequentCommand is a command and the number of sessions it appears in.
type FrequentCommand struct {
	Command string
	Count   int
}

// GetFrequentCommands returns the commands shared by the most sessions, optionally
// restricted to those containing pattern.
func GetFrequentCommands(db *sql.DB, pattern string, limit int) ([]FrequentCommand, error) {
	if limit <= 0 {
		limit = 10
	}

	var query string
	var args []any

	if pattern != "" {
		query = `SELECT command, COUNT(*) as count FROM commands
			WHERE instr(command, ?) > 0
			GROUP BY command
			ORDER BY count DESC, MAX(timestamp) DESC
			LIMIT ?`
		args = []any{pattern, limit}
	} else {
		query = `SELECT command, COUNT(*) as count FROM commands
			GROUP BY command
			ORDER BY count DESC, MAX(timestamp) DESC
			LIMIT ?`
		args = []any{limit}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get frequent commands: %w", err)
	}
	defer rows.Close()

	var results []FrequentCommand
	for rows.Next() {
		var result FrequentCommand
		if err := rows.Scan(&result.Command, &result.Count); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}
