package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// WizardCacheEntry is a cached query→command mapping.
type WizardCacheEntry struct {
	QueryNormalized string
	QueryOriginal   string
	Command         string
	RunCount        int
	LastUsed        float64
	CreatedAt       float64
}

// NormalizeQuery lowercases the query and collapses whitespace for cache lookup.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// GetWizardCache looks up a cached command for query. A miss returns nil, nil.
func GetWizardCache(db *sql.DB, query string) (*WizardCacheEntry, error) {
	normalized := NormalizeQuery(query)

	row := db.QueryRow(`SELECT query_normalized, query_original, command, run_count, last_used, created_at
		FROM wizard_cache WHERE query_normalized = ?`, normalized)

	var entry WizardCacheEntry
	err := row.Scan(&entry.QueryNormalized, &entry.QueryOriginal, &entry.Command,
		&entry.RunCount, &entry.LastUsed, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wizard cache: %w", err)
	}

	return &entry, nil
}

// SetWizardCache stores or updates a query→command mapping.
func SetWizardCache(db *sql.DB, query, command string) error {
	normalized := NormalizeQuery(query)
	now := float64(time.Now().Unix())

	_, err := db.Exec(`INSERT INTO wizard_cache (query_normalized, query_original, command, run_count, last_used, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(query_normalized) DO UPDATE SET
			command = excluded.command,
			run_count = run_count + 1,
			last_used = excluded.last_used`,
		normalized, query, command, now, now)
	if err != nil {
		return fmt.Errorf("failed to set wizard cache: %w", err)
	}

	return nil
}

// ListWizardCache returns cached mappings, most recently used first.
func ListWizardCache(db *sql.DB, limit int) ([]WizardCacheEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`SELECT query_normalized, query_original, command, run_count, last_used, created_at
		FROM wizard_cache ORDER BY last_used DESC, run_count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wizard cache: %w", err)
	}
	defer rows.Close()

	var entries []WizardCacheEntry
	for rows.Next() {
		var entry WizardCacheEntry
		if err := rows.Scan(&entry.QueryNormalized, &entry.QueryOriginal, &entry.Command,
			&entry.RunCount, &entry.LastUsed, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wizard cache entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func ClearWizardCache(db *sql.DB) error {
	if _, err := db.Exec(`DELETE FROM wizard_cache`); err != nil {
		return fmt.Errorf("failed to clear wizard cache: %w", err)
	}
	return nil
}

func DeleteWizardCacheEntry(db *sql.DB, query string) error {
	normalized := NormalizeQuery(query)
	if _, err := db.Exec(`DELETE FROM wizard_cache WHERE query_normalized = ?`, normalized); err != nil {
		return fmt.Errorf("failed to delete wizard cache entry: %w", err)
	}
	return nil
}
