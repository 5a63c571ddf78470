package history

import (
	"time"

	"github.com/google/uuid"
)

// PersistMode controls where an item lives.
type PersistMode uint8

const (
	// PersistDisk items are written to the history file.
	PersistDisk PersistMode = iota
	// PersistMemory items live only as long as the process.
	PersistMemory
	// PersistEphemeral items are dropped as soon as another item is added.
	PersistEphemeral
)

func (m PersistMode) String() string {
	switch m {
	case PersistDisk:
		return "disk"
	case PersistMemory:
		return "memory"
	case PersistEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// Item is a single history entry. The zero Item (empty Contents) means "no item".
type Item struct {
	// ID identifies an item created in this process. Items decoded from disk have uuid.Nil.
	ID            uuid.UUID
	Contents      string
	Timestamp     time.Time
	RequiredPaths []string
	Mode          PersistMode
}

// NewItem creates an item with a fresh ID.
func NewItem(contents string, when time.Time, mode PersistMode) Item {
	return Item{
		ID:        uuid.New(),
		Contents:  contents,
		Timestamp: when,
		Mode:      mode,
	}
}

// IsEmpty reports whether this is the "no item" sentinel.
func (i Item) IsEmpty() bool {
	return i.Contents == ""
}

// ShouldWriteToDisk reports whether the item belongs in the history file.
func (i Item) ShouldWriteToDisk() bool {
	return i.Mode == PersistDisk
}

// Merge folds other into i if they have the same contents and mode, keeping the later
// timestamp and the longer path list. The merged item takes the ID of the most recent
// contributor. It reports whether the merge happened.
func (i *Item) Merge(other Item) bool {
	if i.Contents != other.Contents || i.Mode != other.Mode {
		return false
	}
	if other.ID != uuid.Nil && (i.ID == uuid.Nil || !other.Timestamp.Before(i.Timestamp)) {
		i.ID = other.ID
	}
	if other.Timestamp.After(i.Timestamp) {
		i.Timestamp = other.Timestamp
	}
	if len(other.RequiredPaths) > len(i.RequiredPaths) {
		i.RequiredPaths = other.RequiredPaths
	}
	return true
}

// MatchesSearch reports whether the item satisfies term under the given match kind. When
// caseSensitive is false, term is expected to be lowercase already.
func (i Item) MatchesSearch(term string, typ SearchType, caseSensitive bool) bool {
	m, err := newMatcher(term, typ, caseSensitive)
	if err != nil {
		return false
	}
	return m.match(i.Contents)
}

// secondsOf returns the on-disk representation of t.
func secondsOf(t time.Time) int64 {
	return t.Unix()
}
