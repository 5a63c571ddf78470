// Package history stores command history for interactive shells. Many shell processes can
// share one history file: each appends its own commands under a lock, reads the items
// written before it started, and periodically rewrites ("vacuums") the file to drop
// duplicates and deleted items.
package history

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tchaudhry91/shellhist/internal/workerpool"
)

// maxDetectionWorkers bounds the background path detection pool.
const maxDetectionWorkers = 8

type options struct {
	dataDir   func() (string, error)
	configDir func() (string, error)
	now       func() time.Time
	boundary  time.Time
	workers   int
}

// Option configures a History.
type Option func(*options)

// WithDataDir stores history files in dir instead of the default data directory.
func WithDataDir(dir string) Option {
	return func(o *options) {
		o.dataDir = func() (string, error) {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return "", fmt.Errorf("%w: %v", ErrNoDataDir, err)
			}
			return dir, nil
		}
	}
}

// WithConfigDir sets where legacy history files are looked up.
func WithConfigDir(dir string) Option {
	return func(o *options) {
		o.configDir = func() (string, error) { return dir, nil }
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithBoundary sets the session start. Items on disk stamped after t are treated as
// belonging to later sessions. The default is the clock's time at construction.
//
// A one-shot process should pass a time rounded up past the current second, since items
// are stored with one-second precision and a process started in the same second as a
// writer would otherwise miss its items.
func WithBoundary(t time.Time) Option {
	return func(o *options) {
		o.boundary = t
	}
}

// WithWorkers sets the size of the background detection pool. Values of n below 1 select
// the default of 8 workers, and larger values are capped at 8.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// History is a thread-safe handle on one session's history.
type History struct {
	mu         sync.Mutex
	imp        *historyImpl
	generation atomic.Uint64
	pool       *workerpool.Pool
}

var (
	registryMu sync.Mutex
	registry   = make(map[string]*History)
)

// New creates a History that is not shared through the registry.
func New(name string, opts ...Option) *History {
	cfg := &options{
		dataDir:   DefaultDataDir,
		configDir: DefaultConfigDir,
		now:       time.Now,
		workers:   maxDetectionWorkers,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &History{
		imp:  newHistoryImpl(name, cfg),
		pool: workerpool.New("history-"+name, detectionWorkers(cfg.workers)),
	}
}

func detectionWorkers(n int) int {
	if n < 1 || n > maxDetectionWorkers {
		return maxDetectionWorkers
	}
	return n
}

// WithName returns the process-wide History for name, creating it on first use. Options
// only apply when the History is created.
func WithName(name string, opts ...Option) *History {
	registryMu.Lock()
	defer registryMu.Unlock()
	if h, ok := registry[name]; ok {
		return h
	}
	h := New(name, opts...)
	registry[name] = h
	return h
}

// SaveAll saves every History in the registry.
func SaveAll() {
	registryMu.Lock()
	all := make([]*History, 0, len(registry))
	for _, h := range registry {
		all = append(all, h)
	}
	registryMu.Unlock()

	for _, h := range all {
		h.Save()
	}
}

func (h *History) lock() *historyImpl {
	h.mu.Lock()
	return h.imp
}

func (h *History) unlock() {
	h.mu.Unlock()
}

func (h *History) bumpGeneration() {
	h.generation.Add(1)
}

// Generation counts externally visible mutations. Searches compare it to detect staleness.
func (h *History) Generation() uint64 {
	return h.generation.Load()
}

// Name returns the session name; "" is the private session.
func (h *History) Name() string {
	return h.imp.name
}

// IsDefault reports whether this is the default session.
func (h *History) IsDefault() bool {
	return h.imp.name == DefaultSession
}

// Path returns the history file path, or "" in private mode.
func (h *History) Path() (string, error) {
	imp := h.lock()
	defer h.unlock()
	return imp.historyFilePath()
}

// IsEmpty reports whether there is no history at all. It avoids loading the file.
func (h *History) IsEmpty() bool {
	imp := h.lock()
	defer h.unlock()
	return imp.isEmpty()
}

// Add appends item, dropping trailing ephemeral items first unless item is itself
// ephemeral. A pending item is hidden from lookups until ResolvePending.
func (h *History) Add(item Item, pending bool) {
	imp := h.lock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = imp.timestampNow()
	}
	if item.Mode != PersistEphemeral {
		imp.removeEphemeralItems()
	}
	imp.add(item, pending, true)
	h.unlock()
	h.bumpGeneration()
}

// AddCommandline adds s as a resolved disk item stamped now.
func (h *History) AddCommandline(s string) {
	imp := h.lock()
	imp.removeEphemeralItems()
	imp.add(NewItem(s, imp.timestampNow(), PersistDisk), false, true)
	h.unlock()
	h.bumpGeneration()
}

// Remove deletes every item with text s from this and, on the next save, all sessions.
func (h *History) Remove(s string) {
	imp := h.lock()
	imp.remove(s)
	h.unlock()
	h.bumpGeneration()
}

// RemoveEphemeralItems drops trailing ephemeral items.
func (h *History) RemoveEphemeralItems() {
	imp := h.lock()
	imp.removeEphemeralItems()
	h.unlock()
	h.bumpGeneration()
}

// ResolvePending makes a pending item visible.
func (h *History) ResolvePending() {
	imp := h.lock()
	imp.resolvePending()
	h.unlock()
	h.bumpGeneration()
}

// Save writes unwritten items, appending when possible.
func (h *History) Save() {
	imp := h.lock()
	defer h.unlock()
	imp.save(false)
}

// Vacuum rewrites the history file, dropping duplicates and deleted items.
func (h *History) Vacuum() {
	imp := h.lock()
	defer h.unlock()
	if imp.firstUnwrittenNewItemIndex >= len(imp.newItems) && len(imp.deletedItems) == 0 {
		// Nothing unwritten: still compact the file.
		if path, err := imp.historyFilePath(); err == nil && path != "" {
			if err := imp.saveViaRewrite(path); err != nil {
				slog.Warn("vacuuming history failed", "path", path, "err", err)
			}
		}
		return
	}
	imp.save(true)
}

// Clear irreversibly removes all history, including the file.
func (h *History) Clear() {
	imp := h.lock()
	imp.clear()
	h.unlock()
	h.bumpGeneration()
}

// ClearSession forgets this session's items without touching other sessions' history.
func (h *History) ClearSession() {
	imp := h.lock()
	imp.clearSession()
	h.unlock()
	h.bumpGeneration()
}

// PopulateFromConfigPath migrates a history file from the legacy config location. It
// reports whether one was found.
func (h *History) PopulateFromConfigPath() (bool, error) {
	imp := h.lock()
	migrated, err := imp.populateFromConfigPath()
	h.unlock()
	if migrated {
		h.bumpGeneration()
	}
	return migrated, err
}

// PopulateFromBash imports a bash history stream and returns the number of lines taken.
func (h *History) PopulateFromBash(r io.Reader) (int, error) {
	imp := h.lock()
	n, err := imp.populateFromBash(r)
	h.unlock()
	h.bumpGeneration()
	return n, err
}

// PopulateFromZsh imports zsh extended history, keeping its timestamps.
func (h *History) PopulateFromZsh(r io.Reader) (int, error) {
	imp := h.lock()
	n, err := imp.populateFromZsh(r)
	h.unlock()
	h.bumpGeneration()
	return n, err
}

// IncorporateExternalChanges makes items written by other sessions visible.
func (h *History) IncorporateExternalChanges() {
	imp := h.lock()
	imp.incorporateExternalChanges()
	h.unlock()
	h.bumpGeneration()
}

// GetHistory returns every distinct item text, most recent first.
func (h *History) GetHistory() []string {
	imp := h.lock()
	defer h.unlock()
	return imp.getHistory()
}

// Items returns one item per distinct disk-persisted text, oldest first, each with its most
// recent timestamp. Pending and in-memory items are left out.
func (h *History) Items() []Item {
	imp := h.lock()
	defer h.unlock()
	return imp.visibleItems()
}

// ItemsAtIndexes maps 1-based indexes to item text; indexes past the end map to "".
func (h *History) ItemsAtIndexes(indexes []int) map[int]string {
	imp := h.lock()
	defer h.unlock()
	return imp.itemsAtIndexes(indexes)
}

// ItemAtIndex returns the item at a 1-based index, 1 being the most recent.
func (h *History) ItemAtIndex(idx int) (Item, bool) {
	imp := h.lock()
	defer h.unlock()
	return imp.itemAtIndex(idx)
}

// Size returns the number of visible items.
func (h *History) Size() int {
	imp := h.lock()
	defer h.unlock()
	return imp.size()
}

// Wait blocks until background path detection has finished.
func (h *History) Wait() {
	h.pool.Wait()
}
