package history

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	// vacuumFrequency is how many saves happen between full rewrites.
	vacuumFrequency = 25
	// historySaveMax is the number of distinct items kept by a rewrite.
	historySaveMax = 256 * 1024
	// outputBufferSize is the write buffer used while rewriting.
	outputBufferSize = 64 * 1024
)

type deleteScope uint8

const (
	deleteSessionOnly deleteScope = iota
	deleteAllSessions
)

// historyImpl is the unsynchronized engine behind History.
type historyImpl struct {
	name string

	// newItems holds this session's items, oldest first. They are kept after being
	// written so that our own items can be told apart from those of later sessions.
	newItems                   []Item
	firstUnwrittenNewItemIndex int
	// hasPendingItem hides the last new item from lookups until it is resolved.
	hasPendingItem              bool
	disableAutomaticSaveCounter int
	deletedItems                map[string]deleteScope

	fileContents   *fileContents
	oldItemOffsets []int
	loadedOld      bool
	historyFileID  fileID

	// Items on disk stamped after boundaryTimestamp belong to sessions that started later
	// and are ignored until incorporateExternalChanges moves the boundary.
	boundaryTimestamp time.Time
	// countdownToVacuum is negative until the first automatic save picks a start value.
	countdownToVacuum int

	dataDir   func() (string, error)
	configDir func() (string, error)
	now       func() time.Time
}

func newHistoryImpl(name string, cfg *options) *historyImpl {
	boundary := cfg.boundary
	if boundary.IsZero() {
		boundary = cfg.now()
	}
	return &historyImpl{
		name:              name,
		deletedItems:      make(map[string]deleteScope),
		boundaryTimestamp: boundary,
		countdownToVacuum: -1,
		dataDir:           cfg.dataDir,
		configDir:         cfg.configDir,
		now:               cfg.now,
	}
}

// historyFilePath returns the canonical history file path, or "" in private mode.
func (h *historyImpl) historyFilePath() (string, error) {
	if h.name == "" {
		return "", nil
	}
	dir, err := h.dataDir()
	if err != nil {
		return "", err
	}
	return canonicalPath(historyFilename(dir, h.name, "")), nil
}

func (h *historyImpl) add(item Item, pending, doSave bool) {
	if item.IsEmpty() {
		return
	}
	if n := len(h.newItems); n > 0 && h.newItems[n-1].Merge(item) {
		// Merging with a resolved item resolves any pending state.
		h.hasPendingItem = false
		return
	}
	h.newItems = append(h.newItems, item)
	h.hasPendingItem = pending
	if doSave {
		h.saveUnlessDisabled()
	}
}

func (h *historyImpl) clearFileState() {
	h.fileContents.close()
	h.fileContents = nil
	h.oldItemOffsets = nil
	h.loadedOld = false
}

// timestampNow never returns a time in the same second as the boundary, since items in
// that second would be read back as old items.
func (h *historyImpl) timestampNow() time.Time {
	when := h.now()
	if when.Unix() == h.boundaryTimestamp.Unix() {
		when = when.Add(time.Second)
	}
	return when
}

func (h *historyImpl) loadOldIfNeeded() *fileContents {
	if h.fileContents != nil {
		return h.fileContents
	}
	h.fileContents = emptyFileContents()
	h.oldItemOffsets = nil
	h.loadedOld = true

	path, err := h.historyFilePath()
	if err != nil {
		slog.Warn("failed to locate history file", "session", h.name, "err", err)
		return h.fileContents
	}
	if path == "" {
		return h.fileContents
	}

	id, contents, err := lockAndLoad(path, !isRemote(filepath.Dir(path)))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to read history file", "path", path, "err", err)
		}
		return h.fileContents
	}
	h.historyFileID = id
	h.fileContents = contents
	h.oldItemOffsets = contents.offsets(h.boundaryTimestamp)
	slog.Debug("loaded old history items", "session", h.name, "count", len(h.oldItemOffsets))
	return h.fileContents
}

// compactNewItems keeps only the most recent disk item for each distinct text.
func (h *historyImpl) compactNewItems() {
	seen := make(map[string]struct{}, len(h.newItems))
	for idx := len(h.newItems) - 1; idx >= 0; idx-- {
		item := h.newItems[idx]
		if !item.ShouldWriteToDisk() {
			continue
		}
		if _, ok := seen[item.Contents]; !ok {
			seen[item.Contents] = struct{}{}
			continue
		}
		h.newItems = append(h.newItems[:idx], h.newItems[idx+1:]...)
		if idx < h.firstUnwrittenNewItemIndex {
			h.firstUnwrittenNewItemIndex--
		}
	}
}

func (h *historyImpl) removeEphemeralItems() {
	for n := len(h.newItems); n > 0 && h.newItems[n-1].Mode == PersistEphemeral; n-- {
		h.newItems = h.newItems[:n-1]
	}
	h.firstUnwrittenNewItemIndex = min(h.firstUnwrittenNewItemIndex, len(h.newItems))
}

// rewriteToTemporaryFile merges the items currently in old with our unwritten items and
// writes the result to tmp, ordered by timestamp. It may run more than once per save.
func (h *historyImpl) rewriteToTemporaryFile(old, tmp *os.File) error {
	lru, err := simplelru.NewLRU[string, Item](historySaveMax, nil)
	if err != nil {
		return fmt.Errorf("failed to create rewrite cache: %w", err)
	}
	addItem := func(item Item) {
		if item.IsEmpty() {
			return
		}
		if existing, ok := lru.Get(item.Contents); ok {
			if item.Timestamp.After(existing.Timestamp) {
				existing.Timestamp = item.Timestamp
				lru.Add(item.Contents, existing)
			}
			return
		}
		lru.Add(item.Contents, item)
	}

	// Re-read the file: it may have changed since we last loaded it.
	if local, err := loadFileContents(old, !isRemote(filepath.Dir(old.Name()))); err == nil {
		for _, offset := range local.offsets(time.Time{}) {
			item, ok := local.decodeItem(offset)
			if !ok || item.IsEmpty() {
				continue
			}
			if scope, deleted := h.deletedItems[item.Contents]; deleted {
				// Items newer than the boundary are always dropped. Older ones survive a
				// session-only delete since they belong to other sessions.
				if item.Timestamp.After(h.boundaryTimestamp) || scope == deleteAllSessions {
					continue
				}
			}
			addItem(item)
		}
		local.close()
	} else {
		slog.Debug("ignoring unreadable history file during rewrite", "path", old.Name(), "err", err)
	}

	for _, item := range h.newItems[h.firstUnwrittenNewItemIndex:] {
		if item.ShouldWriteToDisk() {
			addItem(item)
		}
	}

	items := lru.Values()
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})

	w := bufio.NewWriterSize(tmp, outputBufferSize)
	var buf bytes.Buffer
	for _, item := range items {
		buf.Reset()
		appendItem(&buf, item)
		if _, err := w.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write temporary history file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write temporary history file: %w", err)
	}
	return nil
}

func (h *historyImpl) saveViaRewrite(path string) error {
	slog.Debug("saving history via rewrite", "session", h.name, "items", len(h.newItems)-h.firstUnwrittenNewItemIndex)
	id, err := rewriteViaTemporaryFile(path, h.rewriteToTemporaryFile)
	if err != nil {
		return err
	}
	h.historyFileID = id
	h.firstUnwrittenNewItemIndex = len(h.newItems)
	clear(h.deletedItems)
	h.clearFileState()
	return nil
}

func (h *historyImpl) saveViaAppending(path string) error {
	slog.Debug("saving history via append", "session", h.name, "items", len(h.newItems)-h.firstUnwrittenNewItemIndex)
	lf, err := openForAppend(path)
	if err != nil {
		return err
	}
	defer lf.Close()

	// Someone replaced the file since we last read it.
	if fileIDForFile(lf.file) != h.historyFileID {
		h.clearFileState()
	}

	// Pending items are written too; pending only affects lookups.
	var buf bytes.Buffer
	next := h.firstUnwrittenNewItemIndex
	for ; next < len(h.newItems); next++ {
		if item := h.newItems[next]; item.ShouldWriteToDisk() {
			appendItem(&buf, item)
		}
	}
	if _, err := lf.file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to append to history file: %w", err)
	}
	if err := lf.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync history file: %w", err)
	}
	h.firstUnwrittenNewItemIndex = next
	h.historyFileID = fileIDForFile(lf.file)
	return nil
}

func (h *historyImpl) save(vacuum bool) {
	if h.firstUnwrittenNewItemIndex >= len(h.newItems) && len(h.deletedItems) == 0 {
		return
	}

	h.compactNewItems()

	if h.name == "" {
		// Private mode: pretend everything was saved.
		h.firstUnwrittenNewItemIndex = len(h.newItems)
		clear(h.deletedItems)
		h.clearFileState()
		return
	}

	path, err := h.historyFilePath()
	if err != nil {
		slog.Warn("saving history failed", "session", h.name, "err", err)
		return
	}

	// Deletions cannot be expressed by appending.
	if !vacuum && len(h.deletedItems) == 0 {
		err := h.saveViaAppending(path)
		if err == nil {
			return
		}
		slog.Debug("appending to history failed", "path", path, "err", err)
	}
	if err := h.saveViaRewrite(path); err != nil {
		slog.Warn("rewriting history failed", "path", path, "err", err)
	}
}

func (h *historyImpl) saveUnlessDisabled() {
	if h.disableAutomaticSaveCounter > 0 {
		return
	}

	// A random start spreads vacuums out across shells started together.
	if h.countdownToVacuum < 0 {
		h.countdownToVacuum = rand.IntN(vacuumFrequency)
	}
	vacuum := false
	if h.countdownToVacuum == 0 {
		h.countdownToVacuum = vacuumFrequency
		vacuum = true
	}
	h.countdownToVacuum--

	h.save(vacuum)
}

func (h *historyImpl) isEmpty() bool {
	if len(h.newItems) > 0 {
		return false
	}
	if h.loadedOld {
		return len(h.oldItemOffsets) == 0
	}

	// Avoid loading the file just to answer this.
	path, err := h.historyFilePath()
	if err != nil || path == "" {
		return true
	}
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return info.Size() == 0
}

func (h *historyImpl) remove(text string) {
	h.deletedItems[text] = deleteAllSessions
	for idx := len(h.newItems) - 1; idx >= 0; idx-- {
		if h.newItems[idx].Contents != text {
			continue
		}
		h.newItems = append(h.newItems[:idx], h.newItems[idx+1:]...)
		if idx < h.firstUnwrittenNewItemIndex {
			h.firstUnwrittenNewItemIndex--
		}
	}
}

func (h *historyImpl) resolvePending() {
	h.hasPendingItem = false
}

func (h *historyImpl) disableAutomaticSaving() {
	h.disableAutomaticSaveCounter++
}

func (h *historyImpl) enableAutomaticSaving() {
	if h.disableAutomaticSaveCounter == 0 {
		slog.Error("automatic saving enabled more times than it was disabled", "session", h.name)
		return
	}
	h.disableAutomaticSaveCounter--
}

func (h *historyImpl) clear() {
	h.newItems = nil
	clear(h.deletedItems)
	h.firstUnwrittenNewItemIndex = 0
	h.hasPendingItem = false
	if path, err := h.historyFilePath(); err == nil && path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove history file", "path", path, "err", err)
		}
	}
	h.clearFileState()
}

func (h *historyImpl) clearSession() {
	for _, item := range h.newItems {
		h.deletedItems[item.Contents] = deleteSessionOnly
	}
	h.newItems = nil
	h.firstUnwrittenNewItemIndex = 0
	h.hasPendingItem = false
}

// populateFromConfigPath replaces our history with the file older releases kept in the
// config directory. It reports whether such a file was found.
func (h *historyImpl) populateFromConfigPath() (bool, error) {
	newPath, err := h.historyFilePath()
	if err != nil {
		return false, err
	}
	if newPath == "" {
		return false, nil
	}
	configDir, err := h.configDir()
	if err != nil {
		return false, err
	}
	src, err := os.Open(historyFilename(configDir, h.name, ""))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open legacy history file: %w", err)
	}
	defer src.Close()

	// Clearing removes the current file, so the copy starts from nothing.
	h.clear()

	dst, err := os.OpenFile(newPath, os.O_WRONLY|os.O_CREATE, lockedFileMode)
	if err != nil {
		return true, fmt.Errorf("failed to create history file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return true, fmt.Errorf("failed to copy legacy history file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return true, fmt.Errorf("failed to close history file: %w", err)
	}
	return true, nil
}

// populateFromBash imports bash history lines that we can interpret, all stamped now.
func (h *historyImpl) populateFromBash(r io.Reader) (int, error) {
	when := h.timestampNow()
	count := 0
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimSpace(line); shouldImportBashLine(line) {
			h.add(Item{ID: uuid.New(), Contents: line, Timestamp: when, Mode: PersistDisk}, false, false)
			count++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			h.saveUnlessDisabled()
			return count, fmt.Errorf("failed to read bash history: %w", err)
		}
	}
	h.saveUnlessDisabled()
	return count, nil
}

// populateFromZsh imports zsh extended history with its original timestamps.
func (h *historyImpl) populateFromZsh(r io.Reader) (int, error) {
	entries, err := parseZshHistory(r)
	if err != nil {
		return 0, err
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		items = append(items, Item{ID: uuid.New(), Contents: e.command, Timestamp: e.when, Mode: PersistDisk})
	}
	return h.importItems(items), nil
}

// importItems adds items that keep their own timestamps. Because those timestamps
// usually predate the boundary, the items are merged into the file by a vacuum and then
// read back as old items.
func (h *historyImpl) importItems(items []Item) int {
	imported := make(map[uuid.UUID]struct{}, len(items))
	count := 0
	for _, item := range items {
		if item.IsEmpty() {
			continue
		}
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.Mode = PersistDisk
		imported[item.ID] = struct{}{}
		h.add(item, false, false)
		count++
	}
	if h.disableAutomaticSaveCounter > 0 || h.name == "" {
		return count
	}
	h.save(true)
	if h.firstUnwrittenNewItemIndex < len(h.newItems) {
		// The rewrite failed; keep everything in memory for the next save.
		return count
	}
	kept := h.newItems[:0]
	for _, item := range h.newItems {
		_, ok := imported[item.ID]
		if ok && !item.Timestamp.After(h.boundaryTimestamp) {
			continue
		}
		kept = append(kept, item)
	}
	h.newItems = kept
	h.firstUnwrittenNewItemIndex = len(kept)
	h.clearFileState()
	return count
}

// visibleItems returns one item per distinct text, oldest first, each carrying its most
// recent timestamp.
func (h *historyImpl) visibleItems() []Item {
	latest := make(map[string]int)
	var items []Item
	keep := func(item Item) {
		if item.IsEmpty() {
			return
		}
		if idx, ok := latest[item.Contents]; ok {
			items[idx].Merge(item)
			return
		}
		latest[item.Contents] = len(items)
		items = append(items, item)
	}

	contents := h.loadOldIfNeeded()
	for _, offset := range h.oldItemOffsets {
		if item, ok := contents.decodeItem(offset); ok {
			keep(item)
		}
	}
	for _, item := range h.newItems[:h.resolvedNewItemCount()] {
		if item.ShouldWriteToDisk() {
			keep(item)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items
}

func (h *historyImpl) incorporateExternalChanges() {
	now := h.now()
	// A clock that went backwards must not drop items.
	if !now.After(h.boundaryTimestamp) {
		return
	}
	h.boundaryTimestamp = now
	h.clearFileState()

	// Our items are re-read from the file so they interleave with other sessions' items.
	h.save(false)
	h.newItems = nil
	h.firstUnwrittenNewItemIndex = 0
	h.hasPendingItem = false
}

func (h *historyImpl) getHistory() []string {
	var result []string
	seen := make(map[string]struct{})
	skipPending := h.hasPendingItem
	for i := len(h.newItems) - 1; i >= 0; i-- {
		if skipPending {
			skipPending = false
			continue
		}
		text := h.newItems[i].Contents
		if _, ok := seen[text]; !ok {
			seen[text] = struct{}{}
			result = append(result, text)
		}
	}

	contents := h.loadOldIfNeeded()
	for i := len(h.oldItemOffsets) - 1; i >= 0; i-- {
		item, ok := contents.decodeItem(h.oldItemOffsets[i])
		if !ok {
			continue
		}
		if _, dup := seen[item.Contents]; !dup {
			seen[item.Contents] = struct{}{}
			result = append(result, item.Contents)
		}
	}
	return result
}

func (h *historyImpl) itemsAtIndexes(indexes []int) map[int]string {
	result := make(map[int]string, len(indexes))
	for _, idx := range indexes {
		if idx < 1 {
			continue
		}
		if _, ok := result[idx]; ok {
			continue
		}
		item, _ := h.itemAtIndex(idx)
		result[idx] = item.Contents
	}
	return result
}

// setValidFilePaths stores paths on the new item with the given ID. A missing item, for
// example after a clear, is ignored.
func (h *historyImpl) setValidFilePaths(paths []string, id uuid.UUID) {
	for i := len(h.newItems) - 1; i >= 0; i-- {
		if h.newItems[i].ID == id {
			h.newItems[i].RequiredPaths = paths
			return
		}
	}
}

func (h *historyImpl) resolvedNewItemCount() int {
	n := len(h.newItems)
	if h.hasPendingItem && n > 0 {
		n--
	}
	return n
}

// itemAtIndex returns the item at a 1-based index counting back from the most recent.
func (h *historyImpl) itemAtIndex(idx int) (Item, bool) {
	if idx <= 0 {
		return Item{}, false
	}
	idx--

	resolved := h.resolvedNewItemCount()
	if idx < resolved {
		return h.newItems[resolved-idx-1], true
	}

	idx -= resolved
	contents := h.loadOldIfNeeded()
	if idx < len(h.oldItemOffsets) {
		return contents.decodeItem(h.oldItemOffsets[len(h.oldItemOffsets)-idx-1])
	}
	return Item{}, false
}

func (h *historyImpl) size() int {
	h.loadOldIfNeeded()
	return h.resolvedNewItemCount() + len(h.oldItemOffsets)
}
