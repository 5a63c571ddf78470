package history

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

const (
	lockedFileMode    = 0o600
	slowLockThreshold = 250 * time.Millisecond
	maxSaveTries      = 1024
)

// lockingAbandoned is set process-wide once a lock has taken too long to acquire.
var lockingAbandoned atomic.Bool

var errLockingDisabled = errors.New("file locking is disabled")

// fileID identifies a particular version of a file. The zero value is invalid.
type fileID struct {
	dev, ino   uint64
	size       int64
	changeSec  int64
	changeNsec int64
	modSec     int64
	modNsec    int64
	valid      bool
}

var invalidFileID fileID

type lockMode int

const (
	lockShared lockMode = iota
	lockAppend
	lockRewrite
)

func (m lockMode) flags() int {
	switch m {
	case lockAppend:
		return os.O_WRONLY | os.O_APPEND | os.O_CREATE
	case lockRewrite:
		return os.O_RDONLY | os.O_CREATE
	default:
		return os.O_RDONLY
	}
}

// lockedFile is a history file opened while holding a lock on its directory. The lock is
// on the directory rather than the file because the file is replaced by rename.
type lockedFile struct {
	file *os.File
	lock *os.File
}

func openLocked(path string, mode lockMode) (*lockedFile, error) {
	lock, err := lockDir(filepath.Dir(path), mode != lockShared)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, mode.flags(), lockedFileMode)
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	return &lockedFile{file: f, lock: lock}, nil
}

// Close closes the file and then releases the lock.
func (l *lockedFile) Close() error {
	err := l.file.Close()
	if l.lock != nil {
		l.lock.Close()
	}
	return err
}

// lockAndLoad loads the file at path under a shared lock. Without locking, the load is
// retried until the file identity is the same before and after reading it.
func lockAndLoad(path string, useMmap bool) (fileID, *fileContents, error) {
	lf, err := openLocked(path, lockShared)
	if err == nil {
		defer lf.Close()
		contents, err := loadFileContents(lf.file, useMmap)
		if err != nil {
			return invalidFileID, nil, err
		}
		return fileIDForFile(lf.file), contents, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return invalidFileID, nil, err
	}
	slog.Debug("shared lock unavailable, loading without it", "path", path, "err", err)

	for range maxSaveTries {
		initial := fileIDForPath(path)
		f, err := os.Open(path)
		if err != nil {
			return invalidFileID, nil, fmt.Errorf("failed to open history file: %w", err)
		}
		contents, err := loadFileContents(f, useMmap)
		f.Close()
		if errors.Is(err, ErrLegacyFormat) {
			return invalidFileID, nil, err
		}
		if err != nil {
			continue
		}
		final := fileIDForPath(path)
		if initial != final {
			contents.close()
			continue
		}
		return final, contents, nil
	}
	return invalidFileID, nil, errors.New("failed to load history file: it kept changing while unlocked")
}

// openForAppend opens path for appending under an exclusive lock. Without locking, it
// retries until the opened file is the one at path.
func openForAppend(path string) (*lockedFile, error) {
	lf, err := openLocked(path, lockAppend)
	if err == nil || !errors.Is(err, errLockingDisabled) {
		return lf, err
	}
	for range maxSaveTries {
		f, err := os.OpenFile(path, lockAppend.flags(), lockedFileMode)
		if err != nil {
			return nil, fmt.Errorf("failed to open history file: %w", err)
		}
		if fileIDForFile(f) == fileIDForPath(path) {
			return &lockedFile{file: f}, nil
		}
		f.Close()
	}
	return nil, errors.New("failed to open history file for appending: it kept being replaced")
}

// rewriteViaTemporaryFile replaces the file at path with the output of rewrite, which
// reads the current file and writes the replacement to tmp. The temporary file lives next
// to path and never survives this call.
func rewriteViaTemporaryFile(path string, rewrite func(old, tmp *os.File) error) (fileID, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return invalidFileID, fmt.Errorf("failed to create temporary history file: %w", err)
	}
	tmpName := tmp.Name()

	id, renamed, err := tryRewriting(path, tmp, rewrite)
	tmp.Close()
	if !renamed {
		os.Remove(tmpName)
	}
	return id, err
}

func tryRewriting(path string, tmp *os.File, rewrite func(old, tmp *os.File) error) (fileID, bool, error) {
	lf, err := openLocked(path, lockRewrite)
	if err == nil {
		defer lf.Close()
		if err := rewrite(lf.file, tmp); err != nil {
			return invalidFileID, false, err
		}
		if err := commitTemporary(lf.file, tmp); err != nil {
			return invalidFileID, false, err
		}
		if err := os.Rename(tmp.Name(), path); err != nil {
			return invalidFileID, false, fmt.Errorf("failed to rename history file into place: %w", err)
		}
		return fileIDForPath(path), true, nil
	}
	if !errors.Is(err, errLockingDisabled) {
		return invalidFileID, false, err
	}
	slog.Debug("exclusive lock unavailable, rewriting without it", "path", path)

	tmpName := tmp.Name()
	tmp.Close()
	for range maxSaveTries {
		tmp, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_TRUNC, 0)
		if err != nil {
			return invalidFileID, false, fmt.Errorf("failed to reopen temporary history file: %w", err)
		}
		initial := fileIDForPath(path)
		old, err := os.OpenFile(path, lockRewrite.flags(), lockedFileMode)
		if err != nil {
			tmp.Close()
			return invalidFileID, false, fmt.Errorf("failed to open history file: %w", err)
		}
		opened := fileIDForFile(old)
		if initial.valid && initial != opened {
			old.Close()
			tmp.Close()
			continue
		}
		if err := rewrite(old, tmp); err != nil {
			old.Close()
			tmp.Close()
			continue
		}
		err = commitTemporary(old, tmp)
		old.Close()
		if err != nil {
			return invalidFileID, false, err
		}
		if fileIDForPath(path) != opened {
			continue
		}
		if err := os.Rename(tmpName, path); err != nil {
			return invalidFileID, false, fmt.Errorf("failed to rename history file into place: %w", err)
		}
		return fileIDForPath(path), true, nil
	}
	return invalidFileID, false, errors.New("failed to rewrite history file: it kept changing while unlocked")
}

// commitTemporary copies ownership and mode from old, bumps the mtime so the new file
// gets a distinct identity, then syncs and closes tmp.
func commitTemporary(old, tmp *os.File) error {
	preserveMetadata(old, tmp)
	if err := os.Chtimes(tmp.Name(), time.Time{}, time.Now()); err != nil {
		slog.Debug("failed to update history file mtime", "path", tmp.Name(), "err", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temporary history file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary history file: %w", err)
	}
	return nil
}
