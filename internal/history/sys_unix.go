//go:build unix

package history

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func fileIDFromStat(st *unix.Stat_t) fileID {
	changeSec, changeNsec := st.Ctim.Unix()
	modSec, modNsec := st.Mtim.Unix()
	return fileID{
		dev:        uint64(st.Dev),
		ino:        uint64(st.Ino),
		size:       st.Size,
		changeSec:  changeSec,
		changeNsec: changeNsec,
		modSec:     modSec,
		modNsec:    modNsec,
		valid:      true,
	}
}

func fileIDForFile(f *os.File) fileID {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return invalidFileID
	}
	return fileIDFromStat(&st)
}

func fileIDForPath(path string) fileID {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return invalidFileID
	}
	return fileIDFromStat(&st)
}

// lockDir opens dir and flocks it. Locking is skipped on remote filesystems and after a
// previous lock took longer than slowLockThreshold.
func lockDir(dir string, exclusive bool) (*os.File, error) {
	if lockingAbandoned.Load() || isRemote(dir) {
		return nil, errLockingDisabled
	}
	d, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open history directory: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	start := time.Now()
	for {
		err = unix.Flock(int(d.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to lock history directory: %w", err)
	}
	if elapsed := time.Since(start); elapsed > slowLockThreshold {
		slog.Warn("locking the history file took too long, disabling locking", "dir", dir, "elapsed", elapsed)
		lockingAbandoned.Store(true)
	}
	return d, nil
}

func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map history file: %w", err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}

func preserveMetadata(old, tmp *os.File) {
	var st unix.Stat_t
	if err := unix.Fstat(int(old.Fd()), &st); err != nil {
		slog.Debug("failed to stat history file", "err", err)
		return
	}
	if err := unix.Fchown(int(tmp.Fd()), int(st.Uid), int(st.Gid)); err != nil {
		slog.Debug("failed to change owner of history file", "err", err)
	}
	if err := unix.Fchmod(int(tmp.Fd()), uint32(st.Mode&0o7777)); err != nil {
		slog.Debug("failed to change mode of history file", "err", err)
	}
}
