//go:build !unix

package history

import (
	"errors"
	"os"
)

func fileIDFromInfo(info os.FileInfo) fileID {
	mod := info.ModTime()
	return fileID{
		size:    info.Size(),
		modSec:  mod.Unix(),
		modNsec: int64(mod.Nanosecond()),
		valid:   true,
	}
}

func fileIDForFile(f *os.File) fileID {
	info, err := f.Stat()
	if err != nil {
		return invalidFileID
	}
	return fileIDFromInfo(info)
}

func fileIDForPath(path string) fileID {
	info, err := os.Stat(path)
	if err != nil {
		return invalidFileID
	}
	return fileIDFromInfo(info)
}

func lockDir(string, bool) (*os.File, error) {
	return nil, errLockingDisabled
}

func mapFile(*os.File, int) ([]byte, func() error, error) {
	return nil, nil, errors.New("mmap is not supported on this platform")
}

func preserveMetadata(old, tmp *os.File) {
	if info, err := old.Stat(); err == nil {
		tmp.Chmod(info.Mode().Perm())
	}
}

func isRemote(string) bool {
	return false
}
